package geocascade

import (
	"context"
	"fmt"
)

// Extra carries the post-office context attached to pincode suggestions.
type Extra struct {
	District   string `json:"district,omitempty"`
	State      string `json:"state,omitempty"`
	OfficeName string `json:"officename,omitempty"`
}

// Suggestion is one candidate returned by the lookup client. Suggestions are transient.
// For pincode suggestions Code holds the postal code and Name the post-office name.
type Suggestion struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Code        string  `json:"code,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Relevance   float64 `json:"relevance"`
	Extra       *Extra  `json:"extra,omitempty"`
}

// Label is the text shown for the suggestion in a dropdown.
func (s Suggestion) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// valueFor is the text committed into the record when s is selected for f.
func (s Suggestion) valueFor(f Field) string {
	if f == Pincode && s.Code != "" {
		return s.Code
	}
	return s.Name
}

// AddressRecord is a full address as known to the lookup service for one pincode.
type AddressRecord struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode,omitempty"`
	State       string  `json:"state"`
	StateCode   string  `json:"stateCode,omitempty"`
	District    string  `json:"district"`
	City        string  `json:"city"`
	Taluk       string  `json:"taluk,omitempty"`
	Locality    string  `json:"locality,omitempty"`
	Pincode     string  `json:"pincode"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// GeoLookupClient is the read-only geographic lookup service the engine queries.
// Every call may fail; the engine degrades failures to "no suggestions".
// Constraint arguments may be empty. Codes are passed when known, names otherwise.
type GeoLookupClient interface {
	SuggestCountry(ctx context.Context, prefix string) ([]Suggestion, error)
	SuggestState(ctx context.Context, prefix, countryCode string) ([]Suggestion, error)
	SuggestDistrict(ctx context.Context, prefix, stateCode string) ([]Suggestion, error)
	SuggestCity(ctx context.Context, prefix, stateCode, district string) ([]Suggestion, error)
	SuggestPincode(ctx context.Context, prefix, state, district string) ([]Suggestion, error)
	// ResolvePincode returns ErrNotFound for unknown codes.
	ResolvePincode(ctx context.Context, code string) (*AddressRecord, error)
}

// LocalitySuggester is implemented by clients that can also search taluks and localities.
// Without it those fields are free text only.
type LocalitySuggester interface {
	SuggestTaluk(ctx context.Context, prefix, district string) ([]Suggestion, error)
	SuggestLocality(ctx context.Context, prefix, district, city string) ([]Suggestion, error)
}

// CoordinateResolver is implemented by clients that can map a position to the nearest
// known post office.
type CoordinateResolver interface {
	NearestPincode(ctx context.Context, lat, lng float64) (*AddressRecord, error)
}

// suggest dispatches a field lookup to the matching client operation, constrained by rec.
func suggest(ctx context.Context, client GeoLookupClient, f Field, prefix string, rec LocationRecord) ([]Suggestion, error) {
	switch f {
	case Country:
		return client.SuggestCountry(ctx, prefix)
	case State:
		return client.SuggestState(ctx, prefix, rec.ref(Country))
	case District:
		return client.SuggestDistrict(ctx, prefix, rec.ref(State))
	case City:
		return client.SuggestCity(ctx, prefix, rec.ref(State), rec.District)
	case Pincode:
		return client.SuggestPincode(ctx, prefix, rec.State, rec.District)
	case Taluk, Locality:
		ls, ok := client.(LocalitySuggester)
		if !ok {
			return nil, ErrUnsupported
		}
		if f == Taluk {
			return ls.SuggestTaluk(ctx, prefix, rec.District)
		}
		return ls.SuggestLocality(ctx, prefix, rec.District, rec.City)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownField, f)
}
