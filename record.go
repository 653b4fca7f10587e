package geocascade

import (
	"math"
	"strings"
)

// LocationRecord is the committed address the engine hands to the enclosing form.
// It is a plain comparable value: the coordinator replaces it wholesale and every
// reader gets its own copy, so a reader never observes a torn record.
type LocationRecord struct {
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	State       string `json:"state,omitempty"`
	StateCode   string `json:"stateCode,omitempty"`
	District    string `json:"district,omitempty"`
	City        string `json:"city,omitempty"`
	Taluk       string `json:"taluk,omitempty"`
	Locality    string `json:"locality,omitempty"`
	Pincode     string `json:"pincode,omitempty"`

	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	HasCoordinates bool    `json:"hasCoordinates,omitempty"`

	// FormattedAddress is empty until country, state, district and city are all present.
	FormattedAddress string `json:"formattedAddress,omitempty"`
}

// Get returns the slot value for f.
func (r LocationRecord) Get(f Field) string {
	switch f {
	case Country:
		return r.Country
	case State:
		return r.State
	case District:
		return r.District
	case City:
		return r.City
	case Taluk:
		return r.Taluk
	case Locality:
		return r.Locality
	case Pincode:
		return r.Pincode
	}
	return ""
}

// Code returns the lookup code stored alongside f, if any.
func (r LocationRecord) Code(f Field) string {
	switch f {
	case Country:
		return r.CountryCode
	case State:
		return r.StateCode
	case Pincode:
		return r.Pincode
	}
	return ""
}

// IsZero reports whether no slot is populated.
func (r LocationRecord) IsZero() bool { return r == LocationRecord{} }

// ref is the constraint value for f: its code when known, otherwise its name.
func (r LocationRecord) ref(f Field) string {
	if c := r.Code(f); c != "" {
		return c
	}
	return r.Get(f)
}

// with returns a copy of r with f set to value/code. Codes are kept for country and state only.
func (r LocationRecord) with(f Field, value, code string) LocationRecord {
	switch f {
	case Country:
		r.Country, r.CountryCode = value, code
	case State:
		r.State, r.StateCode = value, code
	case District:
		r.District = value
	case City:
		r.City = value
	case Taluk:
		r.Taluk = value
	case Locality:
		r.Locality = value
	case Pincode:
		r.Pincode = value
	}
	return r
}

func (r LocationRecord) without(f Field) LocationRecord { return r.with(f, "", "") }

func (r LocationRecord) withoutCoordinates() LocationRecord {
	r.Latitude, r.Longitude, r.HasCoordinates = 0, 0, false
	return r
}

// sameSlot reports whether f already holds value/code.
func (r LocationRecord) sameSlot(f Field, value, code string) bool {
	return r.Get(f) == value && (code == "" || r.Code(f) == code)
}

// recordFromAddress builds a fully populated record from a resolved address.
func recordFromAddress(a *AddressRecord) LocationRecord {
	return LocationRecord{
		Country:        a.Country,
		CountryCode:    a.CountryCode,
		State:          a.State,
		StateCode:      a.StateCode,
		District:       a.District,
		City:           a.City,
		Taluk:          a.Taluk,
		Locality:       a.Locality,
		Pincode:        a.Pincode,
		Latitude:       a.Latitude,
		Longitude:      a.Longitude,
		HasCoordinates: a.Latitude != 0 || a.Longitude != 0,
	}.formatted()
}

// formatted recomputes FormattedAddress. Parts run from the finest level up to the
// state, followed by the country and then " - " and the pincode when one is set.
func (r LocationRecord) formatted() LocationRecord {
	r.FormattedAddress = FormatAddress(r)
	return r
}

// FormatAddress renders r as a single line, or "" when any of country, state,
// district or city is missing.
func FormatAddress(r LocationRecord) string {
	if r.Country == "" || r.State == "" || r.District == "" || r.City == "" {
		return ""
	}
	parts := make([]string, 0, 6)
	for _, v := range []string{r.Locality, r.Taluk, r.City, r.District, r.State, r.Country} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	out := strings.Join(parts, ", ")
	if r.Pincode != "" {
		out += " - " + r.Pincode
	}
	return out
}

// ValidCoordinates reports whether lat/lng is a position on the globe.
func ValidCoordinates(lat, lng float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lng) && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
