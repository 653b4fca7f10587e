// Package geoclient is a geocascade lookup client for the HTTP lookup service
// served by cmd/geocascade-server.
package geoclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andreiashu/geocascade"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// StatusError is returned for responses the client has no sentinel for.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geoclient: HTTP %d", e.Code)
	}
	return fmt.Sprintf("geoclient: HTTP %d: %s", e.Code, e.Message)
}

// Client calls the lookup service. The service may lack taluk, locality or
// coordinate support; those calls then fail with geocascade.ErrUnsupported.
type Client struct {
	base string
	hc   *http.Client
}

var (
	_ geocascade.GeoLookupClient    = (*Client)(nil)
	_ geocascade.LocalitySuggester  = (*Client)(nil)
	_ geocascade.CoordinateResolver = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// New returns a client for the service at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("geoclient: invalid base URL %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// errorBody mirrors the service's error response.
type errorBody struct {
	Error string `json:"error"`
}

// get decodes the JSON body of GET path?query into v. badRequest is the error
// reported for a 400.
func (c *Client) get(ctx context.Context, path string, query url.Values, badRequest error, v any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("geoclient: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("geoclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &eb) != nil {
			eb.Error = strings.TrimSpace(string(b))
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("geoclient %s: %w", path, geocascade.ErrNotFound)
		case resp.StatusCode == http.StatusNotImplemented:
			return geocascade.ErrUnsupported
		case resp.StatusCode == http.StatusBadRequest && badRequest != nil:
			return fmt.Errorf("geoclient %s: %w", path, badRequest)
		}
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("geoclient: decoding %s: %w", path, err)
	}
	return nil
}

type suggestBody struct {
	Suggestions []geocascade.Suggestion `json:"suggestions"`
}

// suggest calls the suggest route; empty constraint values are left out.
func (c *Client) suggest(ctx context.Context, f geocascade.Field, prefix string, constraints ...string) ([]geocascade.Suggestion, error) {
	q := url.Values{}
	q.Set("q", prefix)
	for i := 0; i+1 < len(constraints); i += 2 {
		if v := strings.TrimSpace(constraints[i+1]); v != "" {
			q.Set(constraints[i], v)
		}
	}
	var body suggestBody
	if err := c.get(ctx, "/api/v1/suggest/"+f.String(), q, nil, &body); err != nil {
		return nil, err
	}
	return body.Suggestions, nil
}

// SuggestCountry implements geocascade.GeoLookupClient.
func (c *Client) SuggestCountry(ctx context.Context, prefix string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.Country, prefix)
}

// SuggestState implements geocascade.GeoLookupClient.
func (c *Client) SuggestState(ctx context.Context, prefix, countryCode string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.State, prefix, "country", countryCode)
}

// SuggestDistrict implements geocascade.GeoLookupClient.
func (c *Client) SuggestDistrict(ctx context.Context, prefix, stateCode string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.District, prefix, "state", stateCode)
}

// SuggestCity implements geocascade.GeoLookupClient.
func (c *Client) SuggestCity(ctx context.Context, prefix, stateCode, district string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.City, prefix, "state", stateCode, "district", district)
}

// SuggestPincode implements geocascade.GeoLookupClient.
func (c *Client) SuggestPincode(ctx context.Context, prefix, state, district string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.Pincode, prefix, "state", state, "district", district)
}

// SuggestTaluk implements geocascade.LocalitySuggester.
func (c *Client) SuggestTaluk(ctx context.Context, prefix, district string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.Taluk, prefix, "district", district)
}

// SuggestLocality implements geocascade.LocalitySuggester.
func (c *Client) SuggestLocality(ctx context.Context, prefix, district, city string) ([]geocascade.Suggestion, error) {
	return c.suggest(ctx, geocascade.Locality, prefix, "district", district, "city", city)
}

// ResolvePincode implements geocascade.GeoLookupClient. Malformed codes are
// rejected without a request.
func (c *Client) ResolvePincode(ctx context.Context, code string) (*geocascade.AddressRecord, error) {
	pin, err := geocascade.NormalizePincode(code)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}
	var a geocascade.AddressRecord
	if err := c.get(ctx, "/api/v1/pincode/"+pin, nil, geocascade.ErrInvalidPincode, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// NearestPincode implements geocascade.CoordinateResolver.
func (c *Client) NearestPincode(ctx context.Context, lat, lng float64) (*geocascade.AddressRecord, error) {
	if !geocascade.ValidCoordinates(lat, lng) {
		return nil, geocascade.ErrInvalidCoordinates
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	var a geocascade.AddressRecord
	if err := c.get(ctx, "/api/v1/nearest", q, geocascade.ErrInvalidCoordinates, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
