// Package lookupcache wraps a geocascade lookup client with an in-process cache and
// an optional shared Redis tier. Lookup data changes rarely, so entries live for
// hours; unknown pincodes are remembered for a shorter time.
package lookupcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	geohash "github.com/TomiHiltunen/geohash-golang"
	gocache "github.com/patrickmn/go-cache"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/metrics"
)

// Defaults for entry lifetimes.
const (
	DefaultTTL         = 6 * time.Hour
	DefaultNegativeTTL = 10 * time.Minute
	cleanupInterval    = 30 * time.Minute
	// coordinateHashLen is the geohash precision of NearestPincode keys, cells of about 1km.
	coordinateHashLen = 6
)

// entry is what both tiers store. NotFound marks a negative pincode lookup.
type entry struct {
	Suggestions []geocascade.Suggestion   `json:"suggestions,omitempty"`
	Address     *geocascade.AddressRecord `json:"address,omitempty"`
	NotFound    bool                      `json:"notFound,omitempty"`
}

// Client is a caching geocascade lookup client. Optional operations the wrapped
// client does not offer return geocascade.ErrUnsupported.
type Client struct {
	next        geocascade.GeoLookupClient
	local       *gocache.Cache
	remote      Remote
	ttl         time.Duration
	negativeTTL time.Duration
	prefix      string
	log         *slog.Logger
}

var (
	_ geocascade.GeoLookupClient    = (*Client)(nil)
	_ geocascade.LocalitySuggester  = (*Client)(nil)
	_ geocascade.CoordinateResolver = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithTTL sets how long answers are kept.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		c.ttl = d
	}
}

// WithNegativeTTL sets how long unknown pincodes are remembered.
func WithNegativeTTL(d time.Duration) Option {
	return func(c *Client) {
		c.negativeTTL = d
	}
}

// WithRemote adds a shared second tier.
func WithRemote(r Remote) Option {
	return func(c *Client) {
		c.remote = r
	}
}

// WithKeyPrefix namespaces remote keys, e.g. per dataset version.
func WithKeyPrefix(p string) Option {
	return func(c *Client) {
		c.prefix = p
	}
}

// WithLogger sets the logger for remote tier failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New wraps next.
func New(next geocascade.GeoLookupClient, opts ...Option) *Client {
	c := &Client{
		next:        next,
		ttl:         DefaultTTL,
		negativeTTL: DefaultNegativeTTL,
		prefix:      "geocascade:",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.L()
	}
	c.local = gocache.New(c.ttl, cleanupInterval)
	return c
}

// Flush drops every entry of the in-process tier.
func (c *Client) Flush() { c.local.Flush() }

func key(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}

// lookup returns the cached entry for k or calls fetch and caches its result.
// Errors other than not-found are never cached.
func (c *Client) lookup(ctx context.Context, k string, fetch func() (entry, error)) (entry, error) {
	if v, ok := c.local.Get(k); ok {
		metrics.CacheHitsTotal.WithLabelValues("local").Inc()
		return v.(entry), nil
	}
	metrics.CacheMissesTotal.WithLabelValues("local").Inc()

	if c.remote != nil {
		e, err := c.remoteGet(ctx, k)
		switch {
		case err == nil:
			metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			c.local.Set(k, e, c.lifetime(e))
			return e, nil
		case errors.Is(err, ErrMiss):
			metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		default:
			c.log.Warn("lookupcache_remote_get_failed", "key", k, "err", err)
		}
	}

	e, err := fetch()
	if err != nil {
		return entry{}, err
	}
	c.local.Set(k, e, c.lifetime(e))
	if c.remote != nil {
		if err := c.remoteSet(ctx, k, e); err != nil {
			c.log.Warn("lookupcache_remote_set_failed", "key", k, "err", err)
		}
	}
	return e, nil
}

func (c *Client) lifetime(e entry) time.Duration {
	if e.NotFound {
		return c.negativeTTL
	}
	return c.ttl
}

func (c *Client) remoteGet(ctx context.Context, k string) (entry, error) {
	b, err := c.remote.Get(ctx, c.prefix+k)
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return entry{}, fmt.Errorf("decoding %s: %w", k, err)
	}
	return e, nil
}

func (c *Client) remoteSet(ctx context.Context, k string, e entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.remote.Set(ctx, c.prefix+k, b, c.lifetime(e))
}

func (c *Client) suggestions(ctx context.Context, k string, fetch func() ([]geocascade.Suggestion, error)) ([]geocascade.Suggestion, error) {
	e, err := c.lookup(ctx, k, func() (entry, error) {
		res, err := fetch()
		return entry{Suggestions: res}, err
	})
	if err != nil {
		return nil, err
	}
	return append([]geocascade.Suggestion(nil), e.Suggestions...), nil
}

// address caches a single-record lookup; geocascade.ErrNotFound is cached negatively.
func (c *Client) address(ctx context.Context, k string, fetch func() (*geocascade.AddressRecord, error)) (*geocascade.AddressRecord, error) {
	e, err := c.lookup(ctx, k, func() (entry, error) {
		a, err := fetch()
		if errors.Is(err, geocascade.ErrNotFound) {
			return entry{NotFound: true}, nil
		}
		return entry{Address: a}, err
	})
	if err != nil {
		return nil, err
	}
	if e.NotFound || e.Address == nil {
		return nil, fmt.Errorf("%s: %w", k, geocascade.ErrNotFound)
	}
	a := *e.Address
	return &a, nil
}

// SuggestCountry implements geocascade.GeoLookupClient.
func (c *Client) SuggestCountry(ctx context.Context, prefix string) ([]geocascade.Suggestion, error) {
	return c.suggestions(ctx, key("country", prefix), func() ([]geocascade.Suggestion, error) {
		return c.next.SuggestCountry(ctx, prefix)
	})
}

// SuggestState implements geocascade.GeoLookupClient.
func (c *Client) SuggestState(ctx context.Context, prefix, countryCode string) ([]geocascade.Suggestion, error) {
	return c.suggestions(ctx, key("state", prefix, countryCode), func() ([]geocascade.Suggestion, error) {
		return c.next.SuggestState(ctx, prefix, countryCode)
	})
}

// SuggestDistrict implements geocascade.GeoLookupClient.
func (c *Client) SuggestDistrict(ctx context.Context, prefix, stateCode string) ([]geocascade.Suggestion, error) {
	return c.suggestions(ctx, key("district", prefix, stateCode), func() ([]geocascade.Suggestion, error) {
		return c.next.SuggestDistrict(ctx, prefix, stateCode)
	})
}

// SuggestCity implements geocascade.GeoLookupClient.
func (c *Client) SuggestCity(ctx context.Context, prefix, stateCode, district string) ([]geocascade.Suggestion, error) {
	return c.suggestions(ctx, key("city", prefix, stateCode, district), func() ([]geocascade.Suggestion, error) {
		return c.next.SuggestCity(ctx, prefix, stateCode, district)
	})
}

// SuggestPincode implements geocascade.GeoLookupClient.
func (c *Client) SuggestPincode(ctx context.Context, prefix, state, district string) ([]geocascade.Suggestion, error) {
	return c.suggestions(ctx, key("pincodes", prefix, state, district), func() ([]geocascade.Suggestion, error) {
		return c.next.SuggestPincode(ctx, prefix, state, district)
	})
}

// ResolvePincode implements geocascade.GeoLookupClient.
func (c *Client) ResolvePincode(ctx context.Context, code string) (*geocascade.AddressRecord, error) {
	pin, err := geocascade.NormalizePincode(code)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}
	return c.address(ctx, key("pincode", pin), func() (*geocascade.AddressRecord, error) {
		return c.next.ResolvePincode(ctx, pin)
	})
}

// SuggestTaluk implements geocascade.LocalitySuggester.
func (c *Client) SuggestTaluk(ctx context.Context, prefix, district string) ([]geocascade.Suggestion, error) {
	ls, ok := c.next.(geocascade.LocalitySuggester)
	if !ok {
		return nil, geocascade.ErrUnsupported
	}
	return c.suggestions(ctx, key("taluk", prefix, district), func() ([]geocascade.Suggestion, error) {
		return ls.SuggestTaluk(ctx, prefix, district)
	})
}

// SuggestLocality implements geocascade.LocalitySuggester.
func (c *Client) SuggestLocality(ctx context.Context, prefix, district, city string) ([]geocascade.Suggestion, error) {
	ls, ok := c.next.(geocascade.LocalitySuggester)
	if !ok {
		return nil, geocascade.ErrUnsupported
	}
	return c.suggestions(ctx, key("locality", prefix, district, city), func() ([]geocascade.Suggestion, error) {
		return ls.SuggestLocality(ctx, prefix, district, city)
	})
}

// NearestPincode implements geocascade.CoordinateResolver. Positions within the same
// geohash cell share an entry.
func (c *Client) NearestPincode(ctx context.Context, lat, lng float64) (*geocascade.AddressRecord, error) {
	cr, ok := c.next.(geocascade.CoordinateResolver)
	if !ok {
		return nil, geocascade.ErrUnsupported
	}
	cell := geohash.EncodeWithPrecision(lat, lng, coordinateHashLen)
	return c.address(ctx, key("nearest", cell), func() (*geocascade.AddressRecord, error) {
		return cr.NearestPincode(ctx, lat, lng)
	})
}
