package geocascade

import (
	"log/slog"
	"time"

	"github.com/andreiashu/geocascade/internal/logger"
)

// Defaults for the engine's timing knobs.
const (
	DefaultDebounce       = 300 * time.Millisecond
	DefaultMinQueryLength = 1
	DefaultLookupTimeout  = 5 * time.Second
)

// Config contains the options a Coordinator is built with.
type Config struct {
	Hierarchy      *Hierarchy
	Debounce       time.Duration
	MinQueryLength int
	LookupTimeout  time.Duration
	Scheduler      Scheduler
	Logger         *slog.Logger
	Resolver       *PincodeResolver

	OnChange      func(LocationRecord)
	OnFieldChange func(Field, FieldState)
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Config)

// WithHierarchy replaces the default field order.
func WithHierarchy(h *Hierarchy) Option {
	return func(c *Config) {
		c.Hierarchy = h
	}
}

// WithDebounce sets the quiet period between the last keystroke and the lookup.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithMinQueryLength sets the trimmed length a name query needs before it is sent.
func WithMinQueryLength(n int) Option {
	return func(c *Config) {
		c.MinQueryLength = n
	}
}

// WithLookupTimeout bounds every call to the lookup client.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.LookupTimeout = d
	}
}

// WithScheduler replaces the wall-clock debounce scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Config) {
		c.Scheduler = s
	}
}

// WithLogger sets the logger used for lookup failures and discarded responses.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithResolver replaces the pincode resolver, e.g. to change its strategy list.
func WithResolver(r *PincodeResolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

// WithOnChange registers the callback that receives every settled LocationRecord.
// It is called outside the coordinator's lock.
func WithOnChange(fn func(LocationRecord)) Option {
	return func(c *Config) {
		c.OnChange = fn
	}
}

// WithOnFieldChange registers a callback for per-field state changes, for rendering.
func WithOnFieldChange(fn func(Field, FieldState)) Option {
	return func(c *Config) {
		c.OnFieldChange = fn
	}
}

func defaultConfig() *Config {
	return &Config{
		Debounce:       DefaultDebounce,
		MinQueryLength: DefaultMinQueryLength,
		LookupTimeout:  DefaultLookupTimeout,
		Scheduler:      RealScheduler,
	}
}

func (c *Config) complete(client GeoLookupClient) {
	if c.Hierarchy == nil {
		c.Hierarchy = DefaultHierarchy()
	}
	if c.MinQueryLength < 1 {
		c.MinQueryLength = 1
	}
	if c.Debounce < 0 {
		c.Debounce = 0
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	if c.Scheduler == nil {
		c.Scheduler = RealScheduler
	}
	if c.Logger == nil {
		c.Logger = logger.L()
	}
	if c.Resolver == nil {
		c.Resolver = NewPincodeResolver(client, c.Logger)
	}
}
