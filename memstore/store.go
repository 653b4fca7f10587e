// Package memstore is an in-memory geocascade lookup backend over a post-office
// directory. A small directory is embedded; larger ones are loaded from a TSV file,
// a gob cache or any reader.
package memstore

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/logger"
)

//go:embed data/pincodes.tsv
var embeddedData embed.FS

const embeddedPath = "data/pincodes.tsv"

// DefaultLimit caps the suggestions returned by one lookup.
const DefaultLimit = 20

// maxFuzzyDistance caps FuzzyDistance; higher distances match nearly everything
// against short queries.
const maxFuzzyDistance = 3

// numColumns is the width of a directory row:
// country_code, country, state_code, state, district, city, taluk, officename, pincode, latitude, longitude.
const numColumns = 11

// Office is one row of the post-office directory.
type Office struct {
	CountryCode string
	Country     string
	StateCode   string
	State       string
	District    string
	City        string
	Taluk       string
	OfficeName  string
	Pincode     string
	Latitude    float32
	Longitude   float32
}

// office is the in-memory form of Office. The repeated administrative strings are
// interned; see Store.names.
type office struct {
	countryCode uint16
	country     uint16
	stateCode   uint16
	state       uint16
	district    uint16
	City        string
	Taluk       string
	OfficeName  string
	Pincode     string
	Latitude    float32
	Longitude   float32
}

// Config contains the options a Store is built with.
type Config struct {
	DataFile      string // TSV directory, optionally .gz or .bz2 compressed
	CacheFile     string // gob cache written by WriteCache, preferred over DataFile
	FuzzyDistance int    // Levenshtein tolerance on query prefixes, 0 disables
	Limit         int
	Logger        *slog.Logger
}

// Option is a functional option for configuring a Store.
type Option func(*Config)

// WithDataFile loads the directory from a TSV file instead of the embedded one.
func WithDataFile(path string) Option {
	return func(c *Config) {
		c.DataFile = path
	}
}

// WithCacheFile loads the directory from a gob cache when the file exists.
func WithCacheFile(path string) Option {
	return func(c *Config) {
		c.CacheFile = path
	}
}

// WithFuzzyDistance sets the edit distance tolerated between a query and the start
// of a name. It is capped at 3.
func WithFuzzyDistance(d int) Option {
	return func(c *Config) {
		c.FuzzyDistance = d
	}
}

// WithLimit caps the number of suggestions per lookup.
func WithLimit(n int) Option {
	return func(c *Config) {
		c.Limit = n
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func defaultConfig() *Config {
	return &Config{
		FuzzyDistance: 1,
		Limit:         DefaultLimit,
	}
}

func buildConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.FuzzyDistance > maxFuzzyDistance {
		cfg.FuzzyDistance = maxFuzzyDistance
	}
	if cfg.FuzzyDistance < 0 {
		cfg.FuzzyDistance = 0
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.L()
	}
	return cfg
}

// Store answers geocascade lookups from memory.
// It is read-only after construction and safe for concurrent use.
type Store struct {
	cfg     *Config
	offices []office
	names   *stringInterner[uint16]

	countries  nameIndex
	states     nameIndex
	districts  nameIndex
	cities     nameIndex
	taluks     nameIndex
	localities nameIndex

	pins  []string         // sorted unique pincodes
	byPin map[string][]int // pincode -> office indexes, directory order

	cellIndex map[s2.CellID][]int
}

var (
	_ geocascade.GeoLookupClient    = (*Store)(nil)
	_ geocascade.LocalitySuggester  = (*Store)(nil)
	_ geocascade.CoordinateResolver = (*Store)(nil)
)

// New builds a Store. The directory comes from, in order of preference, the cache
// file, the data file and the embedded sample.
func New(opts ...Option) (*Store, error) {
	cfg := buildConfig(opts)

	if cfg.CacheFile != "" {
		offices, err := readCacheFile(cfg.CacheFile)
		if err == nil {
			return build(cfg, offices)
		}
		cfg.Logger.Warn("memstore_cache_unusable", "path", cfg.CacheFile, "err", err)
	}

	r, cleanup, err := openDataFile(cfg.DataFile)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	offices, err := parseDirectory(r, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return build(cfg, offices)
}

// Load builds a Store from a TSV directory read from r.
func Load(r io.Reader, opts ...Option) (*Store, error) {
	cfg := buildConfig(opts)
	offices, err := parseDirectory(r, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return build(cfg, offices)
}

// FromOffices builds a Store from rows already in memory.
func FromOffices(offices []Office, opts ...Option) (*Store, error) {
	return build(buildConfig(opts), offices)
}

// parseDirectory reads tab-separated rows. Blank lines and lines starting with '#'
// are skipped, as are malformed rows.
func parseDirectory(r io.Reader, l *slog.Logger) ([]Office, error) {
	var (
		offices []Office
		skipped int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		o, err := parseRow(line)
		if err != nil {
			skipped++
			l.Debug("memstore_row_skipped", "line", lineNo, "err", err)
			continue
		}
		offices = append(offices, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	if len(offices) == 0 {
		return nil, fmt.Errorf("directory has no usable rows (%d skipped)", skipped)
	}
	if skipped > 0 {
		l.Info("memstore_rows_skipped", "count", skipped)
	}
	return offices, nil
}

func parseRow(line string) (Office, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != numColumns {
		return Office{}, fmt.Errorf("want %d columns, got %d", numColumns, len(cols))
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	pin, err := geocascade.NormalizePincode(cols[8])
	if err != nil {
		return Office{}, fmt.Errorf("pincode %q: %w", cols[8], err)
	}
	lat, err := strconv.ParseFloat(cols[9], 32)
	if err != nil {
		return Office{}, fmt.Errorf("latitude %q: %w", cols[9], err)
	}
	lng, err := strconv.ParseFloat(cols[10], 32)
	if err != nil {
		return Office{}, fmt.Errorf("longitude %q: %w", cols[10], err)
	}
	return Office{
		CountryCode: strings.ToUpper(cols[0]),
		Country:     cols[1],
		StateCode:   strings.ToUpper(cols[2]),
		State:       cols[3],
		District:    cols[4],
		City:        cols[5],
		Taluk:       cols[6],
		OfficeName:  cols[7],
		Pincode:     pin,
		Latitude:    float32(lat),
		Longitude:   float32(lng),
	}, nil
}

// build interns the rows and creates every index.
func build(cfg *Config, rows []Office) (*Store, error) {
	s := &Store{
		cfg:     cfg,
		offices: make([]office, 0, len(rows)),
		names:   newStringInterner[uint16](256),
		byPin:   make(map[string][]int),
	}
	for _, r := range rows {
		if r.StateCode == "" {
			r.StateCode = StateCode(r.State)
		}
		if r.State == "" {
			r.State = StateName(r.StateCode)
		}
		o, err := s.intern(r)
		if err != nil {
			return nil, err
		}
		s.offices = append(s.offices, o)
	}

	s.countries = newNameIndex()
	s.states = newNameIndex()
	s.districts = newNameIndex()
	s.cities = newNameIndex()
	s.taluks = newNameIndex()
	s.localities = newNameIndex()
	for i, o := range s.offices {
		s.countries.add(s.names.get(o.country), i)
		s.states.add(s.names.get(o.state), i)
		s.districts.add(s.names.get(o.district), i)
		s.cities.add(o.City, i)
		s.taluks.add(o.Taluk, i)
		s.localities.add(o.OfficeName, i)
		if _, ok := s.byPin[o.Pincode]; !ok {
			s.pins = append(s.pins, o.Pincode)
		}
		s.byPin[o.Pincode] = append(s.byPin[o.Pincode], i)
	}
	for _, ix := range []*nameIndex{&s.countries, &s.states, &s.districts, &s.cities, &s.taluks, &s.localities} {
		ix.finish()
	}
	sort.Strings(s.pins)

	s.buildCellIndex()
	cfg.Logger.Debug("memstore_loaded", "offices", len(s.offices), "pincodes", len(s.pins), "strings", s.names.count())
	return s, nil
}

func (s *Store) intern(r Office) (office, error) {
	o := office{
		City:       r.City,
		Taluk:      r.Taluk,
		OfficeName: r.OfficeName,
		Pincode:    r.Pincode,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
	}
	for _, f := range []struct {
		dst *uint16
		src string
	}{
		{&o.countryCode, r.CountryCode},
		{&o.country, r.Country},
		{&o.stateCode, r.StateCode},
		{&o.state, r.State},
		{&o.district, r.District},
	} {
		idx, err := s.names.intern(f.src)
		if err != nil {
			return office{}, err
		}
		*f.dst = idx
	}
	return o, nil
}

// row expands the office at i back into an Office.
func (s *Store) row(i int) Office {
	o := s.offices[i]
	return Office{
		CountryCode: s.names.get(o.countryCode),
		Country:     s.names.get(o.country),
		StateCode:   s.names.get(o.stateCode),
		State:       s.names.get(o.state),
		District:    s.names.get(o.district),
		City:        o.City,
		Taluk:       o.Taluk,
		OfficeName:  o.OfficeName,
		Pincode:     o.Pincode,
		Latitude:    o.Latitude,
		Longitude:   o.Longitude,
	}
}

// Len returns the number of offices.
func (s *Store) Len() int { return len(s.offices) }

// Pincodes returns the number of distinct pincodes.
func (s *Store) Pincodes() int { return len(s.pins) }

// Offices returns every row in directory order.
func (s *Store) Offices() []Office {
	out := make([]Office, len(s.offices))
	for i := range s.offices {
		out[i] = s.row(i)
	}
	return out
}
