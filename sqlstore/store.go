// Package sqlstore is a geocascade lookup backend over a PostgreSQL post-office
// table (pin_details). Either lib/pq ("postgres") or pgx ("pgx") can drive it.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/logger"
)

// DefaultTable is the post-office table queried unless WithTable says otherwise.
const DefaultTable = "pin_details"

// DefaultLimit caps the rows returned by one suggestion query.
const DefaultLimit = 20

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Store answers geocascade lookups with SQL queries. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	table string
	limit int
	log   *slog.Logger
}

var (
	_ geocascade.GeoLookupClient   = (*Store)(nil)
	_ geocascade.LocalitySuggester = (*Store)(nil)
)

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithTable queries table instead of pin_details.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithLimit caps the rows returned per suggestion query.
func WithLimit(n int) Option {
	return func(s *Store) {
		s.limit = n
	}
}

// WithLogger sets the logger for query failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New wraps db. It fails only on an unusable table name.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, table: DefaultTable, limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", s.table)
	}
	if s.limit <= 0 {
		s.limit = DefaultLimit
	}
	if s.log == nil {
		s.log = logger.L()
	}
	return s, nil
}

// Open opens a pool with driver "postgres" (lib/pq) or "pgx" and the pool limits
// the lookup service uses.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", "postgres":
		driver = "postgres"
	case "pgx":
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// BuildDSNFromEnv builds a postgres URL from PG_HOST, PG_PORT, PG_USER,
// PG_PASSWORD, PG_DB and PG_SSLMODE.
func BuildDSNFromEnv() string {
	host := envOr("PG_HOST", "localhost")
	port := envOr("PG_PORT", "5432")
	user := envOr("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := envOr("PG_DB", "geocascade")
	ssl := envOr("PG_SSLMODE", "disable")

	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// OpenFromEnv opens the pool described by the PG_* variables. PG_DRIVER picks the
// driver; PG_MAX_OPEN_CONNS and PG_MAX_IDLE_CONNS override the pool limits.
func OpenFromEnv() (*sql.DB, error) {
	db, err := Open(os.Getenv("PG_DRIVER"), BuildDSNFromEnv())
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(os.Getenv("PG_MAX_OPEN_CONNS")); err == nil {
		db.SetMaxOpenConns(n)
	}
	if n, err := strconv.Atoi(os.Getenv("PG_MAX_IDLE_CONNS")); err == nil {
		db.SetMaxIdleConns(n)
	}
	return db, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// names runs a nameQuery and turns each row into a suggestion.
func (s *Store) names(ctx context.Context, op, stmt string, args []any, prefix string, mk func(name, companion string) geocascade.Suggestion) ([]geocascade.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore %s: %w", op, err)
	}
	defer rows.Close()

	var out []geocascade.Suggestion
	for rows.Next() {
		var name, companion string
		if err := rows.Scan(&name, &companion); err != nil {
			return nil, fmt.Errorf("sqlstore %s: %w", op, err)
		}
		sg := mk(name, companion)
		sg.Relevance = relevance(prefix, name)
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore %s: %w", op, err)
	}
	return out, nil
}

func relevance(prefix, name string) float64 {
	if strings.EqualFold(strings.TrimSpace(prefix), name) {
		return 1.0
	}
	return 0.9
}

// SuggestCountry implements geocascade.GeoLookupClient.
func (s *Store) SuggestCountry(ctx context.Context, prefix string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "country")
	return s.names(ctx, "country", nameQuery(s.table, "country", "country_code", &q, s.limit), q.args, prefix,
		func(name, code string) geocascade.Suggestion {
			return geocascade.Suggestion{ID: "country:" + code, Name: name, Code: code}
		})
}

// SuggestState implements geocascade.GeoLookupClient.
func (s *Store) SuggestState(ctx context.Context, prefix, countryCode string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "state")
	q.ref("country_code", "country", countryCode)
	return s.names(ctx, "state", nameQuery(s.table, "state", "state_code", &q, s.limit), q.args, prefix,
		func(name, code string) geocascade.Suggestion {
			return geocascade.Suggestion{ID: "state:" + code, Name: name, Code: code}
		})
}

// SuggestDistrict implements geocascade.GeoLookupClient.
func (s *Store) SuggestDistrict(ctx context.Context, prefix, stateCode string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "district")
	q.ref("state_code", "state", stateCode)
	return s.names(ctx, "district", nameQuery(s.table, "district", "state", &q, s.limit), q.args, prefix,
		func(name, state string) geocascade.Suggestion {
			return geocascade.Suggestion{
				ID:          "district:" + strings.ToLower(state+":"+name),
				Name:        name,
				DisplayName: name + ", " + state,
				Extra:       &geocascade.Extra{State: state},
			}
		})
}

// SuggestCity implements geocascade.GeoLookupClient.
func (s *Store) SuggestCity(ctx context.Context, prefix, stateCode, district string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "city")
	q.ref("state_code", "state", stateCode)
	q.eqFold("district", district)
	return s.names(ctx, "city", nameQuery(s.table, "city", "district", &q, s.limit), q.args, prefix,
		func(name, d string) geocascade.Suggestion {
			return geocascade.Suggestion{
				ID:          "city:" + strings.ToLower(d+":"+name),
				Name:        name,
				DisplayName: name + ", " + d,
				Extra:       &geocascade.Extra{District: d},
			}
		})
}

// SuggestTaluk implements geocascade.LocalitySuggester.
func (s *Store) SuggestTaluk(ctx context.Context, prefix, district string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "taluk")
	q.eqFold("district", district)
	return s.names(ctx, "taluk", nameQuery(s.table, "taluk", "district", &q, s.limit), q.args, prefix,
		func(name, d string) geocascade.Suggestion {
			return geocascade.Suggestion{
				ID:          "taluk:" + strings.ToLower(d+":"+name),
				Name:        name,
				DisplayName: name + ", " + d,
				Extra:       &geocascade.Extra{District: d},
			}
		})
}

// SuggestLocality implements geocascade.LocalitySuggester over office names.
func (s *Store) SuggestLocality(ctx context.Context, prefix, district, city string) ([]geocascade.Suggestion, error) {
	var q query
	q.prefix(prefix, "officename")
	q.eqFold("district", district)
	q.eqFold("city", city)
	return s.names(ctx, "locality", nameQuery(s.table, "officename", "pincode", &q, s.limit), q.args, prefix,
		func(name, pin string) geocascade.Suggestion {
			return geocascade.Suggestion{
				ID:          "locality:" + pin + ":" + strings.ToLower(name),
				Name:        name,
				DisplayName: name + " (" + pin + ")",
				Extra:       &geocascade.Extra{OfficeName: name},
			}
		})
}

// SuggestPincode implements geocascade.GeoLookupClient. Numeric prefixes match codes;
// other text matches office, city, taluk and district names.
func (s *Store) SuggestPincode(ctx context.Context, prefix, state, district string) ([]geocascade.Suggestion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	var q query
	if isDigits(prefix) {
		q.add("pincode LIKE " + q.arg(prefix+"%"))
	} else {
		q.prefix(prefix, "officename", "city", "taluk", "district")
	}
	q.ref("state_code", "state", state)
	q.eqFold("district", district)

	rows, err := s.db.QueryContext(ctx, pincodeQuery(s.table, &q, s.limit), q.args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore pincode: %w", err)
	}
	defer rows.Close()

	var out []geocascade.Suggestion
	for rows.Next() {
		var pin, officeName, d, st string
		if err := rows.Scan(&pin, &officeName, &d, &st); err != nil {
			return nil, fmt.Errorf("sqlstore pincode: %w", err)
		}
		out = append(out, geocascade.Suggestion{
			ID:          "pincode:" + pin,
			Name:        officeName,
			Code:        pin,
			DisplayName: pin + " - " + officeName,
			Relevance:   relevance(prefix, pin),
			Extra:       &geocascade.Extra{District: d, State: st, OfficeName: officeName},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore pincode: %w", err)
	}
	return out, nil
}

// ResolvePincode implements geocascade.GeoLookupClient.
func (s *Store) ResolvePincode(ctx context.Context, code string) (*geocascade.AddressRecord, error) {
	pin, err := geocascade.NormalizePincode(code)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}
	var a geocascade.AddressRecord
	err = s.db.QueryRowContext(ctx, resolveQuery(s.table), pin).Scan(
		&a.Country, &a.CountryCode, &a.State, &a.StateCode, &a.District,
		&a.City, &a.Taluk, &a.Locality, &a.Pincode, &a.Latitude, &a.Longitude,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve %s: %w", pin, geocascade.ErrNotFound)
	}
	if err != nil {
		s.log.Warn("sqlstore_resolve_failed", "pincode", pin, "err", err)
		return nil, fmt.Errorf("sqlstore resolve %s: %w", pin, err)
	}
	return &a, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
