// Package config reads the lookup service settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends the server can answer lookups from.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds the server settings. Database and Redis settings are read by
// sqlstore.OpenFromEnv and lookupcache.OpenRedisFromEnv directly.
type Config struct {
	Addr            string
	Backend         string
	DataFile        string
	CacheFile       string
	FuzzyDistance   int
	CacheTTL        time.Duration
	NegativeTTL     time.Duration
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	// Directory object in S3-compatible storage, used by the memory backend
	// when MinIOEndpoint is set.
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
	MinIOBucket    string
	MinIOObject    string

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the given .env files (".env" when none are named) into the process
// environment and then builds a Config. Missing files are ignored; variables that
// are already set win over file values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (*Config, error) {
	c := &Config{
		Addr:            getEnvWithDefault("HTTP_ADDR", ":8080"),
		Backend:         strings.ToLower(getEnvWithDefault("BACKEND", BackendMemory)),
		DataFile:        os.Getenv("DATA_FILE"),
		CacheFile:       os.Getenv("CACHE_FILE"),
		FuzzyDistance:   getEnvAsInt("FUZZY_DISTANCE", 1),
		CacheTTL:        getEnvAsDuration("CACHE_TTL", 6*time.Hour),
		NegativeTTL:     getEnvAsDuration("CACHE_NEGATIVE_TTL", 10*time.Minute),
		CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		MinIOBucket:    getEnvWithDefault("MINIO_BUCKET", "geocascade"),
		MinIOObject:    getEnvWithDefault("MINIO_OBJECT", "pincodes.tsv.gz"),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnvWithDefault("KAFKA_TOPIC", "location-records"),
	}
	switch c.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return nil, fmt.Errorf("config: BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.Backend)
	}
	if c.MinIOEndpoint != "" && (c.MinIOAccessKey == "" || c.MinIOSecretKey == "") {
		return nil, fmt.Errorf("config: MINIO_ENDPOINT needs MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
	}
	return c, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d >= 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
