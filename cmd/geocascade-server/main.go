// Command geocascade-server serves the lookup API used by geoclient.
//
// Settings come from the environment or a .env file, see internal/config.
// BACKEND=memory serves the post-office directory from memory: the MinIO object
// when MINIO_ENDPOINT is set, else CACHE_FILE/DATA_FILE, else the embedded sample.
// BACKEND=postgres queries the pin_details table described by the PG_* variables.
// Either backend is fronted by an in-process cache, shared through Redis when
// REDIS_HOST is set.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andreiashu/geocascade"
	"github.com/andreiashu/geocascade/internal/api"
	"github.com/andreiashu/geocascade/internal/config"
	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/objectstore"
	"github.com/andreiashu/geocascade/lookupcache"
	"github.com/andreiashu/geocascade/memstore"
	"github.com/andreiashu/geocascade/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, ready, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	rdb := lookupcache.OpenRedisFromEnv()
	if rdb != nil {
		defer rdb.Close()
	}
	client := lookupcache.New(backend,
		lookupcache.WithTTL(cfg.CacheTTL),
		lookupcache.WithNegativeTTL(cfg.NegativeTTL),
		lookupcache.WithRedis(rdb),
		lookupcache.WithLogger(log),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewRouter(api.Options{Client: client, CORSOrigins: cfg.CORSOrigins, Logger: log, Ready: ready}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server_listening", "addr", cfg.Addr, "backend", cfg.Backend, "redis", rdb != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openBackend returns the lookup client named by cfg, its readiness check and a
// cleanup func.
func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (geocascade.GeoLookupClient, func() error, func(), error) {
	if cfg.Backend == config.BackendPostgres {
		db, err := sqlstore.OpenFromEnv()
		if err != nil {
			return nil, nil, nil, err
		}
		st, err := sqlstore.New(db, sqlstore.WithLogger(log))
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return st, pinger(db), func() { db.Close() }, nil
	}

	opts := []memstore.Option{
		memstore.WithFuzzyDistance(cfg.FuzzyDistance),
		memstore.WithLogger(log),
	}
	var (
		st  *memstore.Store
		err error
	)
	if cfg.MinIOEndpoint != "" {
		var bucket *objectstore.MinIOBucket
		bucket, err = objectstore.NewMinIO(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL, cfg.MinIOBucket)
		if err == nil {
			st, err = objectstore.New(bucket).LoadDirectory(ctx, cfg.MinIOObject, opts...)
		}
	} else {
		opts = append(opts, memstore.WithDataFile(cfg.DataFile), memstore.WithCacheFile(cfg.CacheFile))
		st, err = memstore.New(opts...)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading directory: %w", err)
	}
	log.Info("directory_loaded", "offices", st.Len(), "pincodes", st.Pincodes())
	return st, nil, func() {}, nil
}

func pinger(db *sql.DB) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}
