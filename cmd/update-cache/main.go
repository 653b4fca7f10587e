// Command update-cache builds the gob cache of a post-office directory.
//
// Usage:
//
//	go run ./cmd/update-cache -in offices.tsv.gz -out geocascade-cache/offices.gob
//
// The directory is validated before the cache is written: it must hold at least
// -min offices and every pincode in -known must resolve. With -publish the cache
// is also uploaded under that object name to the MinIO bucket named by the MINIO_*
// settings; point the server's MINIO_OBJECT at it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andreiashu/geocascade/internal/config"
	"github.com/andreiashu/geocascade/internal/logger"
	"github.com/andreiashu/geocascade/internal/objectstore"
	"github.com/andreiashu/geocascade/memstore"
)

func main() {
	in := flag.String("in", "", "TSV directory (.gz/.bz2 accepted); empty uses the embedded sample")
	out := flag.String("out", "geocascade-cache/offices.gob", "cache file to write")
	minOffices := flag.Int("min", 1, "minimum office count")
	known := flag.String("known", "560001,400001,110001", "comma-separated pincodes that must resolve")
	publish := flag.String("publish", "", "object name to upload the cache as, e.g. offices.gob")
	flag.Parse()

	if err := run(*in, *out, *minOffices, splitCodes(*known), *publish); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func splitCodes(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func run(in, out string, minOffices int, known []string, object string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup()

	start := time.Now()
	st, err := memstore.New(memstore.WithDataFile(in), memstore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}
	if err := st.Validate(minOffices, known...); err != nil {
		return fmt.Errorf("validating directory: %w", err)
	}
	if err := st.WriteCacheFile(out); err != nil {
		return err
	}
	log.Info("cache_written", "path", out, "offices", st.Len(), "pincodes", st.Pincodes(), "took", time.Since(start))

	if object == "" {
		return nil
	}
	bucket, err := objectstore.NewMinIO(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL, cfg.MinIOBucket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return objectstore.New(bucket).PublishCache(ctx, object, st)
}
