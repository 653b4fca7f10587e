package memstore

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andreiashu/geocascade"
)

// openDataFile opens the TSV directory at path, decompressing .gz and .bz2 files.
// An empty path opens the embedded sample.
func openDataFile(path string) (io.Reader, func() error, error) {
	if path == "" {
		fh, err := embeddedData.Open(embeddedPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening embedded directory: %w", err)
		}
		return fh, fh.Close, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	r, err := decompress(fh, path)
	if err != nil {
		fh.Close()
		return nil, nil, err
	}
	return r, fh.Close, nil
}

// decompress wraps r according to the extension of name.
func decompress(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".bz2":
		return bzip2.NewReader(r), nil
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		return zr, nil
	}
	return r, nil
}

func readCacheFile(path string) ([]Office, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r, err := decompress(fh, path)
	if err != nil {
		return nil, err
	}
	return readCache(r)
}

func readCache(r io.Reader) ([]Office, error) {
	var offices []Office
	if err := gob.NewDecoder(r).Decode(&offices); err != nil {
		return nil, fmt.Errorf("decoding cache: %w", err)
	}
	if len(offices) == 0 {
		return nil, fmt.Errorf("decoding cache: no offices")
	}
	return offices, nil
}

// LoadCache builds a Store from a gob cache read from r.
func LoadCache(r io.Reader, opts ...Option) (*Store, error) {
	offices, err := readCache(r)
	if err != nil {
		return nil, err
	}
	return FromOffices(offices, opts...)
}

// LoadObject builds a Store from r, choosing the format from name: a ".gob" cache
// or a TSV directory, either optionally ".gz" or ".bz2" compressed.
func LoadObject(r io.Reader, name string, opts ...Option) (*Store, error) {
	dr, err := decompress(r, name)
	if err != nil {
		return nil, err
	}
	base := strings.ToLower(name)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".bz2")
	if strings.HasSuffix(base, ".gob") {
		return LoadCache(dr, opts...)
	}
	return Load(dr, opts...)
}

// WriteCache encodes the directory as a gob cache.
func (s *Store) WriteCache(w io.Writer) error {
	return gob.NewEncoder(w).Encode(s.Offices())
}

// WriteCacheFile writes the gob cache to path, creating its directory.
func (s *Store) WriteCacheFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	var b bytes.Buffer
	if err := s.WriteCache(&b); err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Validate checks that the directory has at least minOffices rows and that every
// code in known resolves.
func (s *Store) Validate(minOffices int, known ...string) error {
	if s.Len() < minOffices {
		return fmt.Errorf("office count too low: got %d, want >= %d", s.Len(), minOffices)
	}
	for _, code := range known {
		if len(s.byPin[code]) == 0 {
			return fmt.Errorf("pincode %s: %w", code, geocascade.ErrNotFound)
		}
	}
	return nil
}
