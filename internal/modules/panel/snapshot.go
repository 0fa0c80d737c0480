package panel

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// SaveSnapshot writes a msgpack encoding of s so later runs can skip rebuilding it.
func SaveSnapshot(path string, s *Store) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := msgpack.NewEncoder(w).Encode(s); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot reads a store written by SaveSnapshot.
func LoadSnapshot(path string) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var s Store
	if err := msgpack.NewDecoder(bufio.NewReader(file)).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	// Dates are compared as map keys downstream, so pin them to UTC.
	for i := range s.Records {
		s.Records[i].Date = s.Records[i].Date.UTC()
	}
	return &s, nil
}
