package db

import (
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// OpenPebble opens (or creates) the embedded store at path.
func OpenPebble(path string) (*pebble.DB, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	store, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return store, nil
}

// OpenPebbleInMemory opens a store on an in-memory filesystem.
func OpenPebbleInMemory() (*pebble.DB, error) {
	store, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return store, nil
}
