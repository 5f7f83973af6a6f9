package storage

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var errNotInitialized = errors.New("store is not initialized")

// NewStore builds a backend by kind. location is the directory for
// "file", the database path for "sqlite" and the DSN for "postgres".
func NewStore(kind, location string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(location), nil
	case "sqlite":
		return newSQLiteStore(location)
	case "postgres":
		return newPostgresStore(location)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// DefaultStoreKind prefers sqlite when this build carries it.
func DefaultStoreKind() string {
	if sqliteAvailable {
		return "sqlite"
	}
	return "file"
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// validateName keeps slot and run names usable as file names.
func validateName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid name %q", name)
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return fmt.Errorf("invalid name %q", name)
		}
	}
	return nil
}
