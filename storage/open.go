package storage

import (
	"context"
	"fmt"
	"strings"
)

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Driver      Driver
	DatabaseURL string
	SQLitePath  string
}

// ParseDriver parses a driver name; empty means memory.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DriverMemory, nil
	case DriverMemory, DriverPostgres, DriverSQLite:
		return d, nil
	case "postgresql", "pg":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unknown storage driver %q (use memory, postgres or sqlite)", s)
}

// Open creates the backend described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver, err := ParseDriver(string(cfg.Driver))
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "struktura.db"
		}
		s, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewMemoryStore(), nil
}
