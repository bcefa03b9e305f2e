// Package store holds the persistence backends for samples, sample sets
// and import batch history.
//
// Every backend versions samples the same way: a new sample starts at
// version 1 and each save against an existing sample appends the next
// version. Old versions are never modified.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

// Store is a sample service, sample-set store and batch log in one.
type Store interface {
	core.SampleService
	core.SampleSetStore
	core.BatchLog

	// ACL returns the principals recorded for a sample.
	ACL(ctx context.Context, id string) (core.ACL, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and tunes a backend.
type Config struct {
	Driver string
	DSN    string // postgres URL or sqlite file path

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open returns the backend named by cfg.Driver, with its schema in place.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want memory, postgres or sqlite)", cfg.Driver)
	}
}

func notFound(op, id string) error {
	return &core.RemoteServiceError{Op: op, SampleID: id, Err: core.ErrSampleNotFound}
}

func setNotFound(ref string) error {
	return fmt.Errorf("%w: %s", core.ErrSampleSetMissing, ref)
}

// nextVersion validates a save against prev and returns the id and version
// the new record is stored under. newID is used when prev is nil.
func nextVersion(prev *core.SampleRecord, latest int, newID string) (string, int, error) {
	if prev == nil {
		return newID, 1, nil
	}
	if latest == 0 {
		return "", 0, notFound("create_sample", prev.ID)
	}
	return prev.ID, latest + 1, nil
}

func pageLimit(q core.BatchQuery) int {
	if q.Limit <= 0 {
		return core.DefaultHistoryLimit
	}
	return q.Limit
}
