package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		id        TEXT NOT NULL,
		version   INTEGER NOT NULL,
		name      TEXT NOT NULL,
		node_tree TEXT NOT NULL,
		save_date INTEGER NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_name ON samples(name)`,
	`CREATE TABLE IF NOT EXISTS sample_acls (
		id  TEXT PRIMARY KEY,
		acl TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sample_sets (
		ref         TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		workspace   TEXT NOT NULL,
		samples     TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS import_batches (
		batch_id       TEXT PRIMARY KEY,
		format         TEXT NOT NULL,
		workspace      TEXT NOT NULL,
		file           TEXT NOT NULL,
		sample_set_ref TEXT NOT NULL DEFAULT '',
		samples        INTEGER NOT NULL DEFAULT 0,
		created        INTEGER NOT NULL DEFAULT 0,
		versioned      INTEGER NOT NULL DEFAULT 0,
		unchanged      INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		error_code     TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT '',
		started_at     INTEGER NOT NULL,
		duration_ms    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_batches_started ON import_batches(started_at)`,
}

// SQLite is a single-file Store. Timestamps are stored as Unix
// milliseconds and JSON documents as text.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "samples.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) GetSample(ctx context.Context, id string, version int) (*core.SampleRecord, error) {
	var (
		rec  core.SampleRecord
		tree string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version, name, node_tree, save_date FROM samples
		WHERE id = ? AND (? = 0 OR version = ?)
		ORDER BY version DESC LIMIT 1`,
		id, version, version,
	).Scan(&rec.ID, &rec.Version, &rec.Name, &tree, &rec.SaveDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get_sample", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sample %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(tree), &rec.NodeTree); err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", id, err)
	}
	return &rec, nil
}

func (s *SQLite) SaveSample(ctx context.Context, rec *core.SampleRecord, prev *core.SampleRecord) (ref core.SavedSampleRef, retErr error) {
	tree, err := json.Marshal(rec.NodeTree)
	if err != nil {
		return ref, fmt.Errorf("encode sample: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ref, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	latest := 0
	if prev != nil {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(version), 0) FROM samples WHERE id = ?", prev.ID,
		).Scan(&latest); err != nil {
			return ref, fmt.Errorf("latest version of %s: %w", prev.ID, err)
		}
	}

	id, version, err := nextVersion(prev, latest, uuid.NewString())
	if err != nil {
		return ref, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO samples (id, version, name, node_tree, save_date) VALUES (?, ?, ?, ?, ?)`,
		id, version, rec.Name, string(tree), time.Now().UnixMilli(),
	); err != nil {
		return ref, fmt.Errorf("insert sample: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ref, fmt.Errorf("commit: %w", err)
	}
	return core.SavedSampleRef{ID: id, Name: rec.Name, Version: version}, nil
}

func (s *SQLite) UpdateACL(ctx context.Context, id string, acl core.ACL) error {
	raw, err := json.Marshal(acl)
	if err != nil {
		return fmt.Errorf("encode acl: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sample_acls (id, acl)
		SELECT ?, ? WHERE EXISTS (SELECT 1 FROM samples WHERE id = ?)
		ON CONFLICT (id) DO UPDATE SET acl = excluded.acl`,
		id, string(raw), id,
	)
	if err != nil {
		return fmt.Errorf("update acl of %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("update_sample_acls", id)
	}
	return nil
}

func (s *SQLite) ACL(ctx context.Context, id string) (core.ACL, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT acl FROM sample_acls WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := s.GetSample(ctx, id, 0); gerr != nil {
			return core.ACL{}, gerr
		}
		return core.ACL{}, nil
	}
	if err != nil {
		return core.ACL{}, fmt.Errorf("get acl of %s: %w", id, err)
	}
	var acl core.ACL
	if err := json.Unmarshal([]byte(raw), &acl); err != nil {
		return core.ACL{}, fmt.Errorf("decode acl of %s: %w", id, err)
	}
	return acl, nil
}

func (s *SQLite) SaveSampleSet(ctx context.Context, set *core.SampleSet) error {
	samples, err := json.Marshal(set.Samples)
	if err != nil {
		return fmt.Errorf("encode sample set: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sample_sets (ref, name, description, workspace, samples, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ref) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			workspace = excluded.workspace, samples = excluded.samples`,
		set.Ref, set.Name, set.Description, set.Workspace, string(samples), set.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save sample set %s: %w", set.Ref, err)
	}
	return nil
}

func (s *SQLite) GetSampleSet(ctx context.Context, ref string) (*core.SampleSet, error) {
	var (
		set       core.SampleSet
		samples   string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, name, description, workspace, samples, created_at FROM sample_sets WHERE ref = ?`, ref,
	).Scan(&set.Ref, &set.Name, &set.Description, &set.Workspace, &samples, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, setNotFound(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get sample set %s: %w", ref, err)
	}
	if err := json.Unmarshal([]byte(samples), &set.Samples); err != nil {
		return nil, fmt.Errorf("decode sample set %s: %w", ref, err)
	}
	set.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &set, nil
}

func (s *SQLite) RecordBatch(ctx context.Context, e *core.BatchEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_batches (batch_id, format, workspace, file, sample_set_ref,
			samples, created, versioned, unchanged, status, error_code, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BatchID, e.Format, e.Workspace, e.File, e.SampleSetRef,
		e.Samples, e.Created, e.Versioned, e.Unchanged, string(e.Status), e.ErrorCode, e.Error,
		e.StartedAt.UnixMilli(), e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", e.BatchID, err)
	}
	return nil
}

func (s *SQLite) ListBatches(ctx context.Context, q core.BatchQuery) ([]core.BatchEntry, error) {
	wb := newWhereBuilder(false)
	wb.timeValue = func(t time.Time) any { return t.UnixMilli() }
	filter, args := batchFilter(wb, q)

	rows, err := s.db.QueryContext(ctx, batchColumns+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]core.BatchEntry, 0)
	for rows.Next() {
		var (
			e         core.BatchEntry
			status    string
			startedAt int64
		)
		if err := rows.Scan(&e.BatchID, &e.Format, &e.Workspace, &e.File, &e.SampleSetRef,
			&e.Samples, &e.Created, &e.Versioned, &e.Unchanged, &status, &e.ErrorCode, &e.Error,
			&startedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		e.Status = core.BatchStatus(status)
		e.StartedAt = time.UnixMilli(startedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return entries, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
