package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		id        TEXT NOT NULL,
		version   INTEGER NOT NULL,
		name      TEXT NOT NULL,
		node_tree JSONB NOT NULL,
		save_date BIGINT NOT NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_name ON samples(name)`,
	`CREATE TABLE IF NOT EXISTS sample_acls (
		id  TEXT PRIMARY KEY,
		acl JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sample_sets (
		ref         TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		workspace   TEXT NOT NULL,
		samples     JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
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
		started_at     TIMESTAMPTZ NOT NULL,
		duration_ms    BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_batches_started ON import_batches(started_at DESC)`,
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects using cfg and creates missing tables.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := NewPostgres(pool)
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool. The schema must already exist.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) GetSample(ctx context.Context, id string, version int) (*core.SampleRecord, error) {
	query := `SELECT id, version, name, node_tree, save_date FROM samples
		WHERE id = $1 AND ($2 = 0 OR version = $2)
		ORDER BY version DESC LIMIT 1`

	var (
		rec  core.SampleRecord
		tree []byte
	)
	err := p.pool.QueryRow(ctx, query, id, version).Scan(&rec.ID, &rec.Version, &rec.Name, &tree, &rec.SaveDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("get_sample", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sample %s: %w", id, err)
	}
	if err := json.Unmarshal(tree, &rec.NodeTree); err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", id, err)
	}
	return &rec, nil
}

// SaveSample writes the next version inside a transaction. Concurrent saves
// of the same sample are serialized with an advisory lock on its id.
func (p *Postgres) SaveSample(ctx context.Context, rec *core.SampleRecord, prev *core.SampleRecord) (core.SavedSampleRef, error) {
	tree, err := json.Marshal(rec.NodeTree)
	if err != nil {
		return core.SavedSampleRef{}, fmt.Errorf("encode sample: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return core.SavedSampleRef{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	latest := 0
	if prev != nil {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", prev.ID); err != nil {
			return core.SavedSampleRef{}, fmt.Errorf("lock sample %s: %w", prev.ID, err)
		}
		if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM samples WHERE id = $1", prev.ID).Scan(&latest); err != nil {
			return core.SavedSampleRef{}, fmt.Errorf("latest version of %s: %w", prev.ID, err)
		}
	}

	id, version, err := nextVersion(prev, latest, uuid.NewString())
	if err != nil {
		return core.SavedSampleRef{}, err
	}

	saveDate := time.Now().UnixMilli()
	if _, err := tx.Exec(ctx,
		`INSERT INTO samples (id, version, name, node_tree, save_date) VALUES ($1, $2, $3, $4, $5)`,
		id, version, rec.Name, tree, saveDate,
	); err != nil {
		return core.SavedSampleRef{}, fmt.Errorf("insert sample: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.SavedSampleRef{}, fmt.Errorf("commit: %w", err)
	}
	return core.SavedSampleRef{ID: id, Name: rec.Name, Version: version}, nil
}

func (p *Postgres) UpdateACL(ctx context.Context, id string, acl core.ACL) error {
	raw, err := json.Marshal(acl)
	if err != nil {
		return fmt.Errorf("encode acl: %w", err)
	}
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO sample_acls (id, acl)
		SELECT $1::text, $2::jsonb WHERE EXISTS (SELECT 1 FROM samples WHERE id = $1)
		ON CONFLICT (id) DO UPDATE SET acl = EXCLUDED.acl`,
		id, raw,
	)
	if err != nil {
		return fmt.Errorf("update acl of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("update_sample_acls", id)
	}
	return nil
}

func (p *Postgres) ACL(ctx context.Context, id string) (core.ACL, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, "SELECT acl FROM sample_acls WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := p.GetSample(ctx, id, 0); gerr != nil {
			return core.ACL{}, gerr
		}
		return core.ACL{}, nil
	}
	if err != nil {
		return core.ACL{}, fmt.Errorf("get acl of %s: %w", id, err)
	}
	var acl core.ACL
	if err := json.Unmarshal(raw, &acl); err != nil {
		return core.ACL{}, fmt.Errorf("decode acl of %s: %w", id, err)
	}
	return acl, nil
}

func (p *Postgres) SaveSampleSet(ctx context.Context, set *core.SampleSet) error {
	samples, err := json.Marshal(set.Samples)
	if err != nil {
		return fmt.Errorf("encode sample set: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sample_sets (ref, name, description, workspace, samples, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ref) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			workspace = EXCLUDED.workspace, samples = EXCLUDED.samples`,
		set.Ref, set.Name, set.Description, set.Workspace, samples, set.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save sample set %s: %w", set.Ref, err)
	}
	return nil
}

func (p *Postgres) GetSampleSet(ctx context.Context, ref string) (*core.SampleSet, error) {
	var (
		set     core.SampleSet
		samples []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT ref, name, description, workspace, samples, created_at FROM sample_sets WHERE ref = $1`, ref,
	).Scan(&set.Ref, &set.Name, &set.Description, &set.Workspace, &samples, &set.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, setNotFound(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get sample set %s: %w", ref, err)
	}
	if err := json.Unmarshal(samples, &set.Samples); err != nil {
		return nil, fmt.Errorf("decode sample set %s: %w", ref, err)
	}
	return &set, nil
}

func (p *Postgres) RecordBatch(ctx context.Context, e *core.BatchEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO import_batches (batch_id, format, workspace, file, sample_set_ref,
			samples, created, versioned, unchanged, status, error_code, error, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.BatchID, e.Format, e.Workspace, e.File, e.SampleSetRef,
		e.Samples, e.Created, e.Versioned, e.Unchanged, string(e.Status), e.ErrorCode, e.Error,
		e.StartedAt, e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", e.BatchID, err)
	}
	return nil
}

func (p *Postgres) ListBatches(ctx context.Context, q core.BatchQuery) ([]core.BatchEntry, error) {
	filter, args := batchFilter(newWhereBuilder(true), q)
	rows, err := p.pool.Query(ctx, batchColumns+filter, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	entries := make([]core.BatchEntry, 0)
	for rows.Next() {
		var (
			e      core.BatchEntry
			status string
		)
		if err := rows.Scan(&e.BatchID, &e.Format, &e.Workspace, &e.File, &e.SampleSetRef,
			&e.Samples, &e.Created, &e.Versioned, &e.Unchanged, &status, &e.ErrorCode, &e.Error,
			&e.StartedAt, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		e.Status = core.BatchStatus(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return entries, nil
}

const batchColumns = `SELECT batch_id, format, workspace, file, sample_set_ref,
	samples, created, versioned, unchanged, status, error_code, error, started_at, duration_ms
	FROM import_batches`

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
