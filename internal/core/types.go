package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NodeType is the kind of a node in a sample's node tree.
type NodeType string

// NodeBioReplicate is the type of every root node this importer writes.
const NodeBioReplicate NodeType = "BioReplicate"

// Reserved row columns. They shape the record itself and never become
// metadata.
const (
	ColID            = "id"
	ColName          = "name"
	ColParentID      = "parent_id"
	ColKBaseSampleID = "kbase_sample_id"
	ColReader        = "reader"
	ColWriter        = "writer"
	ColAdmin         = "admin"
)

var reservedColumns = map[string]bool{
	ColID:            true,
	ColName:          true,
	ColParentID:      true,
	ColKBaseSampleID: true,
	ColReader:        true,
	ColWriter:        true,
	ColAdmin:         true,
}

// IsReserved reports whether a canonical column is consumed by the record
// itself rather than stored as metadata.
func IsReserved(column string) bool {
	return reservedColumns[column]
}

// MetaValue is one metadata entry. Unit is empty for unitless values.
type MetaValue struct {
	Value string `json:"value"`
	Unit  string `json:"units,omitempty"`
}

// UnmarshalJSON accepts a string, number, bool or null value. Numbers are
// kept in their shortest decimal form, so a stored 3.0 reads back as "3".
func (m *MetaValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value json.RawMessage `json:"value"`
		Unit  string          `json:"units"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := scalarString(raw.Value)
	if err != nil {
		return err
	}
	m.Value, m.Unit = v, raw.Unit
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case '{', '[':
		return "", fmt.Errorf("metadata value must be a scalar, got %s", raw)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return "", fmt.Errorf("metadata value %s: %w", raw, err)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// Node is one node of a sample's node tree.
type Node struct {
	ID             string               `json:"id"`
	Parent         *string              `json:"parent"`
	Type           NodeType             `json:"type"`
	MetaControlled map[string]MetaValue `json:"meta_controlled"`
	MetaUser       map[string]MetaValue `json:"meta_user"`
}

// SampleRecord is the unit persisted by the sample service.
// ID, Version and SaveDate are assigned by the service.
type SampleRecord struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	NodeTree []Node `json:"node_tree"`
	Version  int    `json:"version,omitempty"`
	SaveDate int64  `json:"save_date,omitempty"`
}

// Ref returns the saved reference of a persisted record.
func (r *SampleRecord) Ref() SavedSampleRef {
	return SavedSampleRef{ID: r.ID, Name: r.Name, Version: r.Version}
}

// SavedSampleRef identifies one version of a persisted sample.
type SavedSampleRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// ACL lists principals per role on a sample.
type ACL struct {
	Admin  []string `json:"admin"`
	Writer []string `json:"write"`
	Reader []string `json:"read"`
}

// Empty reports whether no principal is listed.
func (a ACL) Empty() bool {
	return len(a.Admin) == 0 && len(a.Writer) == 0 && len(a.Reader) == 0
}

// Row is one data row after normalization. Values holds only non-empty
// cells, keyed by canonical column.
type Row struct {
	Line   int
	Values map[string]string
}

// Get returns the value of a column, or "" when absent.
func (r Row) Get(column string) string {
	return r.Values[column]
}

// SampleService is the remote metadata service holding sample records.
type SampleService interface {
	// GetSample fetches a sample by id. Version 0 means the latest.
	GetSample(ctx context.Context, id string, version int) (*SampleRecord, error)

	// SaveSample persists rec. A nil prev creates a new sample; otherwise a
	// new version of prev is created.
	SaveSample(ctx context.Context, rec *SampleRecord, prev *SampleRecord) (SavedSampleRef, error)

	// UpdateACL grants the listed principals their roles on a sample.
	UpdateACL(ctx context.Context, id string, acl ACL) error
}

// SampleSet is a named list of sample references produced by one batch.
type SampleSet struct {
	Ref         string           `json:"ref"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Workspace   string           `json:"workspace"`
	Samples     []SavedSampleRef `json:"samples"`
	CreatedAt   time.Time        `json:"created_at"`
}

// SampleSetStore persists sample sets.
type SampleSetStore interface {
	SaveSampleSet(ctx context.Context, set *SampleSet) error
	GetSampleSet(ctx context.Context, ref string) (*SampleSet, error)
}

// Decision is the reconciler's outcome for one row.
type Decision string

const (
	DecisionCreated   Decision = "created"
	DecisionVersioned Decision = "versioned"
	DecisionUnchanged Decision = "unchanged"
)

// BatchStatus is the final state of an import batch.
type BatchStatus string

const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// BatchEntry is the history record of one finished import batch.
type BatchEntry struct {
	BatchID      string      `json:"batch_id"`
	Format       string      `json:"format"`
	Workspace    string      `json:"workspace"`
	File         string      `json:"file"`
	SampleSetRef string      `json:"sample_set_ref,omitempty"`
	Samples      int         `json:"samples"`
	Created      int         `json:"created"`
	Versioned    int         `json:"versioned"`
	Unchanged    int         `json:"unchanged"`
	Status       BatchStatus `json:"status"`
	ErrorCode    string      `json:"error_code,omitempty"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	DurationMS   int64       `json:"duration_ms"`
}

// DefaultHistoryLimit is the page size used when a BatchQuery sets none.
const DefaultHistoryLimit = 50

// BatchQuery filters batch history. Zero fields match everything.
type BatchQuery struct {
	Format    string
	Workspace string
	Status    BatchStatus
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// BatchLog stores the history of import batches, newest first.
type BatchLog interface {
	RecordBatch(ctx context.Context, entry *BatchEntry) error
	ListBatches(ctx context.Context, q BatchQuery) ([]BatchEntry, error)
}

// Observer receives batch and row outcomes, typically for metrics.
type Observer interface {
	RowReconciled(format string, d Decision)
	BatchFinished(format string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RowReconciled(string, Decision) {}
func (nopObserver) BatchFinished(string, error, time.Duration) {}
