package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

// Memory is a process-local Store. It is safe for concurrent use and is
// the default backend for the CLI and for tests.
type Memory struct {
	mu      sync.RWMutex
	samples map[string][]core.SampleRecord
	acls    map[string]core.ACL
	sets    map[string]core.SampleSet
	batches []core.BatchEntry
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		samples: make(map[string][]core.SampleRecord),
		acls:    make(map[string]core.ACL),
		sets:    make(map[string]core.SampleSet),
		now:     time.Now,
	}
}

// GetSample returns a copy of the requested version; 0 means the latest.
func (m *Memory) GetSample(_ context.Context, id string, version int) (*core.SampleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.samples[id]
	if len(versions) == 0 || version < 0 || version > len(versions) {
		return nil, notFound("get_sample", id)
	}
	if version == 0 {
		version = len(versions)
	}
	rec := cloneRecord(versions[version-1])
	return &rec, nil
}

// SaveSample stores rec as a new sample, or as the next version of prev.
func (m *Memory) SaveSample(_ context.Context, rec *core.SampleRecord, prev *core.SampleRecord) (core.SavedSampleRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := 0
	if prev != nil {
		latest = len(m.samples[prev.ID])
	}
	id, version, err := nextVersion(prev, latest, uuid.NewString())
	if err != nil {
		return core.SavedSampleRef{}, err
	}

	stored := cloneRecord(*rec)
	stored.ID = id
	stored.Version = version
	stored.SaveDate = m.now().UnixMilli()
	m.samples[id] = append(m.samples[id], stored)
	return stored.Ref(), nil
}

// UpdateACL replaces the principals of an existing sample.
func (m *Memory) UpdateACL(_ context.Context, id string, acl core.ACL) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples[id]) == 0 {
		return notFound("update_sample_acls", id)
	}
	m.acls[id] = acl
	return nil
}

// ACL returns the principals recorded for id.
func (m *Memory) ACL(_ context.Context, id string) (core.ACL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.samples[id]) == 0 {
		return core.ACL{}, notFound("get_sample_acls", id)
	}
	return m.acls[id], nil
}

func (m *Memory) SaveSampleSet(_ context.Context, set *core.SampleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *set
	stored.Samples = append([]core.SavedSampleRef(nil), set.Samples...)
	m.sets[set.Ref] = stored
	return nil
}

func (m *Memory) GetSampleSet(_ context.Context, ref string) (*core.SampleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.sets[ref]
	if !ok {
		return nil, setNotFound(ref)
	}
	set.Samples = append([]core.SavedSampleRef(nil), set.Samples...)
	return &set, nil
}

func (m *Memory) RecordBatch(_ context.Context, entry *core.BatchEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, *entry)
	return nil
}

// ListBatches returns matching entries, newest first.
func (m *Memory) ListBatches(_ context.Context, q core.BatchQuery) ([]core.BatchEntry, error) {
	m.mu.RLock()
	matched := make([]core.BatchEntry, 0, len(m.batches))
	for _, e := range m.batches {
		if matchBatch(e, q) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	if q.Offset >= len(matched) {
		return []core.BatchEntry{}, nil
	}
	matched = matched[q.Offset:]
	if limit := pageLimit(q); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchBatch(e core.BatchEntry, q core.BatchQuery) bool {
	switch {
	case q.Format != "" && e.Format != q.Format:
		return false
	case q.Workspace != "" && e.Workspace != q.Workspace:
		return false
	case q.Status != "" && e.Status != q.Status:
		return false
	case !q.Since.IsZero() && e.StartedAt.Before(q.Since):
		return false
	case !q.Until.IsZero() && e.StartedAt.After(q.Until):
		return false
	}
	return true
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// cloneRecord deep-copies the node tree so callers cannot mutate stored
// versions.
func cloneRecord(r core.SampleRecord) core.SampleRecord {
	nodes := make([]core.Node, len(r.NodeTree))
	for i, n := range r.NodeTree {
		n.MetaControlled = cloneMeta(n.MetaControlled)
		n.MetaUser = cloneMeta(n.MetaUser)
		if n.Parent != nil {
			p := *n.Parent
			n.Parent = &p
		}
		nodes[i] = n
	}
	r.NodeTree = nodes
	return r
}

func cloneMeta(m map[string]core.MetaValue) map[string]core.MetaValue {
	if m == nil {
		return nil
	}
	out := make(map[string]core.MetaValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
