package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/JonMunkholm/sampleuploader/internal/core"
)

// backends returns every store the contract tests run against. Postgres
// is included when STORE_TEST_POSTGRES_URL is set.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	out := map[string]Store{"memory": NewMemory()}

	lite, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	out["sqlite"] = lite

	if url := os.Getenv("STORE_TEST_POSTGRES_URL"); url != "" {
		pg, err := OpenPostgres(ctx, Config{Driver: DriverPostgres, DSN: url})
		if err != nil {
			t.Fatalf("OpenPostgres() error = %v", err)
		}
		for _, table := range []string{"samples", "sample_acls", "sample_sets", "import_batches"} {
			if _, err := pg.pool.Exec(ctx, "TRUNCATE "+table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		out["postgres"] = pg
	}

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func sampleRecord(name string, meta map[string]core.MetaValue) *core.SampleRecord {
	return &core.SampleRecord{
		Name: name,
		NodeTree: []core.Node{{
			ID:       name,
			Type:     core.NodeBioReplicate,
			MetaUser: meta,
		}},
	}
}

func TestStore_SampleVersions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := s.SaveSample(ctx, sampleRecord("Alpha", map[string]core.MetaValue{
				"depth": {Value: "3", Unit: "m"},
			}), nil)
			if err != nil {
				t.Fatalf("SaveSample() error = %v", err)
			}
			if first.Version != 1 || first.ID == "" || first.Name != "Alpha" {
				t.Fatalf("first save = %+v", first)
			}

			got, err := s.GetSample(ctx, first.ID, 0)
			if err != nil {
				t.Fatalf("GetSample() error = %v", err)
			}
			if !core.SameRecord(got, sampleRecord("Alpha", map[string]core.MetaValue{"depth": {Value: "3", Unit: "m"}})) {
				t.Errorf("GetSample() = %+v, want stored record", got)
			}

			second, err := s.SaveSample(ctx, sampleRecord("Alpha", map[string]core.MetaValue{
				"depth": {Value: "4", Unit: "m"},
			}), got)
			if err != nil {
				t.Fatalf("SaveSample(prev) error = %v", err)
			}
			if second.ID != first.ID || second.Version != 2 {
				t.Errorf("second save = %+v, want %s version 2", second, first.ID)
			}

			v1, err := s.GetSample(ctx, first.ID, 1)
			if err != nil {
				t.Fatal(err)
			}
			if v1.NodeTree[0].MetaUser["depth"].Value != "3" {
				t.Errorf("version 1 depth = %+v, want unchanged", v1.NodeTree[0].MetaUser["depth"])
			}
			latest, err := s.GetSample(ctx, first.ID, 0)
			if err != nil {
				t.Fatal(err)
			}
			if latest.Version != 2 || latest.NodeTree[0].MetaUser["depth"].Value != "4" {
				t.Errorf("latest = %+v, want version 2 with depth 4", latest)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetSample(ctx, "missing", 0)
			if !errors.Is(err, core.ErrSampleNotFound) {
				t.Errorf("GetSample() error = %v, want ErrSampleNotFound", err)
			}

			_, err = s.SaveSample(ctx, sampleRecord("X", nil), &core.SampleRecord{ID: "missing", Version: 1})
			var remote *core.RemoteServiceError
			if !errors.As(err, &remote) || !errors.Is(err, core.ErrSampleNotFound) {
				t.Errorf("SaveSample(unknown prev) error = %v, want not found", err)
			}

			if err := s.UpdateACL(ctx, "missing", core.ACL{Reader: []string{"a"}}); !errors.Is(err, core.ErrSampleNotFound) {
				t.Errorf("UpdateACL() error = %v, want ErrSampleNotFound", err)
			}

			if _, err := s.GetSampleSet(ctx, "missing"); !errors.Is(err, core.ErrSampleSetMissing) {
				t.Errorf("GetSampleSet() error = %v, want ErrSampleSetMissing", err)
			}
		})
	}
}

func TestStore_ACL(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ref, err := s.SaveSample(ctx, sampleRecord("Alpha", nil), nil)
			if err != nil {
				t.Fatal(err)
			}

			empty, err := s.ACL(ctx, ref.ID)
			if err != nil || !empty.Empty() {
				t.Fatalf("ACL() = %+v, %v; want empty", empty, err)
			}

			want := core.ACL{Admin: []string{"carol"}, Writer: []string{}, Reader: []string{"alice", "bob"}}
			if err := s.UpdateACL(ctx, ref.ID, want); err != nil {
				t.Fatalf("UpdateACL() error = %v", err)
			}
			got, err := s.ACL(ctx, ref.ID)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ACL() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_SampleSets(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			set := &core.SampleSet{
				Ref:         "set-1",
				Name:        "cores",
				Description: "first upload",
				Workspace:   "ws",
				Samples: []core.SavedSampleRef{
					{ID: "a", Name: "Alpha", Version: 2},
					{ID: "b", Name: "Beta", Version: 1},
				},
				CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			}
			if err := s.SaveSampleSet(ctx, set); err != nil {
				t.Fatalf("SaveSampleSet() error = %v", err)
			}

			got, err := s.GetSampleSet(ctx, "set-1")
			if err != nil {
				t.Fatalf("GetSampleSet() error = %v", err)
			}
			if diff := cmp.Diff(set, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
				t.Errorf("GetSampleSet() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_BatchHistory(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []core.BatchEntry{
		{BatchID: "b1", Format: "ENIGMA", Workspace: "ws", File: "a.csv", Status: core.BatchSucceeded, Created: 2, Samples: 2, StartedAt: base},
		{BatchID: "b2", Format: "SESAR", Workspace: "ws", File: "b.xlsx", Status: core.BatchFailed, ErrorCode: "VAL002", Error: "bad depth", StartedAt: base.Add(time.Hour)},
		{BatchID: "b3", Format: "ENIGMA", Workspace: "other", File: "c.csv", Status: core.BatchSucceeded, Unchanged: 4, Samples: 4, StartedAt: base.Add(2 * time.Hour)},
	}

	ids := func(es []core.BatchEntry) []string {
		out := make([]string, len(es))
		for i, e := range es {
			out[i] = e.BatchID
		}
		return out
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := range entries {
				if err := s.RecordBatch(ctx, &entries[i]); err != nil {
					t.Fatalf("RecordBatch() error = %v", err)
				}
			}

			tests := []struct {
				name  string
				query core.BatchQuery
				want  []string
			}{
				{"all newest first", core.BatchQuery{}, []string{"b3", "b2", "b1"}},
				{"by format", core.BatchQuery{Format: "ENIGMA"}, []string{"b3", "b1"}},
				{"by workspace and status", core.BatchQuery{Workspace: "ws", Status: core.BatchFailed}, []string{"b2"}},
				{"since", core.BatchQuery{Since: base.Add(30 * time.Minute)}, []string{"b3", "b2"}},
				{"until", core.BatchQuery{Until: base.Add(30 * time.Minute)}, []string{"b1"}},
				{"paged", core.BatchQuery{Limit: 1, Offset: 1}, []string{"b2"}},
				{"past the end", core.BatchQuery{Offset: 10}, []string{}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.ListBatches(ctx, tt.query)
					if err != nil {
						t.Fatalf("ListBatches() error = %v", err)
					}
					if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
						t.Errorf("ListBatches() mismatch (-want +got):\n%s", diff)
					}
				})
			}

			got, err := s.ListBatches(ctx, core.BatchQuery{Status: core.BatchFailed})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(entries[1], got[0], cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
				t.Errorf("stored entry mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("Open(default) error = %v", err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("Open(default) = %T, want *Memory", s)
	}

	path := t.TempDir() + "/nested/samples.db"
	lite, err := Open(ctx, Config{Driver: "SQLite", DSN: path})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer lite.Close()
	if err := lite.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	if _, err := Open(ctx, Config{Driver: "mongo"}); err == nil {
		t.Error("Open(mongo) error = nil, want unknown driver")
	}
}

func TestMemory_IsolatesStoredRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := sampleRecord("Alpha", map[string]core.MetaValue{"k": {Value: "v"}})

	ref, err := m.SaveSample(ctx, rec, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec.NodeTree[0].MetaUser["k"] = core.MetaValue{Value: "changed"}

	got, _ := m.GetSample(ctx, ref.ID, 0)
	got.NodeTree[0].MetaUser["k"] = core.MetaValue{Value: "changed again"}

	again, _ := m.GetSample(ctx, ref.ID, 0)
	if again.NodeTree[0].MetaUser["k"].Value != "v" {
		t.Errorf("stored value = %q, want v", again.NodeTree[0].MetaUser["k"].Value)
	}
}
