package core

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const sampleCSV = "Sample ID,Sample Name,Depth,Depth Units,Parent ID,Material\n" +
	"S1,Alpha,3,m,,Rock\n" +
	"S2,,,,S1,Soil\n"

func writeSampleFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestImporter(t *testing.T, svc SampleService) *Importer {
	t.Helper()
	return &Importer{
		Formats:   testRegistry(t),
		Service:   svc,
		Sets:      &fakeSets{},
		Verifiers: NewVerifierRegistry(nil),
	}
}

func TestImporter_Run(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService()
	im := newTestImporter(t, svc)
	path := writeSampleFile(t, "samples.csv", sampleCSV)

	res, err := im.Run(ctx, Params{
		SampleFile:    path,
		WorkspaceName: "ws",
		FileFormat:    "test",
		Description:   "first upload",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantSamples := []SavedSampleRef{
		{ID: "sample-1", Name: "Alpha", Version: 1},
		{ID: "sample-2", Name: "S2", Version: 1},
	}
	if diff := cmp.Diff(wantSamples, res.Samples); diff != "" {
		t.Errorf("Samples mismatch (-want +got):\n%s", diff)
	}
	if res.Description != "first upload" || res.BatchID == "" {
		t.Errorf("Description = %q, BatchID = %q", res.Description, res.BatchID)
	}

	alpha, _ := svc.GetSample(ctx, "sample-1", 1)
	wantAlpha := []Node{{
		ID:             "S1",
		Type:           NodeBioReplicate,
		MetaControlled: map[string]MetaValue{"depth": {Value: "3", Unit: "m"}},
		MetaUser:       map[string]MetaValue{"material": {Value: "Rock"}},
	}}
	if diff := cmp.Diff(wantAlpha, alpha.NodeTree, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Alpha node tree mismatch (-want +got):\n%s", diff)
	}

	child, _ := svc.GetSample(ctx, "sample-2", 1)
	if got, ok := child.NodeTree[0].MetaUser["parent_id"]; ok {
		t.Errorf("parent_id = %+v in user metadata, want it dropped", got)
	}
	if child.NodeTree[0].Parent != nil {
		t.Errorf("Parent = %q, want nil", *child.NodeTree[0].Parent)
	}

	// Re-running with the saved samples as existing changes nothing.
	var existing []SampleRecord
	for _, ref := range res.Samples {
		existing = append(existing, SampleRecord{ID: ref.ID, Version: ref.Version})
	}
	svc.saves = nil

	again, err := im.Run(ctx, Params{
		SampleFile:      path,
		WorkspaceName:   "ws",
		FileFormat:      "TEST",
		ExistingSamples: existing,
	})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(svc.saves) != 0 {
		t.Errorf("second run saved %v, want nothing", svc.saves)
	}
	if again.Unchanged != 2 {
		t.Errorf("Unchanged = %d, want 2", again.Unchanged)
	}
	if diff := cmp.Diff(res.Samples, again.Samples); diff != "" {
		t.Errorf("second run samples mismatch (-want +got):\n%s", diff)
	}
}

func TestImporter_SampleSets(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService()
	im := newTestImporter(t, svc)
	path := writeSampleFile(t, "samples.csv", sampleCSV)

	first, err := im.Run(ctx, Params{
		SampleFile:    path,
		WorkspaceName: "ws",
		FileFormat:    "TEST",
		SetName:       "cores",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.SampleSetRef == "" {
		t.Fatal("SampleSetRef is empty")
	}

	recs, err := ListExisting(ctx, im.Sets, svc, first.SampleSetRef)
	if err != nil {
		t.Fatalf("ListExisting() error = %v", err)
	}
	if len(recs) != 2 || recs[0].Name != "Alpha" {
		t.Fatalf("ListExisting() = %v, want Alpha and S2", recs)
	}

	changed := writeSampleFile(t, "changed.csv",
		"Sample ID,Sample Name,Depth,Depth Units\nS1,Alpha,4,m\n")
	svc.saves = nil

	second, err := im.Run(ctx, Params{
		SampleFile:    changed,
		WorkspaceName: "ws",
		FileFormat:    "TEST",
		SampleSetRef:  first.SampleSetRef,
	})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	want := []SavedSampleRef{
		{ID: "sample-1", Name: "Alpha", Version: 2},
		{ID: "sample-2", Name: "S2", Version: 1},
	}
	if diff := cmp.Diff(want, second.Samples); diff != "" {
		t.Errorf("Samples mismatch (-want +got):\n%s", diff)
	}

	_, err = ListExisting(ctx, im.Sets, svc, "missing")
	if !errors.Is(err, ErrSampleSetMissing) {
		t.Errorf("ListExisting(missing) error = %v, want ErrSampleSetMissing", err)
	}
}

func TestImporter_ParamErrors(t *testing.T) {
	im := newTestImporter(t, newFakeService())
	path := writeSampleFile(t, "samples.csv", sampleCSV)
	negative := -1

	tests := []struct {
		name      string
		params    Params
		wantParam string
	}{
		{"no file", Params{WorkspaceName: "ws", FileFormat: "TEST"}, "sample_file"},
		{"no workspace", Params{SampleFile: path, FileFormat: "TEST"}, "workspace_name"},
		{"no format", Params{SampleFile: path, WorkspaceName: "ws"}, "file_format"},
		{"unknown format", Params{SampleFile: path, WorkspaceName: "ws", FileFormat: "nope"}, "file_format"},
		{"negative header row", Params{SampleFile: path, WorkspaceName: "ws", FileFormat: "TEST", HeaderRowIndex: &negative}, "header_row_index"},
		{"missing input", Params{SampleFile: filepath.Join(t.TempDir(), "gone.csv"), WorkspaceName: "ws", FileFormat: "TEST"}, "sample_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := im.Run(context.Background(), tt.params)
			var pe *ParamError
			if !errors.As(err, &pe) {
				t.Fatalf("Run() error = %v, want *ParamError", err)
			}
			if pe.Param != tt.wantParam {
				t.Errorf("Param = %q, want %q", pe.Param, tt.wantParam)
			}
		})
	}

	t.Run("sets not configured", func(t *testing.T) {
		bare := newTestImporter(t, newFakeService())
		bare.Sets = nil
		_, err := bare.Run(context.Background(), Params{
			SampleFile: path, WorkspaceName: "ws", FileFormat: "TEST", SetName: "x",
		})
		var pe *ParamError
		if !errors.As(err, &pe) {
			t.Fatalf("Run() error = %v, want *ParamError", err)
		}
	})
}

func TestImporter_Aborts(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "missing id before any write",
			content: "Sample ID,Sample Name\nS1,Alpha\n,Beta\n",
			check: func(t *testing.T, err error) {
				var rowErr *RowError
				if !errors.As(err, &rowErr) || rowErr.Line != 3 {
					t.Errorf("error = %v, want RowError at line 3", err)
				}
			},
		},
		{
			name:    "verification failure",
			content: "Sample ID,Depth,Material\nS1,deep,Rock\nS2,1,Lava\n",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrInvalidNumber) || !errors.Is(err, ErrNotAllowed) {
					t.Errorf("error = %v, want number and allowed-value failures", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			im := newTestImporter(t, svc)
			_, err := im.Run(context.Background(), Params{
				SampleFile:    writeSampleFile(t, "s.csv", tt.content),
				WorkspaceName: "ws",
				FileFormat:    "TEST",
			})
			tt.check(t, err)
			if len(svc.saves) != 0 {
				t.Errorf("saves = %v, want none", svc.saves)
			}
		})
	}
}

func TestImporter_HeaderRow(t *testing.T) {
	svc := newFakeService()
	im := newTestImporter(t, svc)
	headerRow := 1
	path := writeSampleFile(t, "s.csv", "Exported 2024,,\nSample ID,Sample Name\nS1,Alpha\n")

	res, err := im.Run(context.Background(), Params{
		SampleFile:     path,
		WorkspaceName:  "ws",
		FileFormat:     "TEST",
		HeaderRowIndex: &headerRow,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Samples) != 1 || res.Samples[0].Name != "Alpha" {
		t.Errorf("Samples = %v, want Alpha", res.Samples)
	}
}

type stubStager struct {
	files   map[string]string
	cleaned int
}

func (s *stubStager) Resolve(_ context.Context, path string) (string, func(), error) {
	local, ok := s.files[path]
	if !ok {
		return "", nil, fs.ErrNotExist
	}
	return local, func() { s.cleaned++ }, nil
}

func TestImporter_Stager(t *testing.T) {
	local := writeSampleFile(t, "samples.csv", sampleCSV)
	stager := &stubStager{files: map[string]string{"s3://bucket/samples.csv": local}}
	im := newTestImporter(t, newFakeService())
	im.Stager = stager

	if _, err := im.Run(context.Background(), Params{
		SampleFile: "s3://bucket/samples.csv", WorkspaceName: "ws", FileFormat: "TEST",
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stager.cleaned != 1 {
		t.Errorf("cleanup called %d times, want 1", stager.cleaned)
	}

	_, err := im.Run(context.Background(), Params{
		SampleFile: "s3://bucket/other.csv", WorkspaceName: "ws", FileFormat: "TEST",
	})
	var pe *ParamError
	if !errors.As(err, &pe) || MapError(err).Code != "FILE003" {
		t.Errorf("Run() error = %v, want missing input ParamError", err)
	}
}

type countingObserver struct {
	rows    map[Decision]int
	batches int
	failed  int
}

func (o *countingObserver) RowReconciled(_ string, d Decision) {
	if o.rows == nil {
		o.rows = make(map[Decision]int)
	}
	o.rows[d]++
}

func (o *countingObserver) BatchFinished(_ string, err error, _ time.Duration) {
	o.batches++
	if err != nil {
		o.failed++
	}
}

func TestImporter_Observer(t *testing.T) {
	obs := &countingObserver{}
	im := newTestImporter(t, newFakeService())
	im.Observer = obs

	path := writeSampleFile(t, "samples.csv", sampleCSV)
	if _, err := im.Run(context.Background(), Params{SampleFile: path, WorkspaceName: "ws", FileFormat: "TEST"}); err != nil {
		t.Fatal(err)
	}
	bad := writeSampleFile(t, "bad.csv", "Sample ID,Depth\nS1,deep\n")
	if _, err := im.Run(context.Background(), Params{SampleFile: bad, WorkspaceName: "ws", FileFormat: "TEST"}); err == nil {
		t.Fatal("Run() error = nil, want verification failure")
	}

	if obs.rows[DecisionCreated] != 2 || obs.batches != 2 || obs.failed != 1 {
		t.Errorf("observer = %+v, want 2 created rows, 2 batches, 1 failure", obs)
	}
}

type fakeHistory struct {
	entries []BatchEntry
}

func (h *fakeHistory) RecordBatch(_ context.Context, e *BatchEntry) error {
	h.entries = append(h.entries, *e)
	return nil
}

func (h *fakeHistory) ListBatches(context.Context, BatchQuery) ([]BatchEntry, error) {
	return h.entries, nil
}

func TestImporter_History(t *testing.T) {
	hist := &fakeHistory{}
	im := newTestImporter(t, newFakeService())
	im.History = hist

	path := writeSampleFile(t, "samples.csv", sampleCSV)
	res, err := im.Run(context.Background(), Params{SampleFile: path, WorkspaceName: "ws", FileFormat: "TEST"})
	if err != nil {
		t.Fatal(err)
	}
	bad := writeSampleFile(t, "bad.csv", "Sample ID,Sample Name\nS1,a\n,b\n")
	_, _ = im.Run(context.Background(), Params{SampleFile: bad, WorkspaceName: "ws", FileFormat: "TEST"})

	// Parameter errors are rejected before a batch starts and leave no entry.
	_, _ = im.Run(context.Background(), Params{SampleFile: path, FileFormat: "TEST"})

	if len(hist.entries) != 2 {
		t.Fatalf("recorded %d batches, want 2", len(hist.entries))
	}

	ok := hist.entries[0]
	want := BatchEntry{
		BatchID:   res.BatchID,
		Format:    "TEST",
		Workspace: "ws",
		File:      path,
		Samples:   2,
		Created:   2,
		Status:    BatchSucceeded,
	}
	if diff := cmp.Diff(want, ok, cmpopts.IgnoreFields(BatchEntry{}, "StartedAt", "DurationMS")); diff != "" {
		t.Errorf("success entry mismatch (-want +got):\n%s", diff)
	}

	failed := hist.entries[1]
	if failed.Status != BatchFailed || failed.ErrorCode != "ROW001" || failed.Error == "" {
		t.Errorf("failure entry = %+v, want failed ROW001", failed)
	}
}
