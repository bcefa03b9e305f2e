package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sampleuploader/internal/logging"
	"github.com/JonMunkholm/sampleuploader/internal/schema"
	"github.com/JonMunkholm/sampleuploader/internal/tabular"
)

// Params are the inputs of one import batch.
type Params struct {
	SampleFile      string         `json:"sample_file"`
	WorkspaceName   string         `json:"workspace_name"`
	Description     string         `json:"description,omitempty"`
	HeaderRowIndex  *int           `json:"header_row_index,omitempty"`
	FileFormat      string         `json:"file_format"`
	ExistingSamples []SampleRecord `json:"existing_samples,omitempty"`
	SampleSetRef    string         `json:"sample_set_ref,omitempty"`
	SetName         string         `json:"set_name,omitempty"`
}

// Result is the outcome of one import batch.
type Result struct {
	BatchID      string           `json:"batch_id"`
	Samples      []SavedSampleRef `json:"samples"`
	Description  string           `json:"description"`
	SampleSetRef string           `json:"sample_set_ref,omitempty"`
	Created      int              `json:"created"`
	Versioned    int              `json:"versioned"`
	Unchanged    int              `json:"unchanged"`
}

// Stager resolves a caller-supplied file path to a readable local file.
// The returned cleanup func releases any temporary copy.
type Stager interface {
	Resolve(ctx context.Context, path string) (string, func(), error)
}

// LoadFunc decodes a sample file with the given 0-based header row.
type LoadFunc func(path string, headerRow int) (*tabular.Table, error)

// Importer drives one batch: load, normalize, verify, reconcile.
// Its fields are set once at startup; Run may be called concurrently.
type Importer struct {
	Formats   *schema.Registry
	Service   SampleService
	Sets      SampleSetStore // optional; required for set_name and sample_set_ref
	History   BatchLog       // optional
	Verifiers *VerifierRegistry
	Stager    Stager   // optional; the path is used as given when nil
	Load      LoadFunc // defaults to tabular.Load
	UnitRegex *regexp.Regexp
	Observer  Observer

	DefaultHeaderRow int
}

// Run executes one import batch.
//
// Parameters are checked before any I/O. Every row must carry an id; the
// whole file is checked before the first write. Column validation failures
// abort the batch. Remote failures abort the batch at the failing row and
// are returned wrapped with the row's line.
func (im *Importer) Run(ctx context.Context, p Params) (*Result, error) {
	start := time.Now()
	batchID := uuid.NewString()
	ctx = logging.WithBatchID(ctx, batchID)
	logger := logging.FromContext(ctx)

	spec, headerRow, err := im.validate(p)
	if err != nil {
		return nil, err
	}

	logger.Info("import started",
		"format", spec.Name,
		"workspace", p.WorkspaceName,
		"file", p.SampleFile,
	)

	res, err := im.run(ctx, p, spec, headerRow)

	elapsed := time.Since(start)
	im.observer().BatchFinished(spec.Name, err, elapsed)
	im.record(ctx, batchEntry(batchID, spec.Name, p, res, err, start, elapsed))
	if err != nil {
		logger.Warn("import failed",
			"format", spec.Name,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil, err
	}

	res.BatchID = batchID
	logger.Info("import finished",
		"format", spec.Name,
		"samples", len(res.Samples),
		"created", res.Created,
		"versioned", res.Versioned,
		"unchanged", res.Unchanged,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

func (im *Importer) validate(p Params) (*schema.FormatSpec, int, error) {
	if strings.TrimSpace(p.SampleFile) == "" {
		return nil, 0, &ParamError{Param: "sample_file", Msg: "sample_file argument required"}
	}
	if strings.TrimSpace(p.WorkspaceName) == "" {
		return nil, 0, &ParamError{Param: "workspace_name", Msg: "workspace_name argument required"}
	}
	if strings.TrimSpace(p.FileFormat) == "" {
		return nil, 0, &ParamError{Param: "file_format", Msg: "file_format argument required"}
	}
	spec, ok := im.Formats.Get(p.FileFormat)
	if !ok {
		return nil, 0, &ParamError{
			Param: "file_format",
			Msg:   fmt.Sprintf("unsupported format %q (available: %s)", p.FileFormat, strings.Join(im.Formats.Names(), ", ")),
		}
	}

	headerRow := im.DefaultHeaderRow
	if p.HeaderRowIndex != nil {
		headerRow = *p.HeaderRowIndex
	}
	if headerRow < 0 {
		return nil, 0, &ParamError{Param: "header_row_index", Msg: "must not be negative"}
	}

	if (p.SetName != "" || p.SampleSetRef != "") && im.Sets == nil {
		return nil, 0, &ParamError{Param: "set_name", Msg: "sample sets are not configured"}
	}
	return spec, headerRow, nil
}

func (im *Importer) run(ctx context.Context, p Params, spec *schema.FormatSpec, headerRow int) (*Result, error) {
	path, cleanup, err := im.resolve(ctx, p.SampleFile)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	load := im.Load
	if load == nil {
		load = tabular.Load
	}
	table, err := load(path, headerRow)
	if err != nil {
		return nil, err
	}

	rows, columns := NormalizeTable(table, spec)
	for _, row := range rows {
		if row.Get(ColID) == "" {
			return nil, &RowError{Line: row.Line, Err: ErrMissingID}
		}
	}

	verifiers := im.Verifiers
	if verifiers == nil {
		verifiers = NewVerifierRegistry(nil)
	}
	if err := verifiers.Verify(rows, columns, spec.Verification); err != nil {
		return nil, err
	}

	existing, err := im.existing(ctx, p)
	if err != nil {
		return nil, err
	}

	rec := &Reconciler{
		Service:   im.Service,
		Assembler: Assembler{Spec: spec, UnitRegex: im.UnitRegex},
		Observer:  im.observer(),
	}
	rr, err := rec.Reconcile(ctx, rows, existing)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Samples:     rr.Samples(),
		Description: p.Description,
		Created:     rr.Created,
		Versioned:   rr.Versioned,
		Unchanged:   rr.Unchanged,
	}

	if p.SetName != "" {
		set := &SampleSet{
			Ref:         uuid.NewString(),
			Name:        p.SetName,
			Description: p.Description,
			Workspace:   p.WorkspaceName,
			Samples:     res.Samples,
			CreatedAt:   time.Now().UTC(),
		}
		if err := im.Sets.SaveSampleSet(ctx, set); err != nil {
			return nil, fmt.Errorf("save sample set: %w", err)
		}
		res.SampleSetRef = set.Ref
	}

	return res, nil
}

// resolve locates the sample file, through the stager when configured.
func (im *Importer) resolve(ctx context.Context, path string) (string, func(), error) {
	if im.Stager != nil {
		resolved, cleanup, err := im.Stager.Resolve(ctx, path)
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil, &ParamError{Param: "sample_file", Msg: fmt.Sprintf("input file %s does not exist", path)}
		}
		return resolved, cleanup, err
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil, &ParamError{Param: "sample_file", Msg: fmt.Sprintf("input file %s does not exist", path)}
	}
	return path, func() {}, nil
}

// existing gathers the records this batch reconciles against: the members
// of sample_set_ref followed by existing_samples. Inline entries given only
// as references are fetched in full.
func (im *Importer) existing(ctx context.Context, p Params) ([]SampleRecord, error) {
	var out []SampleRecord
	if p.SampleSetRef != "" {
		recs, err := ListExisting(ctx, im.Sets, im.Service, p.SampleSetRef)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	for _, rec := range p.ExistingSamples {
		if len(rec.NodeTree) == 0 && rec.ID != "" {
			full, err := im.Service.GetSample(ctx, rec.ID, rec.Version)
			if err != nil {
				return nil, fmt.Errorf("load existing sample %s: %w", rec.ID, err)
			}
			out = append(out, *full)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// record stores the batch in the history log. Failures are logged and do
// not affect the batch result.
func (im *Importer) record(ctx context.Context, entry *BatchEntry) {
	if im.History == nil {
		return
	}
	if err := im.History.RecordBatch(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx).Warn("failed to record batch history", "error", err)
	}
}

func batchEntry(batchID, format string, p Params, res *Result, err error, start time.Time, elapsed time.Duration) *BatchEntry {
	e := &BatchEntry{
		BatchID:    batchID,
		Format:     format,
		Workspace:  p.WorkspaceName,
		File:       p.SampleFile,
		Status:     BatchSucceeded,
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		e.Status = BatchFailed
		e.ErrorCode = MapError(err).Code
		e.Error = err.Error()
		return e
	}
	e.SampleSetRef = res.SampleSetRef
	e.Samples = len(res.Samples)
	e.Created = res.Created
	e.Versioned = res.Versioned
	e.Unchanged = res.Unchanged
	return e
}

func (im *Importer) observer() Observer {
	if im.Observer == nil {
		return nopObserver{}
	}
	return im.Observer
}

// ListExisting resolves a stored sample set into full sample records.
func ListExisting(ctx context.Context, sets SampleSetStore, svc SampleService, ref string) ([]SampleRecord, error) {
	set, err := sets.GetSampleSet(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load sample set %s: %w", ref, err)
	}

	out := make([]SampleRecord, 0, len(set.Samples))
	for _, s := range set.Samples {
		rec, err := svc.GetSample(ctx, s.ID, s.Version)
		if err != nil {
			return nil, fmt.Errorf("load sample set %s: %w", ref, err)
		}
		out = append(out, *rec)
	}
	return out, nil
}
