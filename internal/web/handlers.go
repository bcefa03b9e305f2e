package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sampleuploader/internal/core"
	"github.com/JonMunkholm/sampleuploader/internal/metrics"
)

// maxJSONBody caps POST /api/import bodies; inline existing samples can be large.
const maxJSONBody = 32 << 20

// handleHealth runs every health check and reports 503 if any fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"checks":       checks,
		"batches":      s.deps.Limiter.Active(),
		"batch_slots":  s.deps.Limiter.Capacity(),
		"format_count": s.deps.Formats.Len(),
	})
}

type formatInfo struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns"`
	DateColumns []string `json:"date_columns,omitempty"`
	Verified    []string `json:"verified_columns,omitempty"`
}

// handleListFormats lists the loaded formats and the canonical columns
// each one produces.
func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Formats.Names()
	out := make([]formatInfo, 0, len(names))
	for _, name := range names {
		spec, _ := s.deps.Formats.Get(name)
		info := formatInfo{Name: spec.Name, DateColumns: spec.DateColumns}

		seen := make(map[string]bool, len(spec.Columns))
		for _, col := range spec.Columns {
			if t := col.Target(); !seen[t] {
				seen[t] = true
				info.Columns = append(info.Columns, t)
			}
		}
		for col := range spec.Verification {
			info.Verified = append(info.Verified, col)
		}
		sort.Strings(info.Verified)
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"formats": out})
}

// handleImport runs a batch described by a JSON body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	p, err := decodeImportRequest(r.Body)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	s.runBatch(w, r, p)
}

// importRequest rejects unknown top-level fields. Existing samples are
// decoded leniently so records returned by get_sample can be passed back
// with their server-side fields.
type importRequest struct {
	core.Params
	ExistingSamples []json.RawMessage `json:"existing_samples,omitempty"`
}

func decodeImportRequest(body io.Reader) (core.Params, error) {
	var req importRequest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return core.Params{}, &core.ParamError{Param: "body", Msg: fmt.Sprintf("invalid JSON: %v", err)}
	}

	p := req.Params
	for i, raw := range req.ExistingSamples {
		var rec core.SampleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return core.Params{}, &core.ParamError{
				Param: "existing_samples",
				Msg:   fmt.Sprintf("entry %d: %v", i, err),
			}
		}
		p.ExistingSamples = append(p.ExistingSamples, rec)
	}
	return p, nil
}

// runBatch acquires a batch slot, runs the importer under the upload
// timeout and writes the result.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, p core.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Upload.Timeout)
	defer cancel()

	var res *core.Result
	err := s.deps.Limiter.Do(ctx, func(ctx context.Context) error {
		metrics.GaugeBatchesInFlight.Inc()
		defer metrics.GaugeBatchesInFlight.Dec()

		var err error
		res, err = s.deps.Importer.Run(ctx, p)
		return err
	})
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGetSampleSet returns one saved sample set.
func (s *Server) handleGetSampleSet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sets == nil {
		s.respondError(w, r, errors.New("sample sets are not configured"), http.StatusNotImplemented)
		return
	}
	ref := chi.URLParam(r, "ref")

	set, err := s.deps.Sets.GetSampleSet(r.Context(), ref)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// handleListBatches returns batch history, newest first.
//
// Query parameters: format, workspace, status, since, until (RFC 3339),
// limit, offset.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.respondError(w, r, errors.New("batch history is not configured"), http.StatusNotImplemented)
		return
	}

	q, err := parseBatchQuery(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	entries, err := s.deps.History.ListBatches(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches": entries,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func parseBatchQuery(r *http.Request) (core.BatchQuery, error) {
	v := r.URL.Query()
	q := core.BatchQuery{
		Format:    v.Get("format"),
		Workspace: v.Get("workspace"),
		Status:    core.BatchStatus(v.Get("status")),
		Limit:     core.DefaultHistoryLimit,
	}

	switch q.Status {
	case "", core.BatchSucceeded, core.BatchFailed:
	default:
		return q, &core.ParamError{Param: "status", Msg: "must be succeeded or failed"}
	}

	for _, tp := range []struct {
		name string
		dst  *time.Time
	}{{"since", &q.Since}, {"until", &q.Until}} {
		raw := v.Get(tp.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, &core.ParamError{Param: tp.name, Msg: "must be an RFC 3339 timestamp"}
		}
		*tp.dst = t
	}

	q.Limit = parseIntParam(r, "limit", core.DefaultHistoryLimit, 1, 500)
	q.Offset = parseIntParam(r, "offset", 0, 0, 1<<31-1)
	return q, nil
}

// parseIntParam parses an integer query parameter with a default value.
// Values outside [minVal, maxVal] fall back to the default or are clamped.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < minVal {
		return defaultVal
	}
	if i > maxVal {
		return maxVal
	}
	return i
}
