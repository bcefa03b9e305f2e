package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sampleuploader/internal/core"
	"github.com/JonMunkholm/sampleuploader/internal/logging"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// handleImportUpload stages an uploaded sample file, then runs a batch on it.
//
// Form fields: file (required), workspace_name, file_format,
// header_row_index, description, sample_set_ref, set_name and
// existing_samples (a JSON array).
func (s *Server) handleImportUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		s.respondError(w, r, errors.New("uploads are not configured"), http.StatusNotImplemented)
		return
	}

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("file too large: limit is %d bytes", maxSize), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, &core.ParamError{Param: "file", Msg: "invalid multipart form"}, http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, &core.ParamError{Param: "sample_file", Msg: "sample_file argument required"}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		s.respondError(w, r, fmt.Errorf("file too large: limit is %d bytes", maxSize), http.StatusRequestEntityTooLarge)
		return
	}

	p, err := uploadParams(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	staged, err := s.deps.Uploads.Stage(header.Filename, file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("staging storage unavailable: %w", err), http.StatusInternalServerError)
		return
	}
	logging.FromContext(r.Context()).Info("upload staged",
		"file", header.Filename,
		"size", header.Size,
		"path", staged,
	)

	p.SampleFile = staged
	s.runBatch(w, r, p)
}

// uploadParams reads batch parameters from the parsed form.
func uploadParams(r *http.Request) (core.Params, error) {
	p := core.Params{
		WorkspaceName: strings.TrimSpace(r.FormValue("workspace_name")),
		FileFormat:    strings.TrimSpace(r.FormValue("file_format")),
		Description:   r.FormValue("description"),
		SampleSetRef:  strings.TrimSpace(r.FormValue("sample_set_ref")),
		SetName:       strings.TrimSpace(r.FormValue("set_name")),
	}

	if raw := strings.TrimSpace(r.FormValue("header_row_index")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, &core.ParamError{Param: "header_row_index", Msg: "must be an integer"}
		}
		p.HeaderRowIndex = &n
	}

	if raw := strings.TrimSpace(r.FormValue("existing_samples")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.ExistingSamples); err != nil {
			return p, &core.ParamError{Param: "existing_samples", Msg: "must be a JSON array of samples"}
		}
	}
	return p, nil
}
