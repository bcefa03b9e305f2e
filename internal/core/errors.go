package core

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
	"github.com/JonMunkholm/sampleuploader/internal/tabular"
)

// ConfigError reports a malformed or unreachable format configuration.
type ConfigError = schema.ConfigError

// UnsupportedFormatError reports a sample file with an unknown extension.
type UnsupportedFormatError = tabular.UnsupportedFormatError

// Sentinel causes. Verifiers wrap these so callers can match with errors.Is.
var (
	ErrMissingID        = errors.New("row is missing required field id")
	ErrInvalidNumber    = errors.New("invalid number")
	ErrInvalidInteger   = errors.New("invalid number: not a whole number")
	ErrInvalidBool      = errors.New("invalid boolean")
	ErrInvalidDate      = errors.New("invalid date")
	ErrRequired         = errors.New("required field is empty")
	ErrDuplicate        = errors.New("duplicate value")
	ErrPatternMismatch  = errors.New("value does not match pattern")
	ErrNotAllowed       = errors.New("value not allowed")
	ErrUnknownOntology  = errors.New("unknown ontology")
	ErrSampleNotFound   = errors.New("sample not found")
	ErrSampleSetMissing = errors.New("sample set not found")
)

// ParamError reports a missing or invalid invocation parameter.
// It is raised before any file or remote I/O.
type ParamError struct {
	Param string
	Msg   string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Msg)
}

// ValidationError reports a column failing its semantic check.
type ValidationError struct {
	Column string
	Line   int // file line of the offending cell, 0 for whole-column failures
	Value  string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("error parsing column %q at line %d (%q): %v", e.Column, e.Line, e.Value, e.Err)
	}
	return fmt.Sprintf("error parsing column %q: %v", e.Column, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RowError reports a row that cannot be turned into a sample.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row at line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// RemoteServiceError is an opaque failure from the sample service.
// It is never retried locally.
type RemoteServiceError struct {
	Op       string // get_sample, create_sample, update_sample_acls, ...
	SampleID string
	Err      error
}

func (e *RemoteServiceError) Error() string {
	if e.SampleID != "" {
		return fmt.Sprintf("sample service %s (sample %s): %v", e.Op, e.SampleID, e.Err)
	}
	return fmt.Sprintf("sample service %s: %v", e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}
