package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Errors are matched first by type (errors.As / errors.Is) and
// then, for untyped errors, by message pattern.
//
// # Configuration (CFG001)
//
//	CFG001 - Format configuration is invalid or unreachable
//	         Action: Contact the administrator; the service cannot start with a bad template
//
// # Parameters (PARAM001-PARAM002)
//
//	PARAM001 - A required parameter is missing (sample_file, workspace_name, file_format)
//	PARAM002 - A parameter is invalid (unknown format, negative header row, sets disabled)
//
// # File Errors (FILE001-FILE005)
//
//	FILE001 - File too large             Patterns: "file too large", "request body too large"
//	FILE002 - File could not be parsed   Patterns: "parse ", "not a valid", "zip: "
//	FILE003 - Input file does not exist  Patterns: "does not exist"
//	FILE004 - No file provided           Patterns: "no file provided"
//	FILE005 - Unsupported file format    Type: *UnsupportedFormatError
//
// # Validation Errors (VAL001-VAL006)
//
//	VAL001 - Invalid date
//	VAL002 - Invalid number
//	VAL003 - Required value missing
//	VAL004 - Duplicate value in a unique column
//	VAL005 - Value does not match the column pattern
//	VAL006 - Value not in the allowed list or ontology
//	VAL000 - Column failed a check with no specific message
//
// # Row Errors (ROW001)
//
//	ROW001 - A row has no id
//
// # Sample Service Errors (SVC001-SVC004)
//
//	SVC001 - Sample or sample set not found
//	SVC002 - Sample service unreachable   Patterns: "connection refused", "no such host"
//	SVC003 - Sample service rejected the request
//	SVC004 - Not authorized by the sample service   Patterns: "unauthorized", "forbidden"
//
// # Upload Errors (UPL001-UPL005)
//
//	UPL001 - Upload cancelled
//	UPL002 - System busy: too many import batches
//	UPL003 - Staging storage unavailable
//	UPL004 - Request cancelled ("context canceled")
//	UPL005 - Request timed out ("context deadline exceeded")
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgConfig = UserMessage{
		Message: "The format configuration is invalid",
		Action:  "Contact the administrator to fix the format templates",
		Code:    "CFG001",
	}
	msgParamMissing = UserMessage{
		Message: "A required parameter is missing",
		Action:  "Provide sample_file, workspace_name and file_format",
		Code:    "PARAM001",
	}
	msgParamInvalid = UserMessage{
		Message: "A parameter is invalid",
		Action:  "Check the file format name and header row index",
		Code:    "PARAM002",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds maximum size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}
	msgFileParse = UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file is a valid CSV, TSV or Excel workbook",
		Code:    "FILE002",
	}
	msgFileMissing = UserMessage{
		Message: "The input file does not exist",
		Action:  "Upload the file to the staging area and try again",
		Code:    "FILE003",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a sample file to upload",
		Code:    "FILE004",
	}
	msgUnsupported = UserMessage{
		Message: "File type is not supported",
		Action:  "Use a .csv, .tsv, .xls or .xlsx file",
		Code:    "FILE005",
	}
	msgRowMissingID = UserMessage{
		Message: "A row is missing its id",
		Action:  "Fill in the id column for every sample row",
		Code:    "ROW001",
	}
	msgNotFound = UserMessage{
		Message: "Sample or sample set not found",
		Action:  "Check the sample id or sample set reference",
		Code:    "SVC001",
	}
	msgServiceDown = UserMessage{
		Message: "Unable to reach the sample service",
		Action:  "Please try again in a few moments",
		Code:    "SVC002",
	}
	msgServiceError = UserMessage{
		Message: "The sample service rejected the request",
		Action:  "Review the error details; samples before the failing row were saved",
		Code:    "SVC003",
	}
	msgServiceAuth = UserMessage{
		Message: "Not authorized by the sample service",
		Action:  "Check your token and your permissions on the samples",
		Code:    "SVC004",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgCanceled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}
)

// validationMessages maps verifier causes to messages.
var validationMessages = []struct {
	cause error
	msg   UserMessage
}{
	{ErrInvalidDate, UserMessage{
		Message: "Invalid date format detected",
		Action:  "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024",
		Code:    "VAL001",
	}},
	{ErrInvalidNumber, UserMessage{
		Message: "Invalid number format detected",
		Action:  "Use plain decimal numbers without units in this column",
		Code:    "VAL002",
	}},
	{ErrInvalidInteger, UserMessage{
		Message: "Invalid number format detected",
		Action:  "Use whole numbers in this column",
		Code:    "VAL002",
	}},
	{ErrRequired, UserMessage{
		Message: "Required field is empty",
		Action:  "Ensure all required columns have values",
		Code:    "VAL003",
	}},
	{ErrDuplicate, UserMessage{
		Message: "A duplicate value was found",
		Action:  "Values in this column must be unique",
		Code:    "VAL004",
	}},
	{ErrPatternMismatch, UserMessage{
		Message: "Value does not match the expected pattern",
		Action:  "Check the value format required by the template",
		Code:    "VAL005",
	}},
	{ErrNotAllowed, UserMessage{
		Message: "Value is not in the allowed list",
		Action:  "Check the allowed values for this column",
		Code:    "VAL006",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Patterns are matched using strings.Contains, so partial matches work.
// The first matching pattern wins, so more specific patterns come first.
var errorPatterns = []errorPattern{
	{"file too large", msgFileTooLarge},
	{"request body too large", msgFileTooLarge},
	{"no file provided", msgNoFile},
	{"does not exist", msgFileMissing},
	{"unauthorized", msgServiceAuth},
	{"forbidden", msgServiceAuth},
	{"connection refused", msgServiceDown},
	{"no such host", msgServiceDown},
	{"too many import batches", msgBusy},
	{"upload cancelled", UserMessage{
		Message: "Upload was cancelled",
		Action:  "Start a new upload when ready",
		Code:    "UPL001",
	}},
	{"staging", UserMessage{
		Message: "Staging storage is unavailable",
		Action:  "Please try again or upload the file directly",
		Code:    "UPL003",
	}},
	{"context canceled", msgCanceled},
	{"context deadline exceeded", msgTimeout},
	{"parse ", msgFileParse},
	{"not a valid", msgFileParse},
	{"zip: ", msgFileParse},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors are matched first, then message patterns; unmatched errors
// map to ERR000.
//
// Example:
//
//	err := &RowError{Line: 4, Err: ErrMissingID}
//	msg := MapError(err)
//	// msg.Code == "ROW001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		cfgErr    *ConfigError
		paramErr  *ParamError
		unsupErr  *UnsupportedFormatError
		valErr    *ValidationError
		remoteErr *RemoteServiceError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return msgCanceled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout, true
	case errors.Is(err, ErrTooManyBatches):
		return msgBusy, true
	case errors.As(err, &cfgErr):
		return msgConfig, true
	case errors.As(err, &paramErr):
		if strings.HasSuffix(paramErr.Msg, "argument required") {
			return msgParamMissing, true
		}
		if strings.Contains(paramErr.Msg, "does not exist") {
			return msgFileMissing, true
		}
		return msgParamInvalid, true
	case errors.As(err, &unsupErr):
		return msgUnsupported, true
	case errors.As(err, &valErr):
		for _, vm := range validationMessages {
			if errors.Is(valErr.Err, vm.cause) {
				return vm.msg, true
			}
		}
		return UserMessage{
			Message: fmt.Sprintf("Column %q failed validation", valErr.Column),
			Action:  "Review the values in this column",
			Code:    "VAL000",
		}, true
	case errors.Is(err, ErrMissingID):
		return msgRowMissingID, true
	case errors.Is(err, ErrSampleNotFound), errors.Is(err, ErrSampleSetMissing):
		return msgNotFound, true
	case errors.As(err, &remoteErr):
		lower := strings.ToLower(remoteErr.Err.Error())
		switch {
		case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
			return msgServiceDown, true
		case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"),
			strings.Contains(lower, "permission"):
			return msgServiceAuth, true
		}
		return msgServiceError, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error maps to a specific message rather
// than the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps a technical error to a UserError.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
