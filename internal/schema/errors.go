package schema

import "fmt"

// ConfigError reports a malformed or unreachable format configuration.
// It is fatal at startup: a registry is never built from a bad template.
type ConfigError struct {
	Format string // template or file name
	Column string // offending column, if any
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("config %s: column %q: %v", e.Format, e.Column, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Format, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErr(format, column, msg string, args ...any) *ConfigError {
	return &ConfigError{Format: format, Column: column, Err: fmt.Errorf(msg, args...)}
}
