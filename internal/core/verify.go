package core

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
)

// Verifier checks a whole column at once so cross-row rules such as
// uniqueness can be expressed. values holds one entry per row, "" for
// empty cells.
type Verifier interface {
	Verify(values []string, params []string) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(values []string, params []string) error

// Verify calls f(values, params).
func (f VerifierFunc) Verify(values []string, params []string) error {
	return f(values, params)
}

// CellError locates a verifier failure at one cell of the column.
type CellError struct {
	Index int // position in the values slice
	Value string
	Err   error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Value)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

func cellErr(i int, v string, err error) *CellError {
	return &CellError{Index: i, Value: v, Err: err}
}

// VerifierRegistry resolves verifier kinds to implementations.
// Safe for concurrent use.
type VerifierRegistry struct {
	mu        sync.RWMutex
	verifiers map[schema.VerifierKind]Verifier
}

// NewVerifierRegistry returns a registry holding the built-in verifiers.
// ontologies backs the ontology_term verifier and may be nil.
func NewVerifierRegistry(ontologies schema.Ontologies) *VerifierRegistry {
	r := &VerifierRegistry{verifiers: make(map[schema.VerifierKind]Verifier)}

	r.Register(schema.VerifyString, VerifierFunc(verifyString))
	r.Register(schema.VerifyNumeric, eachValue(ErrInvalidNumber, func(v string) bool {
		_, ok := ParseNumber(v)
		return ok
	}))
	r.Register(schema.VerifyInt, eachValue(ErrInvalidInteger, func(v string) bool {
		_, ok := ParseInt(v)
		return ok
	}))
	r.Register(schema.VerifyBool, eachValue(ErrInvalidBool, func(v string) bool {
		_, ok := ParseBool(v)
		return ok
	}))
	r.Register(schema.VerifyDate, eachValue(ErrInvalidDate, func(v string) bool {
		_, ok := ParseDate(v)
		return ok
	}))
	r.Register(schema.VerifyPattern, VerifierFunc(verifyPattern))
	r.Register(schema.VerifyOneOf, VerifierFunc(verifyOneOf))
	r.Register(schema.VerifyUnique, VerifierFunc(verifyUnique))
	r.Register(schema.VerifyRequired, VerifierFunc(verifyRequired))
	r.Register(schema.VerifyOntology, ontologyVerifier(ontologies))

	return r
}

// Register installs or replaces the verifier for kind.
func (r *VerifierRegistry) Register(kind schema.VerifierKind, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[kind] = v
}

func (r *VerifierRegistry) lookup(kind schema.VerifierKind) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[kind]
	return v, ok
}

// Verify runs the rule of every column present in both columns and rules.
// Columns without a rule are not checked. Every failing column contributes
// one *ValidationError; the failures are joined with errors.Join.
func (r *VerifierRegistry) Verify(rows []Row, columns []string, rules map[string]schema.VerifierRule) error {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)

	var errs []error
	for _, col := range cols {
		rule, ok := rules[col]
		if !ok {
			continue
		}
		v, ok := r.lookup(rule.Kind)
		if !ok {
			errs = append(errs, &ValidationError{
				Column: col,
				Err:    fmt.Errorf("no verifier registered for %q", rule.Kind),
			})
			continue
		}

		values := make([]string, len(rows))
		for i, row := range rows {
			values[i] = row.Get(col)
		}

		if err := v.Verify(values, rule.Parameters); err != nil {
			ve := &ValidationError{Column: col, Err: err}
			var ce *CellError
			if errors.As(err, &ce) && ce.Index >= 0 && ce.Index < len(rows) {
				ve.Line = rows[ce.Index].Line
				ve.Value = ce.Value
				ve.Err = ce.Err
			}
			errs = append(errs, ve)
		}
	}
	return errors.Join(errs...)
}

// eachValue builds a verifier that checks every non-empty value with ok.
func eachValue(cause error, ok func(string) bool) Verifier {
	return VerifierFunc(func(values []string, _ []string) error {
		for i, v := range values {
			if v != "" && !ok(v) {
				return cellErr(i, v, cause)
			}
		}
		return nil
	})
}

func verifyString([]string, []string) error {
	return nil
}

func verifyPattern(values []string, params []string) error {
	if len(params) == 0 {
		return errors.New("matches_pattern: no pattern configured")
	}
	re, err := regexp.Compile(params[0])
	if err != nil {
		return fmt.Errorf("matches_pattern: %w", err)
	}
	for i, v := range values {
		if v != "" && !re.MatchString(v) {
			return cellErr(i, v, fmt.Errorf("%w %s", ErrPatternMismatch, params[0]))
		}
	}
	return nil
}

func verifyOneOf(values []string, params []string) error {
	for i, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, p := range params {
			if strings.EqualFold(v, p) {
				found = true
				break
			}
		}
		if !found {
			return cellErr(i, v, fmt.Errorf("%w (allowed: %s)", ErrNotAllowed, strings.Join(params, ", ")))
		}
	}
	return nil
}

func verifyUnique(values []string, _ []string) error {
	seen := make(map[string]bool, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		if seen[v] {
			return cellErr(i, v, ErrDuplicate)
		}
		seen[v] = true
	}
	return nil
}

func verifyRequired(values []string, _ []string) error {
	for i, v := range values {
		if v == "" {
			return cellErr(i, v, ErrRequired)
		}
	}
	return nil
}

func ontologyVerifier(onto schema.Ontologies) Verifier {
	return VerifierFunc(func(values []string, params []string) error {
		if len(params) == 0 {
			return errors.New("ontology_term: no ontology configured")
		}
		name := params[0]
		if _, known := onto.Has(name, ""); !known {
			return fmt.Errorf("%w %q", ErrUnknownOntology, name)
		}
		for i, v := range values {
			if v == "" {
				continue
			}
			if found, _ := onto.Has(name, v); !found {
				return cellErr(i, v, fmt.Errorf("%w: not a term of %s", ErrNotAllowed, name))
			}
		}
		return nil
	})
}
