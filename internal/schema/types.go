// Package schema turns declarative sample-template configuration into
// immutable format specifications.
//
// A format template (SESAR, ENIGMA, ...) lists every column the format
// knows about, the raw header aliases that map onto it, the transformations
// that pair value columns with unit columns, and an optional verification
// rule. [Build] compiles one template into a [FormatSpec]; a [Registry]
// holds the compiled specs for the lifetime of the process and is passed
// explicitly to whoever needs it.
package schema

import "strings"

// TransformKind identifies how a column is reshaped into sample metadata.
type TransformKind string

const (
	// TransformUnitMeasurement pairs a value with the value of another column
	// holding its unit. Parameters: [target, unit_column].
	TransformUnitMeasurement TransformKind = "unit_measurement"

	// TransformUnitMeasurementFixed pairs a value with a literal unit.
	// Parameters: [target, unit].
	TransformUnitMeasurementFixed TransformKind = "unit_measurement_fixed"

	// TransformRename maps the column onto a different metadata key.
	// Parameters: [target].
	TransformRename TransformKind = "rename"
)

func parseTransformKind(s string) (TransformKind, bool) {
	switch k := TransformKind(strings.TrimSpace(s)); k {
	case TransformUnitMeasurement, TransformUnitMeasurementFixed, TransformRename:
		return k, true
	}
	return "", false
}

// minParams is the number of parameters each transform needs.
func (k TransformKind) minParams() int {
	switch k {
	case TransformUnitMeasurement, TransformUnitMeasurementFixed:
		return 2
	default:
		return 1
	}
}

// VerifierKind names a column-level semantic check.
type VerifierKind string

const (
	VerifyString   VerifierKind = "is_string"
	VerifyNumeric  VerifierKind = "is_numeric"
	VerifyInt      VerifierKind = "is_int"
	VerifyBool     VerifierKind = "is_bool"
	VerifyDate     VerifierKind = "is_date"
	VerifyPattern  VerifierKind = "matches_pattern"
	VerifyOneOf    VerifierKind = "one_of"
	VerifyUnique   VerifierKind = "unique"
	VerifyRequired VerifierKind = "required"
	VerifyOntology VerifierKind = "ontology_term"
)

// VerifierKinds lists every kind a template may reference.
var VerifierKinds = []VerifierKind{
	VerifyString, VerifyNumeric, VerifyInt, VerifyBool, VerifyDate,
	VerifyPattern, VerifyOneOf, VerifyUnique, VerifyRequired, VerifyOntology,
}

func parseVerifierKind(s string) (VerifierKind, bool) {
	s = strings.TrimSpace(s)
	for _, k := range VerifierKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Transform is one configured transformation of a column.
type Transform struct {
	Kind       TransformKind
	Parameters []string
}

// Target returns the metadata key the transform writes to.
func (t Transform) Target() string {
	if len(t.Parameters) == 0 {
		return ""
	}
	return t.Parameters[0]
}

// VerifierRule binds a verifier kind to its configured parameters.
type VerifierRule struct {
	Kind       VerifierKind
	Parameters []string
}

// ColumnRule is the configuration of a single template column.
// Only consulted while building a FormatSpec.
type ColumnRule struct {
	Name            string
	Aliases         []string
	Transformations []Transform
	Verification    *VerifierRule
}

// Target is the canonical column this rule's data lands in: the first
// transformation's target when present, otherwise the column's own name.
func (c ColumnRule) Target() string {
	if len(c.Transformations) > 0 {
		if t := c.Transformations[0].Target(); t != "" {
			return t
		}
	}
	return c.Name
}

// AliasSet lists the normalized raw headers that map to one canonical column.
type AliasSet struct {
	Canonical string
	Aliases   []string // see NormalizeHeader
}

// Contains reports whether the normalized header belongs to the set.
func (a AliasSet) Contains(header string) bool {
	for _, alias := range a.Aliases {
		if alias == header {
			return true
		}
	}
	return false
}

// Group pairs a value column with its unit. When Fixed is true Unit is a
// literal unit string, otherwise it names the canonical column holding the unit.
type Group struct {
	Value string
	Unit  string
	Fixed bool
}

// FormatSpec is the compiled, read-only description of one file dialect.
type FormatSpec struct {
	Name         string
	Columns      []ColumnRule
	AliasSets    []AliasSet
	DateColumns  []string
	Groups       []Group
	Verification map[string]VerifierRule

	columns map[string]int
}

// Column returns the rule for a template column by its configured name.
func (f *FormatSpec) Column(name string) (ColumnRule, bool) {
	i, ok := f.columns[name]
	if !ok {
		return ColumnRule{}, false
	}
	return f.Columns[i], true
}

// IsDateColumn reports whether the canonical column holds dates.
func (f *FormatSpec) IsDateColumn(canonical string) bool {
	for _, c := range f.DateColumns {
		if c == canonical {
			return true
		}
	}
	return false
}
