package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// template is the on-disk shape of a format template. Columns is kept as a
// raw node so column order survives decoding.
type template struct {
	Columns yaml.Node `yaml:"Columns"`
}

type rawColumn struct {
	Aliases         []string       `yaml:"aliases"`
	Transformations []rawTransform `yaml:"transformations"`
	Verification    *rawVerifier   `yaml:"verification"`
}

type rawTransform struct {
	Transform  string   `yaml:"transform"`
	Parameters []string `yaml:"parameters"`
}

type rawVerifier struct {
	Kind       string   `yaml:"kind"`
	Parameters []string `yaml:"parameters"`
}

// Build compiles a YAML format template into a FormatSpec.
//
// The template must carry a top-level Columns mapping. Any structural problem
// (unknown transform, missing unit column, unknown verifier kind, bad
// pattern) yields a *ConfigError.
func Build(name string, raw []byte) (*FormatSpec, error) {
	var tpl template
	if err := yaml.Unmarshal(raw, &tpl); err != nil {
		return nil, &ConfigError{Format: name, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	if tpl.Columns.Kind == 0 {
		return nil, configErr(name, "", "missing Columns section")
	}
	if tpl.Columns.Kind != yaml.MappingNode {
		return nil, configErr(name, "", "Columns must be a mapping")
	}

	spec := &FormatSpec{
		Name:         name,
		Verification: make(map[string]VerifierRule),
		columns:      make(map[string]int),
	}

	nodes := tpl.Columns.Content
	for i := 0; i+1 < len(nodes); i += 2 {
		col := strings.TrimSpace(nodes[i].Value)
		if col == "" {
			return nil, configErr(name, "", "column %d has an empty name", i/2)
		}
		if _, dup := spec.columns[col]; dup {
			return nil, configErr(name, col, "declared twice")
		}

		var rc rawColumn
		// A column with no body ("foo:") decodes as a null node.
		if nodes[i+1].Tag != "!!null" {
			if err := nodes[i+1].Decode(&rc); err != nil {
				return nil, &ConfigError{Format: name, Column: col, Err: err}
			}
		}

		rule, err := compileColumn(name, col, rc)
		if err != nil {
			return nil, err
		}
		spec.columns[col] = len(spec.Columns)
		spec.Columns = append(spec.Columns, rule)
	}

	if len(spec.Columns) == 0 {
		return nil, configErr(name, "", "Columns is empty")
	}

	spec.AliasSets = buildAliasSets(name, spec.Columns)
	spec.DateColumns = findDateColumns(spec.Columns)

	groups, err := buildGroups(spec)
	if err != nil {
		return nil, err
	}
	spec.Groups = groups

	for _, c := range spec.Columns {
		if c.Verification != nil {
			spec.Verification[c.Target()] = *c.Verification
		}
	}

	return spec, nil
}

func compileColumn(format, col string, rc rawColumn) (ColumnRule, error) {
	rule := ColumnRule{Name: col, Aliases: rc.Aliases}

	for _, rt := range rc.Transformations {
		kind, ok := parseTransformKind(rt.Transform)
		if !ok {
			return rule, configErr(format, col, "unknown transform %q", rt.Transform)
		}
		params := rt.Parameters
		// rename with no parameters keeps the column's own name.
		if len(params) == 0 && kind == TransformRename {
			params = []string{col}
		}
		if len(params) < kind.minParams() {
			return rule, configErr(format, col, "transform %s needs %d parameters, got %d",
				kind, kind.minParams(), len(params))
		}
		if strings.TrimSpace(params[0]) == "" {
			return rule, configErr(format, col, "transform %s has an empty target", kind)
		}
		rule.Transformations = append(rule.Transformations, Transform{Kind: kind, Parameters: params})
	}

	if rc.Verification != nil {
		kind, ok := parseVerifierKind(rc.Verification.Kind)
		if !ok {
			return rule, configErr(format, col, "unknown verifier %q", rc.Verification.Kind)
		}
		if err := checkVerifierParams(kind, rc.Verification.Parameters); err != nil {
			return rule, &ConfigError{Format: format, Column: col, Err: err}
		}
		rule.Verification = &VerifierRule{Kind: kind, Parameters: rc.Verification.Parameters}
	}

	return rule, nil
}

func checkVerifierParams(kind VerifierKind, params []string) error {
	switch kind {
	case VerifyPattern:
		if len(params) == 0 {
			return errors.New("matches_pattern needs a pattern parameter")
		}
		if _, err := regexp.Compile(params[0]); err != nil {
			return fmt.Errorf("matches_pattern: %w", err)
		}
	case VerifyOneOf:
		if len(params) == 0 {
			return errors.New("one_of needs at least one allowed value")
		}
	case VerifyOntology:
		if len(params) == 0 {
			return errors.New("ontology_term needs an ontology name")
		}
	}
	return nil
}

// NormalizeHeader lower-cases a header and collapses its whitespace for
// alias lookup.
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

// buildAliasSets collects, per canonical target, the column's own name, its
// configured aliases and the target itself. Columns sharing a target merge
// into one set. A header already claimed by an earlier set stays with that
// set.
func buildAliasSets(format string, columns []ColumnRule) []AliasSet {
	var sets []AliasSet
	index := make(map[string]int)      // canonical -> position in sets
	claimed := make(map[string]string) // alias -> canonical

	for _, c := range columns {
		target := c.Target()
		pos, ok := index[target]
		if !ok {
			pos = len(sets)
			index[target] = pos
			sets = append(sets, AliasSet{Canonical: target})
		}

		candidates := make([]string, 0, len(c.Aliases)+2)
		candidates = append(candidates, target, c.Name)
		candidates = append(candidates, c.Aliases...)

		for _, a := range candidates {
			a = NormalizeHeader(a)
			if a == "" {
				continue
			}
			if owner, taken := claimed[a]; taken {
				if owner != target {
					slog.Warn("alias collision",
						"format", format,
						"alias", a,
						"kept", owner,
						"dropped", target,
					)
				}
				continue
			}
			claimed[a] = target
			sets[pos].Aliases = append(sets[pos].Aliases, a)
		}
	}
	return sets
}

// findDateColumns returns the targets of columns whose name mentions a date
// but not a date precision.
func findDateColumns(columns []ColumnRule) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range columns {
		lower := strings.ToLower(c.Name)
		if !strings.Contains(lower, "date") || strings.Contains(lower, "precision") {
			continue
		}
		t := c.Target()
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// buildGroups pairs value columns with their units from each column's first
// transformation. A later group for the same value replaces the earlier one.
func buildGroups(spec *FormatSpec) ([]Group, error) {
	var groups []Group
	index := make(map[string]int)

	for _, c := range spec.Columns {
		if len(c.Transformations) == 0 {
			continue
		}
		tr := c.Transformations[0]

		var g Group
		switch tr.Kind {
		case TransformUnitMeasurement:
			unitCol, ok := spec.Column(tr.Parameters[1])
			if !ok {
				return nil, configErr(spec.Name, c.Name, "unit column %q is not declared", tr.Parameters[1])
			}
			g = Group{Value: tr.Parameters[0], Unit: unitCol.Target()}
		case TransformUnitMeasurementFixed:
			g = Group{Value: tr.Parameters[0], Unit: tr.Parameters[1], Fixed: true}
		default:
			continue
		}

		if i, ok := index[g.Value]; ok {
			groups[i] = g
			continue
		}
		index[g.Value] = len(groups)
		groups = append(groups, g)
	}
	return groups, nil
}
