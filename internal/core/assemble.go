package core

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
)

// DefaultUnitPattern splits "12.5 cm" into value 12.5 and unit cm. The unit
// must start with a letter or a unit symbol, so dates and identifiers with
// leading letters stay scalar.
const DefaultUnitPattern = `^\s*(?P<value>[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*(?P<unit>[A-Za-z%°µ][A-Za-z0-9%°µ/^*.\-]*)\s*$`

// Metadata is a row split into schema-controlled and free-form entries.
type Metadata struct {
	Controlled map[string]MetaValue
	User       map[string]MetaValue
}

// Assemble splits a normalized row into controlled and user metadata.
//
// For each group of spec whose value column is present, the controlled
// entry pairs the value with its unit: the literal unit for fixed groups,
// otherwise the value of the unit column. Both columns of an emitted group
// are consumed. Every other non-reserved column becomes user metadata,
// split into value and unit when unitRegex matches. A nil unitRegex keeps
// user values scalar.
func Assemble(row Row, spec *schema.FormatSpec, unitRegex *regexp.Regexp) Metadata {
	md := Metadata{
		Controlled: make(map[string]MetaValue),
		User:       make(map[string]MetaValue),
	}
	consumed := make(map[string]bool)

	for _, g := range spec.Groups {
		v, ok := row.Values[g.Value]
		if !ok || IsReserved(g.Value) {
			continue
		}
		mv := MetaValue{Value: v}
		if g.Fixed {
			mv.Unit = g.Unit
		} else {
			mv.Unit = row.Values[g.Unit]
			consumed[g.Unit] = true
		}
		md.Controlled[g.Value] = mv
		consumed[g.Value] = true
	}

	for col, v := range row.Values {
		if consumed[col] || IsReserved(col) {
			continue
		}
		md.User[col] = splitUnit(v, unitRegex)
	}

	return md
}

// splitUnit applies the unit regex to a user value. Named groups "value"
// and "unit" are used when present, otherwise groups 1 and 2.
func splitUnit(v string, re *regexp.Regexp) MetaValue {
	if re == nil {
		return MetaValue{Value: v}
	}
	m := re.FindStringSubmatch(v)
	if m == nil {
		return MetaValue{Value: v}
	}

	vi, ui := re.SubexpIndex("value"), re.SubexpIndex("unit")
	if vi < 0 || ui < 0 {
		if len(m) < 3 {
			return MetaValue{Value: v}
		}
		vi, ui = 1, 2
	}

	value, unit := strings.TrimSpace(m[vi]), strings.TrimSpace(m[ui])
	if value == "" || unit == "" {
		return MetaValue{Value: v}
	}
	return MetaValue{Value: value, Unit: unit}
}

// Assembler turns normalized rows into candidate sample records.
type Assembler struct {
	Spec      *schema.FormatSpec
	UnitRegex *regexp.Regexp
}

// Record builds the candidate record for row. The row must carry an id;
// name defaults to it.
func (a Assembler) Record(row Row) (*SampleRecord, error) {
	id := row.Get(ColID)
	if id == "" {
		return nil, &RowError{Line: row.Line, Err: ErrMissingID}
	}
	name := row.Get(ColName)
	if name == "" {
		name = id
	}

	md := Assemble(row, a.Spec, a.UnitRegex)
	return &SampleRecord{
		Name: name,
		NodeTree: []Node{{
			ID:             id,
			Type:           NodeBioReplicate,
			MetaControlled: md.Controlled,
			MetaUser:       md.User,
		}},
	}, nil
}

// RowACL reads the reader, writer and admin columns of row.
func RowACL(row Row) ACL {
	return ACL{
		Admin:  splitPrincipals(row.Get(ColAdmin)),
		Writer: splitPrincipals(row.Get(ColWriter)),
		Reader: splitPrincipals(row.Get(ColReader)),
	}
}
