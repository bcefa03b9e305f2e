package schema

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testTemplate = `
Columns:
  id:
    aliases: ["sample id", "igsn"]
    verification:
      kind: unique
  name:
    aliases: ["sample name"]
  parent_id:
    aliases: ["parent igsn"]
  depth:
    aliases: ["depth in core"]
    transformations:
      - transform: unit_measurement
        parameters: [depth, depth unit]
    verification:
      kind: is_numeric
  depth unit:
    transformations:
      - transform: rename
        parameters: [depth_unit]
  elevation (m):
    transformations:
      - transform: unit_measurement_fixed
        parameters: [elevation, m]
  collection date:
    transformations:
      - transform: rename
        parameters: [collection_date]
  collection date precision:
  material:
    verification:
      kind: one_of
      parameters: [Rock, Sediment, Soil]
`

func mustBuild(t *testing.T, raw string) *FormatSpec {
	t.Helper()
	spec, err := Build("test", []byte(raw))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return spec
}

func TestBuild_AliasSets(t *testing.T) {
	spec := mustBuild(t, testTemplate)

	want := []AliasSet{
		{Canonical: "id", Aliases: []string{"id", "sample id", "igsn"}},
		{Canonical: "name", Aliases: []string{"name", "sample name"}},
		{Canonical: "parent_id", Aliases: []string{"parent_id", "parent igsn"}},
		{Canonical: "depth", Aliases: []string{"depth", "depth in core"}},
		{Canonical: "depth_unit", Aliases: []string{"depth_unit", "depth unit"}},
		{Canonical: "elevation", Aliases: []string{"elevation", "elevation (m)"}},
		{Canonical: "collection_date", Aliases: []string{"collection_date", "collection date"}},
		{Canonical: "collection date precision", Aliases: []string{"collection date precision"}},
		{Canonical: "material", Aliases: []string{"material"}},
	}
	if diff := cmp.Diff(want, spec.AliasSets); diff != "" {
		t.Errorf("AliasSets mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_DateColumns(t *testing.T) {
	spec := mustBuild(t, testTemplate)

	want := []string{"collection_date"}
	if diff := cmp.Diff(want, spec.DateColumns); diff != "" {
		t.Errorf("DateColumns mismatch (-want +got):\n%s", diff)
	}
	if !spec.IsDateColumn("collection_date") {
		t.Error("IsDateColumn(collection_date) = false, want true")
	}
	if spec.IsDateColumn("collection date precision") {
		t.Error("IsDateColumn(precision) = true, want false")
	}
}

func TestBuild_Groups(t *testing.T) {
	spec := mustBuild(t, testTemplate)

	want := []Group{
		{Value: "depth", Unit: "depth_unit"},
		{Value: "elevation", Unit: "m", Fixed: true},
	}
	if diff := cmp.Diff(want, spec.Groups); diff != "" {
		t.Errorf("Groups mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Verification(t *testing.T) {
	spec := mustBuild(t, testTemplate)

	want := map[string]VerifierRule{
		"id":       {Kind: VerifyUnique},
		"depth":    {Kind: VerifyNumeric},
		"material": {Kind: VerifyOneOf, Parameters: []string{"Rock", "Sediment", "Soil"}},
	}
	if diff := cmp.Diff(want, spec.Verification); diff != "" {
		t.Errorf("Verification mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_SharedTargetMergesAliases(t *testing.T) {
	spec := mustBuild(t, `
Columns:
  latitude:
    aliases: [lat]
  lat_deg:
    transformations:
      - transform: rename
        parameters: [latitude]
`)
	want := []AliasSet{
		{Canonical: "latitude", Aliases: []string{"latitude", "lat", "lat_deg"}},
	}
	if diff := cmp.Diff(want, spec.AliasSets); diff != "" {
		t.Errorf("AliasSets mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_AliasCollisionFirstWins(t *testing.T) {
	spec := mustBuild(t, `
Columns:
  depth:
    aliases: [d]
  diameter:
    aliases: [d, diam]
`)
	want := []AliasSet{
		{Canonical: "depth", Aliases: []string{"depth", "d"}},
		{Canonical: "diameter", Aliases: []string{"diameter", "diam"}},
	}
	if diff := cmp.Diff(want, spec.AliasSets); diff != "" {
		t.Errorf("AliasSets mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		column string
	}{
		{
			name: "missing Columns",
			raw:  "Other: {}\n",
		},
		{
			name: "Columns not a mapping",
			raw:  "Columns: [a, b]\n",
		},
		{
			name: "unknown transform",
			raw: `
Columns:
  depth:
    transformations:
      - transform: explode
        parameters: [depth]
`,
			column: "depth",
		},
		{
			name: "too few parameters",
			raw: `
Columns:
  depth:
    transformations:
      - transform: unit_measurement
        parameters: [depth]
`,
			column: "depth",
		},
		{
			name: "undeclared unit column",
			raw: `
Columns:
  depth:
    transformations:
      - transform: unit_measurement
        parameters: [depth, depth unit]
`,
			column: "depth",
		},
		{
			name: "unknown verifier",
			raw: `
Columns:
  depth:
    verification:
      kind: is_purple
`,
			column: "depth",
		},
		{
			name: "bad pattern",
			raw: `
Columns:
  igsn:
    verification:
      kind: matches_pattern
      parameters: ["[A-Z"]
`,
			column: "igsn",
		},
		{
			name: "invalid yaml",
			raw:  "Columns: [\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("test", []byte(tt.raw))
			if err == nil {
				t.Fatal("Build() error = nil, want ConfigError")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Build() error = %T, want *ConfigError", err)
			}
			if cfgErr.Column != tt.column {
				t.Errorf("ConfigError.Column = %q, want %q", cfgErr.Column, tt.column)
			}
		})
	}
}

func TestBuild_PreservesColumnOrder(t *testing.T) {
	spec := mustBuild(t, testTemplate)

	var got []string
	for _, c := range spec.Columns {
		got = append(got, c.Name)
	}
	want := []string{
		"id", "name", "parent_id", "depth", "depth unit", "elevation (m)",
		"collection date", "collection date precision", "material",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("column order mismatch (-want +got):\n%s", diff)
	}

	rule, ok := spec.Column("depth unit")
	if !ok {
		t.Fatal("Column(depth unit) not found")
	}
	if rule.Target() != "depth_unit" {
		t.Errorf("Target() = %q, want %q", rule.Target(), "depth_unit")
	}
}
