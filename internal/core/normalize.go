package core

import (
	"strings"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
	"github.com/JonMunkholm/sampleuploader/internal/tabular"
)

// Normalize maps every raw header to its canonical column under spec.
//
// A header is lower-cased with its whitespace collapsed, then matched
// against the format's alias sets in order; the first set containing it
// wins. When nothing matches, the underscore-joined form
// ("Sample Name" -> "sample_name") is tried. A header whose underscore form
// is a reserved column ("Writer", "Kbase Sample ID") maps to that column even
// when the format does not declare it. Headers that still match nothing map
// to themselves.
func Normalize(headers []string, spec *schema.FormatSpec) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h] = canonicalHeader(h, spec)
	}
	return out
}

func canonicalHeader(header string, spec *schema.FormatSpec) string {
	if c, ok := lookupAlias(schema.NormalizeHeader(header), spec); ok {
		return c
	}
	key := uploadKey(header)
	if c, ok := lookupAlias(key, spec); ok {
		return c
	}
	if IsReserved(key) {
		return key
	}
	return header
}

func lookupAlias(key string, spec *schema.FormatSpec) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, set := range spec.AliasSets {
		if set.Contains(key) {
			return set.Canonical, true
		}
	}
	return "", false
}

// uploadKey lower-cases a header and joins its words with underscores.
func uploadKey(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

// NormalizeTable renames the table's columns to canonical names and returns
// one Row per data row plus the canonical columns in header order.
//
// Cells are cleaned, empty cells are dropped, and cells of date columns are
// rewritten as YYYY-MM-DD when they parse. When two headers map to the same
// column, the leftmost non-empty cell wins.
func NormalizeTable(t *tabular.Table, spec *schema.FormatSpec) ([]Row, []string) {
	canon := make([]string, len(t.Headers))
	var columns []string
	seen := make(map[string]bool)

	for i, h := range t.Headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		c := canonicalHeader(h, spec)
		canon[i] = c
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}

	rows := make([]Row, 0, len(t.Rows))
	for _, tr := range t.Rows {
		row := Row{Line: tr.Line, Values: make(map[string]string, len(canon))}
		for i, cell := range tr.Cells {
			if i >= len(canon) || canon[i] == "" {
				continue
			}
			col := canon[i]
			if _, taken := row.Values[col]; taken {
				continue
			}
			v := CleanCell(cell)
			if v == "" {
				continue
			}
			if spec.IsDateColumn(col) {
				v, _ = NormalizeDate(v)
			}
			row.Values[col] = v
		}
		rows = append(rows, row)
	}

	return rows, columns
}
