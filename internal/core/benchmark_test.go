package core

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/JonMunkholm/sampleuploader/internal/schema"
	"github.com/JonMunkholm/sampleuploader/internal/tabular"
)

// ============================================================================
// Conversion Function Benchmarks
// ============================================================================

// BenchmarkNormalizeDate benchmarks date normalization.
// This is a hot path for every cell of a format's date columns.
func BenchmarkNormalizeDate(b *testing.B) {
	testCases := []string{
		"2024-01-15",   // ISO format
		"01/15/2024",   // US format
		"15.01.2024",   // EU format
		"Jan 15, 2024", // Text month
		"1/5/24",       // 2-digit year
		"sometime",     // Unparsable
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			NormalizeDate(tc)
		}
	}
}

// BenchmarkParseNumber benchmarks numeric checks used by is_numeric.
func BenchmarkParseNumber(b *testing.B) {
	testCases := []string{"123", "-456.78", "1.5e3", "  999.99  ", "12 m"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			ParseNumber(tc)
		}
	}
}

// BenchmarkCleanCell benchmarks cell cleaning.
func BenchmarkCleanCell(b *testing.B) {
	testCases := []string{
		"normal value",
		`="formula"`,     // Excel formula prefix
		`"quoted"`,       // Quoted
		"  whitespace  ", // Whitespace
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, tc := range testCases {
			CleanCell(tc)
		}
	}
}

// ============================================================================
// Pipeline Benchmarks
// ============================================================================

// benchTable builds a decoded table with rows data rows.
func benchTable(rows int) *tabular.Table {
	t := &tabular.Table{
		Headers: []string{"Sample ID", "Sample Name", "Depth", "Depth Units", "Material", "Collection Date", "Notes"},
	}
	for i := 0; i < rows; i++ {
		t.Rows = append(t.Rows, tabular.Row{
			Line: i + 2,
			Cells: []string{
				fmt.Sprintf("S%d", i), fmt.Sprintf("core-%d", i), "3.5", "m",
				"Rock", "01/15/2024", "12.5 cm",
			},
		})
	}
	return t
}

// BenchmarkNormalize benchmarks header resolution. Called once per file.
func BenchmarkNormalize(b *testing.B) {
	spec := testSpec(b)
	headers := benchTable(0).Headers

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Normalize(headers, spec)
	}
}

// BenchmarkNormalizeTable benchmarks row normalization over a full file.
func BenchmarkNormalizeTable(b *testing.B) {
	spec := testSpec(b)
	for _, n := range []int{100, 10000} {
		table := benchTable(n)
		b.Run(fmt.Sprintf("rows=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				NormalizeTable(table, spec)
			}
		})
	}
}

// BenchmarkAssemble benchmarks metadata assembly for one row.
func BenchmarkAssemble(b *testing.B) {
	spec := testSpec(b)
	re := regexp.MustCompile(DefaultUnitPattern)
	rows, _ := NormalizeTable(benchTable(1), spec)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Assemble(rows[0], spec, re)
	}
}

// BenchmarkVerify benchmarks column verification over a full file.
func BenchmarkVerify(b *testing.B) {
	spec := testSpec(b)
	rows, cols := NormalizeTable(benchTable(1000), spec)
	reg := NewVerifierRegistry(schema.Ontologies{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := reg.Verify(rows, cols, spec.Verification); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReconcile_Unchanged benchmarks a re-upload where every row
// matches an existing sample.
func BenchmarkReconcile_Unchanged(b *testing.B) {
	ctx := context.Background()
	spec := testSpec(b)
	asm := Assembler{Spec: spec}
	rows, _ := NormalizeTable(benchTable(500), spec)

	svc := newFakeService()
	first, err := Reconcile(ctx, rows, nil, svc, asm)
	if err != nil {
		b.Fatal(err)
	}
	existing := make([]SampleRecord, 0, len(first.Saved))
	for _, ref := range first.Saved {
		rec, err := svc.GetSample(ctx, ref.ID, ref.Version)
		if err != nil {
			b.Fatal(err)
		}
		existing = append(existing, *rec)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := Reconcile(ctx, rows, existing, svc, asm)
		if err != nil {
			b.Fatal(err)
		}
		if res.Unchanged != len(rows) {
			b.Fatalf("Unchanged = %d, want %d", res.Unchanged, len(rows))
		}
	}
}

// ============================================================================
// Parallel Benchmarks
// ============================================================================

// BenchmarkNormalizeDateParallel benchmarks parallel date normalization.
func BenchmarkNormalizeDateParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			NormalizeDate("01/15/2024")
		}
	})
}

// BenchmarkAssembleParallel benchmarks concurrent batches sharing one spec.
func BenchmarkAssembleParallel(b *testing.B) {
	spec := testSpec(b)
	re := regexp.MustCompile(DefaultUnitPattern)
	rows, _ := NormalizeTable(benchTable(1), spec)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Assemble(rows[0], spec, re)
		}
	})
}
