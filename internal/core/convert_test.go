package core

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple string unchanged",
			input: "hello",
			want:  "hello",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "surrounded by whitespace",
			input: "  hello  ",
			want:  "hello",
		},
		{
			name:  "Excel formula with quotes",
			input: `="IEAWH0001"`,
			want:  "IEAWH0001",
		},
		{
			name:  "bare equals sign",
			input: "=SUM(A1)",
			want:  "SUM(A1)",
		},
		{
			name:  "double quotes removed",
			input: `"Rock"`,
			want:  "Rock",
		},
		{
			name:  "leading single quote (Excel text prefix)",
			input: "'00123",
			want:  "00123",
		},
		{
			name:  "whitespace inside quotes",
			input: `" Rock "`,
			want:  "Rock",
		},
		{
			name:  "only quotes",
			input: `""`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// Date Tests
// ----------------------------------------------------------------------------

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"ISO", "2019-08-14", "2019-08-14", true},
		{"ISO with slashes", "2019/08/14", "2019-08-14", true},
		{"US", "8/14/2019", "2019-08-14", true},
		{"US padded", "08/14/2019", "2019-08-14", true},
		{"month name", "Aug 14, 2019", "2019-08-14", true},
		{"day month name", "14 Aug 2019", "2019-08-14", true},
		{"compact", "20190814", "2019-08-14", true},
		{"timestamp", "2019-08-14 10:30:00", "2019-08-14", true},
		{"two digit year", "8/14/19", "2019-08-14", true},
		{"whitespace", "  2019-08-14 ", "2019-08-14", true},
		{"garbage", "last tuesday", "last tuesday", false},
		{"empty", "", "", false},
		{"invalid day", "2019-02-30", "2019-02-30", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeDate(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeDate(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseDate_TwoDigitYearPivot(t *testing.T) {
	pivot := time.Now().Year() + TwoDigitYearPivot

	// A two-digit year that lands after the pivot rolls back a century.
	yy := (pivot + 1) % 100
	input := time.Date(2000+yy, 1, 2, 0, 0, 0, 0, time.UTC).Format("1/2/06")

	got, ok := ParseDate(input)
	if !ok {
		t.Fatalf("ParseDate(%q) ok = false", input)
	}
	if got.Year() > pivot {
		t.Errorf("ParseDate(%q) year = %d, want <= %d", input, got.Year(), pivot)
	}
}

// ----------------------------------------------------------------------------
// Number / Bool Tests
// ----------------------------------------------------------------------------

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input  string
		want   float64
		wantOK bool
	}{
		{"12", 12, true},
		{"-3.5", -3.5, true},
		{"+.5", 0.5, true},
		{"1,234.5", 1234.5, true},
		{"1e3", 1000, true},
		{" 7 ", 7, true},
		{"12 m", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseNumber(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		input  string
		want   int64
		wantOK bool
	}{
		{"12", 12, true},
		{"-4", -4, true},
		{"12.0", 12, true},
		{"1,000", 1000, true},
		{"12.5", 0, false},
		{"x", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseInt(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseInt(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input  string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"YES", true, true},
		{"y", true, true},
		{"1", true, true},
		{"false", false, true},
		{"No", false, true},
		{"0", false, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseBool(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSplitPrincipals(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"alice", []string{"alice"}},
		{"alice,bob", []string{"alice", "bob"}},
		{"alice; bob  carol", []string{"alice", "bob", "carol"}},
		{" , ", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := splitPrincipals(tt.input)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("splitPrincipals(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}
