// Package tabular decodes sample files into a header row plus data rows.
//
// Supported extensions are .csv, .tsv, .xlsx and .xls. Cells are returned
// as raw strings; cleaning and type checks belong to the caller.
package tabular

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Extensions lists the accepted file extensions.
var Extensions = []string{".csv", ".tsv", ".xls", ".xlsx"}

// UnsupportedFormatError is returned for files whose extension is not
// one of Extensions.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("file %s is not in an accepted file format (accepted: %s)",
		filepath.Base(e.Path), strings.Join(Extensions, " "))
}

// Row is one data row with its 1-based line (or sheet row) number.
type Row struct {
	Line  int
	Cells []string
}

// Table is a decoded file.
type Table struct {
	Headers []string
	Rows    []Row
}

// Load decodes the file at path, taking the row at headerRow (0-based) as
// the header. Rows above the header are ignored, as are blank rows.
func Load(path string, headerRow int) (*Table, error) {
	if headerRow < 0 {
		return nil, fmt.Errorf("header row %d must not be negative", headerRow)
	}

	var (
		records [][]string
		lines   []int
		err     error
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		records, lines, err = readDelimited(path, ',')
	case ".tsv":
		records, lines, err = readDelimited(path, '\t')
	case ".xlsx":
		records, err = readXLSX(path)
	case ".xls":
		records, err = readXLS(path)
	default:
		return nil, &UnsupportedFormatError{Path: path, Ext: ext}
	}
	if err != nil {
		return nil, err
	}

	return fromRecords(records, lines, headerRow)
}

// fromRecords builds a Table. lines holds the file line of each record;
// when nil, record i is taken to be on line i+1.
func fromRecords(records [][]string, lines []int, headerRow int) (*Table, error) {
	if headerRow >= len(records) {
		return nil, fmt.Errorf("header row %d is beyond the end of the file (%d rows)", headerRow, len(records))
	}

	header := records[headerRow]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if isEmptyRow(header) {
		return nil, fmt.Errorf("header row %d is empty", headerRow)
	}

	t := &Table{Headers: header}
	for i := headerRow + 1; i < len(records); i++ {
		rec := records[i]
		if isEmptyRow(rec) {
			continue
		}
		cells := make([]string, len(header))
		copy(cells, rec)
		line := i + 1
		if lines != nil {
			line = lines[i]
		}
		t.Rows = append(t.Rows, Row{Line: line, Cells: cells})
	}
	return t, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('\uFFFD')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
