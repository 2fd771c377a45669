// Package sheet loads person records from CSV, XLSX and legacy XLS files.
// The first row holds the column names, which are normalized so lookups
// ignore case and spacing.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/otms-autofill/otms-autofill/internal/textnorm"
)

var (
	// ErrUnsupportedFormat is returned for extensions other than .csv, .xlsx and .xls.
	ErrUnsupportedFormat = errors.New("unsupported file type, use CSV, XLSX or XLS")
	// ErrKeyColumnMissing means the file lacks the column rows are selected by.
	ErrKeyColumnMissing = errors.New("key column missing")
	// ErrRowNotFound means no row carries the requested key.
	ErrRowNotFound = errors.New("no row with that key")
)

// Record is one spreadsheet row keyed by normalized column name. It is never
// mutated after load.
type Record struct {
	values map[string]string
}

// NewRecord builds a Record from raw column names and values.
func NewRecord(values map[string]string) Record {
	r := Record{values: make(map[string]string, len(values))}
	for k, v := range values {
		r.values[textnorm.Column(k)] = v
	}
	return r
}

// Get returns the trimmed value of col and whether the column exists.
func (r Record) Get(col string) (string, bool) {
	v, ok := r.values[textnorm.Column(col)]
	return strings.TrimSpace(v), ok
}

// First returns the first non-blank value among cols.
func (r Record) First(cols ...string) (string, bool) {
	for _, c := range cols {
		if v, ok := r.Get(c); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Table is a loaded sheet.
type Table struct {
	columns []string
	records []Record
}

// Columns returns the normalized column names in file order.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// Records returns the rows in file order.
func (t *Table) Records() []Record { return append([]Record(nil), t.records...) }

// HasColumn reports whether col exists after normalization.
func (t *Table) HasColumn(col string) bool {
	col = textnorm.Column(col)
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

// Find returns the first row whose keyColumn value equals key. Numeric keys
// compare by value, so "12" finds a cell read back as "12.0".
func (t *Table) Find(keyColumn, key string) (Record, error) {
	if !t.HasColumn(keyColumn) {
		return Record{}, fmt.Errorf("the file must contain a %q column: %w", keyColumn, ErrKeyColumnMissing)
	}
	want := canonicalKey(key)
	for _, r := range t.records {
		if v, _ := r.Get(keyColumn); canonicalKey(v) == want {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%s = %s: %w", keyColumn, strings.TrimSpace(key), ErrRowNotFound)
}

// Keys lists the non-blank keyColumn values in file order.
func (t *Table) Keys(keyColumn string) ([]string, error) {
	if !t.HasColumn(keyColumn) {
		return nil, fmt.Errorf("the file must contain a %q column: %w", keyColumn, ErrKeyColumnMissing)
	}
	var keys []string
	for _, r := range t.records {
		if v, _ := r.Get(keyColumn); v != "" {
			keys = append(keys, canonicalKey(v))
		}
	}
	return keys, nil
}

func canonicalKey(s string) string {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// Load reads path. sheet picks a worksheet by name in Excel files and
// defaults to the first one.
func Load(path, sheet string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return Read(bytes.NewReader(data), filepath.Ext(path), sheet)
}

// Read parses data in the format named by ext.
func Read(r io.ReadSeeker, ext, sheet string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(ext) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(r, sheet)
	case ".xls":
		rows, err = readXLS(r, sheet)
	default:
		return nil, fmt.Errorf("%q: %w", ext, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readXLSX(r io.Reader, sheet string) ([][]string, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	name := file.GetSheetName(0)
	if sheet != "" {
		name = ""
		for _, s := range file.GetSheetList() {
			if textnorm.EqualFold(s, sheet) {
				name = s
				break
			}
		}
		if name == "" {
			return nil, fmt.Errorf("worksheet %q not found", sheet)
		}
	}
	if name == "" {
		return nil, fmt.Errorf("no worksheet found")
	}

	rows, err := file.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %q: %w", name, err)
	}
	return rows, nil
}

func readXLS(r io.ReadSeeker, sheet string) ([][]string, error) {
	workbook, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	if workbook.NumSheets() == 0 {
		return nil, fmt.Errorf("no worksheet found")
	}

	var ws *xls.WorkSheet
	for i := 0; i < workbook.NumSheets(); i++ {
		s := workbook.GetSheet(i)
		if s == nil {
			continue
		}
		if sheet == "" || textnorm.EqualFold(s.Name, sheet) {
			ws = s
			break
		}
	}
	if ws == nil {
		return nil, fmt.Errorf("worksheet %q not found", sheet)
	}

	var rows [][]string
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// fromRows takes the first row as the header. Blank headers drop their
// column and a repeated header keeps its first occurrence. Rows with no
// values at all are skipped.
func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("worksheet is empty")
	}

	header := rows[0]
	index := make(map[int]string, len(header))
	seen := make(map[string]struct{}, len(header))
	t := &Table{}
	for i, h := range header {
		col := textnorm.Column(h)
		if col == "" {
			continue
		}
		if _, dup := seen[col]; dup {
			continue
		}
		seen[col] = struct{}{}
		index[i] = col
		t.columns = append(t.columns, col)
	}

	for _, row := range rows[1:] {
		values := make(map[string]string, len(index))
		blank := true
		for i, col := range index {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			values[col] = v
		}
		if blank {
			continue
		}
		t.records = append(t.records, Record{values: values})
	}
	return t, nil
}
