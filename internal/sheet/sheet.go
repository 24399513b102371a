// Package sheet reads uploaded spreadsheets (CSV, XLSX, XLS) into a header plus string rows.
package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

var (
	ErrEmptyFile         = errors.New("file has no header row")
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
)

// maxXLSRows bounds legacy workbook reads; a 10 MB .xls holds far fewer rows.
const maxXLSRows = 1 << 20

// Table is a parsed worksheet. Rows exclude the header and may be shorter than the header.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Cell returns the value at row i, column j, or "" when the row is short.
func (t Table) Cell(i, j int) string {
	if i < 0 || i >= len(t.Rows) || j < 0 || j >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][j]
}

// ColumnIndex maps each trimmed header to its position. Duplicate headers keep the first position.
func (t Table) ColumnIndex() map[string]int {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if h == "" {
			continue
		}
		if _, seen := idx[h]; !seen {
			idx[h] = i
		}
	}
	return idx
}

// Format returns the lowercase extension that decides which reader handles the file.
func Format(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Parse reads the first worksheet of name's content.
func Parse(name string, r io.Reader) (Table, error) {
	var (
		records [][]string
		err     error
	)
	switch Format(name) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, err = readXLSX(r)
	case ".xls":
		records, err = readXLS(r)
	default:
		return Table{}, errors.Wrapf(ErrUnsupportedFormat, "file %q", name)
	}
	if err != nil {
		return Table{}, err
	}
	return newTable(records)
}

func newTable(records [][]string) (Table, error) {
	records = trimTrailingBlank(records)
	if len(records) == 0 {
		return Table{}, ErrEmptyFile
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	if allBlank(header) {
		return Table{}, ErrEmptyFile
	}

	return Table{Header: header, Rows: records[1:]}, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open xlsx")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheets[0])
	}
	return rows, nil
}

func readXLS(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read xls")
	}
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, errors.Wrap(err, "open xls")
	}
	return wb.ReadAllCells(maxXLSRows), nil
}

func trimTrailingBlank(records [][]string) [][]string {
	end := len(records)
	for end > 0 && allBlank(records[end-1]) {
		end--
	}
	return records[:end]
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// IsBlankRow reports whether every cell of the row is empty after trimming.
func IsBlankRow(row []string) bool {
	return allBlank(row)
}
