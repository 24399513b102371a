package importer

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/sheet"
)

// Record is a normalised row: target field -> nil, string, float64, bool or time.Time.
type Record map[string]interface{}

func (r Record) str(field string) string {
	if s, ok := r[field].(string); ok {
		return s
	}
	return ""
}

func (r Record) optStr(field string) *string {
	if s, ok := r[field].(string); ok && s != "" {
		return &s
	}
	return nil
}

func (r Record) optNum(field string) *float64 {
	if n, ok := r[field].(float64); ok {
		return &n
	}
	return nil
}

func (r Record) optBool(field string) *bool {
	if b, ok := r[field].(bool); ok {
		return &b
	}
	return nil
}

func (r Record) optTime(field string) *time.Time {
	if t, ok := r[field].(time.Time); ok {
		return &t
	}
	return nil
}

// Row is the typed form of one spreadsheet row, either a CourseModuleRow or a UserEnrollmentRow.
type Row interface {
	RowNumber() int
}

type CourseModuleRow struct {
	Number          int
	ExternalID      string
	Title           string
	Description     *string
	Category        *string
	DurationMinutes *float64
	IsPublished     *bool
	Module          *ModuleFields
}

// ModuleFields is set only on rows carrying a module_external_id.
type ModuleFields struct {
	ExternalID       string
	CourseExternalID string
	Title            string
	Type             string
	Position         *float64
	DurationMinutes  *float64
	ContentURL       *string
}

func (r CourseModuleRow) RowNumber() int { return r.Number }

type UserEnrollmentRow struct {
	Number           int
	Email            string
	FirstName        *string
	LastName         *string
	FullName         *string
	CourseExternalID string
	Role             string
	DueDate          *time.Time
}

func (r UserEnrollmentRow) RowNumber() int { return r.Number }

// mappedRow is one data row after the mapping has been applied.
type mappedRow struct {
	Number   int
	Record   Record
	Raw      map[string]string
	Problems []models.ImportRowError
}

// firstDataRow is the spreadsheet row number of Table.Rows[0]; row 1 is the header.
const firstDataRow = 2

// applyMapping copies only mapped columns into a Record, trimming, nulling blanks and coercing by field type.
// Fully blank rows are dropped; row numbers still follow the spreadsheet.
func applyMapping(kind models.ImportKind, table sheet.Table, mapping []models.MappingEntry) []mappedRow {
	columns := table.ColumnIndex()
	out := make([]mappedRow, 0, len(table.Rows))

	for i, cells := range table.Rows {
		if sheet.IsBlankRow(cells) {
			continue
		}
		row := mappedRow{
			Number: i + firstDataRow,
			Record: make(Record, len(mapping)),
			Raw:    rawRow(table.Header, cells),
		}
		for _, entry := range mapping {
			field, _ := lookupField(kind, entry.TargetField)
			col, ok := columns[entry.SourceColumn]
			var cell string
			if ok {
				cell = strings.TrimSpace(table.Cell(i, col))
			}
			value, problem := coerce(field, cell)
			if problem != "" {
				row.Problems = append(row.Problems, rowError(row, problem, fmt.Sprintf("%s: %q is not a valid %s", entry.SourceColumn, cell, field.Type)))
			}
			row.Record[entry.TargetField] = value
		}
		out = append(out, row)
	}
	return out
}

func rawRow(header, cells []string) map[string]string {
	raw := make(map[string]string, len(header))
	for j, h := range header {
		if h == "" {
			continue
		}
		if j < len(cells) {
			raw[h] = cells[j]
		} else {
			raw[h] = ""
		}
	}
	return raw
}

// groupedNumber matches thousands-separated numbers such as 1,250 or 12,000.5.
var groupedNumber = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)

// coerce converts a trimmed cell by the target field's type. The second result is an error code, or "".
func coerce(field Field, cell string) (interface{}, string) {
	if cell == "" {
		return nil, ""
	}
	switch field.Type {
	case TypeNumber:
		if strings.Contains(cell, ",") {
			if !groupedNumber.MatchString(cell) {
				return nil, "invalid_number"
			}
			cell = strings.ReplaceAll(cell, ",", "")
		}
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, "invalid_number"
		}
		return n, ""
	case TypeBool:
		switch strings.ToLower(cell) {
		case "true":
			return true, ""
		case "false":
			return false, ""
		}
		return nil, "invalid_boolean"
	case TypeDate:
		t, ok := parseDate(cell)
		if !ok {
			return nil, "invalid_" + field.Name
		}
		return t, ""
	}
	return cell, ""
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006", "01/02/2006", "2/1/2006", "01-02-06"}

func parseDate(val string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, val); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func rowError(row mappedRow, code, message string) models.ImportRowError {
	return models.ImportRowError{
		RowNumber: row.Number,
		Code:      code,
		Message:   message,
		Raw:       row.Raw,
	}
}

// buildRow turns a normalised record into the typed row of the job kind.
func buildRow(kind models.ImportKind, row mappedRow) Row {
	rec := row.Record
	switch kind {
	case models.KindCoursesModules:
		out := CourseModuleRow{
			Number:          row.Number,
			ExternalID:      rec.str(FieldExternalID),
			Title:           rec.str(FieldTitle),
			Description:     rec.optStr(FieldDescription),
			Category:        rec.optStr(FieldCategory),
			DurationMinutes: rec.optNum(FieldDurationMinutes),
			IsPublished:     rec.optBool(FieldIsPublished),
		}
		if moduleID := rec.str(FieldModuleExternalID); moduleID != "" {
			out.Module = &ModuleFields{
				ExternalID:       moduleID,
				CourseExternalID: rec.str(FieldModuleCourseExternalID),
				Title:            rec.str(FieldModuleTitle),
				Type:             strings.ToLower(rec.str(FieldModuleType)),
				Position:         rec.optNum(FieldModulePosition),
				DurationMinutes:  rec.optNum(FieldModuleDurationMinutes),
				ContentURL:       rec.optStr(FieldModuleContentURL),
			}
		}
		return out
	case models.KindUsersEnrollments:
		return UserEnrollmentRow{
			Number:           row.Number,
			Email:            strings.ToLower(rec.str(FieldEmail)),
			FirstName:        rec.optStr(FieldFirstName),
			LastName:         rec.optStr(FieldLastName),
			FullName:         rec.optStr(FieldFullName),
			CourseExternalID: rec.str(FieldCourseExternalID),
			Role:             strings.ToLower(rec.str(FieldRole)),
			DueDate:          rec.optTime(FieldDueDate),
		}
	}
	return nil
}

// checkMapping validates the mapping against the kind's catalog and, when given, the file header.
func checkMapping(kind models.ImportKind, mapping []models.MappingEntry, header []string) error {
	var problems []string
	if len(mapping) == 0 {
		problems = append(problems, "at least one column must be mapped")
	}

	var columns map[string]int
	if header != nil {
		columns = sheet.Table{Header: header}.ColumnIndex()
	}

	seen := make(map[string]string, len(mapping))
	for _, entry := range mapping {
		if _, ok := lookupField(kind, entry.TargetField); !ok {
			problems = append(problems, fmt.Sprintf("unknown target field %q for %s", entry.TargetField, kind))
			continue
		}
		if prev, dup := seen[entry.TargetField]; dup {
			problems = append(problems, fmt.Sprintf("target field %q is mapped from both %q and %q", entry.TargetField, prev, entry.SourceColumn))
			continue
		}
		seen[entry.TargetField] = entry.SourceColumn
		if columns != nil {
			if _, ok := columns[entry.SourceColumn]; !ok {
				problems = append(problems, fmt.Sprintf("column %q not found in file", entry.SourceColumn))
			}
		}
	}

	if len(problems) > 0 {
		return &MappingError{Problems: problems}
	}
	return nil
}

// normalizeMapping trims names and orders entries by the kind's catalog so equal mappings compare equal.
func normalizeMapping(kind models.ImportKind, mapping []models.MappingEntry) []models.MappingEntry {
	order := make(map[string]int)
	for i, f := range Catalog(kind) {
		order[f.Name] = i
	}
	out := make([]models.MappingEntry, 0, len(mapping))
	for _, e := range mapping {
		out = append(out, models.MappingEntry{
			SourceColumn: strings.TrimSpace(e.SourceColumn),
			TargetField:  strings.ToLower(strings.TrimSpace(e.TargetField)),
			Required:     e.Required,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, iok := order[out[i].TargetField]
		oj, jok := order[out[j].TargetField]
		if iok != jok {
			return iok
		}
		return oi < oj
	})
	return out
}

func mappingsEqual(a, b []models.MappingEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MappingFromDict builds entries from a source column -> target field dictionary.
func MappingFromDict(dict map[string]string, required []string) []models.MappingEntry {
	out := make([]models.MappingEntry, 0, len(dict))
	for source, target := range dict {
		out = append(out, models.MappingEntry{
			SourceColumn: source,
			TargetField:  target,
			Required:     contains(required, target),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceColumn < out[j].SourceColumn })
	return out
}
