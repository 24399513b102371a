package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/sheet"
)

func TestCoerce(t *testing.T) {
	number := Field{Name: FieldDurationMinutes, Type: TypeNumber}
	boolean := Field{Name: FieldIsPublished, Type: TypeBool}
	date := Field{Name: FieldDueDate, Type: TypeDate}
	text := Field{Name: FieldExternalID, Type: TypeString}

	tests := []struct {
		field Field
		cell  string
		want  interface{}
		code  string
	}{
		{text, "", nil, ""},
		{text, "00123", "00123", ""},
		{number, "90", 90.0, ""},
		{number, "1,250.5", 1250.5, ""},
		{number, "ninety", nil, "invalid_number"},
		{number, "-1,000", -1000.0, ""},
		{number, "1,5", nil, "invalid_number"},
		{number, "12,34,567", nil, "invalid_number"},
		{number, "NaN", nil, "invalid_number"},
		{number, "Inf", nil, "invalid_number"},
		{number, "-Infinity", nil, "invalid_number"},
		{boolean, "TRUE", true, ""},
		{boolean, "false", false, ""},
		{boolean, "1", nil, "invalid_boolean"},
		{date, "2026-02-28", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), ""},
		{date, "2026-02-30", nil, "invalid_due_date"},
	}
	for _, tt := range tests {
		got, code := coerce(tt.field, tt.cell)
		assert.Equal(t, tt.want, got, "%s %q", tt.field.Type, tt.cell)
		assert.Equal(t, tt.code, code, "%s %q", tt.field.Type, tt.cell)
	}
}

func TestApplyMappingCopiesOnlyMappedColumns(t *testing.T) {
	table := sheet.Table{
		Header: []string{"Course ID", "Name", "Notes"},
		Rows: [][]string{
			{"  C-1 ", " Intro ", "ignored"},
			{"", "", ""},
			{"C-2"},
		},
	}
	mapping := []models.MappingEntry{
		{SourceColumn: "Course ID", TargetField: FieldExternalID},
		{SourceColumn: "Name", TargetField: FieldTitle},
	}

	rows := applyMapping(models.KindCoursesModules, table, mapping)

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Number)
	assert.Equal(t, Record{FieldExternalID: "C-1", FieldTitle: "Intro"}, rows[0].Record)
	assert.Equal(t, "ignored", rows[0].Raw["Notes"])
	assert.Equal(t, 4, rows[1].Number)
	assert.Equal(t, Record{FieldExternalID: "C-2", FieldTitle: nil}, rows[1].Record)
	assert.Equal(t, "", rows[1].Raw["Name"])
}

func TestBuildRowIsTaggedByKind(t *testing.T) {
	course := buildRow(models.KindCoursesModules, mappedRow{Number: 2, Record: Record{
		FieldExternalID:       "C-1",
		FieldTitle:            "Intro",
		FieldModuleExternalID: "M-1",
		FieldModuleType:       "Video",
		FieldModulePosition:   3.0,
	}})
	cm, ok := course.(CourseModuleRow)
	require.True(t, ok)
	require.NotNil(t, cm.Module)
	assert.Equal(t, "video", cm.Module.Type)
	assert.Equal(t, 3.0, *cm.Module.Position)
	assert.Nil(t, cm.Description)

	plain := buildRow(models.KindCoursesModules, mappedRow{Record: Record{FieldExternalID: "C-1"}}).(CourseModuleRow)
	assert.Nil(t, plain.Module)

	user := buildRow(models.KindUsersEnrollments, mappedRow{Number: 7, Record: Record{FieldEmail: "A@B.io", FieldRole: "Learner"}})
	ue, ok := user.(UserEnrollmentRow)
	require.True(t, ok)
	assert.Equal(t, "a@b.io", ue.Email)
	assert.Equal(t, "learner", ue.Role)
	assert.Equal(t, 7, ue.RowNumber())
}

func TestNormalizeMappingOrdersByCatalog(t *testing.T) {
	got := normalizeMapping(models.KindCoursesModules, []models.MappingEntry{
		{SourceColumn: " Name ", TargetField: "TITLE"},
		{SourceColumn: "id", TargetField: "external_id", Required: true},
	})
	assert.Equal(t, []models.MappingEntry{
		{SourceColumn: "id", TargetField: "external_id", Required: true},
		{SourceColumn: "Name", TargetField: "title"},
	}, got)
	assert.True(t, mappingsEqual(got, normalizeMapping(models.KindCoursesModules, got)))
}

func TestMappingFromDict(t *testing.T) {
	got := MappingFromDict(map[string]string{"Title": "title", "ID": "external_id"}, []string{"external_id"})
	assert.Equal(t, []models.MappingEntry{
		{SourceColumn: "ID", TargetField: "external_id", Required: true},
		{SourceColumn: "Title", TargetField: "title"},
	}, got)
}

func TestCheckMappingCollectsProblems(t *testing.T) {
	err := checkMapping(models.KindUsersEnrollments, []models.MappingEntry{
		{SourceColumn: "mail", TargetField: "email"},
		{SourceColumn: "mail2", TargetField: "email"},
		{SourceColumn: "course", TargetField: "title"},
	}, []string{"mail", "mail2"})

	var mappingErr *MappingError
	require.ErrorAs(t, err, &mappingErr)
	assert.Len(t, mappingErr.Problems, 2)
	assert.Contains(t, mappingErr.Error(), "2 problems")
}
