package importer

import (
	"strings"

	"github.com/stanstork/lms-import/internal/models"
)

type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "boolean"
	TypeDate   FieldType = "date"
)

// Field is one target a source column can be mapped onto.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description"`
}

// Target field names.
const (
	FieldExternalID             = "external_id"
	FieldTitle                  = "title"
	FieldDescription            = "description"
	FieldCategory               = "category"
	FieldDurationMinutes        = "duration_minutes"
	FieldIsPublished            = "is_published"
	FieldModuleExternalID       = "module_external_id"
	FieldModuleCourseExternalID = "module_course_external_id"
	FieldModuleTitle            = "module_title"
	FieldModuleType             = "module_type"
	FieldModulePosition         = "module_position"
	FieldModuleDurationMinutes  = "module_duration_minutes"
	FieldModuleContentURL       = "module_content_url"
	FieldEmail                  = "email"
	FieldFirstName              = "first_name"
	FieldLastName               = "last_name"
	FieldFullName               = "full_name"
	FieldCourseExternalID       = "course_external_id"
	FieldRole                   = "role"
	FieldDueDate                = "due_date"
)

var catalogs = map[models.ImportKind][]Field{
	models.KindCoursesModules: {
		{FieldExternalID, TypeString, "Stable course identifier used to match existing courses"},
		{FieldTitle, TypeString, "Course title"},
		{FieldDescription, TypeString, "Course description"},
		{FieldCategory, TypeString, "Catalog category"},
		{FieldDurationMinutes, TypeNumber, "Estimated course length in minutes"},
		{FieldIsPublished, TypeBool, "true or false"},
		{FieldModuleExternalID, TypeString, "Stable module identifier; marks the row as a module row"},
		{FieldModuleCourseExternalID, TypeString, "external_id of the module's course"},
		{FieldModuleTitle, TypeString, "Module title"},
		{FieldModuleType, TypeString, "One of: " + strings.Join(ModuleTypes, ", ")},
		{FieldModulePosition, TypeNumber, "Ordering within the course"},
		{FieldModuleDurationMinutes, TypeNumber, "Module length in minutes"},
		{FieldModuleContentURL, TypeString, "Link to the module content"},
	},
	models.KindUsersEnrollments: {
		{FieldEmail, TypeString, "Learner email; accounts are matched or created by it"},
		{FieldFirstName, TypeString, "Given name for new accounts"},
		{FieldLastName, TypeString, "Family name for new accounts"},
		{FieldFullName, TypeString, "Display name for new accounts"},
		{FieldCourseExternalID, TypeString, "external_id of an existing course"},
		{FieldRole, TypeString, "One of: " + strings.Join(EnrollmentRoles, ", ")},
		{FieldDueDate, TypeDate, "Optional completion due date, e.g. 2026-01-31"},
	},
}

var (
	ModuleTypes     = []string{"video", "text", "document", "quiz", "assignment", "scorm", "live_session"}
	EnrollmentRoles = []string{"learner", "instructor", "assistant", "observer"}
)

// Catalog lists the target fields of an import kind in template order.
func Catalog(kind models.ImportKind) []Field {
	return catalogs[kind]
}

func lookupField(kind models.ImportKind, name string) (Field, bool) {
	for _, f := range catalogs[kind] {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// requiredTargets are the fields every row of the kind must carry.
func requiredTargets(kind models.ImportKind) []string {
	switch kind {
	case models.KindCoursesModules:
		return []string{FieldExternalID, FieldTitle}
	case models.KindUsersEnrollments:
		return []string{FieldEmail, FieldCourseExternalID, FieldRole}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
