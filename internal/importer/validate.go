package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/stanstork/lms-import/internal/models"
)

// validation is the outcome of checking every mapped row of a job.
type validation struct {
	Rows   []mappedRow
	Typed  []Row
	Errors []models.ImportRowError
}

// validateRows runs type coercion and the kind's field rules on every row.
// Each row is checked on its own; one bad row never stops the others.
func (s *Service) validateRows(ctx context.Context, job models.ImportJob, rows []mappedRow, mapping []models.MappingEntry) (validation, error) {
	out := validation{Rows: rows, Typed: make([]Row, 0, len(rows))}
	perRow := make([][]models.ImportRowError, len(rows))

	for i, row := range rows {
		typed := buildRow(job.Kind, row)
		out.Typed = append(out.Typed, typed)

		problems := append([]models.ImportRowError(nil), row.Problems...)
		switch r := typed.(type) {
		case CourseModuleRow:
			problems = append(problems, checkCourseModuleRow(row, r)...)
		case UserEnrollmentRow:
			problems = append(problems, s.checkUserEnrollmentRow(row, r)...)
		}
		perRow[i] = append(problems, checkRequiredEntries(row, mapping, problems)...)
	}

	if job.Kind == models.KindUsersEnrollments {
		if err := s.checkCoursesExist(ctx, job.TenantID, rows, out.Typed, perRow); err != nil {
			return out, err
		}
	}

	for _, problems := range perRow {
		out.Errors = append(out.Errors, problems...)
	}
	return out, nil
}

func checkCourseModuleRow(row mappedRow, r CourseModuleRow) []models.ImportRowError {
	var problems []models.ImportRowError
	if r.ExternalID == "" {
		problems = append(problems, rowError(row, "missing_external_id", "external_id is required"))
	}
	if r.Title == "" {
		problems = append(problems, rowError(row, "missing_title", "title is required"))
	}
	if r.Module == nil {
		return problems
	}

	m := r.Module
	if m.CourseExternalID == "" {
		problems = append(problems, rowError(row, "missing_module_course_external_id", "module rows require module_course_external_id"))
	}
	if m.Title == "" {
		problems = append(problems, rowError(row, "missing_module_title", "module rows require module_title"))
	}
	if !contains(ModuleTypes, m.Type) {
		problems = append(problems, rowError(row, "invalid_module_type",
			fmt.Sprintf("module_type %q must be one of %s", m.Type, strings.Join(ModuleTypes, ", "))))
	}
	return problems
}

func (s *Service) checkUserEnrollmentRow(row mappedRow, r UserEnrollmentRow) []models.ImportRowError {
	var problems []models.ImportRowError
	if err := s.validate.Var(r.Email, "required,email"); err != nil {
		problems = append(problems, rowError(row, "invalid_email", fmt.Sprintf("email %q is not a valid address", r.Email)))
	}
	if r.CourseExternalID == "" {
		problems = append(problems, rowError(row, "missing_course_external_id", "course_external_id is required"))
	}
	if !contains(EnrollmentRoles, r.Role) {
		problems = append(problems, rowError(row, "invalid_role",
			fmt.Sprintf("role %q must be one of %s", r.Role, strings.Join(EnrollmentRoles, ", "))))
	}
	return problems
}

// checkRequiredEntries reports mapping entries flagged required whose cell is blank,
// unless a field rule already reported that row for the same field.
func checkRequiredEntries(row mappedRow, mapping []models.MappingEntry, reported []models.ImportRowError) []models.ImportRowError {
	var problems []models.ImportRowError
	for _, entry := range mapping {
		if !entry.Required || strings.TrimSpace(row.Raw[entry.SourceColumn]) != "" {
			continue
		}
		if reportedField(reported, entry.TargetField) {
			continue
		}
		problems = append(problems, rowError(row, "missing_required_column",
			fmt.Sprintf("column %q is marked required but is empty", entry.SourceColumn)))
	}
	return problems
}

func reportedField(problems []models.ImportRowError, field string) bool {
	for _, p := range problems {
		if p.Code == "missing_"+field || p.Code == "invalid_"+field {
			return true
		}
	}
	return false
}

// checkCoursesExist resolves every referenced course in one query and flags rows pointing at unknown ones.
func (s *Service) checkCoursesExist(ctx context.Context, tenantID string, rows []mappedRow, typed []Row, perRow [][]models.ImportRowError) error {
	var externalIDs []string
	seen := make(map[string]bool)
	for _, t := range typed {
		r, ok := t.(UserEnrollmentRow)
		if !ok || r.CourseExternalID == "" || seen[r.CourseExternalID] {
			continue
		}
		seen[r.CourseExternalID] = true
		externalIDs = append(externalIDs, r.CourseExternalID)
	}
	if len(externalIDs) == 0 {
		return nil
	}

	found, err := s.courses.FindCourseIDs(ctx, tenantID, externalIDs)
	if err != nil {
		return errors.Wrap(err, "look up referenced courses")
	}
	for i, t := range typed {
		r, ok := t.(UserEnrollmentRow)
		if !ok || r.CourseExternalID == "" {
			continue
		}
		if _, exists := found[r.CourseExternalID]; !exists {
			perRow[i] = append(perRow[i], rowError(rows[i], "course_not_found",
				fmt.Sprintf("course %q does not exist", r.CourseExternalID)))
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	return validator.New()
}
