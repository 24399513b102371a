package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/lms-import/internal/models"
)

// CommitInput identifies the job to commit. A non-empty Mapping must match the validated one.
type CommitInput struct {
	TenantID string
	UserID   string
	JobID    string
	Kind     models.ImportKind
	Mapping  []models.MappingEntry
}

type CourseTotals struct {
	CreatedCourses int `json:"createdCourses"`
	UpdatedCourses int `json:"updatedCourses"`
	CreatedModules int `json:"createdModules"`
	UpdatedModules int `json:"updatedModules"`
	Skipped        int `json:"skipped"`
}

type EnrollmentTotals struct {
	UsersCreated       int `json:"users_created"`
	EnrollmentsCreated int `json:"enrollments_created"`
	EnrollmentsUpdated int `json:"enrollments_updated"`
	TotalProcessed     int `json:"total_processed"`
}

// CommitResult carries the totals of whichever kind was committed.
type CommitResult struct {
	JobID       string                  `json:"job_id"`
	Kind        models.ImportKind       `json:"kind"`
	Status      models.ImportStatus     `json:"status"`
	Courses     *CourseTotals           `json:"totals,omitempty"`
	Enrollments *EnrollmentTotals       `json:"-"`
	Errors      []models.ImportRowError `json:"errors"`
}

// Succeeded is false only when nothing could be written.
func (r CommitResult) Succeeded() bool {
	return r.Status != models.StatusFailed
}

// commitRun accumulates row errors for one commit, keeping at most limit of them.
type commitRun struct {
	job    models.ImportJob
	userID string
	limit  int
	errors []models.ImportRowError
	failed int
	logger zerolog.Logger
}

func (c *commitRun) fail(row mappedRow, code string, err error) {
	c.failed++
	c.logger.Warn().Err(err).Int("row", row.Number).Str("code", code).Msg("Row failed during commit")
	if len(c.errors) >= c.limit {
		return
	}
	e := rowError(row, code, err.Error())
	e.JobID = c.job.ID
	e.Phase = models.PhaseCommit
	c.errors = append(c.errors, e)
}

// Commit writes the validated rows of a job into the catalog or the enrollment tables.
// Rows are written one by one; a failing row is recorded and the rest continue.
func (s *Service) Commit(ctx context.Context, in CommitInput) (CommitResult, error) {
	job, err := s.loadJob(ctx, in.TenantID, in.JobID, in.Kind)
	if err != nil {
		return CommitResult{}, err
	}
	if job.Status != models.StatusValidated {
		return CommitResult{}, ErrJobNotReady
	}

	mapping, err := s.jobs.GetMapping(ctx, job.ID)
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "load mapping")
	}
	mapping = normalizeMapping(job.Kind, mapping)
	if len(in.Mapping) > 0 && !mappingsEqual(mapping, normalizeMapping(job.Kind, in.Mapping)) {
		return CommitResult{}, ErrMappingChanged
	}

	moved, err := s.jobs.UpdateStatus(ctx, in.TenantID, job.ID, []models.ImportStatus{models.StatusValidated}, models.StatusProcessing)
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "mark job processing")
	}
	if !moved {
		return CommitResult{}, ErrJobNotReady
	}
	job.Status = models.StatusProcessing

	// From here the run always finishes and records a terminal status, even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	logger := s.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()
	logger.Info().Msg("Commit started")

	table, err := s.loadTable(ctx, job)
	if err != nil {
		return CommitResult{}, s.failJob(ctx, job, err)
	}
	rows := applyMapping(job.Kind, table, mapping)

	run := &commitRun{job: job, userID: in.UserID, limit: s.cfg.CommitErrorLimit, logger: logger}
	result := CommitResult{JobID: job.ID, Kind: job.Kind}
	var counts models.JobCounts

	switch job.Kind {
	case models.KindCoursesModules:
		totals := s.commitCourses(ctx, run, rows)
		result.Courses = &totals
		counts = models.JobCounts{
			Created: totals.CreatedCourses + totals.CreatedModules,
			Updated: totals.UpdatedCourses + totals.UpdatedModules,
			Skipped: totals.Skipped,
			Totals:  totals,
		}
	case models.KindUsersEnrollments:
		totals := s.commitEnrollments(ctx, run, rows)
		result.Enrollments = &totals
		counts = models.JobCounts{
			Created: totals.EnrollmentsCreated,
			Updated: totals.EnrollmentsUpdated,
			Totals:  totals,
		}
	default:
		return CommitResult{}, s.failJob(ctx, job, ErrInvalidKind)
	}
	counts.TotalRows = len(rows)
	counts.Errors = run.failed

	succeeded := counts.Created + counts.Updated
	switch {
	case run.failed == 0:
		result.Status = models.StatusCompleted
	case succeeded > 0:
		result.Status = models.StatusCompletedWithErrors
	default:
		result.Status = models.StatusFailed
	}
	result.Errors = run.errors
	if result.Errors == nil {
		result.Errors = []models.ImportRowError{}
	}

	if err := s.jobs.ReplaceRowErrors(ctx, job.ID, models.PhaseCommit, run.errors); err != nil {
		logger.Error().Err(err).Msg("Failed to save commit row errors")
	}
	var errMsg string
	if result.Status == models.StatusFailed {
		errMsg = fmt.Sprintf("all %d failing rows were rejected", run.failed)
	}
	if err := s.jobs.SaveResult(ctx, in.TenantID, job.ID, result.Status, counts, errMsg); err != nil {
		return CommitResult{}, errors.Wrap(err, "save commit result")
	}

	logger.Info().
		Int("rows", len(rows)).
		Int("created", counts.Created).
		Int("updated", counts.Updated).
		Int("skipped", counts.Skipped).
		Int("errors", counts.Errors).
		Str("status", string(result.Status)).
		Msg("Commit finished")

	job.Status = result.Status
	if result.Status == models.StatusFailed {
		s.notify(func() error { return s.notifier.NotifyImportFailed(ctx, job, errMsg) })
	} else {
		s.notify(func() error { return s.notifier.NotifyImportCompleted(ctx, job) })
	}
	return result, nil
}

// commitCourses upserts unique course rows first, then module rows against the courses just processed.
func (s *Service) commitCourses(ctx context.Context, run *commitRun, rows []mappedRow) CourseTotals {
	var totals CourseTotals

	type pendingCourse struct {
		row    mappedRow
		course CourseModuleRow
	}
	var order []string
	courses := make(map[string]pendingCourse)
	type moduleKey struct{ course, module string }
	var moduleOrder []moduleKey
	modules := make(map[moduleKey]pendingCourse)

	for _, row := range rows {
		r, ok := buildRow(models.KindCoursesModules, row).(CourseModuleRow)
		if !ok {
			continue
		}
		if r.ExternalID != "" && r.Title != "" {
			if _, seen := courses[r.ExternalID]; !seen {
				order = append(order, r.ExternalID)
			}
			courses[r.ExternalID] = pendingCourse{row: row, course: r}
		}
		if r.Module != nil {
			key := moduleKey{r.Module.CourseExternalID, r.Module.ExternalID}
			if _, seen := modules[key]; !seen {
				moduleOrder = append(moduleOrder, key)
			}
			modules[key] = pendingCourse{row: row, course: r}
		}
	}

	processed := make(map[string]string, len(order))
	for _, externalID := range order {
		p := courses[externalID]
		res, err := s.courses.UpsertCourse(ctx, models.Course{
			TenantID:        run.job.TenantID,
			ExternalID:      p.course.ExternalID,
			Title:           p.course.Title,
			Description:     p.course.Description,
			Category:        p.course.Category,
			DurationMinutes: p.course.DurationMinutes,
			IsPublished:     p.course.IsPublished,
			CreatedBy:       run.userID,
		})
		if err != nil {
			run.fail(p.row, "upsert_failed", errors.Wrapf(err, "upsert course %s", externalID))
			continue
		}
		processed[externalID] = res.ID
		if res.Created {
			totals.CreatedCourses++
		} else {
			totals.UpdatedCourses++
		}
	}

	for _, key := range moduleOrder {
		p := modules[key]
		m := p.course.Module
		courseID, ok := processed[m.CourseExternalID]
		if !ok {
			totals.Skipped++
			run.logger.Debug().Int("row", p.row.Number).Str("course", m.CourseExternalID).Msg("Module skipped, parent course not processed")
			continue
		}
		res, err := s.courses.UpsertModule(ctx, models.Module{
			CourseID:        courseID,
			ExternalID:      m.ExternalID,
			Title:           m.Title,
			ModuleType:      m.Type,
			Position:        m.Position,
			DurationMinutes: m.DurationMinutes,
			ContentURL:      m.ContentURL,
		})
		if err != nil {
			run.fail(p.row, "upsert_failed", errors.Wrapf(err, "upsert module %s", m.ExternalID))
			continue
		}
		if res.Created {
			totals.CreatedModules++
		} else {
			totals.UpdatedModules++
		}
	}
	return totals
}

// commitEnrollments provisions missing accounts and upserts one enrollment per row.
func (s *Service) commitEnrollments(ctx context.Context, run *commitRun, rows []mappedRow) EnrollmentTotals {
	var totals EnrollmentTotals
	users := make(map[string]string)
	courseIDs := make(map[string]string)

	for _, row := range rows {
		r, ok := buildRow(models.KindUsersEnrollments, row).(UserEnrollmentRow)
		if !ok {
			continue
		}
		totals.TotalProcessed++

		userID, created, err := s.ensureAccount(ctx, run.job.TenantID, r, users)
		if err != nil {
			run.fail(row, "account_failed", err)
			continue
		}
		if created {
			totals.UsersCreated++
		}

		courseID, err := s.resolveCourse(ctx, run.job.TenantID, r.CourseExternalID, courseIDs)
		if err != nil {
			code := "course_lookup_failed"
			if errors.Is(err, errCourseMissing) {
				code = "course_not_found"
			}
			run.fail(row, code, err)
			continue
		}

		res, err := s.enrollments.UpsertEnrollment(ctx, models.Enrollment{
			TenantID:   run.job.TenantID,
			UserID:     userID,
			CourseID:   courseID,
			Role:       r.Role,
			DueDate:    r.DueDate,
			EnrolledBy: run.userID,
		})
		if err != nil {
			run.fail(row, "enrollment_failed", errors.Wrapf(err, "enroll %s in %s", r.Email, r.CourseExternalID))
			continue
		}
		if res.Created {
			totals.EnrollmentsCreated++
		} else {
			totals.EnrollmentsUpdated++
		}
	}
	return totals
}

// ensureAccount finds the account for the row's email or provisions one, remembering the answer for later rows.
func (s *Service) ensureAccount(ctx context.Context, tenantID string, r UserEnrollmentRow, known map[string]string) (string, bool, error) {
	if id, ok := known[r.Email]; ok {
		return id, false, nil
	}

	user, err := s.accounts.FindUserByEmail(ctx, tenantID, r.Email)
	if err == nil {
		known[r.Email] = user.ID
		return user.ID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, errors.Wrapf(err, "look up account %s", r.Email)
	}

	user, err = s.accounts.CreateUser(ctx, models.User{
		TenantID:  tenantID,
		Email:     r.Email,
		FirstName: deref(r.FirstName),
		LastName:  deref(r.LastName),
		IsActive:  true,
		Roles:     models.EnsureDefaultRole(nil),
	}, uuid.NewString(), models.Profile{FullName: displayName(r)})
	if err != nil {
		return "", false, errors.Wrapf(err, "create account %s", r.Email)
	}
	known[r.Email] = user.ID
	return user.ID, true, nil
}

func (s *Service) resolveCourse(ctx context.Context, tenantID, externalID string, known map[string]string) (string, error) {
	if id, ok := known[externalID]; ok {
		return id, nil
	}
	found, err := s.courses.FindCourseIDs(ctx, tenantID, []string{externalID})
	if err != nil {
		return "", errors.Wrapf(err, "look up course %s", externalID)
	}
	id, ok := found[externalID]
	if !ok {
		return "", errors.Wrapf(errCourseMissing, "course %q", externalID)
	}
	known[externalID] = id
	return id, nil
}

// displayName seeds the profile: full name, else first and last, else the email's local part.
func displayName(r UserEnrollmentRow) string {
	if r.FullName != nil {
		return *r.FullName
	}
	name := strings.TrimSpace(deref(r.FirstName) + " " + deref(r.LastName))
	if name != "" {
		return name
	}
	if at := strings.IndexByte(r.Email, '@'); at > 0 {
		return r.Email[:at]
	}
	return r.Email
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
