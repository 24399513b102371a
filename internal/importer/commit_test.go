package importer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/lms-import/internal/models"
)

var courseMapping = identity(
	"external_id", "title", "module_external_id", "module_course_external_id", "module_title", "module_type", "module_position",
)

const coursesWithModules = `external_id,title,module_external_id,module_course_external_id,module_title,module_type,module_position
C-1,Intro to Go,M-1,C-1,Welcome,video,1
C-1,Intro to Go,M-2,C-1,Syntax,text,2
C-2,Testing,M-3,C-2,Table tests,quiz,1
C-2,Testing,M-4,C-9,Orphan,video,1
`

func commit(t *testing.T, h *harness, job models.ImportJob, mapping []models.MappingEntry) CommitResult {
	t.Helper()
	res, err := h.svc.Commit(context.Background(), CommitInput{
		TenantID: testTenant,
		UserID:   testAdmin,
		JobID:    job.ID,
		Kind:     job.Kind,
		Mapping:  mapping,
	})
	require.NoError(t, err)
	return res
}

func TestCommitCoursesAndModules(t *testing.T) {
	h := newHarness(t)
	job := h.validated(t, models.KindCoursesModules, coursesWithModules, courseMapping)

	res := commit(t, h, job, courseMapping)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.True(t, res.Succeeded())
	assert.Equal(t, &CourseTotals{CreatedCourses: 2, CreatedModules: 3, Skipped: 1}, res.Courses)
	assert.Empty(t, res.Errors)
	assert.Len(t, h.catalog.courses, 2)
	assert.Len(t, h.catalog.modules, 3)
	assert.Equal(t, testAdmin, h.catalog.courses[testTenant+"/C-1"].CreatedBy)

	stored, err := h.svc.GetJob(context.Background(), testTenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 5, stored.CreatedCount)
	assert.Equal(t, 1, stored.SkippedCount)
	assert.Equal(t, 4, stored.TotalRows)

	last := h.notifier.events[len(h.notifier.events)-1]
	assert.Equal(t, models.NotificationEventImportCompleted, last.event)
}

func TestCommitModuleWithUnknownParentIsSkipped(t *testing.T) {
	h := newHarness(t)
	content := "external_id,title,module_external_id,module_course_external_id,module_title,module_type\n" +
		"C-1,Intro,M-1,C-404,Lost,video\n"
	job := h.validated(t, models.KindCoursesModules, content, identity(
		"external_id", "title", "module_external_id", "module_course_external_id", "module_title", "module_type"))

	res := commit(t, h, job, nil)

	assert.Equal(t, 1, res.Courses.Skipped)
	assert.Equal(t, 0, res.Courses.CreatedModules)
	assert.Empty(t, h.catalog.modules)
}

func TestCommitLastDuplicateCourseRowWins(t *testing.T) {
	h := newHarness(t)
	content := "external_id,title\nC-1,First title\nC-2,Other\nC-1,Final title\n"
	job := h.validated(t, models.KindCoursesModules, content, identity("external_id", "title"))

	res := commit(t, h, job, nil)

	assert.Equal(t, 2, res.Courses.CreatedCourses)
	assert.Equal(t, "Final title", h.catalog.courses[testTenant+"/C-1"].Title)
}

func TestCommitSameFileTwiceOnlyUpdates(t *testing.T) {
	h := newHarness(t)

	first := commit(t, h, h.validated(t, models.KindCoursesModules, coursesWithModules, courseMapping), nil)
	second := commit(t, h, h.validated(t, models.KindCoursesModules, coursesWithModules, courseMapping), nil)

	assert.Equal(t, 2, first.Courses.CreatedCourses)
	assert.Equal(t, &CourseTotals{UpdatedCourses: 2, UpdatedModules: 3, Skipped: 1}, second.Courses)
	assert.Len(t, h.catalog.courses, 2)
	assert.Len(t, h.catalog.modules, 3)
}

func TestCommitBeforeValidatedIsRejected(t *testing.T) {
	h := newHarness(t)
	job := h.upload(t, models.KindCoursesModules, "courses.csv", threeCourses)

	for _, status := range []models.ImportStatus{models.StatusUploaded, models.StatusMapped} {
		if status == models.StatusMapped {
			_, err := h.svc.SaveMapping(context.Background(), testTenant, job.ID, models.KindCoursesModules, identity("external_id", "title"))
			require.NoError(t, err)
		}
		_, err := h.svc.Commit(context.Background(), CommitInput{TenantID: testTenant, UserID: testAdmin, JobID: job.ID, Kind: job.Kind})
		require.ErrorIs(t, err, ErrJobNotReady)
		assert.Equal(t, status, h.jobs.status(job.ID))
	}
	assert.Empty(t, h.catalog.courses)
}

func TestCommitTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	job := h.validated(t, models.KindCoursesModules, "external_id,title\nC-1,Intro\n", identity("external_id", "title"))
	commit(t, h, job, nil)

	_, err := h.svc.Commit(context.Background(), CommitInput{TenantID: testTenant, UserID: testAdmin, JobID: job.ID, Kind: job.Kind})
	require.ErrorIs(t, err, ErrJobNotReady)
}

func TestCommitRejectsChangedMapping(t *testing.T) {
	h := newHarness(t)
	job := h.validated(t, models.KindCoursesModules, "external_id,title,category\nC-1,Intro,x\n", identity("external_id", "title"))

	_, err := h.svc.Commit(context.Background(), CommitInput{
		TenantID: testTenant,
		UserID:   testAdmin,
		JobID:    job.ID,
		Kind:     job.Kind,
		Mapping:  identity("external_id", "title", "category"),
	})
	require.ErrorIs(t, err, ErrMappingChanged)
	assert.Equal(t, models.StatusValidated, h.jobs.status(job.ID))
	assert.Empty(t, h.catalog.courses)
}

func TestCommitRowFailuresContinue(t *testing.T) {
	h := newHarness(t)
	h.catalog.failCourse = "C-2"
	job := h.validated(t, models.KindCoursesModules, "external_id,title\nC-1,Intro\nC-2,Broken\nC-3,Other\n", identity("external_id", "title"))

	res := commit(t, h, job, nil)

	assert.Equal(t, models.StatusCompletedWithErrors, res.Status)
	assert.Equal(t, 2, res.Courses.CreatedCourses)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].RowNumber)
	assert.Equal(t, "upsert_failed", res.Errors[0].Code)
	assert.Equal(t, models.PhaseCommit, res.Errors[0].Phase)

	stored, err := h.svc.ListRowErrors(context.Background(), testTenant, job.ID, models.PhaseCommit, 10, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCommitAllRowsFailingFailsJob(t *testing.T) {
	h := newHarness(t)
	h.catalog.failCourse = "C-1"
	job := h.validated(t, models.KindCoursesModules, "external_id,title\nC-1,Intro\n", identity("external_id", "title"))

	res := commit(t, h, job, nil)

	assert.Equal(t, models.StatusFailed, res.Status)
	assert.False(t, res.Succeeded())
	stored, err := h.svc.GetJob(context.Background(), testTenant, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
}

func TestCommitUnreadableFileFailsJob(t *testing.T) {
	h := newHarness(t)
	job := h.validated(t, models.KindCoursesModules, "external_id,title\nC-1,Intro\n", identity("external_id", "title"))
	require.NoError(t, h.bucket.Delete(context.Background(), job.FilePath))

	_, err := h.svc.Commit(context.Background(), CommitInput{TenantID: testTenant, UserID: testAdmin, JobID: job.ID, Kind: job.Kind})
	require.ErrorIs(t, err, ErrFileMissing)
	assert.Equal(t, models.StatusFailed, h.jobs.status(job.ID))
	assert.Empty(t, h.catalog.courses)
}

func TestCommitUsersCreatesOneAccountPerEmail(t *testing.T) {
	h := newHarness(t)
	h.catalog.seedCourse("C-1")
	h.catalog.seedCourse("C-2")
	content := strings.Join([]string{
		"email,first_name,last_name,course_external_id,role,due_date",
		"new.learner@example.com,New,Learner,C-1,learner,2026-05-01",
		"NEW.learner@example.com,New,Learner,C-2,observer,",
	}, "\n")
	mapping := identity("email", "first_name", "last_name", "course_external_id", "role", "due_date")
	job := h.validated(t, models.KindUsersEnrollments, content, mapping)

	res := commit(t, h, job, nil)

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, &EnrollmentTotals{UsersCreated: 1, EnrollmentsCreated: 2, TotalProcessed: 2}, res.Enrollments)
	assert.Empty(t, res.Errors)
	require.Len(t, h.accounts.users, 1)

	user := h.accounts.users[testTenant+"/new.learner@example.com"]
	assert.Equal(t, []models.UserRole{models.RoleViewer}, user.Roles)
	assert.Equal(t, "New Learner", h.accounts.profiles[user.ID].FullName)

	var dueDates int
	for _, e := range h.catalog.enrollments {
		assert.Equal(t, user.ID, e.UserID)
		assert.Equal(t, testAdmin, e.EnrolledBy)
		if e.DueDate != nil {
			dueDates++
			assert.Equal(t, "2026-05-01", e.DueDate.Format("2006-01-02"))
		}
	}
	assert.Equal(t, 1, dueDates)
}

func TestCommitUsersReusesExistingAccountAndUpdatesEnrollment(t *testing.T) {
	h := newHarness(t)
	h.catalog.seedCourse("C-1")
	content := "email,course_external_id,role\nann@example.com,C-1,learner\n"
	mapping := identity("email", "course_external_id", "role")

	commit(t, h, h.validated(t, models.KindUsersEnrollments, content, mapping), nil)
	res := commit(t, h, h.validated(t, models.KindUsersEnrollments, content, mapping), nil)

	assert.Equal(t, &EnrollmentTotals{EnrollmentsUpdated: 1, TotalProcessed: 1}, res.Enrollments)
	assert.Len(t, h.accounts.users, 1)
	assert.Equal(t, "ann", h.accounts.profiles["user-1"].FullName)
}

func TestDisplayName(t *testing.T) {
	full, first := "Ada Lovelace", "Ada"
	assert.Equal(t, "Ada Lovelace", displayName(UserEnrollmentRow{FullName: &full, FirstName: &first}))
	assert.Equal(t, "Ada", displayName(UserEnrollmentRow{FirstName: &first, Email: "ada@example.com"}))
	assert.Equal(t, "ada", displayName(UserEnrollmentRow{Email: "ada@example.com"}))
}

func TestCommitFinishesWhenCallerGoesAway(t *testing.T) {
	h := newHarness(t)
	job := h.validated(t, models.KindCoursesModules, "external_id,title\nC-1,Intro\nC-2,Basics\nC-3,Advanced\n", identity("external_id", "title"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := h.withStores(dbBoundJobs{h.jobs}, cancelAfterFirstCourse{memCatalog: h.catalog, cancel: cancel})

	res, err := svc.Commit(ctx, CommitInput{TenantID: testTenant, UserID: testAdmin, JobID: job.ID, Kind: job.Kind})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, &CourseTotals{CreatedCourses: 3}, res.Courses)
	assert.Len(t, h.catalog.courses, 3)
	assert.Equal(t, models.StatusCompleted, h.jobs.status(job.ID))
}

func TestCommitSeparatesMissingCourseFromLookupFailure(t *testing.T) {
	content := "email,course_external_id,role\nann@example.com,C-1,learner\n"
	mapping := identity("email", "course_external_id", "role")

	t.Run("course removed after dry-run", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.seedCourse("C-1")
		job := h.validated(t, models.KindUsersEnrollments, content, mapping)
		delete(h.catalog.courses, testTenant+"/C-1")

		res := commit(t, h, job, nil)

		assert.Equal(t, models.StatusFailed, res.Status)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, "course_not_found", res.Errors[0].Code)
	})

	t.Run("lookup fails", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.seedCourse("C-1")
		job := h.validated(t, models.KindUsersEnrollments, content, mapping)

		svc := h.withStores(h.jobs, brokenLookups{h.catalog})
		res, err := svc.Commit(context.Background(), CommitInput{TenantID: testTenant, UserID: testAdmin, JobID: job.ID, Kind: job.Kind})
		require.NoError(t, err)

		require.Len(t, res.Errors, 1)
		assert.Equal(t, "course_lookup_failed", res.Errors[0].Code)
		assert.Contains(t, res.Errors[0].Message, "connection reset")
	})
}
