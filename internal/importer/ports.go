package importer

import (
	"context"
	"io"

	"github.com/stanstork/lms-import/internal/models"
)

// JobStore persists import jobs, their mappings and their row errors.
// Get returns sql.ErrNoRows when the job does not exist in the tenant.
type JobStore interface {
	Create(ctx context.Context, job models.ImportJob) (models.ImportJob, error)
	Get(ctx context.Context, tenantID, jobID string) (models.ImportJob, error)
	List(ctx context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error)
	CountByStatus(ctx context.Context, tenantID string, kind models.ImportKind) (map[models.ImportStatus]int, error)

	// UpdateStatus moves the job to `to` only while its status is one of `from`; an empty `from` is unconditional.
	// It reports whether a row was changed.
	UpdateStatus(ctx context.Context, tenantID, jobID string, from []models.ImportStatus, to models.ImportStatus) (bool, error)
	// SaveResult writes the status, counters and error message of a finished run.
	SaveResult(ctx context.Context, tenantID, jobID string, status models.ImportStatus, counts models.JobCounts, errMsg string) error

	SaveMapping(ctx context.Context, jobID string, mapping []models.MappingEntry) error
	GetMapping(ctx context.Context, jobID string) ([]models.MappingEntry, error)

	ReplaceRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, rowErrors []models.ImportRowError) error
	ListRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error)
}

// CourseStore upserts the catalog side of a courses_modules import.
type CourseStore interface {
	UpsertCourse(ctx context.Context, course models.Course) (models.UpsertResult, error)
	UpsertModule(ctx context.Context, module models.Module) (models.UpsertResult, error)
	// FindCourseIDs maps each external id that exists in the tenant to its course id.
	FindCourseIDs(ctx context.Context, tenantID string, externalIDs []string) (map[string]string, error)
}

// AccountStore looks up and provisions the user accounts enrollments point at.
// FindUserByEmail returns sql.ErrNoRows when no account matches.
type AccountStore interface {
	FindUserByEmail(ctx context.Context, tenantID, email string) (models.User, error)
	CreateUser(ctx context.Context, user models.User, password string, profile models.Profile) (models.User, error)
}

type EnrollmentStore interface {
	UpsertEnrollment(ctx context.Context, enrollment models.Enrollment) (models.UpsertResult, error)
}

// FileStore is the blob bucket holding uploaded files.
type FileStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Notifier receives pipeline events. Failures are logged by the caller and never fail a stage.
type Notifier interface {
	NotifyImportValidated(ctx context.Context, job models.ImportJob, rows int) error
	NotifyImportCompleted(ctx context.Context, job models.ImportJob) error
	NotifyImportFailed(ctx context.Context, job models.ImportJob, reason string) error
}
