package repository

import (
	"context"
	"database/sql"

	"github.com/stanstork/lms-import/internal/models"
)

type EnrollmentRepository interface {
	UpsertEnrollment(ctx context.Context, enrollment models.Enrollment) (models.UpsertResult, error)
}

type enrollmentRepository struct {
	db *sql.DB
}

func NewEnrollmentRepository(db *sql.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

// UpsertEnrollment keys on (user_id, course_id). A re-import refreshes role and due date
// but keeps the original enrolled_by.
func (r *enrollmentRepository) UpsertEnrollment(ctx context.Context, enrollment models.Enrollment) (models.UpsertResult, error) {
	const query = `
		INSERT INTO tenant.enrollments (tenant_id, user_id, course_id, role, due_date, enrolled_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, course_id) DO UPDATE
		SET role = EXCLUDED.role,
		    due_date = COALESCE(EXCLUDED.due_date, tenant.enrollments.due_date),
		    updated_at = NOW()
		RETURNING id, (xmax = 0)
	`
	var dueDate interface{}
	if enrollment.DueDate != nil {
		dueDate = enrollment.DueDate.Format("2006-01-02")
	}

	var res models.UpsertResult
	err := r.db.QueryRowContext(ctx, query,
		enrollment.TenantID,
		enrollment.UserID,
		enrollment.CourseID,
		enrollment.Role,
		dueDate,
		enrollment.EnrolledBy,
	).Scan(&res.ID, &res.Created)
	return res, err
}
