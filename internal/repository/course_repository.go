package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/stanstork/lms-import/internal/models"
)

type CourseRepository interface {
	UpsertCourse(ctx context.Context, course models.Course) (models.UpsertResult, error)
	UpsertModule(ctx context.Context, module models.Module) (models.UpsertResult, error)
	FindCourseIDs(ctx context.Context, tenantID string, externalIDs []string) (map[string]string, error)
}

type courseRepository struct {
	db *sql.DB
}

func NewCourseRepository(db *sql.DB) CourseRepository {
	return &courseRepository{db: db}
}

// UpsertCourse inserts or updates by (tenant_id, external_id). created_by is only set on insert.
// xmax is zero only for a row version this statement inserted.
func (r *courseRepository) UpsertCourse(ctx context.Context, course models.Course) (models.UpsertResult, error) {
	const query = `
		INSERT INTO tenant.courses (tenant_id, external_id, title, description, category, duration_minutes, is_published, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, FALSE), $8)
		ON CONFLICT (tenant_id, external_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = COALESCE(EXCLUDED.description, tenant.courses.description),
		    category = COALESCE(EXCLUDED.category, tenant.courses.category),
		    duration_minutes = COALESCE(EXCLUDED.duration_minutes, tenant.courses.duration_minutes),
		    is_published = COALESCE($7, tenant.courses.is_published),
		    updated_at = NOW()
		RETURNING id, (xmax = 0)
	`
	var res models.UpsertResult
	err := r.db.QueryRowContext(ctx, query,
		course.TenantID,
		course.ExternalID,
		course.Title,
		course.Description,
		course.Category,
		course.DurationMinutes,
		course.IsPublished,
		course.CreatedBy,
	).Scan(&res.ID, &res.Created)
	return res, err
}

func (r *courseRepository) UpsertModule(ctx context.Context, module models.Module) (models.UpsertResult, error) {
	const query = `
		INSERT INTO tenant.modules (course_id, external_id, title, module_type, position, duration_minutes, content_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (course_id, external_id) DO UPDATE
		SET title = EXCLUDED.title,
		    module_type = EXCLUDED.module_type,
		    position = COALESCE(EXCLUDED.position, tenant.modules.position),
		    duration_minutes = COALESCE(EXCLUDED.duration_minutes, tenant.modules.duration_minutes),
		    content_url = COALESCE(EXCLUDED.content_url, tenant.modules.content_url),
		    updated_at = NOW()
		RETURNING id, (xmax = 0)
	`
	var res models.UpsertResult
	err := r.db.QueryRowContext(ctx, query,
		module.CourseID,
		module.ExternalID,
		module.Title,
		module.ModuleType,
		module.Position,
		module.DurationMinutes,
		module.ContentURL,
	).Scan(&res.ID, &res.Created)
	return res, err
}

func (r *courseRepository) FindCourseIDs(ctx context.Context, tenantID string, externalIDs []string) (map[string]string, error) {
	found := make(map[string]string, len(externalIDs))
	if len(externalIDs) == 0 {
		return found, nil
	}

	const query = `
		SELECT external_id, id
		FROM tenant.courses
		WHERE tenant_id = $1 AND external_id = ANY($2)
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(externalIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, err
		}
		found[externalID] = id
	}
	return found, rows.Err()
}
