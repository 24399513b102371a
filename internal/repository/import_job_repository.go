package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/stanstork/lms-import/internal/models"
)

type ImportJobRepository interface {
	Create(ctx context.Context, job models.ImportJob) (models.ImportJob, error)
	Get(ctx context.Context, tenantID, jobID string) (models.ImportJob, error)
	List(ctx context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error)
	CountByStatus(ctx context.Context, tenantID string, kind models.ImportKind) (map[models.ImportStatus]int, error)
	UpdateStatus(ctx context.Context, tenantID, jobID string, from []models.ImportStatus, to models.ImportStatus) (bool, error)
	SaveResult(ctx context.Context, tenantID, jobID string, status models.ImportStatus, counts models.JobCounts, errMsg string) error

	SaveMapping(ctx context.Context, jobID string, mapping []models.MappingEntry) error
	GetMapping(ctx context.Context, jobID string) ([]models.MappingEntry, error)

	ReplaceRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, rowErrors []models.ImportRowError) error
	ListRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error)
}

type importJobRepository struct {
	db *sql.DB
}

func NewImportJobRepository(db *sql.DB) ImportJobRepository {
	return &importJobRepository{db: db}
}

const importJobColumns = `
	id, tenant_id, kind, status, file_path, file_name, content_type, file_size, created_by,
	total_rows, created_count, updated_count, skipped_count, error_count, totals, error_message,
	created_at, updated_at, validated_at, completed_at`

func (r *importJobRepository) Create(ctx context.Context, job models.ImportJob) (models.ImportJob, error) {
	const query = `
		INSERT INTO tenant.import_jobs (tenant_id, kind, status, file_path, file_name, content_type, file_size, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		job.TenantID,
		job.Kind,
		job.Status,
		job.FilePath,
		job.FileName,
		job.ContentType,
		job.FileSize,
		job.CreatedBy,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	return job, err
}

func (r *importJobRepository) Get(ctx context.Context, tenantID, jobID string) (models.ImportJob, error) {
	query := `SELECT` + importJobColumns + `
		FROM tenant.import_jobs
		WHERE id = $1 AND tenant_id = $2`
	return scanImportJob(r.db.QueryRowContext(ctx, query, jobID, tenantID))
}

func (r *importJobRepository) List(ctx context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error) {
	query := `SELECT` + importJobColumns + `
		FROM tenant.import_jobs
		WHERE tenant_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, query, tenantID, string(kind), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.ImportJob{}
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *importJobRepository) CountByStatus(ctx context.Context, tenantID string, kind models.ImportKind) (map[models.ImportStatus]int, error) {
	const query = `
		SELECT status, COUNT(*)
		FROM tenant.import_jobs
		WHERE tenant_id = $1 AND kind = $2
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ImportStatus]int)
	for rows.Next() {
		var (
			status models.ImportStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *importJobRepository) UpdateStatus(ctx context.Context, tenantID, jobID string, from []models.ImportStatus, to models.ImportStatus) (bool, error) {
	const query = `
		UPDATE tenant.import_jobs
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
	`
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	res, err := r.db.ExecContext(ctx, query, jobID, tenantID, to, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("update status of import job %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *importJobRepository) SaveResult(ctx context.Context, tenantID, jobID string, status models.ImportStatus, counts models.JobCounts, errMsg string) error {
	const query = `
		UPDATE tenant.import_jobs
		SET status = $3,
		    total_rows = $4,
		    created_count = $5,
		    updated_count = $6,
		    skipped_count = $7,
		    error_count = $8,
		    totals = $9,
		    error_message = NULLIF($10, ''),
		    validated_at = CASE WHEN $11 THEN NOW() ELSE validated_at END,
		    completed_at = CASE WHEN $12 THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	var totals interface{}
	if counts.Totals != nil {
		raw, err := json.Marshal(counts.Totals)
		if err != nil {
			return fmt.Errorf("marshal totals: %w", err)
		}
		totals = raw
	}

	res, err := r.db.ExecContext(ctx, query,
		jobID,
		tenantID,
		status,
		counts.TotalRows,
		counts.Created,
		counts.Updated,
		counts.Skipped,
		counts.Errors,
		totals,
		errMsg,
		status == models.StatusValidated,
		status.Terminal(),
	)
	if err != nil {
		return fmt.Errorf("save result of import job %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *importJobRepository) SaveMapping(ctx context.Context, jobID string, mapping []models.MappingEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant.import_mappings WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear mapping: %w", err)
	}

	const insert = `
		INSERT INTO tenant.import_mappings (job_id, position, source_column, target_field, required)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, entry := range mapping {
		if _, err := tx.ExecContext(ctx, insert, jobID, i, entry.SourceColumn, entry.TargetField, entry.Required); err != nil {
			return fmt.Errorf("insert mapping entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (r *importJobRepository) GetMapping(ctx context.Context, jobID string) ([]models.MappingEntry, error) {
	const query = `
		SELECT source_column, target_field, required
		FROM tenant.import_mappings
		WHERE job_id = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mapping []models.MappingEntry
	for rows.Next() {
		var entry models.MappingEntry
		if err := rows.Scan(&entry.SourceColumn, &entry.TargetField, &entry.Required); err != nil {
			return nil, err
		}
		mapping = append(mapping, entry)
	}
	return mapping, rows.Err()
}

func (r *importJobRepository) ReplaceRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, rowErrors []models.ImportRowError) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant.import_row_errors WHERE job_id = $1 AND phase = $2`, jobID, phase); err != nil {
		return fmt.Errorf("clear row errors: %w", err)
	}

	if len(rowErrors) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO tenant.import_row_errors (job_id, phase, row_number, code, message, raw)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range rowErrors {
			raw, err := json.Marshal(e.Raw)
			if err != nil {
				return fmt.Errorf("marshal raw row %d: %w", e.RowNumber, err)
			}
			if _, err := stmt.ExecContext(ctx, jobID, phase, e.RowNumber, e.Code, e.Message, raw); err != nil {
				return fmt.Errorf("insert row error %d: %w", e.RowNumber, err)
			}
		}
	}
	return tx.Commit()
}

func (r *importJobRepository) ListRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error) {
	const query = `
		SELECT job_id, phase, row_number, code, message, raw
		FROM tenant.import_row_errors
		WHERE job_id = $1 AND phase = $2
		ORDER BY row_number, id
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, query, jobID, phase, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rowErrors := []models.ImportRowError{}
	for rows.Next() {
		var (
			e   models.ImportRowError
			raw []byte
		)
		if err := rows.Scan(&e.JobID, &e.Phase, &e.RowNumber, &e.Code, &e.Message, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Raw); err != nil {
				return nil, fmt.Errorf("decode raw row %d: %w", e.RowNumber, err)
			}
		}
		rowErrors = append(rowErrors, e)
	}
	return rowErrors, rows.Err()
}

func scanImportJob(scanner interface {
	Scan(dest ...interface{}) error
}) (models.ImportJob, error) {
	var (
		job          models.ImportJob
		totals       []byte
		errorMessage sql.NullString
		validatedAt  sql.NullTime
		completedAt  sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID,
		&job.TenantID,
		&job.Kind,
		&job.Status,
		&job.FilePath,
		&job.FileName,
		&job.ContentType,
		&job.FileSize,
		&job.CreatedBy,
		&job.TotalRows,
		&job.CreatedCount,
		&job.UpdatedCount,
		&job.SkippedCount,
		&job.ErrorCount,
		&totals,
		&errorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&validatedAt,
		&completedAt,
	); err != nil {
		return models.ImportJob{}, err
	}

	if len(totals) > 0 {
		job.Totals = totals
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if validatedAt.Valid {
		t := validatedAt.Time
		job.ValidatedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}
