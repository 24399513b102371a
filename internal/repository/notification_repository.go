package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/stanstork/lms-import/internal/models"
)

const defaultNotificationLimit = 25

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	List(ctx context.Context, tenantID string, filter models.NotificationFilter) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, tenantID string) (int64, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	TenantID string
	JobID    string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, tenant_id, job_id, event_type, severity, title, message, metadata, created_at, read_at`

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	query := `
		INSERT INTO tenant.notifications (tenant_id, job_id, event_type, severity, title, message, metadata)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)
		RETURNING ` + notificationColumns

	var metadata []byte
	if len(params.Metadata) > 0 {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal notification metadata: %w", err)
		}
		metadata = raw
	}

	row := r.db.QueryRowContext(ctx, query,
		params.TenantID,
		params.JobID,
		params.Event,
		params.Severity,
		params.Title,
		params.Message,
		metadata,
	)
	return scanNotification(row)
}

// List returns the tenant's notifications newest first, optionally only unread ones or those of one job.
func (r *notificationRepository) List(ctx context.Context, tenantID string, filter models.NotificationFilter) ([]models.Notification, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultNotificationLimit
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM tenant.notifications
		WHERE tenant_id = $1
		  AND (NOT $2 OR read_at IS NULL)
		  AND ($3 = '' OR job_id::text = $3)
		ORDER BY created_at DESC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, tenantID, filter.UnreadOnly, filter.JobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	return notifications, rows.Err()
}

// MarkRead keeps the first read time when called again; an unknown id yields sql.ErrNoRows.
func (r *notificationRepository) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	query := `
		UPDATE tenant.notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + notificationColumns
	return scanNotification(r.db.QueryRowContext(ctx, query, notificationID, tenantID))
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, tenantID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenant.notifications
		SET read_at = NOW()
		WHERE tenant_id = $1 AND read_at IS NULL`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif    models.Notification
		jobID    sql.NullString
		metadata []byte
		readAt   sql.NullTime
	)
	err := scanner.Scan(
		&notif.ID,
		&notif.TenantID,
		&jobID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadata,
		&notif.CreatedAt,
		&readAt,
	)
	if err != nil {
		return models.Notification{}, err
	}
	if jobID.Valid {
		notif.JobID = &jobID.String
	}
	if len(metadata) > 0 {
		notif.Metadata = metadata
	}
	if readAt.Valid {
		notif.ReadAt = &readAt.Time
	}
	return notif, nil
}
