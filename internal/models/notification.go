package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventImportValidated NotificationEvent = "import_validated"
	NotificationEventImportCompleted NotificationEvent = "import_completed"
	NotificationEventImportFailed    NotificationEvent = "import_failed"
)

// Notification is an in-app message to a tenant's admins about one of its import jobs.
type Notification struct {
	ID        string               `json:"id" db:"id"`
	TenantID  string               `json:"tenant_id" db:"tenant_id"`
	JobID     *string              `json:"job_id,omitempty" db:"job_id"`
	EventType NotificationEvent    `json:"event_type" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
	ReadAt    *time.Time           `json:"read_at,omitempty" db:"read_at"`
}

type NotificationFilter struct {
	UnreadOnly bool
	JobID      string
	Limit      int
}
