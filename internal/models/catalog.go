package models

import "time"

type Course struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	ExternalID      string    `json:"external_id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	Category        *string   `json:"category,omitempty"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"`
	IsPublished     *bool     `json:"is_published,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Module struct {
	ID              string   `json:"id"`
	CourseID        string   `json:"course_id"`
	ExternalID      string   `json:"external_id"`
	Title           string   `json:"title"`
	ModuleType      string   `json:"module_type"`
	Position        *float64 `json:"position,omitempty"`
	DurationMinutes *float64 `json:"duration_minutes,omitempty"`
	ContentURL      *string  `json:"content_url,omitempty"`
}

type Enrollment struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	CourseID   string     `json:"course_id"`
	Role       string     `json:"role"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	EnrolledBy string     `json:"enrolled_by"`
}

// UpsertResult reports the row id and whether the upsert inserted it.
type UpsertResult struct {
	ID      string
	Created bool
}
