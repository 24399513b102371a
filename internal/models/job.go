package models

import (
	"encoding/json"
	"time"
)

type ImportKind string

const (
	KindCoursesModules   ImportKind = "courses_modules"
	KindUsersEnrollments ImportKind = "users_enrollments"
)

var kindSlugs = map[string]ImportKind{
	"courses-modules":   KindCoursesModules,
	"users-enrollments": KindUsersEnrollments,
}

func (k ImportKind) Valid() bool {
	return k == KindCoursesModules || k == KindUsersEnrollments
}

// Slug is the URL form of the kind.
func (k ImportKind) Slug() string {
	for slug, kind := range kindSlugs {
		if kind == k {
			return slug
		}
	}
	return ""
}

// ParseImportKind accepts either the stored form ("courses_modules") or the URL slug ("courses-modules").
func ParseImportKind(raw string) (ImportKind, bool) {
	if kind, ok := kindSlugs[raw]; ok {
		return kind, true
	}
	kind := ImportKind(raw)
	return kind, kind.Valid()
}

type ImportStatus string

const (
	StatusUploaded            ImportStatus = "uploaded"
	StatusMapped              ImportStatus = "mapped"
	StatusValidated           ImportStatus = "validated"
	StatusProcessing          ImportStatus = "processing"
	StatusCompleted           ImportStatus = "completed"
	StatusCompletedWithErrors ImportStatus = "completed_with_errors"
	StatusFailed              ImportStatus = "failed"
)

var AllImportStatuses = []ImportStatus{
	StatusUploaded,
	StatusMapped,
	StatusValidated,
	StatusProcessing,
	StatusCompleted,
	StatusCompletedWithErrors,
	StatusFailed,
}

// Terminal reports whether the job has left the editable part of the pipeline.
func (s ImportStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// Editable reports whether mapping and dry-run may still run on the job.
func (s ImportStatus) Editable() bool {
	switch s {
	case StatusUploaded, StatusMapped, StatusValidated:
		return true
	}
	return false
}

type ImportJob struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Kind         ImportKind      `json:"kind" db:"kind"`
	Status       ImportStatus    `json:"status" db:"status"`
	FilePath     string          `json:"file_path" db:"file_path"`
	FileName     string          `json:"file_name" db:"file_name"`
	ContentType  string          `json:"content_type" db:"content_type"`
	FileSize     int64           `json:"file_size" db:"file_size"`
	CreatedBy    string          `json:"created_by" db:"created_by"`
	TotalRows    int             `json:"total_rows" db:"total_rows"`
	CreatedCount int             `json:"created_count" db:"created_count"`
	UpdatedCount int             `json:"updated_count" db:"updated_count"`
	SkippedCount int             `json:"skipped_count" db:"skipped_count"`
	ErrorCount   int             `json:"error_count" db:"error_count"`
	Totals       json.RawMessage `json:"totals,omitempty" db:"totals"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	ValidatedAt  *time.Time      `json:"validated_at,omitempty" db:"validated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

type MappingEntry struct {
	SourceColumn string `json:"source_column" validate:"required"`
	TargetField  string `json:"target_field" validate:"required"`
	Required     bool   `json:"required"`
}

type ImportPhase string

const (
	PhaseDryRun ImportPhase = "dry_run"
	PhaseCommit ImportPhase = "commit"
)

type ImportRowError struct {
	JobID     string            `json:"job_id,omitempty"`
	Phase     ImportPhase       `json:"phase,omitempty"`
	RowNumber int               `json:"row_number"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Raw       map[string]string `json:"raw,omitempty"`
}

// JobCounts is what a finished run writes back onto the job row.
type JobCounts struct {
	TotalRows int
	Created   int
	Updated   int
	Skipped   int
	Errors    int
	Totals    interface{}
}
