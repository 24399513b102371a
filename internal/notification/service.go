package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/repository"
)

type Event struct {
	TenantID string
	JobID    string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyImportValidated(ctx context.Context, job models.ImportJob, rows int) error
	NotifyImportCompleted(ctx context.Context, job models.ImportJob) error
	NotifyImportFailed(ctx context.Context, job models.ImportJob, reason string) error
	List(ctx context.Context, tenantID string, filter models.NotificationFilter) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, tenantID string) (int64, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	tenantID := strings.TrimSpace(evt.TenantID)
	if tenantID == "" {
		return models.Notification{}, fmt.Errorf("tenant is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		TenantID: tenantID,
		JobID:    strings.TrimSpace(evt.JobID),
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	}
	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyImportValidated(ctx context.Context, job models.ImportJob, rows int) error {
	_, err := s.Publish(ctx, Event{
		TenantID: job.TenantID,
		JobID:    job.ID,
		Event:    models.NotificationEventImportValidated,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("Import ready to commit: %s", jobName(job)),
		Message:  fmt.Sprintf("All %d rows passed validation.", rows),
		Metadata: jobMetadata(job, map[string]interface{}{"rows": rows}),
	})
	return err
}

func (s *service) NotifyImportCompleted(ctx context.Context, job models.ImportJob) error {
	severity := models.NotificationSeverityInfo
	message := "Every row was imported."
	if job.Status == models.StatusCompletedWithErrors {
		severity = models.NotificationSeverityWarning
		message = "Some rows could not be imported; see the job's commit errors."
	}
	_, err := s.Publish(ctx, Event{
		TenantID: job.TenantID,
		JobID:    job.ID,
		Event:    models.NotificationEventImportCompleted,
		Severity: severity,
		Title:    fmt.Sprintf("Import finished: %s", jobName(job)),
		Message:  message,
		Metadata: jobMetadata(job, map[string]interface{}{"status": job.Status}),
	})
	return err
}

func (s *service) NotifyImportFailed(ctx context.Context, job models.ImportJob, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	_, err := s.Publish(ctx, Event{
		TenantID: job.TenantID,
		JobID:    job.ID,
		Event:    models.NotificationEventImportFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Import failed: %s", jobName(job)),
		Message:  reason,
		Metadata: jobMetadata(job, map[string]interface{}{"reason": reason}),
	})
	return err
}

func (s *service) List(ctx context.Context, tenantID string, filter models.NotificationFilter) ([]models.Notification, error) {
	return s.repo.List(ctx, tenantID, filter)
}

func (s *service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, tenantID, notificationID)
}

func (s *service) MarkAllRead(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Str("tenant_id", tenantID).Int64("count", n).Msg("notifications marked read")
	return n, nil
}

func jobName(job models.ImportJob) string {
	if name := strings.TrimSpace(job.FileName); name != "" {
		return name
	}
	return job.ID
}

func jobMetadata(job models.ImportJob, extra map[string]interface{}) map[string]interface{} {
	metadata := map[string]interface{}{
		"kind": job.Kind,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	return metadata
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
