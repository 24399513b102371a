package notification

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stanstork/lms-import/internal/models"
)

// Notifier delivers an already persisted notification to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// LogNotifier writes every notification to the service log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, notif models.Notification) error {
	level := zerolog.InfoLevel
	switch notif.Severity {
	case models.NotificationSeverityWarning:
		level = zerolog.WarnLevel
	case models.NotificationSeverityError:
		level = zerolog.ErrorLevel
	}

	evt := n.logger.WithLevel(level).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("tenant_id", notif.TenantID)
	if notif.JobID != nil {
		evt = evt.Str("job_id", *notif.JobID)
	}
	if len(notif.Metadata) > 0 {
		evt = evt.RawJSON("metadata", notif.Metadata)
	}
	evt.Msg(notif.Title)
	return nil
}

func (n *LogNotifier) String() string { return "log" }

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
