package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/repository"
)

type fakeRepo struct {
	created []repository.CreateNotificationParams
	err     error
}

func (f *fakeRepo) Create(_ context.Context, params repository.CreateNotificationParams) (models.Notification, error) {
	if f.err != nil {
		return models.Notification{}, f.err
	}
	f.created = append(f.created, params)
	meta, _ := json.Marshal(params.Metadata)
	notif := models.Notification{
		ID:        "n-1",
		TenantID:  params.TenantID,
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
		Metadata:  meta,
	}
	if params.JobID != "" {
		notif.JobID = &params.JobID
	}
	return notif, nil
}

func (f *fakeRepo) List(context.Context, string, models.NotificationFilter) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeRepo) MarkAllRead(context.Context, string) (int64, error) {
	return 3, nil
}

func (f *fakeRepo) MarkRead(context.Context, string, string) (models.Notification, error) {
	return models.Notification{}, nil
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, models.Notification) error {
	n.calls++
	return errors.New("channel down")
}

func TestNotifyImportFailedPersistsAndFansOut(t *testing.T) {
	repo := &fakeRepo{}
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	broken := &failingNotifier{}
	svc := NewService(repo, logger, NewLogNotifier(logger), nil, broken)

	job := models.ImportJob{ID: "job-1", TenantID: "tenant-1", Kind: models.KindUsersEnrollments, FileName: "users.xlsx"}
	require.NoError(t, svc.NotifyImportFailed(context.Background(), job, "  "))

	require.Len(t, repo.created, 1)
	params := repo.created[0]
	assert.Equal(t, models.NotificationEventImportFailed, params.Event)
	assert.Equal(t, models.NotificationSeverityError, params.Severity)
	assert.Equal(t, "Import failed: users.xlsx", params.Title)
	assert.Equal(t, "Unknown error", params.Message)
	assert.Equal(t, "tenant-1", params.TenantID)
	assert.Equal(t, "job-1", params.JobID)
	assert.Equal(t, models.KindUsersEnrollments, params.Metadata["kind"])

	assert.Equal(t, 1, broken.calls)
	assert.Contains(t, logs.String(), `"notifier":"log"`)
	assert.Contains(t, logs.String(), `"job_id":"job-1"`)
	assert.Contains(t, logs.String(), "failed to deliver notification")
}

func TestNotifyImportCompletedWithErrorsWarns(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, zerolog.Nop())

	job := models.ImportJob{ID: "job-2", TenantID: "tenant-1", Status: models.StatusCompletedWithErrors}
	require.NoError(t, svc.NotifyImportCompleted(context.Background(), job))

	require.Len(t, repo.created, 1)
	assert.Equal(t, models.NotificationSeverityWarning, repo.created[0].Severity)
	assert.Equal(t, "Import finished: job-2", repo.created[0].Title)
}

func TestPublishRequiresEvent(t *testing.T) {
	svc := NewService(&fakeRepo{}, zerolog.Nop())
	_, err := svc.Publish(context.Background(), Event{TenantID: "tenant-1"})
	require.Error(t, err)
}

func TestPublishRequiresTenant(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, zerolog.Nop())
	_, err := svc.Publish(context.Background(), Event{Event: models.NotificationEventImportFailed, TenantID: " "})
	require.Error(t, err)
	assert.Empty(t, repo.created)
}

func TestPublishReturnsStoreError(t *testing.T) {
	svc := NewService(&fakeRepo{err: errors.New("db down")}, zerolog.Nop())
	err := svc.NotifyImportValidated(context.Background(), models.ImportJob{ID: "job-3", TenantID: "tenant-1"}, 4)
	require.EqualError(t, err, "db down")
}

func TestMarkAllReadPassesThrough(t *testing.T) {
	svc := NewService(&fakeRepo{}, zerolog.Nop())
	n, err := svc.MarkAllRead(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
