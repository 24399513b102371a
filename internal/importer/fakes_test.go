package importer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/storage"
)

const (
	testTenant = "tenant-1"
	testAdmin  = "admin-1"
)

type memJobs struct {
	mu       sync.Mutex
	seq      int
	jobs     map[string]models.ImportJob
	mappings map[string][]models.MappingEntry
	errors   map[string][]models.ImportRowError
	counts   map[string]models.JobCounts
}

func newMemJobs() *memJobs {
	return &memJobs{
		jobs:     make(map[string]models.ImportJob),
		mappings: make(map[string][]models.MappingEntry),
		errors:   make(map[string][]models.ImportRowError),
		counts:   make(map[string]models.JobCounts),
	}
}

func errorsKey(jobID string, phase models.ImportPhase) string { return jobID + "/" + string(phase) }

func (m *memJobs) Create(_ context.Context, job models.ImportJob) (models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.CreatedAt = time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
	job.UpdatedAt = job.CreatedAt
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memJobs) Get(_ context.Context, tenantID, jobID string) (models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return models.ImportJob{}, sql.ErrNoRows
	}
	return job, nil
}

func (m *memJobs) List(_ context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ImportJob
	for _, job := range m.jobs {
		if job.TenantID == tenantID && (kind == "" || job.Kind == kind) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) CountByStatus(_ context.Context, tenantID string, kind models.ImportKind) (map[models.ImportStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.ImportStatus]int)
	for _, job := range m.jobs {
		if job.TenantID == tenantID && job.Kind == kind {
			out[job.Status]++
		}
	}
	return out, nil
}

func (m *memJobs) UpdateStatus(_ context.Context, tenantID, jobID string, from []models.ImportStatus, to models.ImportStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return false, nil
	}
	if len(from) > 0 {
		allowed := false
		for _, s := range from {
			allowed = allowed || s == job.Status
		}
		if !allowed {
			return false, nil
		}
	}
	job.Status = to
	m.jobs[jobID] = job
	return true, nil
}

func (m *memJobs) SaveResult(_ context.Context, tenantID, jobID string, status models.ImportStatus, counts models.JobCounts, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.TenantID != tenantID {
		return sql.ErrNoRows
	}
	job.Status = status
	job.TotalRows = counts.TotalRows
	job.CreatedCount = counts.Created
	job.UpdatedCount = counts.Updated
	job.SkippedCount = counts.Skipped
	job.ErrorCount = counts.Errors
	job.ErrorMessage = nil
	if errMsg != "" {
		job.ErrorMessage = &errMsg
	}
	m.jobs[jobID] = job
	m.counts[jobID] = counts
	return nil
}

func (m *memJobs) SaveMapping(_ context.Context, jobID string, mapping []models.MappingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[jobID] = append([]models.MappingEntry(nil), mapping...)
	return nil
}

func (m *memJobs) GetMapping(_ context.Context, jobID string) ([]models.MappingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mappings[jobID], nil
}

func (m *memJobs) ReplaceRowErrors(_ context.Context, jobID string, phase models.ImportPhase, rowErrors []models.ImportRowError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[errorsKey(jobID, phase)] = append([]models.ImportRowError(nil), rowErrors...)
	return nil
}

func (m *memJobs) ListRowErrors(_ context.Context, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.errors[errorsKey(jobID, phase)]
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memJobs) status(jobID string) models.ImportStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[jobID].Status
}

type memCatalog struct {
	mu          sync.Mutex
	seq         int
	courses     map[string]models.Course // tenant/external id
	modules     map[string]models.Module // course id/external id
	enrollments map[string]models.Enrollment
	failCourse  string
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		courses:     make(map[string]models.Course),
		modules:     make(map[string]models.Module),
		enrollments: make(map[string]models.Enrollment),
	}
}

func (c *memCatalog) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

func (c *memCatalog) UpsertCourse(_ context.Context, course models.Course) (models.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if course.ExternalID == c.failCourse {
		return models.UpsertResult{}, fmt.Errorf("constraint violation")
	}
	key := course.TenantID + "/" + course.ExternalID
	if existing, ok := c.courses[key]; ok {
		course.ID = existing.ID
		course.CreatedBy = existing.CreatedBy
		c.courses[key] = course
		return models.UpsertResult{ID: course.ID}, nil
	}
	course.ID = c.nextID("course")
	c.courses[key] = course
	return models.UpsertResult{ID: course.ID, Created: true}, nil
}

func (c *memCatalog) UpsertModule(_ context.Context, module models.Module) (models.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := module.CourseID + "/" + module.ExternalID
	if existing, ok := c.modules[key]; ok {
		module.ID = existing.ID
		c.modules[key] = module
		return models.UpsertResult{ID: module.ID}, nil
	}
	module.ID = c.nextID("module")
	c.modules[key] = module
	return models.UpsertResult{ID: module.ID, Created: true}, nil
}

func (c *memCatalog) FindCourseIDs(_ context.Context, tenantID string, externalIDs []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for _, ext := range externalIDs {
		if course, ok := c.courses[tenantID+"/"+ext]; ok {
			out[ext] = course.ID
		}
	}
	return out, nil
}

func (c *memCatalog) UpsertEnrollment(_ context.Context, e models.Enrollment) (models.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := e.UserID + "/" + e.CourseID
	if existing, ok := c.enrollments[key]; ok {
		e.ID = existing.ID
		c.enrollments[key] = e
		return models.UpsertResult{ID: e.ID}, nil
	}
	e.ID = c.nextID("enrollment")
	c.enrollments[key] = e
	return models.UpsertResult{ID: e.ID, Created: true}, nil
}

func (c *memCatalog) seedCourse(externalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[testTenant+"/"+externalID] = models.Course{ID: c.nextID("course"), TenantID: testTenant, ExternalID: externalID, Title: externalID}
}

type memAccounts struct {
	mu       sync.Mutex
	users    map[string]models.User
	profiles map[string]models.Profile
}

func newMemAccounts() *memAccounts {
	return &memAccounts{users: make(map[string]models.User), profiles: make(map[string]models.Profile)}
}

func (a *memAccounts) FindUserByEmail(_ context.Context, tenantID, email string) (models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[tenantID+"/"+strings.ToLower(email)]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (a *memAccounts) CreateUser(_ context.Context, user models.User, password string, profile models.Profile) (models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if password == "" {
		return models.User{}, fmt.Errorf("password required")
	}
	user.ID = fmt.Sprintf("user-%d", len(a.users)+1)
	a.users[user.TenantID+"/"+user.Email] = user
	profile.UserID = user.ID
	a.profiles[user.ID] = profile
	return user, nil
}

type notice struct {
	event models.NotificationEvent
	jobID string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notice
}

func (n *recordingNotifier) add(event models.NotificationEvent, job models.ImportJob) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notice{event: event, jobID: job.ID})
	return nil
}

func (n *recordingNotifier) NotifyImportValidated(_ context.Context, job models.ImportJob, _ int) error {
	return n.add(models.NotificationEventImportValidated, job)
}

func (n *recordingNotifier) NotifyImportCompleted(_ context.Context, job models.ImportJob) error {
	return n.add(models.NotificationEventImportCompleted, job)
}

func (n *recordingNotifier) NotifyImportFailed(_ context.Context, job models.ImportJob, _ string) error {
	return n.add(models.NotificationEventImportFailed, job)
}

type harness struct {
	svc      *Service
	jobs     *memJobs
	catalog  *memCatalog
	accounts *memAccounts
	bucket   *storage.Bucket
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bucket, err := storage.NewBucket(afero.NewMemMapFs(), "/imports")
	require.NoError(t, err)

	h := &harness{
		jobs:     newMemJobs(),
		catalog:  newMemCatalog(),
		accounts: newMemAccounts(),
		bucket:   bucket,
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(Deps{
		Jobs:        h.jobs,
		Courses:     h.catalog,
		Accounts:    h.accounts,
		Enrollments: h.catalog,
		Files:       bucket,
		Notifier:    h.notifier,
	}, Config{}, zerolog.Nop())
	h.svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return h
}

func (h *harness) upload(t *testing.T, kind models.ImportKind, name, content string) models.ImportJob {
	t.Helper()
	job, err := h.svc.Upload(context.Background(), UploadInput{
		TenantID:    testTenant,
		UserID:      testAdmin,
		Kind:        kind,
		FileName:    name,
		ContentType: "text/csv",
		Size:        int64(len(content)),
		Body:        strings.NewReader(content),
	})
	require.NoError(t, err)
	return job
}

// validated uploads, dry-runs with mapping and requires the job to reach `validated`.
func (h *harness) validated(t *testing.T, kind models.ImportKind, content string, mapping []models.MappingEntry) models.ImportJob {
	t.Helper()
	job := h.upload(t, kind, "import.csv", content)
	res, err := h.svc.DryRun(context.Background(), testTenant, job.ID, kind, mapping)
	require.NoError(t, err)
	require.Equal(t, models.StatusValidated, res.Status, "dry-run errors: %+v", res.SampleErrors)
	return job
}

func identity(fields ...string) []models.MappingEntry {
	out := make([]models.MappingEntry, 0, len(fields))
	for _, f := range fields {
		out = append(out, models.MappingEntry{SourceColumn: f, TargetField: f})
	}
	return out
}

// dbBoundJobs fails writes on a done context, the way database/sql does.
type dbBoundJobs struct {
	*memJobs
}

func (j dbBoundJobs) SaveResult(ctx context.Context, tenantID, jobID string, status models.ImportStatus, counts models.JobCounts, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.memJobs.SaveResult(ctx, tenantID, jobID, status, counts, errMsg)
}

func (j dbBoundJobs) ReplaceRowErrors(ctx context.Context, jobID string, phase models.ImportPhase, rowErrors []models.ImportRowError) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return j.memJobs.ReplaceRowErrors(ctx, jobID, phase, rowErrors)
}

// cancelAfterFirstCourse cancels the request context once a course has been written.
type cancelAfterFirstCourse struct {
	*memCatalog
	cancel context.CancelFunc
}

func (c cancelAfterFirstCourse) UpsertCourse(ctx context.Context, course models.Course) (models.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return models.UpsertResult{}, err
	}
	res, err := c.memCatalog.UpsertCourse(ctx, course)
	c.cancel()
	return res, err
}

type brokenLookups struct {
	*memCatalog
}

func (brokenLookups) FindCourseIDs(context.Context, string, []string) (map[string]string, error) {
	return nil, fmt.Errorf("connection reset")
}

// withStores builds a second service over the harness stores with some of them swapped.
func (h *harness) withStores(jobs JobStore, courses CourseStore) *Service {
	return NewService(Deps{
		Jobs:        jobs,
		Courses:     courses,
		Accounts:    h.accounts,
		Enrollments: h.catalog,
		Files:       h.bucket,
		Notifier:    h.notifier,
	}, Config{}, zerolog.Nop())
}
