package importer

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stanstork/lms-import/internal/cache"
	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/sheet"
)

// Config holds the limits of the import pipeline.
type Config struct {
	MaxUploadBytes   int64
	SampleErrorLimit int
	PreviewRows      int
	CommitErrorLimit int
}

func (c *Config) applyDefaults() {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.SampleErrorLimit <= 0 {
		c.SampleErrorLimit = 20
	}
	if c.PreviewRows <= 0 {
		c.PreviewRows = 5
	}
	if c.CommitErrorLimit <= 0 {
		c.CommitErrorLimit = 100
	}
}

// Deps are the stores the pipeline reads and writes. Cache and Notifier are optional.
type Deps struct {
	Jobs        JobStore
	Courses     CourseStore
	Accounts    AccountStore
	Enrollments EnrollmentStore
	Files       FileStore
	Cache       cache.TableCache
	Notifier    Notifier
}

// Service runs the upload, mapping, dry-run and commit stages of an import job.
type Service struct {
	jobs        JobStore
	courses     CourseStore
	accounts    AccountStore
	enrollments EnrollmentStore
	files       FileStore
	cache       cache.TableCache
	notifier    Notifier
	validate    *validator.Validate
	cfg         Config
	now         func() time.Time
	logger      zerolog.Logger
}

func NewService(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	cfg.applyDefaults()
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	return &Service{
		jobs:        deps.Jobs,
		courses:     deps.Courses,
		accounts:    deps.Accounts,
		enrollments: deps.Enrollments,
		files:       deps.Files,
		cache:       deps.Cache,
		notifier:    deps.Notifier,
		validate:    newValidator(),
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With().Str("component", "importer").Logger(),
	}
}

// MappingResult describes the file as seen through a freshly saved mapping.
type MappingResult struct {
	JobID           string                `json:"job_id"`
	Status          models.ImportStatus   `json:"status"`
	Mapping         []models.MappingEntry `json:"mapping"`
	Header          []string              `json:"header"`
	Rows            int                   `json:"rows"`
	Preview         []Record              `json:"preview"`
	UnmappedColumns []string              `json:"unmapped_columns"`
	MissingTargets  []string              `json:"missing_required_targets"`
}

// DryRunResult is the outcome of validating every row without writing target entities.
type DryRunResult struct {
	JobID        string                  `json:"job_id"`
	Rows         int                     `json:"rows"`
	ErrorsCount  int                     `json:"errors_count"`
	SampleErrors []models.ImportRowError `json:"sample_errors"`
	Preview      []Record                `json:"preview"`
	Status       models.ImportStatus     `json:"status"`
}

// loadJob fetches the job and checks it belongs to the expected kind.
func (s *Service) loadJob(ctx context.Context, tenantID, jobID string, kind models.ImportKind) (models.ImportJob, error) {
	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, ErrJobNotFound
		}
		return job, errors.Wrapf(err, "load import job %s", jobID)
	}
	if kind != "" && job.Kind != kind {
		return job, ErrJobNotFound
	}
	return job, nil
}

// SaveMapping replaces the job's mapping and moves it back to `mapped`.
func (s *Service) SaveMapping(ctx context.Context, tenantID, jobID string, kind models.ImportKind, mapping []models.MappingEntry) (MappingResult, error) {
	job, err := s.loadJob(ctx, tenantID, jobID, kind)
	if err != nil {
		return MappingResult{}, err
	}
	if !job.Status.Editable() {
		return MappingResult{}, ErrJobNotReady
	}
	if err := s.validateEntries(mapping); err != nil {
		return MappingResult{}, err
	}
	mapping = normalizeMapping(job.Kind, mapping)
	if err := checkMapping(job.Kind, mapping, nil); err != nil {
		return MappingResult{}, err
	}

	if err := s.cache.Invalidate(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to invalidate cached table")
	}
	table, err := s.loadTable(ctx, job)
	if err != nil {
		return MappingResult{}, s.failJob(ctx, job, err)
	}
	if err := checkMapping(job.Kind, mapping, table.Header); err != nil {
		return MappingResult{}, err
	}

	if err := s.jobs.SaveMapping(ctx, job.ID, mapping); err != nil {
		return MappingResult{}, errors.Wrap(err, "save mapping")
	}
	if _, err := s.jobs.UpdateStatus(ctx, tenantID, job.ID, nil, models.StatusMapped); err != nil {
		return MappingResult{}, errors.Wrap(err, "update job status")
	}

	rows := applyMapping(job.Kind, table, mapping)
	return MappingResult{
		JobID:           job.ID,
		Status:          models.StatusMapped,
		Mapping:         mapping,
		Header:          table.Header,
		Rows:            len(rows),
		Preview:         preview(rows, s.cfg.PreviewRows),
		UnmappedColumns: unmappedColumns(table.Header, mapping),
		MissingTargets:  missingTargets(job.Kind, mapping),
	}, nil
}

// DryRun validates every row of the stored file through the job's mapping.
// A valid inline mapping replaces the stored one without changing the status. Row errors replace the previous dry-run set.
func (s *Service) DryRun(ctx context.Context, tenantID, jobID string, kind models.ImportKind, inline []models.MappingEntry) (DryRunResult, error) {
	job, err := s.loadJob(ctx, tenantID, jobID, kind)
	if err != nil {
		return DryRunResult{}, err
	}
	if !job.Status.Editable() {
		return DryRunResult{}, ErrJobNotReady
	}

	mapping, err := s.resolveMapping(ctx, job, inline)
	if err != nil {
		return DryRunResult{}, err
	}

	table, err := s.loadTable(ctx, job)
	if err != nil {
		return DryRunResult{}, s.failJob(ctx, job, err)
	}
	if err := checkMapping(job.Kind, mapping, table.Header); err != nil {
		return DryRunResult{}, err
	}
	if len(inline) > 0 {
		if err := s.jobs.SaveMapping(ctx, job.ID, mapping); err != nil {
			return DryRunResult{}, errors.Wrap(err, "save mapping")
		}
	}

	rows := applyMapping(job.Kind, table, mapping)
	checked, err := s.validateRows(ctx, job, rows, mapping)
	if err != nil {
		return DryRunResult{}, s.failJob(ctx, job, err)
	}

	for i := range checked.Errors {
		checked.Errors[i].JobID = job.ID
		checked.Errors[i].Phase = models.PhaseDryRun
	}
	if err := s.jobs.ReplaceRowErrors(ctx, job.ID, models.PhaseDryRun, checked.Errors); err != nil {
		return DryRunResult{}, s.failJob(ctx, job, errors.Wrap(err, "save row errors"))
	}

	status := job.Status
	switch {
	case len(checked.Errors) == 0:
		status = models.StatusValidated
	case status == models.StatusValidated:
		status = models.StatusMapped
	}
	counts := models.JobCounts{TotalRows: len(rows), Errors: len(checked.Errors)}
	if err := s.jobs.SaveResult(ctx, tenantID, job.ID, status, counts, ""); err != nil {
		return DryRunResult{}, errors.Wrap(err, "save dry-run result")
	}

	logger := s.logger.With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Logger()
	logger.Info().Int("rows", len(rows)).Int("errors", len(checked.Errors)).Str("status", string(status)).Msg("Dry-run finished")

	if status == models.StatusValidated {
		job.Status = status
		s.notify(func() error { return s.notifier.NotifyImportValidated(ctx, job, len(rows)) })
	}

	return DryRunResult{
		JobID:        job.ID,
		Rows:         len(rows),
		ErrorsCount:  len(checked.Errors),
		SampleErrors: sample(checked.Errors, s.cfg.SampleErrorLimit),
		Preview:      preview(rows, s.cfg.PreviewRows),
		Status:       status,
	}, nil
}

// resolveMapping checks an inline mapping, or falls back to the stored one.
func (s *Service) resolveMapping(ctx context.Context, job models.ImportJob, inline []models.MappingEntry) ([]models.MappingEntry, error) {
	if len(inline) > 0 {
		if err := s.validateEntries(inline); err != nil {
			return nil, err
		}
		mapping := normalizeMapping(job.Kind, inline)
		if err := checkMapping(job.Kind, mapping, nil); err != nil {
			return nil, err
		}
		return mapping, nil
	}

	mapping, err := s.jobs.GetMapping(ctx, job.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load mapping")
	}
	if len(mapping) == 0 {
		return nil, &MappingError{Problems: []string{"no mapping saved for this job"}}
	}
	return normalizeMapping(job.Kind, mapping), nil
}

func (s *Service) validateEntries(mapping []models.MappingEntry) error {
	var problems []string
	for i, entry := range mapping {
		if err := s.validate.Struct(entry); err != nil {
			problems = append(problems, fmt.Sprintf("entry %d: source_column and target_field are required", i))
		}
	}
	if len(problems) > 0 {
		return &MappingError{Problems: problems}
	}
	return nil
}

// loadTable returns the parsed job file, from cache when possible.
func (s *Service) loadTable(ctx context.Context, job models.ImportJob) (sheet.Table, error) {
	if table, ok, err := s.cache.Get(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Table cache read failed, re-parsing file")
	} else if ok {
		return table, nil
	}

	rc, err := s.files.Open(ctx, job.FilePath)
	if err != nil {
		return sheet.Table{}, errors.Wrapf(ErrFileMissing, "%s: %v", job.FilePath, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return sheet.Table{}, errors.Wrap(err, "download import file")
	}
	table, err := sheet.Parse(job.FilePath, &buf)
	if err != nil {
		return sheet.Table{}, errors.Wrap(err, "parse import file")
	}

	if err := s.cache.Set(ctx, job.ID, table); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Table cache write failed")
	}
	return table, nil
}

// failJob flips the job to failed for unrecoverable stage errors and returns err unchanged.
// A missing file is reported to the caller as not found but still fails the job.
func (s *Service) failJob(ctx context.Context, job models.ImportJob, cause error) error {
	s.logger.Error().Err(cause).Str("job_id", job.ID).Msg("Import job failed")
	if err := s.jobs.SaveResult(ctx, job.TenantID, job.ID, models.StatusFailed, models.JobCounts{}, cause.Error()); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job as failed")
	}
	job.Status = models.StatusFailed
	reason := cause.Error()
	s.notify(func() error { return s.notifier.NotifyImportFailed(ctx, job, reason) })
	return cause
}

func (s *Service) notify(send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish import notification")
	}
}

func sample(rowErrors []models.ImportRowError, limit int) []models.ImportRowError {
	if len(rowErrors) > limit {
		return rowErrors[:limit]
	}
	if rowErrors == nil {
		return []models.ImportRowError{}
	}
	return rowErrors
}

func preview(rows []mappedRow, limit int) []Record {
	out := make([]Record, 0, limit)
	for _, row := range rows {
		if len(out) == limit {
			break
		}
		out = append(out, row.Record)
	}
	return out
}

func unmappedColumns(header []string, mapping []models.MappingEntry) []string {
	used := make(map[string]bool, len(mapping))
	for _, e := range mapping {
		used[e.SourceColumn] = true
	}
	out := []string{}
	for _, h := range header {
		if h != "" && !used[h] {
			out = append(out, h)
		}
	}
	return out
}

func missingTargets(kind models.ImportKind, mapping []models.MappingEntry) []string {
	mapped := make(map[string]bool, len(mapping))
	for _, e := range mapping {
		mapped[e.TargetField] = true
	}
	out := []string{}
	for _, target := range requiredTargets(kind) {
		if !mapped[target] {
			out = append(out, target)
		}
	}
	return out
}
