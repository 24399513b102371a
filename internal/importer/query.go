package importer

import (
	"bytes"
	"context"
	"encoding/csv"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/stanstork/lms-import/internal/models"
)

const recentJobsLimit = 10

func (s *Service) GetJob(ctx context.Context, tenantID, jobID string) (models.ImportJob, error) {
	return s.loadJob(ctx, tenantID, jobID, "")
}

// ListJobs returns the tenant's jobs newest first; an empty kind lists every kind.
func (s *Service) ListJobs(ctx context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error) {
	if kind != "" && !kind.Valid() {
		return nil, ErrInvalidKind
	}
	jobs, err := s.jobs.List(ctx, tenantID, kind, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list import jobs")
	}
	return jobs, nil
}

// ListRowErrors pages through the stored errors of one phase of a job.
func (s *Service) ListRowErrors(ctx context.Context, tenantID, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error) {
	job, err := s.loadJob(ctx, tenantID, jobID, "")
	if err != nil {
		return nil, err
	}
	if phase == "" {
		phase = models.PhaseDryRun
	}
	rowErrors, err := s.jobs.ListRowErrors(ctx, job.ID, phase, clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, errors.Wrap(err, "list row errors")
	}
	return rowErrors, nil
}

// Template renders the CSV header line a file of the kind should start with.
func Template(kind models.ImportKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	fields := Catalog(kind)
	header := make([]string, 0, len(fields))
	for _, f := range fields {
		header = append(header, f.Name)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Summary gathers per-kind status counts and the latest jobs concurrently for the dashboard.
func (s *Service) Summary(ctx context.Context, tenantID string) (models.ImportStat, error) {
	kinds := []models.ImportKind{models.KindCoursesModules, models.KindUsersEnrollments}
	stats := make([]models.ImportKindStat, len(kinds))
	var recent []models.ImportJob

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			counts, err := s.jobs.CountByStatus(gctx, tenantID, kind)
			if err != nil {
				return errors.Wrapf(err, "count %s jobs", kind)
			}
			stat := models.ImportKindStat{Kind: kind, ByStatus: make(map[models.ImportStatus]int, len(models.AllImportStatuses))}
			for _, status := range models.AllImportStatuses {
				stat.ByStatus[status] = counts[status]
				stat.Total += counts[status]
			}
			stats[i] = stat
			return nil
		})
	}
	g.Go(func() error {
		jobs, err := s.jobs.List(gctx, tenantID, "", recentJobsLimit, 0)
		if err != nil {
			return errors.Wrap(err, "list recent jobs")
		}
		recent = jobs
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.ImportStat{}, err
	}

	var completed, finished int
	for _, stat := range stats {
		completed += stat.ByStatus[models.StatusCompleted]
		finished += stat.ByStatus[models.StatusCompleted] + stat.ByStatus[models.StatusCompletedWithErrors] + stat.ByStatus[models.StatusFailed]
	}
	out := models.ImportStat{Kinds: stats, Recent: recent}
	if out.Recent == nil {
		out.Recent = []models.ImportJob{}
	}
	if finished > 0 {
		out.SuccessRate = float64(completed) / float64(finished)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
