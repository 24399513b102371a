package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/stanstork/lms-import/internal/authz"
	"github.com/stanstork/lms-import/internal/importer"
	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/storage"
)

// multipart overhead allowed on top of the file itself
const formSlack = 1 << 20

type ImportService interface {
	Upload(ctx context.Context, in importer.UploadInput) (models.ImportJob, error)
	SaveMapping(ctx context.Context, tenantID, jobID string, kind models.ImportKind, mapping []models.MappingEntry) (importer.MappingResult, error)
	DryRun(ctx context.Context, tenantID, jobID string, kind models.ImportKind, inline []models.MappingEntry) (importer.DryRunResult, error)
	Commit(ctx context.Context, in importer.CommitInput) (importer.CommitResult, error)
	GetJob(ctx context.Context, tenantID, jobID string) (models.ImportJob, error)
	ListJobs(ctx context.Context, tenantID string, kind models.ImportKind, limit, offset int) ([]models.ImportJob, error)
	ListRowErrors(ctx context.Context, tenantID, jobID string, phase models.ImportPhase, limit, offset int) ([]models.ImportRowError, error)
	Summary(ctx context.Context, tenantID string) (models.ImportStat, error)
}

type ImportHandler struct {
	service        ImportService
	maxUploadBytes int64
	logger         zerolog.Logger
}

func NewImportHandler(service ImportService, maxUploadBytes int64, logger zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With().Str("handler", "import").Logger(),
	}
}

// mappingPayload accepts either an ordered entry list or a source column -> target field object.
type mappingPayload struct {
	Mapping  json.RawMessage `json:"mapping"`
	Required []string        `json:"required"`
}

func (p mappingPayload) entries() ([]models.MappingEntry, error) {
	raw := bytes.TrimSpace(p.Mapping)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []models.MappingEntry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for i := range list {
			if contains(p.Required, list[i].TargetField) {
				list[i].Required = true
			}
		}
		return list, nil
	}
	var dict map[string]string
	if err := json.Unmarshal(raw, &dict); err != nil {
		return nil, err
	}
	return importer.MappingFromDict(dict, p.Required), nil
}

func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formSlack)
	if err := r.ParseMultipartForm(formSlack); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, importer.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	if declared := strings.TrimSpace(r.FormValue("kind")); declared != "" {
		if k, ok := models.ParseImportKind(declared); !ok || k != kind {
			writeError(w, http.StatusBadRequest, "kind field does not match the upload URL")
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, importer.ErrMissingFile)
		return
	}
	defer file.Close()

	job, err := h.service.Upload(r.Context(), importer.UploadInput{
		TenantID:    tenantID,
		UserID:      userID,
		Kind:        kind,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"job_id":  job.ID,
		"job":     job,
	})
}

func (h *ImportHandler) SaveMapping(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	mapping, ok := decodeMapping(w, r, true)
	if !ok {
		return
	}

	res, err := h.service.SaveMapping(r.Context(), tenantID, jobID, kind, mapping)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		importer.MappingResult
	}{true, res})
}

func (h *ImportHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	mapping, ok := decodeMapping(w, r, false)
	if !ok {
		return
	}

	res, err := h.service.DryRun(r.Context(), tenantID, jobID, kind, mapping)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		importer.DryRunResult
	}{true, res})
}

func (h *ImportHandler) Commit(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	mapping, ok := decodeMapping(w, r, false)
	if !ok {
		return
	}

	res, err := h.service.Commit(r.Context(), importer.CommitInput{
		TenantID: tenantID,
		UserID:   userID,
		JobID:    jobID,
		Kind:     kind,
		Mapping:  mapping,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var failure string
	if !res.Succeeded() {
		failure = "no row could be imported"
	}
	if res.Enrollments != nil {
		writeJSON(w, http.StatusOK, struct {
			Success bool                `json:"success"`
			Error   string              `json:"error,omitempty"`
			JobID   string              `json:"job_id"`
			Status  models.ImportStatus `json:"status"`
			importer.EnrollmentTotals
			Errors []models.ImportRowError `json:"errors"`
		}{res.Succeeded(), failure, res.JobID, res.Status, *res.Enrollments, res.Errors})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
		importer.CommitResult
	}{res.Succeeded(), failure, res})
}

func (h *ImportHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	job, err := h.service.GetJob(r.Context(), tenantID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "job": job})
}

func (h *ImportHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	var kind models.ImportKind
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		if kind, ok = models.ParseImportKind(raw); !ok {
			h.fail(w, r, importer.ErrInvalidKind)
			return
		}
	}

	jobs, err := h.service.ListJobs(r.Context(), tenantID, kind, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "jobs": jobs})
}

func (h *ImportHandler) ListRowErrors(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	jobID, ok := jobIDFromPath(w, r)
	if !ok {
		return
	}
	phase := models.ImportPhase(strings.TrimSpace(r.URL.Query().Get("phase")))
	if phase != "" && phase != models.PhaseDryRun && phase != models.PhaseCommit {
		writeError(w, http.StatusBadRequest, "phase must be dry_run or commit")
		return
	}

	rowErrors, err := h.service.ListRowErrors(r.Context(), tenantID, jobID, phase, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "errors": rowErrors})
}

func (h *ImportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}
	stat, err := h.service.Summary(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		models.ImportStat
	}{true, stat})
}

func (h *ImportHandler) Template(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindFromPath(w, r)
	if !ok {
		return
	}
	body, err := importer.Template(kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(kind)+`_template.csv"`)
	w.Write(body)
}

// fail maps service errors onto the HTTP error taxonomy.
func (h *ImportHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var mappingErr *importer.MappingError
	switch {
	case errors.As(err, &mappingErr),
		errors.Is(err, importer.ErrMissingFile),
		errors.Is(err, importer.ErrUnsupportedFileType),
		errors.Is(err, importer.ErrFileTooLarge),
		errors.Is(err, importer.ErrInvalidKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, importer.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, importer.ErrFileMissing), errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, importer.ErrFileMissing.Error())
	case errors.Is(err, importer.ErrJobNotReady), errors.Is(err, importer.ErrMappingChanged):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("import request failed")
		writeError(w, http.StatusInternalServerError, "Import failed, see server logs")
	}
}

func identity(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	tenantID, ok := authz.TenantIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing tenant context")
		return "", "", false
	}
	userID, _ := authz.UserIDFromRequest(r)
	return tenantID, userID, true
}

func kindFromPath(w http.ResponseWriter, r *http.Request) (models.ImportKind, bool) {
	kind, ok := models.ParseImportKind(mux.Vars(r)["kind"])
	if !ok {
		writeError(w, http.StatusBadRequest, importer.ErrInvalidKind.Error())
		return "", false
	}
	return kind, true
}

func jobIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(mux.Vars(r)["jobID"]))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid job ID")
		return "", false
	}
	return id.String(), true
}

// decodeMapping reads an optional JSON body; required reports a missing mapping as a 400.
func decodeMapping(w http.ResponseWriter, r *http.Request, required bool) ([]models.MappingEntry, bool) {
	var payload mappingPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return nil, false
	}
	mapping, err := payload.entries()
	if err != nil {
		writeError(w, http.StatusBadRequest, "mapping must be a list of entries or a column to field object")
		return nil, false
	}
	if required && len(mapping) == 0 {
		writeError(w, http.StatusBadRequest, "mapping is required")
		return nil, false
	}
	return mapping, true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
