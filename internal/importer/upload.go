package importer

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/stanstork/lms-import/internal/models"
	"github.com/stanstork/lms-import/internal/storage"
)

// UploadInput is one spreadsheet posted for import.
type UploadInput struct {
	TenantID    string
	UserID      string
	Kind        models.ImportKind
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var allowedExtensions = []string{".csv", ".xls", ".xlsx"}

// mimeExtensions maps the declared content types we accept to the extension used for parsing.
var mimeExtensions = map[string]string{
	"text/csv":                 ".csv",
	"application/csv":          ".csv",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// sniffParents is the detected type each extension must descend from.
var sniffParents = map[string]string{
	".csv":  "text/plain",
	".xlsx": "application/zip",
	".xls":  "application/x-ole-storage",
}

// Upload stores the file under the uploader's prefix and opens an `uploaded` job for it.
func (s *Service) Upload(ctx context.Context, in UploadInput) (models.ImportJob, error) {
	if !in.Kind.Valid() {
		return models.ImportJob{}, ErrInvalidKind
	}
	if in.Body == nil || strings.TrimSpace(in.FileName) == "" {
		return models.ImportJob{}, ErrMissingFile
	}
	if in.Size > s.cfg.MaxUploadBytes {
		return models.ImportJob{}, ErrFileTooLarge
	}

	name, err := acceptedFileName(in.FileName, in.ContentType)
	if err != nil {
		return models.ImportJob{}, err
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return models.ImportJob{}, errors.Wrap(err, "read upload")
	}
	if len(data) == 0 {
		return models.ImportJob{}, ErrMissingFile
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return models.ImportJob{}, ErrFileTooLarge
	}
	if !contentMatches(path.Ext(name), data) {
		return models.ImportJob{}, ErrUnsupportedFileType
	}

	key := storage.ObjectPath(in.UserID, name, s.now())
	size, err := s.files.Put(ctx, key, bytes.NewReader(data))
	if err != nil {
		return models.ImportJob{}, errors.Wrap(err, "store upload")
	}

	job, err := s.jobs.Create(ctx, models.ImportJob{
		TenantID:    in.TenantID,
		Kind:        in.Kind,
		Status:      models.StatusUploaded,
		FilePath:    key,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		FileSize:    size,
		CreatedBy:   in.UserID,
	})
	if err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("path", key).Msg("Failed to remove orphaned upload")
		}
		return models.ImportJob{}, errors.Wrap(err, "create import job")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("path", key).
		Int64("size", size).
		Msg("Import file uploaded")
	return job, nil
}

// acceptedFileName checks the extension/MIME allow-list and returns the name to store,
// with the extension implied by the content type appended when the name has none we know.
func acceptedFileName(name, contentType string) (string, error) {
	ext := strings.ToLower(path.Ext(name))
	if contains(allowedExtensions, ext) {
		return name, nil
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if implied, ok := mimeExtensions[mediaType]; ok {
		return name + implied, nil
	}
	return "", ErrUnsupportedFileType
}

// contentMatches rejects files whose bytes are plainly not the format their extension claims.
func contentMatches(ext string, data []byte) bool {
	parent, ok := sniffParents[strings.ToLower(ext)]
	if !ok {
		return false
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is(parent) {
			return true
		}
	}
	return false
}
