package importer

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrJobNotFound         = errors.New("import job not found")
	ErrFileMissing         = errors.New("import file missing from storage")
	ErrMissingFile         = errors.New("file is required")
	ErrUnsupportedFileType = errors.New("file type not allowed, use .csv, .xls or .xlsx")
	ErrFileTooLarge        = errors.New("file exceeds the upload size limit")
	ErrInvalidKind         = errors.New("unknown import kind")
	ErrJobNotReady         = errors.New("import job is not in a state that allows this operation")
	ErrMappingChanged      = errors.New("mapping differs from the validated mapping, run the dry-run again")

	errCourseMissing = errors.New("course does not exist")
)

// MappingError reports a mapping the caller must fix before any row can be read.
type MappingError struct {
	Problems []string
}

func (e *MappingError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid mapping: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid mapping: %d problems, first: %s", len(e.Problems), e.Problems[0])
}
