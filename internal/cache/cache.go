package cache

import (
	"context"

	"github.com/stanstork/lms-import/internal/sheet"
)

// TableCache keeps parsed import files between pipeline stages, keyed by job id.
type TableCache interface {
	Get(ctx context.Context, jobID string) (sheet.Table, bool, error)
	Set(ctx context.Context, jobID string, table sheet.Table) error
	Invalidate(ctx context.Context, jobID string) error
}

// Noop is used when no cache backend is configured; every stage re-parses the stored file.
type Noop struct{}

func (Noop) Get(context.Context, string) (sheet.Table, bool, error) { return sheet.Table{}, false, nil }
func (Noop) Set(context.Context, string, sheet.Table) error         { return nil }
func (Noop) Invalidate(context.Context, string) error                { return nil }
