package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var ErrObjectNotFound = errors.New("object not found")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Bucket stores uploaded import files under a root directory of an afero filesystem.
type Bucket struct {
	fs afero.Fs
}

// NewBucket roots the bucket at dir on fs, creating the directory if needed.
func NewBucket(fs afero.Fs, dir string) (*Bucket, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage root dir is required")
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage root %s", dir)
	}
	return &Bucket{fs: afero.NewBasePathFs(fs, dir)}, nil
}

// NewOSBucket is the production bucket backed by the local disk.
func NewOSBucket(dir string) (*Bucket, error) {
	return NewBucket(afero.NewOsFs(), dir)
}

// ObjectPath builds the `{userId}/{timestamp}-{filename}` key for an upload.
func ObjectPath(userID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s", sanitize(userID), now.UnixMilli(), SanitizeFilename(filename))
}

// SanitizeFilename drops directory parts and replaces characters unsafe in object keys.
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = sanitize(base)
	if base == "" {
		return "upload"
	}
	return base
}

func sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
}

func (b *Bucket) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := b.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return 0, errors.Wrapf(err, "create directory for %s", key)
	}
	f, err := b.fs.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", key)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, errors.Wrapf(err, "write %s", key)
	}
	if err := f.Close(); err != nil {
		return n, errors.Wrapf(err, "close %s", key)
	}
	return n, nil
}

func (b *Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := b.fs.Open(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrObjectNotFound, "open %s", key)
		}
		return nil, errors.Wrapf(err, "open %s", key)
	}
	return f, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}
