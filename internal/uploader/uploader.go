// Package uploader publishes finished report directories to object storage.
package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"shadowcheck/internal/config"

	"github.com/pkg/errors"
)

// Uploader copies a report directory to remote storage.
type Uploader interface {
	Enabled() bool
	// UploadDir returns the remote location of dir.
	UploadDir(ctx context.Context, dir string) (string, error)
}

// NoopUploader is used when no backend is configured.
type NoopUploader struct{}

func (NoopUploader) Enabled() bool { return false }

func (NoopUploader) UploadDir(context.Context, string) (string, error) {
	return "", nil
}

// New picks the configured backend. GCS wins when both are enabled.
func New(storage config.StorageConfig) (Uploader, error) {
	switch {
	case storage.GCS.Enabled:
		up, err := NewGCS(storage.GCS)
		return up, errors.Wrap(err, "init gcs uploader")
	case storage.S3.Enabled:
		up, err := NewS3(storage.S3)
		return up, errors.Wrap(err, "init s3 uploader")
	}
	return NoopUploader{}, nil
}

type object struct {
	path string
	key  string
}

// objects lists the regular files of dir with their object keys under
// prefix/<dir base>/.
func objects(dir, prefix string) (objs []object, root string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", err
	}
	root = filepath.Base(dir) + "/"
	if p := strings.Trim(prefix, "/"); p != "" {
		root = p + "/" + root
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		objs = append(objs, object{
			path: filepath.Join(dir, entry.Name()),
			key:  root + entry.Name(),
		})
	}
	return objs, root, nil
}
