package uploader

import (
	"context"
	"io"
	"os"
	"strings"

	"shadowcheck/internal/config"
	"shadowcheck/internal/util"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSUploader writes report directories to Google Cloud Storage.
type GCSUploader struct {
	cfg    config.GCSConfig
	client *storage.Client
}

// NewGCS builds the client; a disabled config yields an inert uploader.
func NewGCS(cfg config.GCSConfig) (*GCSUploader, error) {
	if !cfg.Enabled {
		return &GCSUploader{cfg: cfg}, nil
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	return &GCSUploader{cfg: cfg, client: client}, nil
}

func (u *GCSUploader) Enabled() bool {
	return u.cfg.Enabled
}

// UploadDir uploads every file of a run directory and returns its gs://
// prefix.
func (u *GCSUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("gcs uploader is not initialized")
	}
	objs, root, err := objects(dir, u.cfg.Prefix)
	if err != nil {
		return "", err
	}
	bucket := u.client.Bucket(u.cfg.Bucket)
	for _, obj := range objs {
		if err := u.put(ctx, bucket, obj); err != nil {
			return "", errors.Wrapf(err, "upload %s", obj.key)
		}
	}
	return "gs://" + u.cfg.Bucket + "/" + root, nil
}

func (u *GCSUploader) put(ctx context.Context, bucket *storage.BucketHandle, obj object) error {
	file, err := os.Open(obj.path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "gcs upload file")
	w := bucket.Object(obj.key).NewWriter(ctx)
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
