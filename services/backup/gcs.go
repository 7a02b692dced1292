package backup

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSUploader copies archives to a Cloud Storage bucket, using the default application credentials.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

var _ Uploader = (*GCSUploader)(nil)

func NewGCSUploader(ctx context.Context, bucket string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, localPath, objectName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "opening archive")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "copying %s to gs://%s", objectName, u.bucket)
	}
	return errors.Wrapf(w.Close(), "closing gs://%s/%s", u.bucket, objectName)
}

func (u *GCSUploader) Close() error { return u.client.Close() }
