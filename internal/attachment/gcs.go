package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSUploader writes images to a Cloud Storage bucket and returns gs:// references.
type GCSUploader struct {
	client *storage.Client
	bucket string
	newID  func() string
}

// NewGCSUploader creates a client with application default credentials
// unless opts say otherwise.
func NewGCSUploader(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, newID: uuid.NewString}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, localPath, folder string) (string, error) {
	name, contentType, err := objectName(localPath, folder, u.newID())
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	w := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload to gs://%s/%s: %w", u.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", u.bucket, name, err)
	}

	ref := fmt.Sprintf("gs://%s/%s", u.bucket, name)
	slog.InfoContext(ctx, "Image uploaded", "reference", ref, "content_type", contentType)
	return ref, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}
