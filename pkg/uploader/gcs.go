package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader publishes archives as objects in a Google Cloud Storage
// bucket, giving the "object store" half of spec.md §6's file
// uploader interface a real implementation.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader creates a GCSUploader writing into bucket.
// credentialsFile may be empty, in which case the client falls back to
// application-default credentials.
func NewGCSUploader(ctx context.Context, bucket, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("credentials file %q: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// Upload streams localPath into the bucket under its archive name and
// returns the object's public URI.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	archiveName := filepath.Base(localPath)
	if _, err := extractDigest(archiveName); err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	obj := u.client.Bucket(u.bucket).Object(archiveName)
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object: %w", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.bucket, archiveName), nil
}

// Close releases the underlying client's resources.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}
