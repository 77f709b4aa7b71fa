// Package uploader publishes sealed artifact archives to a public
// location, returning the URI clients fetch them from. Two
// implementations are provided: a local-disk uploader for single-node
// deployments and a GCS uploader for object-store deployments.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileUploader publishes the archive at localPath and returns the
// public URI it can be fetched from.
type FileUploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// ErrDigestNotFound reports an archive filename without a dotted
// digest segment preceding ".tar.gz".
var ErrDigestNotFound = errors.New("uploader: could not extract digest from archive filename")

// extractDigest pulls the dotted segment preceding ".tar.gz" out of an
// archive filename, e.g. "snapshot.DIGEST.tar.gz" -> "DIGEST".
func extractDigest(filename string) (string, error) {
	const suffix = ".tar.gz"
	if !strings.HasSuffix(filename, suffix) {
		return "", ErrDigestNotFound
	}
	trimmed := strings.TrimSuffix(filename, suffix)
	idx := strings.LastIndex(trimmed, ".")
	if idx < 0 || idx == len(trimmed)-1 {
		return "", ErrDigestNotFound
	}
	return trimmed[idx+1:], nil
}

// LocalUploader copies archives into a target directory on the local
// filesystem and derives the public URI from the server's own URL
// prefix, per spec.md §6's file uploader interface.
type LocalUploader struct {
	serverURLPrefix string
	targetDir       string
}

// NewLocalUploader creates a LocalUploader publishing under
// targetDir, with public URIs rooted at serverURLPrefix.
func NewLocalUploader(serverURLPrefix, targetDir string) *LocalUploader {
	return &LocalUploader{
		serverURLPrefix: strings.TrimSuffix(serverURLPrefix, "/"),
		targetDir:       targetDir,
	}
}

// Upload copies localPath into the target directory and returns
// "{server_url_prefix}/artifact/snapshot/{digest}/download".
func (u *LocalUploader) Upload(_ context.Context, localPath string) (string, error) {
	archiveName := filepath.Base(localPath)
	digest, err := extractDigest(archiveName)
	if err != nil {
		return "", err
	}

	if err := copyFile(localPath, filepath.Join(u.targetDir, archiveName)); err != nil {
		return "", fmt.Errorf("copy archive: %w", err)
	}

	return fmt.Sprintf("%s/artifact/snapshot/%s/download", u.serverURLPrefix, digest), nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not an archive", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
