package uploader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractDigest(t *testing.T) {
	cases := map[string]string{
		"snapshot.41e27b9e.tar.gz": "41e27b9e",
		"test.deadbeef.tar.gz":     "deadbeef",
	}
	for name, want := range cases {
		got, err := extractDigest(name)
		if err != nil {
			t.Fatalf("extractDigest(%q) error = %v", name, err)
		}
		if got != want {
			t.Fatalf("extractDigest(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestExtractDigestMissingSuffix(t *testing.T) {
	if _, err := extractDigest("snapshot.41e27b9e.zip"); err != ErrDigestNotFound {
		t.Fatalf("extractDigest() error = %v, want ErrDigestNotFound", err)
	}
}

func TestLocalUploaderUpload(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	archive := filepath.Join(sourceDir, "test.41e27b9e.tar.gz")
	if err := os.WriteFile(archive, []byte("not a real archive"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	u := NewLocalUploader("http://test.local:8080/base", targetDir)
	uri, err := u.Upload(context.Background(), archive)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	want := "http://test.local:8080/base/artifact/snapshot/41e27b9e/download"
	if uri != want {
		t.Fatalf("Upload() = %q, want %q", uri, want)
	}

	if _, err := os.Stat(filepath.Join(targetDir, "test.41e27b9e.tar.gz")); err != nil {
		t.Fatalf("archive not copied to target dir: %v", err)
	}
}

func TestLocalUploaderUploadRejectsDirectory(t *testing.T) {
	sourceDir := t.TempDir()
	targetDir := t.TempDir()

	u := NewLocalUploader("http://test.local:8080/base", targetDir)
	if _, err := u.Upload(context.Background(), sourceDir); err == nil {
		t.Fatalf("Upload() on a directory should fail")
	}
}
