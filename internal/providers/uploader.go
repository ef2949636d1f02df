package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Uploader is the blob side of the artifact store. The same object path may
// be rewritten (latest wins) but nothing is ever deleted here.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

// localUploader writes artifacts under a directory on the worker host and
// hands back file:// refs. Production deployments swap in object storage.
type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(_ context.Context, objectPath string, _ string, data []byte) (string, error) {
	dst := filepath.Join(u.rootDir, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}
