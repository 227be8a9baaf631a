package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalExporter copies session logs into a local directory. Used in
// development when no Drive credentials are configured.
type LocalExporter struct {
	dir string
}

// NewLocal creates a local-directory exporter.
func NewLocal(dir string) (*LocalExporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &LocalExporter{dir: dir}, nil
}

// Export copies the file and returns a file:// link to the copy. The
// folderID is ignored; it only applies to the Drive backend.
func (e *LocalExporter) Export(_ context.Context, localPath, remoteName, _ string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(e.dir, remoteName)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create export copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("copy log file: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("sync export copy: %w", err)
	}

	abs, err := filepath.Abs(dstPath)
	if err != nil {
		abs = dstPath
	}
	return "file://" + abs, nil
}
