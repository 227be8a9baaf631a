// Package export ships a completed session's log file to a shareable
// location.
package export

import (
	"context"
)

// Exporter uploads a local file and returns a shareable link. Export
// is invoked at most once per session, when the final turn completes.
type Exporter interface {
	Export(ctx context.Context, localPath, remoteName, folderID string) (string, error)
}
