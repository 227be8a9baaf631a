package export

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveExporter uploads session logs to a Google Drive folder using a
// service account.
type DriveExporter struct {
	svc *drive.Service
}

// NewDrive creates a Drive exporter from a service-account credentials
// JSON file.
func NewDrive(ctx context.Context, credentialsFile string) (*DriveExporter, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("drive credentials file is required")
	}

	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &DriveExporter{svc: svc}, nil
}

// Export uploads the file into the folder and returns a view link.
func (e *DriveExporter) Export(ctx context.Context, localPath, remoteName, folderID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	meta := &drive.File{Name: remoteName}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	created, err := e.svc.Files.Create(meta).
		Media(f, googleapi.ContentType("text/csv")).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload to drive: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}
