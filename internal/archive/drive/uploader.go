// Package drive archives exports to a Google Drive folder.
package drive

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/patrol-reporter/internal/archive"
	"github.com/JakeFAU/patrol-reporter/internal/patrol"
)

// Config selects the destination folder and sharing.
type Config struct {
	// FolderID is the parent folder. Empty uploads to the account root.
	FolderID string
	// ShareWithLink grants "anyone with the link" read access after upload.
	ShareWithLink bool
}

// Uploader writes artifacts through the Drive v3 API.
type Uploader struct {
	svc    *drive.Service
	folder string
	share  bool
}

// NewService builds a Drive client from a service-account key file.
func NewService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*drive.Service, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(drive.DriveScope))
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return svc, nil
}

// New creates a Drive-backed uploader.
func New(svc *drive.Service, cfg Config) (*Uploader, error) {
	if svc == nil {
		return nil, fmt.Errorf("drive service is required")
	}
	return &Uploader{svc: svc, folder: strings.TrimSpace(cfg.FolderID), share: cfg.ShareWithLink}, nil
}

// Backend implements archive.Uploader.
func (u *Uploader) Backend() string { return "drive" }

// Upload creates a new Drive file and returns its view link and file ID.
func (u *Uploader) Upload(ctx context.Context, a archive.Artifact) (patrol.ArchiveRef, error) {
	if strings.TrimSpace(a.FileName) == "" {
		return patrol.ArchiveRef{}, fmt.Errorf("file name is required")
	}
	f, err := a.Open()
	if err != nil {
		return patrol.ArchiveRef{}, err
	}
	defer f.Close() //nolint:errcheck // read-only handle

	meta := &drive.File{Name: a.FileName, MimeType: a.Type()}
	if u.folder != "" {
		meta.Parents = []string{u.folder}
	}
	if a.SHA256 != "" {
		meta.AppProperties = map[string]string{"sha256": a.SHA256}
	}
	created, err := u.svc.Files.Create(meta).
		Media(f, googleapi.ContentType(a.Type())).
		SupportsAllDrives(true).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return patrol.ArchiveRef{}, fmt.Errorf("create drive file: %w", err)
	}
	if created.Id == "" {
		return patrol.ArchiveRef{}, fmt.Errorf("drive returned no file id")
	}

	if u.share {
		_, err := u.svc.Permissions.Create(created.Id, &drive.Permission{Role: "reader", Type: "anyone"}).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return patrol.ArchiveRef{}, fmt.Errorf("share drive file %s: %w", created.Id, err)
		}
	}

	link := created.WebViewLink
	if link == "" {
		link = fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id)
	}
	return patrol.ArchiveRef{URL: link, ObjectID: created.Id}, nil
}
