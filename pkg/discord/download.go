package discord

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// maxAttachmentBytes caps a single photo download.
const maxAttachmentBytes = 25 << 20

// Downloader stores uploaded photos under the guild-data tree before the
// CloudEvent is emitted, so backends can read the binary locally.
type Downloader struct {
	root       string
	httpClient *http.Client
	now        func() time.Time
}

// NewDownloader creates a downloader rooted at the guild-data directory.
// timeout <= 0 takes a 30s default.
func NewDownloader(root string, timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		root:       root,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Save downloads one attachment to its deterministic path:
// <root>/<guild>/<event>/<user>/[promotion/]<YYYYMMDD_HHMMSS>_<filename>.
// Unknown guild or event components fall back to "dm".
func (d *Downloader) Save(ctx context.Context, guildID, eventID, userID string, promotion bool, att Attachment) (string, error) {
	if att.URL == "" {
		return "", errs.Validation("url", "is required")
	}
	if userID == "" {
		return "", errs.Validation("user_id", "is required")
	}

	dir := filepath.Join(d.root, orFallback(guildID), orFallback(eventID), userID)
	if promotion {
		dir = filepath.Join(dir, "promotion")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.IO("create download directory", err)
	}

	name := d.now().UTC().Format("20060102_150405") + "_" + sanitizeFilename(att.Filename)
	path := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return "", errs.Internal("build download request", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", errs.Upstream("download photo", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.Upstream("photo download returned status "+resp.Status, nil)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", errs.IO("create temp file", err)
	}
	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxAttachmentBytes)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errs.IO("write photo", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errs.IO("close photo file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errs.IO("finalise photo file", err)
	}
	return path, nil
}

func orFallback(id string) string {
	if id == "" {
		return "dm"
	}
	return id
}

// sanitizeFilename keeps the base name and replaces path separators so an
// attachment name can never escape the download directory.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "upload"
	}
	return base
}
