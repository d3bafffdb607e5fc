package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/setup"
)

// DefaultMaxAttachment is the largest codes file accepted.
const DefaultMaxAttachment = 512 << 10

// AttachmentFetcher downloads codes files sent during setup. It implements
// setup.AttachmentFetcher.
type AttachmentFetcher struct {
	http     *http.Client
	maxBytes int64
}

// NewAttachmentFetcher creates an AttachmentFetcher. A nil client gets a
// 15 second timeout; maxBytes <= 0 uses DefaultMaxAttachment.
func NewAttachmentFetcher(hc *http.Client, maxBytes int64) *AttachmentFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachment
	}
	return &AttachmentFetcher{http: hc, maxBytes: maxBytes}
}

// FetchAttachment returns the text content of a .txt or .csv attachment.
// Unsupported or oversized files are rejected with a *setup.ValidationError.
func (f *AttachmentFetcher) FetchAttachment(ctx context.Context, a setup.Attachment) (string, error) {
	switch strings.ToLower(path.Ext(a.Filename)) {
	case ".txt", ".csv":
	default:
		return "", &setup.ValidationError{
			Field:  "codes",
			Reason: fmt.Sprintf("I can only read .txt or .csv files, not %q", a.Filename),
		}
	}
	if int64(a.Size) > f.maxBytes {
		return "", &setup.ValidationError{
			Field:  "codes",
			Reason: fmt.Sprintf("%s is too large, the limit is %d KB", a.Filename, f.maxBytes>>10),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", fmt.Errorf("bot: attachment request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("bot: fetch attachment %s: %w", a.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bot: fetch attachment %s: status %d", a.Filename, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("bot: read attachment %s: %w", a.Filename, err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", &setup.ValidationError{
			Field:  "codes",
			Reason: fmt.Sprintf("%s is too large, the limit is %d KB", a.Filename, f.maxBytes>>10),
		}
	}
	return string(body), nil
}
