package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const downloadQueueCap = 256

// Download is one attachment fetch: URL in, workspace-relative path out.
type Download struct {
	ChannelID string
	LocalPath string
	URL       string
}

// QueueDownloads enqueues fetches without blocking; when the queue is full
// the items are dropped with a warning and the already-logged metadata keeps
// promising a file that never arrives.
func (s *ChannelStore) QueueDownloads(items []Download) {
	for _, item := range items {
		select {
		case s.downloads <- item:
		default:
			slog.Warn("download queue full, dropping attachment",
				"channel", item.ChannelID, "url", item.URL)
		}
	}
}

// RunDownloads processes queued attachment fetches one at a time until ctx
// is done. Failures are logged and never abort the loop.
func (s *ChannelStore) RunDownloads(ctx context.Context) error {
	client := &http.Client{Timeout: 60 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.downloads:
			if err := s.fetch(ctx, client, item); err != nil {
				slog.Warn("attachment download failed",
					"channel", item.ChannelID, "url", item.URL, "error", err)
			}
		}
	}
}

func (s *ChannelStore) fetch(ctx context.Context, client *http.Client, item Download) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %s", resp.Status)
	}

	dest := filepath.Join(s.workspace, item.LocalPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create attachment dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("write body: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	slog.Debug("attachment downloaded", "channel", item.ChannelID, "path", item.LocalPath)
	return nil
}
