package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DryRun wraps a Platform so that reads reach the network and writes are
// only logged. Writes return synthetic ids of the form "dry-run-N".
type DryRun struct {
	Platform
	logger *slog.Logger
	n      int
}

// NewDryRun wraps p.
func NewDryRun(p Platform) *DryRun {
	return &DryRun{Platform: p, logger: slog.Default().With("subsystem", "dry-run")}
}

func (d *DryRun) nextID() string {
	d.n++
	return fmt.Sprintf("dry-run-%d", d.n)
}

func (d *DryRun) Favorite(_ context.Context, id string) error {
	d.logger.Info("would favorite", "id", id)
	return nil
}

func (d *DryRun) Publish(_ context.Context, text string) (string, error) {
	d.logger.Info("would publish", "text", text)
	return d.nextID(), nil
}

func (d *DryRun) PublishReply(_ context.Context, text, parentID string) (string, error) {
	d.logger.Info("would reply", "parent", parentID, "text", text)
	return d.nextID(), nil
}

func (d *DryRun) PublishWithMedia(_ context.Context, text string, media []byte, mediaType string) (string, error) {
	d.logger.Info("would publish with media", "text", text, "media_type", mediaType, "media_bytes", len(media))
	return d.nextID(), nil
}

// Download forwards to the wrapped platform when it can download media.
func (d *DryRun) Download(ctx context.Context, url string) ([]byte, string, error) {
	dl, ok := d.Platform.(MediaDownloader)
	if !ok {
		return nil, "", errors.New("platform cannot download media")
	}
	return dl.Download(ctx, url)
}
