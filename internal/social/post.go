// Package social declares the platform-facing types and the collaborator
// interfaces the bot core calls. Concrete clients live elsewhere
// (internal/mastodon); the core only depends on these interfaces.
package social

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested post does not exist (deleted,
// or not visible to the bot).
var ErrNotFound = errors.New("post not found")

// Post is one status fetched from the platform. Posts are values and are
// never modified after fetching; cleaned text is always derived into new
// strings.
type Post struct {
	ID          string
	Author      string // account handle, e.g. "someone" or "someone@example.social"
	Body        string // plain text; HTML already flattened by the client
	CreatedAt   time.Time
	InReplyToID string // empty when the post starts a thread
	Favorited   bool
	URL         string
	Media       []Media
}

// IsReply reports whether the post answers another post.
func (p Post) IsReply() bool {
	return p.InReplyToID != ""
}

// Media is an attachment on a post.
type Media struct {
	URL         string
	Type        string // "image", "video", "gifv", "audio", "unknown"
	Description string
}

// IsImage reports whether the attachment is a still image.
func (m Media) IsImage() bool {
	return m.Type == "image"
}
