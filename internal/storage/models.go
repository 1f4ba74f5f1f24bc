package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one journaled invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Debug      bool
	Awake      bool
	Decision   string // JSON object stored as text
	Outcome    string // "completed", "skipped", "failed"
	Error      string
}

// Attempt is one thing a run tried to do: a post, a reply, a favorite.
type Attempt struct {
	ID        string
	RunID     string
	Seq       int
	Kind      string
	TargetID  string
	Text      string
	Status    string // "published", "rejected", "skipped", "failed"
	Reason    string
	PostID    string
	Fallback  bool
	CreatedAt time.Time
}
