package pipeline

import (
	"encoding/json"
	"time"

	"github.com/robotmk/ebooks/internal/schedule"
	"github.com/robotmk/ebooks/internal/storage"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Attempt kinds.
const (
	KindPost     = "post"
	KindReply    = "reply"
	KindQuote    = "quote"
	KindFavorite = "favorite"
)

// Attempt statuses.
const (
	StatusPublished = "published"
	StatusRejected  = "rejected"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Attempt is one thing the run tried to do.
type Attempt struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	TargetID string `json:"target_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	PostID   string `json:"post_id,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Media    bool   `json:"media,omitempty"`

	at time.Time
}

// Report summarizes one run.
type Report struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Debug      bool              `json:"debug"`
	Decision   schedule.Decision `json:"decision"`
	Outcome    string            `json:"outcome"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attempts   []Attempt         `json:"attempts"`
}

// Published returns the attempts that reached the platform.
func (r Report) Published() []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Status == StatusPublished {
			out = append(out, a)
		}
	}
	return out
}

func (r Report) journal() (storage.Run, []storage.Attempt) {
	decision, _ := json.Marshal(r.Decision)
	errText := r.Error
	if errText == "" && r.Reason != "" {
		errText = r.Reason
	}
	run := storage.Run{
		ID:         r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Debug:      r.Debug,
		Awake:      r.Decision.Awake,
		Decision:   string(decision),
		Outcome:    r.Outcome,
		Error:      errText,
	}
	attempts := make([]storage.Attempt, len(r.Attempts))
	for i, a := range r.Attempts {
		attempts[i] = storage.Attempt{
			ID:        a.ID,
			RunID:     r.RunID,
			Seq:       i,
			Kind:      a.Kind,
			TargetID:  a.TargetID,
			Text:      a.Text,
			Status:    a.Status,
			Reason:    a.Reason,
			PostID:    a.PostID,
			Fallback:  a.Fallback,
			CreatedAt: a.at,
		}
	}
	return run, attempts
}

// Journal records finished runs. It is never read during a run.
type Journal interface {
	SaveRun(run storage.Run, attempts []storage.Attempt) error
}

// NopJournal discards runs.
type NopJournal struct{}

func (NopJournal) SaveRun(storage.Run, []storage.Attempt) error { return nil }
