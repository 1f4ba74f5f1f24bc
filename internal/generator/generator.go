// Package generator produces raw candidate text, either from example posts
// or from a conversation. Backends are interchangeable behind Generator.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robotmk/ebooks/internal/thread"
)

// Separator delimits examples and turns in prompts. It does not occur in
// normalized post text, and backends stop generating when they emit it.
const Separator = "\n---\n"

// StopToken is Separator without its newlines, for stop-sequence APIs.
const StopToken = "---"

// ErrUnavailable means the backend could not produce text (quota, network,
// bad status). Callers substitute fallback text.
var ErrUnavailable = errors.New("generator unavailable")

// UnavailableError names the backend that failed.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(backend string, err error) error {
	return &UnavailableError{Backend: backend, Err: err}
}

// Generator produces one raw candidate per call.
type Generator interface {
	// Generate writes a new post in the voice of examples.
	Generate(ctx context.Context, examples []string, instructions string) (string, error)

	// Converse writes the bot's next turn in conv.
	Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error)
}

// Learner is implemented by backends that build a model from the run's
// corpus before they are asked for replies.
type Learner interface {
	Learn(corpus []string)
}

// Static always returns Text. It is the debug generator and never calls
// out; an empty Text makes it unavailable.
type Static struct {
	Text string
}

func (s Static) Generate(context.Context, []string, string) (string, error) {
	return s.text()
}

func (s Static) Converse(context.Context, thread.Thread, string) (string, error) {
	return s.text()
}

func (s Static) text() (string, error) {
	if s.Text == "" {
		return "", unavailable("static", errors.New("no fallback text configured"))
	}
	return s.Text, nil
}

type fallback struct {
	inner   Generator
	text    string
	observe func(error)
}

// WithFallback returns a Generator that answers with text whenever g fails
// with ErrUnavailable. observe, when non-nil, is told about each
// substitution. Other errors pass through.
func WithFallback(g Generator, text string, observe func(error)) Generator {
	return &fallback{inner: g, text: text, observe: observe}
}

func (f *fallback) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	out, err := f.inner.Generate(ctx, examples, instructions)
	return f.recover(out, err)
}

func (f *fallback) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	out, err := f.inner.Converse(ctx, conv, instructions)
	return f.recover(out, err)
}

func (f *fallback) recover(out string, err error) (string, error) {
	if err == nil || !errors.Is(err, ErrUnavailable) || f.text == "" {
		return out, err
	}
	slog.Warn("generator unavailable, using fallback text", "error", err)
	if f.observe != nil {
		f.observe(err)
	}
	return f.text, nil
}
