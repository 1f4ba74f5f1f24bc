// Package corpus builds the sample of cleaned historical posts that the
// generator imitates.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/normalize"
	"github.com/robotmk/ebooks/internal/social"
	"github.com/robotmk/ebooks/internal/topic"
)

// ErrEmptyCorpus means paging finished without a single original post to
// learn from. It is fatal for the run.
var ErrEmptyCorpus = errors.New("empty corpus")

// EmptyCorpusError names the account that contributed no original posts.
type EmptyCorpusError struct {
	Account string
}

func (e *EmptyCorpusError) Error() string {
	return fmt.Sprintf("no original posts collected from %s", e.Account)
}

func (e *EmptyCorpusError) Unwrap() error {
	return ErrEmptyCorpus
}

const (
	defaultPages    = 3
	defaultPageSize = 40
)

// Sample is the cleaned corpus of one run.
type Sample struct {
	Originals []string
	Replies   []string

	// Media holds image attachments of the source originals.
	Media []social.Media
}

// Examples returns up to max originals, in sample order.
func (s Sample) Examples(max int) []string {
	if max <= 0 || max >= len(s.Originals) {
		return s.Originals
	}
	return s.Originals[:max]
}

// All returns originals followed by replies; the acceptance filter checks
// candidates against every entry.
func (s Sample) All() []string {
	all := make([]string, 0, len(s.Originals)+len(s.Replies))
	all = append(all, s.Originals...)
	return append(all, s.Replies...)
}

// TopicFilter caps how much of the sample may come from posts dominated by
// a recurring subject.
type TopicFilter struct {
	Matcher *topic.Matcher

	// Threshold is the fraction of matching words above which a post is
	// set aside.
	Threshold float64

	// MaxRatio is the largest share of the final sample that set-aside
	// posts may fill.
	MaxRatio float64
}

func (f TopicFilter) enabled() bool {
	return !f.Matcher.Empty()
}

// Options controls paging and post-filtering.
type Options struct {
	Pages    int
	PageSize int
	Topic    TopicFilter
	Shuffle  bool
}

// Builder pages source accounts and produces a Sample.
type Builder struct {
	timeline social.TimelineFetcher
	src      chance.Source
	opts     Options
	logger   *slog.Logger
}

// NewBuilder creates a Builder. Non-positive Pages or PageSize fall back to
// 3 pages of 40 posts.
func NewBuilder(timeline social.TimelineFetcher, src chance.Source, opts Options) *Builder {
	if opts.Pages <= 0 {
		opts.Pages = defaultPages
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Builder{
		timeline: timeline,
		src:      src,
		opts:     opts,
		logger:   slog.Default().With("subsystem", "corpus"),
	}
}

// Build pages one account's history and partitions it into originals and
// replies. It fails with an *EmptyCorpusError when no originals were found
// and with a wrapped fetch error when the platform fails.
func (b *Builder) Build(ctx context.Context, account string) (Sample, error) {
	var s Sample
	cursor := ""
	for page := 0; page < b.opts.Pages; page++ {
		posts, err := b.timeline.FetchTimeline(ctx, account, cursor, b.opts.PageSize)
		if err != nil {
			return Sample{}, fmt.Errorf("fetching timeline of %s: %w", account, err)
		}
		if len(posts) == 0 {
			break
		}
		for _, p := range posts {
			text := normalize.Normalize(p.Body)
			if text == "" {
				continue
			}
			if p.IsReply() {
				s.Replies = append(s.Replies, text)
				continue
			}
			s.Originals = append(s.Originals, text)
			for _, m := range p.Media {
				if m.IsImage() && m.URL != "" {
					s.Media = append(s.Media, m)
				}
			}
		}
		next, ok := nextCursor(posts)
		if !ok {
			break
		}
		cursor = next
	}

	b.logger.Info("collected source posts", "account", account, "originals", len(s.Originals), "replies", len(s.Replies))
	if len(s.Originals) == 0 {
		return Sample{}, &EmptyCorpusError{Account: account}
	}
	return s, nil
}

// BuildAll builds every account in order, concatenates the results, and
// applies the topic filter and shuffle to the combined sample. The first
// account that yields no originals aborts the build.
func (b *Builder) BuildAll(ctx context.Context, accounts []string) (Sample, error) {
	if len(accounts) == 0 {
		return Sample{}, fmt.Errorf("no source accounts: %w", ErrEmptyCorpus)
	}
	var all Sample
	for _, account := range accounts {
		s, err := b.Build(ctx, account)
		if err != nil {
			return Sample{}, err
		}
		all.Originals = append(all.Originals, s.Originals...)
		all.Replies = append(all.Replies, s.Replies...)
		all.Media = append(all.Media, s.Media...)
	}

	if b.opts.Topic.enabled() {
		before := len(all.Originals)
		all.Originals = FilterTopic(all.Originals, b.opts.Topic, b.src)
		all.Replies = FilterTopic(all.Replies, b.opts.Topic, b.src)
		b.logger.Debug("topic filter applied", "originals_before", before, "originals_after", len(all.Originals))
	}
	if b.opts.Shuffle {
		chance.Shuffle(b.src, all.Originals)
		chance.Shuffle(b.src, all.Replies)
	}
	return all, nil
}

// FilterTopic sets aside posts whose matching fraction exceeds the
// threshold and lets back a uniform random sample of them, sized so that
// they make up at most MaxRatio of the result. Kept posts retain their
// order and come first.
func FilterTopic(posts []string, f TopicFilter, src chance.Source) []string {
	if !f.enabled() {
		return posts
	}
	var kept, aside []string
	for _, p := range posts {
		if f.Matcher.Exceeds(p, f.Threshold) {
			aside = append(aside, p)
		} else {
			kept = append(kept, p)
		}
	}
	if len(aside) == 0 {
		return posts
	}

	k := 0
	switch {
	case f.MaxRatio >= 1:
		k = len(aside)
	case f.MaxRatio > 0:
		// aside/(kept+aside) <= ratio  <=>  aside <= ratio*kept/(1-ratio)
		k = int(f.MaxRatio*float64(len(kept))/(1-f.MaxRatio) + 1e-9)
	}
	return append(kept, chance.Sample(src, aside, k)...)
}

// nextCursor returns min(id)-1 for numeric ids. Non-numeric ids fall back
// to the last (oldest) id, which platforms treat as an exclusive bound.
func nextCursor(posts []social.Post) (string, bool) {
	var (
		min     uint64
		numeric = true
	)
	for i, p := range posts {
		n, err := strconv.ParseUint(p.ID, 10, 64)
		if err != nil {
			numeric = false
			break
		}
		if i == 0 || n < min {
			min = n
		}
	}
	if numeric {
		if min == 0 {
			return "", false
		}
		return strconv.FormatUint(min-1, 10), true
	}
	last := posts[len(posts)-1].ID
	return last, last != ""
}
