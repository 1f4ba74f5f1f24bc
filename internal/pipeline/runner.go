// Package pipeline runs the bot once: decide, build the corpus, generate,
// filter, publish, then answer mentions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/robotmk/ebooks/internal/accept"
	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/corpus"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/metrics"
	"github.com/robotmk/ebooks/internal/normalize"
	"github.com/robotmk/ebooks/internal/persona"
	"github.com/robotmk/ebooks/internal/schedule"
	"github.com/robotmk/ebooks/internal/social"
	"github.com/robotmk/ebooks/internal/thread"
)

const (
	defaultMaxExamples   = 30
	defaultMentionLimit  = 2
	defaultDedupLookback = 150
)

// Options is the static configuration of a Runner.
type Options struct {
	SourceAccounts []string
	BotAccount     string
	Odds           schedule.Odds

	// Debug fixes every decision on, generates fallback text instead of
	// calling the generator, and publishes nothing.
	Debug bool

	// DryRun publishes nothing but otherwise runs normally.
	DryRun bool

	// FallbackText replaces the persona's fallback posts when set.
	FallbackText string

	MaxExamples   int
	MentionLimit  int
	DedupLookback int

	// Location is the time zone of the sleep window. Nil means local.
	Location *time.Location
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Platform  social.Platform
	Generator generator.Generator
	Gate      *schedule.Gate
	Builder   *corpus.Builder
	Assembler *thread.Assembler
	Filter    *accept.Filter
	Persona   persona.Persona
	Source    chance.Source
	Journal   Journal
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Runner executes runs. A Runner is not safe for concurrent use; callers
// serialize runs (see internal/api).
type Runner struct {
	deps Deps
	opts Options
}

// New creates a Runner. Debug and DryRun wrap the platform so that writes
// are logged instead of sent.
func New(deps Deps, opts Options) *Runner {
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = defaultMaxExamples
	}
	if opts.MentionLimit <= 0 {
		opts.MentionLimit = defaultMentionLimit
	}
	if opts.DedupLookback <= 0 {
		opts.DedupLookback = defaultDedupLookback
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Journal == nil {
		deps.Journal = NopJournal{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.Debug || opts.DryRun {
		deps.Platform = social.NewDryRun(deps.Platform)
	}
	if opts.Debug {
		deps.Generator = generator.Static{Text: fallbackText(deps.Persona, opts.FallbackText, nil)}
	}
	return &Runner{deps: deps, opts: opts}
}

func fallbackText(p persona.Persona, configured string, src chance.Source) string {
	if configured != "" {
		return configured
	}
	return p.Fallback(src)
}

// run is the state of one invocation.
type run struct {
	*Runner
	report   Report
	sample   corpus.Sample
	fallback string
	logger   *slog.Logger
}

// Run performs one run. Fatal errors (empty corpus, failed fetches) end
// the run and are returned along with the report; rejected candidates and
// failed publishes are recorded in the report and the run continues.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := r.deps.Clock()
	rn := &run{
		Runner: r,
		report: Report{RunID: uuid.NewString(), StartedAt: start, Debug: r.opts.Debug},
	}
	rn.logger = r.deps.Logger.With("run", rn.report.RunID)
	if r.opts.Debug {
		rn.fallback = fallbackText(r.deps.Persona, r.opts.FallbackText, nil)
	} else {
		rn.fallback = fallbackText(r.deps.Persona, r.opts.FallbackText, r.deps.Source)
	}

	err := rn.execute(ctx)
	rn.finish(err)
	return rn.report, err
}

func (rn *run) execute(ctx context.Context) error {
	// 1. Decide once, before any fetching.
	hour := rn.report.StartedAt.In(rn.opts.Location).Hour()
	d := rn.deps.Gate.Decide(rn.opts.Odds, hour, rn.opts.Debug)
	rn.report.Decision = d
	rn.logger.Info("decided", "awake", d.Awake, "post", d.Post, "reply", d.Reply, "image", d.Image, "quote", d.Quote)

	if !d.Awake {
		rn.skip("asleep")
		return nil
	}
	if !d.Any() {
		rn.skip("not this time")
		return nil
	}

	// 2. Build the corpus.
	sample, err := rn.deps.Builder.BuildAll(ctx, rn.opts.SourceAccounts)
	if err != nil {
		return fmt.Errorf("building corpus: %w", err)
	}
	rn.sample = sample
	if l, ok := rn.deps.Generator.(generator.Learner); ok {
		l.Learn(sample.All())
	}

	// 3. Original post.
	if d.Post {
		rn.post(ctx)
	}

	// 4. Mentions.
	if err := rn.mentions(ctx); err != nil {
		return err
	}
	return nil
}

func (rn *run) skip(reason string) {
	rn.logger.Info("nothing to do", "reason", reason)
	rn.report.Outcome = OutcomeSkipped
	rn.report.Reason = reason
}

func (rn *run) finish(err error) {
	rn.report.FinishedAt = rn.deps.Clock()
	switch {
	case err != nil:
		rn.report.Outcome = OutcomeFailed
		rn.report.Error = err.Error()
		rn.logger.Error("run failed", "error", err)
	case rn.report.Outcome == "":
		rn.report.Outcome = OutcomeCompleted
	}

	metrics.RunsTotal.WithLabelValues(rn.report.Outcome).Inc()
	metrics.RunDuration.Observe(rn.report.FinishedAt.Sub(rn.report.StartedAt).Seconds())

	jr, attempts := rn.report.journal()
	if jerr := rn.deps.Journal.SaveRun(jr, attempts); jerr != nil {
		rn.logger.Warn("journal write failed", "error", jerr)
	}
}

// record appends an attempt to the report and counts it.
func (rn *run) record(a Attempt) {
	a.ID = uuid.NewString()
	a.at = rn.deps.Clock()
	rn.report.Attempts = append(rn.report.Attempts, a)

	metrics.AttemptsTotal.WithLabelValues(a.Kind, a.Status).Inc()
	if a.Status == StatusRejected {
		metrics.RejectionsTotal.WithLabelValues(a.Reason).Inc()
	}

	args := []any{"kind", a.Kind, "status", a.Status}
	if a.TargetID != "" {
		args = append(args, "target", a.TargetID)
	}
	if a.Reason != "" {
		args = append(args, "reason", a.Reason)
	}
	if a.Text != "" {
		args = append(args, "text", a.Text)
	}
	rn.logger.Info("attempt", args...)
}

// gen returns the run's generator with fallback substitution that
// marks *fell when it fires.
func (rn *run) gen(fell *bool) generator.Generator {
	return generator.WithFallback(rn.deps.Generator, rn.fallback, func(error) {
		*fell = true
		metrics.FallbacksTotal.Inc()
	})
}

func (rn *run) post(ctx context.Context) {
	var fell bool
	raw, err := rn.gen(&fell).Generate(ctx, rn.sample.Examples(rn.opts.MaxExamples), rn.deps.Persona.PostInstructions)
	if err != nil {
		rn.record(Attempt{Kind: KindPost, Status: StatusFailed, Reason: err.Error(), Fallback: fell})
		return
	}

	text, err := rn.deps.Filter.Accept(raw, rn.sample.All(), accept.KindPost)
	if err != nil {
		rn.record(rejected(KindPost, "", raw, err, fell))
		return
	}

	id, withMedia, err := rn.publishPost(ctx, text)
	if err != nil {
		rn.record(Attempt{Kind: KindPost, Text: text, Status: StatusFailed, Reason: err.Error(), Fallback: fell})
		return
	}
	rn.record(Attempt{Kind: KindPost, Text: text, Status: StatusPublished, PostID: id, Fallback: fell, Media: withMedia})
}

// publishPost attaches a source image when the decision allows and the
// platform can, and falls back to a text-only post otherwise.
func (rn *run) publishPost(ctx context.Context, text string) (string, bool, error) {
	if rn.report.Decision.Image && len(rn.sample.Media) > 0 {
		mp, canPublish := rn.deps.Platform.(social.MediaPublisher)
		dl, canDownload := rn.deps.Platform.(social.MediaDownloader)
		if canPublish && canDownload {
			m, _ := chance.Pick(rn.deps.Source, rn.sample.Media)
			data, mediaType, err := dl.Download(ctx, m.URL)
			if err == nil {
				id, err := mp.PublishWithMedia(ctx, text, data, mediaType)
				if err == nil {
					return id, true, nil
				}
				rn.logger.Warn("posting with media failed, posting text only", "error", err)
			} else {
				rn.logger.Warn("downloading media failed, posting text only", "url", m.URL, "error", err)
			}
		}
	}
	id, err := rn.deps.Platform.Publish(ctx, text)
	return id, false, err
}

func (rn *run) mentions(ctx context.Context) error {
	var mentions, own []social.Post
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mentions, err = rn.deps.Platform.FetchMentions(gCtx, rn.opts.MentionLimit)
		if err != nil {
			return fmt.Errorf("fetching mentions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		own, err = rn.deps.Platform.FetchOwnRecentPosts(gCtx, rn.opts.DedupLookback)
		if err != nil {
			return fmt.Errorf("fetching own posts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, m := range mentions {
		if thread.SameAccount(m.Author, rn.opts.BotAccount) {
			continue
		}
		rn.favorite(ctx, m)

		if !rn.report.Decision.Reply {
			continue
		}
		if thread.AlreadyReplied(m.ID, own) {
			rn.record(Attempt{Kind: KindReply, TargetID: m.ID, Status: StatusSkipped, Reason: "already replied"})
			continue
		}
		postID, err := rn.reply(ctx, m)
		if err != nil {
			return err
		}
		if postID != "" {
			own = append(own, social.Post{ID: postID, InReplyToID: m.ID})
		}
	}
	return nil
}

func (rn *run) favorite(ctx context.Context, m social.Post) {
	if m.Favorited || !rn.deps.Gate.Roll(rn.opts.Odds.Favorite, rn.opts.Debug) {
		return
	}
	if err := rn.deps.Platform.Favorite(ctx, m.ID); err != nil {
		rn.record(Attempt{Kind: KindFavorite, TargetID: m.ID, Status: StatusFailed, Reason: err.Error()})
		return
	}
	rn.record(Attempt{Kind: KindFavorite, TargetID: m.ID, Status: StatusPublished})
}

// reply answers one mention and returns the new post id, or "" when
// nothing was published. Only a failure to assemble the thread is fatal.
func (rn *run) reply(ctx context.Context, m social.Post) (string, error) {
	conv, err := rn.deps.Assembler.Assemble(ctx, m)
	if err != nil {
		return "", fmt.Errorf("assembling thread of %s: %w", m.ID, err)
	}
	if conv.Truncated {
		rn.logger.Debug("thread context truncated", "mention", m.ID, "turns", len(conv.Turns))
	}
	if intro := rn.deps.Persona.Intro; intro != "" {
		conv.Turns = append([]thread.Turn{{Role: thread.RoleBot, Author: rn.opts.BotAccount, Text: intro}}, conv.Turns...)
	}
	rn.logger.Debug("conversation", "mention", m.ID, "transcript", generator.Transcript(conv))

	var fell bool
	raw, err := rn.gen(&fell).Converse(ctx, conv, rn.deps.Persona.ReplyInstructions)
	if err != nil {
		rn.record(Attempt{Kind: KindReply, TargetID: m.ID, Status: StatusFailed, Reason: err.Error(), Fallback: fell})
		return "", nil
	}

	text, err := rn.deps.Filter.Accept(normalize.StripMentions(raw), rn.sample.All(), accept.KindReply)
	if err != nil {
		rn.record(rejected(KindReply, m.ID, raw, err, fell))
		return "", nil
	}

	kind, body := rn.compose(m, text)
	if utf8.RuneCountInString(body) >= rn.deps.Filter.MaxLength() {
		rej := &accept.Rejection{Reason: accept.ErrTooLong, Kind: accept.KindReply, Text: body}
		rn.record(rejected(kind, m.ID, body, rej, fell))
		return "", nil
	}

	var id string
	if kind == KindQuote {
		id, err = rn.deps.Platform.Publish(ctx, body)
	} else {
		id, err = rn.deps.Platform.PublishReply(ctx, body, m.ID)
	}
	if err != nil {
		rn.record(Attempt{Kind: kind, TargetID: m.ID, Text: body, Status: StatusFailed, Reason: err.Error(), Fallback: fell})
		return "", nil
	}
	rn.record(Attempt{Kind: kind, TargetID: m.ID, Text: body, Status: StatusPublished, PostID: id, Fallback: fell})
	return id, nil
}

// compose turns accepted reply text into what gets published: a quote
// post linking the mention when the run quotes and the link fits, and an
// addressed reply otherwise.
func (rn *run) compose(m social.Post, text string) (kind, body string) {
	if rn.report.Decision.Quote && m.URL != "" {
		quote := text + " " + m.URL
		if utf8.RuneCountInString(quote) < rn.deps.Filter.MaxLength() {
			return KindQuote, quote
		}
	}
	if m.Author == "" {
		return KindReply, text
	}
	return KindReply, "@" + strings.TrimPrefix(m.Author, "@") + " " + text
}

func rejected(kind, target, text string, err error, fell bool) Attempt {
	a := Attempt{Kind: kind, TargetID: target, Text: text, Status: StatusRejected, Reason: err.Error(), Fallback: fell}
	var rej *accept.Rejection
	if errors.As(err, &rej) {
		a.Reason = rej.Reason.Error()
		if rej.Text != "" {
			a.Text = rej.Text
		}
	}
	return a
}
