package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotmk/ebooks/internal/accept"
	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/corpus"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/persona"
	"github.com/robotmk/ebooks/internal/schedule"
	"github.com/robotmk/ebooks/internal/social"
	"github.com/robotmk/ebooks/internal/social/socialtest"
	"github.com/robotmk/ebooks/internal/storage"
	"github.com/robotmk/ebooks/internal/thread"
)

type fakeGen struct {
	post     string
	reply    string
	postErr  error
	replyErr error

	posts     int
	converses int
	lastConv  thread.Thread
	learned   []string
}

func (g *fakeGen) Generate(context.Context, []string, string) (string, error) {
	g.posts++
	return g.post, g.postErr
}

func (g *fakeGen) Converse(_ context.Context, conv thread.Thread, _ string) (string, error) {
	g.converses++
	g.lastConv = conv
	return g.reply, g.replyErr
}

type learningGen struct {
	fakeGen
}

func (g *learningGen) Learn(c []string) {
	g.learned = c
}

type fakeJournal struct {
	runs     []storage.Run
	attempts [][]storage.Attempt
	err      error
}

func (j *fakeJournal) SaveRun(r storage.Run, a []storage.Attempt) error {
	j.runs = append(j.runs, r)
	j.attempts = append(j.attempts, a)
	return j.err
}

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newFake() *socialtest.Platform {
	fake := socialtest.New()
	fake.Timelines["alice"] = []social.Post{
		{ID: "3", Body: "the kettle is singing again"},
		{ID: "2", Body: "I love my new desk."},
		{ID: "1", Body: "@carol sure thing", InReplyToID: "0"},
	}
	return fake
}

type fixture struct {
	fake    *socialtest.Platform
	gen     generator.Generator
	src     chance.Source
	sleep   schedule.Window
	journal *fakeJournal
	logger  *slog.Logger
	opts    Options
}

func newFixture(gen generator.Generator) *fixture {
	return &fixture{
		fake:    newFake(),
		gen:     gen,
		src:     chance.Fixed(0),
		journal: &fakeJournal{},
		opts: Options{
			SourceAccounts: []string{"alice"},
			BotAccount:     "robot_mk",
			Odds:           schedule.Odds{Post: 1, Reply: 1},
			Location:       time.UTC,
		},
	}
}

func (f *fixture) runner() *Runner {
	deps := Deps{
		Platform:  f.fake,
		Generator: f.gen,
		Gate:      schedule.NewGate(f.src, schedule.Options{Sleep: f.sleep}),
		Builder:   corpus.NewBuilder(f.fake, f.src, corpus.Options{}),
		Assembler: thread.NewAssembler(f.fake, f.opts.BotAccount, 0),
		Filter:    accept.New(accept.Options{OwnLabel: f.opts.BotAccount}),
		Persona:   persona.Default(),
		Source:    f.src,
		Journal:   f.journal,
		Clock:     func() time.Time { return noon },
		Logger:    f.logger,
	}
	return New(deps, f.opts)
}

func (f *fixture) run(t *testing.T) (Report, error) {
	t.Helper()
	return f.runner().Run(context.Background())
}

func TestRun_PostsAndReplies(t *testing.T) {
	gen := &fakeGen{post: "a brand new thought", reply: "hello yourself"}
	f := newFixture(gen)
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "@robot_mk hi there"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	require.Len(t, f.fake.Published, 2)
	assert.Equal(t, "a brand new thought", f.fake.Published[0].Text)
	assert.Empty(t, f.fake.Published[0].ParentID)
	assert.Equal(t, "@bob hello yourself", f.fake.Published[1].Text)
	assert.Equal(t, "50", f.fake.Published[1].ParentID)

	require.Len(t, rep.Published(), 2)
	assert.Equal(t, KindPost, rep.Attempts[0].Kind)
	assert.Equal(t, KindReply, rep.Attempts[1].Kind)
	assert.Equal(t, f.fake.Published[1].ID, rep.Attempts[1].PostID)

	// Intro first, then the mention with its mentions stripped.
	require.Len(t, gen.lastConv.Turns, 2)
	assert.Equal(t, thread.RoleBot, gen.lastConv.Turns[0].Role)
	assert.Equal(t, persona.Default().Intro, gen.lastConv.Turns[0].Text)
	assert.Equal(t, "hi there", gen.lastConv.Last().Text)
}

func TestRun_JournalsEveryRun(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, rep.RunID, f.journal.runs[0].ID)
	assert.Equal(t, OutcomeCompleted, f.journal.runs[0].Outcome)
	assert.True(t, f.journal.runs[0].Awake)
	require.Len(t, f.journal.attempts[0], 1)
	assert.Equal(t, StatusPublished, f.journal.attempts[0][0].Status)
	assert.Equal(t, rep.RunID, f.journal.attempts[0][0].RunID)
}

func TestRun_JournalErrorIsNotFatal(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	f.journal.err = errors.New("disk full")

	rep, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
}

func TestRun_DebugPublishesNothingAndSkipsGenerator(t *testing.T) {
	gen := &fakeGen{post: "should not be used", reply: "nor this"}
	f := newFixture(gen)
	f.opts.Debug = true
	f.opts.Odds = schedule.Odds{}
	f.sleep = schedule.Window{Start: 0, End: 23}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Zero(t, gen.posts)
	assert.Zero(t, gen.converses)
	assert.Empty(t, f.fake.Published)
	assert.Empty(t, f.fake.Favorited)

	assert.True(t, rep.Debug)
	assert.Equal(t, schedule.Decision{Awake: true, Post: true, Reply: true, Image: true, Quote: true}, rep.Decision)
	require.NotEmpty(t, rep.Attempts)
	assert.Equal(t, KindPost, rep.Attempts[0].Kind)
	assert.Equal(t, "beep boop", rep.Attempts[0].Text)
	assert.Equal(t, "dry-run-1", rep.Attempts[0].PostID)
}

func TestRun_DebugIsRepeatable(t *testing.T) {
	texts := func() []string {
		f := newFixture(&fakeGen{})
		f.opts.Debug = true
		f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi", URL: "https://example.social/@bob/50"}}
		rep, err := f.run(t)
		require.NoError(t, err)
		var out []string
		for _, a := range rep.Attempts {
			out = append(out, a.Kind+":"+a.Status+":"+a.Text)
		}
		return out
	}
	assert.Equal(t, texts(), texts())
}

func TestRun_DebugUsesConfiguredFallback(t *testing.T) {
	f := newFixture(&fakeGen{})
	f.opts.Debug = true
	f.opts.FallbackText = "testing testing"

	rep, err := f.run(t)
	require.NoError(t, err)
	require.NotEmpty(t, rep.Attempts)
	assert.Equal(t, "testing testing", rep.Attempts[0].Text)
}

func TestRun_DryRunGeneratesButDoesNotPublish(t *testing.T) {
	gen := &fakeGen{post: "a brand new thought"}
	f := newFixture(gen)
	f.opts.DryRun = true

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.posts)
	assert.Empty(t, f.fake.Published)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, StatusPublished, rep.Attempts[0].Status)
	assert.Equal(t, "dry-run-1", rep.Attempts[0].PostID)
}

func TestRun_AsleepDoesNothing(t *testing.T) {
	gen := &fakeGen{post: "a brand new thought"}
	f := newFixture(gen)
	f.sleep = schedule.Window{Start: 10, End: 14}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	assert.Equal(t, "asleep", rep.Reason)
	assert.False(t, rep.Decision.Awake)
	assert.Zero(t, f.fake.TimelineCalls)
	assert.Zero(t, gen.posts)
	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, "asleep", f.journal.runs[0].Error)
}

func TestRun_NothingRolledSkipsFetching(t *testing.T) {
	f := newFixture(&fakeGen{})
	f.opts.Odds = schedule.Odds{Image: 1, Quote: 1}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, rep.Outcome)
	assert.True(t, rep.Decision.Awake)
	assert.Zero(t, f.fake.TimelineCalls)
}

func TestRun_EmptyCorpusIsFatal(t *testing.T) {
	gen := &fakeGen{post: "a brand new thought"}
	f := newFixture(gen)
	f.fake.Timelines["alice"] = []social.Post{{ID: "1", Body: "@carol ok", InReplyToID: "0"}}

	rep, err := f.run(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, corpus.ErrEmptyCorpus))
	assert.Equal(t, OutcomeFailed, rep.Outcome)
	assert.NotEmpty(t, rep.Error)
	assert.Zero(t, gen.posts)
	assert.Empty(t, f.fake.Published)
	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, OutcomeFailed, f.journal.runs[0].Outcome)
}

func TestRun_PlatformReadErrorIsFatal(t *testing.T) {
	f := newFixture(&fakeGen{})
	f.fake.Err = errors.New("connection refused")

	rep, err := f.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, OutcomeFailed, rep.Outcome)
}

func TestRun_LearnerSeesCorpus(t *testing.T) {
	gen := &learningGen{fakeGen{post: "a brand new thought"}}
	f := newFixture(gen)

	_, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"the kettle is singing again", "I love my new desk.", "sure thing"}, gen.learned)
}

func TestRun_RejectedPostStillReplies(t *testing.T) {
	gen := &fakeGen{post: "I love my new desk!", reply: "hello yourself"}
	f := newFixture(gen)
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, rep.Attempts, 2)
	assert.Equal(t, StatusRejected, rep.Attempts[0].Status)
	assert.Equal(t, accept.ErrTooSimilar.Error(), rep.Attempts[0].Reason)
	assert.Equal(t, StatusPublished, rep.Attempts[1].Status)
	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, "50", f.fake.Published[0].ParentID)
}

func TestRun_UnavailableGeneratorUsesFallback(t *testing.T) {
	gen := &fakeGen{postErr: &generator.UnavailableError{Backend: "fake", Err: errors.New("quota")}}
	f := newFixture(gen)

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, rep.Attempts, 1)
	assert.True(t, rep.Attempts[0].Fallback)
	assert.Equal(t, StatusPublished, rep.Attempts[0].Status)
	// Fixed(0) picks the first fallback post.
	assert.Equal(t, "beep boop", f.fake.Published[0].Text)
}

func TestRun_OtherGeneratorErrorIsRecorded(t *testing.T) {
	gen := &fakeGen{postErr: errors.New("bad prompt"), reply: "hello yourself"}
	f := newFixture(gen)
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, rep.Attempts, 2)
	assert.Equal(t, StatusFailed, rep.Attempts[0].Status)
	assert.Equal(t, "bad prompt", rep.Attempts[0].Reason)
	assert.False(t, rep.Attempts[0].Fallback)
	assert.Equal(t, StatusPublished, rep.Attempts[1].Status)
}

func TestRun_SkipsMentionsAlreadyAnswered(t *testing.T) {
	gen := &fakeGen{reply: "hello yourself"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{
		{ID: "51", Author: "dave", Body: "again?"},
		{ID: "50", Author: "bob", Body: "hi"},
	}
	f.fake.Own = []social.Post{{ID: "70", Author: "robot_mk", InReplyToID: "50"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.converses)
	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, "51", f.fake.Published[0].ParentID)
	require.Len(t, rep.Attempts, 2)
	assert.Equal(t, StatusSkipped, rep.Attempts[1].Status)
	assert.Equal(t, "50", rep.Attempts[1].TargetID)
}

func TestRun_IgnoresOwnMentions(t *testing.T) {
	gen := &fakeGen{reply: "hello yourself"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "Robot_MK@example.social", Body: "@robot_mk talking to myself"}}

	rep, err := f.run(t)
	require.NoError(t, err)
	assert.Zero(t, gen.converses)
	assert.Empty(t, rep.Attempts)
}

func TestRun_MentionLimit(t *testing.T) {
	gen := &fakeGen{reply: "hello yourself"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.opts.MentionLimit = 1
	f.fake.Mentions = []social.Post{
		{ID: "52", Author: "erin", Body: "one"},
		{ID: "51", Author: "dave", Body: "two"},
	}

	_, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.converses)
	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, "52", f.fake.Published[0].ParentID)
}

func TestRun_ReplyIncludesThreadContext(t *testing.T) {
	gen := &fakeGen{reply: "it really is"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.AddPost(social.Post{ID: "40", Author: "bob", Body: "nice weather"})
	f.fake.AddPost(social.Post{ID: "45", Author: "robot_mk", Body: "@bob the sky is a desk", InReplyToID: "40"})
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "@robot_mk what?", InReplyToID: "45"}}

	_, err := f.run(t)
	require.NoError(t, err)

	turns := gen.lastConv.Turns
	require.Len(t, turns, 4)
	assert.Equal(t, thread.RoleBot, turns[0].Role) // intro
	assert.Equal(t, "nice weather", turns[1].Text)
	assert.Equal(t, thread.RoleBot, turns[2].Role)
	assert.Equal(t, "the sky is a desk", turns[2].Text)
	assert.Equal(t, "what?", turns[3].Text)
}

func TestRun_ReplyLogsTranscript(t *testing.T) {
	var logs bytes.Buffer
	f := newFixture(&fakeGen{reply: "it really is"})
	f.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "@robot_mk what?"}}

	_, err := f.run(t)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "msg=conversation")
	assert.Contains(t, logs.String(), `bob:what?`)
}

func TestRun_ReplyStripsGeneratedMentions(t *testing.T) {
	f := newFixture(&fakeGen{reply: "@carol yes indeed"})
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	_, err := f.run(t)
	require.NoError(t, err)
	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, "@bob yes indeed", f.fake.Published[0].Text)
}

func TestRun_QuoteLinksMention(t *testing.T) {
	f := newFixture(&fakeGen{reply: "hello yourself"})
	f.opts.Odds = schedule.Odds{Reply: 1, Quote: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi", URL: "https://example.social/@bob/50"}}

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, "hello yourself https://example.social/@bob/50", f.fake.Published[0].Text)
	assert.Empty(t, f.fake.Published[0].ParentID)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, KindQuote, rep.Attempts[0].Kind)
	assert.Equal(t, "50", rep.Attempts[0].TargetID)
}

func TestRun_QuoteWithoutURLReplies(t *testing.T) {
	f := newFixture(&fakeGen{reply: "hello yourself"})
	f.opts.Odds = schedule.Odds{Reply: 1, Quote: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	rep, err := f.run(t)
	require.NoError(t, err)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, KindReply, rep.Attempts[0].Kind)
	assert.Equal(t, "50", f.fake.Published[0].ParentID)
}

func TestRun_AddressedReplyTooLongIsRejected(t *testing.T) {
	// 470 runes accepted on its own, over the limit once "@bob " is added.
	long := ""
	for len(long) < 470 {
		long += "x"
	}
	f := newFixture(&fakeGen{reply: long})
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob_with_a_long_name", Body: "hi"}}

	rep, err := f.run(t)
	require.NoError(t, err)
	assert.Empty(t, f.fake.Published)
	require.Len(t, rep.Attempts, 1)
	assert.Equal(t, StatusRejected, rep.Attempts[0].Status)
	assert.Equal(t, accept.ErrTooLong.Error(), rep.Attempts[0].Reason)
}

func TestRun_PostsImageFromSource(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	f.opts.Odds = schedule.Odds{Post: 1, Image: 1}
	f.fake.Timelines["alice"] = []social.Post{
		{ID: "3", Body: "look at this", Media: []social.Media{{URL: "https://media.example/cat.png", Type: "image"}}},
	}
	f.fake.MediaData["https://media.example/cat.png"] = []byte("png")

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, f.fake.Published, 1)
	assert.Equal(t, []byte("png"), f.fake.Published[0].Media)
	assert.Equal(t, "image/png", f.fake.Published[0].MediaType)
	assert.True(t, rep.Attempts[0].Media)
}

func TestRun_ImageDownloadFailureFallsBackToText(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	f.opts.Odds = schedule.Odds{Post: 1, Image: 1}
	f.fake.Timelines["alice"] = []social.Post{
		{ID: "3", Body: "look at this", Media: []social.Media{{URL: "https://media.example/gone.png", Type: "image"}}},
	}

	rep, err := f.run(t)
	require.NoError(t, err)

	require.Len(t, f.fake.Published, 1)
	assert.Nil(t, f.fake.Published[0].Media)
	assert.False(t, rep.Attempts[0].Media)
	assert.Equal(t, StatusPublished, rep.Attempts[0].Status)
}

func TestRun_FavoritesMentions(t *testing.T) {
	f := newFixture(&fakeGen{reply: "hello yourself"})
	f.opts.Odds = schedule.Odds{Reply: 1, Favorite: 1}
	f.fake.Mentions = []social.Post{
		{ID: "51", Author: "dave", Body: "one", Favorited: true},
		{ID: "50", Author: "bob", Body: "two"},
	}

	rep, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"50"}, f.fake.Favorited)
	var favorites int
	for _, a := range rep.Attempts {
		if a.Kind == KindFavorite {
			favorites++
			assert.Equal(t, "50", a.TargetID)
		}
	}
	assert.Equal(t, 1, favorites)
}

func TestRun_FavoriteWithoutReply(t *testing.T) {
	gen := &fakeGen{post: "a brand new thought"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Post: 1, Favorite: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi"}}

	_, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"50"}, f.fake.Favorited)
	assert.Zero(t, gen.converses)
	require.Len(t, f.fake.Published, 1)
}

func TestRun_DeletedParentStillReplies(t *testing.T) {
	gen := &fakeGen{reply: "hello yourself"}
	f := newFixture(gen)
	f.opts.Odds = schedule.Odds{Reply: 1}
	f.fake.Mentions = []social.Post{{ID: "50", Author: "bob", Body: "hi", InReplyToID: "49"}}

	_, err := f.run(t)
	require.NoError(t, err)
	assert.True(t, gen.lastConv.Truncated)
	require.Len(t, f.fake.Published, 1)
}

func TestTrigger_RecordsLast(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	tr := NewTrigger(f.runner())

	_, ok := tr.Last()
	assert.False(t, ok)

	rep, shared, err := tr.Do(context.Background())
	require.NoError(t, err)
	assert.False(t, shared)

	last, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)
}

func TestTrigger_SurvivesCancelledCaller(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	tr := NewTrigger(f.runner())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, _, err := tr.Do(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	f := newFixture(&fakeGen{post: "a brand new thought"})
	tr := NewTrigger(f.runner())
	l := NewLoop(tr, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := tr.Last()
		return ok
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
