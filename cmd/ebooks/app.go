package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/robotmk/ebooks/internal/accept"
	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/config"
	"github.com/robotmk/ebooks/internal/corpus"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/mastodon"
	"github.com/robotmk/ebooks/internal/ollama"
	"github.com/robotmk/ebooks/internal/persona"
	"github.com/robotmk/ebooks/internal/pipeline"
	"github.com/robotmk/ebooks/internal/schedule"
	"github.com/robotmk/ebooks/internal/social"
	"github.com/robotmk/ebooks/internal/storage"
	"github.com/robotmk/ebooks/internal/style"
	"github.com/robotmk/ebooks/internal/thread"
	"github.com/robotmk/ebooks/internal/topic"
)

// app is a fully wired bot.
type app struct {
	cfg    config.Config
	runner *pipeline.Runner
	store  *storage.Store // nil when the journal is disabled
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// loadConfig loads and validates configuration and installs the default
// logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

// newApp wires the bot against the configured Mastodon instance.
func newApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	platform, err := mastodon.New(mastodon.Options{
		BaseURL:           cfg.Mastodon.BaseURL,
		AccessToken:       cfg.Mastodon.AccessToken,
		RequestsPerSecond: cfg.Mastodon.RequestsPerSecond,
		Visibility:        cfg.Mastodon.Visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("creating mastodon client: %w", err)
	}
	return newAppWith(ctx, cfg, platform, chance.NewTimeSeeded(), progress)
}

func newAppWith(ctx context.Context, cfg config.Config, platform social.Platform, src chance.Source, progress io.Writer) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	p, err := persona.Load(cfg.Bot.PersonaFile)
	if err != nil {
		return nil, err
	}

	terms := cfg.Topic.Terms
	if len(terms) == 0 {
		terms = p.TopicTerms
	}
	matcher := topic.NewMatcher(terms)

	gen, err := newGenerator(ctx, cfg, src, progress)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	var journal pipeline.Journal = pipeline.NopJournal{}
	if cfg.Storage.Journal {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.store = store
		journal = store
	}

	a.runner = pipeline.New(pipeline.Deps{
		Platform:  platform,
		Generator: gen,
		Gate: schedule.NewGate(src, schedule.Options{
			Sleep:       schedule.Window{Start: cfg.Schedule.SleepStart, End: cfg.Schedule.SleepEnd},
			AlwaysAwake: cfg.Schedule.AlwaysAwake,
		}),
		Builder: corpus.NewBuilder(platform, src, corpus.Options{
			Pages:    cfg.Bot.Pages,
			PageSize: cfg.Bot.PageSize,
			Topic: corpus.TopicFilter{
				Matcher:   matcher,
				Threshold: cfg.Topic.Threshold,
				MaxRatio:  cfg.Topic.MaxRatio,
			},
			Shuffle: cfg.Topic.Shuffle,
		}),
		Assembler: thread.NewAssembler(platform, cfg.Bot.Account, cfg.Bot.MaxHops),
		Filter: accept.New(accept.Options{
			MaxLength:       cfg.Bot.MaxLength,
			OwnLabel:        cfg.Bot.Account,
			Topic:           matcher,
			StrictThreshold: cfg.Topic.StrictThreshold,
		}),
		Persona: p,
		Source:  src,
		Journal: journal,
		Logger:  slog.Default().With("subsystem", "pipeline"),
	}, pipeline.Options{
		SourceAccounts: cfg.Bot.SourceAccounts,
		BotAccount:     cfg.Bot.Account,
		Odds: schedule.Odds{
			Post:     cfg.Odds.Post,
			Reply:    cfg.Odds.Reply,
			Favorite: cfg.Odds.Favorite,
			Image:    cfg.Odds.Image,
			Quote:    cfg.Odds.Quote,
		},
		Debug:         cfg.Bot.Debug,
		FallbackText:  cfg.Bot.FallbackText,
		MaxExamples:   cfg.Bot.MaxExamples,
		MentionLimit:  cfg.Bot.MentionLimit,
		DedupLookback: cfg.Bot.DedupLookback,
		Location:      loc,
	})
	return a, nil
}

// newGenerator builds the configured backend wrapped in the configured
// style mutators. A local Ollama model is pulled first unless the bot runs
// in debug mode, where the generator is never called.
func newGenerator(ctx context.Context, cfg config.Config, src chance.Source, progress io.Writer) (generator.Generator, error) {
	gc := cfg.Generator
	if gc.Backend == generator.BackendOllama && !cfg.Bot.Debug {
		model := gc.Model
		if model == "" {
			model = generator.DefaultModel(gc.Backend)
		}
		if err := ollama.EnsureReady(ctx, ollama.New(gc.OllamaBaseURL), model, progress); err != nil {
			return nil, err
		}
	}

	gen, err := generator.New(ctx, generator.Options{
		Backend:       gc.Backend,
		Model:         gc.Model,
		MaxTokens:     gc.MaxTokens,
		OllamaURL:     gc.OllamaBaseURL,
		OpenRouterKey: gc.OpenRouterAPIKey,
		AnthropicKey:  gc.AnthropicAPIKey,
		GeminiKey:     gc.GeminiAPIKey,
		Source:        src,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s generator: %w", gc.Backend, err)
	}

	var mutators []style.Mutator
	if cfg.Style.DropLastWord {
		mutators = append(mutators, style.DropLastWord)
	}
	if cfg.Style.UppercaseOdds > 0 {
		mutators = append(mutators, style.RandomUppercase(cfg.Style.UppercaseOdds))
	}
	if len(mutators) == 0 {
		return gen, nil
	}
	return style.Decorate(gen, src, mutators...), nil
}
