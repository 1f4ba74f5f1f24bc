package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Bot       BotConfig
	Odds      OddsConfig
	Schedule  ScheduleConfig
	Topic     TopicConfig
	Style     StyleConfig
	Mastodon  MastodonConfig
	Generator GeneratorConfig
	Storage   StorageConfig
	Server    ServerConfig
	Log       LogConfig
}

type BotConfig struct {
	SourceAccounts []string
	Account        string
	Debug          bool
	MaxLength      int
	Pages          int
	PageSize       int
	MaxExamples    int
	MentionLimit   int
	DedupLookback  int
	MaxHops        int
	FallbackText   string
	PersonaFile    string
}

// OddsConfig holds 1-in-N chances per run; 0 disables a feature and 1
// always enables it.
type OddsConfig struct {
	Post     int
	Reply    int
	Favorite int
	Image    int
	Quote    int
}

type ScheduleConfig struct {
	AlwaysAwake bool
	SleepStart  int
	SleepEnd    int
	Timezone    string
}

type TopicConfig struct {
	Terms           []string
	Threshold       float64
	MaxRatio        float64
	StrictThreshold float64
	Shuffle         bool
}

type StyleConfig struct {
	DropLastWord  bool
	UppercaseOdds int
}

type MastodonConfig struct {
	BaseURL           string
	AccessToken       string
	RequestsPerSecond float64
	Visibility        string
}

type GeneratorConfig struct {
	Backend          string
	Model            string
	MaxTokens        int
	OllamaBaseURL    string
	OpenRouterAPIKey string
	AnthropicAPIKey  string
	GeminiAPIKey     string
}

type StorageConfig struct {
	DataDir string
	Journal bool
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Bot: BotConfig{
			Debug:         true,
			MaxLength:     480,
			Pages:         3,
			PageSize:      40,
			MaxExamples:   30,
			MentionLimit:  2,
			DedupLookback: 150,
			MaxHops:       10,
		},
		Odds: OddsConfig{
			Post:     144,
			Reply:    8,
			Favorite: 72,
			Image:    24,
			Quote:    48,
		},
		Schedule: ScheduleConfig{
			AlwaysAwake: true,
			SleepStart:  23,
			SleepEnd:    7,
		},
		Topic: TopicConfig{
			Threshold:       0.3,
			MaxRatio:        0.2,
			StrictThreshold: 0.2,
			Shuffle:         true,
		},
		Mastodon: MastodonConfig{
			RequestsPerSecond: 1,
			Visibility:        "public",
		},
		Generator: GeneratorConfig{
			Backend:       "markov",
			MaxTokens:     120,
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Journal: true,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/ebooks/config.json, then from environment variables.
//
// Before environment overrides are applied, a .env file in the working
// directory and one next to config.json are loaded into the environment.
// Variables already set win over .env values. Secrets (tokens, API keys)
// are only read from the environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env", filepath.Join(configDir(), ".env"))
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

var backends = map[string]bool{
	"markov":     true,
	"ollama":     true,
	"openrouter": true,
	"anthropic":  true,
	"gemini":     true,
}

// Validate reports every setting a run cannot start without. It is not
// part of Load so that `config show` works on an incomplete setup.
func (c Config) Validate() error {
	var errs []error
	if len(c.Bot.SourceAccounts) == 0 {
		errs = append(errs, missing("bot.source_accounts"))
	}
	if c.Bot.Account == "" {
		errs = append(errs, missing("bot.account"))
	}
	if c.Mastodon.BaseURL == "" {
		errs = append(errs, missing("mastodon.base_url"))
	}
	if c.Mastodon.AccessToken == "" {
		errs = append(errs, missing("mastodon.access_token"))
	}
	if c.Bot.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("bot.max_length must be positive, got %d", c.Bot.MaxLength))
	}

	for key, v := range map[string]int{
		"odds.post": c.Odds.Post, "odds.reply": c.Odds.Reply, "odds.favorite": c.Odds.Favorite,
		"odds.image": c.Odds.Image, "odds.quote": c.Odds.Quote,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", key, v))
		}
	}
	for key, h := range map[string]int{"schedule.sleep_start": c.Schedule.SleepStart, "schedule.sleep_end": c.Schedule.SleepEnd} {
		if h < 0 || h > 23 {
			errs = append(errs, fmt.Errorf("%s must be an hour 0-23, got %d", key, h))
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for key, f := range map[string]float64{
		"topic.threshold": c.Topic.Threshold, "topic.max_ratio": c.Topic.MaxRatio,
		"topic.strict_threshold": c.Topic.StrictThreshold,
	} {
		if f < 0 || f > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", key, f))
		}
	}

	if !backends[c.Generator.Backend] {
		errs = append(errs, fmt.Errorf("generator.backend %q is not one of markov, ollama, openrouter, anthropic, gemini", c.Generator.Backend))
	}
	switch c.Generator.Backend {
	case "openrouter":
		if c.Generator.OpenRouterAPIKey == "" {
			errs = append(errs, missing("generator.openrouter_api_key"))
		}
	case "anthropic":
		if c.Generator.AnthropicAPIKey == "" {
			errs = append(errs, missing("generator.anthropic_api_key"))
		}
	case "gemini":
		if c.Generator.GeminiAPIKey == "" {
			errs = append(errs, missing("generator.gemini_api_key"))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// ServeRequirements checks the settings `serve` needs on top of Validate.
func (c Config) ServeRequirements() error {
	if c.Server.Token == "" {
		return missing("server.token")
	}
	return nil
}

func missing(key string) error {
	s := specFor(key)
	if s == nil || s.env == "" {
		return fmt.Errorf("missing required config: %s", key)
	}
	if s.secret {
		return fmt.Errorf("missing required config: %s. Set it via environment variable %s", key, s.env)
	}
	return fmt.Errorf("missing required config: %s. Set it with `ebooks config set %s <value>` or %s", key, key, s.env)
}

// Location is the time zone of the sleep window. An empty timezone means
// the host's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}
