package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kStrings // comma-separated list
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "bot.source_accounts", typ: kStrings, env: "EBOOKS_BOT_SOURCE_ACCOUNTS",
		apply:   func(cfg *Config, v any) { cfg.Bot.SourceAccounts = v.([]string) },
		extract: func(cfg Config) any { return cfg.Bot.SourceAccounts },
	},
	{
		key: "bot.account", typ: kString, env: "EBOOKS_BOT_ACCOUNT",
		apply:   func(cfg *Config, v any) { cfg.Bot.Account = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.Account },
	},
	{
		key: "bot.debug", typ: kBool, env: "EBOOKS_BOT_DEBUG",
		apply:   func(cfg *Config, v any) { cfg.Bot.Debug = v.(bool) },
		extract: func(cfg Config) any { return cfg.Bot.Debug },
	},
	{
		key: "bot.max_length", typ: kInt, env: "EBOOKS_BOT_MAX_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Bot.MaxLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.MaxLength },
	},
	{
		key: "bot.pages", typ: kInt, env: "EBOOKS_BOT_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Bot.Pages = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.Pages },
	},
	{
		key: "bot.page_size", typ: kInt, env: "EBOOKS_BOT_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Bot.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.PageSize },
	},
	{
		key: "bot.max_examples", typ: kInt, env: "EBOOKS_BOT_MAX_EXAMPLES",
		apply:   func(cfg *Config, v any) { cfg.Bot.MaxExamples = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.MaxExamples },
	},
	{
		key: "bot.mention_limit", typ: kInt, env: "EBOOKS_BOT_MENTION_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Bot.MentionLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.MentionLimit },
	},
	{
		key: "bot.dedup_lookback", typ: kInt, env: "EBOOKS_BOT_DEDUP_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Bot.DedupLookback = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.DedupLookback },
	},
	{
		key: "bot.max_hops", typ: kInt, env: "EBOOKS_BOT_MAX_HOPS",
		apply:   func(cfg *Config, v any) { cfg.Bot.MaxHops = v.(int) },
		extract: func(cfg Config) any { return cfg.Bot.MaxHops },
	},
	{
		key: "bot.fallback_text", typ: kString, env: "EBOOKS_BOT_FALLBACK_TEXT",
		apply:   func(cfg *Config, v any) { cfg.Bot.FallbackText = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.FallbackText },
	},
	{
		key: "bot.persona_file", typ: kString, env: "EBOOKS_BOT_PERSONA_FILE",
		apply:   func(cfg *Config, v any) { cfg.Bot.PersonaFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Bot.PersonaFile },
	},
	{
		key: "odds.post", typ: kInt, env: "EBOOKS_ODDS_POST",
		apply:   func(cfg *Config, v any) { cfg.Odds.Post = v.(int) },
		extract: func(cfg Config) any { return cfg.Odds.Post },
	},
	{
		key: "odds.reply", typ: kInt, env: "EBOOKS_ODDS_REPLY",
		apply:   func(cfg *Config, v any) { cfg.Odds.Reply = v.(int) },
		extract: func(cfg Config) any { return cfg.Odds.Reply },
	},
	{
		key: "odds.favorite", typ: kInt, env: "EBOOKS_ODDS_FAVORITE",
		apply:   func(cfg *Config, v any) { cfg.Odds.Favorite = v.(int) },
		extract: func(cfg Config) any { return cfg.Odds.Favorite },
	},
	{
		key: "odds.image", typ: kInt, env: "EBOOKS_ODDS_IMAGE",
		apply:   func(cfg *Config, v any) { cfg.Odds.Image = v.(int) },
		extract: func(cfg Config) any { return cfg.Odds.Image },
	},
	{
		key: "odds.quote", typ: kInt, env: "EBOOKS_ODDS_QUOTE",
		apply:   func(cfg *Config, v any) { cfg.Odds.Quote = v.(int) },
		extract: func(cfg Config) any { return cfg.Odds.Quote },
	},
	{
		key: "schedule.always_awake", typ: kBool, env: "EBOOKS_SCHEDULE_ALWAYS_AWAKE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.AlwaysAwake = v.(bool) },
		extract: func(cfg Config) any { return cfg.Schedule.AlwaysAwake },
	},
	{
		key: "schedule.sleep_start", typ: kInt, env: "EBOOKS_SCHEDULE_SLEEP_START",
		apply:   func(cfg *Config, v any) { cfg.Schedule.SleepStart = v.(int) },
		extract: func(cfg Config) any { return cfg.Schedule.SleepStart },
	},
	{
		key: "schedule.sleep_end", typ: kInt, env: "EBOOKS_SCHEDULE_SLEEP_END",
		apply:   func(cfg *Config, v any) { cfg.Schedule.SleepEnd = v.(int) },
		extract: func(cfg Config) any { return cfg.Schedule.SleepEnd },
	},
	{
		key: "schedule.timezone", typ: kString, env: "EBOOKS_SCHEDULE_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Timezone },
	},
	{
		key: "topic.terms", typ: kStrings, env: "EBOOKS_TOPIC_TERMS",
		apply:   func(cfg *Config, v any) { cfg.Topic.Terms = v.([]string) },
		extract: func(cfg Config) any { return cfg.Topic.Terms },
	},
	{
		key: "topic.threshold", typ: kFloat, env: "EBOOKS_TOPIC_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Topic.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Topic.Threshold },
	},
	{
		key: "topic.max_ratio", typ: kFloat, env: "EBOOKS_TOPIC_MAX_RATIO",
		apply:   func(cfg *Config, v any) { cfg.Topic.MaxRatio = v.(float64) },
		extract: func(cfg Config) any { return cfg.Topic.MaxRatio },
	},
	{
		key: "topic.strict_threshold", typ: kFloat, env: "EBOOKS_TOPIC_STRICT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Topic.StrictThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Topic.StrictThreshold },
	},
	{
		key: "topic.shuffle", typ: kBool, env: "EBOOKS_TOPIC_SHUFFLE",
		apply:   func(cfg *Config, v any) { cfg.Topic.Shuffle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Topic.Shuffle },
	},
	{
		key: "style.drop_last_word", typ: kBool, env: "EBOOKS_STYLE_DROP_LAST_WORD",
		apply:   func(cfg *Config, v any) { cfg.Style.DropLastWord = v.(bool) },
		extract: func(cfg Config) any { return cfg.Style.DropLastWord },
	},
	{
		key: "style.uppercase_odds", typ: kInt, env: "EBOOKS_STYLE_UPPERCASE_ODDS",
		apply:   func(cfg *Config, v any) { cfg.Style.UppercaseOdds = v.(int) },
		extract: func(cfg Config) any { return cfg.Style.UppercaseOdds },
	},
	{
		key: "mastodon.base_url", typ: kString, env: "EBOOKS_MASTODON_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Mastodon.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Mastodon.BaseURL },
	},
	{
		key: "mastodon.access_token", typ: kString, env: "EBOOKS_MASTODON_ACCESS_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Mastodon.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Mastodon.AccessToken },
	},
	{
		key: "mastodon.requests_per_second", typ: kFloat, env: "EBOOKS_MASTODON_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Mastodon.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Mastodon.RequestsPerSecond },
	},
	{
		key: "mastodon.visibility", typ: kString, env: "EBOOKS_MASTODON_VISIBILITY",
		apply:   func(cfg *Config, v any) { cfg.Mastodon.Visibility = v.(string) },
		extract: func(cfg Config) any { return cfg.Mastodon.Visibility },
	},
	{
		key: "generator.backend", typ: kString, env: "EBOOKS_GENERATOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generator.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Backend },
	},
	{
		key: "generator.model", typ: kString, env: "EBOOKS_GENERATOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Model },
	},
	{
		key: "generator.max_tokens", typ: kInt, env: "EBOOKS_GENERATOR_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generator.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generator.MaxTokens },
	},
	{
		key: "generator.ollama_base_url", typ: kString, env: "EBOOKS_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.OllamaBaseURL },
	},
	{
		key: "generator.openrouter_api_key", typ: kString, env: "EBOOKS_OPENROUTER_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generator.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.OpenRouterAPIKey },
	},
	{
		key: "generator.anthropic_api_key", typ: kString, env: "EBOOKS_ANTHROPIC_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generator.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.AnthropicAPIKey },
	},
	{
		key: "generator.gemini_api_key", typ: kString, env: "EBOOKS_GEMINI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generator.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.GeminiAPIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EBOOKS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.journal", typ: kBool, env: "EBOOKS_STORAGE_JOURNAL",
		apply:   func(cfg *Config, v any) { cfg.Storage.Journal = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.Journal },
	},
	{
		key: "server.port", typ: kInt, env: "EBOOKS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "EBOOKS_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "EBOOKS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func specFor(key string) *keySpec {
	for i := range specs {
		if specs[i].key == key {
			return &specs[i]
		}
	}
	return nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseValue converts raw text into the Go value of a key's type.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kStrings:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || (raw == "" && s.typ != kString && s.typ != kStrings) {
				continue
			}
			v, err := parseValue(s.typ, raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
				continue
			}
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
