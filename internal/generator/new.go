package generator

import (
	"context"
	"fmt"

	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/ollama"
	"github.com/robotmk/ebooks/internal/openrouter"
)

// Backend names accepted by New.
const (
	BackendMarkov     = "markov"
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
	BackendAnthropic  = "anthropic"
	BackendGemini     = "gemini"
)

var defaultModels = map[string]string{
	BackendOllama:     "llama3.2",
	BackendOpenRouter: "meta-llama/llama-3.1-8b-instruct",
	BackendAnthropic:  "claude-3-5-haiku-latest",
	BackendGemini:     "gemini-2.5-flash",
}

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Model     string
	MaxTokens int

	OllamaURL     string
	OpenRouterKey string
	OpenRouterURL string
	AnthropicKey  string
	AnthropicURL  string
	GeminiKey     string
	GeminiURL     string

	// Source drives the markov walk.
	Source chance.Source
}

// DefaultModel is the model a backend uses when none is configured. It is
// empty for markov.
func DefaultModel(backend string) string {
	return defaultModels[backend]
}

// New builds the configured backend. An empty Model uses the backend's
// default; MaxTokens <= 0 uses 120.
func New(ctx context.Context, opts Options) (Generator, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel(opts.Backend)
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 120
	}

	switch opts.Backend {
	case BackendMarkov, "":
		src := opts.Source
		if src == nil {
			src = chance.NewTimeSeeded()
		}
		return NewMarkov(src), nil
	case BackendOllama:
		return NewOllama(ollama.New(opts.OllamaURL), model, maxTokens), nil
	case BackendOpenRouter:
		if opts.OpenRouterKey == "" {
			return nil, fmt.Errorf("openrouter backend needs an API key")
		}
		client := openrouter.NewClient(opts.OpenRouterKey)
		if opts.OpenRouterURL != "" {
			client = openrouter.NewClientWithBaseURL(opts.OpenRouterKey, opts.OpenRouterURL)
		}
		return NewOpenRouter(client, model, maxTokens), nil
	case BackendAnthropic:
		if opts.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic backend needs an API key")
		}
		return NewAnthropic(opts.AnthropicKey, opts.AnthropicURL, model, maxTokens), nil
	case BackendGemini:
		return NewGemini(ctx, opts.GeminiKey, opts.GeminiURL, model, maxTokens)
	default:
		return nil, fmt.Errorf("unknown generator backend %q", opts.Backend)
	}
}
