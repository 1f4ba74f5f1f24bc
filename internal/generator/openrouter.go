package generator

import (
	"context"

	"github.com/robotmk/ebooks/internal/openrouter"
	"github.com/robotmk/ebooks/internal/thread"
)

// OpenRouter generates with a hosted model through OpenRouter.
type OpenRouter struct {
	client    *openrouter.Client
	model     string
	maxTokens int
}

// NewOpenRouter returns an OpenRouter backend using model.
func NewOpenRouter(client *openrouter.Client, model string, maxTokens int) *OpenRouter {
	return &OpenRouter{client: client, model: model, maxTokens: maxTokens}
}

func (o *OpenRouter) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	system, msgs := PostPrompt(examples, instructions)
	return o.complete(ctx, system, msgs)
}

func (o *OpenRouter) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	system, msgs := ConversePrompt(conv, instructions)
	return o.complete(ctx, system, msgs)
}

func (o *OpenRouter) complete(ctx context.Context, system string, msgs []Message) (string, error) {
	req := openrouter.ChatRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Stop:      []string{StopToken},
	}
	if system != "" {
		req.Messages = append(req.Messages, openrouter.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openrouter.Message{Role: m.Role, Content: m.Content})
	}
	text, err := o.client.Complete(ctx, req)
	if err != nil {
		return "", unavailable("openrouter", err)
	}
	return text, nil
}
