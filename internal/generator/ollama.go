package generator

import (
	"context"

	"github.com/robotmk/ebooks/internal/ollama"
	"github.com/robotmk/ebooks/internal/thread"
)

// Ollama generates with a local Ollama server.
type Ollama struct {
	client    *ollama.Client
	model     string
	maxTokens int
}

// NewOllama returns an Ollama backend using model.
func NewOllama(client *ollama.Client, model string, maxTokens int) *Ollama {
	return &Ollama{client: client, model: model, maxTokens: maxTokens}
}

func (o *Ollama) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	system, msgs := PostPrompt(examples, instructions)
	return o.chat(ctx, system, msgs)
}

func (o *Ollama) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	system, msgs := ConversePrompt(conv, instructions)
	return o.chat(ctx, system, msgs)
}

func (o *Ollama) chat(ctx context.Context, system string, msgs []Message) (string, error) {
	out := make([]ollama.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, ollama.Message{Role: "system", Content: system})
	}
	for _, m := range msgs {
		out = append(out, ollama.Message{Role: m.Role, Content: m.Content})
	}
	text, err := o.client.Chat(ctx, o.model, out, &ollama.Options{
		Stop:       []string{StopToken},
		NumPredict: o.maxTokens,
	})
	if err != nil {
		return "", unavailable("ollama", err)
	}
	return text, nil
}
