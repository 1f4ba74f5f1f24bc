package generator

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/robotmk/ebooks/internal/thread"
)

// contentGenerator is the slice of *genai.Models this backend calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates with the Gemini API.
type Gemini struct {
	models    contentGenerator
	model     string
	maxTokens int
}

// NewGemini creates a Gemini backend authenticated with apiKey. An empty
// baseURL uses the public Gemini API endpoint.
func NewGemini(ctx context.Context, apiKey, baseURL, model string, maxTokens int) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{models: client.Models, model: model, maxTokens: maxTokens}, nil
}

func (g *Gemini) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	return g.generate(ctx, instructions, genai.Text(JoinExamples(examples)))
}

// Converse sends the thread as alternating user and model contents.
func (g *Gemini) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	system, msgs := ConversePrompt(conv, instructions)
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == roleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return g.generate(ctx, system, contents)
}

func (g *Gemini) generate(ctx context.Context, system string, contents []*genai.Content) (string, error) {
	config := &genai.GenerateContentConfig{
		StopSequences:   []string{StopToken},
		MaxOutputTokens: int32(g.maxTokens),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", unavailable("gemini", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", unavailable("gemini", errors.New("no candidates returned"))
	}
	var out strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			out.WriteString(part.Text)
		}
	}
	return out.String(), nil
}
