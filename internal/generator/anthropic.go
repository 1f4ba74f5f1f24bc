package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/robotmk/ebooks/internal/robusthttp"
	"github.com/robotmk/ebooks/internal/thread"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Anthropic generates with the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewAnthropic returns an Anthropic backend. An empty baseURL uses the
// public endpoint.
func NewAnthropic(apiKey, baseURL, model string, maxTokens int) *Anthropic {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &Anthropic{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: robusthttp.NewClient(),
	}
}

func (a *Anthropic) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	system, msgs := PostPrompt(examples, instructions)
	return a.complete(ctx, system, msgs)
}

func (a *Anthropic) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	system, msgs := ConversePrompt(conv, instructions)
	return a.complete(ctx, system, msgs)
}

func (a *Anthropic) complete(ctx context.Context, system string, msgs []Message) (string, error) {
	if a.apiKey == "" {
		return "", unavailable("anthropic", errors.New("API key not configured"))
	}
	text, err := a.do(ctx, system, msgs)
	if err != nil {
		return "", unavailable("anthropic", err)
	}
	return text, nil
}

func (a *Anthropic) do(ctx context.Context, system string, msgs []Message) (string, error) {
	req := anthropicRequest{
		Model:         a.model,
		MaxTokens:     a.maxTokens,
		System:        system,
		StopSequences: []string{StopToken},
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var ar anthropicResponse
	if err := json.Unmarshal(respBody, &ar); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if ar.Error != nil {
		return "", fmt.Errorf("API error: %s", ar.Error.Message)
	}

	var out strings.Builder
	for _, c := range ar.Content {
		if c.Type == "text" {
			out.WriteString(c.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New("no completion returned")
	}
	return out.String(), nil
}
