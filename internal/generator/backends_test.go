package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/robotmk/ebooks/internal/ollama"
	"github.com/robotmk/ebooks/internal/openrouter"
	"github.com/robotmk/ebooks/internal/robusthttp"
)

func TestOllamaBackend(t *testing.T) {
	var got struct {
		Model    string           `json:"model"`
		Messages []ollama.Message `json:"messages"`
		Options  ollama.Options   `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"fresh words"}}`)
	}))
	defer srv.Close()

	g := NewOllama(ollama.New(srv.URL), "llama3.2", 80)
	out, err := g.Generate(context.Background(), []string{"one", "two"}, "imitate")
	require.NoError(t, err)

	assert.Equal(t, "fresh words", out)
	assert.Equal(t, "llama3.2", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "one\n---\ntwo\n---\n", got.Messages[1].Content)
	assert.Equal(t, []string{"---"}, got.Options.Stop)
	assert.Equal(t, 80, got.Options.NumPredict)
}

func TestOllamaBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllama(ollama.New(srv.URL), "m", 10).Converse(context.Background(), sampleThread(), "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenRouterBackend(t *testing.T) {
	var got openrouter.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"because soup"}}]}`)
	}))
	defer srv.Close()

	g := NewOpenRouter(openrouter.NewClientWithBaseURL("k", srv.URL), "some/model", 50)
	out, err := g.Converse(context.Background(), sampleThread(), "reply")
	require.NoError(t, err)

	assert.Equal(t, "because soup", out)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[3].Role)
	assert.Equal(t, []string{"---"}, got.Stop)
	assert.Equal(t, 50, got.MaxTokens)
}

func TestOpenRouterBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenRouter(openrouter.NewClientWithBaseURL("k", srv.URL), "m", 10).Generate(context.Background(), []string{"a"}, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAnthropicBackend(t *testing.T) {
	var got anthropicRequest
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		header = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"a new "},{"type":"text","text":"post"}]}`)
	}))
	defer srv.Close()

	g := NewAnthropic("secret", srv.URL, "claude-test", 64)
	out, err := g.Generate(context.Background(), []string{"x", "y"}, "imitate")
	require.NoError(t, err)

	assert.Equal(t, "a new post", out)
	assert.Equal(t, "secret", header.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, header.Get("anthropic-version"))
	assert.Equal(t, "imitate", got.System)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Equal(t, []string{"---"}, got.StopSequences)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestAnthropicBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	g := NewAnthropic("secret", srv.URL, "m", 10)
	g.httpClient = robusthttp.NewClient(robusthttp.WithMaxRetries(0))
	_, err := g.Generate(context.Background(), []string{"a"}, "")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewAnthropic("", srv.URL, "m", 10).Generate(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fakeModels struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func TestGeminiBackend(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("gemini says hi", genai.RoleModel)}},
	}}
	g := &Gemini{models: fake, model: "gemini-test", maxTokens: 40}

	out, err := g.Converse(context.Background(), sampleThread(), "reply")
	require.NoError(t, err)

	assert.Equal(t, "gemini says hi", out)
	require.Len(t, fake.contents, 3)
	assert.Equal(t, string(genai.RoleUser), fake.contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), fake.contents[1].Role)
	assert.Equal(t, int32(40), fake.config.MaxOutputTokens)
	assert.Equal(t, []string{"---"}, fake.config.StopSequences)
	require.NotNil(t, fake.config.SystemInstruction)
}

func TestGeminiBackendUnavailable(t *testing.T) {
	g := &Gemini{models: &fakeModels{err: errors.New("429 resource exhausted")}, model: "m"}
	_, err := g.Generate(context.Background(), []string{"a"}, "")
	assert.ErrorIs(t, err, ErrUnavailable)

	g = &Gemini{models: &fakeModels{resp: &genai.GenerateContentResponse{}}, model: "m"}
	_, err = g.Generate(context.Background(), []string{"a"}, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGeminiConverseOverHTTP(t *testing.T) {
	var path, key string
	var got struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		GenerationConfig struct {
			StopSequences   []string `json:"stopSequences"`
			MaxOutputTokens int      `json:"maxOutputTokens"`
		} `json:"generationConfig"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"over the wire"}]}}]}`)
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), "secret", srv.URL, "gemini-test", 40)
	require.NoError(t, err)

	out, err := g.Converse(context.Background(), sampleThread(), "reply")
	require.NoError(t, err)

	assert.Equal(t, "over the wire", out)
	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", path)
	assert.Equal(t, "secret", key)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "user", got.Contents[2].Role)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, []string{"---"}, got.GenerationConfig.StopSequences)
	assert.Equal(t, 40, got.GenerationConfig.MaxOutputTokens)
}
