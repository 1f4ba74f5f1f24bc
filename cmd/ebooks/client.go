package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/robotmk/ebooks/internal/config"
	"github.com/robotmk/ebooks/internal/pipeline"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ServeRequirements(); err != nil {
		return nil, err
	}

	return &apiClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:   cfg.Server.Token,
		// A run pages several timelines and may wait on a slow generator.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is `ebooks serve` running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// triggerResult mirrors the server's POST /run response.
type triggerResult struct {
	Report pipeline.Report `json:"report"`
	Shared bool            `json:"shared"`
	Error  string          `json:"error,omitempty"`
}

// trigger asks the server for a run. A failed run still carries its
// report, so a 500 with a decodable body is not a transport error.
func (c *apiClient) trigger(ctx context.Context) (triggerResult, error) {
	resp, err := c.post(ctx, "/run", nil)
	if err != nil {
		return triggerResult{}, err
	}
	var res triggerResult
	if resp.StatusCode == http.StatusInternalServerError {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return triggerResult{}, fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return res, nil
	}
	if err := decodeJSON(resp, &res); err != nil {
		return triggerResult{}, err
	}
	return res, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bytes.TrimSpace(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
