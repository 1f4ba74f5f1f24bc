// Package mastodon implements the social interfaces against the Mastodon
// REST API.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/robotmk/ebooks/internal/robusthttp"
	"github.com/robotmk/ebooks/internal/social"
)

const (
	pageLimit        = 40
	maxDownloadBytes = 16 << 20
)

// APIError is a non-2xx answer from the server. A 404 matches
// social.ErrNotFound.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mastodon: status %d", e.Status)
	}
	return fmt.Sprintf("mastodon: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == social.ErrNotFound && e.Status == http.StatusNotFound
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	AccessToken string

	// RequestsPerSecond paces every request. <= 0 disables pacing.
	RequestsPerSecond float64

	// Visibility of published posts; defaults to "public".
	Visibility string

	// HTTPClient replaces the retrying client built by robusthttp.
	HTTPClient *http.Client

	// MediaPoll is the wait between checks on a media upload that is
	// still processing. Defaults to one second.
	MediaPoll time.Duration
}

// Client is a social.Platform backed by one Mastodon account.
type Client struct {
	baseURL    string
	token      string
	visibility string
	httpClient *http.Client
	limiter    *rate.Limiter
	mediaPoll  time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	accounts map[string]string
	self     *account
}

// New creates a Client. BaseURL and AccessToken are required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("mastodon: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("mastodon: parsing base URL: %w", err)
	}
	if opts.AccessToken == "" {
		return nil, errors.New("mastodon: access token is required")
	}
	logger := slog.Default().With("subsystem", "mastodon")

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.AccessToken,
		visibility: opts.Visibility,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		mediaPoll:  opts.MediaPoll,
		logger:     logger,
		accounts:   make(map[string]string),
	}
	if c.visibility == "" {
		c.visibility = "public"
	}
	if c.httpClient == nil {
		c.httpClient = robusthttp.NewClient(robusthttp.WithLogger(logger))
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if c.mediaPoll <= 0 {
		c.mediaPoll = time.Second
	}
	return c, nil
}

// request is one API call. Exactly one of form and body may be set.
type request struct {
	method      string
	path        string
	query       url.Values
	form        url.Values
	body        io.Reader
	contentType string
	header      http.Header
}

// do sends r and decodes a JSON answer into out when out is non-nil. It
// returns the response status for callers that distinguish 200 from 202.
func (c *Client) do(ctx context.Context, r request, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	body := r.body
	contentType := r.contentType
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding %s %s: %w", r.method, r.path, err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query}, out)
	return err
}
