package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robotmk/ebooks/internal/social"
)

var (
	_ social.Platform        = (*Client)(nil)
	_ social.MediaPublisher  = (*Client)(nil)
	_ social.MediaDownloader = (*Client)(nil)
)

// accountID resolves a handle ("user", "@user@host") to an account id.
// Numeric input is taken as an id. Lookups are cached for the client's
// lifetime.
func (c *Client) accountID(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(handle, "@")
	if _, err := strconv.ParseUint(handle, 10, 64); err == nil {
		return handle, nil
	}

	c.mu.Lock()
	id, ok := c.accounts[handle]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var acc account
	if err := c.get(ctx, "/api/v1/accounts/lookup", url.Values{"acct": {handle}}, &acc); err != nil {
		return "", fmt.Errorf("looking up account %s: %w", handle, err)
	}
	c.mu.Lock()
	c.accounts[handle] = acc.ID
	c.mu.Unlock()
	return acc.ID, nil
}

// Self returns the authenticated account, fetched once.
func (c *Client) Self(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()
	if self != nil {
		return self.ID, self.Acct, nil
	}

	var acc account
	if err := c.get(ctx, "/api/v1/accounts/verify_credentials", nil, &acc); err != nil {
		return "", "", fmt.Errorf("verifying credentials: %w", err)
	}
	c.mu.Lock()
	c.self = &acc
	c.mu.Unlock()
	return acc.ID, acc.Acct, nil
}

// FetchTimeline pages an account's statuses without reblogs. maxID is
// inclusive; Mastodon's max_id is exclusive, so numeric ids are bumped by
// one before sending.
func (c *Client) FetchTimeline(ctx context.Context, handle, maxID string, limit int) ([]social.Post, error) {
	id, err := c.accountID(ctx, handle)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"limit":           {strconv.Itoa(clampLimit(limit))},
		"exclude_reblogs": {"true"},
	}
	if maxID != "" {
		q.Set("max_id", exclusiveMaxID(maxID))
	}
	var statuses []status
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", q, &statuses); err != nil {
		return nil, fmt.Errorf("fetching statuses of %s: %w", handle, err)
	}
	return posts(statuses), nil
}

func (c *Client) FetchPost(ctx context.Context, id string) (social.Post, error) {
	var s status
	if err := c.get(ctx, "/api/v1/statuses/"+url.PathEscape(id), nil, &s); err != nil {
		return social.Post{}, fmt.Errorf("fetching status %s: %w", id, err)
	}
	return s.post(), nil
}

func (c *Client) FetchMentions(ctx context.Context, limit int) ([]social.Post, error) {
	q := url.Values{
		"types[]": {"mention"},
		"limit":   {strconv.Itoa(clampLimit(limit))},
	}
	var notes []notification
	if err := c.get(ctx, "/api/v1/notifications", q, &notes); err != nil {
		return nil, fmt.Errorf("fetching mentions: %w", err)
	}
	var out []social.Post
	for _, n := range notes {
		if n.Type != "mention" || n.Status == nil {
			continue
		}
		out = append(out, n.Status.post())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// FetchOwnRecentPosts pages the bot's own statuses, replies included, in
// pages of 40 until limit posts were collected or history ends.
func (c *Client) FetchOwnRecentPosts(ctx context.Context, limit int) ([]social.Post, error) {
	id, _, err := c.Self(ctx)
	if err != nil {
		return nil, err
	}
	var out []social.Post
	maxID := ""
	for len(out) < limit {
		q := url.Values{
			"limit":           {strconv.Itoa(clampLimit(limit - len(out)))},
			"exclude_reblogs": {"true"},
		}
		if maxID != "" {
			q.Set("max_id", maxID)
		}
		var statuses []status
		if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", q, &statuses); err != nil {
			return nil, fmt.Errorf("fetching own statuses: %w", err)
		}
		if len(statuses) == 0 {
			break
		}
		out = append(out, posts(statuses)...)
		maxID = statuses[len(statuses)-1].ID
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Client) Favorite(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/api/v1/statuses/" + url.PathEscape(id) + "/favourite"}, nil)
	if err != nil {
		return fmt.Errorf("favoriting %s: %w", id, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, text string) (string, error) {
	return c.publish(ctx, text, "", nil)
}

func (c *Client) PublishReply(ctx context.Context, text, parentID string) (string, error) {
	return c.publish(ctx, text, parentID, nil)
}

// PublishWithMedia uploads media, waits for the server to finish
// processing it, and posts text with it attached.
func (c *Client) PublishWithMedia(ctx context.Context, text string, media []byte, mediaType string) (string, error) {
	mediaID, err := c.upload(ctx, media, mediaType)
	if err != nil {
		return "", err
	}
	return c.publish(ctx, text, "", []string{mediaID})
}

func (c *Client) publish(ctx context.Context, text, parentID string, mediaIDs []string) (string, error) {
	form := url.Values{
		"status":     {text},
		"visibility": {c.visibility},
	}
	if parentID != "" {
		form.Set("in_reply_to_id", parentID)
	}
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}
	// The key makes a retried POST create at most one status.
	header := http.Header{"Idempotency-Key": {uuid.NewString()}}

	var s status
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/api/v1/statuses", form: form, header: header}, &s); err != nil {
		return "", fmt.Errorf("publishing status: %w", err)
	}
	c.logger.Debug("published", "id", s.ID, "in_reply_to", parentID, "media", len(mediaIDs))
	return s.ID, nil
}

func (c *Client) upload(ctx context.Context, media []byte, mediaType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, uploadName(mediaType)))
	if mediaType != "" {
		h.Set("Content-Type", mediaType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(media); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	var up mediaUpload
	code, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/v2/media",
		body:        bytes.NewReader(buf.Bytes()),
		contentType: mw.FormDataContentType(),
	}, &up)
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	if code != http.StatusAccepted && up.URL != "" {
		return up.ID, nil
	}
	return up.ID, c.awaitMedia(ctx, up.ID)
}

// awaitMedia polls an upload until the server reports a URL for it.
func (c *Client) awaitMedia(ctx context.Context, id string) error {
	const maxPolls = 30
	for i := 0; i < maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.mediaPoll):
		}
		var up mediaUpload
		code, err := c.do(ctx, request{method: http.MethodGet, path: "/api/v1/media/" + url.PathEscape(id)}, &up)
		if err != nil {
			return fmt.Errorf("checking media %s: %w", id, err)
		}
		if code == http.StatusOK && up.URL != "" {
			return nil
		}
	}
	return fmt.Errorf("media %s still processing after %d checks", id, maxPolls)
}

// Download fetches an attachment. The bearer token is only sent to the
// instance itself.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	if strings.HasPrefix(rawURL, c.baseURL+"/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading %s: %w", rawURL, &APIError{Status: resp.StatusCode})
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("downloading %s: larger than %d bytes", rawURL, maxDownloadBytes)
	}
	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return data, mediaType, nil
}

func clampLimit(n int) int {
	if n <= 0 || n > pageLimit {
		return pageLimit
	}
	return n
}

func exclusiveMaxID(id string) string {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return id
	}
	return strconv.FormatUint(n+1, 10)
}

func uploadName(mediaType string) string {
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return "upload" + exts[0]
	}
	return "upload"
}
