// Package socialtest provides an in-memory social.Platform for tests.
package socialtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/robotmk/ebooks/internal/social"
)

// Published records one write made through the fake.
type Published struct {
	ID        string
	Text      string
	ParentID  string
	Media     []byte
	MediaType string
}

// Platform is an in-memory social.Platform. Timelines are keyed by account
// and must be ordered newest first with numeric ids.
type Platform struct {
	Timelines map[string][]social.Post
	Posts     map[string]social.Post
	Mentions  []social.Post
	Own       []social.Post
	MediaData map[string][]byte

	// Err, when set, is returned from every read.
	Err error

	TimelineCalls int
	FetchCalls    int
	Favorited     []string
	Published     []Published

	nextID int
}

// New returns an empty fake.
func New() *Platform {
	return &Platform{
		Timelines: make(map[string][]social.Post),
		Posts:     make(map[string]social.Post),
		MediaData: make(map[string][]byte),
		nextID:    9000,
	}
}

// AddPost makes p fetchable by id.
func (f *Platform) AddPost(p social.Post) {
	f.Posts[p.ID] = p
}

func (f *Platform) FetchTimeline(_ context.Context, account, maxID string, limit int) ([]social.Post, error) {
	f.TimelineCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	posts := f.Timelines[account]
	sort.SliceStable(posts, func(i, j int) bool { return idNum(posts[i].ID) > idNum(posts[j].ID) })

	var out []social.Post
	for _, p := range posts {
		if maxID != "" && idNum(p.ID) > idNum(maxID) {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Platform) FetchPost(_ context.Context, id string) (social.Post, error) {
	f.FetchCalls++
	if f.Err != nil {
		return social.Post{}, f.Err
	}
	p, ok := f.Posts[id]
	if !ok {
		return social.Post{}, fmt.Errorf("fetching %s: %w", id, social.ErrNotFound)
	}
	return p, nil
}

func (f *Platform) FetchMentions(_ context.Context, limit int) ([]social.Post, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if limit < len(f.Mentions) {
		return f.Mentions[:limit], nil
	}
	return f.Mentions, nil
}

func (f *Platform) FetchOwnRecentPosts(_ context.Context, limit int) ([]social.Post, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if limit < len(f.Own) {
		return f.Own[:limit], nil
	}
	return f.Own, nil
}

func (f *Platform) Favorite(_ context.Context, id string) error {
	f.Favorited = append(f.Favorited, id)
	return nil
}

func (f *Platform) Publish(_ context.Context, text string) (string, error) {
	return f.record(Published{Text: text}), nil
}

func (f *Platform) PublishReply(_ context.Context, text, parentID string) (string, error) {
	return f.record(Published{Text: text, ParentID: parentID}), nil
}

func (f *Platform) PublishWithMedia(_ context.Context, text string, media []byte, mediaType string) (string, error) {
	return f.record(Published{Text: text, Media: media, MediaType: mediaType}), nil
}

func (f *Platform) Download(_ context.Context, url string) ([]byte, string, error) {
	data, ok := f.MediaData[url]
	if !ok {
		return nil, "", fmt.Errorf("download %s: %w", url, social.ErrNotFound)
	}
	return data, "image/png", nil
}

func (f *Platform) record(p Published) string {
	f.nextID++
	p.ID = strconv.Itoa(f.nextID)
	f.Published = append(f.Published, p)
	return p.ID
}

func idNum(id string) uint64 {
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}
