package social

import "context"

// TimelineFetcher pages through an account's posts, newest first. maxID
// bounds the page from above; empty means "from the newest post".
type TimelineFetcher interface {
	FetchTimeline(ctx context.Context, account, maxID string, limit int) ([]Post, error)
}

// PostFetcher fetches a single post by id. It returns ErrNotFound (possibly
// wrapped) when the post is gone.
type PostFetcher interface {
	FetchPost(ctx context.Context, id string) (Post, error)
}

// MentionFetcher returns the bot's most recent mentions, newest first.
type MentionFetcher interface {
	FetchMentions(ctx context.Context, limit int) ([]Post, error)
}

// OwnPostFetcher returns the bot's own most recent posts, newest first.
type OwnPostFetcher interface {
	FetchOwnRecentPosts(ctx context.Context, limit int) ([]Post, error)
}

// Favoriter favorites a post. Callers check Post.Favorited first.
type Favoriter interface {
	Favorite(ctx context.Context, id string) error
}

// Publisher creates posts and replies and returns the new post's id.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
	PublishReply(ctx context.Context, text, parentID string) (string, error)
}

// MediaPublisher is the optional capability of posting with an attachment.
type MediaPublisher interface {
	PublishWithMedia(ctx context.Context, text string, media []byte, mediaType string) (string, error)
}

// MediaDownloader is the optional capability of fetching attachment bytes.
type MediaDownloader interface {
	Download(ctx context.Context, url string) (data []byte, mediaType string, err error)
}

// Platform is everything a run needs from the social network.
type Platform interface {
	TimelineFetcher
	PostFetcher
	MentionFetcher
	OwnPostFetcher
	Favoriter
	Publisher
}
