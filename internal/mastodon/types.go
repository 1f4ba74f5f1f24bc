package mastodon

import (
	"time"

	"github.com/robotmk/ebooks/internal/social"
)

type account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	URL      string `json:"url"`
}

type attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type status struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	InReplyToID      string       `json:"in_reply_to_id"`
	Content          string       `json:"content"`
	URL              string       `json:"url"`
	Favourited       bool         `json:"favourited"`
	Account          account      `json:"account"`
	MediaAttachments []attachment `json:"media_attachments"`
}

type notification struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Status *status `json:"status"`
}

// mediaUpload is the v2 media response. URL stays empty while the server
// is still processing the file.
type mediaUpload struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s status) post() social.Post {
	p := social.Post{
		ID:          s.ID,
		Author:      s.Account.Acct,
		Body:        contentText(s.Content),
		CreatedAt:   s.CreatedAt,
		InReplyToID: s.InReplyToID,
		Favorited:   s.Favourited,
		URL:         s.URL,
	}
	for _, a := range s.MediaAttachments {
		p.Media = append(p.Media, social.Media{URL: a.URL, Type: a.Type, Description: a.Description})
	}
	return p
}

func posts(statuses []status) []social.Post {
	out := make([]social.Post, len(statuses))
	for i, s := range statuses {
		out[i] = s.post()
	}
	return out
}
