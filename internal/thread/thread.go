// Package thread reconstructs the conversation a mention belongs to, so a
// reply can be generated with its context.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/robotmk/ebooks/internal/normalize"
	"github.com/robotmk/ebooks/internal/social"
)

// Role says who spoke a turn.
type Role int

const (
	RoleSubject Role = iota
	RoleBot
)

func (r Role) String() string {
	if r == RoleBot {
		return "bot"
	}
	return "subject"
}

// Turn is one post in a conversation.
type Turn struct {
	Role   Role
	Author string
	Text   string
	PostID string
}

// Thread is a conversation ordered root first; the last turn is the
// mention being answered.
type Thread struct {
	Turns []Turn

	// Bot is the bot's own account handle, used by generators that render
	// the thread as a labelled transcript.
	Bot string

	// Truncated is set when the walk stopped at the hop ceiling, at a
	// cycle, or at a deleted parent, before reaching the root.
	Truncated bool
}

// Last returns the most recent turn.
func (t Thread) Last() Turn {
	if len(t.Turns) == 0 {
		return Turn{}
	}
	return t.Turns[len(t.Turns)-1]
}

const defaultMaxHops = 10

// Assembler walks in-reply-to pointers back to a thread's root.
type Assembler struct {
	posts   social.PostFetcher
	bot     string
	maxHops int
	logger  *slog.Logger
}

// NewAssembler creates an Assembler that fetches parents through posts and
// tags turns authored by bot as RoleBot. maxHops <= 0 uses 10.
func NewAssembler(posts social.PostFetcher, bot string, maxHops int) *Assembler {
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	return &Assembler{
		posts:   posts,
		bot:     bot,
		maxHops: maxHops,
		logger:  slog.Default().With("subsystem", "thread"),
	}
}

// Assemble returns the conversation ending in mention. At most maxHops
// parents are fetched; a deeper thread is returned truncated rather than
// failing. A parent that no longer exists also ends the walk. Other fetch
// errors are returned.
func (a *Assembler) Assemble(ctx context.Context, mention social.Post) (Thread, error) {
	th := Thread{Bot: a.bot}
	turns := []Turn{a.turn(mention, RoleSubject)}
	seen := map[string]bool{mention.ID: true}

	cur := mention
	for hops := 0; cur.IsReply(); hops++ {
		if hops == a.maxHops {
			a.logger.Debug("thread context truncated", "mention", mention.ID, "hops", hops)
			th.Truncated = true
			break
		}
		if seen[cur.InReplyToID] {
			a.logger.Warn("reply chain loops back on itself", "mention", mention.ID, "id", cur.InReplyToID)
			th.Truncated = true
			break
		}
		parent, err := a.posts.FetchPost(ctx, cur.InReplyToID)
		if errors.Is(err, social.ErrNotFound) {
			a.logger.Debug("parent post gone", "id", cur.InReplyToID)
			th.Truncated = true
			break
		}
		if err != nil {
			return Thread{}, fmt.Errorf("fetching parent %s: %w", cur.InReplyToID, err)
		}
		seen[parent.ID] = true

		role := RoleSubject
		if SameAccount(parent.Author, a.bot) {
			role = RoleBot
		}
		turns = append(turns, a.turn(parent, role))
		cur = parent
	}

	// Collected newest first; flip to root first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	th.Turns = turns
	return th, nil
}

func (a *Assembler) turn(p social.Post, role Role) Turn {
	return Turn{
		Role:   role,
		Author: p.Author,
		Text:   normalize.StripMentions(p.Body),
		PostID: p.ID,
	}
}

// AlreadyReplied reports whether any of the bot's own posts answers
// mentionID.
func AlreadyReplied(mentionID string, own []social.Post) bool {
	for _, p := range own {
		if p.InReplyToID == mentionID {
			return true
		}
	}
	return false
}

// SameAccount compares two handles, ignoring case, a leading "@", and the
// "@domain" suffix when only one side carries it.
func SameAccount(a, b string) bool {
	a, b = canonical(a), canonical(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	ua, da, _ := strings.Cut(a, "@")
	ub, db, _ := strings.Cut(b, "@")
	return ua == ub && (da == "" || db == "")
}

func canonical(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}
