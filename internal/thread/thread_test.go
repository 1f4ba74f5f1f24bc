package thread

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotmk/ebooks/internal/social"
	"github.com/robotmk/ebooks/internal/social/socialtest"
)

func TestAssembleOrdersRootFirst(t *testing.T) {
	fake := socialtest.New()
	a := social.Post{ID: "1", Author: "alice", Body: "what should I eat"}
	b := social.Post{ID: "2", Author: "robot_mk@mastodon.social", Body: "@alice soup", InReplyToID: "1"}
	c := social.Post{ID: "3", Author: "alice", Body: "@robot_mk why soup?", InReplyToID: "2"}
	fake.AddPost(a)
	fake.AddPost(b)

	th, err := NewAssembler(fake, "@robot_mk", 0).Assemble(context.Background(), c)
	require.NoError(t, err)

	require.Len(t, th.Turns, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{th.Turns[0].PostID, th.Turns[1].PostID, th.Turns[2].PostID})
	assert.Equal(t, RoleSubject, th.Turns[0].Role)
	assert.Equal(t, RoleBot, th.Turns[1].Role)
	assert.Equal(t, RoleSubject, th.Turns[2].Role)
	assert.Equal(t, "soup", th.Turns[1].Text)
	assert.Equal(t, "why soup?", th.Last().Text)
	assert.False(t, th.Truncated)
	assert.Equal(t, "@robot_mk", th.Bot)
}

func TestAssembleStandaloneMention(t *testing.T) {
	fake := socialtest.New()
	th, err := NewAssembler(fake, "robot_mk", 0).Assemble(context.Background(), social.Post{ID: "9", Author: "bob", Body: "@robot_mk hello"})
	require.NoError(t, err)
	require.Len(t, th.Turns, 1)
	assert.Equal(t, "hello", th.Turns[0].Text)
	assert.Equal(t, 0, fake.FetchCalls)
}

func TestAssembleHopCeiling(t *testing.T) {
	fake := socialtest.New()
	for i := 1; i <= 50; i++ {
		p := social.Post{ID: strconv.Itoa(i), Author: "alice", Body: "msg " + strconv.Itoa(i)}
		if i > 1 {
			p.InReplyToID = strconv.Itoa(i - 1)
		}
		fake.AddPost(p)
	}
	mention := social.Post{ID: "51", Author: "alice", Body: "latest", InReplyToID: "50"}

	th, err := NewAssembler(fake, "robot_mk", 5).Assemble(context.Background(), mention)
	require.NoError(t, err)

	assert.True(t, th.Truncated)
	assert.Equal(t, 5, fake.FetchCalls)
	require.Len(t, th.Turns, 6)
	assert.Equal(t, "46", th.Turns[0].PostID)
	assert.Equal(t, "51", th.Last().PostID)
}

func TestAssembleCycleGuard(t *testing.T) {
	fake := socialtest.New()
	fake.AddPost(social.Post{ID: "1", Author: "x", Body: "one", InReplyToID: "2"})
	fake.AddPost(social.Post{ID: "2", Author: "x", Body: "two", InReplyToID: "1"})

	th, err := NewAssembler(fake, "robot_mk", 100).Assemble(context.Background(), social.Post{ID: "3", Body: "three", InReplyToID: "2"})
	require.NoError(t, err)
	assert.True(t, th.Truncated)
	assert.Len(t, th.Turns, 3)
	assert.Equal(t, 2, fake.FetchCalls)
}

func TestAssembleDeletedParent(t *testing.T) {
	fake := socialtest.New()
	th, err := NewAssembler(fake, "robot_mk", 0).Assemble(context.Background(), social.Post{ID: "3", Body: "orphan", InReplyToID: "2"})
	require.NoError(t, err)
	assert.True(t, th.Truncated)
	assert.Len(t, th.Turns, 1)
}

func TestAssembleFetchError(t *testing.T) {
	fake := socialtest.New()
	fake.Err = errors.New("platform down")
	_, err := NewAssembler(fake, "robot_mk", 0).Assemble(context.Background(), social.Post{ID: "3", Body: "hi", InReplyToID: "2"})
	require.Error(t, err)
}

func TestAlreadyReplied(t *testing.T) {
	own := []social.Post{
		{ID: "100", InReplyToID: "7"},
		{ID: "101"},
	}
	assert.True(t, AlreadyReplied("7", own))
	assert.False(t, AlreadyReplied("8", own))
	assert.False(t, AlreadyReplied("7", nil))
}

func TestSameAccount(t *testing.T) {
	fixtures := []struct {
		a, b string
		want bool
	}{
		{"robot_mk", "@robot_mk", true},
		{"Robot_MK", "robot_mk@mastodon.social", true},
		{"@robot_mk@mastodon.social", "robot_mk@mastodon.social", true},
		{"robot_mk@a.social", "robot_mk@b.social", false},
		{"alice", "robot_mk", false},
		{"", "", false},
	}
	for _, fix := range fixtures {
		assert.Equal(t, fix.want, SameAccount(fix.a, fix.b), "%q vs %q", fix.a, fix.b)
	}
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "bot", RoleBot.String())
	assert.Equal(t, "subject", RoleSubject.String())
}
