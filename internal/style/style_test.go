package style

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/thread"
)

func TestDropLastWord(t *testing.T) {
	fixtures := []struct{ in, want string }{
		{"the cat sat down", "the cat sat"},
		{"one", "one"},
		{"two words ", "two"},
		{"line one\nline two", "line one\nline"},
		{"", ""},
	}
	for _, fix := range fixtures {
		assert.Equal(t, fix.want, DropLastWord(nil, fix.in), "input %q", fix.in)
	}
}

func TestRandomUppercase(t *testing.T) {
	assert.Equal(t, "LOUD", RandomUppercase(5)(chance.Fixed(0), "loud"))
	assert.Equal(t, "quiet", RandomUppercase(5)(chance.Fixed(3), "quiet"))
	assert.Equal(t, "off", RandomUppercase(0)(chance.Fixed(0), "off"))
}

func TestDecorate(t *testing.T) {
	g := Decorate(generator.Static{Text: "hello there friend"}, chance.Fixed(0), DropLastWord, RandomUppercase(1))

	out, err := g.Generate(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "HELLO THERE", out)

	out, err = g.Converse(context.Background(), thread.Thread{}, "")
	require.NoError(t, err)
	assert.Equal(t, "HELLO THERE", out)
}

func TestDecorateWithoutMutators(t *testing.T) {
	inner := generator.Static{Text: "x"}
	assert.Equal(t, generator.Generator(inner), Decorate(inner, chance.Fixed(0)))
}

func TestDecoratePropagatesErrors(t *testing.T) {
	g := Decorate(generator.Static{}, chance.Fixed(0), DropLastWord)
	_, err := g.Generate(context.Background(), nil, "")
	assert.ErrorIs(t, err, generator.ErrUnavailable)
}

func TestDecorateForwardsLearn(t *testing.T) {
	m := generator.NewMarkov(chance.Fixed(0))
	g := Decorate(m, chance.Fixed(0), DropLastWord)

	l, ok := g.(generator.Learner)
	require.True(t, ok)
	l.Learn([]string{"soup is good"})

	out, err := g.Converse(context.Background(), thread.Thread{Turns: []thread.Turn{{Text: "soup"}}}, "")
	require.NoError(t, err)
	assert.Equal(t, "soup is", out)
}
