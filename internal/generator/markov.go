package generator

import (
	"context"
	"errors"
	"strings"

	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/thread"
)

const (
	markovOrder    = 2
	markovMaxWords = 40
)

// Markov is a local order-2 word chain. Instructions are ignored.
type Markov struct {
	src     chance.Source
	learned []string
}

// NewMarkov returns a Markov generator walking with src.
func NewMarkov(src chance.Source) *Markov {
	return &Markov{src: src}
}

// Learn keeps corpus as the chain source for Converse.
func (m *Markov) Learn(corpus []string) {
	m.learned = corpus
}

func (m *Markov) Generate(_ context.Context, examples []string, _ string) (string, error) {
	c := buildChain(examples)
	if c.empty() {
		return "", unavailable("markov", errors.New("no examples to learn from"))
	}
	return c.walk(m.src, c.randomStart(m.src)), nil
}

// Converse walks a chain over the learned corpus and the thread, starting
// from a word of the latest turn when the chain knows one.
func (m *Markov) Converse(_ context.Context, conv thread.Thread, _ string) (string, error) {
	texts := append([]string(nil), m.learned...)
	for _, t := range conv.Turns {
		texts = append(texts, t.Text)
	}
	c := buildChain(texts)
	if c.empty() {
		return "", unavailable("markov", errors.New("no text to learn from"))
	}

	var seeds []state
	for _, w := range strings.Fields(conv.Last().Text) {
		seeds = append(seeds, c.byWord[w]...)
	}
	start, ok := chance.Pick(m.src, seeds)
	if !ok {
		start = c.randomStart(m.src)
	}
	return c.walk(m.src, start), nil
}

type state [markovOrder]string

func (s state) key() string {
	return strings.Join(s[:], "\x00")
}

type chain struct {
	next   map[string][]string
	starts []state
	byWord map[string][]state
}

// buildChain indexes every example; "" marks both the sentence start
// padding and the end of a sentence.
func buildChain(texts []string) *chain {
	c := &chain{next: make(map[string][]string), byWord: make(map[string][]state)}
	for _, text := range texts {
		words := strings.Fields(text)
		if len(words) == 0 {
			continue
		}
		var s state
		c.starts = append(c.starts, s)
		for _, w := range append(words, "") {
			c.next[s.key()] = append(c.next[s.key()], w)
			if w == "" {
				break
			}
			s = state{s[1], w}
			c.byWord[w] = append(c.byWord[w], s)
		}
	}
	return c
}

func (c *chain) empty() bool {
	return len(c.starts) == 0
}

func (c *chain) randomStart(src chance.Source) state {
	s, _ := chance.Pick(src, c.starts)
	return s
}

func (c *chain) walk(src chance.Source, s state) string {
	var out []string
	for _, w := range s {
		if w != "" {
			out = append(out, w)
		}
	}
	for len(out) < markovMaxWords {
		choices := c.next[s.key()]
		if len(choices) == 0 {
			break
		}
		w := choices[src.Intn(len(choices))]
		if w == "" {
			break
		}
		out = append(out, w)
		s = state{s[1], w}
	}
	return strings.Join(out, " ")
}
