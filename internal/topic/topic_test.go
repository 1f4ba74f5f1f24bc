package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var coffee = []string{"coffee", "espresso", "latte", "brew", "beans", "cappuccino"}

func TestTokenize(t *testing.T) {
	fixtures := []struct {
		text string
		out  []string
	}{
		{text: "", out: []string{}},
		{text: "Hello, World!", out: []string{"hello", "world"}},
		{text: "Café au lait", out: []string{"cafe", "au", "lait"}},
		{text: "it's 9am", out: []string{"it", "s", "9am"}},
	}
	for _, fix := range fixtures {
		assert.Equal(t, fix.out, Tokenize(fix.text), "text %q", fix.text)
	}
}

func TestExceeds(t *testing.T) {
	m := NewMatcher(coffee)
	fixtures := []struct {
		text string
		want bool
	}{
		{"I love coffee and espresso and lattes", true},
		{"Just finished a great project", false},
		{"Coffee coffee coffee brewing beans", true},
		{"Working on a new design", false},
		{"one coffee among many other ordinary words today", false},
	}
	for _, fix := range fixtures {
		assert.Equal(t, fix.want, m.Exceeds(fix.text, 0.3), "text %q", fix.text)
	}
}

func TestFraction(t *testing.T) {
	m := NewMatcher(coffee)
	assert.InDelta(t, 0.5, m.Fraction("coffee time"), 1e-9)
	assert.InDelta(t, 0.0, m.Fraction("   "), 1e-9)
	assert.InDelta(t, 1.0, m.Fraction("Espresso!"), 1e-9)
}

func TestSuffixLimit(t *testing.T) {
	m := NewMatcher([]string{"brew"})
	assert.Equal(t, 1.0, m.Fraction("brewing"))
	assert.Equal(t, 0.0, m.Fraction("breweriana"))
}

func TestEmptyMatcher(t *testing.T) {
	var m *Matcher
	assert.True(t, m.Empty())
	assert.False(t, m.Exceeds("coffee coffee", 0))
	assert.True(t, NewMatcher(nil).Empty())
	assert.True(t, NewMatcher([]string{" !! "}).Empty())
}
