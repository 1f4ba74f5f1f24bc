// Package style holds optional mutators applied to raw generator output
// before the acceptance filter sees it.
package style

import (
	"context"
	"strings"

	"github.com/robotmk/ebooks/internal/chance"
	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/thread"
)

// Mutator rewrites one candidate. It may draw from src.
type Mutator func(src chance.Source, text string) string

// DropLastWord removes the final word of multi-word text.
func DropLastWord(_ chance.Source, text string) string {
	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}
	i := strings.LastIndexFunc(strings.TrimRight(text, " \t\n"), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n'
	})
	return strings.TrimRight(text[:i], " \t\n")
}

// RandomUppercase upper-cases the whole text with probability 1/odds.
func RandomUppercase(odds int) Mutator {
	return func(src chance.Source, text string) string {
		if chance.Roll(src, odds) {
			return strings.ToUpper(text)
		}
		return text
	}
}

// Chain applies mutators in order.
func Chain(src chance.Source, text string, mutators ...Mutator) string {
	for _, m := range mutators {
		text = m(src, text)
	}
	return text
}

type decorated struct {
	inner    generator.Generator
	src      chance.Source
	mutators []Mutator
}

// Decorate returns g with mutators applied to every successful result of
// either contract. With no mutators g is returned unchanged.
func Decorate(g generator.Generator, src chance.Source, mutators ...Mutator) generator.Generator {
	if len(mutators) == 0 {
		return g
	}
	return &decorated{inner: g, src: src, mutators: mutators}
}

func (d *decorated) Generate(ctx context.Context, examples []string, instructions string) (string, error) {
	out, err := d.inner.Generate(ctx, examples, instructions)
	if err != nil {
		return "", err
	}
	return Chain(d.src, out, d.mutators...), nil
}

func (d *decorated) Converse(ctx context.Context, conv thread.Thread, instructions string) (string, error) {
	out, err := d.inner.Converse(ctx, conv, instructions)
	if err != nil {
		return "", err
	}
	return Chain(d.src, out, d.mutators...), nil
}

// Learn forwards to the wrapped generator when it learns.
func (d *decorated) Learn(corpus []string) {
	if l, ok := d.inner.(generator.Learner); ok {
		l.Learn(corpus)
	}
}
