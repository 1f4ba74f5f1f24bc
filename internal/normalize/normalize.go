// Package normalize turns a raw post body into clean training text.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	// Everything after a reshare marker is someone else's words.
	reshare = regexp.MustCompile(`\b(RT|MT) .+`)

	// Links, hashtags and hat-tips.
	linkish = regexp.MustCompile(`(#|h/t|http)\S+`)

	// Kept apart from linkish so mention handling can change on its own.
	mention = regexp.MustCompile(`@\S+`)

	quotes = regexp.MustCompile(`["()]`)

	// Dash-only lines would read as the prompt separator.
	dashRule = regexp.MustCompile(`(?m)^[ \t]*-{3,}[ \t]*$`)
)

// Normalize removes reshare tails, links, hashtags, mentions, quote
// characters and dash-only rule lines from raw, decodes HTML character
// references, and tidies whitespace. Unknown named entities are left as
// they are.
//
// Normalize is idempotent: the rules are applied until the text stops
// changing, so removals that expose a new match (e.g. "h(ttp://x") are
// cleaned in the same call. Entity decoding is part of every pass, so
// double-encoded text such as "&amp;lt;" decodes all the way to "<".
func Normalize(raw string) string {
	s := raw
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string) string {
	s = html.UnescapeString(s)
	s = reshare.ReplaceAllString(s, "")
	s = linkish.ReplaceAllString(s, "")
	s = StripMentions(s)
	s = quotes.ReplaceAllString(s, "")
	s = dashRule.ReplaceAllString(s, "")
	return tidy(s)
}

// StripMentions removes @mention tokens and tidies the leftover whitespace.
func StripMentions(s string) string {
	return tidy(mention.ReplaceAllString(s, ""))
}

// tidy collapses runs of blanks inside each line, trims every line, and
// drops empty lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
