// Package accept decides whether a generated candidate may be published,
// rewriting it where a rule allows and rejecting it otherwise.
package accept

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/robotmk/ebooks/internal/generator"
	"github.com/robotmk/ebooks/internal/topic"
)

// Kind is what a candidate will be published as.
type Kind int

const (
	KindPost Kind = iota
	KindReply
)

func (k Kind) String() string {
	if k == KindReply {
		return "reply"
	}
	return "post"
}

// Rejection reasons.
var (
	ErrTooLong         = errors.New("too long")
	ErrEmpty           = errors.New("empty")
	ErrTooSimilar      = errors.New("too similar to source")
	ErrArtifact        = errors.New("separator artifact")
	ErrOverrepresented = errors.New("overrepresented topic")
)

// Rejection is returned for every refused candidate. Text is the candidate
// as it stood when the failing rule ran.
type Rejection struct {
	Reason error
	Kind   Kind
	Text   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s rejected: %v", r.Kind, r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Reason
}

const (
	DefaultMaxLength       = 480
	DefaultPlaceholder     = "[link]"
	DefaultStrictThreshold = 0.2
)

// DefaultShortLinkHosts are link shorteners rewritten to the placeholder.
var DefaultShortLinkHosts = []string{"t.co", "bit.ly", "tinyurl.com", "buff.ly", "ow.ly"}

// Options configures a Filter. Zero values take the defaults above.
type Options struct {
	MaxLength      int
	ShortLinkHosts []string
	Placeholder    string

	// OwnLabel is the bot's speaker label. A leading "OwnLabel:" on the
	// first line is stripped rather than truncating the whole reply.
	OwnLabel string

	// Topic enables the overrepresentation reject when non-empty.
	Topic           *topic.Matcher
	StrictThreshold float64
}

// Filter runs the acceptance rules.
type Filter struct {
	opts      Options
	shortLink *regexp.Regexp
}

var (
	labelLine = regexp.MustCompile(`^[^\s:]+:(\s|$)`)
	dashLine  = regexp.MustCompile(`^\s*-+\s*$`)
)

// New builds a Filter.
func New(opts Options) *Filter {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.ShortLinkHosts == nil {
		opts.ShortLinkHosts = DefaultShortLinkHosts
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.StrictThreshold <= 0 {
		opts.StrictThreshold = DefaultStrictThreshold
	}
	f := &Filter{opts: opts}
	if len(opts.ShortLinkHosts) > 0 {
		hosts := make([]string, len(opts.ShortLinkHosts))
		for i, h := range opts.ShortLinkHosts {
			hosts[i] = regexp.QuoteMeta(h)
		}
		f.shortLink = regexp.MustCompile(`(?i)https?://(?:www\.)?(?:` + strings.Join(hosts, "|") + `)/\S*`)
	}
	return f
}

// MaxLength is the exclusive upper bound on accepted text length in runes.
func (f *Filter) MaxLength() int {
	return f.opts.MaxLength
}

// Accept applies the rules in order and returns the publishable text, or a
// *Rejection naming the first rule that failed. corpus is every source
// string the candidate must not repeat.
func (f *Filter) Accept(raw string, corpus []string, kind Kind) (string, error) {
	text := cutSeparator(raw)
	text = f.cutSpeakerLabels(text)
	if f.shortLink != nil {
		text = f.shortLink.ReplaceAllString(text, f.opts.Placeholder)
	}
	text = strings.TrimSpace(text)

	reject := func(reason error) (string, error) {
		return "", &Rejection{Reason: reason, Kind: kind, Text: text}
	}

	if utf8.RuneCountInString(text) >= f.opts.MaxLength {
		return reject(ErrTooLong)
	}
	if text == "" {
		return reject(ErrEmpty)
	}
	if similar(text, corpus) {
		return reject(ErrTooSimilar)
	}
	if hasArtifact(text) {
		return reject(ErrArtifact)
	}
	if !f.opts.Topic.Empty() && f.opts.Topic.Exceeds(text, f.opts.StrictThreshold) {
		return reject(ErrOverrepresented)
	}
	return text, nil
}

func cutSeparator(s string) string {
	if i := strings.Index(s, generator.Separator); i >= 0 {
		return s[:i]
	}
	return s
}

// cutSpeakerLabels drops the first line after the opening one that starts
// with "label:", and everything after it. On the opening line the bot's own
// label is stripped, and a line holding nothing but a label is removed.
func (f *Filter) cutSpeakerLabels(s string) string {
	lines := strings.Split(s, "\n")
	first := strings.TrimPrefix(strings.TrimSpace(lines[0]), "@")
	for _, own := range ownLabels(f.opts.OwnLabel) {
		if len(first) >= len(own) && strings.EqualFold(first[:len(own)], own) {
			lines[0] = strings.TrimSpace(first[len(own):])
			break
		}
	}
	if first := strings.TrimSpace(lines[0]); len(lines) > 1 && labelLine.MatchString(first) && labelLine.FindString(first) == first {
		lines = lines[1:]
	}
	for i := 1; i < len(lines); i++ {
		if labelLine.MatchString(strings.TrimSpace(lines[i])) {
			lines = lines[:i]
			break
		}
	}
	return strings.Join(lines, "\n")
}

// ownLabels returns the "label:" prefixes the bot may be echoed under:
// the full handle and, for "user@domain", the bare user name that chat
// prompts label bot turns with.
func ownLabels(handle string) []string {
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return nil
	}
	labels := []string{handle + ":"}
	if user, _, ok := strings.Cut(handle, "@"); ok && user != "" {
		labels = append(labels, user+":")
	}
	return labels
}

// similar reports whether text minus its final rune appears inside any
// corpus entry.
func similar(text string, corpus []string) bool {
	head := text
	if _, size := utf8.DecodeLastRuneInString(text); size < len(text) {
		head = text[:len(text)-size]
	}
	for _, c := range corpus {
		if strings.Contains(c, head) {
			return true
		}
	}
	return false
}

func hasArtifact(text string) bool {
	if strings.Contains(text, "---") {
		return true
	}
	lines := strings.Split(text, "\n")
	return dashLine.MatchString(lines[len(lines)-1])
}
