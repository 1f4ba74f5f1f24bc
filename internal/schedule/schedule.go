// Package schedule decides, once per run, whether the bot is awake and
// which features fire.
package schedule

import (
	"log/slog"

	"github.com/robotmk/ebooks/internal/chance"
)

// Odds are per-feature denominators: a feature fires with probability
// 1/N. Zero or negative disables the feature.
type Odds struct {
	Post     int
	Reply    int
	Favorite int
	Image    int
	Quote    int
}

// Window is a span of local hours [Start, End) during which the bot
// sleeps. It may wrap midnight (Start 23, End 7). Start == End is an empty
// window.
type Window struct {
	Start int
	End   int
}

// Contains reports whether hour falls inside the window.
func (w Window) Contains(hour int) bool {
	start, end, h := mod24(w.Start), mod24(w.End), mod24(hour)
	switch {
	case start == end:
		return false
	case start < end:
		return h >= start && h < end
	default:
		return h >= start || h < end
	}
}

func mod24(h int) int {
	h %= 24
	if h < 0 {
		h += 24
	}
	return h
}

// Options configures a Gate.
type Options struct {
	Sleep Window

	// AlwaysAwake ignores the sleep window.
	AlwaysAwake bool
}

// Decision is what one run is allowed to do.
type Decision struct {
	Awake bool `json:"awake"`
	Post  bool `json:"post"`
	Reply bool `json:"reply"`
	Image bool `json:"image"`
	Quote bool `json:"quote"`
}

// Any reports whether the run has work of its own: a post or replies.
// Image and Quote only shape those, so they do not count.
func (d Decision) Any() bool {
	return d.Post || d.Reply
}

// Gate rolls decisions from a single draw source.
type Gate struct {
	src    chance.Source
	opts   Options
	logger *slog.Logger
}

// NewGate creates a Gate drawing from src.
func NewGate(src chance.Source, opts Options) *Gate {
	return &Gate{src: src, opts: opts, logger: slog.Default().With("subsystem", "schedule")}
}

// Awake reports whether hour is outside the sleep window.
func (g *Gate) Awake(hour int) bool {
	return g.opts.AlwaysAwake || !g.opts.Sleep.Contains(hour)
}

// Decide computes the run's decision. In debug mode every feature is on and
// nothing is drawn. Otherwise one draw is taken per feature, in the order
// post, reply, image, quote, whether or not the bot is awake, so the draw
// sequence does not depend on the clock. A sleeping bot does nothing.
func (g *Gate) Decide(odds Odds, hour int, debug bool) Decision {
	if debug {
		return Decision{Awake: true, Post: true, Reply: true, Image: true, Quote: true}
	}
	d := Decision{
		Awake: g.Awake(hour),
		Post:  chance.Roll(g.src, odds.Post),
		Reply: chance.Roll(g.src, odds.Reply),
		Image: chance.Roll(g.src, odds.Image),
		Quote: chance.Roll(g.src, odds.Quote),
	}
	if !d.Awake {
		g.logger.Debug("asleep", "hour", hour)
		return Decision{}
	}
	return d
}

// Roll takes a single draw for a per-item feature such as favoriting a
// mention. Debug mode always fires.
func (g *Gate) Roll(odds int, debug bool) bool {
	if debug {
		return true
	}
	return chance.Roll(g.src, odds)
}
