package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/robotmk/ebooks/internal/pipeline"
	"github.com/robotmk/ebooks/internal/schedule"
	"github.com/robotmk/ebooks/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

var statusColors = map[string]string{
	pipeline.StatusPublished: colorGreen,
	pipeline.StatusRejected:  colorYellow,
	pipeline.StatusSkipped:   colorCyan,
	pipeline.StatusFailed:    colorRed,
}

func outcomeColor(outcome string) string {
	switch outcome {
	case pipeline.OutcomeCompleted:
		return colorGreen
	case pipeline.OutcomeFailed:
		return colorRed
	default:
		return colorYellow
	}
}

// decisionLabel lists the features a run rolled, e.g. "awake post reply".
func decisionLabel(d schedule.Decision) string {
	if !d.Awake {
		return "asleep"
	}
	parts := []string{"awake"}
	for _, f := range []struct {
		on   bool
		name string
	}{{d.Post, "post"}, {d.Reply, "reply"}, {d.Image, "image"}, {d.Quote, "quote"}} {
		if f.on {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, " ")
}

func writeReport(w io.Writer, rep pipeline.Report) {
	mode := "live"
	if rep.Debug {
		mode = "debug"
	}
	fmt.Fprintf(w, "%s %s (%s, %s)\n", colorize(colorBold, "run"), rep.RunID, mode, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  decision: %s\n", decisionLabel(rep.Decision))

	outcome := rep.Outcome
	switch {
	case rep.Error != "":
		outcome += ": " + rep.Error
	case rep.Reason != "":
		outcome += ": " + rep.Reason
	}
	fmt.Fprintf(w, "  outcome:  %s\n", colorize(outcomeColor(rep.Outcome), outcome))

	for _, a := range rep.Attempts {
		writeAttempt(w, a.Kind, a.Status, a.TargetID, a.PostID, a.Text, a.Reason, a.Fallback)
	}
}

func writeAttempt(w io.Writer, kind, status, target, postID, text, reason string, fallback bool) {
	line := fmt.Sprintf("  %-8s %s", kind, colorize(statusColors[status], status))
	if target != "" {
		line += " to " + target
	}
	if postID != "" {
		line += " as " + postID
	}
	if fallback {
		line += " (fallback)"
	}
	if reason != "" {
		line += " [" + reason + "]"
	}
	fmt.Fprintln(w, line)
	if text != "" {
		fmt.Fprintf(w, "           %q\n", text)
	}
}

func writeJournalRun(w io.Writer, r storage.Run, attempts []storage.Attempt) {
	mode := "live"
	if r.Debug {
		mode = "debug"
	}
	line := fmt.Sprintf("%s %s %s %s", r.StartedAt.Local().Format(time.DateTime), r.ID, mode, colorize(outcomeColor(r.Outcome), r.Outcome))
	if r.Error != "" {
		line += ": " + r.Error
	}
	fmt.Fprintln(w, line)
	for _, a := range attempts {
		writeAttempt(w, a.Kind, a.Status, a.TargetID, a.PostID, a.Text, a.Reason, a.Fallback)
	}
}
