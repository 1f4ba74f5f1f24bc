package ollama

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that Ollama is running and that model is available,
// pulling it with progress written to w when it is missing.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}
	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	err := c.PullModel(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			pct := float64(p.Completed) / float64(p.Total) * 100
			fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
		} else {
			fmt.Fprintf(w, "  %s\n", p.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return nil
}
