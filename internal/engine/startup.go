package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// EnsureReady checks that the Engine is reachable and serves the chat and
// embedding models. Missing models are pulled when the backend is a Puller,
// with progress written to w; otherwise they are reported as an error. The
// chat model is warmed up with a trivial request afterwards.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	available, err := e.Models(listCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("model backend is not reachable (check engine.base_url and credentials): %w", err)
	}

	var wanted []string
	for _, m := range []string{chatModel, embedModel} {
		if m != "" && !slices.Contains(wanted, m) {
			wanted = append(wanted, m)
		}
	}

	for _, model := range wanted {
		if hasModel(available, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		p, ok := e.(Puller)
		if !ok {
			return fmt.Errorf("model %s is not available on this backend", model)
		}
		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := p.Pull(ctx, model, func(pp PullProgress) {
			if pct := pp.Percent(); pct >= 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", pp.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", pp.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if chatModel == "" {
		return nil
	}
	fmt.Fprintf(w, "model %s: warming up...\n", chatModel)
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.Chat(warmCtx, chatModel, []Message{{Role: RoleUser, Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", chatModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", chatModel)
	}
	return nil
}

// hasModel matches name exactly or, for Ollama, with a ":tag" suffix
// ("llama3.2" matches "llama3.2:latest").
func hasModel(available []string, name string) bool {
	for _, m := range available {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}
