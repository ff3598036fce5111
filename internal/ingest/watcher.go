package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without events before it is
// considered fully written.
const DefaultSettle = 2 * time.Second

// Watcher ingests documents as they appear in the upload directory.
type Watcher struct {
	intake *Intake
	settle time.Duration
	logger *slog.Logger
}

// NewWatcher creates a Watcher. settle <= 0 selects DefaultSettle.
func NewWatcher(intake *Intake, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{intake: intake, settle: settle, logger: slog.Default()}
}

// Run watches until ctx is cancelled. Files already present when Run starts
// are ingested on the first tick.
func (w *Watcher) Run(ctx context.Context) error {
	dir := w.intake.UploadDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	pending := make(map[string]time.Time)
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if path, ok := w.handleEvent(fsnotify.Event{Name: filepath.Join(dir, e.Name()), Op: fsnotify.Create}); ok {
				pending[path] = time.Time{}
			}
		}
	}

	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()
	w.logger.Info("watching for documents", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.handleEvent(ev); ok {
				pending[path] = time.Now()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case now := <-tick.C:
			ready := settled(pending, now, w.settle)
			if len(ready) == 0 {
				continue
			}
			res, err := w.intake.IngestFiles(ctx, ready)
			if err != nil {
				w.logger.Error("ingesting watched files", "files", ready, "error", err)
				continue
			}
			w.logger.Info("ingested watched files", "files", res.Files, "passages", res.Stats.Inserted)
		}
	}
}

// handleEvent reports whether ev concerns a document file that should be
// (re)scheduled for ingestion.
func (w *Watcher) handleEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	if ok, _ := doublestar.Match(w.intake.Pattern(), base); !ok {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return ev.Name, true
}

// settled removes and returns the pending paths quiet for at least settle.
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var ready []string
	for path, last := range pending {
		if now.Sub(last) >= settle {
			ready = append(ready, path)
			delete(pending, path)
		}
	}
	sort.Strings(ready)
	return ready
}
