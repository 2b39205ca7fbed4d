package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	defaultDebounce = 500 * time.Millisecond
)

// Handler processes the content of one spooled file.
type Handler func(ctx context.Context, name string, content []byte) error

// Watcher picks up report files dropped into a directory. Every file is
// handed to the Handler once and then moved into processed/ or failed/.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a Watcher for dir and makes sure the output directories exist.
func New(dir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("no spool directory configured")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	for _, d := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o750); err != nil {
			return nil, fmt.Errorf("could not create %s: %w", d, err)
		}
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Scan processes every file currently in the spool directory.
func (w *Watcher) Scan(ctx context.Context, handle Handler) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("could not read spool directory: %w", err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || skip(e.Name()) {
			continue
		}
		w.process(ctx, e.Name(), handle)
	}
	return nil
}

// Run scans the directory once and then processes new files as they
// settle. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	// files written before the watch was set up
	if err := w.Scan(ctx, handle); err != nil {
		return err
	}

	w.logger.Info("spool watcher started", "dir", w.dir, "debounce", w.debounce)

	ready := make(chan string)
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("spool watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if filepath.Dir(event.Name) != filepath.Clean(w.dir) || skip(name) {
				continue
			}
			w.logger.Debug("file event detected", "name", name, "op", event.Op.String())

			if t, ok := pending[name]; ok {
				t.Reset(w.debounce)
				continue
			}
			pending[name] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(pending, name)
			info, err := os.Stat(filepath.Join(w.dir, name))
			if err != nil || info.IsDir() {
				continue
			}
			w.process(ctx, name, handle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("spool watcher error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context, name string, handle Handler) {
	path := filepath.Join(w.dir, name)
	content, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		w.logger.Error("could not read spooled file", "name", name, "error", err)
		return
	}

	target := ProcessedDir
	if err := handle(ctx, name, content); err != nil {
		w.logger.Error("could not process spooled file", "name", name, "error", err)
		target = FailedDir
	} else {
		w.logger.Info("processed spooled file", "name", name)
	}

	if err := os.Rename(path, filepath.Join(w.dir, target, name)); err != nil {
		w.logger.Error("could not move spooled file", "name", name, "target", target, "error", err)
	}
}

// hidden files are still being written by the producer
func skip(name string) bool {
	return strings.HasPrefix(name, ".")
}
