package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/Veraticus/notesync/internal/common"
)

// Store holds the active snapshot. Readers get a consistent snapshot; a swap
// replaces the catalog wholesale and never affects snapshots already handed out.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store serving initial.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap installs next and returns the previous snapshot.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	return s.current.Swap(next)
}

// Watch reloads path into the store whenever the file is written, until ctx
// is done. Invalid files are logged and the previous snapshot stays active.
// onSwap, when non-nil, is called after each successful swap.
func (s *Store) Watch(ctx context.Context, path string, logger *slog.Logger, onSwap func(*Snapshot)) error {
	logger = common.LoggerOrDefault(logger)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so editors that replace the file are still seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	logger.Info("Watching rule catalog", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			next, loadErr := LoadFile(abs)
			if loadErr != nil {
				logger.Warn("Ignoring invalid rule catalog", "path", abs, "error", loadErr)
				continue
			}
			prevVersion := ""
			if prev := s.Swap(next); prev != nil {
				prevVersion = prev.Version()
			}
			logger.Info("Rule catalog reloaded",
				"previous_version", prevVersion,
				"version", next.Version(),
				"requirements", len(next.requirements))
			if onSwap != nil {
				onSwap(next)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Rule catalog watcher error", "error", watchErr)
		}
	}
}
