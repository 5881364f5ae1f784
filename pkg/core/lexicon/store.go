package lexicon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Store owns the active lexicon snapshot. Readers take a snapshot once per parse;
// a reload swaps in a freshly built Lexicon and never patches the old one.
type Store struct {
	path    string
	current atomic.Pointer[Lexicon]
	logger  *slog.Logger
}

// NewStore loads path, or the built-in default when path is empty.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger.With("component", "lexicon")}
	if path == "" {
		s.current.Store(Default())
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the lexicon active right now.
func (s *Store) Snapshot() *Lexicon {
	return s.current.Load()
}

// Swap installs lex as the active snapshot.
func (s *Store) Swap(lex *Lexicon) {
	if lex != nil {
		s.current.Store(lex)
	}
}

// Reload rebuilds the lexicon from disk. On error the previous snapshot stays active.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	lex, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(lex)
	s.logger.Info("lexicon.loaded", "path", s.path, "version", lex.Version())
	return nil
}

// Watch reloads the lexicon whenever its file is written, until ctx ends.
// The parent directory is watched so editors that replace the file are handled.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("lexicon store has no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn("lexicon.reload_failed", "path", s.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("lexicon.watch_error", "error", err)
		}
	}
}
