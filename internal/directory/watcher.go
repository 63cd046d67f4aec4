// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package directory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits after the last change before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a Directory when its backing file changes. A reload that
// fails keeps the previous roster.
type Watcher struct {
	dir      *Directory
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
	onReload func(error)

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// OnReload registers a callback invoked after each reload attempt with its result.
func OnReload(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// Watch starts watching dir's backing file until ctx is done or Close is called.
func Watch(ctx context.Context, dir *Directory, opts ...WatcherOption) (*Watcher, error) {
	if dir.Path() == "" {
		return nil, errors.New("directory has no backing file to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the parent: editors often replace the file rather than write it.
	if err := fsw.Add(filepath.Dir(dir.Path())); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		watcher:  fsw,
		debounce: DefaultDebounce,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Close stops the watcher and waits for it to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	target := filepath.Clean(w.dir.Path())
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			err := w.dir.Reload()
			if err != nil {
				w.logger.Warn().Err(err).Str("path", target).Msg("directory reload failed, keeping previous roster")
			} else {
				w.logger.Info().Str("path", target).Int("users", len(w.dir.Users())).Msg("directory reloaded")
			}
			if w.onReload != nil {
				w.onReload(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("directory watcher error")
		}
	}
}
