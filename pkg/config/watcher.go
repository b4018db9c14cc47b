// Copyright 2026 © The SINP Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jllopis/sinp/pkg/errors"
)

// Watcher reloads the configuration when its file or profile overlay
// changes. A reload that fails validation keeps the previous config.
type Watcher struct {
	mu        sync.RWMutex
	path      string
	profile   string
	overrides []string
	debounce  time.Duration
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces bursts of file events. Editors often write a
// file in several steps.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWatchOverrides re-applies key=value overrides on every reload.
func WithWatchOverrides(overrides []string) WatcherOption {
	return func(w *Watcher) {
		w.overrides = overrides
	}
}

// NewWatcher loads the initial configuration from path and profile.
func NewWatcher(path, profile string, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.Newf(errors.CodeInvalidConfig, "watcher requires a config path")
	}
	w := &Watcher{
		path:     path,
		profile:  profile,
		debounce: 100 * time.Millisecond,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := LoadWithOverrides(w.path, w.profile, w.overrides)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers fn to run after each successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start watches the config directory until ctx is done or Stop is called.
// The directory is watched rather than the file so that atomic renames
// are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(errors.CodeInternal, "create file watcher", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return errors.New(errors.CodeInvalidConfig, "watch config directory", err).WithContext("path", w.path)
	}
	w.fsw = fsw
	go w.watch(ctx)
	return nil
}

// Stop ends watching and waits for the loop to exit. It is safe to call
// more than once, and before Start.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	if w.fsw != nil {
		<-w.doneCh
	}
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fsw.Close()

	watched := map[string]bool{filepath.Clean(w.path): true}
	if p := ProfilePath(w.path, w.profile); p != "" {
		watched[filepath.Clean(p)] = true
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watched[filepath.Clean(ev.Name)] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithOverrides(w.path, w.profile, w.overrides)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
}
