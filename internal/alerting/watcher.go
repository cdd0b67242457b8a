package alerting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 250 * time.Millisecond

// FileWatcher reloads the file source of a RuleSet whenever the rules file
// changes. A reload that fails to parse keeps the previous rules.
type FileWatcher struct {
	path     string
	rules    *RuleSet
	debounce time.Duration
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	reloaded chan struct{}
}

// NewFileWatcher watches the directory containing path, so atomic
// rename-on-save still triggers a reload.
func NewFileWatcher(path string, rules *RuleSet, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	return &FileWatcher{
		path:     filepath.Clean(path),
		rules:    rules,
		debounce: DefaultReloadDebounce,
		logger:   logger.With(zap.String("component", "rules_watcher"), zap.String("path", path)),
		watcher:  watcher,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Load reads the rules file and replaces the file source.
func (w *FileWatcher) Load() error {
	rules, err := LoadRulesFromFile(w.path)
	if err != nil {
		return err
	}
	w.rules.Replace(SourceFile, rules)
	w.logger.Info("rules file loaded", zap.Int("rules", len(rules)))
	return nil
}

// Reloaded signals after every reload attempt. Used by tests.
func (w *FileWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run processes file events until ctx is done.
func (w *FileWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

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
			if filepath.Clean(event.Name) != w.path {
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
			if err := w.Load(); err != nil {
				w.logger.Error("rules reload failed, keeping previous rules", zap.Error(err))
			}
			select {
			case w.reloaded <- struct{}{}:
			default:
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
