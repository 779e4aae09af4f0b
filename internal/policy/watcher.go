package policy

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/paydeck/paydeck/internal/config"
)

// rulesFile is the on-disk shape of a standalone rules file.
type rulesFile struct {
	Rules []config.RuleConfig `yaml:"rules"`
}

// LoadRulesFile reads a standalone rules YAML file.
func LoadRulesFile(path string) ([]config.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return rf.Rules, nil
}

// Watcher hot-reloads an Engine when its rules file changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// WatchRulesFile starts an fsnotify watcher on path and reloads engine on
// every write. The watch is on the containing directory: editors that
// rename-replace the file would otherwise drop the watch after one save.
func WatchRulesFile(path string, engine *Engine, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve rules path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch rules directory: %w", err)
	}

	w := &Watcher{
		watcher: fsw,
		done:    make(chan struct{}),
		logger:  logger.With("component", "policy.Watcher"),
	}
	go w.loop(abs, engine)
	return w, nil
}

func (w *Watcher) loop(path string, engine *Engine) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := LoadRulesFile(path)
			if err != nil {
				w.logger.Error("rules reload failed, keeping previous set", "error", err)
				continue
			}
			engine.Reload(rules)
			w.logger.Info("rules file reloaded", "path", path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
