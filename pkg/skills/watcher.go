package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// HandlerResolver supplies handlers for an imported manifest. Import paths
// (uploads, file drops) only carry manifests; the handlers must come from a
// table of known implementations.
type HandlerResolver func(manifest Manifest) map[string]Handler

// Watcher imports skill manifests dropped into a directory. Any file ending
// in .skill.json is parsed, validated and registered; invalid files are
// skipped with a warning.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	registry *Registry
	resolve  HandlerResolver
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherConfig holds skill watcher configuration.
type WatcherConfig struct {
	Dir      string
	Registry *Registry
	Resolver HandlerResolver
	Logger   zerolog.Logger
}

// NewWatcher creates a skill directory watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("skills directory is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("handler resolver is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsw,
		dir:      cfg.Dir,
		registry: cfg.Registry,
		resolve:  cfg.Resolver,
		logger:   cfg.Logger.With().Str("component", "skill-watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start imports existing manifests and begins watching for new ones.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create skills directory: %w", err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read skills directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isManifestFile(e.Name()) {
			w.importFile(filepath.Join(w.dir, e.Name()))
		}
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch skills directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("dir", w.dir).Msg("Skill watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.importFile(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) importFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to read skill manifest")
		return
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to parse skill manifest, skipping")
		return
	}

	handlers := w.resolve(manifest)
	if len(handlers) == 0 {
		w.logger.Warn().Str("skill", manifest.Name).Msg("No handlers available for imported skill, skipping")
		return
	}

	if err := w.registry.Register(manifest, handlers); err != nil {
		w.logger.Warn().Err(err).Str("skill", manifest.Name).Msg("Failed to register imported skill")
		return
	}

	w.logger.Info().Str("skill", manifest.Name).Str("path", path).Msg("Skill imported")
}

func isManifestFile(name string) bool {
	return strings.HasSuffix(name, ".skill.json")
}
