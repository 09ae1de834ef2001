package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/rately/ratecore/pkg/domain"
)

// definitionFile is the on-disk document shape. A file may carry any mix of
// sections; the loader merges every file in the directory.
type definitionFile struct {
	Flows    []domain.Flow              `yaml:"flows"`
	Rules    []domain.Rule              `yaml:"rules"`
	Mappings []domain.MappingDefinition `yaml:"mappings"`
	Systems  []domain.System            `yaml:"systems"`
	Lookups  map[string]map[string]any  `yaml:"lookups"`
}

// FileStore loads definitions from a directory of YAML files and reloads
// them when the directory changes. Reads always serve the last good
// snapshot: a reload that fails to parse keeps the previous state.
type FileStore struct {
	dir     string
	store   *MemoryStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu       sync.Mutex
	onReload []func()
}

// NewFileStore loads the directory and starts watching it for changes.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve definitions dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:     absDir,
		store:   NewMemoryStore(),
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}

	if err := s.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(absDir); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch definitions dir: %w", err)
	}
	go s.watchLoop(ctx)

	return s, nil
}

// OnReload registers a callback invoked after each successful reload.
func (s *FileStore) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	s.cancel()
	return s.watcher.Close()
}

// Flow implements FlowProvider.
func (s *FileStore) Flow(ctx context.Context, productLineCode string) (*domain.Flow, error) {
	return s.store.Flow(ctx, productLineCode)
}

// RulesForPhase implements RuleProvider.
func (s *FileStore) RulesForPhase(ctx context.Context, productLineCode, phase string) ([]domain.Rule, error) {
	return s.store.RulesForPhase(ctx, productLineCode, phase)
}

// Mapping implements MappingProvider.
func (s *FileStore) Mapping(ctx context.Context, productLineCode, direction string) (*domain.MappingDefinition, error) {
	return s.store.Mapping(ctx, productLineCode, direction)
}

// System implements SystemProvider.
func (s *FileStore) System(ctx context.Context, code string) (domain.System, error) {
	return s.store.System(ctx, code)
}

// Lookup implements LookupProvider.
func (s *FileStore) Lookup(ctx context.Context, table, key string) (any, bool, error) {
	return s.store.Lookup(ctx, table, key)
}

func (s *FileStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read definitions dir: %w", err)
	}

	fresh := NewMemoryStore()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(s.dir, name)
		// #nosec G304 -- path is rooted in the configured definitions dir
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		var doc definitionFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		mergeDocument(fresh, doc)
		loaded++
	}

	s.store.Replace(fresh)
	s.logger.Info("definitions loaded", "dir", s.dir, "files", loaded)
	return nil
}

func mergeDocument(store *MemoryStore, doc definitionFile) {
	for i := range doc.Flows {
		store.PutFlow(&doc.Flows[i])
	}
	store.PutRules(doc.Rules...)
	for _, mapping := range doc.Mappings {
		store.PutMapping(mapping)
	}
	for _, system := range doc.Systems {
		store.PutSystem(system)
	}
	for table, entries := range doc.Lookups {
		store.PutLookupTable(table, entries)
	}
}

func (s *FileStore) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDuration = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				if err := s.load(); err != nil {
					s.logger.Error("definitions reload failed; keeping previous snapshot", "error", err)
					return
				}
				s.mu.Lock()
				callbacks := make([]func(), len(s.onReload))
				copy(callbacks, s.onReload)
				s.mu.Unlock()
				for _, fn := range callbacks {
					fn()
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("definitions watcher error", "error", err)
		}
	}
}
