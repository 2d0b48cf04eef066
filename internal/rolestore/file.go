package rolestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/authz-engine/roles-core/pkg/types"
)

// FileRolesProvider serves role descriptors authored in YAML or JSON files
// under a directory. Each file holds a map of role name to descriptor body.
// The provider can watch the directory and report which role names changed
// so the composite store invalidates exactly those cache entries.
type FileRolesProvider struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	roles map[string]types.RoleDescriptor

	changedFn       func(names []string)
	watcher         *fsnotify.Watcher
	debounceTimeout time.Duration
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// NewFileRolesProvider loads all role files under dir. Files that fail to
// parse are skipped with a warning; the provider still serves the rest.
func NewFileRolesProvider(dir string, logger *zap.Logger) (*FileRolesProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &FileRolesProvider{
		dir:             dir,
		logger:          logger,
		roles:           map[string]types.RoleDescriptor{},
		debounceTimeout: 500 * time.Millisecond,
		stopChan:        make(chan struct{}),
	}
	roles, err := p.loadAll()
	if err != nil {
		return nil, err
	}
	p.roles = roles
	return p, nil
}

// OnRolesChanged registers the callback invoked with the names whose
// definitions changed after a reload.
func (p *FileRolesProvider) OnRolesChanged(fn func(names []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changedFn = fn
}

// Count returns the number of file-defined roles.
func (p *FileRolesProvider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.roles)
}

// RetrieveRoles implements RolesProvider.
func (p *FileRolesProvider) RetrieveRoles(_ context.Context, names []string, listener func(RoleRetrievalResult)) {
	p.mu.RLock()
	var result RoleRetrievalResult
	for _, name := range names {
		if d, ok := p.roles[name]; ok {
			result.Descriptors = append(result.Descriptors, d)
		}
	}
	p.mu.RUnlock()
	listener(result)
}

func (p *FileRolesProvider) loadAll() (map[string]types.RoleDescriptor, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles directory: %w", err)
	}

	roles := map[string]types.RoleDescriptor{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		fileRoles, err := loadRolesFile(path)
		if err != nil {
			p.logger.Warn("failed to load roles file",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		for name, d := range fileRoles {
			roles[name] = d
		}
	}
	return roles, nil
}

func loadRolesFile(path string) (map[string]types.RoleDescriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	raw := map[string]types.RoleDescriptor{}
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON roles: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML roles: %w", err)
		}
	}

	roles := make(map[string]types.RoleDescriptor, len(raw))
	for name, d := range raw {
		d.Name = name
		roles[name] = d
	}
	return roles, nil
}

// Reload re-reads the role files and returns the names whose definitions
// were added, removed, or modified.
func (p *FileRolesProvider) Reload() ([]string, error) {
	fresh, err := p.loadAll()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	previous := p.roles
	p.roles = fresh
	changedFn := p.changedFn
	p.mu.Unlock()

	var changed []string
	for name, d := range fresh {
		old, ok := previous[name]
		if !ok || !reflect.DeepEqual(old, d) {
			changed = append(changed, name)
		}
	}
	for name := range previous {
		if _, ok := fresh[name]; !ok {
			changed = append(changed, name)
		}
	}

	if len(changed) > 0 {
		p.logger.Info("reloaded file roles",
			zap.Int("total", len(fresh)),
			zap.Strings("changed", changed),
		)
		if changedFn != nil {
			changedFn(changed)
		}
	}
	return changed, nil
}

// Watch starts monitoring the roles directory. Filesystem events are
// debounced before triggering a reload.
func (p *FileRolesProvider) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch roles directory: %w", err)
	}
	p.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-p.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(p.debounceTimeout, func() {
					if _, err := p.Reload(); err != nil {
						p.logger.Warn("roles reload failed", zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("roles watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (p *FileRolesProvider) Close() error {
	p.stopOnce.Do(func() { close(p.stopChan) })
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}
