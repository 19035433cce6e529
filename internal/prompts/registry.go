package prompts

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Registry holds the named prompt templates. It starts from the built-in
// defaults and can be overridden per-name from a YAML file, which is
// hot-reloaded when it changes. Safe for concurrent readers.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]string
	path      string
	watcher   *fsnotify.Watcher
}

// NewRegistry creates a registry with the built-in templates. If path is
// non-empty the YAML file at path is applied on top of the defaults.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		templates: make(map[string]string, len(defaults)),
		path:      path,
	}
	for name, tmpl := range defaults {
		r.templates[name] = tmpl
	}

	if path != "" {
		if err := r.loadFile(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Get returns the template for name, or the empty string if unknown.
func (r *Registry) Get(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[name]
}

// loadFile re-applies defaults and then the YAML overrides from r.path.
func (r *Registry) loadFile() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read prompts file: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse prompts YAML: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tmpl := range defaults {
		r.templates[name] = tmpl
	}
	applied := 0
	for name, tmpl := range overrides {
		if _, known := defaults[name]; !known {
			log.Printf("⚠️  Ignoring unknown prompt override %q", name)
			continue
		}
		r.templates[name] = tmpl
		applied++
	}
	log.Printf("✅ Loaded %d prompt override(s) from %s", applied, r.path)
	return nil
}

// Watch reloads the overrides file whenever it changes. No-op when the
// registry was built without a file. Runs until Close is called.
func (r *Registry) Watch() error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompts watcher: %w", err)
	}
	r.watcher = watcher

	// Watch the directory: editors replace files rather than rewrite them.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompts directory: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != r.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.loadFile(); err != nil {
					log.Printf("⚠️  Prompt reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  Prompts watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if any.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
