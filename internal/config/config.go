package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dshills/piotask/internal/integration"
)

// ProjectFileName is the per-project configuration file.
const ProjectFileName = ".piotask.toml"

// Config provides merged access to built-in defaults, the user file and the
// project file. Later files override earlier ones key by key.
//
// Config is safe for concurrent use. Reload swaps the merged view atomically,
// so readers always see a consistent snapshot.
type Config struct {
	mu        sync.RWMutex
	paths     []string
	merged    map[string]any
	overrides map[string]any

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

// New creates a Config reading the given files, in increasing precedence.
// Nothing is read until Load is called; until then defaults apply.
func New(paths ...string) *Config {
	return &Config{
		paths:     slices.Clone(paths),
		merged:    defaults(),
		overrides: make(map[string]any),
		observers: make(map[int]func()),
	}
}

// DefaultPaths returns the user config file followed by the project file.
func DefaultPaths(projectDir string) []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "piotask", "config.toml"))
	}
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ProjectFileName))
	}
	return paths
}

// Paths returns the configured files.
func (c *Config) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.paths)
}

// Load reads every configured file. Missing files are skipped. On error the
// previous configuration stays in effect.
func (c *Config) Load() error {
	merged := defaults()
	for _, path := range c.Paths() {
		values, err := loadFile(path)
		if err != nil {
			return err
		}
		mergeInto(merged, values)
	}

	c.mu.Lock()
	mergeInto(merged, expand(c.overrides))
	c.merged = merged
	c.mu.Unlock()

	c.notify()
	return nil
}

// Set overrides a dotted setting path in memory, above every file.
// Used for command-line flags.
func (c *Config) Set(path string, value any) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	c.mu.Lock()
	c.overrides[path] = value
	setPath(c.merged, path, value)
	c.mu.Unlock()

	c.notify()
	return nil
}

// Get returns the raw value at a dotted path such as "monitor.reopenSerialMonitorDelay".
func (c *Config) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.merged, path)
}

// OnChange registers fn to run after every successful Load or Set.
func (c *Config) OnChange(fn func()) integration.Disposable {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return integration.DisposeFunc(func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	})
}

func (c *Config) notify() {
	c.obsMu.Lock()
	fns := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	node := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
}

// expand turns flat dotted overrides into a nested map.
func expand(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for path, v := range flat {
		setPath(out, path, v)
	}
	return out
}

// mergeInto merges src into dst recursively; src wins on conflicts.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
