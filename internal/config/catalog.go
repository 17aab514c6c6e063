package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"vtuber-backend/pkg/logger"
)

// Catalog lists the alternate character files a client may switch to.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	files []string

	watcher *fsnotify.Watcher
}

// NewCatalog scans dir once. Call Watch to keep the listing current.
func NewCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	c := &Catalog{dir: dir}
	if err := c.rescan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Files returns the alternate file names, sorted.
func (c *Catalog) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.files))
	copy(out, c.files)
	return out
}

// Watch rescans the directory whenever a file in it changes, until ctx is
// done or Close is called.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return err
	}

	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()

	go c.processEvents(ctx, w)
	logger.Infof("Watching character configs in %s", c.dir)
	return nil
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (c *Catalog) processEvents(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.rescan(); err != nil {
				logger.Warnf("Failed to rescan %s: %v", c.dir, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warnf("Config watcher error: %v", err)
		}
	}
}

func (c *Catalog) rescan() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
	return nil
}

func isConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
