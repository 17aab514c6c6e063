package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"vtuber-backend/internal/model"
	"vtuber-backend/pkg/logger"
)

// DiskStorage writes each key's history to its own JSON file and keeps
// recently used keys cached in memory.
type DiskStorage struct {
	dataDir     string
	maxMessages int
	cacheSize   int

	mu    sync.Mutex
	cache map[string][]model.Message
	order []string
}

func NewDiskStorage(dataDir string, cacheSize, maxMessages int) *DiskStorage {
	return &DiskStorage{
		dataDir:     dataDir,
		maxMessages: maxMessages,
		cacheSize:   cacheSize,
		cache:       make(map[string][]model.Message),
	}
}

func (d *DiskStorage) Init() error {
	if err := os.MkdirAll(d.historyDir(), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.Infof("Disk history storage initialized at %s", d.dataDir)
	return nil
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string][]model.Message)
	d.order = nil
	return nil
}

func (d *DiskStorage) historyDir() string {
	return filepath.Join(d.dataDir, "history")
}

func (d *DiskStorage) path(key string) string {
	return filepath.Join(d.historyDir(), key+".json")
}

func (d *DiskStorage) Append(_ context.Context, key string, messages ...model.Message) error {
	if err := validateKey(key); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.load(key)
	if err != nil {
		return err
	}
	updated := trim(append(clone(current), messages...), d.maxMessages)

	if err := d.save(key, updated); err != nil {
		return err
	}
	d.remember(key, updated)
	return nil
}

func (d *DiskStorage) Recent(_ context.Context, key string, n int) ([]model.Message, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	messages, err := d.load(key)
	if err != nil {
		return nil, err
	}
	return clone(trim(messages, n)), nil
}

func (d *DiskStorage) Clear(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.forget(key)
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// load must be called with d.mu held.
func (d *DiskStorage) load(key string) ([]model.Message, error) {
	if cached, ok := d.cache[key]; ok {
		return cached, nil
	}

	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
	}
	d.remember(key, messages)
	return messages, nil
}

func (d *DiskStorage) save(key string, messages []model.Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}

	tmp := d.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Rename(tmp, d.path(key)); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) remember(key string, messages []model.Message) {
	if _, ok := d.cache[key]; !ok {
		d.order = append(d.order, key)
	}
	d.cache[key] = messages
	d.evictCache()
}

func (d *DiskStorage) forget(key string) {
	delete(d.cache, key)
	d.order = slices.DeleteFunc(d.order, func(k string) bool { return k == key })
}

func (d *DiskStorage) evictCache() {
	if d.cacheSize <= 0 {
		return
	}
	for len(d.order) > d.cacheSize {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.cache, oldest)
	}
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
