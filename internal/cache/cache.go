// Package cache provides a disk-backed, size-bounded cache with a minimum
// retention window, used to memoize transcoded audio and cover thumbnails.
// Keys must be filename-safe strings; values are byte streams.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrCacheMiss is returned when the requested key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// ErrProtected is returned when a delete targets an entry still inside its
// minimum retention window.
var ErrProtected = errors.New("cache entry has not expired")

type entry struct {
	key     string
	size    int64
	expires time.Time
}

// Cache tracks its entries in recency order: the oldest entry is evicted
// first when space is needed. Total size can transiently exceed the maximum
// while every remaining entry is within its protected window.
type Cache struct {
	dir       string
	maxSize   int64
	minTime   time.Duration
	autoPrune bool

	mu    sync.Mutex
	size  int64
	order *list.List // front = oldest
	index map[string]*list.Element
}

// New opens (or creates) a cache directory and rebuilds the bookkeeping from
// the files already present, ordered by their modification time, so the
// cache survives process restarts.
func New(dir string, maxSize int64, minTime time.Duration) (*Cache, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:       absDir,
		maxSize:   maxSize,
		minTime:   minTime,
		autoPrune: true,
		order:     list.New(),
		index:     make(map[string]*list.Element),
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}

	type existing struct {
		name  string
		size  int64
		mtime time.Time
	}

	found := make([]existing, 0, len(entries))
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) == ".part" {
			continue
		}
		info, infoErr := dirEntry.Info()
		if infoErr != nil {
			continue
		}
		found = append(found, existing{name: dirEntry.Name(), size: info.Size(), mtime: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mtime.Before(found[j].mtime) })

	for _, file := range found {
		element := c.order.PushBack(&entry{
			key:     file.name,
			size:    file.size,
			expires: file.mtime.Add(minTime),
		})
		c.index[file.name] = element
		c.size += file.size
	}

	return c, nil
}

func (c *Cache) filePath(key string) string {
	return filepath.Join(c.dir, key)
}

// Size returns the current amount of tracked data in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Has reports whether key is cached. If the backing file vanished out of
// band the bookkeeping self-corrects and the key counts as a miss.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasLocked(key)
}

func (c *Cache) hasLocked(key string) bool {
	element, ok := c.index[key]
	if !ok {
		return false
	}

	if _, err := os.Stat(c.filePath(key)); err != nil {
		c.size -= element.Value.(*entry).size
		c.order.Remove(element)
		delete(c.index, key)
		return false
	}

	return true
}

// Touch refreshes a cached entry's recency and retention window.
func (c *Cache) Touch(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touchLocked(key)
}

func (c *Cache) touchLocked(key string) error {
	if !c.hasLocked(key) {
		return fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	element := c.index[key]
	element.Value.(*entry).expires = time.Now().Add(c.minTime)
	c.order.MoveToBack(element)

	now := time.Now()
	_ = os.Chtimes(c.filePath(key), now, now)
	return nil
}

// Get returns the path of the file holding the cached data, refreshing its
// recency.
func (c *Cache) Get(key string) (string, error) {
	if err := c.Touch(key); err != nil {
		return "", err
	}
	return c.filePath(key), nil
}

// GetValue reads the cached data into memory.
func (c *Cache) GetValue(key string) ([]byte, error) {
	path, err := c.Get(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", key, err)
	}
	return data, nil
}

// Set stores literal bytes under key and returns the path they can be read
// back from.
func (c *Cache) Set(key string, value []byte) (string, error) {
	tmp, err := os.CreateTemp(c.dir, "*.part")
	if err != nil {
		return "", fmt.Errorf("create cache temp file: %w", err)
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close cache temp file: %w", err)
	}

	if err := c.commit(tmp.Name(), key, int64(len(value))); err != nil {
		return "", err
	}
	return c.filePath(key), nil
}

// commit atomically publishes a fully written temp file under its final key.
// Eviction and bookkeeping happen under the lock; the data was written
// outside it so concurrent populations of different keys don't serialize on
// disk I/O.
func (c *Cache) commit(tmpPath string, key string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.autoPrune {
		c.makeSpaceLocked(size, key)
	}

	if err := os.Rename(tmpPath, c.filePath(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish cache entry %s: %w", key, err)
	}

	if element, ok := c.index[key]; ok {
		// Replacing: account only the size difference. Last writer wins.
		c.size += size - element.Value.(*entry).size
		element.Value.(*entry).size = size
		element.Value.(*entry).expires = time.Now().Add(c.minTime)
		c.order.MoveToBack(element)
	} else {
		c.index[key] = c.order.PushBack(&entry{
			key:     key,
			size:    size,
			expires: time.Now().Add(c.minTime),
		})
		c.size += size
	}

	return nil
}

// Delete removes a cached entry. Entries still inside their retention window
// are protected and return ErrProtected. Missing keys are a no-op.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(key)
}

func (c *Cache) deleteLocked(key string) error {
	if !c.hasLocked(key) {
		return nil
	}

	element := c.index[key]
	if time.Now().Before(element.Value.(*entry).expires) {
		return ErrProtected
	}

	if err := os.Remove(c.filePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry %s: %w", key, err)
	}
	c.size -= element.Value.(*entry).size
	c.order.Remove(element)
	delete(c.index, key)
	return nil
}

// makeSpaceLocked deletes the oldest evictable entries until the cache can
// absorb required bytes, skipping entries still in their protected window.
// When key is being replaced its current size is credited back.
func (c *Cache) makeSpaceLocked(required int64, key string) {
	target := c.maxSize - required
	if key != "" {
		if element, ok := c.index[key]; ok {
			target += element.Value.(*entry).size
		}
	}

	element := c.order.Front()
	for element != nil && c.size > target {
		next := element.Next()
		_ = c.deleteLocked(element.Value.(*entry).key)
		element = next
	}
}

// Prune evicts expired entries until the cache is back under its maximum
// size. Protected entries survive even if the cache stays over budget.
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makeSpaceLocked(0, "")
}

// Clear evicts everything evictable regardless of the size target.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.makeSpaceLocked(c.maxSize, "")
}
