package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

type LocalCache[K comparable, V any] struct {
	Options  *LocalCacheOptions[K]
	Cache    *expirable.LRU[string, *CacheEntry[K, V]]
	CacheKey CacheKey[K]

	// mu serializes mutations so events are emitted in commit order.
	mu       sync.Mutex
	purging  atomic.Bool
	notifier *Notifier[K, V]
	logger   *logrus.Entry
}

// Options passed to NewLocalCache
//
// Ttl: Time to live for each entry in the cache. Set to 0 to disable expiration
// Size: Maximum number of entries in the cache. Set to 0 for unlimited size
// Logger: defaults to the logrus standard logger
type LocalCacheOptions[K comparable] struct {
	TTL      time.Duration
	Size     int
	CacheKey CacheKey[K]
	Logger   *logrus.Logger
}

// NewLocalCache panics when options.CacheKey is nil. It starts a notifier
// goroutine that delivers events to callbacks; that goroutine runs until
// Close is called, so every LocalCache must be closed.
func NewLocalCache[K comparable, V any](options *LocalCacheOptions[K]) *LocalCache[K, V] {
	if options.CacheKey == nil {
		panic("CacheKey must be provided")
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &LocalCache[K, V]{
		Options:  options,
		CacheKey: options.CacheKey,
		notifier: NewNotifier[K, V](logger),
		logger:   logger.WithField("component", "go-cache.local"),
	}
	// the LRU reports explicit removals, capacity evictions and expiry here
	c.Cache = expirable.NewLRU[string, *CacheEntry[K, V]](options.Size, c.onEvict, options.TTL)
	return c
}

func (c *LocalCache[K, V]) onEvict(_ string, entry *CacheEntry[K, V]) {
	if c.purging.Load() || entry == nil {
		return
	}
	var value V
	if entry.Value != nil {
		value = *entry.Value
	}
	c.notifier.emit(newRemoveEvent(entry.Key, value))
}

func (c *LocalCache[K, V]) Get(key K) (*V, bool) {
	entry, ok := c.Cache.Get(c.CacheKey.Marshal(key))
	if !ok || entry == nil {
		return nil, false
	}
	return entry.Value, true
}

// Set stores value under key and reports whether an older entry was evicted
// to make room for it.
func (c *LocalCache[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := c.Cache.Add(c.CacheKey.Marshal(key), &CacheEntry[K, V]{
		Key:   key,
		Value: &value,
	})
	c.notifier.emit(newInsertEvent(key, value))
	return evicted
}

func (c *LocalCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Cache.Remove(c.CacheKey.Marshal(key))
}

// RemovePrefix removes every entry whose marshalled key starts with prefix
// and returns the number of removed entries.
func (c *LocalCache[K, V]) RemovePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.Cache.Keys() {
		if strings.HasPrefix(key, prefix) && c.Cache.Remove(key) {
			removed++
		}
	}
	c.logger.WithFields(logrus.Fields{
		"prefix":  prefix,
		"removed": removed,
	}).Debug("removed keys by prefix")
	return removed
}

// Purge empties the cache and emits a single ClearEvent.
func (c *LocalCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purging.Store(true)
	c.Cache.Purge()
	c.purging.Store(false)
	c.notifier.emit(newClearEvent[K, V]())
}

func (c *LocalCache[K, V]) Contains(key K) bool {
	return c.Cache.Contains(c.CacheKey.Marshal(key))
}

func (c *LocalCache[K, V]) Len() int {
	return c.Cache.Len()
}

// Load returns all live entries, oldest first.
func (c *LocalCache[K, V]) Load() ([]CacheEntry[K, V], error) {
	values := c.Cache.Values()
	entries := make([]CacheEntry[K, V], 0, len(values))
	for _, entry := range values {
		if entry == nil {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (c *LocalCache[K, V]) AddCallback(callback func(Event[K, V])) {
	c.notifier.AddCallback(callback)
}

func (c *LocalCache[K, V]) Subscribe(observer Observer[K, V]) {
	c.notifier.Subscribe(observer)
}

// Flush blocks until all events emitted so far reached the callbacks.
func (c *LocalCache[K, V]) Flush() {
	c.notifier.Flush()
}

func (c *LocalCache[K, V]) Close() {
	c.notifier.Close()
}
