package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder[K comparable, V any] struct {
	mu     sync.Mutex
	events []Event[K, V]
}

func (r *eventRecorder[K, V]) record(ev Event[K, V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder[K, V]) snapshot() []Event[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event[K, V](nil), r.events...)
}

func TestLocalCacheString(t *testing.T) {
	cache := NewLocalCache[string, string](&LocalCacheOptions[string]{
		TTL:      0,
		Size:     0,
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	assert.NotNil(t, cache)
	cache.Set("foo", "bar")
	value, ok := cache.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", *value)
	ok = cache.Remove("foo")
	assert.True(t, ok)
	value, ok = cache.Get("foo")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestLocalCacheInt(t *testing.T) {
	cache := NewLocalCache[int, int](&LocalCacheOptions[int]{
		TTL:      0,
		Size:     0,
		CacheKey: &IntCacheKey{},
	})
	defer cache.Close()

	assert.NotNil(t, cache)
	cache.Set(1, 2)
	value, ok := cache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 2, *value)
	ok = cache.Remove(1)
	assert.True(t, ok)
	value, ok = cache.Get(1)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestLocalCacheStruct(t *testing.T) {
	type TestStruct struct {
		Foo string
	}

	cache := NewLocalCache[int, TestStruct](&LocalCacheOptions[int]{
		TTL:      0,
		Size:     0,
		CacheKey: &IntCacheKey{},
	})
	defer cache.Close()

	assert.NotNil(t, cache)
	cache.Set(1, TestStruct{Foo: "bar"})
	value, ok := cache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "bar", value.Foo)
	ok = cache.Remove(1)
	assert.True(t, ok)
	value, ok = cache.Get(1)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestLocalCacheLoad(t *testing.T) {
	cache := NewLocalCache[string, string](&LocalCacheOptions[string]{
		TTL:      0,
		Size:     0,
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	assert.NotNil(t, cache)
	value, ok := cache.Get("foo")
	assert.False(t, ok)
	assert.Nil(t, value)
	value, ok = cache.Get("fizz")
	assert.False(t, ok)
	assert.Nil(t, value)

	cache.Set("foo", "bar")
	cache.Set("fizz", "buzz")

	values, err := cache.Load()
	assert.Nil(t, err)
	assert.Len(t, values, 2)

	assert.Equal(t, "foo", values[0].Key)
	assert.Equal(t, "bar", *values[0].Value)

	assert.Equal(t, "fizz", values[1].Key)
	assert.Equal(t, "buzz", *values[1].Value)
}

func TestLocalCacheRequiresCacheKey(t *testing.T) {
	assert.Panics(t, func() {
		NewLocalCache[string, string](&LocalCacheOptions[string]{})
	})
}

func TestLocalCacheEmitsInsertAndRemove(t *testing.T) {
	cache := NewLocalCache[string, int](&LocalCacheOptions[string]{
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	recorder := &eventRecorder[string, int]{}
	cache.AddCallback(recorder.record)

	cache.Set("a", 1)
	cache.Set("a", 2)
	assert.True(t, cache.Remove("a"))
	assert.False(t, cache.Remove("a"))
	cache.Flush()

	assert.Equal(t, []Event[string, int]{
		newInsertEvent("a", 1),
		newInsertEvent("a", 2),
		newRemoveEvent("a", 2),
	}, recorder.snapshot())
}

func TestLocalCacheEvictionCarriesEvictedValue(t *testing.T) {
	cache := NewLocalCache[string, int](&LocalCacheOptions[string]{
		Size:     1,
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	recorder := &eventRecorder[string, int]{}
	cache.AddCallback(recorder.record)

	assert.False(t, cache.Set("a", 1))
	assert.True(t, cache.Set("b", 2))
	cache.Flush()

	assert.Equal(t, []Event[string, int]{
		newInsertEvent("a", 1),
		newRemoveEvent("a", 1),
		newInsertEvent("b", 2),
	}, recorder.snapshot())
	assert.False(t, cache.Contains("a"))
	assert.True(t, cache.Contains("b"))
}

func TestLocalCachePurgeEmitsSingleClear(t *testing.T) {
	cache := NewLocalCache[string, int](&LocalCacheOptions[string]{
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	for i, key := range []string{"a", "b", "c"} {
		cache.Set(key, i)
	}

	recorder := &eventRecorder[string, int]{}
	cache.Flush()
	cache.AddCallback(recorder.record)

	cache.Purge()
	cache.Flush()

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, []Event[string, int]{ClearEvent[string, int]{}}, recorder.snapshot())

	// an empty cache still reports the clear
	cache.Purge()
	cache.Flush()
	assert.Len(t, recorder.snapshot(), 2)
}

func TestLocalCacheRemovePrefix(t *testing.T) {
	cache := NewLocalCache[string, string](&LocalCacheOptions[string]{
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	cache.Set("prefix:one", "1")
	cache.Set("prefix:two", "2")
	cache.Set("other:one", "x")
	cache.Flush()

	recorder := &eventRecorder[string, string]{}
	cache.AddCallback(recorder.record)

	assert.Equal(t, 2, cache.RemovePrefix("prefix:"))
	cache.Flush()

	assert.ElementsMatch(t, []Event[string, string]{
		newRemoveEvent("prefix:one", "1"),
		newRemoveEvent("prefix:two", "2"),
	}, recorder.snapshot())
	assert.True(t, cache.Contains("other:one"))
}

func TestLocalCacheExpiryEmitsRemove(t *testing.T) {
	cache := NewLocalCache[string, string](&LocalCacheOptions[string]{
		TTL:      10 * time.Millisecond,
		CacheKey: &StringCacheKey{},
	})
	defer cache.Close()

	removed := make(chan EventPayload[string, string], 1)
	cache.AddCallback(func(ev Event[string, string]) {
		if e, ok := ev.(RemoveEvent[string, string]); ok {
			removed <- e.Payload()
		}
	})

	cache.Set("ephemeral", "x")

	select {
	case payload := <-removed:
		assert.Equal(t, EventPayload[string, string]{Key: "ephemeral", Value: "x"}, payload)
	case <-time.After(2 * time.Second):
		require.Fail(t, "expected expiry to emit a remove event")
	}
}
