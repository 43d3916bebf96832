package cache

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("go-cache: key not found")

type CacheKey[K comparable] interface {
	Marshal(K) string
	Unmarshal(string) (K, error)
}

type StringCacheKey struct {
}

func (k *StringCacheKey) Marshal(key string) string {
	return key
}

func (k *StringCacheKey) Unmarshal(data string) (string, error) {
	return data, nil
}

type IntCacheKey struct {
}

func (k *IntCacheKey) Marshal(key int) string {
	return strconv.Itoa(key)
}

func (k *IntCacheKey) Unmarshal(data string) (int, error) {
	key, err := strconv.Atoi(data)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid int cache key %q", data)
	}
	return key, nil
}

type CacheEntry[K comparable, V any] struct {
	Key   K
	Value *V
}

// StorageBackend is a shared store behind a LocalCache. Callbacks receive
// only mutations committed by other instances: a backend publishes its own
// mutations over pub/sub when PubSub is enabled and skips them on receipt.
// With PubSub disabled no callback is ever invoked.
type StorageBackend[K comparable, V any] interface {
	Get(context.Context, K) (*V, error)
	Set(context.Context, K, V) error
	Remove(context.Context, K) error
	RemovePrefix(context.Context, string) error
	Clear(context.Context) error
	Contains(context.Context, K) (bool, error)
	Load(context.Context) ([]CacheEntry[K, V], error)
	AddCallback(func(Event[K, V]))
	Close() error
}
