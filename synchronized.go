package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mxcd/go-cache-events"

// SynchronizedCache keeps a LocalCache in front of a shared StorageBackend.
// Mutations made by other instances reach the local cache through the
// backend's events, so local observers see one event per local mutation.
type SynchronizedCache[K comparable, V any] struct {
	local   *LocalCache[K, V]
	backend StorageBackend[K, V]
	tracer  trace.Tracer
	logger  *logrus.Entry
}

type SynchronizedCacheOptions[K comparable, V any] struct {
	LocalTTL       time.Duration
	LocalSize      int
	CacheKey       CacheKey[K]
	StorageBackend StorageBackend[K, V]
	Preload        bool
	Logger         *logrus.Logger
}

func NewSynchronizedCache[K comparable, V any](options *SynchronizedCacheOptions[K, V]) (*SynchronizedCache[K, V], error) {
	if options.StorageBackend == nil {
		return nil, errors.New("StorageBackend is required")
	}
	if options.CacheKey == nil {
		return nil, errors.New("CacheKey is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &SynchronizedCache[K, V]{
		local: NewLocalCache[K, V](&LocalCacheOptions[K]{
			TTL:      options.LocalTTL,
			Size:     options.LocalSize,
			CacheKey: options.CacheKey,
			Logger:   logger,
		}),
		backend: options.StorageBackend,
		tracer:  otel.Tracer(tracerName),
		logger:  logger.WithField("component", "go-cache.synchronized"),
	}

	if options.Preload {
		entries, err := c.backend.Load(context.Background())
		if err != nil {
			c.local.Close()
			return nil, errors.Wrap(err, "preloading local cache")
		}
		for _, entry := range entries {
			if entry.Value != nil {
				c.local.Set(entry.Key, *entry.Value)
			}
		}
		c.logger.WithField("entries", len(entries)).Debug("preloaded local cache")
	}

	c.backend.AddCallback(c.applyRemoteEvent)

	return c, nil
}

func (c *SynchronizedCache[K, V]) applyRemoteEvent(ev Event[K, V]) {
	switch e := ev.(type) {
	case InsertEvent[K, V]:
		c.local.Set(e.Key(), e.Value())
	case RemoveEvent[K, V]:
		c.local.Remove(e.Key())
	case ClearEvent[K, V]:
		c.local.Purge()
	}
}

func (c *SynchronizedCache[K, V]) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "go-cache."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the local value or falls back to the backend, filling the
// local cache on a backend hit. A miss everywhere returns ErrNotFound.
func (c *SynchronizedCache[K, V]) Get(ctx context.Context, key K) (value *V, err error) {
	ctx, span := c.startSpan(ctx, "get", attribute.String("cache.key", c.local.CacheKey.Marshal(key)))
	defer func() { endSpan(span, err) }()

	if value, ok := c.local.Get(key); ok {
		span.SetAttributes(attribute.Bool("cache.local_hit", true))
		return value, nil
	}

	value, err = c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.local.Set(key, *value)
	return value, nil
}

func (c *SynchronizedCache[K, V]) Set(ctx context.Context, key K, value V) (err error) {
	ctx, span := c.startSpan(ctx, "set", attribute.String("cache.key", c.local.CacheKey.Marshal(key)))
	defer func() { endSpan(span, err) }()

	if err = c.backend.Set(ctx, key, value); err != nil {
		return errors.Wrap(err, "writing to storage backend")
	}
	c.local.Set(key, value)
	return nil
}

func (c *SynchronizedCache[K, V]) Remove(ctx context.Context, key K) (err error) {
	ctx, span := c.startSpan(ctx, "remove", attribute.String("cache.key", c.local.CacheKey.Marshal(key)))
	defer func() { endSpan(span, err) }()

	if err = c.backend.Remove(ctx, key); err != nil {
		return errors.Wrap(err, "removing from storage backend")
	}
	c.local.Remove(key)
	return nil
}

func (c *SynchronizedCache[K, V]) RemovePrefix(ctx context.Context, prefix string) (err error) {
	ctx, span := c.startSpan(ctx, "remove_prefix", attribute.String("cache.prefix", prefix))
	defer func() { endSpan(span, err) }()

	if err = c.backend.RemovePrefix(ctx, prefix); err != nil {
		return errors.Wrap(err, "removing prefix from storage backend")
	}
	removed := c.local.RemovePrefix(prefix)
	span.SetAttributes(attribute.Int("cache.local_removed", removed))
	return nil
}

func (c *SynchronizedCache[K, V]) Clear(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "clear")
	defer func() { endSpan(span, err) }()

	if err = c.backend.Clear(ctx); err != nil {
		return errors.Wrap(err, "clearing storage backend")
	}
	c.local.Purge()
	return nil
}

// AddCallback registers a callback for mutations of the local view,
// whether they originate here or at another instance.
func (c *SynchronizedCache[K, V]) AddCallback(callback func(Event[K, V])) {
	c.local.AddCallback(callback)
}

func (c *SynchronizedCache[K, V]) Subscribe(observer Observer[K, V]) {
	c.local.Subscribe(observer)
}

func (c *SynchronizedCache[K, V]) Flush() {
	c.local.Flush()
}

func (c *SynchronizedCache[K, V]) Close() error {
	err := c.backend.Close()
	c.local.Close()
	return err
}
