package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const removeBatchSize = 1000

type RedisStorageBackend[K comparable, V any] struct {
	Options      *RedisStorageBackendOptions[K]
	Client       *redis.Client
	instanceID   string
	callbacks    []func(Event[K, V])
	callbacksMu  sync.RWMutex
	cancelPubSub context.CancelFunc
	pubSubWg     sync.WaitGroup
	logger       *logrus.Entry
}

func (b *RedisStorageBackend[K, V]) GetStringKey(key K) string {
	if b.Options.KeyPrefix == "" {
		return b.Options.CacheKey.Marshal(key)
	} else {
		return b.Options.KeyPrefix + ":" + b.Options.CacheKey.Marshal(key)
	}
}

func (b *RedisStorageBackend[K, V]) Get(ctx context.Context, key K) (*V, error) {
	data, err := b.Client.Get(ctx, b.GetStringKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var value V
	err = msgpack.Unmarshal(data, &value)
	if err != nil {
		return nil, errors.Wrap(err, "decoding cached value")
	}

	return &value, nil
}

func (b *RedisStorageBackend[K, V]) Ttl(ctx context.Context, key K) (time.Duration, error) {
	return b.Client.TTL(ctx, b.GetStringKey(key)).Result()
}

func (b *RedisStorageBackend[K, V]) Set(ctx context.Context, key K, value V) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "encoding cached value")
	}

	err = b.Client.Set(ctx, b.GetStringKey(key), data, b.Options.TTL).Err()
	if err != nil {
		return err
	}

	return b.emit(ctx, newInsertEvent(key, value))
}

// Remove deletes key and reports the value it held. Removing a missing key
// is not a mutation and emits nothing.
func (b *RedisStorageBackend[K, V]) Remove(ctx context.Context, key K) error {
	data, err := b.Client.GetDel(ctx, b.GetStringKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	var value V
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return errors.Wrapf(err, "decoding removed value of %s", b.GetStringKey(key))
	}

	return b.emit(ctx, newRemoveEvent(key, value))
}

// RemovePrefix deletes every key starting with keyPrefix and emits one
// RemoveEvent per key. Keys whose name or value cannot be decoded are still
// deleted; they are reported in the returned error instead of as events.
func (b *RedisStorageBackend[K, V]) RemovePrefix(ctx context.Context, keyPrefix string) error {
	stringKeys, err := b.scanKeys(ctx, keyPrefix)
	if err != nil {
		return err
	}

	var errs []error
	for i := 0; i < len(stringKeys); i += removeBatchSize {
		batch := stringKeys[i:min(i+removeBatchSize, len(stringKeys))]

		pipe := b.Client.Pipeline()
		cmds := make([]*redis.StringCmd, len(batch))
		for j, key := range batch {
			cmds[j] = pipe.GetDel(ctx, key)
		}
		// errors are inspected per command below
		_, _ = pipe.Exec(ctx)

		for j, cmd := range cmds {
			event, err := b.removedEvent(batch[j], cmd)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if event == nil {
				continue
			}
			if err := b.emit(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		b.logger.WithFields(logrus.Fields{
			"prefix": keyPrefix,
			"failed": len(errs),
		}).Warn("some removed keys could not be reported")
	}

	return stderrors.Join(errs...)
}

// removedEvent builds the RemoveEvent for a GETDEL result. It returns nil
// when the key was already gone.
func (b *RedisStorageBackend[K, V]) removedEvent(stringKey string, cmd *redis.StringCmd) (Event[K, V], error) {
	data, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "removing %s", stringKey)
	}

	key, err := b.Options.CacheKey.Unmarshal(b.trimKeyPrefix(stringKey))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding removed key %s", stringKey)
	}

	var value V
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return nil, errors.Wrapf(err, "decoding removed value of %s", stringKey)
	}

	return newRemoveEvent(key, value), nil
}

// Clear deletes every key under the backend's KeyPrefix and emits a single
// ClearEvent.
func (b *RedisStorageBackend[K, V]) Clear(ctx context.Context) error {
	stringKeys, err := b.scanKeys(ctx, "")
	if err != nil {
		return err
	}

	if err := b.deleteKeys(ctx, stringKeys); err != nil {
		return err
	}

	return b.emit(ctx, newClearEvent[K, V]())
}

func (b *RedisStorageBackend[K, V]) deleteKeys(ctx context.Context, stringKeys []string) error {
	var errs []error
	for i := 0; i < len(stringKeys); i += removeBatchSize {
		batch := stringKeys[i:min(i+removeBatchSize, len(stringKeys))]
		if err := b.Client.Del(ctx, batch...).Err(); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

func (b *RedisStorageBackend[K, V]) Contains(ctx context.Context, key K) (bool, error) {
	n, err := b.Client.Exists(ctx, b.GetStringKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisStorageBackend[K, V]) Load(ctx context.Context) ([]CacheEntry[K, V], error) {
	data, err := b.fetchEntriesWithPrefix(ctx, "", 100)
	if err != nil {
		return nil, err
	}

	var entries []CacheEntry[K, V]
	for key, value := range data {
		entries = append(entries, CacheEntry[K, V]{
			Key:   key,
			Value: &value,
		})
	}

	return entries, nil
}

// AddCallback registers a callback for events published by other backend
// instances on the pub/sub channel.
func (b *RedisStorageBackend[K, V]) AddCallback(callback func(Event[K, V])) {
	b.callbacksMu.Lock()
	defer b.callbacksMu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

func (b *RedisStorageBackend[K, V]) emit(ctx context.Context, event Event[K, V]) error {
	if !b.Options.PubSub {
		return nil
	}
	return b.PublishEvent(ctx, event)
}

func (b *RedisStorageBackend[K, V]) PublishEvent(ctx context.Context, event Event[K, V]) error {
	data, err := marshalEnvelope[K, V](b.instanceID, event)
	if err != nil {
		return err
	}

	return b.Client.Publish(ctx, b.Options.PubSubChannelName, data).Err()
}

func (b *RedisStorageBackend[K, V]) handleMessage(payload string) {
	origin, event, err := unmarshalEnvelope[K, V]([]byte(payload))
	if err != nil {
		b.logger.WithError(err).Warn("error unmarshalling cache event message")
		return
	}
	if origin == b.instanceID {
		return
	}

	b.callbacksMu.RLock()
	callbacks := b.callbacks
	b.callbacksMu.RUnlock()
	for _, callback := range callbacks {
		b.invoke(callback, event)
	}
}

func (b *RedisStorageBackend[K, V]) invoke(callback func(Event[K, V]), event Event[K, V]) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"type":  event.Type().String(),
				"panic": r,
			}).Error("event callback panicked")
		}
	}()
	callback(event)
}

type RedisStorageBackendOptions[K comparable] struct {
	RedisOptions      *redis.Options
	TTL               time.Duration
	CacheKey          CacheKey[K]
	KeyPrefix         string
	PubSub            bool
	PubSubChannelName string
	ScanCount         int64
	Logger            *logrus.Logger
}

func (o *RedisStorageBackendOptions[K]) GetScanCount() int64 {
	if o.ScanCount <= 0 {
		return 0
	}
	return o.ScanCount
}

func NewRedisStorageBackend[K comparable, V any](options *RedisStorageBackendOptions[K]) (*RedisStorageBackend[K, V], error) {
	if options.CacheKey == nil {
		return nil, errors.New("CacheKey is required")
	}

	if options.PubSub && options.PubSubChannelName == "" {
		return nil, errors.New("PubSubChannelName is required when PubSub is enabled")
	}

	client := redis.NewClient(options.RedisOptions)

	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "instrumenting redis tracing")
	}

	if err := redisotel.InstrumentMetrics(client); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "instrumenting redis metrics")
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	b := &RedisStorageBackend[K, V]{
		Options:    options,
		Client:     client,
		instanceID: uuid.NewString(),
		logger:     logger.WithField("component", "go-cache.redis"),
	}

	if b.Options.PubSub {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancelPubSub = cancel

		// subscribe before returning so events published right after
		// construction are not missed
		pubsub := b.Client.Subscribe(ctx, b.Options.PubSubChannelName)
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			cancel()
			client.Close()
			return nil, errors.Wrap(err, "subscribing to pubsub channel")
		}

		b.pubSubWg.Add(1)
		go b.subscribeLoop(ctx, pubsub)
	}

	return b, nil
}

func (b *RedisStorageBackend[K, V]) subscribeLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer b.pubSubWg.Done()
	backoff := 100 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		if ctx.Err() != nil {
			pubsub.Close()
			return
		}

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					pubsub.Close()
					return
				}
				b.logger.WithError(err).Warn("pubsub error, reconnecting")
				break
			}

			backoff = 100 * time.Millisecond
			b.handleMessage(msg.Payload)
		}
		pubsub.Close()

		select {
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff *= 2
			}
		case <-ctx.Done():
			return
		}

		pubsub = b.Client.Subscribe(ctx, b.Options.PubSubChannelName)
	}
}

func (b *RedisStorageBackend[K, V]) Close() error {
	if b.cancelPubSub != nil {
		b.cancelPubSub()
	}
	// Close client to unblock any TCP reads in the PubSub goroutine,
	// then wait for the goroutine to finish.
	err := b.Client.Close()
	b.pubSubWg.Wait()
	return err
}
