package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

func (b *RedisStorageBackend[K, V]) keyPattern(prefix string) string {
	if b.Options.KeyPrefix == "" {
		return prefix + "*"
	}
	return b.Options.KeyPrefix + ":" + prefix + "*"
}

func (b *RedisStorageBackend[K, V]) trimKeyPrefix(key string) string {
	if b.Options.KeyPrefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.Options.KeyPrefix+":")
}

func (b *RedisStorageBackend[K, V]) fetchValues(ctx context.Context, keys []string, resultsChan chan<- map[string]V, wg *sync.WaitGroup) {
	defer wg.Done()
	keyValues := make(map[string]V)
	for _, key := range keys {
		value, err := b.Client.Get(ctx, key).Bytes()

		if err != nil {
			b.logger.WithError(err).WithField("key", key).Warn("error fetching value")
			continue
		}

		var unmarshalledValue V
		err = msgpack.Unmarshal(value, &unmarshalledValue)
		if err == nil {
			keyValues[key] = unmarshalledValue
		} else {
			b.logger.WithError(err).WithField("key", key).Warn("error unmarshalling value")
		}
	}
	resultsChan <- keyValues
}

func (b *RedisStorageBackend[K, V]) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var cursor uint64
	var stringKeys []string

	for {
		scanKeys, next, err := b.Client.Scan(ctx, cursor, b.keyPattern(prefix), b.Options.GetScanCount()).Result()
		if err != nil {
			return nil, err
		}

		stringKeys = append(stringKeys, scanKeys...)
		cursor = next

		if cursor == 0 {
			break
		}
	}

	return stringKeys, nil
}

func (b *RedisStorageBackend[K, V]) fetchEntriesWithPrefix(ctx context.Context, prefix string, batchSize int) (map[K]V, error) {
	scanKeys, err := b.scanKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	resultsChan := make(chan map[string]V)
	var wg sync.WaitGroup

	// Process the keys in batches.
	for i := 0; i < len(scanKeys); i += batchSize {
		end := i + batchSize
		if end > len(scanKeys) {
			end = len(scanKeys)
		}
		wg.Add(1)
		go b.fetchValues(ctx, scanKeys[i:end], resultsChan, &wg)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	entries := make(map[K]V)
	for keyMap := range resultsChan {
		for key, value := range keyMap {
			unmarshalledKey, err := b.Options.CacheKey.Unmarshal(b.trimKeyPrefix(key))
			if err != nil {
				b.logger.WithError(err).WithField("key", key).Warn("error unmarshalling key")
				continue
			}

			entries[unmarshalledKey] = value
		}
	}

	b.logger.WithFields(logrus.Fields{
		"prefix":  prefix,
		"entries": len(entries),
	}).Debug("fetched entries")

	return entries, nil
}
