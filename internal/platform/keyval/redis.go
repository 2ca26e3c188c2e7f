// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package keyval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis key layout. Values live under keyPrefix, change events are published
// on the matching channelPrefix channel so every process sharing the Redis
// instance observes every write — the server-side analog of the browser
// storage event the SPA relied on.
const (
	keyPrefix     = "keyval:"
	channelPrefix = "keyval-changed:"
)

// RedisStore implements [Store] on a Redis client using PUBLISH/SUBSCRIBE for
// the change-notification channel.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]*memorySub

	cancel context.CancelFunc
	pubsub *redis.PubSub
}

// NewRedisStore creates a Redis-backed store and starts its notification
// listener. The listener runs until [RedisStore.Close].
func NewRedisStore(client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	listenCtx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		logger: logger,
		subs:   make(map[string][]*memorySub),
		cancel: cancel,
	}

	// One pattern subscription covers every key; dispatch fans out per key.
	store.pubsub = client.PSubscribe(listenCtx, channelPrefix+"*")
	if _, err := store.pubsub.Receive(listenCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("keyval: redis subscribe failed: %w", err)
	}

	go store.dispatchLoop(listenCtx)

	return store, nil
}

// Get returns the value stored under key.
func (store *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := store.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyval: redis get failed: %w", err)
	}
	return value, true, nil
}

// Set writes value under key and publishes the change.
func (store *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := store.client.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("keyval: redis set failed: %w", err)
	}

	if err := store.client.Publish(ctx, channelPrefix+key, value).Err(); err != nil {
		return fmt.Errorf("keyval: redis publish failed: %w", err)
	}
	return nil
}

// Delete removes key and publishes an empty value.
func (store *RedisStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("keyval: redis delete failed: %w", err)
	}

	if err := store.client.Publish(ctx, channelPrefix+key, "").Err(); err != nil {
		return fmt.Errorf("keyval: redis publish failed: %w", err)
	}
	return nil
}

// Subscribe registers fn for every subsequent write to key. Local writes are
// observed through the same pub/sub round-trip as foreign ones, so ordering
// is uniform across processes.
func (store *RedisStore) Subscribe(key string, fn func(value string)) (func(), error) {
	sub := &memorySub{fn: fn}

	store.mu.Lock()
	store.subs[key] = append(store.subs[key], sub)
	store.mu.Unlock()

	unsubscribe := func() {
		store.mu.Lock()
		defer store.mu.Unlock()

		current := store.subs[key]
		for i, candidate := range current {
			if candidate == sub {
				store.subs[key] = append(current[:i:i], current[i+1:]...)
				break
			}
		}
	}
	return unsubscribe, nil
}

// Close stops the notification listener and detaches all subscribers.
func (store *RedisStore) Close() error {
	store.cancel()
	err := store.pubsub.Close()

	store.mu.Lock()
	store.subs = make(map[string][]*memorySub)
	store.mu.Unlock()

	return err
}

// dispatchLoop fans incoming channel messages out to the key's subscribers.
func (store *RedisStore) dispatchLoop(ctx context.Context) {
	channel := store.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-channel:
			if !ok {
				return
			}

			key := message.Channel[len(channelPrefix):]

			store.mu.Lock()
			listeners := make([]*memorySub, len(store.subs[key]))
			copy(listeners, store.subs[key])
			store.mu.Unlock()

			for _, sub := range listeners {
				sub.fn(message.Payload)
			}
		}
	}
}
