// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package keyval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel is the single LISTEN/NOTIFY channel all keyval writes go
// through; the notification payload is the key that changed. Payloads are
// capped by Postgres, so subscribers re-read the value instead of receiving
// it inline.
const notifyChannel = "identity_keyval_changed"

// PostgresStore implements [Store] on the identity.keyval table, using
// LISTEN/NOTIFY as the cross-process change channel.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]*memorySub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresStore creates a Postgres-backed store and starts its LISTEN
// loop on a dedicated connection. The loop runs until [PostgresStore.Close].
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	listenCtx, cancel := context.WithCancel(context.Background())

	store := &PostgresStore{
		pool:   pool,
		logger: logger,
		subs:   make(map[string][]*memorySub),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Pin one connection for LISTEN; pooled connections cannot be shared
	// with notification waits.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keyval: postgres listen connection failed: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		cancel()
		return nil, fmt.Errorf("keyval: postgres LISTEN failed: %w", err)
	}

	go store.listenLoop(listenCtx, conn)

	return store, nil
}

// Get returns the value stored under key.
func (store *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT v FROM identity.keyval WHERE k = $1`

	var value string
	err := store.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("keyval: postgres get failed: %w", err)
	}
	return value, true, nil
}

// Set upserts value under key and notifies every listening process.
func (store *PostgresStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO identity.keyval (k, v, updatedat)
		VALUES ($1, $2, now())
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, updatedat = now()`

	if _, err := store.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("keyval: postgres set failed: %w", err)
	}

	return store.notify(ctx, key)
}

// Delete removes key and notifies every listening process.
func (store *PostgresStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM identity.keyval WHERE k = $1`

	if _, err := store.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("keyval: postgres delete failed: %w", err)
	}

	return store.notify(ctx, key)
}

// Subscribe registers fn for every subsequent write to key.
func (store *PostgresStore) Subscribe(key string, fn func(value string)) (func(), error) {
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

// Close stops the LISTEN loop and detaches all subscribers.
func (store *PostgresStore) Close() error {
	store.cancel()
	<-store.done

	store.mu.Lock()
	store.subs = make(map[string][]*memorySub)
	store.mu.Unlock()

	return nil
}

// notify emits the changed key on the shared channel.
func (store *PostgresStore) notify(ctx context.Context, key string) error {
	if _, err := store.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, key); err != nil {
		return fmt.Errorf("keyval: postgres notify failed: %w", err)
	}
	return nil
}

// listenLoop blocks on notifications and fans them out. The payload is only
// the key, so the current value is re-read before dispatch.
func (store *PostgresStore) listenLoop(ctx context.Context, conn *pgxpool.Conn) {
	defer close(store.done)
	defer conn.Release()

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			store.logger.Error("keyval_listen_failed", slog.Any("error", err))
			return
		}

		key := notification.Payload

		store.mu.Lock()
		listeners := make([]*memorySub, len(store.subs[key]))
		copy(listeners, store.subs[key])
		store.mu.Unlock()

		if len(listeners) == 0 {
			continue
		}

		value, _, err := store.Get(ctx, key)
		if err != nil {
			store.logger.Error("keyval_reload_failed", slog.String("key", key), slog.Any("error", err))
			continue
		}

		for _, sub := range listeners {
			sub.fn(value)
		}
	}
}
