// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package keyval

import (
	"context"
	"sync"
)

// MemoryStore is an in-process [Store] used by tests and the memory storage
// backend. Notifications are dispatched synchronously from the writing call,
// which keeps test assertions deterministic.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[string][]*memorySub
	closed bool
}

type memorySub struct {
	fn func(value string)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		subs:   make(map[string][]*memorySub),
	}
}

// Get returns the value stored under key.
func (store *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	value, ok := store.values[key]
	return value, ok, nil
}

// Set writes value under key and notifies subscribers of key.
func (store *MemoryStore) Set(_ context.Context, key, value string) error {
	store.mu.Lock()
	store.values[key] = value
	listeners := store.listenersFor(key)
	store.mu.Unlock()

	// Dispatch outside the lock so a callback may re-enter the store.
	for _, sub := range listeners {
		sub.fn(value)
	}
	return nil
}

// Delete removes key and notifies subscribers with an empty value.
func (store *MemoryStore) Delete(_ context.Context, key string) error {
	store.mu.Lock()
	_, existed := store.values[key]
	delete(store.values, key)
	var listeners []*memorySub
	if existed {
		listeners = store.listenersFor(key)
	}
	store.mu.Unlock()

	for _, sub := range listeners {
		sub.fn("")
	}
	return nil
}

// Subscribe registers fn for every subsequent write to key.
func (store *MemoryStore) Subscribe(key string, fn func(value string)) (func(), error) {
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

// Close detaches all subscribers.
func (store *MemoryStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.subs = make(map[string][]*memorySub)
	store.closed = true
	return nil
}

// listenersFor snapshots the subscriber list for a key. Caller must hold mu.
func (store *MemoryStore) listenersFor(key string) []*memorySub {
	current := store.subs[key]
	snapshot := make([]*memorySub, len(current))
	copy(snapshot, current)
	return snapshot
}
