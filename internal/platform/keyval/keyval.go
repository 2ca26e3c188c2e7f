// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

/*
Package keyval provides the durable scoped key-value store the identity
subsystem persists through, together with its change-notification channel.

Core Responsibilities:

  - Durability: Values survive process restarts (registry contents, sessions,
    verification entries are all JSON strings under well-known keys).
  - Notification: Every write is broadcast to subscribers in this process AND
    in any other process sharing the same store, so registry listeners react
    to foreign writes the same way they react to local ones.
  - Substitution: Postgres, Redis, and in-memory engines implement the same
    contract; the rest of the system never knows which one is active.

The subscription callback always receives the value as it stands after the
write (empty string for a delete). Callers that need richer semantics, like
the registry's replay-on-subscribe, layer them on top.
*/
package keyval

import "context"

// Store is a durable string key-value store with cross-process change
// notification.
type Store interface {
	// Get returns the value stored under key. The boolean reports presence,
	// distinguishing a stored empty string from an absent key.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key and notifies all subscribers of key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key and notifies all subscribers of key with an empty
	// value. Deleting an absent key is a no-op, not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn for every subsequent write to key, from this
	// process or any other process sharing the store. It does NOT replay the
	// current value. Returns an unsubscribe function; fn is never called
	// after unsubscribe returns.
	Subscribe(key string, fn func(value string)) (func(), error)

	// Close releases the engine's resources and detaches all subscribers.
	Close() error
}
