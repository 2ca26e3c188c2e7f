// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package keyval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/platform/keyval"
)

/*
TestMemoryStore_GetSet verifies presence reporting and round-trips.
*/
func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store := keyval.NewMemoryStore()

	// 1. Absent key
	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	// 2. Stored empty string is still "present"
	require.NoError(t, store.Set(ctx, "empty", ""))
	value, ok, err := store.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", value)

	// 3. Overwrite
	require.NoError(t, store.Set(ctx, "k", "v1"))
	require.NoError(t, store.Set(ctx, "k", "v2"))
	value, _, _ = store.Get(ctx, "k")
	assert.Equal(t, "v2", value)
}

/*
TestMemoryStore_Subscribe verifies write notification and unsubscription.
*/
func TestMemoryStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	store := keyval.NewMemoryStore()

	var observed []string
	unsubscribe, err := store.Subscribe("k", func(value string) {
		observed = append(observed, value)
	})
	require.NoError(t, err)

	// 1. No replay on subscribe
	assert.Empty(t, observed)

	// 2. Every write to the key fires; writes to other keys do not
	require.NoError(t, store.Set(ctx, "k", "a"))
	require.NoError(t, store.Set(ctx, "other", "x"))
	require.NoError(t, store.Set(ctx, "k", "b"))
	assert.Equal(t, []string{"a", "b"}, observed)

	// 3. Delete delivers an empty value
	require.NoError(t, store.Delete(ctx, "k"))
	assert.Equal(t, []string{"a", "b", ""}, observed)

	// 4. Unsubscribed callbacks stay silent
	unsubscribe()
	require.NoError(t, store.Set(ctx, "k", "c"))
	assert.Equal(t, []string{"a", "b", ""}, observed)
}

/*
TestMemoryStore_DeleteAbsent verifies deleting a missing key is a quiet no-op.
*/
func TestMemoryStore_DeleteAbsent(t *testing.T) {
	ctx := context.Background()
	store := keyval.NewMemoryStore()

	fired := false
	_, err := store.Subscribe("k", func(string) { fired = true })
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, fired)
}
