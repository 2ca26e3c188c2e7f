// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/sec"
)

func newTestRegistry(t *testing.T) (*Registry, *keyval.MemoryStore) {
	t.Helper()
	store := keyval.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger), store
}

func TestRegistry_Upsert_CreateDefaults(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	// 1. Create with only email and credential.
	created, err := registry.Upsert(ctx, UserPatch{
		Email:      "  Nurse.Joy@Example.COM ",
		Credential: Cred(BcryptCredential("$2a$10$hash")),
	})
	require.NoError(t, err)

	// 2. Email is normalized, name defaults to its local part, role to user.
	assert.Equal(t, "nurse.joy@example.com", created.Email)
	assert.Equal(t, "nurse.joy", created.Name)
	assert.Equal(t, sec.RoleUser, created.Role)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Disabled)
	assert.False(t, created.Verified)

	// 3. A second account is inserted ahead of the first.
	_, err = registry.Upsert(ctx, UserPatch{
		Email:      "second@example.com",
		Credential: Cred(BcryptCredential("$2a$10$other")),
	})
	require.NoError(t, err)

	users, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "second@example.com", users[0].Email)
	assert.Equal(t, "nurse.joy@example.com", users[1].Email)
}

func TestRegistry_Upsert_MergePreservesCredential(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	created, err := registry.Upsert(ctx, UserPatch{
		Email:      "keeper@example.com",
		Credential: Cred(BcryptCredential("$2a$10$original")),
	})
	require.NoError(t, err)

	// 1. A patch without a credential must not alter the stored one.
	merged, err := registry.Upsert(ctx, UserPatch{
		Email:    "keeper@example.com",
		Name:     String("Keeper"),
		Verified: Bool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, merged.ID, "merge must keep the original id")
	assert.Equal(t, "Keeper", merged.Name)
	assert.True(t, merged.Verified)
	assert.Equal(t, "$2a$10$original", merged.Credential.Hash)

	// 2. A patch that does carry a credential replaces it.
	merged, err = registry.Upsert(ctx, UserPatch{
		Email:      "keeper@example.com",
		Credential: Cred(BcryptCredential("$2a$10$rotated")),
	})
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$rotated", merged.Credential.Hash)

	// 3. Still exactly one record for the email.
	users, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegistry_Upsert_Validation(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	// 1. Email is required.
	_, err := registry.Upsert(ctx, UserPatch{Email: "   "})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	// 2. A brand new record must carry a credential.
	_, err = registry.Upsert(ctx, UserPatch{Email: "nocred@example.com"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}

func TestRegistry_FindByEmail_Normalizes(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	_, err := registry.Upsert(ctx, UserPatch{
		Email:      "case@example.com",
		Credential: Cred(BcryptCredential("$2a$10$hash")),
	})
	require.NoError(t, err)

	found, ok, err := registry.FindByEmail(ctx, "  CASE@Example.Com ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "case@example.com", found.Email)

	_, ok, err = registry.FindByEmail(ctx, "absent@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_AdminMutations(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	created, err := registry.Upsert(ctx, UserPatch{
		Email:      "subject@example.com",
		Credential: Cred(BcryptCredential("$2a$10$hash")),
	})
	require.NoError(t, err)

	// 1. ToggleDisabled flips the flag both ways.
	require.NoError(t, registry.ToggleDisabled(ctx, created.ID))
	found, ok, err := registry.FindByEmail(ctx, created.Email)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, found.Disabled)

	require.NoError(t, registry.ToggleDisabled(ctx, created.ID))
	found, _, err = registry.FindByEmail(ctx, created.Email)
	require.NoError(t, err)
	assert.False(t, found.Disabled)

	// 2. SetRole promotes and coerces unknown role names down to user.
	require.NoError(t, registry.SetRole(ctx, created.ID, sec.RoleAdmin))
	found, _, err = registry.FindByEmail(ctx, created.Email)
	require.NoError(t, err)
	assert.Equal(t, sec.RoleAdmin, found.Role)

	require.NoError(t, registry.SetRole(ctx, created.ID, sec.UserRole("owner")))
	found, _, err = registry.FindByEmail(ctx, created.Email)
	require.NoError(t, err)
	assert.Equal(t, sec.RoleUser, found.Role)

	// 3. Mutations against an unknown id are silent no-ops.
	require.NoError(t, registry.ToggleDisabled(ctx, "does-not-exist"))
	require.NoError(t, registry.SetRole(ctx, "does-not-exist", sec.RoleAdmin))
	require.NoError(t, registry.Remove(ctx, "does-not-exist"))

	// 4. Remove actually removes.
	require.NoError(t, registry.Remove(ctx, created.ID))
	users, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegistry_CorruptStorageYieldsEmptyList(t *testing.T) {
	ctx := context.Background()
	registry, store := newTestRegistry(t)

	require.NoError(t, store.Set(ctx, constants.StorageKeyUsers, "{not json"))

	users, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	// A write through the registry replaces the corrupt document.
	_, err = registry.Upsert(ctx, UserPatch{
		Email:      "fresh@example.com",
		Credential: Cred(BcryptCredential("$2a$10$hash")),
	})
	require.NoError(t, err)

	users, err = registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegistry_Listen(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	_, err := registry.Upsert(ctx, UserPatch{
		Email:      "existing@example.com",
		Credential: Cred(BcryptCredential("$2a$10$hash")),
	})
	require.NoError(t, err)

	var snapshots [][]UserRecord
	unsubscribe, err := registry.Listen(ctx, func(users []UserRecord) {
		snapshots = append(snapshots, users)
	})
	require.NoError(t, err)

	// 1. The current list is replayed immediately.
	require.Len(t, snapshots, 1)
	require.Len(t, snapshots[0], 1)
	assert.Equal(t, "existing@example.com", snapshots[0][0].Email)

	// 2. Every registry write triggers another callback.
	_, err = registry.Upsert(ctx, UserPatch{
		Email:      "newcomer@example.com",
		Credential: Cred(BcryptCredential("$2a$10$other")),
	})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "newcomer@example.com", snapshots[1][0].Email)

	// 3. After unsubscribe the callback goes quiet.
	unsubscribe()
	require.NoError(t, registry.Remove(ctx, snapshots[1][0].ID))
	assert.Len(t, snapshots, 2)
}
