// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/publichealth/identity/internal/identity/validation"
	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/sec"
	"github.com/publichealth/identity/pkg/uuidv7"
)

// Registry is the account store. All reads and writes go through one
// in-process mutex; cross-process consistency is last-write-wins on the
// backing keyval document, which matches the single-document storage model.
type Registry struct {
	store  keyval.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Registry over the given keyval store.
func New(store keyval.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// load reads and decodes the full record list. A missing key yields an empty
// list. A corrupt document also yields an empty list: the registry recovers
// by treating unreadable state as absent rather than failing every caller.
func (registry *Registry) load(ctx context.Context) ([]UserRecord, error) {
	raw, ok, err := registry.store.Get(ctx, constants.StorageKeyUsers)
	if err != nil {
		return nil, fmt.Errorf("registry_load_failed: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var users []UserRecord
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		registry.logger.Warn("registry_storage_corrupt", "error", err)
		return nil, nil
	}

	return users, nil
}

// persist writes the full record list back to storage. The keyval engine
// notifies subscribers in every process, including this one.
func (registry *Registry) persist(ctx context.Context, users []UserRecord) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("registry_encode_failed: %w", err)
	}
	if err := registry.store.Set(ctx, constants.StorageKeyUsers, string(raw)); err != nil {
		return fmt.Errorf("registry_persist_failed: %w", err)
	}
	return nil
}

// List returns all records, most recently created first.
func (registry *Registry) List(ctx context.Context) ([]UserRecord, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.load(ctx)
}

// FindByEmail looks a record up by its normalized email.
// The second return is false when no record matches.
func (registry *Registry) FindByEmail(ctx context.Context, email string) (UserRecord, bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	users, err := registry.load(ctx)
	if err != nil {
		return UserRecord{}, false, err
	}

	normalized := validation.NormalizeEmail(email)
	for _, user := range users {
		if user.Email == normalized {
			return user, true, nil
		}
	}
	return UserRecord{}, false, nil
}

/*
Upsert merges a patch into the record keyed by its normalized email, or
creates a new record when none exists.

Merge rules:
  - Nil patch fields leave the stored field untouched. In particular a
    patch without a credential never alters the stored credential.
  - The stored ID survives every merge; UserPatch.ID only applies at
    creation, and a creation without one is assigned a fresh UUIDv7.
  - New records are inserted at the head of the list.
  - A new record must carry a credential; a blank name defaults to the
    local part of the email.

Parameters:
  - ctx: request context.
  - patch: the partial record to apply. Email is required.

Returns:
  - The stored record after the merge.
  - An error of kind validation when the patch is unusable.
*/
func (registry *Registry) Upsert(ctx context.Context, patch UserPatch) (UserRecord, error) {
	normalized := validation.NormalizeEmail(patch.Email)
	if normalized == "" {
		return UserRecord{}, apperr.ValidationError("Email is required")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	users, err := registry.load(ctx)
	if err != nil {
		return UserRecord{}, err
	}

	for i := range users {
		if users[i].Email != normalized {
			continue
		}
		applyPatch(&users[i], patch)
		if err := registry.persist(ctx, users); err != nil {
			return UserRecord{}, err
		}
		return users[i], nil
	}

	// Create.
	if patch.Credential == nil || patch.Credential.IsZero() {
		return UserRecord{}, apperr.ValidationError("A credential is required to create an account")
	}

	created := UserRecord{
		ID:         patch.ID,
		Email:      normalized,
		Name:       validation.LocalPart(normalized),
		Role:       sec.RoleUser,
		Credential: *patch.Credential,
	}
	if created.ID == "" {
		created.ID = uuidv7.Must()
	}
	applyPatch(&created, patch)

	users = append([]UserRecord{created}, users...)
	if err := registry.persist(ctx, users); err != nil {
		return UserRecord{}, err
	}
	return created, nil
}

// applyPatch copies the set fields of patch onto user. Email and ID are
// never touched here.
func applyPatch(user *UserRecord, patch UserPatch) {
	if patch.Name != nil && *patch.Name != "" {
		user.Name = *patch.Name
	}
	if patch.Role != nil {
		user.Role = sec.Normalize(string(*patch.Role))
	}
	if patch.Credential != nil && !patch.Credential.IsZero() {
		user.Credential = *patch.Credential
	}
	if patch.Disabled != nil {
		user.Disabled = *patch.Disabled
	}
	if patch.Verified != nil {
		user.Verified = *patch.Verified
	}
	if patch.TwoFactorEnabled != nil {
		user.TwoFactorEnabled = *patch.TwoFactorEnabled
	}
	if patch.Phone != nil {
		user.Phone = *patch.Phone
	}
}

// Remove deletes the record with the given id. Removing an unknown id is a
// no-op.
func (registry *Registry) Remove(ctx context.Context, id string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	users, err := registry.load(ctx)
	if err != nil {
		return err
	}

	kept := users[:0]
	for _, user := range users {
		if user.ID != id {
			kept = append(kept, user)
		}
	}
	if len(kept) == len(users) {
		return nil
	}
	return registry.persist(ctx, kept)
}

// ToggleDisabled flips the disabled flag of the record with the given id.
// An unknown id is a no-op.
func (registry *Registry) ToggleDisabled(ctx context.Context, id string) error {
	return registry.mutate(ctx, id, func(user *UserRecord) {
		user.Disabled = !user.Disabled
	})
}

// SetRole assigns a role to the record with the given id. Unknown role
// values coerce to the regular user role. An unknown id is a no-op.
func (registry *Registry) SetRole(ctx context.Context, id string, role sec.UserRole) error {
	return registry.mutate(ctx, id, func(user *UserRecord) {
		user.Role = sec.Normalize(string(role))
	})
}

// mutate applies fn to the record with the given id and persists. Missing
// ids are silently skipped.
func (registry *Registry) mutate(ctx context.Context, id string, fn func(*UserRecord)) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	users, err := registry.load(ctx)
	if err != nil {
		return err
	}

	for i := range users {
		if users[i].ID == id {
			fn(&users[i])
			return registry.persist(ctx, users)
		}
	}
	return nil
}

// Listen invokes callback with the current record list immediately, then
// again after every registry write from any process. The returned function
// cancels the subscription.
func (registry *Registry) Listen(ctx context.Context, callback func([]UserRecord)) (func(), error) {
	registry.mu.Lock()
	current, err := registry.load(ctx)
	registry.mu.Unlock()
	if err != nil {
		return nil, err
	}
	callback(current)

	unsubscribe, err := registry.store.Subscribe(constants.StorageKeyUsers, func(raw string) {
		var users []UserRecord
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &users); err != nil {
				registry.logger.Warn("registry_notify_corrupt", "error", err)
				users = nil
			}
		}
		callback(users)
	})
	if err != nil {
		return nil, fmt.Errorf("registry_listen_failed: %w", err)
	}
	return unsubscribe, nil
}
