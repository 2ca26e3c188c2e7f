// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/keyval"
)

// verificationEntry is one live email-verification code. At most one exists
// per normalized email; a resend replaces it.
type verificationEntry struct {
	Code         string `json:"code"`
	CreatedAtSec int64  `json:"created_at_sec"`
}

// verifyStore persists the email-to-entry map as one JSON document under the
// verify-map storage key, so pending verifications survive a restart.
type verifyStore struct {
	store  keyval.Store
	logger *slog.Logger
	mu     sync.Mutex
}

func newVerifyStore(store keyval.Store, logger *slog.Logger) *verifyStore {
	return &verifyStore{store: store, logger: logger}
}

// load decodes the map. Missing or corrupt documents yield an empty map.
func (vs *verifyStore) load(ctx context.Context) (map[string]verificationEntry, error) {
	raw, ok, err := vs.store.Get(ctx, constants.StorageKeyVerifyMap)
	if err != nil {
		return nil, fmt.Errorf("verify_map_load_failed: %w", err)
	}

	entries := map[string]verificationEntry{}
	if !ok || raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		vs.logger.Warn("verify_map_corrupt", "error", err)
		return map[string]verificationEntry{}, nil
	}
	return entries, nil
}

func (vs *verifyStore) persist(ctx context.Context, entries map[string]verificationEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("verify_map_encode_failed: %w", err)
	}
	if err := vs.store.Set(ctx, constants.StorageKeyVerifyMap, string(raw)); err != nil {
		return fmt.Errorf("verify_map_persist_failed: %w", err)
	}
	return nil
}

// Put stores a fresh entry for email, replacing any previous one.
func (vs *verifyStore) Put(ctx context.Context, email, code string, nowSec int64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	entries, err := vs.load(ctx)
	if err != nil {
		return err
	}
	entries[email] = verificationEntry{Code: code, CreatedAtSec: nowSec}
	return vs.persist(ctx, entries)
}

// Get returns the live entry for email, if any.
func (vs *verifyStore) Get(ctx context.Context, email string) (verificationEntry, bool, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	entries, err := vs.load(ctx)
	if err != nil {
		return verificationEntry{}, false, err
	}
	entry, ok := entries[email]
	return entry, ok, nil
}

// Delete removes the entry for email. Absent entries are a no-op.
func (vs *verifyStore) Delete(ctx context.Context, email string) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	entries, err := vs.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := entries[email]; !ok {
		return nil
	}
	delete(entries, email)
	return vs.persist(ctx, entries)
}
