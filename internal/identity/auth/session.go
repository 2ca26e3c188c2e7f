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

// sessionStore keeps the adapter's single session: an in-memory copy for
// fast reads plus a durable copy under the session storage key so a restart
// resumes the signed-in state.
//
// The remember flag does not gate persistence — the session is always
// written immediately — it only decides whether the durable copy is deleted
// at teardown.
type sessionStore struct {
	store  keyval.Store
	logger *slog.Logger

	mu       sync.Mutex
	current  *Session
	remember bool
}

// newSessionStore builds the store and resumes any persisted session. A
// corrupt persisted document is discarded, not an error.
func newSessionStore(ctx context.Context, store keyval.Store, logger *slog.Logger) (*sessionStore, error) {
	sessions := &sessionStore{store: store, logger: logger}

	raw, ok, err := store.Get(ctx, constants.StorageKeySession)
	if err != nil {
		return nil, fmt.Errorf("session_resume_failed: %w", err)
	}
	if !ok || raw == "" {
		return sessions, nil
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		logger.Warn("session_storage_corrupt", "error", err)
		return sessions, nil
	}

	// A session that survived a restart was, by definition, remembered.
	sessions.current = &session
	sessions.remember = true
	return sessions, nil
}

// Establish makes session the current one and persists it.
func (sessions *sessionStore) Establish(ctx context.Context, session Session, remember bool) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session_encode_failed: %w", err)
	}
	if err := sessions.store.Set(ctx, constants.StorageKeySession, string(raw)); err != nil {
		return fmt.Errorf("session_persist_failed: %w", err)
	}

	sessions.mu.Lock()
	sessions.current = &session
	sessions.remember = remember
	sessions.mu.Unlock()
	return nil
}

// Refresh re-persists an updated copy of the current session, keeping the
// remember decision from Establish.
func (sessions *sessionStore) Refresh(ctx context.Context, session Session) error {
	sessions.mu.Lock()
	remember := sessions.remember
	sessions.mu.Unlock()
	return sessions.Establish(ctx, session, remember)
}

// Current returns the session, if one is established.
func (sessions *sessionStore) Current() (Session, bool) {
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if sessions.current == nil {
		return Session{}, false
	}
	return *sessions.current, true
}

// Clear drops the session from memory and durable storage.
func (sessions *sessionStore) Clear(ctx context.Context) error {
	sessions.mu.Lock()
	sessions.current = nil
	sessions.remember = false
	sessions.mu.Unlock()

	if err := sessions.store.Delete(ctx, constants.StorageKeySession); err != nil {
		return fmt.Errorf("session_clear_failed: %w", err)
	}
	return nil
}

// Teardown removes the durable copy of a non-remembered session. Called at
// process shutdown; best effort, a crash skips it and the session survives.
func (sessions *sessionStore) Teardown(ctx context.Context) error {
	sessions.mu.Lock()
	drop := sessions.current != nil && !sessions.remember
	sessions.mu.Unlock()

	if !drop {
		return nil
	}
	if err := sessions.store.Delete(ctx, constants.StorageKeySession); err != nil {
		return fmt.Errorf("session_teardown_failed: %w", err)
	}
	return nil
}
