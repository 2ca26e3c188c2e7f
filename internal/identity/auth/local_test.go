// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/identity/registry"
	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/sec"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// fakeClock lets tests walk the adapter's clock across expiry boundaries.
type fakeClock struct{ sec int64 }

func (c *fakeClock) Now() int64 { return c.sec }

func newTestAdapter(t *testing.T) (*LocalAdapter, *registry.Registry, *keyval.MemoryStore, *fakeClock) {
	t.Helper()
	store := keyval.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(store, logger)

	adapter, err := NewLocalAdapter(context.Background(), reg, store, nil, logger)
	require.NoError(t, err)

	clock := &fakeClock{sec: 1_000_000}
	adapter.now = clock.Now
	return adapter, reg, store, clock
}

// registerVerified walks an account through register + verify so login tests
// can start from a clean VERIFIED state.
func registerVerified(t *testing.T, adapter *LocalAdapter, email, password string) {
	t.Helper()
	ctx := context.Background()

	result, err := adapter.Register(ctx, RegisterInput{Name: "Test", Email: email, Password: password})
	require.NoError(t, err)

	verified, err := adapter.VerifyEmail(ctx, VerifyEmailInput{Email: email, Code: result.Code})
	require.NoError(t, err)
	require.True(t, verified.OK)
}

func TestLocalAdapter_SeedsExactlyOneAdmin(t *testing.T) {
	ctx := context.Background()
	adapter, reg, store, _ := newTestAdapter(t)

	countAdmins := func() int {
		users, err := reg.List(ctx)
		require.NoError(t, err)
		n := 0
		for _, user := range users {
			if user.Role == sec.RoleAdmin {
				n++
			}
		}
		return n
	}

	// 1. A fresh registry gets exactly one admin.
	assert.Equal(t, 1, countAdmins())

	// 2. A second adapter over the same store does not seed another.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewLocalAdapter(ctx, reg, store, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, countAdmins())

	// 3. The seeded account can log in immediately.
	result, err := adapter.Login(ctx, LoginInput{Email: SeedAdminEmail, Password: SeedAdminPassword})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Equal(t, string(sec.RoleAdmin), result.Session.Role)
}

func TestLocalAdapter_Register_Validation(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"empty_email", RegisterInput{Password: "Secret123"}},
		{"disposable_domain", RegisterInput{Email: "x@mailinator.com", Password: "Secret123"}},
		{"short_password", RegisterInput{Email: "ok@example.com", Password: "short"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := adapter.Register(ctx, tc.input)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
		})
	}
}

func TestLocalAdapter_Register_DuplicateEmailConflicts(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	_, err := adapter.Register(ctx, RegisterInput{Email: "dup@example.com", Password: "Secret123"})
	require.NoError(t, err)

	// Any casing or whitespace of the same address conflicts.
	_, err = adapter.Register(ctx, RegisterInput{Email: "  DUP@Example.COM ", Password: "Secret123"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestLocalAdapter_EndToEnd(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	// 1. Register returns the normalized email and a 6-digit code.
	result, err := adapter.Register(ctx, RegisterInput{
		Name: "Ava", Email: "Ava@Example.com", Password: "Secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "ava@example.com", result.Email)
	assert.Regexp(t, codePattern, result.Code)

	// 2. A wrong code is a credential mismatch, not expiry or precondition.
	_, err = adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "ava@example.com", Code: "000000"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))

	// 3. The right code verifies.
	verified, err := adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "ava@example.com", Code: result.Code})
	require.NoError(t, err)
	assert.True(t, verified.OK)
	assert.False(t, verified.AlreadyVerified)

	// 4. Login now yields a session for the account.
	login, err := adapter.Login(ctx, LoginInput{Email: "ava@example.com", Password: "Secret123"})
	require.NoError(t, err)
	require.NotNil(t, login.Session)
	assert.Equal(t, "ava@example.com", login.Session.Email)
	assert.Equal(t, "Ava", login.Session.Name)

	session, ok := adapter.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, login.Session.ID, session.ID)
}

func TestLocalAdapter_VerifyEmail_Idempotent(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	result, err := adapter.Register(ctx, RegisterInput{Email: "twice@example.com", Password: "Secret123"})
	require.NoError(t, err)

	first, err := adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "twice@example.com", Code: result.Code})
	require.NoError(t, err)
	assert.True(t, first.OK)

	// The second call succeeds without mutating anything.
	second, err := adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "twice@example.com", Code: result.Code})
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.True(t, second.AlreadyVerified)
}

func TestLocalAdapter_VerifyEmail_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, clock := newTestAdapter(t)

	// 1. One second inside the window still verifies.
	inside, err := adapter.Register(ctx, RegisterInput{Email: "inside@example.com", Password: "Secret123"})
	require.NoError(t, err)
	clock.sec += VerifyTTLSeconds - 1
	verified, err := adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "inside@example.com", Code: inside.Code})
	require.NoError(t, err)
	assert.True(t, verified.OK)

	// 2. One second past the window is expired, even with the right code.
	outside, err := adapter.Register(ctx, RegisterInput{Email: "outside@example.com", Password: "Secret123"})
	require.NoError(t, err)
	clock.sec += VerifyTTLSeconds + 1
	_, err = adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "outside@example.com", Code: outside.Code})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeExpired))

	// 3. The expired entry is left in place; a resend replaces it and the
	// fresh code works.
	resent, err := adapter.ResendVerification(ctx, "outside@example.com")
	require.NoError(t, err)
	verified, err = adapter.VerifyEmail(ctx, VerifyEmailInput{Email: "outside@example.com", Code: resent.Code})
	require.NoError(t, err)
	assert.True(t, verified.OK)
}

func TestLocalAdapter_Login_GateOrdering(t *testing.T) {
	ctx := context.Background()
	adapter, reg, _, _ := newTestAdapter(t)

	// 1. Unknown account.
	_, err := adapter.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "Secret123"})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	// 2. Disabled wins over a correct password.
	registerVerified(t, adapter, "gated@example.com", "Secret123")
	user, ok, err := reg.FindByEmail(ctx, "gated@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, reg.ToggleDisabled(ctx, user.ID))

	_, err = adapter.Login(ctx, LoginInput{Email: "gated@example.com", Password: "Secret123"})
	assert.True(t, apperr.HasCode(err, apperr.CodeForbidden))
	require.NoError(t, reg.ToggleDisabled(ctx, user.ID))

	// 3. Unverified wins over a wrong password: the verified gate must run
	// before the credential check.
	_, err = adapter.Register(ctx, RegisterInput{Email: "fresh@example.com", Password: "Secret123"})
	require.NoError(t, err)
	_, err = adapter.Login(ctx, LoginInput{Email: "fresh@example.com", Password: "totally-wrong"})
	assert.True(t, apperr.HasCode(err, apperr.CodePrecondition))

	// 4. Only then does a wrong password surface as a credential mismatch.
	_, err = adapter.Login(ctx, LoginInput{Email: "gated@example.com", Password: "totally-wrong"})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

func TestLocalAdapter_TwoFactor_Flow(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, clock := newTestAdapter(t)

	registerVerified(t, adapter, "tf@example.com", "Secret123")
	require.NoError(t, adapter.ToggleTwoFactor(ctx, "tf@example.com", true))

	// 1. Login pauses at the challenge, no session yet.
	result, err := adapter.Login(ctx, LoginInput{Email: "tf@example.com", Password: "Secret123"})
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	require.NotNil(t, result.Challenge)
	assert.Regexp(t, codePattern, result.Challenge.Code)
	_, ok := adapter.CurrentUser(ctx)
	assert.False(t, ok)

	// 2. A wrong code is rejected but keeps the challenge alive.
	_, err = adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "tf@example.com", Code: "000000"})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))

	// 3. The right code establishes the session.
	session, err := adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "tf@example.com", Code: result.Challenge.Code})
	require.NoError(t, err)
	assert.Equal(t, "tf@example.com", session.Email)

	// 4. The challenge is consumed; completing again is a precondition failure.
	_, err = adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "tf@example.com", Code: result.Challenge.Code})
	assert.True(t, apperr.HasCode(err, apperr.CodePrecondition))

	// 5. An expired challenge is cleared as a side effect of checking it.
	result, err = adapter.Login(ctx, LoginInput{Email: "tf@example.com", Password: "Secret123"})
	require.NoError(t, err)
	require.NotNil(t, result.Challenge)
	clock.sec += TwoFactorTTLSeconds + 1
	_, err = adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "tf@example.com", Code: result.Challenge.Code})
	assert.True(t, apperr.HasCode(err, apperr.CodeExpired))
	_, err = adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "tf@example.com", Code: result.Challenge.Code})
	assert.True(t, apperr.HasCode(err, apperr.CodePrecondition))
}

func TestLocalAdapter_TwoFactor_SingleSlot(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	registerVerified(t, adapter, "alpha@example.com", "Secret123")
	registerVerified(t, adapter, "beta@example.com", "Secret123")
	require.NoError(t, adapter.ToggleTwoFactor(ctx, "alpha@example.com", true))
	require.NoError(t, adapter.ToggleTwoFactor(ctx, "beta@example.com", true))

	// 1. Alpha starts a challenge, then beta starts one before alpha finishes.
	alphaResult, err := adapter.Login(ctx, LoginInput{Email: "alpha@example.com", Password: "Secret123"})
	require.NoError(t, err)
	betaResult, err := adapter.Login(ctx, LoginInput{Email: "beta@example.com", Password: "Secret123"})
	require.NoError(t, err)

	// 2. Beta's login discarded alpha's challenge: one slot per process.
	_, err = adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "alpha@example.com", Code: alphaResult.Challenge.Code})
	assert.True(t, apperr.HasCode(err, apperr.CodePrecondition))

	// 3. Beta's challenge is the live one.
	session, err := adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "beta@example.com", Code: betaResult.Challenge.Code})
	require.NoError(t, err)
	assert.Equal(t, "beta@example.com", session.Email)
}

func TestLocalAdapter_ResendTwoFactor(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	_, err := adapter.ResendTwoFactor(ctx, "ghost@example.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	registerVerified(t, adapter, "resend@example.com", "Secret123")
	require.NoError(t, adapter.ToggleTwoFactor(ctx, "resend@example.com", true))

	_, err = adapter.Login(ctx, LoginInput{Email: "resend@example.com", Password: "Secret123"})
	require.NoError(t, err)

	// The resent code supersedes the one issued at login.
	resent, err := adapter.ResendTwoFactor(ctx, "resend@example.com")
	require.NoError(t, err)
	session, err := adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "resend@example.com", Code: resent.Code})
	require.NoError(t, err)
	assert.Equal(t, "resend@example.com", session.Email)
}

func TestLocalAdapter_ResendVerification_AlreadyVerified(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	registerVerified(t, adapter, "done@example.com", "Secret123")

	result, err := adapter.ResendVerification(ctx, "done@example.com")
	require.NoError(t, err)
	assert.True(t, result.AlreadyVerified)
	assert.Empty(t, result.Code)
}

func TestLocalAdapter_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	adapter, reg, _, _ := newTestAdapter(t)

	registerVerified(t, adapter, "profile@example.com", "Secret123")
	_, err := adapter.Login(ctx, LoginInput{Email: "profile@example.com", Password: "Secret123"})
	require.NoError(t, err)

	// 1. The new name lands in the registry and in the live session.
	require.NoError(t, adapter.UpdateProfile(ctx, UpdateProfileInput{Email: "profile@example.com", Name: "Dana"}))
	user, ok, err := reg.FindByEmail(ctx, "profile@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Dana", user.Name)

	session, ok := adapter.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, "Dana", session.Name)

	// 2. A blank name falls back to the local part of the email.
	require.NoError(t, adapter.UpdateProfile(ctx, UpdateProfileInput{Email: "profile@example.com", Name: "   "}))
	session, _ = adapter.CurrentUser(ctx)
	assert.Equal(t, "profile", session.Name)

	// 3. Unknown accounts are a not-found.
	err = adapter.UpdateProfile(ctx, UpdateProfileInput{Email: "ghost@example.com", Name: "X"})
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestLocalAdapter_ChangePassword(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t)

	registerVerified(t, adapter, "rotate@example.com", "Secret123")

	// 1. The old password is checked before the new one is validated.
	err := adapter.ChangePassword(ctx, ChangePasswordInput{
		Email: "rotate@example.com", OldPassword: "wrong", NewPassword: "x",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))

	err = adapter.ChangePassword(ctx, ChangePasswordInput{
		Email: "rotate@example.com", OldPassword: "Secret123", NewPassword: "x",
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	// 2. A valid rotation swaps which password logs in.
	err = adapter.ChangePassword(ctx, ChangePasswordInput{
		Email: "rotate@example.com", OldPassword: "Secret123", NewPassword: "Rotated456",
	})
	require.NoError(t, err)

	_, err = adapter.Login(ctx, LoginInput{Email: "rotate@example.com", Password: "Secret123"})
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	result, err := adapter.Login(ctx, LoginInput{Email: "rotate@example.com", Password: "Rotated456"})
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestLocalAdapter_SessionPersistence(t *testing.T) {
	ctx := context.Background()
	adapter, reg, store, _ := newTestAdapter(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registerVerified(t, adapter, "keep@example.com", "Secret123")

	// 1. A remembered session survives an adapter restart.
	_, err := adapter.Login(ctx, LoginInput{Email: "keep@example.com", Password: "Secret123", Remember: true})
	require.NoError(t, err)
	require.NoError(t, adapter.Close(ctx))

	restarted, err := NewLocalAdapter(ctx, reg, store, nil, logger)
	require.NoError(t, err)
	session, ok := restarted.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, "keep@example.com", session.Email)

	// 2. A non-remembered session is persisted while running but removed at
	// teardown.
	_, err = restarted.Login(ctx, LoginInput{Email: "keep@example.com", Password: "Secret123", Remember: false})
	require.NoError(t, err)
	_, present, err := store.Get(ctx, constants.StorageKeySession)
	require.NoError(t, err)
	assert.True(t, present)

	require.NoError(t, restarted.Close(ctx))
	_, present, err = store.Get(ctx, constants.StorageKeySession)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestLocalAdapter_Logout(t *testing.T) {
	ctx := context.Background()
	adapter, _, store, _ := newTestAdapter(t)

	registerVerified(t, adapter, "out@example.com", "Secret123")
	_, err := adapter.Login(ctx, LoginInput{Email: "out@example.com", Password: "Secret123", Remember: true})
	require.NoError(t, err)

	require.NoError(t, adapter.Logout(ctx))
	_, ok := adapter.CurrentUser(ctx)
	assert.False(t, ok)
	_, present, err := store.Get(ctx, constants.StorageKeySession)
	require.NoError(t, err)
	assert.False(t, present)

	// Logging out twice is still fine.
	require.NoError(t, adapter.Logout(ctx))
}

func TestLocalAdapter_LoginWithGoogle_Unsupported(t *testing.T) {
	adapter, _, _, _ := newTestAdapter(t)

	_, err := adapter.LoginWithGoogle(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
	assert.Contains(t, err.Error(), "USE_REMOTE_AUTH")
}
