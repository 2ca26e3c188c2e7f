// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/publichealth/identity/internal/identity/registry"
	"github.com/publichealth/identity/internal/identity/validation"
	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/sec"
	"github.com/publichealth/identity/internal/platform/validate"
)

// Demo bootstrap account, seeded when the registry holds no admin at startup.
const (
	SeedAdminEmail    = "admin@publichealth.example"
	SeedAdminPassword = "Admin@1234"
	SeedAdminName     = "Administrator"
)

// pendingTwoFactor is the single outstanding second-factor challenge. One
// slot for the whole process, not per account: initiating a second login
// before completing the first discards the first. Kept in memory only, so a
// restart forces re-authentication past the second factor.
type pendingTwoFactor struct {
	email        string
	otp          string
	createdAtSec int64
}

// LocalAdapter implements [Authenticator] entirely against the user registry
// plus its own session and verification state.
type LocalAdapter struct {
	registry *registry.Registry
	sessions *sessionStore
	verify   *verifyStore
	sender   CodeSender
	logger   *slog.Logger

	// now is the clock. Tests substitute it to probe expiry boundaries.
	now func() int64

	mu      sync.Mutex
	pending *pendingTwoFactor
}

// NewLocalAdapter builds the adapter, resumes any persisted session, and
// seeds the demo admin account when the registry holds no admin.
func NewLocalAdapter(ctx context.Context, reg *registry.Registry, store keyval.Store, sender CodeSender, logger *slog.Logger) (*LocalAdapter, error) {
	sessions, err := newSessionStore(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		sender = NopSender{}
	}

	adapter := &LocalAdapter{
		registry: reg,
		sessions: sessions,
		verify:   newVerifyStore(store, logger),
		sender:   sender,
		logger:   logger,
		now:      validation.NowSeconds,
	}

	if err := adapter.seedAdmin(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// seedAdmin guarantees the registry holds an admin account at process start.
func (adapter *LocalAdapter) seedAdmin(ctx context.Context) error {
	users, err := adapter.registry.List(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		if user.Role == sec.RoleAdmin {
			return nil
		}
	}

	hash, err := sec.HashPassword(SeedAdminPassword)
	if err != nil {
		return fmt.Errorf("auth_seed_hash_failed: %w", err)
	}
	_, err = adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:      SeedAdminEmail,
		Name:       registry.String(SeedAdminName),
		Role:       registry.Role(sec.RoleAdmin),
		Credential: registry.Cred(registry.BcryptCredential(hash)),
		Verified:   registry.Bool(true),
	})
	if err != nil {
		return err
	}

	adapter.logger.Info("auth_admin_seeded", "email", SeedAdminEmail)
	return nil
}

/*
Register creates an unverified account and issues a verification code.

Validation failures (empty or disposable email, short password) return a
VALIDATION_ERROR with field details; an existing account for the normalized
email returns a CONFLICT.

Returns:
  - RegisterResult carrying the email and the verification code; delivery
    to the user is the caller's concern.
*/
func (adapter *LocalAdapter) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	email := validation.NormalizeEmail(input.Email)

	v := &validate.Validator{}
	v.Required("email", email).
		Custom("email", email != "" && validation.IsDisposableDomain(email), "Disposable email domains are not allowed").
		MinLen("password", input.Password, MinPasswordLen)
	if err := v.Err(); err != nil {
		return RegisterResult{}, err
	}

	if _, exists, err := adapter.registry.FindByEmail(ctx, email); err != nil {
		return RegisterResult{}, err
	} else if exists {
		return RegisterResult{}, apperr.Conflict("An account with this email already exists")
	}

	hash, err := sec.HashPassword(input.Password)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("auth_register_hash_failed: %w", err)
	}

	patch := registry.UserPatch{
		Email:      email,
		Credential: registry.Cred(registry.BcryptCredential(hash)),
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		patch.Name = registry.String(name)
	}
	if sec.Normalize(input.Role) == sec.RoleAdmin {
		patch.Role = registry.Role(sec.RoleAdmin)
	}
	if _, err := adapter.registry.Upsert(ctx, patch); err != nil {
		return RegisterResult{}, err
	}

	code := validation.GenerateCode()
	if err := adapter.verify.Put(ctx, email, code, adapter.now()); err != nil {
		return RegisterResult{}, err
	}

	adapter.sender.SendCode(ctx, email, "verification", code)
	adapter.logger.Info("auth_registered", "email", email)
	return RegisterResult{Email: email, Code: code}, nil
}

/*
Login checks primary credentials against the registry.

The gates run in a fixed order: unknown account, disabled account, unverified
account, then the password itself. A 2FA-enabled account that passes every
gate does not get a session yet — a fresh challenge replaces any outstanding
one and the result carries the Challenge branch.
*/
func (adapter *LocalAdapter) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	user, ok, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, apperr.NotFound("Account")
	}
	if user.Disabled {
		return LoginResult{}, apperr.Forbidden("This account has been disabled")
	}
	if !user.Verified {
		return LoginResult{}, apperr.Precondition("Email address is not verified yet")
	}
	if !user.Credential.Matches(input.Password) {
		return LoginResult{}, apperr.Unauthorized("Incorrect email or password")
	}

	if user.TwoFactorEnabled {
		code := validation.GenerateCode()

		adapter.mu.Lock()
		adapter.pending = &pendingTwoFactor{email: user.Email, otp: code, createdAtSec: adapter.now()}
		adapter.mu.Unlock()

		adapter.sender.SendCode(ctx, user.Email, "two-factor", code)
		adapter.logger.Info("auth_two_factor_started", "email", user.Email)
		return LoginResult{Challenge: &TwoFactorChallenge{Email: user.Email, Code: code}}, nil
	}

	session := sessionFor(user)
	if err := adapter.sessions.Establish(ctx, session, input.Remember); err != nil {
		return LoginResult{}, err
	}

	adapter.logger.Info("auth_logged_in", "email", user.Email)
	return LoginResult{Session: &session}, nil
}

// CompleteTwoFactor consumes the pending challenge. An expired challenge is
// cleared as a side effect, so the caller has to log in again.
func (adapter *LocalAdapter) CompleteTwoFactor(ctx context.Context, input TwoFactorInput) (Session, error) {
	email := validation.NormalizeEmail(input.Email)

	adapter.mu.Lock()
	pending := adapter.pending
	adapter.mu.Unlock()

	if pending == nil || pending.email != email {
		return Session{}, apperr.Precondition("No pending two-factor challenge for this account")
	}
	if adapter.now()-pending.createdAtSec > TwoFactorTTLSeconds {
		adapter.clearPending()
		return Session{}, apperr.Expired("The two-factor code has expired, log in again")
	}
	if pending.otp != input.Code {
		return Session{}, apperr.Unauthorized("Incorrect two-factor code")
	}

	user, ok, err := adapter.registry.FindByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, apperr.Precondition("No pending two-factor challenge for this account")
	}

	adapter.clearPending()
	session := sessionFor(user)
	if err := adapter.sessions.Establish(ctx, session, input.Remember); err != nil {
		return Session{}, err
	}

	adapter.logger.Info("auth_two_factor_completed", "email", email)
	return session, nil
}

// ResendTwoFactor replaces the pending challenge with a fresh code for the
// account, whether or not one was outstanding.
func (adapter *LocalAdapter) ResendTwoFactor(ctx context.Context, email string) (ResendResult, error) {
	user, ok, err := adapter.registry.FindByEmail(ctx, email)
	if err != nil {
		return ResendResult{}, err
	}
	if !ok {
		return ResendResult{}, apperr.NotFound("Account")
	}

	code := validation.GenerateCode()

	adapter.mu.Lock()
	adapter.pending = &pendingTwoFactor{email: user.Email, otp: code, createdAtSec: adapter.now()}
	adapter.mu.Unlock()

	adapter.sender.SendCode(ctx, user.Email, "two-factor", code)
	return ResendResult{Email: user.Email, Code: code}, nil
}

// ResendVerification re-issues the verification code. Already-verified
// accounts get the AlreadyVerified flag and no mutation.
func (adapter *LocalAdapter) ResendVerification(ctx context.Context, email string) (ResendResult, error) {
	user, ok, err := adapter.registry.FindByEmail(ctx, email)
	if err != nil {
		return ResendResult{}, err
	}
	if !ok {
		return ResendResult{}, apperr.NotFound("Account")
	}
	if user.Verified {
		return ResendResult{Email: user.Email, AlreadyVerified: true}, nil
	}

	code := validation.GenerateCode()
	if err := adapter.verify.Put(ctx, user.Email, code, adapter.now()); err != nil {
		return ResendResult{}, err
	}

	adapter.sender.SendCode(ctx, user.Email, "verification", code)
	return ResendResult{Email: user.Email, Code: code}, nil
}

/*
VerifyEmail redeems a verification code.

An already-verified account short-circuits idempotently. Otherwise the entry
must exist, the code must match, and no more than VerifyTTLSeconds may have
elapsed. An expired entry is left in place so ResendVerification can replace
it.
*/
func (adapter *LocalAdapter) VerifyEmail(ctx context.Context, input VerifyEmailInput) (VerifyResult, error) {
	user, ok, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{}, apperr.NotFound("Account")
	}
	if user.Verified {
		return VerifyResult{OK: true, AlreadyVerified: true}, nil
	}

	entry, ok, err := adapter.verify.Get(ctx, user.Email)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return VerifyResult{}, apperr.Precondition("No verification code has been issued for this account")
	}
	if entry.Code != input.Code {
		return VerifyResult{}, apperr.Unauthorized("Incorrect verification code")
	}
	if adapter.now()-entry.CreatedAtSec > VerifyTTLSeconds {
		return VerifyResult{}, apperr.Expired("The verification code has expired, request a new one")
	}

	if _, err := adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:    user.Email,
		Verified: registry.Bool(true),
	}); err != nil {
		return VerifyResult{}, err
	}
	if err := adapter.verify.Delete(ctx, user.Email); err != nil {
		return VerifyResult{}, err
	}

	adapter.logger.Info("auth_email_verified", "email", user.Email)
	return VerifyResult{OK: true}, nil
}

// UpdateProfile changes the display name. A blank name falls back to the
// local part of the email. When the profile belongs to the signed-in
// account, the session copy is refreshed so observers see the new name
// without a re-login.
func (adapter *LocalAdapter) UpdateProfile(ctx context.Context, input UpdateProfileInput) error {
	user, ok, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Account")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = validation.LocalPart(user.Email)
	}

	updated, err := adapter.registry.Upsert(ctx, registry.UserPatch{
		Email: user.Email,
		Name:  registry.String(name),
	})
	if err != nil {
		return err
	}

	if session, ok := adapter.sessions.Current(); ok && session.Email == user.Email {
		session.Name = updated.Name
		if err := adapter.sessions.Refresh(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

// ChangePassword rotates the credential. The old password is checked before
// the new one is validated.
func (adapter *LocalAdapter) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	user, ok, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Account")
	}
	if !user.Credential.Matches(input.OldPassword) {
		return apperr.Unauthorized("Current password is incorrect")
	}
	if len(input.NewPassword) < MinPasswordLen {
		return validate.RequiredError("new_password", fmt.Sprintf("Minimum %d characters", MinPasswordLen))
	}

	hash, err := sec.HashPassword(input.NewPassword)
	if err != nil {
		return fmt.Errorf("auth_change_password_hash_failed: %w", err)
	}
	_, err = adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:      user.Email,
		Credential: registry.Cred(registry.BcryptCredential(hash)),
	})
	return err
}

// ToggleTwoFactor sets the second-factor flag unconditionally.
func (adapter *LocalAdapter) ToggleTwoFactor(ctx context.Context, email string, enable bool) error {
	user, ok, err := adapter.registry.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Account")
	}
	_, err = adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:            user.Email,
		TwoFactorEnabled: registry.Bool(enable),
	})
	return err
}

// LoginWithGoogle is not supported by the local adapter.
func (adapter *LocalAdapter) LoginWithGoogle(context.Context) (LoginResult, error) {
	return LoginResult{}, apperr.Configuration(
		"Google sign-in requires the remote identity provider; start the service with USE_REMOTE_AUTH=true")
}

// Logout clears the session. Always succeeds for the caller; a storage
// failure is logged and the in-memory session is gone regardless.
func (adapter *LocalAdapter) Logout(ctx context.Context) error {
	if err := adapter.sessions.Clear(ctx); err != nil {
		adapter.logger.Warn("auth_logout_storage_failed", "error", err)
	}
	return nil
}

// CurrentUser returns the session, if one is established.
func (adapter *LocalAdapter) CurrentUser(context.Context) (Session, bool) {
	return adapter.sessions.Current()
}

// Close removes the durable copy of a non-remembered session.
func (adapter *LocalAdapter) Close(ctx context.Context) error {
	return adapter.sessions.Teardown(ctx)
}

func (adapter *LocalAdapter) clearPending() {
	adapter.mu.Lock()
	adapter.pending = nil
	adapter.mu.Unlock()
}

// sessionFor projects a registry record onto the session shape.
func sessionFor(user registry.UserRecord) Session {
	return Session{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  string(user.Role),
	}
}
