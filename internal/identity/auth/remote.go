// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"errors"
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

// RemoteAdapter implements [Authenticator] by delegating credential checks
// to an external identity provider. Each identity the provider vouches for
// is mirrored into the user registry, best effort, so the rest of the
// system reads one uniform record shape whichever adapter is active.
//
// # Mirroring is not authoritative
//
// The mirror never owns the credential or the role: an existing local
// record keeps both when a provider identity lands on the same email.
type RemoteAdapter struct {
	provider Provider
	registry *registry.Registry
	sessions *sessionStore
	logger   *slog.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRemoteAdapter builds the adapter and resumes any persisted session.
// Call [RemoteAdapter.Start] afterwards to pick up redirect results and
// provider-initiated identity changes.
func NewRemoteAdapter(ctx context.Context, provider Provider, reg *registry.Registry, store keyval.Store, logger *slog.Logger) (*RemoteAdapter, error) {
	sessions, err := newSessionStore(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	return &RemoteAdapter{
		provider: provider,
		registry: reg,
		sessions: sessions,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

/*
Start completes the adapter's startup routine:

 1. If a federated sign-in finished by redirect while the process was away,
    its identity is mirrored and a session established now.
 2. A goroutine begins consuming provider-initiated identity events for the
    lifetime of the process, re-mirroring and refreshing the session on
    every occurrence.

Start must be called exactly once, before serving traffic.
*/
func (adapter *RemoteAdapter) Start(ctx context.Context) error {
	user, err := adapter.provider.RedirectResult(ctx)
	if err != nil {
		// A failed redirect completion is logged, not fatal: the process
		// still serves direct sign-ins.
		adapter.logger.Warn("remote_auth_redirect_result_failed", "error", err)
	}
	if user != nil {
		if err := adapter.establishFromProvider(ctx, *user, true); err != nil {
			return err
		}
		adapter.logger.Info("remote_auth_redirect_completed", "email", user.Email)
	}

	adapter.wg.Add(1)
	go adapter.watchIdentityEvents()
	return nil
}

// watchIdentityEvents consumes the provider's event stream until Close.
func (adapter *RemoteAdapter) watchIdentityEvents() {
	defer adapter.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-adapter.done:
			return
		case event, ok := <-adapter.provider.Events():
			if !ok {
				return
			}
			if event.User == nil {
				if err := adapter.sessions.Clear(ctx); err != nil {
					adapter.logger.Warn("remote_auth_event_clear_failed", "error", err)
				}
				adapter.logger.Info("remote_auth_signed_out_by_provider")
				continue
			}
			if err := adapter.establishFromProvider(ctx, *event.User, true); err != nil {
				adapter.logger.Warn("remote_auth_event_refresh_failed", "error", err)
				continue
			}
			adapter.logger.Info("remote_auth_identity_refreshed", "email", event.User.Email)
		}
	}
}

// mirror copies a provider identity into the registry, best effort. An
// existing record keeps its credential and role; a brand new one is created
// with the external credential sentinel.
func (adapter *RemoteAdapter) mirror(ctx context.Context, user ProviderUser) (registry.UserRecord, error) {
	email := validation.NormalizeEmail(user.Email)

	patch := registry.UserPatch{
		ID:       user.ID,
		Email:    email,
		Verified: registry.Bool(user.Verified),
	}
	if name := strings.TrimSpace(user.Name); name != "" {
		patch.Name = registry.String(name)
	}

	if _, exists, err := adapter.registry.FindByEmail(ctx, email); err != nil {
		return registry.UserRecord{}, err
	} else if !exists {
		patch.Credential = registry.Cred(registry.ExternalCredential())
	}

	return adapter.registry.Upsert(ctx, patch)
}

// establishFromProvider mirrors the identity and installs the resulting
// session. Mirroring failure degrades to a session built from the provider
// identity alone; it never blocks sign-in.
func (adapter *RemoteAdapter) establishFromProvider(ctx context.Context, user ProviderUser, remember bool) error {
	session := Session{
		ID:    user.ID,
		Email: validation.NormalizeEmail(user.Email),
		Name:  strings.TrimSpace(user.Name),
		Role:  string(sec.RoleUser),
	}
	if session.Name == "" {
		session.Name = validation.LocalPart(session.Email)
	}

	record, err := adapter.mirror(ctx, user)
	if err != nil {
		adapter.logger.Warn("remote_auth_mirror_failed", "email", session.Email, "error", err)
	} else {
		session.ID = record.ID
		session.Name = record.Name
		session.Role = string(record.Role)
	}

	return adapter.sessions.Establish(ctx, session, remember)
}

// Register delegates account creation to the provider. The provider sends
// its own verification email, so the result carries no local code.
func (adapter *RemoteAdapter) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	email := validation.NormalizeEmail(input.Email)

	v := &validate.Validator{}
	v.Required("email", email).
		Custom("email", email != "" && validation.IsDisposableDomain(email), "Disposable email domains are not allowed").
		MinLen("password", input.Password, MinPasswordLen)
	if err := v.Err(); err != nil {
		return RegisterResult{}, err
	}

	user, err := adapter.provider.SignUp(ctx, email, input.Password, strings.TrimSpace(input.Name))
	if err != nil {
		return RegisterResult{}, translateProviderError(err)
	}

	if err := adapter.provider.SendVerification(ctx, email); err != nil {
		adapter.logger.Warn("remote_auth_send_verification_failed", "email", email, "error", err)
	}
	if _, err := adapter.mirror(ctx, user); err != nil {
		adapter.logger.Warn("remote_auth_mirror_failed", "email", email, "error", err)
	}

	adapter.logger.Info("remote_auth_registered", "email", email)
	return RegisterResult{Email: email}, nil
}

// Login delegates the credential check to the provider. Disabled accounts
// are still gated locally, so an operator's disable action holds even when
// the provider would accept the password.
func (adapter *RemoteAdapter) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	email := validation.NormalizeEmail(input.Email)

	if record, exists, err := adapter.registry.FindByEmail(ctx, email); err != nil {
		return LoginResult{}, err
	} else if exists && record.Disabled {
		return LoginResult{}, apperr.Forbidden("This account has been disabled")
	}

	user, err := adapter.provider.SignIn(ctx, email, input.Password)
	if err != nil {
		return LoginResult{}, translateProviderError(err)
	}

	if err := adapter.establishFromProvider(ctx, user, input.Remember); err != nil {
		return LoginResult{}, err
	}
	session, _ := adapter.sessions.Current()

	adapter.logger.Info("remote_auth_logged_in", "email", email)
	return LoginResult{Session: &session}, nil
}

// CompleteTwoFactor always fails: the provider enforces second factors on
// its own side, so this adapter never issues a local challenge.
func (adapter *RemoteAdapter) CompleteTwoFactor(context.Context, TwoFactorInput) (Session, error) {
	return Session{}, apperr.Precondition("No pending two-factor challenge for this account")
}

// ResendTwoFactor is not available with the remote provider.
func (adapter *RemoteAdapter) ResendTwoFactor(context.Context, string) (ResendResult, error) {
	return ResendResult{}, apperr.Configuration(
		"Two-factor codes are managed by the identity provider; configure multi-factor auth in the provider console")
}

// ResendVerification asks the provider to send its own verification email.
func (adapter *RemoteAdapter) ResendVerification(ctx context.Context, email string) (ResendResult, error) {
	normalized := validation.NormalizeEmail(email)

	if record, exists, err := adapter.registry.FindByEmail(ctx, normalized); err != nil {
		return ResendResult{}, err
	} else if exists && record.Verified {
		return ResendResult{Email: normalized, AlreadyVerified: true}, nil
	}

	if err := adapter.provider.SendVerification(ctx, normalized); err != nil {
		return ResendResult{}, translateProviderError(err)
	}
	return ResendResult{Email: normalized}, nil
}

// VerifyEmail is advisory here: the provider verifies addresses through its
// own emailed link, so this only reconciles the mirrored record.
func (adapter *RemoteAdapter) VerifyEmail(ctx context.Context, input VerifyEmailInput) (VerifyResult, error) {
	record, exists, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return VerifyResult{}, err
	}
	if !exists {
		return VerifyResult{}, apperr.NotFound("Account")
	}
	if record.Verified {
		return VerifyResult{OK: true, AlreadyVerified: true}, nil
	}

	if _, err := adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:    record.Email,
		Verified: registry.Bool(true),
	}); err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{OK: true}, nil
}

// UpdateProfile changes the mirrored display name and refreshes the session
// copy when it belongs to the signed-in account.
func (adapter *RemoteAdapter) UpdateProfile(ctx context.Context, input UpdateProfileInput) error {
	record, exists, err := adapter.registry.FindByEmail(ctx, input.Email)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("Account")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = validation.LocalPart(record.Email)
	}

	updated, err := adapter.registry.Upsert(ctx, registry.UserPatch{
		Email: record.Email,
		Name:  registry.String(name),
	})
	if err != nil {
		return err
	}

	if session, ok := adapter.sessions.Current(); ok && session.Email == record.Email {
		session.Name = updated.Name
		return adapter.sessions.Refresh(ctx, session)
	}
	return nil
}

// ChangePassword rotates the provider-side credential.
func (adapter *RemoteAdapter) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if len(input.NewPassword) < MinPasswordLen {
		return validate.RequiredError("new_password", "Minimum 8 characters")
	}

	email := validation.NormalizeEmail(input.Email)
	if err := adapter.provider.ChangePassword(ctx, email, input.OldPassword, input.NewPassword); err != nil {
		return translateProviderError(err)
	}
	return nil
}

// ToggleTwoFactor records the preference on the mirrored record. Enforcement
// lives at the provider.
func (adapter *RemoteAdapter) ToggleTwoFactor(ctx context.Context, email string, enable bool) error {
	record, exists, err := adapter.registry.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !exists {
		return apperr.NotFound("Account")
	}
	_, err = adapter.registry.Upsert(ctx, registry.UserPatch{
		Email:            record.Email,
		TwoFactorEnabled: registry.Bool(enable),
	})
	return err
}

// LoginWithGoogle performs federated sign-in. When the inline flow cannot
// complete, the result carries the redirect URL instead of a session; the
// eventual session is established by [RemoteAdapter.Start] on the next run.
func (adapter *RemoteAdapter) LoginWithGoogle(ctx context.Context) (LoginResult, error) {
	user, err := adapter.provider.FederatedSignIn(ctx)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && (pe.Code == ProviderPopupBlocked || pe.Code == ProviderPopupClosed) {
			adapter.logger.Info("remote_auth_redirect_fallback", "reason", pe.Code)
			return LoginResult{RedirectURL: adapter.provider.FederatedRedirectURL()}, nil
		}
		return LoginResult{}, translateProviderError(err)
	}

	if err := adapter.establishFromProvider(ctx, user, true); err != nil {
		return LoginResult{}, err
	}
	session, _ := adapter.sessions.Current()

	adapter.logger.Info("remote_auth_google_logged_in", "email", session.Email)
	return LoginResult{Session: &session}, nil
}

// Logout signs out at the provider, best effort, and clears the session.
func (adapter *RemoteAdapter) Logout(ctx context.Context) error {
	if err := adapter.provider.SignOut(ctx); err != nil {
		adapter.logger.Warn("remote_auth_provider_signout_failed", "error", err)
	}
	if err := adapter.sessions.Clear(ctx); err != nil {
		adapter.logger.Warn("remote_auth_logout_storage_failed", "error", err)
	}
	return nil
}

// CurrentUser returns the session, if one is established.
func (adapter *RemoteAdapter) CurrentUser(context.Context) (Session, bool) {
	return adapter.sessions.Current()
}

// Close stops the identity-event watcher and removes the durable copy of a
// non-remembered session.
func (adapter *RemoteAdapter) Close(ctx context.Context) error {
	adapter.stopOnce.Do(func() { close(adapter.done) })
	if err := adapter.provider.Close(); err != nil {
		adapter.logger.Warn("remote_auth_provider_close_failed", "error", err)
	}
	adapter.wg.Wait()
	return adapter.sessions.Teardown(ctx)
}
