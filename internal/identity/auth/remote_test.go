// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/identity/registry"
	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/keyval"
	"github.com/publichealth/identity/internal/platform/sec"
)

// fakeProvider scripts the remote identity service for tests.
type fakeProvider struct {
	mu sync.Mutex

	signInUser ProviderUser
	signInErr  error
	signUpUser ProviderUser
	signUpErr  error

	federatedUser ProviderUser
	federatedErr  error
	redirectURL   string
	redirectUser  *ProviderUser

	verificationsSentTo []string
	signOutCalls        int

	events chan IdentityEvent
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		redirectURL: "https://provider.example/redirect",
		events:      make(chan IdentityEvent, 4),
	}
}

func (p *fakeProvider) SignUp(_ context.Context, email, _, name string) (ProviderUser, error) {
	if p.signUpErr != nil {
		return ProviderUser{}, p.signUpErr
	}
	if p.signUpUser.ID != "" {
		return p.signUpUser, nil
	}
	return ProviderUser{ID: "prov-" + email, Email: email, Name: name}, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (ProviderUser, error) {
	if p.signInErr != nil {
		return ProviderUser{}, p.signInErr
	}
	if p.signInUser.ID != "" {
		return p.signInUser, nil
	}
	return ProviderUser{ID: "prov-" + email, Email: email, Verified: true}, nil
}

func (p *fakeProvider) SendVerification(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verificationsSentTo = append(p.verificationsSentTo, email)
	return nil
}

func (p *fakeProvider) ChangePassword(_ context.Context, _, _, _ string) error { return nil }

func (p *fakeProvider) FederatedSignIn(context.Context) (ProviderUser, error) {
	if p.federatedErr != nil {
		return ProviderUser{}, p.federatedErr
	}
	return p.federatedUser, nil
}

func (p *fakeProvider) FederatedRedirectURL() string { return p.redirectURL }

func (p *fakeProvider) RedirectResult(context.Context) (*ProviderUser, error) {
	return p.redirectUser, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	return nil
}

func (p *fakeProvider) Events() <-chan IdentityEvent { return p.events }

func (p *fakeProvider) Close() error {
	close(p.events)
	return nil
}

func newTestRemoteAdapter(t *testing.T, provider *fakeProvider) (*RemoteAdapter, *registry.Registry) {
	t.Helper()
	store := keyval.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(store, logger)

	adapter, err := NewRemoteAdapter(context.Background(), provider, reg, store, logger)
	require.NoError(t, err)
	return adapter, reg
}

func TestRemoteAdapter_Login_MirrorsIntoRegistry(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, reg := newTestRemoteAdapter(t, provider)

	result, err := adapter.Login(ctx, LoginInput{Email: "Remote@Example.com", Password: "whatever"})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Equal(t, "remote@example.com", result.Session.Email)

	// The provider identity landed in the registry with the external
	// credential sentinel.
	record, ok, err := reg.FindByEmail(ctx, "remote@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.SchemeExternal, record.Credential.Scheme)
	assert.True(t, record.Verified)
	assert.False(t, record.Credential.Matches("whatever"))
}

func TestRemoteAdapter_Login_MirrorKeepsLocalCredentialAndRole(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, reg := newTestRemoteAdapter(t, provider)

	// An account that already exists locally, as admin, with a password.
	_, err := reg.Upsert(ctx, registry.UserPatch{
		Email:      "both@example.com",
		Role:       registry.Role(sec.RoleAdmin),
		Credential: registry.Cred(registry.BcryptCredential("$2a$10$local")),
		Verified:   registry.Bool(true),
	})
	require.NoError(t, err)

	result, err := adapter.Login(ctx, LoginInput{Email: "both@example.com", Password: "whatever"})
	require.NoError(t, err)

	// Mirroring is not authoritative for credential or role.
	record, ok, err := reg.FindByEmail(ctx, "both@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.SchemeBcrypt, record.Credential.Scheme)
	assert.Equal(t, "$2a$10$local", record.Credential.Hash)
	assert.Equal(t, sec.RoleAdmin, record.Role)
	assert.Equal(t, string(sec.RoleAdmin), result.Session.Role)
}

func TestRemoteAdapter_Login_LocalDisableGates(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, reg := newTestRemoteAdapter(t, provider)

	created, err := reg.Upsert(ctx, registry.UserPatch{
		Email:      "blocked@example.com",
		Credential: registry.Cred(registry.ExternalCredential()),
	})
	require.NoError(t, err)
	require.NoError(t, reg.ToggleDisabled(ctx, created.ID))

	// The provider would accept the password; the local disable flag wins.
	_, err = adapter.Login(ctx, LoginInput{Email: "blocked@example.com", Password: "whatever"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeForbidden))
}

func TestRemoteAdapter_ErrorTranslation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		providerCode string
		wantCode     string
	}{
		{ProviderEmailNotFound, apperr.CodeNotFound},
		{ProviderInvalidPassword, apperr.CodeUnauthorized},
		{ProviderInvalidCredentials, apperr.CodeUnauthorized},
		{ProviderUserDisabled, apperr.CodeForbidden},
		{ProviderTooManyAttempts, apperr.CodeRateLimited},
		{ProviderOperationNotAllowed, apperr.CodeConfiguration},
		{"SOMETHING_NEW", apperr.CodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.providerCode, func(t *testing.T) {
			provider := newFakeProvider()
			provider.signInErr = &ProviderError{Code: tc.providerCode}
			adapter, _ := newTestRemoteAdapter(t, provider)

			_, err := adapter.Login(ctx, LoginInput{Email: "x@example.com", Password: "pw"})
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, tc.wantCode), "got %v", err)
		})
	}
}

func TestRemoteAdapter_Register(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, reg := newTestRemoteAdapter(t, provider)

	// 1. Input validation stays local; the provider is never reached.
	_, err := adapter.Register(ctx, RegisterInput{Email: "x@example.com", Password: "short"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))

	// 2. A successful sign-up mirrors the account and asks the provider to
	// send its own verification email; no local code is issued.
	result, err := adapter.Register(ctx, RegisterInput{Name: "Remi", Email: "remi@example.com", Password: "Secret123"})
	require.NoError(t, err)
	assert.Equal(t, "remi@example.com", result.Email)
	assert.Empty(t, result.Code)
	assert.Contains(t, provider.verificationsSentTo, "remi@example.com")

	_, ok, err := reg.FindByEmail(ctx, "remi@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// 3. Provider-side duplicates translate to a conflict.
	provider.signUpErr = &ProviderError{Code: ProviderEmailExists}
	_, err = adapter.Register(ctx, RegisterInput{Email: "remi@example.com", Password: "Secret123"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestRemoteAdapter_LoginWithGoogle_RedirectFallback(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.federatedErr = &ProviderError{Code: ProviderPopupBlocked}
	adapter, _ := newTestRemoteAdapter(t, provider)

	// A blocked popup is not an error: the caller gets the redirect URL and
	// no session yet.
	result, err := adapter.LoginWithGoogle(ctx)
	require.NoError(t, err)
	assert.Nil(t, result.Session)
	assert.Equal(t, "https://provider.example/redirect", result.RedirectURL)
	_, ok := adapter.CurrentUser(ctx)
	assert.False(t, ok)

	// An unauthorized domain, by contrast, is a configuration failure.
	provider.federatedErr = &ProviderError{Code: ProviderUnauthorizedDomain}
	_, err = adapter.LoginWithGoogle(ctx)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
}

func TestRemoteAdapter_Start_CompletesRedirect(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.redirectUser = &ProviderUser{ID: "prov-redir", Email: "redir@example.com", Verified: true}
	adapter, reg := newTestRemoteAdapter(t, provider)

	require.NoError(t, adapter.Start(ctx))
	t.Cleanup(func() { _ = adapter.Close(ctx) })

	session, ok := adapter.CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, "redir@example.com", session.Email)

	_, ok, err := reg.FindByEmail(ctx, "redir@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoteAdapter_IdentityEvents(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, reg := newTestRemoteAdapter(t, provider)

	require.NoError(t, adapter.Start(ctx))
	t.Cleanup(func() { _ = adapter.Close(ctx) })

	// 1. A provider-initiated sign-in re-mirrors and installs a session.
	provider.events <- IdentityEvent{User: &ProviderUser{ID: "prov-ev", Email: "event@example.com", Verified: true}}
	require.Eventually(t, func() bool {
		session, ok := adapter.CurrentUser(ctx)
		return ok && session.Email == "event@example.com"
	}, time.Second, 5*time.Millisecond)

	_, ok, err := reg.FindByEmail(ctx, "event@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	// 2. A provider-initiated sign-out clears the session.
	provider.events <- IdentityEvent{}
	require.Eventually(t, func() bool {
		_, ok := adapter.CurrentUser(ctx)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteAdapter_TwoFactorDelegatedToProvider(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, _ := newTestRemoteAdapter(t, provider)

	_, err := adapter.CompleteTwoFactor(ctx, TwoFactorInput{Email: "x@example.com", Code: "123456"})
	assert.True(t, apperr.HasCode(err, apperr.CodePrecondition))

	_, err = adapter.ResendTwoFactor(ctx, "x@example.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeConfiguration))
}

func TestRemoteAdapter_Logout(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	adapter, _ := newTestRemoteAdapter(t, provider)

	_, err := adapter.Login(ctx, LoginInput{Email: "out@example.com", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, adapter.Logout(ctx))
	_, ok := adapter.CurrentUser(ctx)
	assert.False(t, ok)
	assert.Equal(t, 1, provider.signOutCalls)
}
