// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/publichealth/identity/internal/platform/apperr"
)

// ProviderUser is the identity the remote provider vouches for.
type ProviderUser struct {
	ID       string
	Email    string
	Name     string
	Verified bool
}

// IdentityEvent is a provider-initiated identity change: a sign-in or
// sign-out that happened outside direct calls to the adapter (token refresh,
// redirect completion). A nil User means signed out.
type IdentityEvent struct {
	User *ProviderUser
}

// Provider is the remote identity service the [RemoteAdapter] delegates to.
// Implementations translate their wire errors into [*ProviderError] so the
// adapter can map them onto the apperr taxonomy.
type Provider interface {
	// SignUp creates an account at the provider.
	SignUp(ctx context.Context, email, password, name string) (ProviderUser, error)

	// SignIn checks primary credentials at the provider.
	SignIn(ctx context.Context, email, password string) (ProviderUser, error)

	// SendVerification asks the provider to email its own verification link.
	SendVerification(ctx context.Context, email string) error

	// ChangePassword rotates the provider-side credential.
	ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error

	// FederatedSignIn runs the interactive Google flow inline.
	FederatedSignIn(ctx context.Context) (ProviderUser, error)

	// FederatedRedirectURL is the fallback when the inline flow cannot
	// complete; the caller follows it and the result arrives via
	// RedirectResult on the next startup.
	FederatedRedirectURL() string

	// RedirectResult reports a federated sign-in completed by redirect, or
	// nil when none is pending.
	RedirectResult(ctx context.Context) (*ProviderUser, error)

	// SignOut invalidates the provider-side session.
	SignOut(ctx context.Context) error

	// Events streams provider-initiated identity changes for the lifetime
	// of the process. The channel is closed by Close.
	Events() <-chan IdentityEvent

	// Close stops the event stream and releases resources.
	Close() error
}

// Provider error codes, shared vocabulary between provider implementations
// and the adapter's translation table.
const (
	ProviderEmailExists         = "EMAIL_EXISTS"
	ProviderEmailNotFound       = "EMAIL_NOT_FOUND"
	ProviderInvalidPassword     = "INVALID_PASSWORD"
	ProviderInvalidCredentials  = "INVALID_LOGIN_CREDENTIALS"
	ProviderUserDisabled        = "USER_DISABLED"
	ProviderTooManyAttempts     = "TOO_MANY_ATTEMPTS_TRY_LATER"
	ProviderOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	ProviderUnauthorizedDomain  = "UNAUTHORIZED_DOMAIN"
	ProviderWeakPassword        = "WEAK_PASSWORD"
	ProviderPopupBlocked        = "POPUP_BLOCKED"
	ProviderPopupClosed         = "POPUP_CLOSED_BY_USER"
)

// ProviderError is a structured failure from the remote provider.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// translateProviderError maps provider failures onto the same taxonomy the
// local adapter uses, so callers never learn which adapter is active.
// Configuration problems carry actionable guidance for the operator.
func translateProviderError(err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return apperr.Internal(err)
	}

	switch pe.Code {
	case ProviderEmailExists:
		return apperr.Conflict("An account with this email already exists")
	case ProviderEmailNotFound:
		return apperr.NotFound("Account")
	case ProviderInvalidPassword, ProviderInvalidCredentials:
		return apperr.Unauthorized("Incorrect email or password")
	case ProviderUserDisabled:
		return apperr.Forbidden("This account has been disabled")
	case ProviderTooManyAttempts:
		return apperr.RateLimited(60)
	case ProviderWeakPassword:
		return apperr.ValidationError("Password is too weak")
	case ProviderOperationNotAllowed:
		return apperr.Configuration(
			"Password sign-in is disabled at the identity provider; enable the Email/Password method in the provider console")
	case ProviderUnauthorizedDomain:
		return apperr.Configuration(
			"This host is not an authorized domain at the identity provider; add it to the authorized domains list")
	default:
		return apperr.Internal(pe)
	}
}
