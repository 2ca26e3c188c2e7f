// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

/*
Package auth implements the authentication protocol of the identity
subsystem: registration, credential verification, email-verification codes,
an optional second factor, session persistence, and profile mutation.

# Architecture

Two interchangeable adapters implement the same [Authenticator] contract:

  - [LocalAdapter] checks credentials against the user registry itself.
  - [RemoteAdapter] delegates credential checks to an external identity
    provider and mirrors the resulting identity into the registry.

The rest of the system depends only on [Authenticator]; which adapter backs
it is a startup-time configuration decision (see [Select]). Session state is
persisted through the keyval store so it survives a process restart.

# The second factor is not an error

A login that pauses for a second factor is a successful first step, not a
failure. [LoginResult] is a sum type with exactly one branch populated;
callers must switch on it rather than inspect error values.
*/
package auth

import "context"

// Protocol limits. Expiry is checked lazily at verification/completion time,
// never by a timer.
const (
	// VerifyTTLSeconds is how long an email-verification code stays valid.
	VerifyTTLSeconds = 1800

	// TwoFactorTTLSeconds is how long a second-factor challenge stays valid.
	TwoFactorTTLSeconds = 300

	// MinPasswordLen is the minimum accepted password length.
	MinPasswordLen = 8
)

// Session is the externally visible "current user". At most one exists per
// adapter instance at any time.
type Session struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// TwoFactorChallenge describes an outstanding second-factor step. The code
// is exposed so the delivery channel (mailer) can send it; it is never
// written to an API response body.
type TwoFactorChallenge struct {
	Email string `json:"email"`
	Code  string `json:"-"`
}

// LoginResult is the sum-typed outcome of a successful login call. Exactly
// one branch is populated:
//
//   - Session: primary credentials sufficed, the caller is signed in.
//   - Challenge: primary credentials passed but a second factor is pending.
//   - RedirectURL: federated sign-in could not complete inline; the caller
//     must follow the URL and the session arrives asynchronously.
type LoginResult struct {
	Session     *Session            `json:"session,omitempty"`
	Challenge   *TwoFactorChallenge `json:"challenge,omitempty"`
	RedirectURL string              `json:"redirect_url,omitempty"`
}

// RegisterInput is the input of [Authenticator.Register].
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// RegisterResult reports a created, still-unverified account. Code is the
// verification code; delivery is the caller's concern, so it is carried in
// the result but excluded from serialization.
type RegisterResult struct {
	Email string `json:"email"`
	Code  string `json:"-"`
}

// LoginInput is the input of [Authenticator.Login].
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// TwoFactorInput is the input of [Authenticator.CompleteTwoFactor].
type TwoFactorInput struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Remember bool   `json:"remember"`
}

// VerifyEmailInput is the input of [Authenticator.VerifyEmail].
type VerifyEmailInput struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyResult is the outcome of [Authenticator.VerifyEmail]. Verifying an
// already-verified account is idempotent, reported via AlreadyVerified.
type VerifyResult struct {
	OK              bool `json:"ok"`
	AlreadyVerified bool `json:"already_verified,omitempty"`
}

// ResendResult reports a re-issued code, or that no code was needed because
// the account is already verified.
type ResendResult struct {
	Email           string `json:"email"`
	Code            string `json:"-"`
	AlreadyVerified bool   `json:"already_verified,omitempty"`
}

// UpdateProfileInput is the input of [Authenticator.UpdateProfile].
type UpdateProfileInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ChangePasswordInput is the input of [Authenticator.ChangePassword].
type ChangePasswordInput struct {
	Email       string `json:"email"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Authenticator is the protocol contract shared by both identity adapters.
// Every operation returns errors from the apperr taxonomy; the adapters
// never retry internally and never swallow failures except best-effort
// mirroring and storage corruption.
type Authenticator interface {
	// Register creates an unverified account and issues a verification code.
	Register(ctx context.Context, input RegisterInput) (RegisterResult, error)

	// Login checks primary credentials. See [LoginResult] for the branches.
	Login(ctx context.Context, input LoginInput) (LoginResult, error)

	// CompleteTwoFactor consumes the pending challenge and establishes the
	// session the matching login would have.
	CompleteTwoFactor(ctx context.Context, input TwoFactorInput) (Session, error)

	// ResendTwoFactor replaces the pending challenge with a fresh code.
	ResendTwoFactor(ctx context.Context, email string) (ResendResult, error)

	// ResendVerification re-issues the email-verification code, or reports
	// that the account is already verified.
	ResendVerification(ctx context.Context, email string) (ResendResult, error)

	// VerifyEmail redeems a verification code. Idempotent once verified.
	VerifyEmail(ctx context.Context, input VerifyEmailInput) (VerifyResult, error)

	// UpdateProfile changes the display name, refreshing the session copy
	// when it belongs to the signed-in account.
	UpdateProfile(ctx context.Context, input UpdateProfileInput) error

	// ChangePassword rotates the credential after checking the old one.
	ChangePassword(ctx context.Context, input ChangePasswordInput) error

	// ToggleTwoFactor sets the second-factor flag unconditionally.
	ToggleTwoFactor(ctx context.Context, email string, enable bool) error

	// LoginWithGoogle performs federated sign-in where the adapter supports
	// it, possibly falling back to a redirect flow.
	LoginWithGoogle(ctx context.Context) (LoginResult, error)

	// Logout clears the session. Always succeeds.
	Logout(ctx context.Context) error

	// CurrentUser returns the session, if one is established.
	CurrentUser(ctx context.Context) (Session, bool)

	// Close releases adapter resources at process teardown. A session that
	// was established without "remember" is deleted from durable storage.
	Close(ctx context.Context) error
}

// CodeSender delivers one-time codes out of band. Delivery is fire and
// forget: implementations log failures and never block the protocol.
type CodeSender interface {
	SendCode(ctx context.Context, email, purpose, code string)
}

// NopSender discards codes. Used when no mail transport is configured.
type NopSender struct{}

// SendCode implements [CodeSender] by doing nothing.
func (NopSender) SendCode(context.Context, string, string, string) {}
