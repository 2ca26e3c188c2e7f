// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package auth

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/publichealth/identity/internal/platform/apperr"
	"github.com/publichealth/identity/internal/platform/constants"
	"github.com/publichealth/identity/internal/platform/middleware"
	requestutil "github.com/publichealth/identity/internal/platform/request"
	"github.com/publichealth/identity/internal/platform/respond"
	"github.com/publichealth/identity/internal/platform/sec"
	"github.com/publichealth/identity/internal/platform/validate"
)

// RedirectCompleter finishes a federated sign-in at the OAuth callback. Only
// the remote provider supplies one; the local deployment leaves it nil.
type RedirectCompleter interface {
	CompleteRedirect(ctx context.Context, state, code string) error
}

// Handler implements the authentication HTTP endpoints.
//
// # Scope
//
// This handler manages the full account lifecycle entry points: registration,
// verification, login with an optional second factor, federated sign-in,
// and the signed-in account's self-service operations.
type Handler struct {
	auth     Authenticator
	tokens   *sec.TokenService
	redirect RedirectCompleter
}

// NewHandler constructs a new [Handler]. redirect may be nil when the local
// adapter is active.
func NewHandler(auth Authenticator, tokens *sec.TokenService, redirect RedirectCompleter) *Handler {
	return &Handler{auth: auth, tokens: tokens, redirect: redirect}
}

// Routes returns a [chi.Router] configured with the authentication routes.
//
// # Endpoints
//   - POST /register            : Creates an unverified account.
//   - POST /verify              : Redeems an email-verification code.
//   - POST /verify/resend       : Re-issues the verification code.
//   - POST /login               : Checks credentials; may pause for a second factor.
//   - POST /two-factor/complete : Finishes a pending second-factor challenge.
//   - POST /two-factor/resend   : Re-issues the second-factor code.
//   - POST /google              : Federated sign-in (session or redirect URL).
//   - GET  /google/callback     : OAuth redirect completion.
//   - GET  /me                  : The current session.
//   - POST /logout              : Clears the session.
//   - PATCH /profile            : Updates the display name (authenticated).
//   - POST /password            : Rotates the password (authenticated).
//   - POST /two-factor/toggle   : Enables/disables the second factor (authenticated).
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/register", handler.register)
	router.Post("/verify", handler.verifyEmail)
	router.Post("/verify/resend", handler.resendVerification)
	router.Post("/login", handler.login)
	router.Post("/two-factor/complete", handler.completeTwoFactor)
	router.Post("/two-factor/resend", handler.resendTwoFactor)
	router.Post("/google", handler.loginWithGoogle)
	router.Get("/google/callback", handler.googleCallback)
	router.Get("/me", handler.currentUser)
	router.Post("/logout", handler.logout)

	router.Group(func(authenticated chi.Router) {
		authenticated.Use(middleware.RequireAuth)
		authenticated.Patch("/profile", handler.updateProfile)
		authenticated.Post("/password", handler.changePassword)
		authenticated.Post("/two-factor/toggle", handler.toggleTwoFactor)
	})

	return router
}

// sessionPayload is the response shape for every endpoint that establishes
// a session: the session itself plus a bearer token for the API.
func (handler *Handler) sessionPayload(writer http.ResponseWriter, request *http.Request, session Session) (map[string]any, bool) {
	token, err := handler.tokens.GenerateAccessToken(session.ID, session.Email, session.Role, constants.AccessTokenTTL)
	if err != nil {
		respond.Error(writer, request, err)
		return nil, false
	}
	return map[string]any{
		"session":      session,
		"access_token": token,
	}, true
}

// register handles POST /api/v1/auth/register requests.
//
// # Returns
//   - Writes HTTP 201 Created with the normalized email.
//   - Writes HTTP 400 Bad Request if validation rules fail.
//   - Writes HTTP 409 Conflict if the email is taken.
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input RegisterInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	// Fast-fail check; the adapter runs the full validator chain.
	if input.Email == "" {
		respond.Error(writer, request, validate.RequiredError("email", "is required"))
		return
	}

	// ── 3. Application Execution ──────────────────────────────────────────

	result, err := handler.auth.Register(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 4. Presentation Output ────────────────────────────────────────────

	// The verification code travels by mail, never in the response body.
	respond.Created(writer, result)
}

// verifyEmail handles POST /api/v1/auth/verify requests.
func (handler *Handler) verifyEmail(writer http.ResponseWriter, request *http.Request) {
	var input VerifyEmailInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Email == "" || input.Code == "" {
		respond.Error(writer, request, validate.RequiredError("email/code", "are required"))
		return
	}

	result, err := handler.auth.VerifyEmail(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

// resendVerification handles POST /api/v1/auth/verify/resend requests.
func (handler *Handler) resendVerification(writer http.ResponseWriter, request *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Email == "" {
		respond.Error(writer, request, validate.RequiredError("email", "is required"))
		return
	}

	result, err := handler.auth.ResendVerification(request.Context(), input.Email)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

// login handles POST /api/v1/auth/login requests.
//
// # Returns
//   - Writes HTTP 200 OK with a session and access token when the primary
//     credentials suffice.
//   - Writes HTTP 200 OK with a challenge object when a second factor is
//     pending. This is not an error: the client routes to the challenge step.
//   - Writes HTTP 401/403/404/412 for the respective login gates.
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	// ── 1. Payload Extraction ─────────────────────────────────────────────

	var input LoginInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 2. Boundary Validation ────────────────────────────────────────────

	if input.Email == "" || input.Password == "" {
		respond.Error(writer, request, validate.RequiredError("email/password", "are required"))
		return
	}

	// ── 3. Application Execution ──────────────────────────────────────────

	result, err := handler.auth.Login(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	// ── 4. Presentation Output ────────────────────────────────────────────

	if result.Challenge != nil {
		respond.OK(writer, map[string]any{"challenge": result.Challenge})
		return
	}

	payload, ok := handler.sessionPayload(writer, request, *result.Session)
	if !ok {
		return
	}
	respond.OK(writer, payload)
}

// completeTwoFactor handles POST /api/v1/auth/two-factor/complete requests.
func (handler *Handler) completeTwoFactor(writer http.ResponseWriter, request *http.Request) {
	var input TwoFactorInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Email == "" || input.Code == "" {
		respond.Error(writer, request, validate.RequiredError("email/code", "are required"))
		return
	}

	session, err := handler.auth.CompleteTwoFactor(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	payload, ok := handler.sessionPayload(writer, request, session)
	if !ok {
		return
	}
	respond.OK(writer, payload)
}

// resendTwoFactor handles POST /api/v1/auth/two-factor/resend requests.
func (handler *Handler) resendTwoFactor(writer http.ResponseWriter, request *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Email == "" {
		respond.Error(writer, request, validate.RequiredError("email", "is required"))
		return
	}

	result, err := handler.auth.ResendTwoFactor(request.Context(), input.Email)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, result)
}

// loginWithGoogle handles POST /api/v1/auth/google requests.
//
// # Returns
//   - Writes HTTP 200 OK with a session when the inline flow completed.
//   - Writes HTTP 200 OK with a redirect_url when the client must follow
//     the authorization-code flow instead.
//   - Writes HTTP 503 with guidance when federated sign-in is not configured.
func (handler *Handler) loginWithGoogle(writer http.ResponseWriter, request *http.Request) {
	result, err := handler.auth.LoginWithGoogle(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if result.RedirectURL != "" {
		respond.OK(writer, map[string]any{"redirect_url": result.RedirectURL})
		return
	}

	payload, ok := handler.sessionPayload(writer, request, *result.Session)
	if !ok {
		return
	}
	respond.OK(writer, payload)
}

// googleCallback handles GET /api/v1/auth/google/callback requests: the
// OAuth provider redirects here with state and code query parameters.
func (handler *Handler) googleCallback(writer http.ResponseWriter, request *http.Request) {
	if handler.redirect == nil {
		respond.Error(writer, request, apperr.Configuration(
			"Federated sign-in requires the remote identity provider; start the service with USE_REMOTE_AUTH=true"))
		return
	}

	state := request.URL.Query().Get("state")
	code := request.URL.Query().Get("code")
	if state == "" || code == "" {
		respond.Error(writer, request, validate.RequiredError("state/code", "are required"))
		return
	}

	if err := handler.redirect.CompleteRedirect(request.Context(), state, code); err != nil {
		respond.Error(writer, request, err)
		return
	}

	// The session arrives through the identity-event stream; the SPA polls
	// /me after landing back here.
	respond.OK(writer, map[string]string{"status": "completed"})
}

// currentUser handles GET /api/v1/auth/me requests.
func (handler *Handler) currentUser(writer http.ResponseWriter, request *http.Request) {
	session, ok := handler.auth.CurrentUser(request.Context())
	if !ok {
		respond.OK(writer, nil)
		return
	}
	respond.OK(writer, session)
}

// logout handles POST /api/v1/auth/logout requests.
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if err := handler.auth.Logout(request.Context()); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// updateProfile handles PATCH /api/v1/auth/profile requests. The target
// account is the authenticated one; the body only carries the new name.
func (handler *Handler) updateProfile(writer http.ResponseWriter, request *http.Request) {
	email, err := requestutil.RequiredEmail(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input struct {
		Name string `json:"name"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.auth.UpdateProfile(request.Context(), UpdateProfileInput{Email: email, Name: input.Name}); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// changePassword handles POST /api/v1/auth/password requests.
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	email, err := requestutil.RequiredEmail(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.OldPassword == "" || input.NewPassword == "" {
		respond.Error(writer, request, validate.RequiredError("old_password/new_password", "are required"))
		return
	}

	err = handler.auth.ChangePassword(request.Context(), ChangePasswordInput{
		Email:       email,
		OldPassword: input.OldPassword,
		NewPassword: input.NewPassword,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// toggleTwoFactor handles POST /api/v1/auth/two-factor/toggle requests.
func (handler *Handler) toggleTwoFactor(writer http.ResponseWriter, request *http.Request) {
	email, err := requestutil.RequiredEmail(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input struct {
		Enable bool `json:"enable"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.auth.ToggleTwoFactor(request.Context(), email, input.Enable); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
