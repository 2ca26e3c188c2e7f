// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package registry

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/publichealth/identity/internal/platform/middleware"
	requestutil "github.com/publichealth/identity/internal/platform/request"
	"github.com/publichealth/identity/internal/platform/respond"
	"github.com/publichealth/identity/internal/platform/sec"
	"github.com/publichealth/identity/internal/platform/validate"
)

// Handler implements the administrative user-management HTTP endpoints.
//
// Every route requires the admin role: these are registry operations, not
// self-service account operations (those live under /auth).
type Handler struct {
	registry *Registry
}

// NewHandler constructs a new [Handler].
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes returns a [chi.Router] with the admin user-management routes.
//
// # Endpoints
//   - GET    /                     : Lists all accounts.
//   - DELETE /{id}                 : Removes an account.
//   - POST   /{id}/toggle-disabled : Flips the disabled flag.
//   - PUT    /{id}/role            : Assigns a role.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequireRole(sec.RoleAdmin))

	router.Get("/", handler.list)
	router.Delete("/{id}", handler.remove)
	router.Post("/{id}/toggle-disabled", handler.toggleDisabled)
	router.Put("/{id}/role", handler.setRole)

	return router
}

// userResponse is the client-facing projection of a record. Credential
// material never leaves the service.
type userResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	Disabled         bool   `json:"disabled"`
	Verified         bool   `json:"verified"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	Phone            string `json:"phone,omitempty"`
	External         bool   `json:"external"`
}

func toUserResponse(user UserRecord) userResponse {
	return userResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Role:             string(user.Role),
		Disabled:         user.Disabled,
		Verified:         user.Verified,
		TwoFactorEnabled: user.TwoFactorEnabled,
		Phone:            user.Phone,
		External:         user.Credential.Scheme == SchemeExternal,
	}
}

// list handles GET /api/v1/users requests.
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	users, err := handler.registry.List(request.Context())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	responses := make([]userResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, toUserResponse(user))
	}
	respond.List(writer, responses, len(responses))
}

// remove handles DELETE /api/v1/users/{id} requests.
func (handler *Handler) remove(writer http.ResponseWriter, request *http.Request) {
	id := requestutil.Param(request, "id")
	if id == "" {
		respond.Error(writer, request, validate.RequiredError("id", "is required"))
		return
	}

	if err := handler.registry.Remove(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// toggleDisabled handles POST /api/v1/users/{id}/toggle-disabled requests.
func (handler *Handler) toggleDisabled(writer http.ResponseWriter, request *http.Request) {
	id := requestutil.Param(request, "id")
	if id == "" {
		respond.Error(writer, request, validate.RequiredError("id", "is required"))
		return
	}

	if err := handler.registry.ToggleDisabled(request.Context(), id); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

// setRole handles PUT /api/v1/users/{id}/role requests.
func (handler *Handler) setRole(writer http.ResponseWriter, request *http.Request) {
	id := requestutil.Param(request, "id")
	if id == "" {
		respond.Error(writer, request, validate.RequiredError("id", "is required"))
		return
	}

	var input struct {
		Role string `json:"role"`
	}
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}
	if input.Role == "" {
		respond.Error(writer, request, validate.RequiredError("role", "is required"))
		return
	}

	if err := handler.registry.SetRole(request.Context(), id, sec.UserRole(input.Role)); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}
