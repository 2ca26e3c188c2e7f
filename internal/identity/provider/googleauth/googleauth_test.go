// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/publichealth/identity/internal/identity/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := New(Config{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		ClientID:    "client-id",
		CallbackURL: "https://service.example/callback",
	}, server.Client(), logger)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_SignIn(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts:signInWithPassword", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ada@example.com", payload["email"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"localId": "uid-1", "email": "ada@example.com",
			"displayName": "Ada", "emailVerified": true, "idToken": "tok-1",
		})
	})

	user, err := client.SignIn(ctx, "ada@example.com", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderUser{ID: "uid-1", Email: "ada@example.com", Name: "Ada", Verified: true}, user)
}

func TestClient_SignIn_ErrorEnvelope(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"EMAIL_NOT_FOUND : no account for this identifier"}}`))
	})

	_, err := client.SignIn(ctx, "ghost@example.com", "pw")
	require.Error(t, err)

	var pe *auth.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, auth.ProviderEmailNotFound, pe.Code)
	assert.Contains(t, pe.Message, "no account")
}

func TestClient_SignUp_SetsDisplayName(t *testing.T) {
	ctx := context.Background()
	var actions []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		actions = append(actions, r.URL.Path)
		switch r.URL.Path {
		case "/accounts:signUp":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-2", "email": "new@example.com", "idToken": "tok-2",
			})
		case "/accounts:update":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "tok-2", payload["idToken"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-2", "email": "new@example.com", "displayName": "Newbie",
			})
		default:
			t.Fatalf("unexpected action %s", r.URL.Path)
		}
	})

	user, err := client.SignUp(ctx, "new@example.com", "Secret123", "Newbie")
	require.NoError(t, err)
	assert.Equal(t, "Newbie", user.Name)
	assert.Equal(t, []string{"/accounts:signUp", "/accounts:update"}, actions)
}

func TestClient_SendVerification_AttachesHeldToken(t *testing.T) {
	ctx := context.Background()
	var sawToken string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts:signInWithPassword":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"localId": "uid-3", "email": "v@example.com", "idToken": "tok-3",
			})
		case "/accounts:sendOobCode":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "VERIFY_EMAIL", payload["requestType"])
			sawToken, _ = payload["idToken"].(string)
			_, _ = w.Write([]byte(`{}`))
		}
	})

	_, err := client.SignIn(ctx, "v@example.com", "Secret123")
	require.NoError(t, err)
	require.NoError(t, client.SendVerification(ctx, "v@example.com"))
	assert.Equal(t, "tok-3", sawToken)
}

func TestClient_FederatedFlow(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	// 1. The inline flow always defers to the redirect.
	_, err := client.FederatedSignIn(ctx)
	var pe *auth.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, auth.ProviderPopupBlocked, pe.Code)

	// 2. The redirect URL carries the client id and a fresh state.
	url := client.FederatedRedirectURL()
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "state=")

	// 3. A forged state is rejected before any exchange happens.
	err = client.CompleteRedirect(ctx, "forged", "code")
	require.Error(t, err)
	require.True(t, errors.As(err, &pe))
}

func TestClient_SignOut_EmitsEvent(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, client.SignOut(ctx))
	event := <-client.Events()
	assert.Nil(t, event.User)
}
