// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

/*
Package googleauth implements the remote identity provider against the
Google Identity Toolkit REST API plus the standard OAuth2 authorization-code
flow for federated Google sign-in.

# Two wire surfaces

Password operations (sign-up, sign-in, verification emails, password
rotation) go through the Identity Toolkit accounts endpoints, keyed by the
project API key. Federated sign-in uses golang.org/x/oauth2: the service
has no interactive channel of its own, so the inline flow always reports
itself blocked and the adapter falls back to the redirect URL; the callback
endpoint completes the exchange via [Client.CompleteRedirect], which surfaces
the identity through the event stream.
*/
package googleauth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/publichealth/identity/internal/identity/auth"
)

const (
	defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"
	userinfoURL    = "https://openidconnect.googleapis.com/v1/userinfo"

	requestTimeout = 10 * time.Second
)

// Config carries the provider credentials.
type Config struct {
	// APIKey is the Identity Toolkit project key.
	APIKey string

	// BaseURL overrides the Identity Toolkit endpoint, for tests.
	BaseURL string

	// ClientID, ClientSecret, and CallbackURL configure the OAuth2
	// authorization-code flow for federated sign-in.
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Client talks to the Google identity service. It implements
// [auth.Provider].
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	oauth      *oauth2.Config
	logger     *slog.Logger

	mu      sync.Mutex
	idToken string
	state   string
	events  chan auth.IdentityEvent
	closed  bool
}

// New builds the client. The HTTP client may be nil, in which case a
// timeout-bounded default is used.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		logger: logger,
		events: make(chan auth.IdentityEvent, 8),
	}
}

// toolkitError is the Identity Toolkit failure envelope. The message field
// carries the machine code, optionally followed by prose after " : ".
type toolkitError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// accountInfo is the subset of the accounts response the adapter consumes.
type accountInfo struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	IDToken       string `json:"idToken"`
}

// call posts one accounts action and decodes the response into out.
func (client *Client) call(ctx context.Context, action string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("googleauth_encode_failed: %w", err)
	}

	url := fmt.Sprintf("%s/accounts:%s?key=%s", client.baseURL, action, client.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("googleauth_request_failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("googleauth_call_failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("googleauth_read_failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope toolkitError
		if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Message == "" {
			return &auth.ProviderError{Code: "UNEXPECTED_RESPONSE", Message: resp.Status}
		}
		code, message, _ := strings.Cut(envelope.Error.Message, " : ")
		return &auth.ProviderError{Code: strings.TrimSpace(code), Message: strings.TrimSpace(message)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("googleauth_decode_failed: %w", err)
	}
	return nil
}

func providerUser(info accountInfo) auth.ProviderUser {
	return auth.ProviderUser{
		ID:       info.LocalID,
		Email:    info.Email,
		Name:     info.DisplayName,
		Verified: info.EmailVerified,
	}
}

// SignUp creates the account, then sets the display name when one is given.
func (client *Client) SignUp(ctx context.Context, email, password, name string) (auth.ProviderUser, error) {
	var info accountInfo
	err := client.call(ctx, "signUp", map[string]any{
		"email": email, "password": password, "returnSecureToken": true,
	}, &info)
	if err != nil {
		return auth.ProviderUser{}, err
	}
	client.rememberToken(info.IDToken)

	if name != "" {
		var updated accountInfo
		err := client.call(ctx, "update", map[string]any{
			"idToken": info.IDToken, "displayName": name, "returnSecureToken": false,
		}, &updated)
		if err != nil {
			// The account exists; a failed rename is not worth failing
			// registration over.
			client.logger.Warn("googleauth_set_name_failed", "email", email, "error", err)
		} else {
			info.DisplayName = updated.DisplayName
		}
	}
	return providerUser(info), nil
}

// SignIn checks the password and keeps the session token for follow-up
// account operations.
func (client *Client) SignIn(ctx context.Context, email, password string) (auth.ProviderUser, error) {
	var info accountInfo
	err := client.call(ctx, "signInWithPassword", map[string]any{
		"email": email, "password": password, "returnSecureToken": true,
	}, &info)
	if err != nil {
		return auth.ProviderUser{}, err
	}
	client.rememberToken(info.IDToken)
	return providerUser(info), nil
}

// SendVerification asks the provider to email its verification link. The
// session token is attached when one is held; the provider rejects the call
// otherwise, which the adapter reports as-is.
func (client *Client) SendVerification(ctx context.Context, email string) error {
	payload := map[string]any{"requestType": "VERIFY_EMAIL", "email": email}
	client.mu.Lock()
	if client.idToken != "" {
		payload["idToken"] = client.idToken
	}
	client.mu.Unlock()

	return client.call(ctx, "sendOobCode", payload, nil)
}

// ChangePassword proves the old password by signing in, then rotates it.
func (client *Client) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	var info accountInfo
	err := client.call(ctx, "signInWithPassword", map[string]any{
		"email": email, "password": oldPassword, "returnSecureToken": true,
	}, &info)
	if err != nil {
		return err
	}

	return client.call(ctx, "update", map[string]any{
		"idToken": info.IDToken, "password": newPassword, "returnSecureToken": true,
	}, nil)
}

// FederatedSignIn cannot run inline: the service has no interactive channel
// to host the consent screen. It always reports a blocked flow so the
// adapter falls back to [Client.FederatedRedirectURL].
func (client *Client) FederatedSignIn(context.Context) (auth.ProviderUser, error) {
	return auth.ProviderUser{}, &auth.ProviderError{
		Code:    auth.ProviderPopupBlocked,
		Message: "no interactive channel; use the redirect flow",
	}
}

// FederatedRedirectURL mints the authorization URL with a fresh anti-forgery
// state. Each call invalidates the previous state.
func (client *Client) FederatedRedirectURL() string {
	state := randomState()
	client.mu.Lock()
	client.state = state
	client.mu.Unlock()
	return client.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// CompleteRedirect finishes the authorization-code flow at the callback
// endpoint: it verifies the state, exchanges the code, resolves the Google
// profile, and surfaces the identity through the event stream so the
// adapter refreshes the session.
func (client *Client) CompleteRedirect(ctx context.Context, state, code string) error {
	client.mu.Lock()
	expected := client.state
	client.state = ""
	client.mu.Unlock()

	if expected == "" || state != expected {
		return &auth.ProviderError{Code: auth.ProviderUnauthorizedDomain, Message: "state mismatch"}
	}

	token, err := client.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("googleauth_exchange_failed: %w", err)
	}

	user, err := client.fetchProfile(ctx, token)
	if err != nil {
		return err
	}

	client.emit(auth.IdentityEvent{User: &user})
	client.logger.Info("googleauth_redirect_completed", "email", user.Email)
	return nil
}

// fetchProfile resolves the signed-in Google profile via the userinfo
// endpoint.
func (client *Client) fetchProfile(ctx context.Context, token *oauth2.Token) (auth.ProviderUser, error) {
	httpClient := client.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return auth.ProviderUser{}, fmt.Errorf("googleauth_userinfo_request_failed: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return auth.ProviderUser{}, fmt.Errorf("googleauth_userinfo_failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return auth.ProviderUser{}, &auth.ProviderError{Code: "UNEXPECTED_RESPONSE", Message: resp.Status}
	}

	var profile struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return auth.ProviderUser{}, fmt.Errorf("googleauth_userinfo_decode_failed: %w", err)
	}

	return auth.ProviderUser{
		ID:       profile.Sub,
		Email:    profile.Email,
		Name:     profile.Name,
		Verified: profile.EmailVerified,
	}, nil
}

// RedirectResult reports nothing at startup: redirect completions arrive
// through [Client.CompleteRedirect] and the event stream while the process
// runs, never across a restart.
func (client *Client) RedirectResult(context.Context) (*auth.ProviderUser, error) {
	return nil, nil
}

// SignOut drops the held session token and announces the sign-out.
func (client *Client) SignOut(context.Context) error {
	client.rememberToken("")
	client.emit(auth.IdentityEvent{})
	return nil
}

// Events streams provider-initiated identity changes.
func (client *Client) Events() <-chan auth.IdentityEvent { return client.events }

// Close stops the event stream. Safe to call once.
func (client *Client) Close() error {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return nil
	}
	client.closed = true
	close(client.events)
	return nil
}

func (client *Client) rememberToken(token string) {
	client.mu.Lock()
	client.idToken = token
	client.mu.Unlock()
}

// emit delivers an event without blocking; a full buffer drops the event,
// the adapter reconciles on the next direct call.
func (client *Client) emit(event auth.IdentityEvent) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	select {
	case client.events <- event:
	default:
		client.logger.Warn("googleauth_event_dropped")
	}
}

func randomState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("googleauth: failed to generate state: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
