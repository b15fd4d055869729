// Package auth validates Supabase bearer tokens for the authenticated
// endpoints. The service does not issue tokens itself; Supabase Auth owns
// the identity, and this package only resolves an access token to the user
// it belongs to.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnauthorized is returned for absent, malformed, or expired tokens.
// Handlers map it to 401 without leaking detail to the client.
var ErrUnauthorized = errors.New("auth: unauthorized")

// defaultTimeout is the HTTP client timeout for auth lookups.
const defaultTimeout = 15 * time.Second

// User is the authenticated identity behind a bearer token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier resolves bearer tokens against the Supabase auth API.
type Verifier struct {
	httpClient *http.Client
	baseURL    string // {SUPABASE_URL}/auth/v1
	anonKey    string
}

// NewVerifier creates a token verifier for the given Supabase project.
// The key is sent as the apikey header; the user's own token authorizes
// the lookup.
func NewVerifier(supabaseURL, apiKey string) *Verifier {
	return &Verifier{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    supabaseURL + "/auth/v1",
		anonKey:    apiKey,
	}
}

// GetUser resolves a bearer token to its user. Invalid tokens return
// ErrUnauthorized; transport failures return a wrapped error that handlers
// surface as 500.
func (v *Verifier) GetUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", v.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		log.Debug().Int("statusCode", resp.StatusCode).Msg("Bearer token rejected")
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("auth lookup returned status %d", resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parse auth response: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}
	return &user, nil
}
