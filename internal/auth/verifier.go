// Package auth abstracts the external authentication collaborator. The
// service only needs one capability from it: resolving a bearer token to a
// user identifier. Session management, OAuth, and password flows live in the
// auth provider, not here.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken is returned for absent, malformed, or rejected tokens.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to the authenticated user's identifier.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// HTTPVerifier delegates verification to the auth provider's user endpoint
// (GET {BaseURL}/user with the token as a bearer credential), expecting a
// JSON body carrying the user id.
type HTTPVerifier struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPVerifier constructs an HTTPVerifier with a bounded request timeout.
func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify implements Verifier.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/user", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := v.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth provider: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", ErrInvalidToken
	}

	var body struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("auth provider: %w", err)
	}
	id := body.ID
	if id == "" {
		id = body.UserID
	}
	if id == "" {
		return "", ErrInvalidToken
	}
	return id, nil
}

// StaticVerifier maps fixed tokens to user ids. Intended for development and
// tests only.
type StaticVerifier map[string]string

// Verify implements Verifier.
func (v StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := v[token]; ok && uid != "" {
		return uid, nil
	}
	return "", ErrInvalidToken
}

// ParseStaticTokens parses a "token:user,token:user" list into a
// StaticVerifier. Malformed entries are skipped.
func ParseStaticTokens(spec string) StaticVerifier {
	out := StaticVerifier{}
	for _, pair := range strings.Split(spec, ",") {
		tok, uid, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && tok != "" && uid != "" {
			out[tok] = uid
		}
	}
	return out
}
