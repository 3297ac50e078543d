// Package identity resolves the acting party for authorization checks. The
// marketplace core never stores credentials itself; it asks the external
// identity provider who is acting and in which role.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"substitution-marketplace/internal/common/errors"
)

// Role of an acting party.
const (
	RoleProfessional = "PROFESSIONAL"
	RoleClinic       = "CLINIC"
)

// Actor is the resolved acting party.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Resolver supplies the acting party for a request token.
type Resolver interface {
	Resolve(ctx context.Context, accessToken string) (*Actor, error)
}

// HTTPResolver resolves actors against the hosted identity provider.
type HTTPResolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPResolver creates a resolver for the given identity endpoint.
func NewHTTPResolver(baseURL, apiKey string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Resolve looks up the actor behind an access token.
func (r *HTTPResolver) Resolve(ctx context.Context, accessToken string) (*Actor, error) {
	endpoint := fmt.Sprintf("%s/v1/whoami", r.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewIdentityError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if r.apiKey != "" {
		req.Header.Set("X-Api-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewIdentityError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.NewForbiddenError("identity provider rejected the access token")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewIdentityError(fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, body))
	}

	var actor Actor
	if err := json.NewDecoder(resp.Body).Decode(&actor); err != nil {
		return nil, errors.NewIdentityError(err)
	}
	if actor.ID == "" {
		return nil, errors.NewIdentityError(fmt.Errorf("identity provider returned empty actor id"))
	}

	return &actor, nil
}

// Static is a Resolver with a fixed answer, for tests and local tooling.
type Static struct {
	Actor Actor
}

func (s Static) Resolve(_ context.Context, _ string) (*Actor, error) {
	return &s.Actor, nil
}
