package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"substitution-marketplace/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ReturnsActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/whoami", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		assert.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"prof-001","role":"PROFESSIONAL"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, "key-123", 5*time.Second)

	actor, err := resolver.Resolve(context.Background(), "session-token")

	require.NoError(t, err)
	assert.Equal(t, "prof-001", actor.ID)
	assert.Equal(t, RoleProfessional, actor.Role)
}

func TestResolve_RejectedTokenIsForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, "", 5*time.Second)

	_, err := resolver.Resolve(context.Background(), "expired-token")

	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))
}

func TestResolve_ProviderErrorIsInfrastructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, "", 5*time.Second)

	_, err := resolver.Resolve(context.Background(), "session-token")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeIdentityFailed))
	assert.False(t, errors.IsBusiness(err))
}

func TestResolve_EmptyActorIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"","role":"CLINIC"}`))
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(srv.URL, "", 5*time.Second)

	_, err := resolver.Resolve(context.Background(), "session-token")

	assert.True(t, errors.IsCode(err, errors.ErrCodeIdentityFailed))
}

func TestStaticResolver(t *testing.T) {
	resolver := Static{Actor: Actor{ID: "clinic-001", Role: RoleClinic}}

	actor, err := resolver.Resolve(context.Background(), "anything")

	require.NoError(t, err)
	assert.Equal(t, "clinic-001", actor.ID)
}
