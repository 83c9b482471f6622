package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// HTTPMiddleware
// ---------------------------------------------------------------------------

func TestHTTPMiddleware_ValidToken(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{identity: newTestIdentity()}
	middleware := HTTPMiddleware(validator, "test-service")

	var capturedCtx context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	identity, ok := IdentityFromContext(capturedCtx)
	require.True(t, ok, "identity not found in context after middleware")
	assert.Equal(t, "user-42", identity.ID())
}

func TestHTTPMiddleware_MissingAuthHeader(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{identity: newTestIdentity()}
	middleware := HTTPMiddleware(validator, "test-service")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called when auth header is missing")
	})

	handler := middleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHTTPMiddleware_InvalidToken(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{err: errors.New("token expired")}
	middleware := HTTPMiddleware(validator, "test-service")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called when token is invalid")
	})

	handler := middleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHTTPMiddleware_NonBearerAuth(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{identity: newTestIdentity()}
	middleware := HTTPMiddleware(validator, "test-service")

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for non-Bearer auth")
	})

	handler := middleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHTTPMiddleware_WithCallerServiceHeader(t *testing.T) {
	t.Parallel()
	validator := &mockValidator{identity: newTestIdentity()}
	middleware := HTTPMiddleware(validator, "test-service")

	var capturedCtx context.Context
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	})

	handler := middleware(inner)
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	req.Header.Set(HeaderCallerService, "tusk-gui")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	caller, ok := CallerServiceFromContext(capturedCtx)
	require.True(t, ok, "caller service not found in context")
	assert.Equal(t, "tusk-gui", caller)
}
