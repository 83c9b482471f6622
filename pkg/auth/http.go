package auth

import (
	"net/http"
	"strings"
)

// HeaderAuthorization is the standard HTTP header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// HeaderCallerService identifies, for logging purposes, the client that
// issued an admin API request (e.g. "tusk-gui", "tuskctl").
const HeaderCallerService = "X-Tusk-Caller-Service"

const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Returns an empty string if the header is empty or does not
// use the Bearer scheme.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
}

// HTTPMiddleware returns an HTTP middleware that extracts and validates
// identity from incoming request headers.
//
// The middleware performs the following steps:
//  1. Extracts the "Authorization" header (bearer token)
//  2. Validates the token using the provided [TokenValidator]
//  3. Stores the resulting [Identity] in the request context
//  4. Records the caller-service header, if present, for audit logging
//  5. Passes the enriched request to the next handler
//
// If no Authorization header is present or the token is invalid, the
// middleware responds with HTTP 401 Unauthorized.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/v1/pools", handlePools)
//	handler := auth.HTTPMiddleware(validator, "tuskd")(mux)
//	http.ListenAndServe("127.0.0.1:7080", handler)
func HTTPMiddleware(validator TokenValidator, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(HeaderAuthorization)
			token := ExtractBearerToken(authHeader)
			if token == "" {
				http.Error(w, "missing or invalid authorization header", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			identity, err := validator.Validate(ctx, token)
			if err != nil {
				http.Error(w, "token validation failed", http.StatusUnauthorized)
				return
			}

			ctx = ContextWithIdentity(ctx, identity)
			if caller := r.Header.Get(HeaderCallerService); caller != "" {
				ctx = ContextWithCallerService(ctx, caller)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
