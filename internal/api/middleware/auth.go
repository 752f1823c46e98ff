// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strings"
)

// Authenticator decides whether a request carries valid credentials, and
// whether a bare token (as received in a WebSocket auth frame, which has no
// request headers of its own) is valid. New since the teacher carries no
// auth middleware of its own; shaped in *style* on Logging/Recovery's plain
// functional-middleware pattern.
type Authenticator interface {
	Authenticate(r *http.Request) bool
	AuthenticateToken(token string) bool
}

// TokenAuthenticator is a single-shared-secret Authenticator: a request is
// authenticated if it carries the configured bearer token, or if it
// originates from localhost and AllowLocalhost is set. Token validation
// itself (beyond an exact match) is out of scope per spec.md §1.
type TokenAuthenticator struct {
	Token          string
	AllowLocalhost bool
	ExemptPaths    map[string]struct{}
}

// NewTokenAuthenticator builds a TokenAuthenticator from a token, a
// localhost-exemption flag, and a list of paths that never require auth
// (health checks and the like).
func NewTokenAuthenticator(token string, allowLocalhost bool, exemptPaths []string) *TokenAuthenticator {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &TokenAuthenticator{Token: token, AllowLocalhost: allowLocalhost, ExemptPaths: exempt}
}

// Authenticate implements Authenticator for an HTTP request.
func (a *TokenAuthenticator) Authenticate(r *http.Request) bool {
	if _, ok := a.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	if a.AllowLocalhost && isLocalhost(r.RemoteAddr) {
		return true
	}
	return a.AuthenticateToken(bearerToken(r))
}

// AuthenticateToken implements Authenticator for a bare token value.
func (a *TokenAuthenticator) AuthenticateToken(token string) bool {
	if a.Token == "" {
		return true
	}
	return token == a.Token
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

func isLocalhost(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

// RequireAuth builds middleware that rejects unauthenticated requests with
// 401 and the ErrAuthRequired code. A nil Authenticator is a pass-through —
// no auth configured.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth != nil && !auth.Authenticate(r) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":{"code":"AUTH_REQUIRED","message":"authentication required"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
