// Package auth implements bearer-token authorization against a static allow-list.
package auth

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
	"sync"
)

const bearerPrefix = "Bearer "

// Gate checks bearer credentials against a fixed set of allowed tokens.
type Gate struct {
	mu     sync.RWMutex
	tokens [][]byte
}

// NewGate builds a Gate from the configured allow-list. Duplicates are
// dropped.
func NewGate(tokens []string) *Gate {
	unique := slices.Clone(tokens)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	set := make([][]byte, 0, len(unique))
	for _, token := range unique {
		set = append(set, []byte(token))
	}
	return &Gate{tokens: set}
}

// Validate reports whether token is present and allow-listed. Matching is
// exact and case-sensitive. Every allowed token is compared in constant time,
// so the time taken does not depend on which entry matched.
func (g *Gate) Validate(token *string) bool {
	if token == nil {
		return false
	}
	candidate := []byte(*token)
	g.mu.RLock()
	defer g.mu.RUnlock()
	matched := 0
	for _, allowed := range g.tokens {
		matched |= subtle.ConstantTimeCompare(candidate, allowed)
	}
	return matched == 1
}

// BearerToken extracts the token from an Authorization header value of the
// form "Bearer <token>".
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	return header[len(bearerPrefix):], true
}

// FromRequest returns the bearer token carried by r, or nil.
func FromRequest(r *http.Request) *string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil
	}
	token, ok := BearerToken(header)
	if !ok {
		return nil
	}
	return &token
}

// Middleware rejects requests that do not carry an allow-listed bearer token.
// The 401 body is identical for every failure mode.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Validate(FromRequest(r)) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
