package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type Middleware struct {
	token  string
	exempt map[string]bool
}

// NewMiddleware guards every route with a static bearer token. An empty token
// disables the check. Exempt paths are matched exactly against r.URL.Path.
func NewMiddleware(token string, exempt ...string) Middleware {
	m := Middleware{token: token, exempt: make(map[string]bool, len(exempt))}
	for _, p := range exempt {
		m.exempt[p] = true
	}
	return m
}

func (m Middleware) Enabled() bool {
	return m.token != ""
}

func (m Middleware) Guard(next http.Handler) http.Handler {
	if !m.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		const prefix = "Bearer "
		token, ok := strings.CutPrefix(authz, prefix)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
