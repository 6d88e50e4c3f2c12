package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ngn-platform/score-integrity/internal/config"
)

// Principal is the authenticated caller of a protected endpoint.
type Principal struct {
	ActorID string
	Admin   bool
}

type principalKey struct{}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// BearerAuth maps static bearer tokens from config to principals.
// Requests without a known token get 401 before reaching a handler.
func BearerAuth(tokens []config.TokenConfig) func(http.Handler) http.Handler {
	byToken := make(map[string]*Principal, len(tokens))
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		byToken[t.Token] = &Principal{ActorID: t.ActorID, Admin: t.Admin}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			p, known := byToken[token]
			if !known {
				writeError(w, http.StatusUnauthorized, "unknown token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}
