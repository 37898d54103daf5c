// Package auth validates caller identity for the API. The real identity
// provider is external; this package defines the seam and ships a static
// bearer-token implementation for deployments without one.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrInvalidToken = errors.New("invalid or missing token")

// Provider resolves a bearer token to a user id.
type Provider interface {
	Validate(ctx context.Context, token string) (string, error)
}

// StaticProvider accepts exactly one preconfigured token.
type StaticProvider struct {
	Token  string
	UserID string
}

func (p *StaticProvider) Validate(ctx context.Context, token string) (string, error) {
	if token == "" || token != p.Token {
		return "", ErrInvalidToken
	}
	userID := p.UserID
	if userID == "" {
		userID = "local"
	}
	return userID, nil
}

type contextKey struct{}

// UserID returns the authenticated user id stored by Middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Middleware rejects requests without a valid bearer token. A nil provider
// disables authentication.
func Middleware(provider Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provider == nil {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			userID, err := provider.Validate(r.Context(), token)
			if err != nil {
				log.Debug().Str("path", r.URL.Path).Msg("rejected unauthenticated request")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
