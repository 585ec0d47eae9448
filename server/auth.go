package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, ok bool)
}

// StaticTokens is a fixed token to user table.
type StaticTokens map[string]string

// ParseStaticTokens reads "token:user,token:user".
func ParseStaticTokens(list string) (StaticTokens, error) {
	tokens := StaticTokens{}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, user, ok := strings.Cut(pair, ":")
		token, user = strings.TrimSpace(token), strings.TrimSpace(user)
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("invalid token entry %q, want token:user", pair)
		}
		tokens[token] = user
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no API tokens configured")
	}
	return tokens, nil
}

func (t StaticTokens) Verify(_ context.Context, token string) (string, bool) {
	for known, user := range t {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, true
		}
	}
	return "", false
}

type userKey struct{}

func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)
	return user
}

// RequireToken rejects requests without a valid bearer token and stores the
// resolved user id in the request context.
func RequireToken(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			sendErrorResponse(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		userID, ok := verifier.Verify(r.Context(), strings.TrimSpace(token))
		if !ok {
			sendErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}
