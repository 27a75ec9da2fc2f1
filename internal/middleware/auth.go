package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/darkodi/shortlink/internal/errors"
	"github.com/darkodi/shortlink/internal/logger"
)

// BearerAuth reads an optional HS256 bearer token and stores its subject as
// the caller's user ID. Requests without a token pass through anonymously;
// a present but invalid token is rejected with 401. An empty secret
// disables the check entirely.
func BearerAuth(secret string, log *logger.Logger) Middleware {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				errors.Unauthorized("expected 'Authorization: Bearer <token>'").WriteJSON(w)
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

			if err != nil || !token.Valid || claims.Subject == "" {
				log.Warn("rejected bearer token",
					"request_id", getRequestID(r.Context()),
					"path", r.URL.Path,
				)
				errors.Unauthorized("").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated subject, or "" for anonymous requests
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
