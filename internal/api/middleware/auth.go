package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/auth"
	"github.com/good-yellow-bee/sentinel/internal/api/render"
)

// Context keys for storing caller identity.
type contextKey string

const (
	userIDKey   contextKey = "user_id"
	usernameKey contextKey = "username"
	claimsKey   contextKey = "claims"
)

// Anonymous is the actor recorded when a request carries no identity.
const Anonymous = "anonymous"

// tokenFromRequest returns the bearer token from the Authorization header,
// or from the token query parameter used by browser websocket clients.
func tokenFromRequest(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", true
		}
		return parts[1], true
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

// Identity returns middleware that attaches the JWT identity to the request
// context. Requests without a token pass through anonymously; a token that
// fails validation is rejected with 401. A nil service disables the check.
func Identity(jwtService *auth.JWTService, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtService == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, present := tokenFromRequest(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				logger.Debug("token rejected",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err))
				render.JSONError(w, render.ErrInvalidToken)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, userIDKey, claims.UserID)
			ctx = context.WithValue(ctx, usernameKey, claims.Username)
			ctx = context.WithValue(ctx, claimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the user ID from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(userIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUsername returns the username from context.
func GetUsername(ctx context.Context) string {
	if v := ctx.Value(usernameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		if c, ok := v.(*auth.Claims); ok {
			return c
		}
	}
	return nil
}

// Actor returns the name recorded on lifecycle changes: the username, else
// the user id, else Anonymous.
func Actor(ctx context.Context) string {
	if name := GetUsername(ctx); name != "" {
		return name
	}
	if id := GetUserID(ctx); id != "" {
		return id
	}
	return Anonymous
}
