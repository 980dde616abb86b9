// Package middleware provides the HTTP identity middleware for the service.
// The fanout core performs no authentication itself; this layer turns a
// verified token into the opaque Identity the core consumes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/ruchik19/GuardianGrid/pkg/emergency"
)

type contextKey struct{}

var identityKey = contextKey{}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, identity emergency.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the authenticated identity set by the
// middleware.
func IdentityFromContext(ctx context.Context) (emergency.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(emergency.Identity)
	return identity, ok
}

// JWTAuth validates an HS256 bearer token and injects the Identity from its
// claims. The token is taken from the Authorization header, or from the
// "token" query parameter for websocket upgrades (browsers cannot set headers
// on those).
func JWTAuth(secret []byte, logger zerolog.Logger) func(http.Handler) http.Handler {
	authLogger := logger.With().Str("component", "JWTAuth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, secret), jwt.WithValidate(true))
			if err != nil {
				authLogger.Warn().Err(err).Msg("Rejected request with invalid token.")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			identity := emergency.Identity{UserID: token.Subject()}
			if v, ok := token.Get("region"); ok {
				identity.Region, _ = v.(string)
			}
			if v, ok := token.Get("role"); ok {
				identity.Role, _ = v.(string)
			}
			if identity.UserID == "" {
				authLogger.Warn().Msg("Rejected token without a subject.")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// NoopAuth injects a fixed identity without validating anything. For tests
// and local mode only.
func NoopAuth(identity emergency.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, found := strings.CutPrefix(h, "Bearer "); found {
			return after
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
