package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth"
)

// RoleAdmin is the role allowed to delete images and run cleanup
const RoleAdmin = "admin"

// Development-mode identity headers
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller holds the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type identityKey struct{}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by an authenticator
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// NewJWTAuth creates an HS256 verifier for secret
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// JWTAuthenticator verifies bearer tokens with ja and stores the caller
// identity. The user id is read from the userId, user_id or sub claim.
func JWTAuthenticator(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(ja)
	return func(next http.Handler) http.Handler {
		return verify(jwtauth.Authenticator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				writeMessage(w, r, http.StatusUnauthorized, "invalid token")
				return
			}

			id := Identity{
				UserID: claimString(claims, "userId", "user_id", "sub"),
				Role:   claimString(claims, "role"),
			}
			if id.UserID == "" {
				writeMessage(w, r, http.StatusUnauthorized, "token carries no user id")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})))
	}
}

// HeaderAuthenticator trusts the X-User-ID and X-User-Role headers. It is
// meant for development behind a trusted proxy.
func HeaderAuthenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			writeMessage(w, r, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		id := Identity{
			UserID: userID,
			Role:   strings.TrimSpace(r.Header.Get(HeaderUserRole)),
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin rejects callers without the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeMessage(w, r, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !id.IsAdmin() {
			writeMessage(w, r, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimString(claims map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := claims[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}
