package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// Forwarded identity headers. Anything a client sends under the X-Auth-
// prefix is removed before these are set.
const (
	HeaderUserID    = "X-Auth-User-Id"
	HeaderEmail     = "X-Auth-Email"
	HeaderRoles     = "X-Auth-Roles"
	HeaderOrgID     = "X-Auth-Org-Id"
	HeaderSessionID = "X-Auth-Session-Id"

	forwardedPrefix = "X-Auth-"
)

// Verifier checks an access token. *authcore.Engine implements it.
type Verifier interface {
	ValidateAccess(token string) (*authcore.Identity, error)
}

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by Guard.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok
}

// WithIdentity stores id in ctx the way Guard does.
func WithIdentity(ctx context.Context, id *authcore.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// Guard rejects requests without a valid bearer access token and stores
// the verified identity in the request context.
func Guard(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				unauthorized(w)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w)
				return
			}

			id, err := v.ValidateAccess(token)
			if err != nil {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// ForwardIdentity rewrites the X-Auth-* headers from the identity Guard
// verified, for services behind a gateway that trust them. Requests that
// reach it without an identity are rejected.
func ForwardIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		StripForwarded(r.Header)

		id, ok := IdentityFromContext(r.Context())
		if !ok || id == nil {
			unauthorized(w)
			return
		}

		r.Header.Set(HeaderUserID, id.UserID)
		r.Header.Set(HeaderSessionID, id.SessionID)
		if id.Email != "" {
			r.Header.Set(HeaderEmail, id.Email)
		}
		if len(id.Roles) > 0 {
			r.Header.Set(HeaderRoles, strings.Join(id.Roles, ","))
		}
		if id.OrgID != "" {
			r.Header.Set(HeaderOrgID, id.OrgID)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole lets through identities holding role. It must run after
// Guard.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !HasRole(id, role) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasRole reports whether id carries role.
func HasRole(id *authcore.Identity, role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// StripForwarded deletes every header with the X-Auth- prefix.
func StripForwarded(h http.Header) {
	for k := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(k), forwardedPrefix) {
			h.Del(k)
		}
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
