package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/bissquit/push-garden/internal/domain"
)

type contextKey string

// Context keys for the authenticated caller.
const (
	SubjectIDKey contextKey = "subject_id"
	RoleKey      contextKey = "role"
)

// TokenValidator resolves a bearer token into a subject and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (subjectID string, role domain.Role, err error)
}

// AuthMiddleware authenticates requests via a bearer token.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				Error(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			subjectID, role, err := validator.ValidateToken(r.Context(), parts[1])
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectIDKey, subjectID)
			ctx = context.WithValue(ctx, RoleKey, role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers below the given role. The engine never sees
// more than this boolean admit/deny outcome.
func RequireRole(minRole domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if role == "" {
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			if !role.HasPermission(minRole) {
				Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSubjectID extracts the authenticated subject from context.
func GetSubjectID(ctx context.Context) string {
	if id, ok := ctx.Value(SubjectIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRole extracts the caller's role from context.
func GetRole(ctx context.Context) domain.Role {
	if role, ok := ctx.Value(RoleKey).(domain.Role); ok {
		return role
	}
	return ""
}
