package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/identity"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// CallerClaims are the JWT claims describing the authenticated user. Admins
// may set act_as to operate on behalf of another user.
type CallerClaims struct {
	Role      string `json:"role"`
	ActAs     string `json:"act_as,omitempty"`
	ActAsRole string `json:"act_as_role,omitempty"`
	jwt.RegisteredClaims
}

// CallerJWT verifies an HMAC-signed bearer token and stores the resulting
// identity.Caller in the request context.
func CallerJWT(secret string, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	unauthorized := apperr.New(apperr.KindUnauthorized, "Authentication required")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				WriteError(w, unauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				WriteError(w, unauthorized)
				return
			}
			var claims CallerClaims
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Debug("rejected bearer token", "error", err)
				WriteError(w, unauthorized)
				return
			}

			caller, err := callerFromClaims(claims)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
		})
	}
}

func callerFromClaims(claims CallerClaims) (identity.Caller, error) {
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Caller{}, apperr.New(apperr.KindUnauthorized, "Invalid token subject")
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil || role == identity.RoleSystem {
		return identity.Caller{}, apperr.New(apperr.KindUnauthorized, "Invalid token role")
	}
	caller := identity.Caller{ID: id, Role: role}
	if claims.ActAs == "" {
		return caller, nil
	}

	if role != identity.RoleAdmin {
		return identity.Caller{}, apperr.New(apperr.KindAccessDenied, "Only administrators may act on behalf of other users")
	}
	target, err := uuid.Parse(claims.ActAs)
	if err != nil {
		return identity.Caller{}, apperr.Validation("invalid act_as user", nil)
	}
	targetRole := identity.RoleReferrer
	if claims.ActAsRole != "" {
		if targetRole, err = identity.ParseRole(claims.ActAsRole); err != nil || targetRole == identity.RoleSystem {
			return identity.Caller{}, apperr.Validation("invalid act_as_role", nil)
		}
	}
	caller.ActingAs = &identity.Principal{ID: target, Role: targetRole}
	return caller, nil
}
