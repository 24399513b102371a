package authz

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stanstork/lms-import/internal/models"
)

// Claims is the identity carried by a bearer token.
type Claims struct {
	UserID   string
	TenantID string
	Roles    []models.UserRole
}

// SignToken issues an HS256 token in the shape JWTMiddleware accepts.
func SignToken(secret string, claims Claims, ttl time.Duration) (string, error) {
	roles := models.EnsureDefaultRole(models.NormalizeRoles(claims.Roles))
	rolesClaim := make([]string, 0, len(roles))
	for _, role := range roles {
		rolesClaim = append(rolesClaim, string(role))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.UserID,
		"tid":   claims.TenantID,
		"role":  string(models.HighestRole(roles)),
		"roles": rolesClaim,
		"exp":   time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// JWTMiddleware verifies the bearer token and stores the caller's identity on the request context.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				deny(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				deny(w, http.StatusUnauthorized, "Invalid authorization format")
				return
			}
			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				deny(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !claims.VerifyExpiresAt(time.Now().Unix(), true) {
				deny(w, http.StatusUnauthorized, "Token expired")
				return
			}
			roles, ok := rolesFromClaims(claims)
			if !ok {
				deny(w, http.StatusUnauthorized, "Missing role claim")
				return
			}
			tenantID, ok := claims["tid"].(string)
			if !ok || strings.TrimSpace(tenantID) == "" {
				deny(w, http.StatusUnauthorized, "Missing tenant claim")
				return
			}
			userID, _ := claims["sub"].(string)
			ctx := WithIdentity(r.Context(), tenantID, userID, roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rolesFromClaims(claims jwt.MapClaims) ([]models.UserRole, bool) {
	var roles []models.UserRole
	switch v := claims["roles"].(type) {
	case nil:
		single, _ := claims["role"].(string)
		if single == "" {
			return nil, false
		}
		roles = []models.UserRole{models.UserRole(single)}
	case []interface{}:
		for _, val := range v {
			str, ok := val.(string)
			if !ok {
				return nil, false
			}
			roles = append(roles, models.UserRole(str))
		}
	case string:
		roles = []models.UserRole{models.UserRole(v)}
	default:
		return nil, false
	}

	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))
	if !models.IsValidRoleList(normalized) {
		return nil, false
	}
	return normalized, true
}
