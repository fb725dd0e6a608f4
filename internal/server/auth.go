package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/doctorfy/doctorfy/internal/common"
)

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
}

// Claims carried by Doctorfy access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"` // "patient" | "doctor" | "admin"
}

// GenerateAccessToken mints a signed access token. The API server itself
// only verifies tokens; this is used by the identity service and by tests.
func GenerateAccessToken(cfg AuthConfig, userID, role string) (string, error) {
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// ParseToken parses and verifies a bearer token.
func ParseToken(cfg AuthConfig, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// AuthMiddleware resolves the bearer token into a common.AuthUser on the
// request context; requests without a valid token get 401.
func AuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, common.Errorf(common.KindUnauthorized, "missing authorization header"))
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, common.Errorf(common.KindUnauthorized, "invalid authorization header"))
				return
			}
			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				writeError(w, common.NewAppError(common.KindUnauthorized, "invalid or expired token", err))
				return
			}
			user := common.AuthUser{ID: claims.Subject, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(common.WithAuthUser(r.Context(), user)))
		})
	}
}
