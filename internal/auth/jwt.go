package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

// Claims defines the JWT claims structure. Tokens are issued by the FoxDesk
// authentication layer; this service only consumes them to learn the acting
// admin's identity.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type contextKey string

// ActorKey is the context key for the acting user's claims.
const ActorKey = contextKey("actor")

// GenerateJWT signs a token for a user id. Used by the health check's
// session probe; real tokens come from the authentication layer.
func GenerateJWT(userID string) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtKey)
}

// ValidateJWT parses and validates a JWT string.
func ValidateJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware extracts the acting admin from the Authorization header or the
// token cookie and rejects unauthenticated requests.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var tokenStr string

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.Split(authHeader, "Bearer ")
				if len(parts) == 2 {
					tokenStr = parts[1]
				}
			}

			if tokenStr == "" {
				cookie, err := r.Cookie("token")
				if err != nil {
					http.Error(w, "Missing auth token", http.StatusUnauthorized)
					return
				}
				tokenStr = cookie.Value
			}

			claims, err := ValidateJWT(tokenStr)
			if err != nil {
				http.Error(w, "Invalid auth token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ActorKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorID returns the acting user's id from a request context, or nil when
// the request carried no identity (system-triggered).
func ActorID(ctx context.Context) *string {
	claims, ok := ctx.Value(ActorKey).(*Claims)
	if !ok || claims.UserID == "" {
		return nil
	}
	id := claims.UserID
	return &id
}
