package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	bearerPrefix = "Bearer "

	// AuthCookieName is the fallback token source for browser dashboards
	AuthCookieName = "beacond.auth"
)

var secret []byte

// TokenClaims is the payload of a signed auth token. A token carries either
// a direct user identity (UserID) or an opaque cache key (AuthKey), plus an
// optional permission grant.
type TokenClaims struct {
	UserID  string `json:"userId,omitempty"`
	AuthKey string `json:"authKey,omitempty"`
	Grant   string `json:"grant,omitempty"`
	jwt.RegisteredClaims
}

// InitSecret sets the signing secret for auth and share tokens
func InitSecret(s string) {
	secret = []byte(s)
}

// GenerateToken signs a token for the given claims
func GenerateToken(claims TokenClaims) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("token secret not initialized")
	}

	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// DecodeToken verifies and decodes a signed auth token. Expired, malformed
// and badly signed tokens all come back as errors; callers that tolerate
// anonymous requests treat any error as an absent payload.
func DecodeToken(tokenString string) (*TokenClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret not initialized")
	}
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// ExtractToken pulls the raw auth token from the Authorization header or,
// failing that, the auth cookie. An empty result is not an error: anonymous
// requests are resolved further down the pipeline.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix)
	}

	if cookie, err := r.Cookie(AuthCookieName); err == nil {
		return cookie.Value
	}

	return ""
}
