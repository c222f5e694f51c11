package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ShareTokenHeader carries a share token alongside (not instead of) any
// user token, so a logged-in user can still open share links.
const ShareTokenHeader = "X-Beacond-Share-Token"

// ShareToken grants visitor-level access to a single shared website
// without a user identity.
type ShareToken struct {
	ShareID   string `json:"shareId"`
	WebsiteID string `json:"websiteId"`
}

type shareClaims struct {
	ShareToken
	jwt.RegisteredClaims
}

// GenerateShareToken signs a share token for a website share link
func GenerateShareToken(shareID, websiteID string) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("token secret not initialized")
	}

	claims := shareClaims{
		ShareToken: ShareToken{ShareID: shareID, WebsiteID: websiteID},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseShareToken extracts the optional share token from the request.
// Absence and undecodable tokens both yield nil; this never fails.
func ParseShareToken(r *http.Request) *ShareToken {
	raw := r.Header.Get(ShareTokenHeader)
	if raw == "" || len(secret) == 0 {
		return nil
	}

	token, err := jwt.ParseWithClaims(raw, &shareClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil
	}

	claims, ok := token.Claims.(*shareClaims)
	if !ok || claims.ShareID == "" {
		return nil
	}

	return &claims.ShareToken
}
