package security

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleEmployee = "employee"
	RoleKiosk    = "kiosk"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID     int64    `json:"nameid"`
	UniqueName string   `json:"unique_name"`
	Email      string   `json:"email,omitempty"`
	SID        string   `json:"sid"`
	Roles      []string `json:"role"`
}

type IdentityClaims struct {
	Identity
	jwt.RegisteredClaims
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanProxy reports whether the caller may punch on behalf of another user.
func (i Identity) CanProxy() bool {
	return i.HasRole(RoleKiosk) || i.HasRole(RoleAdmin)
}

func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

func DecodeSecret(base64Secret string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return secret, nil
}

func CreateIdentityToken(identity *Identity, base64Secret string, expiresInSeconds int64) (string, error) {
	secretBytes, err := DecodeSecret(base64Secret)
	if err != nil {
		return "", err
	}
	claims := IdentityClaims{
		Identity: *identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "punchcard",
			Subject:   fmt.Sprintf("%d", identity.UserID),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expiresInSeconds) * time.Second)),
		},
	}

	// Use HS256 signing method (symmetric key)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(secretBytes)
}

// ParseIdentityToken validates signature and expiry and returns the identity.
func ParseIdentityToken(tokenStr string, secret []byte) (*Identity, error) {
	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &claims.Identity, nil
}

// ParseIdentityTokenUnverified reads the claims without checking the
// signature. Devices use it to learn whose session they hold; the server
// never does.
func ParseIdentityTokenUnverified(tokenStr string) (*Identity, error) {
	claims := &IdentityClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	return &claims.Identity, nil
}
