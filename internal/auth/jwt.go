package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"support-chat/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated caller: a stable user id plus a role
// of "user" or "admin".
type Identity struct {
	ID   int
	Role string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

// Verifier validates bearer tokens issued by the auth service.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the shared HS256 secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses the token and returns the identity embedded in it.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(float64)
	if !ok || userID == 0 {
		return Identity{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if role != models.RoleUser && role != models.RoleAdmin {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return Identity{ID: int(userID), Role: role}, nil
}

// Sign issues a token for the identity. Used by tests and local tooling;
// production tokens come from the auth service with the same claims.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": identity.ID,
		"role":    identity.Role,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
