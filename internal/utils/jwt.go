package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teleconsult-server/internal/models"
)

// Claims are the bearer claims issued by the identity provider.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the (subject, role) pair the core operations take.
func (c *Claims) Actor() models.Actor {
	sub := c.UserID
	if sub == "" {
		sub = c.Subject
	}
	return models.Actor{SubjectID: sub, Role: models.ParseRole(string(c.Role))}
}

// GenerateToken signs an access token for actor. The identity provider owns
// issuance in production; this is used by tests and local tooling.
func GenerateToken(actor models.Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: actor.SubjectID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   actor.SubjectID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token.
func ValidateToken(tokenString string, secretKey string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	actor := claims.Actor()
	if actor.SubjectID == "" {
		return nil, errors.New("token has no subject")
	}
	if !actor.Role.IsGrantable() {
		return nil, fmt.Errorf("token role %q is not accepted", actor.Role)
	}
	return claims, nil
}
