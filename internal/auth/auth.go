// Package auth validates the bearer tokens presented at WebSocket
// handshake. Token issuance lives with an external identity provider
// (spec.md §1 Non-goals); this service only verifies.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service validates bearer tokens signed with a shared secret agreed with
// the external identity provider out of band.
type Service struct {
	jwtSecret []byte
}

// NewService builds a Service bound to the given shared secret.
func NewService(secret string) *Service {
	return &Service{jwtSecret: []byte(secret)}
}

// ValidateToken verifies the token and returns the subject's UserId.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("invalid token claims")
	}
	return userID, nil
}

// IssueTestToken mints a token for integration tests only. Never called
// from a production code path: this process consumes identity, it does
// not issue it.
func (s *Service) IssueTestToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(s.jwtSecret)
}
