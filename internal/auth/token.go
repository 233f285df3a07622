// Package auth issues and verifies the HS256 bearer tokens the API accepts.
// Account flows live with the identity provider; this package only agrees
// with it on the token format.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// GenerateToken signs a token carrying the user_id claim.
func GenerateToken(userID int64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken verifies the signature and expiry and returns the user id.
func ParseToken(tokenString string, secret []byte) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	// JSON numbers decode as float64
	raw, ok := claims["user_id"].(float64)
	if !ok || raw <= 0 {
		return 0, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return int64(raw), nil
}
