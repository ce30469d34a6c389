// Package auth issues and verifies operator access tokens and checks
// operator passwords.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims carries the registered claims plus the operator name.
type Claims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

const issuer = "scanrebate"

func GenerateToken(operator string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Operator: operator,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetOperatorFromToken verifies tokenString and returns the operator name.
// Expired tokens yield common.ErrTokenExpired, anything else invalid yields
// common.ErrInvalidToken.
func GetOperatorFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.Operator == "" {
		return "", common.ErrInvalidToken
	}

	return claims.Operator, nil
}

// dummyHash is compared against when the operator is unknown so both paths
// cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.MinCost)

// CheckPassword compares password with the operator's bcrypt hash.
func CheckPassword(hash string, password []byte) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}

// HashPassword is used by the operator CLI to produce config entries.
func HashPassword(password []byte) (string, error) {
	h, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
