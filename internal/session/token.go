// Package session issues and verifies the HS256 tokens handed to a client once
// the server accepts its pairing login.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/paircloud/internal/errs"
)

const leeway = 30 * time.Second

// Issue creates a signed token for the client user id.
func Issue(signKey []byte, userID uint64, ttl time.Duration) (string, time.Time, error) {
	if len(signKey) == 0 {
		return "", time.Time{}, errors.New("session: empty sign key")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	return signed, exp, err
}

// Verify parses the token and returns the user id it was issued for.
func Verify(signKey []byte, token string) (uint64, error) {
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg %v", t.Header["alg"])
		}
		return signKey, nil
	}, jwt.WithLeeway(leeway), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return 0, errs.ErrUnauthorized
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, errs.ErrUnauthorized
	}
	return id, nil
}
