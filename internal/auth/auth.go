// Package auth issues and verifies the bearer tokens shared by the REST
// server and the API client, and hashes passwords with bcrypt.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/models"
)

const issuer = "itdrive"

// Claims is the token payload. The subject carries the user id.
type Claims struct {
	Role  models.Role `json:"role"`
	Email string      `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID int64
	Role   models.Role
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret string, ttl time.Duration, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

func (i *Issuer) Issue(u models.User) (string, time.Time, error) {
	now := i.clock.Now()
	exp := now.Add(i.ttl)
	claims := &Claims{
		Role:  u.Role,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates signature, issuer and expiry and returns the caller.
// Every failure is an AUTH error.
func (i *Issuer) Verify(token string) (Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apperr.Wrap(apperr.KindAuth, "session expired", err)
		}
		return Principal{}, apperr.Wrap(apperr.KindAuth, "invalid token", err)
	}
	id, err := claims.UserID()
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.KindAuth, "invalid token subject", err)
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}

// ExpiresAt reads the expiry of a token without verifying its signature.
// The client uses it to drop a stale session before sending a request.
func ExpiresAt(token string) (time.Time, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// PrincipalOf reads the caller identity from a token without verifying it.
// Only the client calls this, on a token the server handed it.
func PrincipalOf(token string) (Principal, bool) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Principal{}, false
	}
	id, err := claims.UserID()
	if err != nil {
		return Principal{}, false
	}
	return Principal{UserID: id, Role: claims.Role}, true
}

const minPasswordLen = 6

func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword returns an AUTH error on mismatch.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperr.Wrap(apperr.KindAuth, "invalid email or password", err)
	}
	return nil
}
