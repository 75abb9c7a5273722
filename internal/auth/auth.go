// Package auth issues and verifies the bearer tokens that identify users.
package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for missing, malformed, expired or forged
// tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 24 * time.Hour

// Verifier signs and checks HS256 tokens whose subject is the user id.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(v *Verifier) { v.ttl = ttl }
}

// WithIssuer sets the iss claim issued and required.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier with the shared secret.
func NewVerifier(secret []byte, opts ...Option) *Verifier {
	v := &Verifier{
		secret: secret,
		issuer: "online-notes",
		ttl:    DefaultTTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Issue returns a signed token for userID.
func (v *Verifier) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}

	now := v.now()
	claims := gojwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(v.ttl)),
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify checks token and returns its user id.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parser := gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithIssuer(v.issuer),
		gojwt.WithTimeFunc(v.now),
	)

	claims := &gojwt.RegisteredClaims{}

	_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return claims.Subject, nil
}
