// Package protect wraps correlation ids in signed, expiring tokens before
// they are handed to the browser.
package protect

import (
	"time"

	"github.com/dpup/obsidian/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// ErrInvalidContext is returned for tampered, expired or foreign blobs.
var ErrInvalidContext = errors.NewC("protect: invalid context", codes.InvalidArgument).
	WithPublicMessage("The request has expired or is invalid, please start again")

// Protector converts a correlation id to an opaque blob and back.
type Protector interface {
	Protect(id uuid.UUID) (string, error)
	Unprotect(blob string) (uuid.UUID, error)
}

// Option configures a JWTProtector.
type Option func(*JWTProtector)

// WithTTL sets how long a protected blob stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(p *JWTProtector) {
		p.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *JWTProtector) {
		p.now = now
	}
}

// JWTProtector signs ids as HS256 JWTs whose audience is the purpose, so a
// blob minted for one purpose is rejected by a protector for another.
type JWTProtector struct {
	key     []byte
	purpose string
	ttl     time.Duration
	now     func() time.Time
}

// New returns a protector for purpose, signing with key.
func New(key []byte, purpose string, opts ...Option) *JWTProtector {
	p := &JWTProtector{key: key, purpose: purpose, ttl: 30 * time.Minute, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *JWTProtector) Protect(id uuid.UUID) (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		Audience:  jwt.ClaimStrings{p.purpose},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

func (p *JWTProtector) Unprotect(blob string) (uuid.UUID, error) {
	if blob == "" {
		return uuid.Nil, errors.Mark(ErrInvalidContext, 0)
	}
	token, err := jwt.ParseWithClaims(blob, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(p.purpose),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return uuid.Nil, errors.WrapPrefix(errors.Mark(ErrInvalidContext, 0), err.Error(), 0)
	}
	id, err := uuid.Parse(token.Claims.(*jwt.RegisteredClaims).Subject)
	if err != nil {
		return uuid.Nil, errors.Mark(ErrInvalidContext, 0)
	}
	return id, nil
}
