package oauth20

import (
	"context"
	"strings"
	"time"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/go-oauth2/oauth2/v4"
	"github.com/go-oauth2/oauth2/v4/generates"
	"github.com/go-oauth2/oauth2/v4/models"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
)

// Default token lifetimes.
const (
	DefaultCodeTTL    = 10 * time.Minute
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

const jwtLeeway = 5 * time.Second

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerName sets the iss claim of authentication tokens.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		i.name = name
	}
}

// WithTTLs overrides the code, access token and refresh token lifetimes. Zero
// values keep the defaults.
func WithTTLs(code, access, refresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		if code > 0 {
			i.codeTTL = code
		}
		if access > 0 {
			i.accessTTL = access
		}
		if refresh > 0 {
			i.refreshTTL = refresh
		}
	}
}

// WithIssuerClock overrides the time source, for tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer mints authorization codes, access and refresh tokens, and signed
// authentication tokens carrying user claims.
type Issuer struct {
	authorize  *generates.AuthorizeGenerate
	access     *generates.AccessGenerate
	signingKey []byte
	name       string
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer returns an Issuer that signs authentication tokens with key.
func NewIssuer(signingKey []byte, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		authorize:  generates.NewAuthorizeGenerate(),
		access:     generates.NewAccessGenerate(),
		signingKey: signingKey,
		name:       "obsidian",
		codeTTL:    DefaultCodeTTL,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Code mints an authorization code bound to client, user, scopes and
// redirect uri. The returned record is not yet stored.
func (i *Issuer) Code(ctx context.Context, client *domain.Client, user *domain.User, scopes []string, redirectURI string) (TokenInfo, error) {
	now := i.now()
	code, err := i.authorize.Token(ctx, i.basic(client, user, now))
	if err != nil {
		return TokenInfo{}, errors.WrapPrefix(err, "oauth20: minting code", 0)
	}
	return TokenInfo{
		ClientID:      client.ID,
		UserID:        user.ID,
		Scope:         strings.Join(scopes, " "),
		RedirectURI:   redirectURI,
		Code:          code,
		CodeCreateAt:  now,
		CodeExpiresIn: i.codeTTL,
	}, nil
}

// Tokens mints an access token, a refresh token when withRefresh is set, and
// an authentication token carrying claims.
func (i *Issuer) Tokens(ctx context.Context, client *domain.Client, user *domain.User, scopes []string, claims map[string]string, withRefresh bool) (*TokenSet, TokenInfo, error) {
	now := i.now()
	access, refresh, err := i.access.Token(ctx, i.basic(client, user, now), withRefresh)
	if err != nil {
		return nil, TokenInfo{}, errors.WrapPrefix(err, "oauth20: minting access token", 0)
	}
	authn, err := i.AuthenticationToken(client, user, claims)
	if err != nil {
		return nil, TokenInfo{}, err
	}

	info := TokenInfo{
		ClientID:        client.ID,
		UserID:          user.ID,
		Scope:           strings.Join(scopes, " "),
		Access:          access,
		AccessCreateAt:  now,
		AccessExpiresIn: i.accessTTL,
	}
	if withRefresh {
		info.Refresh = refresh
		info.RefreshCreateAt = now
		info.RefreshExpiresIn = i.refreshTTL
	}

	return &TokenSet{
		AccessToken:         access,
		RefreshToken:        info.Refresh,
		AuthenticationToken: authn,
		TokenType:           "Bearer",
		ExpiresIn:           i.accessTTL,
		Scope:               scopes,
	}, info, nil
}

// AuthenticationClaims are the claims of an authentication token.
type AuthenticationClaims struct {
	jwt.RegisteredClaims
	UserClaims map[string]string `json:"claims,omitempty"`
}

// AuthenticationToken returns an HS256 JWT for user, audience client, with
// the given claims.
func (i *Issuer) AuthenticationToken(client *domain.Client, user *domain.User, claims map[string]string) (string, error) {
	now := i.now()
	c := &AuthenticationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		UserClaims: claims,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.signingKey)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

// ParseAuthenticationToken validates an authentication token issued to
// clientID and returns its claims.
func (i *Issuer) ParseAuthenticationToken(tokenString, clientID string) (*AuthenticationClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&AuthenticationClaims{},
		func(*jwt.Token) (any, error) { return i.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.name),
		jwt.WithAudience(clientID),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, errors.WrapPrefix(errors.Mark(ErrInvalidAccessToken, 0), err.Error(), 0)
	}
	return token.Claims.(*AuthenticationClaims), nil
}

func (i *Issuer) basic(client *domain.Client, user *domain.User, now time.Time) *oauth2.GenerateBasic {
	return &oauth2.GenerateBasic{
		Client: &models.Client{
			ID:     client.ID,
			Secret: client.Secret,
			Domain: strings.Join(client.RedirectURIs, "\n"),
		},
		UserID:   user.ID,
		CreateAt: now,
	}
}
