// Package identity keeps track of the signed in user across requests with a
// signed session cookie.
package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// CookieName is the default name of the session cookie.
const CookieName = "ob-id"

// Leeway for JWT expiration checks.
const jwtLeeway = 5 * time.Second

// Service resolves and manages the session user.
type Service interface {
	// CurrentUser returns the signed in user, or nil if there is none.
	CurrentUser(r *http.Request) (*domain.User, error)

	// SignIn starts a session for user. Persistent sessions survive the
	// browser being closed.
	SignIn(w http.ResponseWriter, r *http.Request, user *domain.User, persistent bool) error

	// SignOut ends the current session.
	SignOut(w http.ResponseWriter, r *http.Request)
}

// Option configures a CookieService.
type Option func(*CookieService)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(s *CookieService) {
		s.cookieName = name
	}
}

// WithExpiration sets the session lifetime.
func WithExpiration(d time.Duration) Option {
	return func(s *CookieService) {
		s.expiration = d
	}
}

// WithSecure marks the cookie Secure.
func WithSecure(secure bool) Option {
	return func(s *CookieService) {
		s.secure = secure
	}
}

// CookieService stores the session as an HS256 JWT in an HttpOnly cookie.
type CookieService struct {
	users      domain.UserRepository
	signingKey []byte
	cookieName string
	expiration time.Duration
	secure     bool
	now        func() time.Time
}

// NewCookieService returns a Service that signs sessions with key.
func NewCookieService(users domain.UserRepository, signingKey []byte, opts ...Option) *CookieService {
	s := &CookieService{
		users:      users,
		signingKey: signingKey,
		cookieName: CookieName,
		expiration: 14 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sessionClaims struct {
	jwt.RegisteredClaims
	UserName string `json:"name"`
}

func (s *CookieService) CurrentUser(r *http.Request) (*domain.User, error) {
	c, err := r.Cookie(s.cookieName)
	if err != nil {
		return nil, nil
	}
	claims, err := s.parse(c.Value)
	if err != nil {
		logging.FromContext(r.Context()).Debugw("identity: ignoring invalid session", "error", err)
		return nil, nil
	}
	return s.users.FindByID(r.Context(), claims.Subject)
}

func (s *CookieService) SignIn(w http.ResponseWriter, r *http.Request, user *domain.User, persistent bool) error {
	token, err := s.token(user)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		cookie.Expires = s.now().Add(s.expiration)
	}
	http.SetCookie(w, cookie)
	logging.Track(r.Context(), "identity.user", user.ID)
	return nil
}

func (s *CookieService) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Secure:   s.secure,
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *CookieService) token(user *domain.User) (string, error) {
	now := s.now()
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
		UserName: user.UserName,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, 0).WithCode(codes.Internal)
	}
	return ss, nil
}

func (s *CookieService) parse(token string) (*sessionClaims, error) {
	t, err := jwt.ParseWithClaims(token, &sessionClaims{},
		func(*jwt.Token) (any, error) { return s.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, 0).WithCode(codes.Unauthenticated)
	}
	return t.Claims.(*sessionClaims), nil
}

type userKey struct{}

// ContextWithUser attaches user to ctx.
func ContextWithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user attached by ContextWithUser, if any.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}
