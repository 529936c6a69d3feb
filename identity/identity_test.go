package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/repository"
	"github.com/dpup/obsidian/storage/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*CookieService, *domain.User) {
	users := repository.Users(memorystore.New())
	alice := domain.NewUser("u1", "alice")
	require.NoError(t, users.Add(t.Context(), alice))
	return NewCookieService(users, []byte("key")), alice
}

func TestSignInAndCurrentUser(t *testing.T) {
	svc, alice := setup(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, svc.SignIn(rec, req, alice, true))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Expires.IsZero())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	u, err := svc.CurrentUser(req)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.UserName)
}

func TestSignIn_SessionCookie(t *testing.T) {
	svc, alice := setup(t)
	rec := httptest.NewRecorder()
	require.NoError(t, svc.SignIn(rec, httptest.NewRequest(http.MethodPost, "/", nil), alice, false))
	assert.True(t, rec.Result().Cookies()[0].Expires.IsZero())
}

func TestCurrentUser_NoSession(t *testing.T) {
	svc, _ := setup(t)

	u, err := svc.CurrentUser(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Nil(t, u)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	u, err = svc.CurrentUser(req)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestCurrentUser_Expired(t *testing.T) {
	svc, alice := setup(t)
	start := time.Now()
	svc.now = func() time.Time { return start }

	rec := httptest.NewRecorder()
	require.NoError(t, svc.SignIn(rec, httptest.NewRequest(http.MethodPost, "/", nil), alice, true))

	svc.now = func() time.Time { return start.Add(15 * 24 * time.Hour) }
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	u, err := svc.CurrentUser(req)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSignOut(t *testing.T) {
	svc, _ := setup(t)
	rec := httptest.NewRecorder()
	svc.SignOut(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestUserContext(t *testing.T) {
	ctx := t.Context()
	assert.Nil(t, UserFromContext(ctx))
	u := domain.NewUser("u1", "alice")
	assert.Same(t, u, UserFromContext(ContextWithUser(ctx, u)))
}
