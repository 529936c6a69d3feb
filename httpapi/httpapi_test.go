package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/identity"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/oauth20"
	"github.com/dpup/obsidian/protect"
	"github.com/dpup/obsidian/repository"
	"github.com/dpup/obsidian/saga"
	"github.com/dpup/obsidian/storage/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redirect = "https://app.example/cb"

var contextField = regexp.MustCompile(`name="context" value="([^"]+)"`)

type fixture struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
}

func setup(t *testing.T) *fixture {
	ctx := logging.With(t.Context(), logging.NewTestLogger(t))
	store := memorystore.New()
	users := repository.Users(store)
	clients := repository.Clients(store)
	scopes := repository.Scopes(store)

	require.NoError(t, clients.Add(ctx, &domain.Client{ID: "c1", DisplayName: "Example", Secret: "s3cret", RedirectURIs: []string{redirect}}))
	require.NoError(t, scopes.Add(ctx, &domain.PermissionScope{ID: "s1", ScopeName: "read", DisplayName: "Read", ClaimTypes: []string{domain.ClaimSubject}}))
	alice := domain.NewUser("u1", "alice")
	alice.PasswordHash, _ = authn.TestHasher.Generate([]byte("wonderland"))
	require.NoError(t, users.Add(ctx, alice))

	tokens := oauth20.NewMemoryTokenStore()
	bus := saga.NewBus()
	oauth20.Register(bus, oauth20.Deps{
		Clients: clients,
		Users:   users,
		Scopes:  scopes,
		Tokens:  tokens,
		Issuer:  oauth20.NewIssuer([]byte("token-key")),
	})
	authn.Register(bus, users, authn.TestHasher)

	h := New(bus, tokens, clients, protect.New([]byte("protect-key"), "oauth20"), identity.NewCookieService(users, []byte("session-key")))
	server := httptest.NewServer(logging.Middleware(ctx, h))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &fixture{
		t:      t,
		server: server,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *fixture) get(path string, q url.Values) (*http.Response, string) {
	resp, err := f.client.Get(f.server.URL + path + "?" + q.Encode())
	require.NoError(f.t, err)
	return resp, body(f.t, resp)
}

func (f *fixture) post(path string, form url.Values) (*http.Response, string) {
	resp, err := f.client.PostForm(f.server.URL+path, form)
	require.NoError(f.t, err)
	return resp, body(f.t, resp)
}

func (f *fixture) postJSON(path string, v map[string]string) (*http.Response, string) {
	b, err := json.Marshal(v)
	require.NoError(f.t, err)
	resp, err := f.client.Post(f.server.URL+path, "application/json", strings.NewReader(string(b)))
	require.NoError(f.t, err)
	return resp, body(f.t, resp)
}

func body(t *testing.T, resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func extractContext(t *testing.T, page string) string {
	m := contextField.FindStringSubmatch(page)
	require.Len(t, m, 2, "page should carry a protected context: %s", page)
	return m[1]
}

func authorizeQuery(responseType string) url.Values {
	return url.Values{
		"response_type": {responseType},
		"client_id":     {"c1"},
		"redirect_uri":  {redirect},
		"scope":         {"read"},
	}
}

// signIn starts a grant and signs alice in, returning the permission page.
func (f *fixture) signIn(responseType string) string {
	resp, page := f.get(AuthorizePath, authorizeQuery(responseType))
	require.Equal(f.t, http.StatusOK, resp.StatusCode, page)

	resp, page = f.post(AuthorizePath, url.Values{
		"context":  {extractContext(f.t, page)},
		"username": {"alice"},
		"password": {"wonderland"},
	})
	require.Equal(f.t, http.StatusOK, resp.StatusCode, page)
	assert.Contains(f.t, page, "Example wants to access your account")
	return page
}

func TestAuthorize_UnsupportedResponseType(t *testing.T) {
	f := setup(t)

	resp, page := f.get(AuthorizePath, authorizeQuery("id_token"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, page, "unsupported_response_type")
}

func TestAuthorize_UnknownClient(t *testing.T) {
	f := setup(t)

	q := authorizeQuery("code")
	q.Set("client_id", "nope")
	resp, page := f.get(AuthorizePath, q)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, page, "invalid_client")
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := setup(t)

	page := f.signIn("CODE")
	resp, _ := f.post("/oauth20/authorize/permission", url.Values{
		"context": {extractContext(t, page)},
		"scope":   {"read"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example", loc.Host)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	exchange := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     "c1",
		"client_secret": "s3cret",
		"redirect_uri":  redirect,
	}
	resp, raw := f.postJSON("/oauth20/token", exchange)
	require.Equal(t, http.StatusOK, resp.StatusCode, raw)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var tok tokenResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &tok))
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.NotEmpty(t, tok.AuthenticationToken)
	assert.Equal(t, "read", tok.Scope)
	assert.Positive(t, tok.ExpiresIn)

	resp, raw = f.postJSON("/oauth20/token", exchange)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, raw, `"error":"invalid_grant"`)
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	f := setup(t)

	resp, raw := f.post("/oauth20/token", url.Values{"grant_type": {"client_credentials"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, raw, `"error":"unsupported_grant_type"`)
}

func TestToken_OversizedBody(t *testing.T) {
	f := setup(t)
	padding := strings.Repeat("a", maxBodyBytes)

	resp, raw := f.postJSON("/oauth20/token_resource_owner_credential", map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   padding,
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, raw, `"error":"invalid_request"`)

	resp, raw = f.post("/oauth20/token", url.Values{
		"grant_type": {"authorization_code"},
		"code":       {padding},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, raw, `"error":"invalid_request"`)

	resp, raw = f.postJSON("/oauth20/token/verify", map[string]string{"client_id": "c1", "token": padding})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, raw, `"error":"invalid_request"`)
}

func TestImplicitFlow(t *testing.T) {
	f := setup(t)

	page := f.signIn("token")
	resp, _ := f.post("/oauth20/authorize/permission", url.Values{
		"context": {extractContext(t, page)},
		"scope":   {"read"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Query().Get("access_token"))
	assert.NotEmpty(t, loc.Query().Get("authentication_token"))
	assert.Empty(t, loc.Query().Get("refresh_token"))
}

func TestPermissionDenied(t *testing.T) {
	f := setup(t)

	page := f.signIn("code")
	resp, body := f.post("/oauth20/authorize/permission", url.Values{"context": {extractContext(t, page)}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access denied")
}

func TestSignIn_BadPassword(t *testing.T) {
	f := setup(t)

	_, page := f.get(AuthorizePath, authorizeQuery("code"))
	resp, page := f.post(AuthorizePath, url.Values{
		"context":  {extractContext(t, page)},
		"username": {"alice"},
		"password": {"nope"},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, page, "Invalid user name or password.")

	// The grant is still pending, so the re-rendered form can be retried.
	resp, page = f.post(AuthorizePath, url.Values{
		"context":  {extractContext(t, page)},
		"username": {"alice"},
		"password": {"wonderland"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "wants to access your account")
}

func TestSignIn_TamperedContext(t *testing.T) {
	f := setup(t)

	_, page := f.get(AuthorizePath, authorizeQuery("code"))
	resp, _ := f.post(AuthorizePath, url.Values{
		"context":  {extractContext(t, page) + "x"},
		"username": {"alice"},
		"password": {"wonderland"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAutoSignIn(t *testing.T) {
	f := setup(t)
	f.signIn("code")

	resp, page := f.get(AuthorizePath, authorizeQuery("code"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "Continue as <strong>alice</strong>")

	resp, page = f.post(AuthorizePath, url.Values{
		"context":      {extractContext(t, page)},
		"username":     {"alice"},
		"auto_sign_in": {"true"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, "wants to access your account")
}

func TestSwitchUser(t *testing.T) {
	f := setup(t)

	page := f.signIn("code")
	resp, _ := f.post("/oauth20/switchuser", url.Values{"context": {extractContext(t, page)}})
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, AuthorizePath, loc.Path)
	assert.Equal(t, "c1", loc.Query().Get("client_id"))
	assert.Equal(t, "code", loc.Query().Get("response_type"))
	assert.Equal(t, redirect, loc.Query().Get("redirect_uri"))

	// The session is gone, so the restarted grant asks for credentials.
	resp, page = f.get(AuthorizePath, loc.Query())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, page, `name="password"`)
}

func TestAutoSignIn_WithoutSession(t *testing.T) {
	f := setup(t)

	resp, page := f.get(AuthorizePath, authorizeQuery("code"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, page = f.post(AuthorizePath, url.Values{
		"context":      {extractContext(t, page)},
		"username":     {"alice"},
		"auto_sign_in": {"true"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, page, "invalid_request")
}

type staticIdentity struct {
	identity.Service
	user *domain.User
}

func (s staticIdentity) CurrentUser(*http.Request) (*domain.User, error) {
	return s.user, nil
}

func TestWithSession(t *testing.T) {
	alice := domain.NewUser("u1", "alice")
	for _, user := range []*domain.User{alice, nil} {
		h := &Handler{identity: staticIdentity{user: user}}
		var got *domain.User
		handler := pageHandler(h.withSession(func(w http.ResponseWriter, r *http.Request) error {
			got = identity.UserFromContext(r.Context())
			return nil
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, AuthorizePath, nil))
		assert.Same(t, user, got)
	}
}

func TestSignOut(t *testing.T) {
	f := setup(t)

	resp, _ := f.get("/oauth20/signout", url.Values{"redirect_uri": {redirect}})
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, redirect, resp.Header.Get("Location"))

	resp, _ = f.get("/oauth20/signout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSignOut_UntrustedRedirect(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"unregistered", "https://evil.example/cb"},
		{"registered prefix", redirect + "/../../evil"},
		{"relative", "/cb"},
		{"scheme relative", "//evil.example/cb"},
		{"script", "javascript:alert(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.signIn("code")

			resp, page := f.get("/oauth20/signout", url.Values{"redirect_uri": {tt.uri}})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, resp.Header.Get("Location"))
			assert.Contains(t, page, "invalid_request")

			// The rejected request left the session in place.
			resp, page = f.get(AuthorizePath, authorizeQuery("code"))
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, page, "Continue as <strong>alice</strong>")
		})
	}
}

func TestPasswordTokenAndVerify(t *testing.T) {
	f := setup(t)

	resp, raw := f.post("/oauth20/token_resource_owner_credential", url.Values{
		"grant_type":    {"password"},
		"username":      {"alice"},
		"password":      {"wonderland"},
		"client_id":     {"c1"},
		"client_secret": {"s3cret"},
		"scope":         {"read"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, raw)
	var tok tokenResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &tok))
	require.NotEmpty(t, tok.AccessToken)

	_, raw = f.postJSON("/oauth20/token/verify", map[string]string{"client_id": "c1", "token": tok.AccessToken})
	assert.Equal(t, "true", raw)

	_, raw = f.postJSON("/oauth20/token/verify", map[string]string{"client_id": "other", "token": tok.AccessToken})
	assert.Equal(t, "false", raw)
}

func TestPasswordToken_Rejected(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name   string
		form   url.Values
		status int
		errStr string
	}{
		{
			name:   "wrong password",
			form:   url.Values{"grant_type": {"password"}, "username": {"alice"}, "password": {"x"}, "client_id": {"c1"}, "client_secret": {"s3cret"}, "scope": {"read"}},
			status: http.StatusUnauthorized,
			errStr: "invalid_grant",
		},
		{
			name:   "wrong grant type",
			form:   url.Values{"grant_type": {"client_credentials"}},
			status: http.StatusBadRequest,
			errStr: "unsupported_grant_type",
		},
		{
			name:   "wrong client secret",
			form:   url.Values{"grant_type": {"password"}, "username": {"alice"}, "password": {"wonderland"}, "client_id": {"c1"}, "client_secret": {"x"}, "scope": {"read"}},
			status: http.StatusUnauthorized,
			errStr: "invalid_client",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := f.post("/oauth20/token_resource_owner_credential", tc.form)
			assert.Equal(t, tc.status, resp.StatusCode, raw)
			assert.Contains(t, raw, `"error":"`+tc.errStr+`"`)
		})
	}
}

func TestOAuthError(t *testing.T) {
	status, body := oauthError(saga.ErrSagaNotFound)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body.Error)

	status, body = oauthError(oauth20.ErrUnexpectedStep)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body.Error)

	status, body = oauthError(io.EOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "server_error", body.Error)
}
