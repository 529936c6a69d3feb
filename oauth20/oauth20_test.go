package oauth20

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/repository"
	"github.com/dpup/obsidian/saga"
	"github.com/dpup/obsidian/storage/memorystore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redirect = "https://app/cb"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	ctx    context.Context
	bus    *saga.Bus
	deps   Deps
	clock  *clock
	alice  *domain.User
	client *domain.Client
}

func setup(t *testing.T) *fixture {
	ctx := logging.With(t.Context(), logging.NewTestLogger(t))
	store := memorystore.New()
	users := repository.Users(store)
	clients := repository.Clients(store)
	scopes := repository.Scopes(store)

	client := &domain.Client{ID: "c1", Secret: "s3cret", RedirectURIs: []string{redirect}}
	require.NoError(t, clients.Add(ctx, client))
	require.NoError(t, clients.Add(ctx, &domain.Client{ID: "limited", Secret: "x", RedirectURIs: []string{redirect}, Scopes: []string{"read"}}))

	require.NoError(t, scopes.Add(ctx, &domain.PermissionScope{ID: "s1", ScopeName: "read", ClaimTypes: []string{domain.ClaimSubject}}))
	require.NoError(t, scopes.Add(ctx, &domain.PermissionScope{ID: "s2", ScopeName: "write", ClaimTypes: []string{domain.ClaimName}}))
	require.NoError(t, scopes.Add(ctx, &domain.PermissionScope{ID: "s3", ScopeName: "email", ClaimTypes: []string{domain.ClaimEmail}}))

	alice := domain.NewUser("u1", "alice")
	alice.Profile.Email = "alice@example.com"
	alice.PasswordHash, _ = authn.TestHasher.Generate([]byte("wonderland"))
	require.NoError(t, users.Add(ctx, alice))

	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	deps := Deps{
		Clients: clients,
		Users:   users,
		Scopes:  scopes,
		Tokens:  NewMemoryTokenStore(),
		Issuer:  NewIssuer([]byte("test-key"), WithIssuerClock(clk.Now)),
	}

	bus := saga.NewBus()
	Register(bus, deps)
	authn.Register(bus, users, authn.TestHasher)

	return &fixture{ctx: ctx, bus: bus, deps: deps, clock: clk, alice: alice, client: client}
}

func (f *fixture) startCode(t *testing.T, scopes ...string) *Result {
	res, err := saga.Invoke[*Result](f.ctx, f.bus, &AuthorizationCodeGrantCommand{
		ClientID:    "c1",
		ScopeNames:  scopes,
		RedirectURI: redirect,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) send(t *testing.T, msg saga.Message[*Result]) *Result {
	res, err := saga.Send[*Result](f.ctx, f.bus, msg)
	require.NoError(t, err)
	return res
}

func (f *fixture) exchange(code string) (*Result, error) {
	id, err := CorrelateCode(f.ctx, f.deps.Tokens, code)
	if err != nil {
		return nil, err
	}
	return saga.Send[*Result](f.ctx, f.bus, NewAccessTokenRequestMessage(id, "c1", "s3cret", code, redirect))
}

func TestAuthorizationCodeGrant(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read", "write")
	require.Equal(t, RequireSignIn, res.State)
	assert.Equal(t, 1, f.bus.Len())

	auth, err := saga.Invoke[*authn.AuthenticationResult](f.ctx, f.bus, &authn.PasswordAuthenticateCommand{UserName: "alice", Password: "wonderland"})
	require.NoError(t, err)
	require.True(t, auth.Valid)

	res = f.send(t, NewSignInMessage(res.SagaID, auth.User))
	require.Equal(t, RequirePermissionGrant, res.State)
	require.NotNil(t, res.PermissionGrant)
	assert.Equal(t, "c1", res.PermissionGrant.Client.ID)
	assert.Len(t, res.PermissionGrant.Scopes, 2)

	res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read", "write"}))
	require.Equal(t, AuthorizationCodeGenerated, res.State)
	require.NotEmpty(t, res.AuthorizationCode)
	assert.Equal(t, redirect+"?code="+res.AuthorizationCode, res.CodeRedirectURL())
	assert.Equal(t, 1, f.bus.Len(), "saga waits for the token exchange")
	code := res.AuthorizationCode
	sagaID := res.SagaID

	res, err = f.exchange(code)
	require.NoError(t, err)
	require.Equal(t, Finished, res.State)
	require.NotNil(t, res.Token)
	assert.NotEmpty(t, res.Token.AccessToken)
	assert.NotEmpty(t, res.Token.RefreshToken)
	assert.NotEmpty(t, res.Token.AuthenticationToken)
	assert.Equal(t, 0, f.bus.Len())

	// The refresh token is indexed against the same token set.
	info, err := f.deps.Tokens.GetByRefresh(f.ctx, res.Token.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "c1", info.ClientID)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, res.Token.AccessToken, info.Access)
	assert.Equal(t, "read write", info.Scope)

	// A consumed code can not be exchanged again.
	_, err = f.exchange(code)
	require.ErrorIs(t, err, ErrInvalidGrant)
	_, err = saga.Send[*Result](f.ctx, f.bus, NewAccessTokenRequestMessage(sagaID, "c1", "s3cret", code, redirect))
	require.ErrorIs(t, err, saga.ErrSagaNotFound)

	// The grant was persisted on the user.
	u, err := f.deps.Users.FindByID(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsClientAuthorized(f.client, []string{"read", "write"}))
}

func TestAuthorizationCodeGrant_StartFailures(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name     string
		clientID string
		redirect string
		scopes   []string
		err      error
	}{
		{"unknown client", "nope", redirect, []string{"read"}, ErrInvalidClient},
		{"redirect mismatch", "c1", "https://evil/cb", []string{"read"}, ErrInvalidRedirectURI},
		{"unknown scope", "c1", redirect, []string{"read", "admin"}, ErrInvalidScope},
		{"no scopes", "c1", redirect, []string{" "}, ErrInvalidScope},
		{"scope not allowed for client", "limited", redirect, []string{"write"}, ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := saga.Invoke[*Result](f.ctx, f.bus, &AuthorizationCodeGrantCommand{
				ClientID:    tt.clientID,
				ScopeNames:  tt.scopes,
				RedirectURI: tt.redirect,
			})
			require.NoError(t, err)
			assert.Equal(t, Fail, res.State)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Equal(t, 0, f.bus.Len())
		})
	}
}

func TestAuthorizationCodeGrant_PreviouslyAuthorized(t *testing.T) {
	f := setup(t)
	f.alice.GrantClient(f.client, []*domain.PermissionScope{{ScopeName: "read"}})
	require.NoError(t, f.deps.Users.Save(f.ctx, f.alice))

	res := f.startCode(t, "read")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	assert.Equal(t, AuthorizationCodeGenerated, res.State)

	// Asking for more than was granted requires consent again.
	res = f.startCode(t, "read", "write")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	assert.Equal(t, RequirePermissionGrant, res.State)
}

func TestAuthorizationCodeGrant_SessionUserSkipsSignIn(t *testing.T) {
	f := setup(t)
	res, err := saga.Invoke[*Result](f.ctx, f.bus, &AuthorizationCodeGrantCommand{
		ClientID:    "c1",
		ScopeNames:  []string{"read"},
		RedirectURI: redirect,
		User:        f.alice,
	})
	require.NoError(t, err)
	assert.Equal(t, RequirePermissionGrant, res.State)
}

func TestPermissionGrant_Intersection(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read", "write", "email")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read", "email", "admin"}))
	require.Equal(t, AuthorizationCodeGenerated, res.State)

	res, err := f.exchange(res.AuthorizationCode)
	require.NoError(t, err)
	require.Equal(t, Finished, res.State)
	assert.Equal(t, []string{"read", "email"}, res.Token.Scope)

	claims, err := f.deps.Issuer.ParseAuthenticationToken(res.Token.AuthenticationToken, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"sub":   "u1",
		"email": "alice@example.com",
	}, claims.UserClaims)
	assert.Equal(t, "u1", claims.Subject)

	u, err := f.deps.Users.FindByID(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.IsClientAuthorized(f.client, []string{"read", "email"}))
	assert.False(t, u.IsClientAuthorized(f.client, []string{"write"}))
}

func TestPermissionGrant_Denied(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read", "write")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	res = f.send(t, NewPermissionGrantMessage(res.SagaID, nil))

	require.Equal(t, Cancelled, res.State)
	require.NotNil(t, res.CancelData)
	assert.Equal(t, CancelInfo{
		ResponseType: "code",
		RedirectURI:  redirect,
		ClientID:     "c1",
		Scopes:       []string{"read", "write"},
	}, *res.CancelData)
	assert.Equal(t, 0, f.bus.Len())
	assert.Equal(t,
		"/oauth20/authorize?client_id=c1&redirect_uri=https%3A%2F%2Fapp%2Fcb&response_type=code&scope=read+write",
		res.CancelData.AuthorizeURL("/oauth20/authorize"))
}

func TestOutOfSequenceMessage(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read")
	id := res.SagaID

	res = f.send(t, NewPermissionGrantMessage(id, []string{"read"}))
	assert.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrUnexpectedStep)
	assert.Equal(t, 1, f.bus.Len(), "saga is left unchanged")

	res = f.send(t, NewSignInMessage(id, f.alice))
	assert.Equal(t, RequirePermissionGrant, res.State)

	res = f.send(t, NewAccessTokenRequestMessage(id, "c1", "s3cret", "guess", redirect))
	assert.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrUnexpectedStep)
	assert.Equal(t, 1, f.bus.Len())

	// The rejected steps did not disturb the flow.
	res = f.send(t, NewPermissionGrantMessage(id, []string{"read"}))
	require.Equal(t, AuthorizationCodeGenerated, res.State)
	res, err := f.exchange(res.AuthorizationCode)
	require.NoError(t, err)
	require.Equal(t, Finished, res.State)
	assert.NotEmpty(t, res.Token.AccessToken)
}

func TestConcurrentPermissionGrants(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	require.Equal(t, RequirePermissionGrant, res.State)

	const n = 20
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := saga.Send[*Result](f.ctx, f.bus, NewPermissionGrantMessage(res.SagaID, []string{"read"}))
			if assert.NoError(t, err) {
				results[i] = r
			}
		}()
	}
	wg.Wait()

	codes := 0
	for _, r := range results {
		if r.State == AuthorizationCodeGenerated {
			codes++
		} else {
			assert.Equal(t, Rejected, r.State)
			assert.ErrorIs(t, r.Err, ErrUnexpectedStep)
		}
	}
	assert.Equal(t, 1, codes, "exactly one code is issued")
}

func TestTokenExchange_Failures(t *testing.T) {
	tests := []struct {
		name     string
		clientID string
		secret   string
		redirect string
		advance  time.Duration
		err      error
	}{
		{"wrong secret", "c1", "wrong", redirect, 0, ErrInvalidClient},
		{"wrong client", "limited", "x", redirect, 0, ErrInvalidClient},
		{"wrong redirect", "c1", "s3cret", "https://app/other", 0, ErrInvalidRedirectURI},
		{"expired code", "c1", "s3cret", redirect, DefaultCodeTTL + time.Second, ErrInvalidGrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			res := f.startCode(t, "read")
			res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
			res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read"}))
			require.Equal(t, AuthorizationCodeGenerated, res.State)
			code := res.AuthorizationCode

			f.clock.Advance(tt.advance)
			res = f.send(t, NewAccessTokenRequestMessage(res.SagaID, tt.clientID, tt.secret, code, tt.redirect))
			assert.Equal(t, Fail, res.State)
			assert.ErrorIs(t, res.Err, tt.err)
			assert.Nil(t, res.Token)

			// The failed attempt burned the code and ended the saga.
			assert.Equal(t, 0, f.bus.Len())
			_, err := f.exchange(code)
			assert.ErrorIs(t, err, ErrInvalidGrant)
		})
	}
}

func TestTokenExchange_CodeMismatch(t *testing.T) {
	f := setup(t)
	res := f.startCode(t, "read")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read"}))

	res = f.send(t, NewAccessTokenRequestMessage(res.SagaID, "c1", "s3cret", "not-the-code", redirect))
	assert.Equal(t, Fail, res.State)
	assert.ErrorIs(t, res.Err, ErrInvalidGrant)
	assert.Equal(t, 0, f.bus.Len())
}

func TestCancel(t *testing.T) {
	f := setup(t)

	res := f.startCode(t, "read")
	res = f.send(t, NewCancelMessage(res.SagaID))
	assert.Equal(t, Cancelled, res.State)
	assert.Equal(t, "c1", res.CancelData.ClientID)

	_, err := saga.Send[*Result](f.ctx, f.bus, NewCancelMessage(res.SagaID))
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)

	// Cancelling after a code was issued revokes it.
	res = f.startCode(t, "read")
	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read"}))
	code := res.AuthorizationCode
	res = f.send(t, NewCancelMessage(res.SagaID))
	assert.Equal(t, Cancelled, res.State)
	_, err = f.exchange(code)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestUnknownCorrelationID(t *testing.T) {
	f := setup(t)
	_, err := saga.Send[*Result](f.ctx, f.bus, NewSignInMessage(uuid.New(), f.alice))
	require.ErrorIs(t, err, saga.ErrSagaNotFound)
	assert.Equal(t, 0, f.bus.Len())
}

func TestImplicitGrant(t *testing.T) {
	f := setup(t)

	res, err := saga.Invoke[*Result](f.ctx, f.bus, &ImplicitGrantCommand{
		ClientID:    "c1",
		ScopeNames:  []string{"read"},
		RedirectURI: redirect,
	})
	require.NoError(t, err)
	require.Equal(t, RequireSignIn, res.State)

	res = f.send(t, NewSignInMessage(res.SagaID, f.alice))
	require.Equal(t, RequirePermissionGrant, res.State)

	res = f.send(t, NewPermissionGrantMessage(res.SagaID, []string{"read"}))
	require.Equal(t, Finished, res.State)
	assert.Empty(t, res.Token.RefreshToken)
	assert.Equal(t,
		redirect+"?access_token="+res.Token.AccessToken+"&authentication_token="+res.Token.AuthenticationToken,
		res.ImplicitRedirectURL())
	assert.Equal(t, 0, f.bus.Len())

	ok, err := saga.Invoke[bool](f.ctx, f.bus, &VerifyTokenCommand{ClientID: "c1", Token: res.Token.AccessToken})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestImplicitGrant_Cancel(t *testing.T) {
	f := setup(t)
	res, err := saga.Invoke[*Result](f.ctx, f.bus, &ImplicitGrantCommand{
		ClientID:    "c1",
		ScopeNames:  []string{"read", "write"},
		RedirectURI: redirect,
	})
	require.NoError(t, err)

	res = f.send(t, NewCancelMessage(res.SagaID))
	require.Equal(t, Cancelled, res.State)
	assert.Equal(t, "token", res.CancelData.ResponseType)
}

func TestResourceOwnerPasswordCredentialsGrant(t *testing.T) {
	f := setup(t)

	auth, err := saga.Invoke[*authn.AuthenticationResult](f.ctx, f.bus, &authn.PasswordAuthenticateCommand{UserName: "alice", Password: "wonderland"})
	require.NoError(t, err)
	require.True(t, auth.Valid)

	res, err := saga.Invoke[*Result](f.ctx, f.bus, &ResourceOwnerPasswordCredentialsGrantCommand{
		ClientID:     "c1",
		ClientSecret: "s3cret",
		User:         auth.User,
		ScopeNames:   []string{"read", "email"},
	})
	require.NoError(t, err)
	require.Equal(t, Finished, res.State)
	assert.NotEmpty(t, res.Token.AccessToken)
	assert.NotEmpty(t, res.Token.RefreshToken)
	assert.Equal(t, 0, f.bus.Len())

	claims, err := f.deps.Issuer.ParseAuthenticationToken(res.Token.AuthenticationToken, "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.UserClaims["email"])
}

func TestResourceOwnerPasswordCredentialsGrant_WrongPassword(t *testing.T) {
	f := setup(t)

	auth, err := saga.Invoke[*authn.AuthenticationResult](f.ctx, f.bus, &authn.PasswordAuthenticateCommand{UserName: "alice", Password: "nope"})
	require.NoError(t, err)
	assert.False(t, auth.Valid)
	assert.Nil(t, auth.User)
	assert.Equal(t, 0, f.bus.Len(), "no saga instance is created")
}

func TestResourceOwnerPasswordCredentialsGrant_Failures(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name string
		cmd  *ResourceOwnerPasswordCredentialsGrantCommand
		err  error
	}{
		{"bad secret", &ResourceOwnerPasswordCredentialsGrantCommand{ClientID: "c1", ClientSecret: "x", User: f.alice, ScopeNames: []string{"read"}}, ErrInvalidClient},
		{"unknown client", &ResourceOwnerPasswordCredentialsGrantCommand{ClientID: "zz", ClientSecret: "x", User: f.alice, ScopeNames: []string{"read"}}, ErrInvalidClient},
		{"no user", &ResourceOwnerPasswordCredentialsGrantCommand{ClientID: "c1", ClientSecret: "s3cret", ScopeNames: []string{"read"}}, ErrAccessDenied},
		{"scope not allowed", &ResourceOwnerPasswordCredentialsGrantCommand{ClientID: "limited", ClientSecret: "x", User: f.alice, ScopeNames: []string{"email"}}, ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := saga.Invoke[*Result](f.ctx, f.bus, tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, Fail, res.State)
			assert.ErrorIs(t, res.Err, tt.err)
		})
	}
}

func TestVerifyToken(t *testing.T) {
	f := setup(t)
	res, err := saga.Invoke[*Result](f.ctx, f.bus, &ResourceOwnerPasswordCredentialsGrantCommand{
		ClientID: "c1", ClientSecret: "s3cret", User: f.alice, ScopeNames: []string{"read"},
	})
	require.NoError(t, err)
	token := res.Token.AccessToken

	verify := func(clientID, token string) bool {
		ok, err := saga.Invoke[bool](f.ctx, f.bus, &VerifyTokenCommand{ClientID: clientID, Token: token})
		require.NoError(t, err)
		return ok
	}

	assert.True(t, verify("c1", token))
	assert.False(t, verify("limited", token))
	assert.False(t, verify("c1", "unknown"))
	assert.False(t, verify("c1", ""))

	f.clock.Advance(DefaultAccessTTL + time.Minute)
	assert.False(t, verify("c1", token))
	_, err = f.deps.Tokens.GetByAccess(f.ctx, token)
	assert.ErrorIs(t, err, ErrInvalidGrant, "expired tokens are removed")
	assert.Equal(t, 0, f.bus.Len())
}

func TestRegister_IncompleteDeps(t *testing.T) {
	assert.Panics(t, func() { Register(saga.NewBus(), Deps{}) })
}

func TestErrorsWrapLibrarySentinels(t *testing.T) {
	err := errors.Mark(ErrInvalidGrant, 0)
	assert.Equal(t, "invalid_grant", err.Error())
	assert.Equal(t, 400, errors.HTTPStatusCode(err))
	assert.Equal(t, 401, errors.HTTPStatusCode(ErrInvalidClient))
}
