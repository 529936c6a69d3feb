package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_GrantAndAuthorize(t *testing.T) {
	u := NewUser("u1", "alice")
	c := &Client{ID: "c1"}
	read := &PermissionScope{ScopeName: "read"}
	write := &PermissionScope{ScopeName: "write"}

	assert.False(t, u.IsClientAuthorized(c, []string{"read"}))

	u.GrantClient(c, []*PermissionScope{read})
	assert.True(t, u.IsClientAuthorized(c, []string{"read"}))
	assert.False(t, u.IsClientAuthorized(c, []string{"read", "write"}))
	assert.False(t, u.IsClientAuthorized(&Client{ID: "c2"}, []string{"read"}))

	u.GrantClient(c, []*PermissionScope{write, read})
	assert.True(t, u.IsClientAuthorized(c, []string{"read", "write"}))
	assert.Len(t, u.AuthorizedClients, 1)
	assert.Equal(t, []string{"read", "write"}, u.AuthorizedClients[0].ScopeNames)
}

func TestUser_ClaimsFor(t *testing.T) {
	u := NewUser("u1", "alice")
	u.Profile = Profile{Email: "alice@example.com", GivenName: "Alice"}
	u.Claims["role"] = "admin"

	profile := &PermissionScope{ScopeName: "profile", ClaimTypes: []string{ClaimSubject, ClaimName, ClaimGivenName, ClaimFamilyName}}
	email := &PermissionScope{ScopeName: "email", ClaimTypes: []string{ClaimEmail}}
	roles := &PermissionScope{ScopeName: "roles", ClaimTypes: []string{"role"}}

	assert.Equal(t, map[string]string{
		"sub":        "u1",
		"name":       "alice",
		"given_name": "Alice",
	}, u.ClaimsFor([]*PermissionScope{profile}))

	assert.Equal(t, map[string]string{
		"email": "alice@example.com",
		"role":  "admin",
	}, u.ClaimsFor([]*PermissionScope{email, roles}))

	assert.Empty(t, u.ClaimsFor(nil))
}

func TestUser_Updates(t *testing.T) {
	u := NewUser("u1", "alice")
	u.UpdateUserName("alicia")
	u.UpdateProfile(Profile{Nickname: "ali"})
	claims := map[string]string{"a": "1"}
	u.ReplaceClaims(claims)
	claims["b"] = "2"

	assert.Equal(t, "alicia", u.UserName)
	assert.Equal(t, "ali", u.Profile.Nickname)
	assert.Equal(t, map[string]string{"a": "1"}, u.Claims)
}

func TestClient(t *testing.T) {
	c := &Client{ID: "c1", Secret: "s3cret", RedirectURIs: []string{"https://app/cb"}}

	assert.True(t, c.ValidRedirectURI("https://app/cb"))
	assert.False(t, c.ValidRedirectURI("https://app/cb/"))
	assert.False(t, c.ValidRedirectURI(""))

	assert.True(t, c.ValidSecret("s3cret"))
	assert.False(t, c.ValidSecret("nope"))
	assert.False(t, (&Client{}).ValidSecret(""))

	assert.True(t, c.AllowsScope("anything"))
	c.Scopes = []string{"read"}
	assert.True(t, c.AllowsScope("read"))
	assert.False(t, c.AllowsScope("write"))
}

func TestScope_ClaimTypes(t *testing.T) {
	s := &PermissionScope{ScopeName: "profile"}
	assert.True(t, s.AddClaimType("name"))
	assert.False(t, s.AddClaimType("name"))
	assert.True(t, s.RemoveClaimType("name"))
	assert.False(t, s.RemoveClaimType("name"))
	assert.Empty(t, s.ClaimTypes)
}
