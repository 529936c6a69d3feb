package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/dpup/obsidian"
	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/repository"
	"github.com/dpup/obsidian/storage/memorystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, path := range [][]string{{"serve"}, {"client", "create"}, {"scope", "create"}, {"user", "create"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "client", "create", "--redirect-uri", "https://app.example/cb"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestClientCreate_JSON(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "json", "client", "create", "--name", "Web", "--redirect-uri", "https://app.example/cb"})

	require.NoError(t, cmd.Execute())

	var res struct {
		Succeed bool   `json:"succeed"`
		ID      string `json:"id"`
		Secret  string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res), out.String())
	assert.True(t, res.Succeed)
	assert.NotEmpty(t, res.ID)
	assert.NotEmpty(t, res.Secret)
}

func TestClientCreate_Rejected(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"client", "create", "--redirect-uri", "not-a-url"})

	assert.Error(t, cmd.Execute())
}

func TestScopeAndUserCreate(t *testing.T) {
	store := memorystore.New()
	server := []obsidian.ServerOption{
		obsidian.WithStore(store),
		obsidian.WithHasher(authn.TestHasher),
		obsidian.WithSigningKeys([]byte("k1"), []byte("k2")),
	}
	root := &rootOptions{format: "text"}

	scope := newScopeCreateCommand(&scopeCreateOptions{rootOptions: root, server: server})
	var out bytes.Buffer
	scope.SetOut(&out)
	scope.SetArgs([]string{"profile", "--claim", domain.ClaimSubject, "--claim", domain.ClaimEmail})
	require.NoError(t, scope.Execute())
	assert.Contains(t, out.String(), "id: ")

	user := newUserCreateCommand(&userCreateOptions{rootOptions: root, server: server})
	out.Reset()
	user.SetOut(&out)
	user.SetArgs([]string{"alice", "--password", "wonderland", "--profile", "email=alice@example.com"})
	require.NoError(t, user.Execute())

	ctx := t.Context()
	s, err := repository.Scopes(store).FindByName(ctx, "profile")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, []string{domain.ClaimSubject, domain.ClaimEmail}, s.ClaimTypes)

	u, err := repository.Users(store).FindByUserName(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "alice@example.com", u.Profile.Email)
}

func TestParseProfile(t *testing.T) {
	p, err := parseProfile(map[string]string{"given_name": "Alice", "birthdate": "2000-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.GivenName)
	assert.Equal(t, "2000-01-01", p.Birthdate)

	_, err = parseProfile(map[string]string{"shoe_size": "9"})
	assert.Error(t, err)
}
