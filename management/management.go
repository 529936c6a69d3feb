// Package management holds the one-shot sagas that administer clients,
// permission scopes and users.
package management

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/saga"
)

// MessageResult is the outcome of an administrative command.
type MessageResult struct {
	Succeed bool   `json:"succeed"`
	Message string `json:"message"`
}

func succeeded(format string, args ...any) MessageResult {
	return MessageResult{Succeed: true, Message: fmt.Sprintf(format, args...)}
}

func rejected(format string, args ...any) MessageResult {
	return MessageResult{Message: fmt.Sprintf(format, args...)}
}

// Deps are the collaborators of the management sagas.
type Deps struct {
	Clients domain.ClientRepository
	Scopes  domain.ScopeRepository
	Users   domain.UserRepository
	Hasher  authn.Hasher
}

// Register adds the management sagas to bus.
func Register(bus *saga.Bus, deps Deps) {
	if deps.Hasher == nil {
		deps.Hasher = authn.DefaultHasher
	}
	d := &deps

	saga.StartsWith(bus, func() *CreateClientSaga { return &CreateClientSaga{deps: d} }, (*CreateClientSaga).Start)
	saga.StartsWith(bus, func() *UpdateClientSecretSaga { return &UpdateClientSecretSaga{deps: d} }, (*UpdateClientSecretSaga).Start)

	saga.StartsWith(bus, func() *CreateScopeSaga { return &CreateScopeSaga{deps: d} }, (*CreateScopeSaga).Start)
	saga.StartsWith(bus, func() *UpdateScopeSaga { return &UpdateScopeSaga{deps: d} }, (*UpdateScopeSaga).UpdateScope)
	saga.StartsWith(bus, func() *UpdateScopeSaga { return &UpdateScopeSaga{deps: d} }, (*UpdateScopeSaga).UpdateClaims)

	saga.StartsWith(bus, func() *CreateUserSaga { return &CreateUserSaga{deps: d} }, (*CreateUserSaga).Start)
	newUpdateUser := func() *UpdateUserSaga { return &UpdateUserSaga{deps: d} }
	saga.StartsWith(bus, newUpdateUser, (*UpdateUserSaga).UpdateProfile)
	saga.StartsWith(bus, newUpdateUser, (*UpdateUserSaga).UpdatePassword)
	saga.StartsWith(bus, newUpdateUser, (*UpdateUserSaga).UpdateUserName)
	saga.StartsWith(bus, newUpdateUser, (*UpdateUserSaga).UpdateClaims)
}

// newSecret returns a random, URL safe client secret.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.WrapPrefix(err, "management: generating secret", 0)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
