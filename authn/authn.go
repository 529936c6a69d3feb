// Package authn provides password authentication as a one-shot saga, shared
// by the browser sign-in form and the resource-owner password grant.
package authn

import (
	"context"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
)

// PasswordAuthenticateCommand checks a user name and password.
type PasswordAuthenticateCommand struct {
	saga.StartCommand[*AuthenticationResult]
	UserName string
	Password string
}

// AuthenticationResult is the outcome of a password check. User is nil
// unless Valid is true.
type AuthenticationResult struct {
	Valid bool
	User  *domain.User
}

// PasswordAuthenticateSaga validates credentials against the user repository.
type PasswordAuthenticateSaga struct {
	saga.Base
	users  domain.UserRepository
	hasher Hasher
	dummy  *dummyHash
}

// Start looks up the user and compares the password. Unknown users and bad
// passwords are indistinguishable to the caller.
func (s *PasswordAuthenticateSaga) Start(ctx context.Context, cmd *PasswordAuthenticateCommand) (*AuthenticationResult, error) {
	s.Complete()

	user, err := s.users.FindByUserName(ctx, cmd.UserName)
	if err != nil {
		return nil, err
	}

	hash := s.dummy.get(s.hasher)
	if user != nil {
		hash = user.PasswordHash
	}
	if err := s.hasher.Compare(hash, []byte(cmd.Password)); err != nil || user == nil {
		logging.Track(ctx, "authn.result", "invalid")
		return &AuthenticationResult{}, nil
	}
	logging.Track(ctx, "authn.result", "valid")
	return &AuthenticationResult{Valid: true, User: user}, nil
}

// Register adds the authentication saga to bus.
func Register(bus *saga.Bus, users domain.UserRepository, hasher Hasher) {
	dummy := &dummyHash{}
	saga.StartsWith(bus, func() *PasswordAuthenticateSaga {
		return &PasswordAuthenticateSaga{users: users, hasher: hasher, dummy: dummy}
	}, (*PasswordAuthenticateSaga).Start)
}
