package management

import (
	"context"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/saga"
	"github.com/google/uuid"
)

// CreateUserCommand registers a user with a password.
type CreateUserCommand struct {
	saga.StartCommand[*UserCreationResult]
	UserName string
	Password string
	Profile  domain.Profile
}

// UserCreationResult carries the id of the new user.
type UserCreationResult struct {
	MessageResult
	ID string `json:"id"`
}

type CreateUserSaga struct {
	saga.Base
	deps *Deps
}

func (s *CreateUserSaga) Start(ctx context.Context, cmd *CreateUserCommand) (*UserCreationResult, error) {
	s.Complete()
	if cmd.UserName == "" || cmd.Password == "" {
		return &UserCreationResult{MessageResult: rejected("User name and password are required.")}, nil
	}
	existing, err := s.deps.Users.FindByUserName(ctx, cmd.UserName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &UserCreationResult{MessageResult: rejected("User of user name %s exists.", cmd.UserName)}, nil
	}

	user := domain.NewUser(uuid.NewString(), cmd.UserName)
	user.Profile = cmd.Profile
	if user.PasswordHash, err = s.deps.Hasher.Generate([]byte(cmd.Password)); err != nil {
		return nil, err
	}
	if err := s.deps.Users.Add(ctx, user); err != nil {
		return nil, err
	}
	return &UserCreationResult{MessageResult: succeeded("User %s created.", user.UserName), ID: user.ID}, nil
}

// UpdateUserProfileCommand replaces a user's profile.
type UpdateUserProfileCommand struct {
	saga.StartCommand[*MessageResult]
	UserID     string
	NewProfile domain.Profile
}

// UpdateUserPasswordCommand sets a new password.
type UpdateUserPasswordCommand struct {
	saga.StartCommand[*MessageResult]
	UserID      string
	NewPassword string
}

// UpdateUserNameCommand renames a user. The new name must be free.
type UpdateUserNameCommand struct {
	saga.StartCommand[*MessageResult]
	UserID   string
	UserName string
}

// UpdateUserClaimCommand replaces a user's custom claims.
type UpdateUserClaimCommand struct {
	saga.StartCommand[*MessageResult]
	UserID string
	Claims map[string]string
}

// UpdateUserSaga starts with any of the user update commands and completes
// in the same step.
type UpdateUserSaga struct {
	saga.Base
	deps *Deps
}

func (s *UpdateUserSaga) UpdateProfile(ctx context.Context, cmd *UpdateUserProfileCommand) (*MessageResult, error) {
	return s.update(ctx, cmd.UserID, "Profile", func(u *domain.User) (*MessageResult, error) {
		u.UpdateProfile(cmd.NewProfile)
		return nil, nil
	})
}

func (s *UpdateUserSaga) UpdatePassword(ctx context.Context, cmd *UpdateUserPasswordCommand) (*MessageResult, error) {
	return s.update(ctx, cmd.UserID, "Password", func(u *domain.User) (*MessageResult, error) {
		if cmd.NewPassword == "" {
			r := rejected("Password is required.")
			return &r, nil
		}
		hash, err := s.deps.Hasher.Generate([]byte(cmd.NewPassword))
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
		return nil, nil
	})
}

func (s *UpdateUserSaga) UpdateUserName(ctx context.Context, cmd *UpdateUserNameCommand) (*MessageResult, error) {
	if cmd.UserName == "" {
		s.Complete()
		r := rejected("User name is required.")
		return &r, nil
	}
	existing, err := s.deps.Users.FindByUserName(ctx, cmd.UserName)
	if err != nil {
		s.Complete()
		return nil, err
	}
	if existing != nil {
		s.Complete()
		r := rejected("User of user name %s exists.", cmd.UserName)
		return &r, nil
	}
	return s.update(ctx, cmd.UserID, "UserName", func(u *domain.User) (*MessageResult, error) {
		u.UpdateUserName(cmd.UserName)
		return nil, nil
	})
}

func (s *UpdateUserSaga) UpdateClaims(ctx context.Context, cmd *UpdateUserClaimCommand) (*MessageResult, error) {
	return s.update(ctx, cmd.UserID, "Claims", func(u *domain.User) (*MessageResult, error) {
		u.ReplaceClaims(cmd.Claims)
		return nil, nil
	})
}

func (s *UpdateUserSaga) update(ctx context.Context, id, what string, edit func(*domain.User) (*MessageResult, error)) (*MessageResult, error) {
	s.Complete()
	user, err := s.deps.Users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		r := rejected("User of user id %s doesn't exist.", id)
		return &r, nil
	}
	if r, err := edit(user); r != nil || err != nil {
		return r, err
	}
	if err := s.deps.Users.Save(ctx, user); err != nil {
		return nil, err
	}
	r := succeeded("%s of user %s changed.", what, user.ID)
	return &r, nil
}
