package management

import (
	"context"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/saga"
	"github.com/google/uuid"
)

// CreateScopeCommand adds a permission scope.
type CreateScopeCommand struct {
	saga.StartCommand[*ScopeCreationResult]
	ScopeName   string
	DisplayName string
	Description string
	ClaimTypes  []string
}

// ScopeCreationResult carries the id of the new scope.
type ScopeCreationResult struct {
	MessageResult
	ID string `json:"id"`
}

type CreateScopeSaga struct {
	saga.Base
	deps *Deps
}

func (s *CreateScopeSaga) Start(ctx context.Context, cmd *CreateScopeCommand) (*ScopeCreationResult, error) {
	s.Complete()
	if cmd.ScopeName == "" {
		return &ScopeCreationResult{MessageResult: rejected("Scope name is required.")}, nil
	}
	existing, err := s.deps.Scopes.FindByName(ctx, cmd.ScopeName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &ScopeCreationResult{MessageResult: rejected("Scope %s already exists.", cmd.ScopeName)}, nil
	}

	scope := &domain.PermissionScope{
		ID:          uuid.NewString(),
		ScopeName:   cmd.ScopeName,
		DisplayName: cmd.DisplayName,
		Description: cmd.Description,
	}
	for _, t := range cmd.ClaimTypes {
		scope.AddClaimType(t)
	}
	if err := s.deps.Scopes.Add(ctx, scope); err != nil {
		return nil, err
	}
	return &ScopeCreationResult{MessageResult: succeeded("Scope %s created.", scope.ScopeName), ID: scope.ID}, nil
}

// UpdateScopeCommand changes the display text of a scope.
type UpdateScopeCommand struct {
	saga.StartCommand[*MessageResult]
	ID          string
	DisplayName string
	Description string
}

// UpdateScopeClaimsCommand adds or removes one claim type.
type UpdateScopeClaimsCommand struct {
	saga.StartCommand[*MessageResult]
	ID    string
	IsAdd bool
	Claim string
}

// UpdateScopeSaga edits existing scopes.
type UpdateScopeSaga struct {
	saga.Base
	deps *Deps
}

func (s *UpdateScopeSaga) UpdateScope(ctx context.Context, cmd *UpdateScopeCommand) (*MessageResult, error) {
	return s.update(ctx, cmd.ID, func(scope *domain.PermissionScope) *MessageResult {
		scope.DisplayName = cmd.DisplayName
		scope.Description = cmd.Description
		return nil
	})
}

func (s *UpdateScopeSaga) UpdateClaims(ctx context.Context, cmd *UpdateScopeClaimsCommand) (*MessageResult, error) {
	return s.update(ctx, cmd.ID, func(scope *domain.PermissionScope) *MessageResult {
		if cmd.Claim == "" {
			r := rejected("Claim type is required.")
			return &r
		}
		if cmd.IsAdd && !scope.AddClaimType(cmd.Claim) {
			r := rejected("Scope %s already has claim %s.", scope.ScopeName, cmd.Claim)
			return &r
		}
		if !cmd.IsAdd && !scope.RemoveClaimType(cmd.Claim) {
			r := rejected("Scope %s has no claim %s.", scope.ScopeName, cmd.Claim)
			return &r
		}
		return nil
	})
}

// update loads the scope, applies edit and saves unless edit rejects.
func (s *UpdateScopeSaga) update(ctx context.Context, id string, edit func(*domain.PermissionScope) *MessageResult) (*MessageResult, error) {
	s.Complete()
	scope, err := s.deps.Scopes.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope == nil {
		r := rejected("Scope %s doesn't exist.", id)
		return &r, nil
	}
	if r := edit(scope); r != nil {
		return r, nil
	}
	if err := s.deps.Scopes.Save(ctx, scope); err != nil {
		return nil, err
	}
	r := succeeded("Scope %s updated.", scope.ScopeName)
	return &r, nil
}
