package oauth20

import (
	"context"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
)

// ResourceOwnerPasswordCredentialsGrantSaga issues tokens in a single step
// for a user the caller has already authenticated.
type ResourceOwnerPasswordCredentialsGrantSaga struct {
	saga.Base
	deps *Deps
}

func (s *ResourceOwnerPasswordCredentialsGrantSaga) Start(ctx context.Context, cmd *ResourceOwnerPasswordCredentialsGrantCommand) (*Result, error) {
	s.Complete()

	client, err := s.deps.Clients.FindByID(ctx, cmd.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil || !client.ValidSecret(cmd.ClientSecret) {
		return failed(s.ID(), errors.Mark(ErrInvalidClient, 0)), nil
	}
	if cmd.User == nil {
		return failed(s.ID(), errors.Mark(ErrAccessDenied, 0)), nil
	}

	names := normalizeScopes(cmd.ScopeNames)
	scopes, err := resolveScopes(ctx, s.deps.Scopes, client, names)
	if errors.Is(err, ErrInvalidScope) {
		return failed(s.ID(), err), nil
	} else if err != nil {
		return nil, err
	}

	set, info, err := s.deps.Issuer.Tokens(ctx, client, cmd.User, names, cmd.User.ClaimsFor(scopes), true)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Tokens.Create(ctx, info); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Infow("oauth20: tokens issued", "client", client.ID, "grant", "password")
	return &Result{SagaID: s.ID(), State: Finished, Token: set}, nil
}
