package oauth20

import (
	"context"

	"github.com/dpup/obsidian/logging"
)

// ImplicitGrantSaga drives the implicit grant, which returns tokens directly
// from the authorize endpoint.
type ImplicitGrantSaga struct {
	flow
}

func (s *ImplicitGrantSaga) Start(ctx context.Context, cmd *ImplicitGrantCommand) (*Result, error) {
	s.responseType = ResponseTypeToken
	return s.start(ctx, cmd.ClientID, cmd.ScopeNames, cmd.RedirectURI, cmd.User, s.issue)
}

func (s *ImplicitGrantSaga) SignIn(ctx context.Context, msg *SignInMessage) (*Result, error) {
	return s.signIn(ctx, msg.User, s.issue)
}

func (s *ImplicitGrantSaga) PermissionGrant(ctx context.Context, msg *PermissionGrantMessage) (*Result, error) {
	return s.permissionGrant(ctx, msg.GrantedScopeNames, s.issue)
}

func (s *ImplicitGrantSaga) Cancel(ctx context.Context, msg *CancelMessage) (*Result, error) {
	return s.cancel(ctx)
}

func (s *ImplicitGrantSaga) issue(ctx context.Context) (*Result, error) {
	set, info, err := s.deps.Issuer.Tokens(ctx, s.client, s.user, s.grantedNames(), s.user.ClaimsFor(s.granted), false)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Tokens.Create(ctx, info); err != nil {
		return nil, err
	}
	s.status = StatusImplicitTokenReturned
	s.Complete()
	logging.FromContext(ctx).Infow("oauth20: tokens issued", "client", s.client.ID, "grant", "implicit")
	return &Result{
		SagaID:      s.ID(),
		State:       Finished,
		RedirectURI: s.redirectURI,
		Token:       set,
	}, nil
}
