package oauth20

import (
	"context"
	"crypto/subtle"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/google/uuid"
)

// AuthorizationCodeGrantSaga drives the authorization code grant. It stays
// registered after issuing a code so that it can answer the token exchange.
type AuthorizationCodeGrantSaga struct {
	flow
	code string
}

func (s *AuthorizationCodeGrantSaga) Start(ctx context.Context, cmd *AuthorizationCodeGrantCommand) (*Result, error) {
	s.responseType = ResponseTypeCode
	return s.start(ctx, cmd.ClientID, cmd.ScopeNames, cmd.RedirectURI, cmd.User, s.issue)
}

func (s *AuthorizationCodeGrantSaga) SignIn(ctx context.Context, msg *SignInMessage) (*Result, error) {
	return s.signIn(ctx, msg.User, s.issue)
}

func (s *AuthorizationCodeGrantSaga) PermissionGrant(ctx context.Context, msg *PermissionGrantMessage) (*Result, error) {
	return s.permissionGrant(ctx, msg.GrantedScopeNames, s.issue)
}

// Cancel aborts the flow. A code that was issued but not exchanged is
// revoked.
func (s *AuthorizationCodeGrantSaga) Cancel(ctx context.Context, msg *CancelMessage) (*Result, error) {
	if s.status == StatusAuthorizationCodeGenerated {
		if _, err := s.deps.Tokens.TakeByCode(ctx, s.code); err != nil && !errors.Is(err, ErrInvalidGrant) {
			return nil, err
		}
	}
	return s.cancel(ctx)
}

// AccessTokenRequest exchanges the code for tokens. The code is consumed
// before anything else is checked, so any failed exchange burns it.
func (s *AuthorizationCodeGrantSaga) AccessTokenRequest(ctx context.Context, msg *AccessTokenRequestMessage) (*Result, error) {
	if s.status != StatusAuthorizationCodeGenerated {
		return s.unexpected(ctx, "access token request"), nil
	}

	info, err := s.deps.Tokens.TakeByCode(ctx, s.code)
	if errors.Is(err, ErrInvalidGrant) {
		return s.fail(ctx, err), nil
	} else if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(msg.Code), []byte(s.code)) != 1 {
		return s.fail(ctx, errors.Mark(ErrInvalidGrant, 0)), nil
	}
	if info.CodeExpired(s.deps.Issuer.now()) {
		return s.fail(ctx, errors.WrapPrefix(errors.Mark(ErrInvalidGrant, 0), "code expired", 0)), nil
	}
	if msg.RedirectURI != info.RedirectURI {
		return s.fail(ctx, errors.Mark(ErrInvalidRedirectURI, 0)), nil
	}

	client, err := s.deps.Clients.FindByID(ctx, s.client.ID)
	if err != nil {
		return nil, err
	}
	if client == nil || msg.ClientID != client.ID || !client.ValidSecret(msg.ClientSecret) {
		return s.fail(ctx, errors.Mark(ErrInvalidClient, 0)), nil
	}

	s.status = StatusCanRequestToken
	set, tokenInfo, err := s.deps.Issuer.Tokens(ctx, client, s.user, s.grantedNames(), s.user.ClaimsFor(s.granted), true)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Tokens.Create(ctx, tokenInfo); err != nil {
		return nil, err
	}

	s.status = StatusFinished
	s.Complete()
	logging.FromContext(ctx).Infow("oauth20: tokens issued", "client", client.ID, "grant", "authorization_code")
	return &Result{
		SagaID:      s.ID(),
		State:       Finished,
		RedirectURI: s.redirectURI,
		Token:       set,
	}, nil
}

func (s *AuthorizationCodeGrantSaga) issue(ctx context.Context) (*Result, error) {
	info, err := s.deps.Issuer.Code(ctx, s.client, s.user, s.grantedNames(), s.redirectURI)
	if err != nil {
		return nil, err
	}
	info.SagaID = s.ID().String()
	if err := s.deps.Tokens.Create(ctx, info); err != nil {
		return nil, err
	}
	s.code = info.Code
	s.status = StatusAuthorizationCodeGenerated
	logging.FromContext(ctx).Infow("oauth20: code issued", "client", s.client.ID)
	return &Result{
		SagaID:            s.ID(),
		State:             AuthorizationCodeGenerated,
		RedirectURI:       s.redirectURI,
		AuthorizationCode: info.Code,
	}, nil
}

// CorrelateCode returns the id of the saga waiting to exchange code. Unknown
// and consumed codes fail with ErrInvalidGrant.
func CorrelateCode(ctx context.Context, tokens TokenStore, code string) (uuid.UUID, error) {
	if code == "" {
		return uuid.Nil, errors.Mark(ErrInvalidGrant, 0)
	}
	info, err := tokens.GetByCode(ctx, code)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(info.SagaID)
	if err != nil {
		return uuid.Nil, errors.Mark(ErrInvalidGrant, 0)
	}
	return id, nil
}
