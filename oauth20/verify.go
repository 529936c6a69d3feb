package oauth20

import (
	"context"
	"crypto/subtle"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/saga"
)

// VerifyTokenSaga checks access tokens. It keeps no state between calls.
type VerifyTokenSaga struct {
	saga.Base
	deps *Deps
}

// Start reports whether the token is known, unexpired and was issued to the
// client. Expired tokens are removed as they are found.
func (s *VerifyTokenSaga) Start(ctx context.Context, cmd *VerifyTokenCommand) (bool, error) {
	s.Complete()
	if cmd.Token == "" || cmd.ClientID == "" {
		return false, nil
	}

	info, err := s.deps.Tokens.GetByAccess(ctx, cmd.Token)
	if errors.Is(err, ErrInvalidGrant) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	if subtle.ConstantTimeCompare([]byte(info.ClientID), []byte(cmd.ClientID)) != 1 {
		return false, nil
	}
	if info.AccessExpired(s.deps.Issuer.now()) {
		if err := s.deps.Tokens.RemoveByAccess(ctx, cmd.Token); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
