// Package oauth20 implements the OAuth 2.0 grants as sagas: authorization
// code, implicit, resource owner password credentials, and token
// verification.
//
// The interactive grants span several requests. Start returns RequireSignIn,
// the caller sends a SignInMessage, then a PermissionGrantMessage if the user
// has not already granted the requested scopes to the client:
//
//	res, _ := saga.Invoke[*oauth20.Result](ctx, bus, &oauth20.AuthorizationCodeGrantCommand{...})
//	res, _ = saga.Send[*oauth20.Result](ctx, bus, oauth20.NewSignInMessage(res.SagaID, user))
//	res, _ = saga.Send[*oauth20.Result](ctx, bus, oauth20.NewPermissionGrantMessage(res.SagaID, []string{"read"}))
//
// Client errors are reported as a Result with State Fail, which ends the
// saga. A message the saga can not take yet is answered with State Rejected
// and the saga stays as it was. A returned error means a collaborator failed
// or the saga could not be found.
package oauth20

import (
	"github.com/dpup/obsidian/saga"
)

// Register adds the grant sagas to bus. It panics if a dependency is missing.
func Register(bus *saga.Bus, deps Deps) {
	if deps.Clients == nil || deps.Users == nil || deps.Scopes == nil || deps.Tokens == nil || deps.Issuer == nil {
		panic("oauth20: incomplete dependencies")
	}
	d := &deps

	saga.StartsWith(bus, func() *AuthorizationCodeGrantSaga {
		return &AuthorizationCodeGrantSaga{flow: flow{deps: d}}
	}, (*AuthorizationCodeGrantSaga).Start)
	saga.Handles(bus, (*AuthorizationCodeGrantSaga).SignIn)
	saga.Handles(bus, (*AuthorizationCodeGrantSaga).PermissionGrant)
	saga.Handles(bus, (*AuthorizationCodeGrantSaga).Cancel)
	saga.Handles(bus, (*AuthorizationCodeGrantSaga).AccessTokenRequest)

	saga.StartsWith(bus, func() *ImplicitGrantSaga {
		return &ImplicitGrantSaga{flow: flow{deps: d}}
	}, (*ImplicitGrantSaga).Start)
	saga.Handles(bus, (*ImplicitGrantSaga).SignIn)
	saga.Handles(bus, (*ImplicitGrantSaga).PermissionGrant)
	saga.Handles(bus, (*ImplicitGrantSaga).Cancel)

	saga.StartsWith(bus, func() *ResourceOwnerPasswordCredentialsGrantSaga {
		return &ResourceOwnerPasswordCredentialsGrantSaga{deps: d}
	}, (*ResourceOwnerPasswordCredentialsGrantSaga).Start)

	saga.StartsWith(bus, func() *VerifyTokenSaga {
		return &VerifyTokenSaga{deps: d}
	}, (*VerifyTokenSaga).Start)
}
