package oauth20

import (
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/saga"
	"github.com/google/uuid"
)

// AuthorizationCodeGrantCommand starts an authorization code flow. User is
// the signed in session user, if any.
type AuthorizationCodeGrantCommand struct {
	saga.StartCommand[*Result]
	ClientID    string
	ScopeNames  []string
	RedirectURI string
	User        *domain.User
}

// ImplicitGrantCommand starts an implicit flow.
type ImplicitGrantCommand struct {
	saga.StartCommand[*Result]
	ClientID    string
	ScopeNames  []string
	RedirectURI string
	User        *domain.User
}

// ResourceOwnerPasswordCredentialsGrantCommand issues tokens for a user whose
// credentials were already checked by the caller.
type ResourceOwnerPasswordCredentialsGrantCommand struct {
	saga.StartCommand[*Result]
	ClientID     string
	ClientSecret string
	User         *domain.User
	ScopeNames   []string
}

// VerifyTokenCommand checks that an access token is live and belongs to a
// client.
type VerifyTokenCommand struct {
	saga.StartCommand[bool]
	ClientID string
	Token    string
}

// SignInMessage supplies the authenticated user to a pending flow.
type SignInMessage struct {
	saga.Correlated[*Result]
	User *domain.User
}

// NewSignInMessage addresses a sign in to the saga with the given id.
func NewSignInMessage(id uuid.UUID, user *domain.User) *SignInMessage {
	return &SignInMessage{Correlated: saga.Correlate[*Result](id), User: user}
}

// PermissionGrantMessage carries the scopes the user approved. An empty list
// denies the request.
type PermissionGrantMessage struct {
	saga.Correlated[*Result]
	GrantedScopeNames []string
}

// NewPermissionGrantMessage addresses a consent decision to a saga.
func NewPermissionGrantMessage(id uuid.UUID, granted []string) *PermissionGrantMessage {
	return &PermissionGrantMessage{Correlated: saga.Correlate[*Result](id), GrantedScopeNames: granted}
}

// CancelMessage aborts a pending flow, for example to switch user.
type CancelMessage struct {
	saga.Correlated[*Result]
}

// NewCancelMessage addresses a cancellation to a saga.
func NewCancelMessage(id uuid.UUID) *CancelMessage {
	return &CancelMessage{Correlated: saga.Correlate[*Result](id)}
}

// AccessTokenRequestMessage exchanges an authorization code for tokens.
type AccessTokenRequestMessage struct {
	saga.Correlated[*Result]
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
}

// NewAccessTokenRequestMessage addresses a code exchange to a saga.
func NewAccessTokenRequestMessage(id uuid.UUID, clientID, clientSecret, code, redirectURI string) *AccessTokenRequestMessage {
	return &AccessTokenRequestMessage{
		Correlated:   saga.Correlate[*Result](id),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         code,
		RedirectURI:  redirectURI,
	}
}
