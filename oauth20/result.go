package oauth20

import (
	"net/url"
	"strings"
	"time"

	"github.com/dpup/obsidian/domain"
	"github.com/google/uuid"
)

// Response types accepted by the authorize endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// Result is the outcome of one grant saga step.
type Result struct {
	SagaID            uuid.UUID
	State             State
	RedirectURI       string
	AuthorizationCode string
	Token             *TokenSet
	PermissionGrant   *PermissionGrantInfo
	CancelData        *CancelInfo

	// Err is set when State is Fail or Rejected. Fail ends the saga;
	// Rejected leaves it waiting for the step it expects.
	Err error
}

// TokenSet holds the tokens issued at the end of a grant.
type TokenSet struct {
	AccessToken         string
	RefreshToken        string
	AuthenticationToken string
	TokenType           string
	ExpiresIn           time.Duration
	Scope               []string
}

// PermissionGrantInfo is what the consent page shows the user.
type PermissionGrantInfo struct {
	Client *domain.Client
	Scopes []*domain.PermissionScope
}

// CancelInfo carries the original request so the flow can be restarted.
type CancelInfo struct {
	ResponseType string
	RedirectURI  string
	ClientID     string
	Scopes       []string
}

// CodeRedirectURL is the redirect for an issued authorization code.
func (r *Result) CodeRedirectURL() string {
	return r.RedirectURI + separator(r.RedirectURI) + "code=" + url.QueryEscape(r.AuthorizationCode)
}

// ImplicitRedirectURL is the redirect for tokens issued by the implicit
// grant: access_token, then authentication_token and refresh_token when set.
func (r *Result) ImplicitRedirectURL() string {
	var sb strings.Builder
	sb.WriteString(r.RedirectURI)
	sb.WriteString(separator(r.RedirectURI))
	sb.WriteString("access_token=")
	sb.WriteString(url.QueryEscape(r.Token.AccessToken))
	if r.Token.AuthenticationToken != "" {
		sb.WriteString("&authentication_token=")
		sb.WriteString(url.QueryEscape(r.Token.AuthenticationToken))
	}
	if r.Token.RefreshToken != "" {
		sb.WriteString("&refresh_token=")
		sb.WriteString(url.QueryEscape(r.Token.RefreshToken))
	}
	return sb.String()
}

// AuthorizeURL rebuilds the authorize request that started a cancelled flow.
func (c *CancelInfo) AuthorizeURL(endpoint string) string {
	q := url.Values{}
	q.Set("response_type", c.ResponseType)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("client_id", c.ClientID)
	q.Set("scope", strings.Join(c.Scopes, " "))
	return endpoint + separator(endpoint) + q.Encode()
}

func separator(u string) string {
	if strings.Contains(u, "?") {
		return "&"
	}
	return "?"
}

func failed(id uuid.UUID, err error) *Result {
	return &Result{SagaID: id, State: Fail, Err: err}
}

func rejected(id uuid.UUID, err error) *Result {
	return &Result{SagaID: id, State: Rejected, Err: err}
}
