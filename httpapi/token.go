package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/oauth20"
	"github.com/dpup/obsidian/saga"
)

type tokenResponse struct {
	AccessToken         string `json:"access_token"`
	TokenType           string `json:"token_type"`
	ExpiresIn           int64  `json:"expires_in"`
	RefreshToken        string `json:"refresh_token,omitempty"`
	AuthenticationToken string `json:"authentication_token,omitempty"`
	Scope               string `json:"scope,omitempty"`
}

func newTokenResponse(t *oauth20.TokenSet) *tokenResponse {
	return &tokenResponse{
		AccessToken:         t.AccessToken,
		TokenType:           t.TokenType,
		ExpiresIn:           int64(t.ExpiresIn.Seconds()),
		RefreshToken:        t.RefreshToken,
		AuthenticationToken: t.AuthenticationToken,
		Scope:               strings.Join(t.Scope, " "),
	}
}

func (h *Handler) token(r *http.Request) (any, error) {
	p, err := params(r)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.Get("grant_type"), "authorization_code") {
		return nil, errors.Mark(oauth20.ErrUnsupportedGrantType, 0)
	}
	code := p.Get("code")
	id, err := oauth20.CorrelateCode(r.Context(), h.tokens, code)
	if err != nil {
		return nil, err
	}
	clientID, secret := clientCredentials(r, p)
	res, err := saga.Send[*oauth20.Result](r.Context(), h.bus,
		oauth20.NewAccessTokenRequestMessage(id, clientID, secret, code, p.Get("redirect_uri")))
	if err != nil {
		return nil, err
	}
	if res.State != oauth20.Finished {
		return nil, resultError(res)
	}
	return newTokenResponse(res.Token), nil
}

func (h *Handler) passwordToken(r *http.Request) (any, error) {
	p, err := params(r)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.Get("grant_type"), "password") {
		return nil, errors.Mark(oauth20.ErrUnsupportedGrantType, 0)
	}
	auth, err := saga.Invoke[*authn.AuthenticationResult](r.Context(), h.bus, &authn.PasswordAuthenticateCommand{
		UserName: p.Get("username"),
		Password: p.Get("password"),
	})
	if err != nil {
		return nil, err
	}
	if !auth.Valid {
		return nil, errors.Mark(oauth20.ErrInvalidGrant, 0).WithHTTPStatusCode(http.StatusUnauthorized)
	}
	clientID, secret := clientCredentials(r, p)
	res, err := saga.Invoke[*oauth20.Result](r.Context(), h.bus, &oauth20.ResourceOwnerPasswordCredentialsGrantCommand{
		ClientID:     clientID,
		ClientSecret: secret,
		User:         auth.User,
		ScopeNames:   oauth20.ParseScope(p.Get("scope")),
	})
	if err != nil {
		return nil, err
	}
	if res.State != oauth20.Finished {
		return nil, resultError(res)
	}
	return newTokenResponse(res.Token), nil
}

func (h *Handler) verify(r *http.Request) (any, error) {
	p, err := params(r)
	if err != nil {
		return nil, err
	}
	return saga.Invoke[bool](r.Context(), h.bus, &oauth20.VerifyTokenCommand{
		ClientID: p.Get("client_id"),
		Token:    p.Get("token"),
	})
}

// maxBodyBytes caps the body read by the token endpoints.
const maxBodyBytes = 64 << 10

// params reads request parameters from a JSON object or a form body.
func params(r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var m map[string]string
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			return nil, bodyError(err, "malformed JSON body")
		}
		v := url.Values{}
		for k, val := range m {
			v.Set(k, val)
		}
		return v, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, bodyError(err, "malformed form body")
	}
	return r.Form, nil
}

// bodyError reports an unreadable body as invalid_request, with status 413
// when the body was over the limit.
func bodyError(err error, msg string) error {
	e := errors.Mark(oauth20.ErrInvalidRequest, 1).WithPublicMessage(msg)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return e.WithPublicMessage("request body too large").WithHTTPStatusCode(http.StatusRequestEntityTooLarge)
	}
	return e
}

// clientCredentials prefers HTTP basic auth over body parameters.
func clientCredentials(r *http.Request, p url.Values) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return p.Get("client_id"), p.Get("client_secret")
}
