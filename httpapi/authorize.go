package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dpup/obsidian/authn"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/identity"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/oauth20"
	"github.com/dpup/obsidian/saga"
	"github.com/google/uuid"
)

type signInPage struct {
	Context    string
	UserName   string
	AutoSignIn bool
	RememberMe bool
	Error      string
	SubmitTo   string
	SwitchUser string
}

type permissionPage struct {
	Context    string
	Client     *domain.Client
	Scopes     []*domain.PermissionScope
	SubmitTo   string
	SwitchUser string
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	scopes := oauth20.ParseScope(q.Get("scope"))

	var (
		res *oauth20.Result
		err error
	)
	switch strings.ToLower(q.Get("response_type")) {
	case oauth20.ResponseTypeCode:
		res, err = saga.Invoke[*oauth20.Result](r.Context(), h.bus, &oauth20.AuthorizationCodeGrantCommand{
			ClientID:    clientID,
			ScopeNames:  scopes,
			RedirectURI: redirectURI,
		})
	case oauth20.ResponseTypeToken:
		res, err = saga.Invoke[*oauth20.Result](r.Context(), h.bus, &oauth20.ImplicitGrantCommand{
			ClientID:    clientID,
			ScopeNames:  scopes,
			RedirectURI: redirectURI,
		})
	default:
		return errors.Mark(oauth20.ErrUnsupportedResponseType, 0)
	}
	if err != nil {
		return err
	}
	if res.State != oauth20.RequireSignIn {
		return resultError(res)
	}

	page := signInPage{}
	if user := identity.UserFromContext(r.Context()); user != nil {
		page.AutoSignIn = true
		page.RememberMe = true
		page.UserName = user.UserName
	}
	return h.renderSignIn(w, http.StatusOK, res.SagaID, page)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return errors.WithCode(err, oauth20.ErrInvalidRequest.Code())
	}
	id, err := h.protector.Unprotect(r.PostForm.Get("context"))
	if err != nil {
		return err
	}
	userName := r.PostForm.Get("username")
	autoSignIn := r.PostForm.Get("auto_sign_in") == "true"
	rememberMe := r.PostForm.Get("remember_me") == "true"

	var user *domain.User
	if autoSignIn {
		user = identity.UserFromContext(r.Context())
		if user == nil || user.UserName != userName {
			return errors.Mark(oauth20.ErrInvalidRequest, 0).WithPublicMessage("session does not match user")
		}
	} else {
		auth, err := saga.Invoke[*authn.AuthenticationResult](r.Context(), h.bus, &authn.PasswordAuthenticateCommand{
			UserName: userName,
			Password: r.PostForm.Get("password"),
		})
		if err != nil {
			return err
		}
		if !auth.Valid {
			return h.renderSignIn(w, http.StatusUnauthorized, id, signInPage{
				UserName:   userName,
				RememberMe: rememberMe,
				Error:      "Invalid user name or password.",
			})
		}
		user = auth.User
	}

	if err := h.identity.SignIn(w, r, user, rememberMe || autoSignIn); err != nil {
		return err
	}
	res, err := saga.Send[*oauth20.Result](r.Context(), h.bus, oauth20.NewSignInMessage(id, user))
	if err != nil {
		return err
	}
	return h.respond(w, r, res)
}

func (h *Handler) permissionGrant(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return errors.WithCode(err, oauth20.ErrInvalidRequest.Code())
	}
	id, err := h.protector.Unprotect(r.PostForm.Get("context"))
	if err != nil {
		return err
	}
	// An absent list denies every scope.
	granted := r.PostForm["scope"]
	res, err := saga.Send[*oauth20.Result](r.Context(), h.bus, oauth20.NewPermissionGrantMessage(id, granted))
	if err != nil {
		return err
	}
	return h.respond(w, r, res)
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) error {
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI != "" {
		if err := h.checkSignOutRedirect(r.Context(), redirectURI); err != nil {
			return err
		}
	}
	h.identity.SignOut(w, r)
	if redirectURI == "" {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	http.Redirect(w, r, redirectURI, http.StatusFound)
	return nil
}

// checkSignOutRedirect accepts only absolute http(s) urls registered as a
// redirect uri by some client.
func (h *Handler) checkSignOutRedirect(ctx context.Context, uri string) error {
	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Mark(oauth20.ErrInvalidRequest, 1).WithPublicMessage("redirect_uri must be an absolute url")
	}
	clients, err := h.clients.QueryAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.ValidRedirectURI(uri) {
			return nil
		}
	}
	return errors.Mark(oauth20.ErrInvalidRequest, 1).WithPublicMessage("redirect_uri is not registered")
}

func (h *Handler) switchUser(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return errors.WithCode(err, oauth20.ErrInvalidRequest.Code())
	}
	id, err := h.protector.Unprotect(r.PostForm.Get("context"))
	if err != nil {
		return err
	}
	res, err := saga.Send[*oauth20.Result](r.Context(), h.bus, oauth20.NewCancelMessage(id))
	if err != nil {
		return err
	}
	if res.State != oauth20.Cancelled {
		return resultError(res)
	}
	h.identity.SignOut(w, r)
	http.Redirect(w, r, res.CancelData.AuthorizeURL(authorizeEndpoint(r)), http.StatusFound)
	return nil
}

// respond turns the result of a sign in or permission step into a page or a
// redirect back to the client.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res *oauth20.Result) error {
	logging.Track(r.Context(), "oauth20.state", res.State.String())
	switch res.State {
	case oauth20.RequirePermissionGrant:
		ctx, err := h.protector.Protect(res.SagaID)
		if err != nil {
			return err
		}
		return h.pages.render(w, http.StatusOK, "permission.tmpl", permissionPage{
			Context:    ctx,
			Client:     res.PermissionGrant.Client,
			Scopes:     res.PermissionGrant.Scopes,
			SubmitTo:   "/oauth20/authorize/permission",
			SwitchUser: "/oauth20/switchuser",
		})
	case oauth20.AuthorizationCodeGenerated:
		http.Redirect(w, r, res.CodeRedirectURL(), http.StatusFound)
		return nil
	case oauth20.Finished:
		http.Redirect(w, r, res.ImplicitRedirectURL(), http.StatusFound)
		return nil
	case oauth20.Cancelled:
		return h.pages.render(w, http.StatusForbidden, "denied.tmpl", res.CancelData)
	}
	return resultError(res)
}

func (h *Handler) renderSignIn(w http.ResponseWriter, status int, id uuid.UUID, page signInPage) error {
	ctx, err := h.protector.Protect(id)
	if err != nil {
		return err
	}
	page.Context = ctx
	page.SubmitTo = AuthorizePath
	page.SwitchUser = "/oauth20/switchuser"
	return h.pages.render(w, status, "signin.tmpl", page)
}

// resultError is the error carried by a failed result, or invalid_request
// for a result in a state the endpoint can not handle.
func resultError(res *oauth20.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.Mark(oauth20.ErrInvalidRequest, 1).WithPublicMessage("unexpected state " + res.State.String())
}

func authorizeEndpoint(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + AuthorizePath
}
