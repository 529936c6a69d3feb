// Package httpapi exposes the OAuth 2.0 grant sagas over HTTP.
//
// Routes:
//
//	GET  /oauth20/authorize                       start a code or implicit grant
//	POST /oauth20/authorize                       sign in to a pending grant
//	POST /oauth20/authorize/permission            approve or deny scopes
//	POST /oauth20/token                           exchange an authorization code
//	POST /oauth20/token_resource_owner_credential password grant
//	POST /oauth20/token/verify                    check an access token
//	GET  /oauth20/signout                         end the session
//	POST /oauth20/switchuser                      cancel the grant and sign out
//
// Pending grants are addressed by their saga id, which only leaves the server
// wrapped by a protect.Protector.
package httpapi

import (
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/identity"
	"github.com/dpup/obsidian/oauth20"
	"github.com/dpup/obsidian/protect"
	"github.com/dpup/obsidian/saga"
)

// AuthorizePath is the path of the authorize endpoint. Cancelled grants are
// redirected back to it.
const AuthorizePath = "/oauth20/authorize"

// Handler serves the OAuth 2.0 endpoints.
type Handler struct {
	bus       *saga.Bus
	tokens    oauth20.TokenStore
	clients   domain.ClientRepository
	protector protect.Protector
	identity  identity.Service
	pages     *pages
	mux       *http.ServeMux
}

// New returns a handler dispatching to bus. tokens is used to find the grant
// that issued an authorization code, clients to vet sign out redirects.
func New(bus *saga.Bus, tokens oauth20.TokenStore, clients domain.ClientRepository, protector protect.Protector, ids identity.Service) *Handler {
	h := &Handler{
		bus:       bus,
		tokens:    tokens,
		clients:   clients,
		protector: protector,
		identity:  ids,
		pages:     mustParsePages(),
		mux:       http.NewServeMux(),
	}
	h.Register(h.mux)
	return h
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET "+AuthorizePath, pageHandler(h.withSession(h.authorize)))
	mux.Handle("POST "+AuthorizePath, pageHandler(h.withSession(h.signIn)))
	mux.Handle("POST /oauth20/authorize/permission", pageHandler(h.permissionGrant))
	mux.Handle("GET /oauth20/signout", pageHandler(h.signOut))
	mux.Handle("POST /oauth20/switchuser", pageHandler(h.switchUser))

	mux.Handle("POST /oauth20/token", gziphandler.GzipHandler(jsonHandler(h.token)))
	mux.Handle("POST /oauth20/token_resource_owner_credential", gziphandler.GzipHandler(jsonHandler(h.passwordToken)))
	mux.Handle("POST /oauth20/token/verify", gziphandler.GzipHandler(jsonHandler(h.verify)))
}

// withSession attaches the signed in user, if any, to the request context.
func (h *Handler) withSession(fn pageHandler) pageHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := h.identity.CurrentUser(r)
		if err != nil {
			return err
		}
		if user != nil {
			r = r.WithContext(identity.ContextWithUser(r.Context(), user))
		}
		return fn(w, r)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}
