package oauth20

import (
	"context"
	"slices"
	"strings"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
)

// Deps are the collaborators shared by the grant sagas.
type Deps struct {
	Clients domain.ClientRepository
	Users   domain.UserRepository
	Scopes  domain.ScopeRepository
	Tokens  TokenStore
	Issuer  *Issuer
}

// flow is the interactive part shared by the authorization code and implicit
// grants: start, sign in, permission grant and cancel. The embedding saga
// supplies issue, which runs once the user has granted the requested scopes.
type flow struct {
	saga.Base
	deps *Deps

	responseType string
	status       Status
	client       *domain.Client
	scopeNames   []string
	scopes       []*domain.PermissionScope
	granted      []*domain.PermissionScope
	redirectURI  string
	user         *domain.User
}

type issueFunc func(ctx context.Context) (*Result, error)

func (f *flow) start(ctx context.Context, clientID string, scopeNames []string, redirectURI string, sessionUser *domain.User, issue issueFunc) (*Result, error) {
	f.redirectURI = redirectURI
	f.scopeNames = normalizeScopes(scopeNames)

	client, err := f.deps.Clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return f.fail(ctx, errors.Mark(ErrInvalidClient, 0)), nil
	}
	f.client = client
	if !client.ValidRedirectURI(redirectURI) {
		return f.fail(ctx, errors.Mark(ErrInvalidRedirectURI, 0)), nil
	}

	f.scopes, err = resolveScopes(ctx, f.deps.Scopes, client, f.scopeNames)
	if errors.Is(err, ErrInvalidScope) {
		return f.fail(ctx, err), nil
	} else if err != nil {
		return nil, err
	}

	f.status = StatusRequireSignIn
	if sessionUser != nil {
		return f.signIn(ctx, sessionUser, issue)
	}
	return &Result{SagaID: f.ID(), State: RequireSignIn}, nil
}

func (f *flow) signIn(ctx context.Context, user *domain.User, issue issueFunc) (*Result, error) {
	if f.status != StatusRequireSignIn {
		return f.unexpected(ctx, "sign in"), nil
	}
	if user == nil {
		return f.fail(ctx, errors.Mark(ErrAccessDenied, 0)), nil
	}

	// Grants are read from the repository rather than the caller's copy.
	current, err := f.deps.Users.FindByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return f.fail(ctx, errors.Mark(ErrAccessDenied, 0)), nil
	}
	f.user = current
	logging.Track(ctx, "oauth20.user", current.ID)

	if current.IsClientAuthorized(f.client, f.scopeNames) {
		f.granted = f.scopes
		return issue(ctx)
	}

	f.status = StatusRequirePermissionGrant
	return &Result{
		SagaID: f.ID(),
		State:  RequirePermissionGrant,
		PermissionGrant: &PermissionGrantInfo{
			Client: f.client,
			Scopes: f.scopes,
		},
	}, nil
}

func (f *flow) permissionGrant(ctx context.Context, grantedNames []string, issue issueFunc) (*Result, error) {
	if f.status != StatusRequirePermissionGrant {
		return f.unexpected(ctx, "permission grant"), nil
	}

	var granted []*domain.PermissionScope
	for _, s := range f.scopes {
		if slices.Contains(grantedNames, s.ScopeName) {
			granted = append(granted, s)
		}
	}
	if len(granted) == 0 {
		logging.FromContext(ctx).Infow("oauth20: user denied access", "client", f.client.ID)
		return f.cancel(ctx)
	}

	user, err := f.deps.Users.FindByID(ctx, f.user.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return f.fail(ctx, errors.Mark(ErrAccessDenied, 0)), nil
	}
	user.GrantClient(f.client, granted)
	if err := f.deps.Users.Save(ctx, user); err != nil {
		return nil, err
	}
	f.user = user
	f.granted = granted
	return issue(ctx)
}

func (f *flow) cancel(ctx context.Context) (*Result, error) {
	if f.status.Terminal() {
		return f.unexpected(ctx, "cancel"), nil
	}
	f.status = StatusCancelled
	f.Complete()
	return &Result{
		SagaID:      f.ID(),
		State:       Cancelled,
		RedirectURI: f.redirectURI,
		CancelData: &CancelInfo{
			ResponseType: f.responseType,
			RedirectURI:  f.redirectURI,
			ClientID:     f.client.ID,
			Scopes:       f.scopeNames,
		},
	}, nil
}

// fail ends the saga with a client error.
func (f *flow) fail(ctx context.Context, err error) *Result {
	logging.FromContext(ctx).Infow("oauth20: grant failed", "error", err, "status", f.status.String())
	f.status = StatusFail
	f.Complete()
	return failed(f.ID(), err)
}

// unexpected rejects an out of sequence message and leaves the saga as is.
func (f *flow) unexpected(ctx context.Context, step string) *Result {
	logging.FromContext(ctx).Warnw("oauth20: unexpected step", "step", step, "status", f.status.String())
	return rejected(f.ID(), errors.WrapPrefix(errors.Mark(ErrUnexpectedStep, 0), step, 0))
}

func (f *flow) grantedNames() []string {
	names := make([]string, len(f.granted))
	for i, s := range f.granted {
		names[i] = s.ScopeName
	}
	return names
}

// resolveScopes loads the named scopes, failing with ErrInvalidScope if any
// is unknown or not allowed for the client.
func resolveScopes(ctx context.Context, repo domain.ScopeRepository, client *domain.Client, names []string) ([]*domain.PermissionScope, error) {
	if len(names) == 0 {
		return nil, errors.Mark(ErrInvalidScope, 0)
	}
	scopes := make([]*domain.PermissionScope, 0, len(names))
	for _, n := range names {
		if !client.AllowsScope(n) {
			return nil, errors.WrapPrefix(errors.Mark(ErrInvalidScope, 0), n, 0)
		}
		s, err := repo.FindByName(ctx, n)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.WrapPrefix(errors.Mark(ErrInvalidScope, 0), n, 0)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// normalizeScopes drops empty and duplicate names, keeping request order.
func normalizeScopes(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// ParseScope splits a space delimited scope parameter.
func ParseScope(scope string) []string {
	return normalizeScopes(strings.Fields(scope))
}
