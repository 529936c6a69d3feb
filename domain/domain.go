// Package domain holds the aggregates managed by the authorization server:
// users, registered clients and permission scopes, plus the repository
// contracts used to load and persist them.
package domain

import (
	"context"
)

// Well known claim types. Scopes list the claim types they release, and a
// user's claims are resolved from these or from the user's custom claims.
const (
	ClaimSubject    = "sub"
	ClaimName       = "name"
	ClaimGivenName  = "given_name"
	ClaimFamilyName = "family_name"
	ClaimNickname   = "nickname"
	ClaimEmail      = "email"
	ClaimGender     = "gender"
	ClaimBirthdate  = "birthdate"
)

// UserRepository loads and persists users. Lookups return (nil, nil) when the
// user does not exist.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUserName(ctx context.Context, userName string) (*User, error)
	Add(ctx context.Context, u *User) error
	Save(ctx context.Context, u *User) error
}

// ClientRepository loads and persists clients. Lookups return (nil, nil) when
// the client does not exist.
type ClientRepository interface {
	FindByID(ctx context.Context, id string) (*Client, error)
	QueryAll(ctx context.Context) ([]*Client, error)
	Add(ctx context.Context, c *Client) error
	Save(ctx context.Context, c *Client) error
}

// ScopeRepository loads and persists permission scopes. Lookups return
// (nil, nil) when the scope does not exist.
type ScopeRepository interface {
	FindByID(ctx context.Context, id string) (*PermissionScope, error)
	FindByName(ctx context.Context, scopeName string) (*PermissionScope, error)
	QueryAll(ctx context.Context) ([]*PermissionScope, error)
	Add(ctx context.Context, s *PermissionScope) error
	Save(ctx context.Context, s *PermissionScope) error
}
