// Package repository implements the domain repositories on top of a
// storage.Store.
package repository

import (
	"context"

	"github.com/dpup/obsidian/domain"
	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/storage"
)

// Users returns a user repository backed by store.
func Users(store storage.Store) *UserRepository {
	return &UserRepository{store: store}
}

// Clients returns a client repository backed by store.
func Clients(store storage.Store) *ClientRepository {
	return &ClientRepository{store: store}
}

// Scopes returns a permission scope repository backed by store.
func Scopes(store storage.Store) *ScopeRepository {
	return &ScopeRepository{store: store}
}

// UserRepository implements domain.UserRepository.
type UserRepository struct {
	store storage.Store
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return read[domain.User, *domain.User](ctx, r.store, id)
}

func (r *UserRepository) FindByUserName(ctx context.Context, userName string) (*domain.User, error) {
	if userName == "" {
		return nil, nil
	}
	return first(ctx, r.store, domain.User{UserName: userName})
}

func (r *UserRepository) Add(ctx context.Context, u *domain.User) error {
	return r.store.Create(ctx, *u)
}

func (r *UserRepository) Save(ctx context.Context, u *domain.User) error {
	return r.store.Upsert(ctx, *u)
}

// ClientRepository implements domain.ClientRepository.
type ClientRepository struct {
	store storage.Store
}

func (r *ClientRepository) FindByID(ctx context.Context, id string) (*domain.Client, error) {
	return read[domain.Client, *domain.Client](ctx, r.store, id)
}

func (r *ClientRepository) QueryAll(ctx context.Context) ([]*domain.Client, error) {
	return list(ctx, r.store, domain.Client{})
}

func (r *ClientRepository) Add(ctx context.Context, c *domain.Client) error {
	return r.store.Create(ctx, *c)
}

func (r *ClientRepository) Save(ctx context.Context, c *domain.Client) error {
	return r.store.Upsert(ctx, *c)
}

// ScopeRepository implements domain.ScopeRepository.
type ScopeRepository struct {
	store storage.Store
}

func (r *ScopeRepository) FindByID(ctx context.Context, id string) (*domain.PermissionScope, error) {
	return read[domain.PermissionScope, *domain.PermissionScope](ctx, r.store, id)
}

func (r *ScopeRepository) FindByName(ctx context.Context, scopeName string) (*domain.PermissionScope, error) {
	if scopeName == "" {
		return nil, nil
	}
	return first(ctx, r.store, domain.PermissionScope{ScopeName: scopeName})
}

func (r *ScopeRepository) QueryAll(ctx context.Context) ([]*domain.PermissionScope, error) {
	return list(ctx, r.store, domain.PermissionScope{})
}

func (r *ScopeRepository) Add(ctx context.Context, s *domain.PermissionScope) error {
	return r.store.Create(ctx, *s)
}

func (r *ScopeRepository) Save(ctx context.Context, s *domain.PermissionScope) error {
	return r.store.Upsert(ctx, *s)
}

// read loads id into a fresh T. PT names *T so the pointer can be handed to
// the store as a storage.Model.
func read[T any, PT interface {
	*T
	storage.Model
}](ctx context.Context, store storage.Store, id string) (*T, error) {
	var m T
	if err := store.Read(ctx, id, PT(&m)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func first[T storage.Model](ctx context.Context, store storage.Store, filter T) (*T, error) {
	all, err := list(ctx, store, filter)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func list[T storage.Model](ctx context.Context, store storage.Store, filter T) ([]*T, error) {
	var models []T
	if err := store.List(ctx, &models, filter); err != nil {
		return nil, err
	}
	out := make([]*T, len(models))
	for i := range models {
		out[i] = &models[i]
	}
	return out, nil
}

var (
	_ domain.UserRepository   = (*UserRepository)(nil)
	_ domain.ClientRepository = (*ClientRepository)(nil)
	_ domain.ScopeRepository  = (*ScopeRepository)(nil)
)
