// Package storage provides a small document-store abstraction used to persist
// users, clients, scopes and issued tokens.
//
// Models are structs with a `PK() string` method. They are serialized as JSON
// and grouped by their pluralized type name:
//
//	store := sqlitestore.New("file:obsidian.db")
//	err := store.Create(ctx, domain.Client{ID: "c1"})
package storage

import (
	"context"

	"github.com/dpup/obsidian/errors"
	"google.golang.org/grpc/codes"
)

// PluginName can be used to query the storage plugin.
const PluginName = "storage"

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("storage: record not found", codes.NotFound)

	// Returned when a record conflicts with an existing key.
	ErrAlreadyExists = errors.NewC("storage: primary key already exists", codes.AlreadyExists)

	// Returned when List is called with a non-slice.
	ErrSliceRequired = errors.NewC("storage: pointer to slice required", codes.InvalidArgument)

	// Returned when a store can not marshal or unmarshal a model.
	ErrInvalidModel = errors.NewC("storage: invalid model", codes.InvalidArgument)

	// Returned when List is called with a filter and slice of mismatching types.
	ErrTypeMismatch = errors.NewC("storage: type mismatch", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("storage: uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store offers create, read, update, upsert, delete, list and exists
// operations over JSON documents.
type Store interface {
	// Create inserts records, failing with ErrAlreadyExists on conflict.
	Create(ctx context.Context, models ...Model) error

	// Read populates model with the record stored under id.
	Read(ctx context.Context, id string, model Model) error

	// Update replaces existing records, failing with ErrNotFound if any is
	// missing.
	Update(ctx context.Context, models ...Model) error

	// Upsert inserts or replaces records.
	Upsert(ctx context.Context, models ...Model) error

	// Delete removes a record. Only the primary key needs to be populated.
	// Deleting a missing record fails with ErrNotFound, so Delete can be used
	// to claim a record exactly once.
	Delete(ctx context.Context, model Model) error

	// List appends records whose fields match the non-zero fields of filter
	// to the slice pointed to by models, ordered by primary key. Pointer
	// fields in the filter match on the pointed-to value, including zero.
	List(ctx context.Context, models any, filter Model) error

	// Exists reports whether a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)
}

// Plugin wraps a storage implementation for registration with the server.
func Plugin(impl Store) *StoragePlugin {
	return &StoragePlugin{Store: impl}
}

// StoragePlugin exposes a Store to the other server plugins.
type StoragePlugin struct {
	Store
}

// From obsidian.Plugin.
func (p *StoragePlugin) Name() string {
	return PluginName
}

// From obsidian.ShutdownPlugin. Stores holding connections implement
// io.Closer.
func (p *StoragePlugin) Shutdown(ctx context.Context) error {
	if c, ok := p.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
