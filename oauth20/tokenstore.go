package oauth20

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/storage"
)

// TokenInfo is the data recorded for an issued code or token set.
type TokenInfo struct {
	ClientID         string        `json:"clientId"`
	UserID           string        `json:"userId"`
	Scope            string        `json:"scope"`
	RedirectURI      string        `json:"redirectUri,omitempty"`
	SagaID           string        `json:"sagaId,omitempty"`
	Code             string        `json:"code,omitempty"`
	CodeCreateAt     time.Time     `json:"codeCreateAt,omitzero"`
	CodeExpiresIn    time.Duration `json:"codeExpiresIn,omitempty"`
	Access           string        `json:"access,omitempty"`
	AccessCreateAt   time.Time     `json:"accessCreateAt,omitzero"`
	AccessExpiresIn  time.Duration `json:"accessExpiresIn,omitempty"`
	Refresh          string        `json:"refresh,omitempty"`
	RefreshCreateAt  time.Time     `json:"refreshCreateAt,omitzero"`
	RefreshExpiresIn time.Duration `json:"refreshExpiresIn,omitempty"`
}

// CodeExpired reports whether the authorization code is past its lifetime.
func (t TokenInfo) CodeExpired(now time.Time) bool {
	return t.CodeExpiresIn > 0 && now.After(t.CodeCreateAt.Add(t.CodeExpiresIn))
}

// AccessExpired reports whether the access token is past its lifetime.
func (t TokenInfo) AccessExpired(now time.Time) bool {
	return t.AccessExpiresIn > 0 && now.After(t.AccessCreateAt.Add(t.AccessExpiresIn))
}

// TokenStore persists issued codes and tokens. Lookups of unknown values
// fail with ErrInvalidGrant.
//
// Refresh tokens are minted and indexed, but no endpoint redeems them: the
// refresh_token grant is not served. The refresh index lets an operator look
// up and revoke a token set through GetByRefresh and RemoveByRefresh.
type TokenStore interface {
	// Create stores a record, indexing every non-empty code, access and
	// refresh value.
	Create(ctx context.Context, info TokenInfo) error

	// GetByCode returns the record for an authorization code without
	// consuming it.
	GetByCode(ctx context.Context, code string) (TokenInfo, error)

	// TakeByCode returns and removes the record for an authorization code.
	// Concurrent callers for the same code see exactly one success.
	TakeByCode(ctx context.Context, code string) (TokenInfo, error)

	GetByAccess(ctx context.Context, access string) (TokenInfo, error)
	GetByRefresh(ctx context.Context, refresh string) (TokenInfo, error)
	RemoveByAccess(ctx context.Context, access string) error
	RemoveByRefresh(ctx context.Context, refresh string) error
}

// memoryTokenStore is an in-memory implementation of TokenStore.
type memoryTokenStore struct {
	mu      sync.Mutex
	codes   map[string]TokenInfo
	access  map[string]TokenInfo
	refresh map[string]TokenInfo
}

// NewMemoryTokenStore creates a new in-memory token store.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{
		codes:   map[string]TokenInfo{},
		access:  map[string]TokenInfo{},
		refresh: map[string]TokenInfo{},
	}
}

func (s *memoryTokenStore) Create(ctx context.Context, info TokenInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Code != "" {
		s.codes[info.Code] = info
	}
	if info.Access != "" {
		s.access[info.Access] = info
	}
	if info.Refresh != "" {
		s.refresh[info.Refresh] = info
	}
	return nil
}

func (s *memoryTokenStore) GetByCode(ctx context.Context, code string) (TokenInfo, error) {
	return s.get(s.codes, code)
}

func (s *memoryTokenStore) TakeByCode(ctx context.Context, code string) (TokenInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.codes[code]
	if !ok {
		return TokenInfo{}, errors.Mark(ErrInvalidGrant, 0)
	}
	delete(s.codes, code)
	return info, nil
}

func (s *memoryTokenStore) GetByAccess(ctx context.Context, access string) (TokenInfo, error) {
	return s.get(s.access, access)
}

func (s *memoryTokenStore) GetByRefresh(ctx context.Context, refresh string) (TokenInfo, error) {
	return s.get(s.refresh, refresh)
}

func (s *memoryTokenStore) RemoveByAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, access)
	return nil
}

func (s *memoryTokenStore) RemoveByRefresh(ctx context.Context, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, refresh)
	return nil
}

func (s *memoryTokenStore) get(m map[string]TokenInfo, key string) (TokenInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := m[key]
	if !ok {
		return TokenInfo{}, errors.Mark(ErrInvalidGrant, 1)
	}
	return info, nil
}

// NewStorageTokenStore returns a TokenStore that keeps records in a
// storage.Store, one collection per index.
func NewStorageTokenStore(store storage.Store) TokenStore {
	return &storageTokenStore{store: store}
}

type storageTokenStore struct {
	store storage.Store
}

type codeRecord struct {
	Key  string    `json:"key"`
	Info TokenInfo `json:"info"`
}

func (r codeRecord) PK() string   { return r.Key }
func (r codeRecord) Name() string { return "oauth_codes" }

type accessRecord struct {
	Key  string    `json:"key"`
	Info TokenInfo `json:"info"`
}

func (r accessRecord) PK() string   { return r.Key }
func (r accessRecord) Name() string { return "oauth_access_tokens" }

type refreshRecord struct {
	Key  string    `json:"key"`
	Info TokenInfo `json:"info"`
}

func (r refreshRecord) PK() string   { return r.Key }
func (r refreshRecord) Name() string { return "oauth_refresh_tokens" }

func (s *storageTokenStore) Create(ctx context.Context, info TokenInfo) error {
	var models []storage.Model
	if info.Code != "" {
		models = append(models, codeRecord{Key: info.Code, Info: info})
	}
	if info.Access != "" {
		models = append(models, accessRecord{Key: info.Access, Info: info})
	}
	if info.Refresh != "" {
		models = append(models, refreshRecord{Key: info.Refresh, Info: info})
	}
	if len(models) == 0 {
		return errors.Mark(ErrInvalidRequest, 0)
	}
	return s.store.Create(ctx, models...)
}

func (s *storageTokenStore) GetByCode(ctx context.Context, code string) (TokenInfo, error) {
	var r codeRecord
	err := s.store.Read(ctx, code, &r)
	return r.Info, translateStorageError(err)
}

// TakeByCode claims the code by deleting it. The store guarantees exactly one
// successful Delete per key.
func (s *storageTokenStore) TakeByCode(ctx context.Context, code string) (TokenInfo, error) {
	var r codeRecord
	if err := s.store.Read(ctx, code, &r); err != nil {
		return TokenInfo{}, translateStorageError(err)
	}
	if err := s.store.Delete(ctx, codeRecord{Key: code}); err != nil {
		return TokenInfo{}, translateStorageError(err)
	}
	return r.Info, nil
}

func (s *storageTokenStore) GetByAccess(ctx context.Context, access string) (TokenInfo, error) {
	var r accessRecord
	err := s.store.Read(ctx, access, &r)
	return r.Info, translateStorageError(err)
}

func (s *storageTokenStore) GetByRefresh(ctx context.Context, refresh string) (TokenInfo, error) {
	var r refreshRecord
	err := s.store.Read(ctx, refresh, &r)
	return r.Info, translateStorageError(err)
}

func (s *storageTokenStore) RemoveByAccess(ctx context.Context, access string) error {
	err := s.store.Delete(ctx, accessRecord{Key: access})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *storageTokenStore) RemoveByRefresh(ctx context.Context, refresh string) error {
	err := s.store.Delete(ctx, refreshRecord{Key: refresh})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func translateStorageError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Mark(ErrInvalidGrant, 1)
	}
	return err
}
