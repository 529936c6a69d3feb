// Package memorystore implements storage.Store in memory. Records are kept as
// JSON so that callers never share mutable state with the store.
package memorystore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() storage.Store {
	return &store{data: map[string]map[string][]byte{}}
}

type store struct {
	// data[collection][pk] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.put(models, func(exists bool) error {
		if exists {
			return errors.Mark(storage.ErrAlreadyExists, 2)
		}
		return nil
	})
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.put(models, func(exists bool) error {
		if !exists {
			return errors.Mark(storage.ErrNotFound, 2)
		}
		return nil
	})
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.put(models, func(bool) error { return nil })
}

// put validates and encodes every model before writing any of them, so a
// failing batch leaves the store unchanged.
func (s *store) put(models []storage.Model, check func(exists bool) error) error {
	encoded := make([][]byte, len(models))
	for i, m := range models {
		b, err := json.Marshal(m)
		if err != nil {
			return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 1), err.Error(), 0)
		}
		encoded[i] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, m := range models {
		key := storage.Name(m) + "/" + m.PK()
		_, exists := s.data[storage.Name(m)][m.PK()]
		if err := check(exists || seen[key]); err != nil {
			return err
		}
		seen[key] = true
	}
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
	return nil
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}
	s.mu.RLock()
	b, ok := s.data[storage.Name(model)][id]
	s.mu.RUnlock()
	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(b, model); err != nil {
		return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 0), err.Error(), 0)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[storage.Name(model)][id]
	return ok, nil
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := storage.Name(model)
	if _, ok := s.data[n][model.PK()]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], model.PK())
	return nil
}

// List performs a full scan of the collection.
func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	slice, elemType, err := storage.ListTarget(models, filter)
	if err != nil {
		return err
	}
	fields := storage.FilterFields(filter)

	s.mu.RLock()
	coll := s.data[storage.Name(filter)]
	pks := make([]string, 0, len(coll))
	for pk := range coll {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	records := make([][]byte, len(pks))
	for i, pk := range pks {
		records[i] = coll[pk]
	}
	s.mu.RUnlock()

	for _, b := range records {
		elem := reflect.New(elemType)
		if err := json.Unmarshal(b, elem.Interface()); err != nil {
			return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 0), err.Error(), 0)
		}
		if matches(elem.Elem(), fields) {
			slice.Set(reflect.Append(slice, elem.Elem()))
		}
	}
	return nil
}

func matches(v reflect.Value, fields []storage.FilterField) bool {
	for _, f := range fields {
		fv := v.Field(f.Index)
		if fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				return false
			}
			fv = fv.Elem()
		}
		if !reflect.DeepEqual(fv.Interface(), f.Value) {
			return false
		}
	}
	return true
}
