// Package storagetests provides acceptance tests shared by storage.Store
// implementations.
package storagetests

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dpup/obsidian/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Color int

const (
	ColorRed    Color = 1
	ColorGreen  Color = 2
	ColorOrange Color = 3
	ColorYellow Color = 4
	ColorPurple Color = 6
)

type Fruit struct {
	ID    string
	Name  string
	Color Color
	Count *int // Pointer fields allow filtering on zero values.
}

func (f Fruit) PK() string {
	return f.ID
}

type Planet struct {
	ID   string
	Name string
}

func (p Planet) PK() string {
	return p.ID
}

// Tagged is serialized with json tags, like the domain models.
type Tagged struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
	Active   bool   `json:"active,omitempty"`
}

func (t Tagged) PK() string {
	return t.ID
}

type BadModel struct {
	ID    string
	Cycle *BadModel
}

func (b BadModel) PK() string {
	return b.ID
}

func pint(i int) *int {
	return &i
}

// Run exercises a store created fresh by newStore for every subtest.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() storage.Store) {
	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		ctx := t.Context()
		apple := Fruit{ID: "1", Name: "Apple", Color: ColorGreen}
		banana := Fruit{ID: "2", Name: "Banana", Color: ColorYellow, Count: pint(3)}

		store := newStore()
		require.NoError(t, store.Create(ctx, apple, banana))

		var apple2, banana2 Fruit
		require.NoError(t, store.Read(ctx, "1", &apple2))
		assert.Equal(t, apple, apple2)
		require.NoError(t, store.Read(ctx, "2", &banana2))
		assert.Equal(t, banana, banana2)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx, Fruit{ID: "1", Name: "Apple"}))

		err := store.Create(ctx, Fruit{ID: "1", Name: "Apple", Color: ColorRed})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		var got Fruit
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, Color(0), got.Color, "conflicting create must not overwrite")
	})

	t.Run("SameKeyDifferentCollections", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx, Fruit{ID: "1", Name: "Apple"}, Planet{ID: "1", Name: "Mars"}))

		var p Planet
		require.NoError(t, store.Read(ctx, "1", &p))
		assert.Equal(t, "Mars", p.Name)
	})

	t.Run("CreateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm
		err := newStore().Create(t.Context(), bm)
		require.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx, Fruit{ID: "1", Name: "Apple"}))
		assert.ErrorIs(t, store.Read(ctx, "2", &Fruit{}), storage.ErrNotFound)
	})

	t.Run("ReadWithNilPointer", func(t *testing.T) {
		var f *Fruit
		err := newStore().Read(t.Context(), "1", f)
		assert.ErrorIs(t, err, storage.ErrNilModel)
	})

	t.Run("Update", func(t *testing.T) {
		ctx := t.Context()
		apple := Fruit{ID: "1", Name: "Apple", Color: ColorGreen}
		store := newStore()
		require.NoError(t, store.Create(ctx, apple))

		apple.Color = ColorRed
		require.NoError(t, store.Update(ctx, apple))

		var got Fruit
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, apple, got)
	})

	t.Run("UpdateNotExists", func(t *testing.T) {
		err := newStore().Update(t.Context(), Fruit{ID: "1"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateBadModel", func(t *testing.T) {
		bm := BadModel{ID: "XXX"}
		bm.Cycle = &bm
		err := newStore().Update(t.Context(), bm)
		assert.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("Upsert", func(t *testing.T) {
		ctx := t.Context()
		apple := Fruit{ID: "1", Name: "Apple", Color: ColorGreen}
		store := newStore()
		require.NoError(t, store.Create(ctx, apple))

		apple.Color = ColorRed
		banana := Fruit{ID: "2", Name: "Banana", Color: ColorYellow}
		require.NoError(t, store.Upsert(ctx, apple, banana))

		var apple2, banana2 Fruit
		require.NoError(t, store.Read(ctx, "1", &apple2))
		assert.Equal(t, apple, apple2)
		require.NoError(t, store.Read(ctx, "2", &banana2))
		assert.Equal(t, banana, banana2)
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx, Fruit{ID: "4", Name: "Melon"}))

		exists, err := store.Exists(ctx, "4", &Fruit{})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, Fruit{ID: "4"}))

		exists, err = store.Exists(ctx, "4", &Fruit{})
		require.NoError(t, err)
		assert.False(t, exists)

		assert.ErrorIs(t, store.Delete(ctx, Fruit{ID: "4"}), storage.ErrNotFound)
	})

	t.Run("DeleteClaimsOnce", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx, Planet{ID: "code", Name: "x"}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.Delete(ctx, Planet{ID: "code"}) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("ListErrorCases", func(t *testing.T) {
		store := newStore()
		out := []Fruit{}
		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Not a slice", Fruit{}, Fruit{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Fruit{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Planet{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.ErrorIs(t, store.List(t.Context(), tt.models, tt.filter), tt.wantErr)
			})
		}
		assert.NoError(t, store.List(t.Context(), &out, Fruit{}))
		assert.Empty(t, out)
	})

	t.Run("List", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Fruit{"3", "Mango", ColorOrange, nil},
			Fruit{"1", "Apple", ColorGreen, nil},
			Fruit{"2", "Banana", ColorYellow, nil},
		))

		actual := []Fruit{}
		require.NoError(t, store.List(ctx, &actual, Fruit{}))
		assert.Equal(t, []Fruit{
			{"1", "Apple", ColorGreen, nil},
			{"2", "Banana", ColorYellow, nil},
			{"3", "Mango", ColorOrange, nil},
		}, actual)
	})

	t.Run("ListFilter", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Fruit{"1", "Apple", ColorGreen, nil},
			Fruit{"2", "Banana", ColorYellow, nil},
			Fruit{"4", "Cherry", ColorRed, nil},
			Fruit{"5", "Grape", ColorGreen, nil},
			Fruit{"7", "Plum", ColorPurple, nil},
		))

		actual := []Fruit{}
		require.NoError(t, store.List(ctx, &actual, Fruit{Color: ColorGreen}))
		assert.Equal(t, []Fruit{
			{"1", "Apple", ColorGreen, nil},
			{"5", "Grape", ColorGreen, nil},
		}, actual)
	})

	t.Run("ListFilterZero", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Fruit{"1", "Apple", ColorGreen, pint(4)},
			Fruit{"3", "Mango", ColorOrange, pint(0)},
			Fruit{"4", "Cherry", ColorRed, pint(0)},
			Fruit{"5", "Grape", ColorGreen, nil},
		))

		actual := []Fruit{}
		require.NoError(t, store.List(ctx, &actual, Fruit{Count: pint(0)}))
		assert.Equal(t, []Fruit{
			{"3", "Mango", ColorOrange, pint(0)},
			{"4", "Cherry", ColorRed, pint(0)},
		}, actual)
	})

	t.Run("ListFilterJSONTags", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Tagged{ID: "a", UserName: "alice", Active: true},
			Tagged{ID: "b", UserName: "bob"},
		))

		actual := []Tagged{}
		require.NoError(t, store.List(ctx, &actual, Tagged{UserName: "bob"}))
		assert.Equal(t, []Tagged{{ID: "b", UserName: "bob"}}, actual)
	})

	t.Run("Exists", func(t *testing.T) {
		ctx := t.Context()
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Fruit{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, &Fruit{ID: "3", Name: "Mango"}))

		exists, err = store.Exists(ctx, "3", &Fruit{})
		require.NoError(t, err)
		assert.True(t, exists)
	})
}
