package sqlitestore

import (
	"path/filepath"
	"testing"

	"github.com/dpup/obsidian/storage"
	"github.com/dpup/obsidian/storage/storagetests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteStore(t *testing.T) {
	storagetests.Run(t, func() storage.Store {
		return New(":memory:")
	})
}

func TestSqliteStore_File(t *testing.T) {
	dir := t.TempDir()
	i := 0
	storagetests.Run(t, func() storage.Store {
		i++
		s := New(filepath.Join(dir, "store"+string(rune('a'+i))+".db"), WithPrefix("test_"))
		t.Cleanup(func() { _ = s.(*store).Close() })
		return s
	})
}

type Vehicle struct {
	ID     string
	Type   string `json:"type"`
	Wheels int
	Mods   *string
}

func (v Vehicle) PK() string {
	return v.ID
}

func TestBuildListQuery(t *testing.T) {
	s := &store{prefix: "custom_"}
	empty := ""
	tests := []struct {
		name   string
		filter storage.Model
		query  string
		params []any
	}{
		{
			"empty",
			Vehicle{},
			"SELECT value FROM custom_store WHERE entity_type = ? ORDER BY id",
			[]any{"vehicles"},
		},
		{
			"tagged field",
			Vehicle{Type: "car"},
			"SELECT value FROM custom_store WHERE entity_type = ? AND json_extract(value, '$.type') = ? ORDER BY id",
			[]any{"vehicles", "car"},
		},
		{
			"int and empty pointer",
			Vehicle{Wheels: 4, Mods: &empty},
			"SELECT value FROM custom_store WHERE entity_type = ? AND json_extract(value, '$.Wheels') = ? AND json_extract(value, '$.Mods') = ? ORDER BY id",
			[]any{"vehicles", 4, ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, p := s.buildListQuery(tt.filter)
			assert.Equal(t, tt.query, q)
			assert.Equal(t, tt.params, p)
		})
	}
}

func TestSafeNew_BadPath(t *testing.T) {
	_, err := SafeNew(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
}
