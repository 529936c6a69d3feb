// Package sqlitestore provides a SQLite implementation of storage.Store. All
// collections share one table keyed by (id, entity_type) with the record
// stored as JSON.
//
//	store, err := sqlitestore.SafeNew("file:obsidian.db?_busy_timeout=5000")
//	store := sqlitestore.New(":memory:")
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/storage"
	"github.com/mattn/go-sqlite3"
)

// Option configures the store.
type Option func(*store)

// WithPrefix overrides the default table prefix of "obsidian_".
func WithPrefix(prefix string) Option {
	return func(s *store) {
		s.prefix = prefix
	}
}

// New returns a SQLite backed store and panics if the database can not be
// opened or initialized.
func New(conn string, opts ...Option) storage.Store {
	s, err := SafeNew(conn, opts...)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// SafeNew is like New but returns errors instead of panicking.
func SafeNew(conn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "sqlitestore: open", 0)
	}
	// SQLite serializes writers and every ":memory:" connection is its own
	// database, so a single connection is used.
	db.SetMaxOpenConns(1)

	s := &store{db: db, prefix: "obsidian_"}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db     *sql.DB
	prefix string
}

func (s *store) table() string {
	return s.prefix + "store"
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models,
		"INSERT INTO "+s.table()+" (id, entity_type, value) VALUES (?, ?, ?)", false)
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models,
		"INSERT INTO "+s.table()+" (id, entity_type, value) VALUES (?, ?, ?) "+
			"ON CONFLICT(id, entity_type) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP", false)
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.exec(ctx, models,
		"UPDATE "+s.table()+" SET value = ?3, updated_at = CURRENT_TIMESTAMP WHERE id = ?1 AND entity_type = ?2", true)
}

// exec runs query once per model inside a transaction, binding (id,
// entity_type, value).
func (s *store) exec(ctx context.Context, models []storage.Model, query string, mustExist bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return translateError(err)
	}
	defer stmt.Close()

	for _, m := range models {
		value, err := json.Marshal(m)
		if err != nil {
			return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 0), err.Error(), 0)
		}
		res, err := stmt.ExecContext(ctx, m.PK(), storage.Name(m), value)
		if err != nil {
			return translateError(err)
		}
		if mustExist {
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return errors.Mark(storage.ErrNotFound, 0)
			}
		}
	}
	return translateError(tx.Commit())
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM "+s.table()+" WHERE id = ? AND entity_type = ?", id, storage.Name(model)).Scan(&value)
	if err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 0), err.Error(), 0)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+s.table()+" WHERE id = ? AND entity_type = ?", model.PK(), storage.Name(model))
	if err != nil {
		return translateError(err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+s.table()+" WHERE id = ? AND entity_type = ?", id, storage.Name(model)).Scan(&n)
	if err != nil {
		return false, translateError(err)
	}
	return n > 0, nil
}

func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	slice, elemType, err := storage.ListTarget(models, filter)
	if err != nil {
		return err
	}

	query, args := s.buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return translateError(err)
		}
		elem := reflect.New(elemType)
		if err := json.Unmarshal(value, elem.Interface()); err != nil {
			return errors.WrapPrefix(errors.Mark(storage.ErrInvalidModel, 0), err.Error(), 0)
		}
		slice.Set(reflect.Append(slice, elem.Elem()))
	}
	return translateError(rows.Err())
}

func (s *store) buildListQuery(filter storage.Model) (string, []any) {
	where := []string{"entity_type = ?"}
	args := []any{storage.Name(filter)}
	for _, f := range storage.FilterFields(filter) {
		where = append(where, fmt.Sprintf("json_extract(value, '$.%s') = ?", f.Key))
		args = append(args, f.Value)
	}
	return "SELECT value FROM " + s.table() + " WHERE " + strings.Join(where, " AND ") + " ORDER BY id", args
}

func (s *store) ensureTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + s.table() + ` (
		id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		value BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	)`)
	if err != nil {
		return errors.WrapPrefix(err, "sqlitestore: create table", 0)
	}
	return nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 1)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 1)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 1)
		}
	}
	return errors.Wrap(err, 1)
}
