package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryan-buckman/chanmirror/internal/model"
)

// sqlStore implements Store on top of database/sql. The SQLite and PostgreSQL
// backends share it and differ only in schema and placeholder syntax.
type sqlStore struct {
	conn     *sql.DB
	numbered bool // use $1, $2 placeholders
}

// q rewrites ? placeholders for drivers that need numbered ones.
func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func (s *sqlStore) Get(ctx context.Context, container, key string) (model.Lookup[[]byte], error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx, s.q("SELECT value FROM kv WHERE container = ? AND name = ?"), container, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Missing[[]byte](), nil
	}
	if err != nil {
		return model.Lookup[[]byte]{}, err
	}
	return model.Found(value), nil
}

func (s *sqlStore) Set(ctx context.Context, container, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx, s.q(`
		INSERT INTO kv (container, name, value) VALUES (?, ?, ?)
		ON CONFLICT (container, name) DO UPDATE SET value = excluded.value`),
		container, key, value)
	return err
}

func (s *sqlStore) CreateList(ctx context.Context, owner string) (ListHandle, error) {
	var id int64
	err := s.conn.QueryRowContext(ctx, s.q("INSERT INTO lists (owner) VALUES (?) RETURNING id"), owner).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create list: %w", err)
	}
	return ListHandle(id), nil
}

func (s *sqlStore) List(ctx context.Context, list ListHandle) (model.Lookup[[][]byte], error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.Lookup[[][]byte]{}, err
	}
	defer tx.Rollback()

	values, err := s.entries(ctx, tx, list)
	if errors.Is(err, ErrNoList) {
		return model.Missing[[][]byte](), nil
	}
	if err != nil {
		return model.Lookup[[][]byte]{}, err
	}
	return model.Found(values), tx.Commit()
}

func (s *sqlStore) entries(ctx context.Context, tx *sql.Tx, list ListHandle) ([][]byte, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, s.q("SELECT EXISTS(SELECT 1 FROM lists WHERE id = ?)"), int64(list)).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoList
	}
	rows, err := tx.QueryContext(ctx, s.q("SELECT value FROM list_entries WHERE list_id = ? ORDER BY pos"), int64(list))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := [][]byte{}
	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *sqlStore) Append(ctx context.Context, list ListHandle, values ...[]byte) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, s.q("SELECT EXISTS(SELECT 1 FROM lists WHERE id = ?)"), int64(list)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNoList
	}
	var last int64
	err = tx.QueryRowContext(ctx, s.q("SELECT COALESCE(MAX(pos), -1) FROM list_entries WHERE list_id = ?"), int64(list)).Scan(&last)
	if err != nil {
		return err
	}
	if err := s.insertEntries(ctx, tx, list, last+1, values); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) Splice(ctx context.Context, list ListHandle, start, deleteCount int, values ...[]byte) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := s.entries(ctx, tx, list)
	if err != nil {
		return err
	}
	next := splice(cur, start, deleteCount, values...)
	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM list_entries WHERE list_id = ?"), int64(list)); err != nil {
		return err
	}
	if err := s.insertEntries(ctx, tx, list, 0, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) insertEntries(ctx context.Context, tx *sql.Tx, list ListHandle, from int64, values [][]byte) error {
	if len(values) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, s.q("INSERT INTO list_entries (list_id, pos, value) VALUES (?, ?, ?)"))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, v := range values {
		if _, err := stmt.ExecContext(ctx, int64(list), from+int64(i), v); err != nil {
			return err
		}
	}
	return nil
}
