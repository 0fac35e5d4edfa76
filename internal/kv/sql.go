package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Tiliavir/duty-time-tracker/migrator/sqlite"
)

// dbConn lets the same queries run on *sql.DB and *sql.Tx.
type dbConn interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// SQLStore keeps every key as a row of the kv_entries table.
type SQLStore struct {
	db *sql.DB
	sqlOps
}

type sqlOps struct {
	conn dbConn
	now  func() time.Time
}

// OpenSQLite opens the database at path and runs the migrations.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, unavailable("opening database", path, err)
	}
	// One connection keeps ":memory:" databases intact and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, unavailable("configuring database", path, err)
	}
	if err := sqlite.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: running migrations: %w", err)
	}
	return NewSQLStore(db), nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, sqlOps: sqlOps{conn: db, now: time.Now}}
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithTransaction runs fn inside a SQL transaction.
func (s *SQLStore) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("beginning transaction", "", err)
	}

	err = fn(&sqlOps{conn: tx, now: s.now})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("error rolling back transaction: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing transaction", "", err)
	}
	return nil
}

func (o *sqlOps) Get(key string) (string, bool, error) {
	var value string
	err := o.conn.QueryRow(`SELECT value FROM kv_entries WHERE name = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("reading", key, err)
	}
	return value, true, nil
}

func (o *sqlOps) Keys(prefix string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = o.conn.Query(`SELECT name FROM kv_entries ORDER BY name`)
	} else {
		rows, err = o.conn.Query(`SELECT name FROM kv_entries WHERE instr(name, ?) = 1 ORDER BY name`, prefix)
	}
	if err != nil {
		return nil, unavailable("listing", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("scanning", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing", prefix, err)
	}
	return keys, nil
}

func (o *sqlOps) Set(key, value string) error {
	query := `
		INSERT INTO kv_entries (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := o.conn.Exec(query, key, value, o.now().UnixMilli()); err != nil {
		return unavailable("writing", key, err)
	}
	return nil
}

func (o *sqlOps) Remove(key string) error {
	if _, err := o.conn.Exec(`DELETE FROM kv_entries WHERE name = ?`, key); err != nil {
		return unavailable("removing", key, err)
	}
	return nil
}
