package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/crimson-sun/watchdog/internal/model"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteFile is the database file created inside the persist directory.
const SQLiteFile = "watchdog.db"

// SQLite is a Collection persisted in a SQLite database. Similarity is
// computed in process over the collection's rows.
type SQLite struct {
	db       *sql.DB
	name     string
	location string
}

// OpenSQLite opens (or creates) dir/watchdog.db and ensures the collection
// exists. dir ":memory:" keeps everything in process memory.
func OpenSQLite(ctx context.Context, dir, name string) (*SQLite, error) {
	location := ":memory:"
	if dir != ":memory:" {
		if dir == "" {
			dir = filepath.Join("data", "vector_store")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", dir, err)
		}
		location = filepath.Join(dir, SQLiteFile)
	}

	db, err := sql.Open("sqlite3", location)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", location, err)
	}
	if location == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	s := &SQLite{db: db, name: name, location: location}
	if err := s.ensure(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) ensure(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`,
		s.name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sqlite: create collection %s: %w", s.name, err)
	}
	return nil
}

func (s *SQLite) Name() string     { return s.name }
func (s *SQLite) Location() string { return s.location }

func (s *SQLite) Add(ctx context.Context, vecs []model.StoredVector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, id, document, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for _, v := range vecs {
		md, err := json.Marshal(v.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: %w for %s: %w", ErrInvalidMetadata, v.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, s.name, v.ID, v.Document, string(md), encodeEmbedding(v.Embedding)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrDuplicateID, v.ID)
			}
			return fmt.Errorf("sqlite: insert %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (s *SQLite) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document, metadata, embedding
		FROM vectors WHERE collection = ? ORDER BY seq`, s.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m        Match
			mdJSON   string
			embedded []byte
		)
		if err := rows.Scan(&m.ID, &m.Document, &mdJSON, &embedded); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		emb, err := decodeEmbedding(embedded)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", m.ID, err)
		}
		if m.Metadata, err = decodeMetadata([]byte(mdJSON)); err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", m.ID, err)
		}
		m.Distance = cosineDistance(vec, emb)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return nearest(matches, k), nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection = ?`, s.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ?`, s.name); err != nil {
		return fmt.Errorf("sqlite: clear vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, s.name); err != nil {
		return fmt.Errorf("sqlite: drop collection: %w", err)
	}
	if err := s.ensure(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }
