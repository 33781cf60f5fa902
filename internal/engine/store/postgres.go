package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/crimson-sun/watchdog/internal/model"
)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS watchdog_collections (
    name       TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS watchdog_vectors (
    seq        BIGSERIAL PRIMARY KEY,
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    document   TEXT NOT NULL,
    metadata   JSONB NOT NULL,
    embedding  vector NOT NULL,
    UNIQUE (collection, id)
);`

// Postgres is a Collection backed by PostgreSQL with the pgvector
// extension. Distance ordering happens in the database (<=> is cosine
// distance).
type Postgres struct {
	db       *sql.DB
	name     string
	location string
}

// OpenPostgres connects to dsn and ensures the schema and collection exist.
func OpenPostgres(ctx context.Context, dsn, name string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	p := &Postgres{db: db, name: name, location: redactDSN(dsn)}
	if err := p.ensure(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensure(ctx context.Context, ex execer) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO watchdog_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, p.name)
	if err != nil {
		return fmt.Errorf("postgres: create collection %s: %w", p.name, err)
	}
	return nil
}

func (p *Postgres) Name() string     { return p.name }
func (p *Postgres) Location() string { return p.location }

func (p *Postgres) Add(ctx context.Context, vecs []model.StoredVector) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watchdog_vectors (collection, id, document, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)`)
	if err != nil {
		return fmt.Errorf("postgres: prepare: %w", err)
	}
	defer stmt.Close()

	for _, v := range vecs {
		md, err := json.Marshal(v.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: %w for %s: %w", ErrInvalidMetadata, v.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.name, v.ID, v.Document, string(md), vectorLiteral(v.Embedding)); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrDuplicateID, v.ID)
			}
			return fmt.Errorf("postgres: insert %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) Query(ctx context.Context, vec []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document, metadata, embedding <=> $2::vector AS distance
		FROM watchdog_vectors
		WHERE collection = $1
		ORDER BY distance, seq
		LIMIT $3`, p.name, vectorLiteral(vec), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m      Match
			mdJSON []byte
			dist   sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.Document, &mdJSON, &dist); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if m.Metadata, err = decodeMetadata(mdJSON); err != nil {
			return nil, fmt.Errorf("postgres: %s: %w", m.ID, err)
		}
		// pgvector yields NaN/NULL for zero vectors; treat as orthogonal.
		m.Distance = 1
		if dist.Valid && !math.IsNaN(dist.Float64) {
			m.Distance = dist.Float64
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return matches, nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watchdog_vectors WHERE collection = $1`, p.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (p *Postgres) Reset(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchdog_vectors WHERE collection = $1`, p.name); err != nil {
		return fmt.Errorf("postgres: clear vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM watchdog_collections WHERE name = $1`, p.name); err != nil {
		return fmt.Errorf("postgres: drop collection: %w", err)
	}
	if err := p.ensure(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) Close() error { return p.db.Close() }

// vectorLiteral formats v in pgvector's text form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// redactDSN drops credentials so the location can be logged and reported.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "postgres"
	}
	return u.Host + u.Path
}
