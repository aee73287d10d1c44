package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses, also satisfied
// by pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS classification_feedback (
	doc_hash   TEXT PRIMARY KEY,
	tipo       TEXT NOT NULL,
	ramo       TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT tipo, ramo, confidence FROM classification_feedback WHERE doc_hash = $1`,
		hashKey(key),
	)
	var rec Record
	err := row.Scan(&rec.Tipo, &rec.Ramo, &rec.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get feedback")
	}
	return &rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO classification_feedback (doc_hash, tipo, ramo, confidence)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (doc_hash) DO UPDATE SET
		     tipo = excluded.tipo,
		     ramo = excluded.ramo,
		     confidence = excluded.confidence,
		     updated_at = now()`,
		hashKey(key), rec.Tipo, rec.Ramo, rec.Confidence,
	)
	return eris.Wrap(err, "postgres: save feedback")
}
