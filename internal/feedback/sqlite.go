package feedback

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS classification_feedback (
	doc_hash   TEXT PRIMARY KEY,
	tipo       TEXT NOT NULL,
	ramo       TEXT NOT NULL,
	confidence REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tipo, ramo, confidence FROM classification_feedback WHERE doc_hash = ?`,
		hashKey(key),
	)
	var rec Record
	err := row.Scan(&rec.Tipo, &rec.Ramo, &rec.Confidence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get feedback")
	}
	return &rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO classification_feedback (doc_hash, tipo, ramo, confidence)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(doc_hash) DO UPDATE SET
		     tipo = excluded.tipo,
		     ramo = excluded.ramo,
		     confidence = excluded.confidence,
		     updated_at = datetime('now')`,
		hashKey(key), rec.Tipo, rec.Ramo, rec.Confidence,
	)
	return eris.Wrap(err, "sqlite: save feedback")
}
