package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/awebhq/aweb/internal/common/config"
)

// NewSQLXReader opens a second, read-oriented connection pool over the
// same Postgres database that *DB serves, for the handful of list queries
// (GET /v1/conversations) that are naturally expressed as aggregate SQL
// rather than scanned row-by-row through pgx. Mirrors the reader/writer
// split a connection Pool would apply for a single-writer store, scoped
// down to "one extra pool for read-heavy listing" since Postgres itself
// already pools writers internally.
func NewSQLXReader(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlx reader pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	return db, nil
}
