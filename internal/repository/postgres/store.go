// Package postgres implements the session, usage, and prompt stores on a
// pgx connection pool.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}
