package postgres

import (
	"context"
	"database/sql"
	"time"

	"browsermcp/internal/config"
	"browsermcp/internal/tokens"
)

const tokensDDL = `CREATE TABLE IF NOT EXISTS tokens (
	token TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 60,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

// TokenRepository reads API tokens from the tokens table.
type TokenRepository struct {
	DB  *DB
	DSN string
}

func NewTokenRepository(cfg config.PostgresConfig) (*TokenRepository, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return &TokenRepository{DB: &DB{}, DSN: dsn}, nil
}

func (r *TokenRepository) LoadTokens(ctx context.Context) (map[string]tokens.Entry, error) {
	db, err := r.DB.Get(ctx, r.DSN)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, tokensDDL); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit, comment FROM tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]tokens.Entry)
	for rows.Next() {
		var (
			token   string
			limit   int
			comment sql.NullString
		)
		if err := rows.Scan(&token, &limit, &comment); err != nil {
			return nil, err
		}
		out[token] = tokens.Entry{RateLimit: limit, Comment: comment.String}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TokenRepository) Close() error { return r.DB.Close() }
