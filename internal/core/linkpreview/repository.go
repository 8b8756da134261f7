package linkpreview

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore implements Store on the link_preview_cache table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed preview store
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db", ErrNilDependency)
	}
	return &PostgresStore{db: db}, nil
}

func (r *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	query := `
		SELECT entry
		FROM link_preview_cache
		WHERE cache_key = $1
	`

	var entry []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link preview cache entry: %w", err)
	}

	return entry, nil
}

func (r *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	query := `
		INSERT INTO link_preview_cache (cache_key, entry, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE
		SET entry = EXCLUDED.entry,
		    updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, key, string(value)); err != nil {
		return fmt.Errorf("failed to insert/update link preview cache entry: %w", err)
	}
	return nil
}

func (r *PostgresStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM link_preview_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete link preview cache entry: %w", err)
	}
	return nil
}

func (r *PostgresStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	query := `DELETE FROM link_preview_cache WHERE cache_key LIKE $1 ESCAPE '\'`

	res, err := r.db.ExecContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to clear link preview cache: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared entries: %w", err)
	}
	return int(n), nil
}

// escapeLike escapes LIKE metacharacters so prefix matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
