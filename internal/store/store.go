// Package store persists collected config URIs. The line-per-URI text
// artifact is authoritative; Store mirrors it into Postgres when configured.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/tgcollector/internal/extractor"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_uris (
	uri           TEXT PRIMARY KEY,
	scheme        TEXT NOT NULL,
	run_id        UUID NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store mirrors config URIs into Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and ensures the config_uris table exists.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// WriteConfigs inserts uris tagged with the run that found them. URIs already
// present keep their original run and timestamp. It returns the number of
// rows actually inserted.
func (s *Store) WriteConfigs(ctx context.Context, runID uuid.UUID, uris []string) (int, error) {
	if len(uris) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, uri := range uris {
		tag, err := tx.Exec(ctx, `
			INSERT INTO config_uris (uri, scheme, run_id, first_seen_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (uri) DO NOTHING`,
			uri, extractor.Scheme(uri), runID,
		)
		if err != nil {
			return 0, fmt.Errorf("insert config: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// CountConfigs returns the number of mirrored URIs per scheme.
func (s *Store) CountConfigs(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT scheme, count(*) FROM config_uris GROUP BY scheme`)
	if err != nil {
		return nil, fmt.Errorf("count configs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var scheme string
		var n int
		if err := rows.Scan(&scheme, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[scheme] = n
	}
	return counts, rows.Err()
}
