package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lutefd/telemetry-api/internal/projections"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveRollup upserts by window start so a re-projected interval replaces the
// earlier row and keeps its id.
func (s *Store) SaveRollup(ctx context.Context, r projections.Rollup) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	endpoints, err := json.Marshal(r.Endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO metric_rollups (
			id, window_start, window_end, total_requests, failed_requests,
			average_response_time_ms, summary, endpoints, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (window_start)
		DO UPDATE SET
			window_end = EXCLUDED.window_end,
			total_requests = EXCLUDED.total_requests,
			failed_requests = EXCLUDED.failed_requests,
			average_response_time_ms = EXCLUDED.average_response_time_ms,
			summary = EXCLUDED.summary,
			endpoints = EXCLUDED.endpoints,
			created_at = EXCLUDED.created_at
	`, r.ID, r.WindowStart, r.WindowEnd, r.Summary.TotalRequests, r.Summary.FailedRequests,
		r.Summary.AverageResponseTimeMs, summary, endpoints, r.CreatedAt)
	return err
}

// ListRollups returns rollups whose window starts in [from, to), oldest first.
func (s *Store) ListRollups(ctx context.Context, from, to time.Time) ([]projections.Rollup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, window_start, window_end, summary, endpoints, created_at
		FROM metric_rollups
		WHERE window_start >= $1 AND window_start < $2
		ORDER BY window_start ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]projections.Rollup, 0)
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

func scanRollup(row pgx.Row) (projections.Rollup, error) {
	var (
		r                  projections.Rollup
		summary, endpoints []byte
	)
	if err := row.Scan(&r.ID, &r.WindowStart, &r.WindowEnd, &summary, &endpoints, &r.CreatedAt); err != nil {
		return projections.Rollup{}, err
	}
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return projections.Rollup{}, fmt.Errorf("decode summary of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(endpoints, &r.Endpoints); err != nil {
		return projections.Rollup{}, fmt.Errorf("decode endpoints of %s: %w", r.ID, err)
	}
	r.WindowStart = r.WindowStart.UTC()
	r.WindowEnd = r.WindowEnd.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}
