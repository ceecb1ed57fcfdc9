package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Result is one recorded outcome for a session. Summary carries the
// executor's arbitrary structured findings (policy verdict, lighthouse
// scores, visual diff stats, scan findings, and so on).
type Result struct {
	ID        int64
	SessionID string
	Summary   json.RawMessage
	CreatedAt time.Time
}

// ResultStore manages test_results rows.
type ResultStore interface {
	AppendResult(ctx context.Context, sessionID string, summary json.RawMessage) (*Result, error)
	LatestResult(ctx context.Context, sessionID string) (*Result, error)
	ListResults(ctx context.Context, sessionID string, limit, offset int) ([]*Result, error)
	GetResult(ctx context.Context, id int64) (*Result, error)
	HealthCheck(ctx context.Context) error
}

type resultStore struct {
	db *Connection
}

// NewResultStore returns a Postgres-backed ResultStore.
func NewResultStore(db *Connection) ResultStore {
	return &resultStore{db: db}
}

func (s *resultStore) AppendResult(ctx context.Context, sessionID string, summary json.RawMessage) (*Result, error) {
	const query = `
		insert into test_results(session_id, summary)
		values ($1, $2)
		returning id, session_id, summary, created_at`

	res := &Result{}

	row := s.db.QueryRowContext(ctx, query, sessionID, summary)
	if err := row.Scan(&res.ID, &res.SessionID, &res.Summary, &res.CreatedAt); err != nil {
		return nil, fmt.Errorf("append result: %w", err)
	}

	return res, nil
}

func (s *resultStore) LatestResult(ctx context.Context, sessionID string) (*Result, error) {
	const query = `
		select id, session_id, summary, created_at from test_results
		where session_id = $1 order by created_at desc limit 1`

	res := &Result{}

	row := s.db.QueryRowContext(ctx, query, sessionID)
	if err := row.Scan(&res.ID, &res.SessionID, &res.Summary, &res.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}

		return nil, fmt.Errorf("latest result: %w", err)
	}

	return res, nil
}

func (s *resultStore) ListResults(ctx context.Context, sessionID string, limit, offset int) ([]*Result, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		select id, session_id, summary, created_at from test_results
		where session_id = $1 order by created_at desc limit $2 offset $3`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*Result

	for rows.Next() {
		res := &Result{}
		if err := rows.Scan(&res.ID, &res.SessionID, &res.Summary, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}

		results = append(results, res)
	}

	return results, rows.Err()
}

func (s *resultStore) GetResult(ctx context.Context, id int64) (*Result, error) {
	const query = `select id, session_id, summary, created_at from test_results where id = $1`

	res := &Result{}

	row := s.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&res.ID, &res.SessionID, &res.Summary, &res.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}

		return nil, fmt.Errorf("get result: %w", err)
	}

	return res, nil
}

func (s *resultStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}
