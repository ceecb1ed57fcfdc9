package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is a single test-session row: one admitted job and its lifecycle state.
type Session struct {
	ID        string
	Project   string
	Kind      string
	TestType  string
	Status    string
	Payload   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionFilter narrows ListSessions to a subset of sessions.
type SessionFilter struct {
	Project  string
	Kind     string
	Status   string
	TestType string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// ProjectCount is one row of the project/session-count rollup.
type ProjectCount struct {
	Project  string
	Sessions int64
}

// SessionStore manages test_sessions rows.
type SessionStore interface {
	// UpsertSession inserts a new session or, if id already exists, updates
	// its status and updated_at, mirroring the gateway's admission upsert.
	// payload is the original request as submitted, persisted so a later
	// retry can re-enqueue the same job rather than a prior result summary.
	UpsertSession(ctx context.Context, id, project, kind, testType, status string, payload json.RawMessage) error
	// UpdateSessionStatus transitions an existing session to status.
	UpdateSessionStatus(ctx context.Context, id, status string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	ListProjects(ctx context.Context) ([]*ProjectCount, error)
	HealthCheck(ctx context.Context) error
}

type sessionStore struct {
	db *Connection
}

// NewSessionStore returns a Postgres-backed SessionStore.
func NewSessionStore(db *Connection) SessionStore {
	return &sessionStore{db: db}
}

func (s *sessionStore) UpsertSession(ctx context.Context, id, project, kind, testType, status string, payload json.RawMessage) error {
	const query = `
		insert into test_sessions(id, project, kind, test_type, status, payload)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do update set status = excluded.status, updated_at = now()`

	if _, err := s.db.ExecContext(ctx, query, id, nullIfEmpty(project), kind, testType, status, nullIfEmptyJSON(payload)); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return nil
}

func (s *sessionStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	const query = `update test_sessions set status = $1, updated_at = now() where id = $2`

	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	if n == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (s *sessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const query = `
		select id, coalesce(project, ''), kind, test_type, status, payload, created_at, updated_at
		from test_sessions where id = $1`

	sess := &Session{}

	row := s.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&sess.ID, &sess.Project, &sess.Kind, &sess.TestType, &sess.Status, &sess.Payload, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}

		return nil, fmt.Errorf("get session: %w", err)
	}

	return sess, nil
}

func (s *sessionStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error) {
	query := `select id, coalesce(project, ''), kind, test_type, status, created_at, updated_at from test_sessions`

	var (
		where []string
		args  []any
	)

	addClause := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Project != "" {
		addClause("project = $%d", filter.Project)
	}

	if filter.Kind != "" {
		addClause("kind = $%d", filter.Kind)
	}

	if filter.Status != "" {
		addClause("status = $%d", filter.Status)
	}

	if filter.TestType != "" {
		addClause("test_type = $%d", filter.TestType)
	}

	if filter.Since != nil {
		addClause("created_at >= $%d", *filter.Since)
	}

	if filter.Until != nil {
		addClause("created_at <= $%d", *filter.Until)
	}

	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	} else if limit > 200 {
		limit = 200
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" order by created_at desc limit $%d offset $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session

	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Project, &sess.Kind, &sess.TestType, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

func (s *sessionStore) ListProjects(ctx context.Context) ([]*ProjectCount, error) {
	const query = `
		select coalesce(project, ''), count(*) as sessions
		from test_sessions group by project order by sessions desc nulls last`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*ProjectCount

	for rows.Next() {
		p := &ProjectCount{}
		if err := rows.Scan(&p.Project, &p.Sessions); err != nil {
			return nil, fmt.Errorf("scan project count: %w", err)
		}

		projects = append(projects, p)
	}

	return projects, rows.Err()
}

func (s *sessionStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullIfEmptyJSON(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}

	return []byte(payload)
}
