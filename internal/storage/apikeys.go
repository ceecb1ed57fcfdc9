package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

const apiKeyPrefix = "taas_ak_"

// APIKey is an issued admission-API credential.
type APIKey struct {
	ID              int64
	Name            string
	Project         string
	RateLimitPerMin int
	Active          bool
}

// APIKeyStore manages issuance, lookup, and administration of API keys.
type APIKeyStore interface {
	// InsertAPIKey generates a new raw key, stores its hash, and returns the
	// raw key alongside the stored record. The raw key is never persisted
	// and is returned exactly once.
	InsertAPIKey(ctx context.Context, name, project string, rateLimitPerMin int) (rawKey string, key *APIKey, err error)
	// VerifyAPIKey resolves a raw key presented on a request to its stored
	// record, regardless of whether the key is active. Callers decide how
	// to treat an inactive key. Returns ErrAPIKeyNotFound if raw matches
	// no stored key.
	VerifyAPIKey(ctx context.Context, raw string) (*APIKey, error)
	// ListAPIKeys returns keys ordered newest first, optionally filtered by project.
	ListAPIKeys(ctx context.Context, project string) ([]*APIKey, error)
	// UpdateAPIKey applies the non-nil fields to the key identified by id.
	UpdateAPIKey(ctx context.Context, id int64, active *bool, rateLimitPerMin *int) (*APIKey, error)
	HealthCheck(ctx context.Context) error
}

type apiKeyStore struct {
	db *Connection
}

// NewAPIKeyStore returns a Postgres-backed APIKeyStore.
func NewAPIKeyStore(db *Connection) APIKeyStore {
	return &apiKeyStore{db: db}
}

// generateRawAPIKey produces a taas_ak_-prefixed key with 32 random bytes
// of hex-encoded entropy.
func generateRawAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(buf), nil
}

// hashAPIKey computes the lookup hash for a raw key, mirroring the
// gateway's plain SHA-256 _hash_key.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))

	return hex.EncodeToString(sum[:])
}

func (s *apiKeyStore) InsertAPIKey(
	ctx context.Context, name, project string, rateLimitPerMin int,
) (string, *APIKey, error) {
	raw, err := generateRawAPIKey()
	if err != nil {
		return "", nil, err
	}

	const query = `
		insert into api_keys(name, project, key_hash, rate_limit_per_min, active)
		values ($1, $2, $3, $4, true)
		returning id, name, project, rate_limit_per_min, active`

	key := &APIKey{}

	row := s.db.QueryRowContext(ctx, query, name, project, hashAPIKey(raw), rateLimitPerMin)
	if err := row.Scan(&key.ID, &key.Name, &key.Project, &key.RateLimitPerMin, &key.Active); err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}

	return raw, key, nil
}

func (s *apiKeyStore) VerifyAPIKey(ctx context.Context, raw string) (*APIKey, error) {
	if raw == "" {
		return nil, ErrAPIKeyNotFound
	}

	const query = `
		select id, name, project, rate_limit_per_min, active
		from api_keys where key_hash = $1`

	key := &APIKey{}

	row := s.db.QueryRowContext(ctx, query, hashAPIKey(raw))
	if err := row.Scan(&key.ID, &key.Name, &key.Project, &key.RateLimitPerMin, &key.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}

		return nil, fmt.Errorf("verify api key: %w", err)
	}

	return key, nil
}

func (s *apiKeyStore) ListAPIKeys(ctx context.Context, project string) ([]*APIKey, error) {
	query := `select id, name, project, rate_limit_per_min, active from api_keys`

	args := []any{}
	if project != "" {
		query += ` where project = $1`
		args = append(args, project)
	}

	query += ` order by id desc limit 100`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey

	for rows.Next() {
		key := &APIKey{}
		if err := rows.Scan(&key.ID, &key.Name, &key.Project, &key.RateLimitPerMin, &key.Active); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}

		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *apiKeyStore) UpdateAPIKey(
	ctx context.Context, id int64, active *bool, rateLimitPerMin *int,
) (*APIKey, error) {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	argN := 1

	if active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", argN))
		args = append(args, *active)
		argN++
	}

	if rateLimitPerMin != nil {
		sets = append(sets, fmt.Sprintf("rate_limit_per_min = $%d", argN))
		args = append(args, *rateLimitPerMin)
		argN++
	}

	if len(sets) == 0 {
		return nil, errors.New("update api key: no fields to update")
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"update api_keys set %s where id = $%d returning id, name, project, rate_limit_per_min, active",
		joinClauses(sets), argN,
	)

	key := &APIKey{}

	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&key.ID, &key.Name, &key.Project, &key.RateLimitPerMin, &key.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}

		return nil, fmt.Errorf("update api key: %w", err)
	}

	return key, nil
}

func (s *apiKeyStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}

	return out
}
