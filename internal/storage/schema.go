package storage

import (
	"context"
	"fmt"
)

// bootstrapSchema mirrors cmd/taas-migrate's 001_init_schema and
// 002_session_payload migrations. It
// exists so tests and local tooling can stand up a schema without running
// the migrator, the same way the gateway's ensure_schema() let the service
// create its own tables on first boot.
const bootstrapSchema = `
create table if not exists test_sessions (
  id uuid primary key,
  project text,
  kind text not null,
  test_type text not null,
  status text not null,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now(),
  payload jsonb
);

create index if not exists idx_test_sessions_project on test_sessions(project);
create index if not exists idx_test_sessions_status on test_sessions(status);
create index if not exists idx_test_sessions_created_at on test_sessions(created_at desc);

create table if not exists test_results (
  id bigserial primary key,
  session_id uuid references test_sessions(id) on delete cascade,
  summary jsonb,
  created_at timestamptz not null default now()
);

create index if not exists idx_test_results_session_id on test_results(session_id);
create index if not exists idx_test_results_created_at on test_results(created_at desc);

create table if not exists api_keys (
  id bigserial primary key,
  name text,
  project text,
  key_hash text not null,
  rate_limit_per_min int not null default 60,
  active boolean not null default true,
  created_at timestamptz not null default now()
);

create unique index if not exists idx_api_keys_hash on api_keys(key_hash);
`

// EnsureSchema creates the TaaS schema if it does not already exist. It is
// idempotent and safe to call on every process start; production
// deployments should prefer cmd/taas-migrate for ordered, versioned rollout.
func EnsureSchema(ctx context.Context, conn *Connection) error {
	if _, err := conn.ExecContext(ctx, bootstrapSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	return nil
}
