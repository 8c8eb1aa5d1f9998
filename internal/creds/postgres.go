package creds

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the credentials table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    identity   TEXT PRIMARY KEY,
    endpoint   TEXT NOT NULL,
    secret     TEXT NOT NULL DEFAULT '',
    device_id  TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL table. Use it instead
// of [FileStore] when the bot runs on more than one host.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore using the given connection or
// pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL, creating the credentials table if it
// does not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creds: migrate: %w", err)
	}
	return nil
}

// Get returns the credential for identity or [ErrNotFound].
func (s *PostgresStore) Get(ctx context.Context, identity string) (Credential, error) {
	var cred Credential
	err := s.db.QueryRow(ctx,
		`SELECT endpoint, secret, device_id FROM credentials WHERE identity = $1`,
		identity,
	).Scan(&cred.Endpoint, &cred.Secret, &cred.DeviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("creds: get %s: %w", identity, err)
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("creds: stored credential for %s is invalid: %w", identity, err)
	}
	return cred, nil
}

// Put stores or replaces the credential for identity.
func (s *PostgresStore) Put(ctx context.Context, identity string, cred Credential) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO credentials (identity, endpoint, secret, device_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identity) DO UPDATE SET
    endpoint   = EXCLUDED.endpoint,
    secret     = EXCLUDED.secret,
    device_id  = EXCLUDED.device_id,
    updated_at = now()`,
		identity, cred.Endpoint, cred.Secret, cred.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("creds: put %s: %w", identity, err)
	}
	return nil
}

// Delete removes the credential for identity. Absent rows are not an error.
func (s *PostgresStore) Delete(ctx context.Context, identity string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM credentials WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("creds: delete %s: %w", identity, err)
	}
	return nil
}
