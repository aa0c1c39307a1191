// Package mirror persists resolved identities into PostgreSQL for the
// mirrored resolution strategy.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"iam-gateway/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Connection pool configuration constants
const (
	maxConns        = int32(25)
	minConns        = int32(2)
	maxConnLifetime = time.Hour
	maxConnIdleTime = 30 * time.Minute
)

// DatabaseIface is the subset of pgxpool.Pool used by the mirror.
type DatabaseIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// NewPool opens a connection pool for databaseURL and checks connectivity.
func NewPool(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = maxConnLifetime
	poolConfig.MaxConnIdleTime = maxConnIdleTime

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"max_conns", poolConfig.MaxConns)

	return pool, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS iam_users (
	id            BIGSERIAL PRIMARY KEY,
	iam_id        TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT,
	department_id TEXT,
	position_id   TEXT,
	status        TEXT NOT NULL DEFAULT 'active',
	synced_at     TIMESTAMPTZ NOT NULL
)`

const upsertSQL = `
INSERT INTO iam_users (iam_id, email, name, phone, department_id, position_id, status, synced_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (email) DO UPDATE SET
	iam_id        = EXCLUDED.iam_id,
	name          = EXCLUDED.name,
	phone         = EXCLUDED.phone,
	department_id = EXCLUDED.department_id,
	position_id   = EXCLUDED.position_id,
	status        = EXCLUDED.status,
	synced_at     = EXCLUDED.synced_at
RETURNING id`

// PostgresMirror implements domain.IdentityMirror on the iam_users table.
type PostgresMirror struct {
	db     DatabaseIface
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresMirror creates a new mirror over db.
func NewPostgresMirror(db DatabaseIface, logger *slog.Logger) *PostgresMirror {
	return &PostgresMirror{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the iam_users table when missing.
func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: create iam_users: %w", domain.ErrMirror, err)
	}
	return nil
}

// Upsert writes identity keyed by email and returns a copy carrying the local row id.
func (m *PostgresMirror) Upsert(ctx context.Context, identity *domain.Identity) (*domain.Identity, error) {
	if identity == nil || identity.Email == "" {
		return nil, fmt.Errorf("%w: identity without email cannot be mirrored", domain.ErrMirror)
	}

	var id int64
	err := m.db.QueryRow(ctx, upsertSQL,
		identity.ID,
		identity.Email,
		identity.Name,
		nullable(identity.Phone),
		nullable(identity.DepartmentID),
		nullable(identity.PositionID),
		identity.Status,
		m.now().UTC(),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert %s: %w", domain.ErrMirror, identity.ID, err)
	}

	mirrored := identity.Clone()
	mirrored.LocalID = strconv.FormatInt(id, 10)
	m.logger.DebugContext(ctx, "identity mirrored", "iam_id", identity.ID, "local_id", mirrored.LocalID)
	return mirrored, nil
}

// HealthCheck pings the database.
func (m *PostgresMirror) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.db.Ping(ctx)
}

// Close releases the pool.
func (m *PostgresMirror) Close() {
	m.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
