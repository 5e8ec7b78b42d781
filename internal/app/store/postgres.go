package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"collabsync/internal/pkg/logx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// NewPool initializes a PostgreSQL connection pool and applies the embedded migrations.
func NewPool(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logx.Info("Database migrations applied successfully.")
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres opens a pool on dsn, migrates it and returns the store.
func NewPostgres(dsn string) (*Postgres, error) {
	pool, err := NewPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateSession(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO collab_sessions (id, project_id, owner_id, started_at, last_activity, active)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.ProjectID, s.OwnerID, s.StartedAt, s.LastActivity, s.Active)
	if isUniqueViolation(err) {
		return ErrExists
	}
	return err
}

func (p *Postgres) UpsertSession(ctx context.Context, s Session) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO collab_sessions (id, project_id, owner_id, started_at, last_activity, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			project_id    = COALESCE(NULLIF(EXCLUDED.project_id, ''), collab_sessions.project_id),
			owner_id      = COALESCE(NULLIF(EXCLUDED.owner_id, ''), collab_sessions.owner_id),
			last_activity = EXCLUDED.last_activity,
			active        = EXCLUDED.active`,
		s.ID, s.ProjectID, s.OwnerID, s.StartedAt, s.LastActivity, s.Active)
	return err
}

func (p *Postgres) TouchSession(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collab_sessions SET last_activity = $2 WHERE id = $1 AND last_activity < $2`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// either unknown or already newer; only the former is an error.
		if _, err := p.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CloseSession(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE collab_sessions SET active = FALSE, last_activity = GREATEST(last_activity, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := p.pool.QueryRow(ctx, `
		SELECT id, project_id, owner_id, started_at, last_activity, active
		FROM collab_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.ProjectID, &s.OwnerID, &s.StartedAt, &s.LastActivity, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) RecordConflict(ctx context.Context, c Conflict) error {
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO collab_conflicts
			(session_id, object_id, local_user_id, remote_user_id, local_timestamp, remote_timestamp, strategy, winner, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.SessionID, c.ObjectID, c.LocalUserID, c.RemoteUserID,
		c.LocalTimestamp, c.RemoteTimestamp, c.Strategy, c.Winner, c.DetectedAt)
	return err
}

func (p *Postgres) Close() {
	p.pool.Close()
}
