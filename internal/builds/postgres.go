package builds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists generation attempt records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS build_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			idea TEXT NOT NULL,
			status TEXT NOT NULL,
			artifact_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_build_records_session_created ON build_records (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO build_records (id, session_id, idea, status, artifact_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID,
		record.SessionID,
		record.Idea,
		string(record.Status),
		record.ArtifactID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save build record: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkOutcome(ctx context.Context, id string, status Status, artifactID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE build_records SET status=$2, artifact_id=$3 WHERE id=$1`,
		id,
		string(status),
		artifactID,
	)
	if err != nil {
		return fmt.Errorf("mark build outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) BySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, idea, status, artifact_id, created_at
		 FROM build_records WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query build records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Idea, &status, &r.ArtifactID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		r.Status = Status(status)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build records: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
