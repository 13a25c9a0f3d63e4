package policy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

// PostgresSpendStore implements SpendStore on PostgreSQL.
type PostgresSpendStore struct {
	db *sql.DB
}

// NewPostgresSpendStore wraps an existing connection pool.
func NewPostgresSpendStore(db *sql.DB) *PostgresSpendStore {
	return &PostgresSpendStore{db: db}
}

// Migrate creates the spend history table.
func (s *PostgresSpendStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS spend_history (
			id BIGSERIAL PRIMARY KEY,
			agent_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			spent_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS spend_history_agent_time ON spend_history (agent_id, spent_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate spend_history: %w", err)
	}
	return nil
}

func (s *PostgresSpendStore) Record(ctx context.Context, agentID string, amount int64, currency string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO spend_history (agent_id, amount, currency, spent_at) VALUES ($1, $2, $3, $4)",
		agentID, amount, currency, at.UTC())
	if err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	return nil
}

func (s *PostgresSpendStore) Sum(ctx context.Context, agentID string, w contracts.Window, at time.Time) (int64, error) {
	start, end := BucketRange(w, at)
	row := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM spend_history WHERE agent_id = $1 AND spent_at >= $2 AND spent_at < $3",
		agentID, start, end)

	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}
