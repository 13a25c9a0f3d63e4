package policy

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridianlabs/payguard/pkg/contracts"
)

func TestPostgresSpendStoreRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresSpendStore(db)
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO spend_history (agent_id, amount, currency, spent_at) VALUES ($1, $2, $3, $4)")).
		WithArgs("agent-1", int64(250), "USD", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Record(context.Background(), "agent-1", 250, "USD", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSpendStoreSum(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresSpendStore(db)
	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	start, end := BucketRange(contracts.WindowDaily, at)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(amount), 0) FROM spend_history WHERE agent_id = $1 AND spent_at >= $2 AND spent_at < $3")).
		WithArgs("agent-1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(420))

	total, err := store.Sum(context.Background(), "agent-1", contracts.WindowDaily, at)
	require.NoError(t, err)
	assert.Equal(t, int64(420), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
