package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainledger/chainledger/internal/domain/entities"
	"github.com/chainledger/chainledger/pkg/logger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRepo(t *testing.T) (*LiquidationRepository, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	raw, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return NewLiquidationRepository(db, logger.NewNop()), dbMock, db
}

func requestColumns() []string {
	return []string{
		"id", "service", "src_wallet_id", "dst_wallet_id", "src_currency",
		"dst_currency", "side", "status", "amount", "filled_amount",
		"filled_total_price", "fee", "created_at", "updated_at",
	}
}

// The claim query must lock rows and skip ones a concurrent pass already
// holds, so two schedulers never chunk the same request.
func TestLockRequestsByStatus_ClaimsWithSkipLocked(t *testing.T) {
	repo, dbMock, db := newTestRepo(t)
	now := time.Now().UTC()
	id := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`(?s)SELECT .+ FROM liquidation_requests\s+WHERE status = \$1\s+ORDER BY created_at ASC\s+LIMIT \$2\s+FOR UPDATE SKIP LOCKED`).
		WithArgs(entities.RequestStatusPending, 5).
		WillReturnRows(sqlmock.NewRows(requestColumns()).AddRow(
			id.String(), "margin", uuid.New().String(), uuid.New().String(),
			"ETH", "USDT", "sell", "pending", "1.5", "0", "0", "0", now, now,
		))
	dbMock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	requests, err := repo.LockRequestsByStatus(context.Background(), tx, entities.RequestStatusPending, 5)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Len(t, requests, 1)
	assert.Equal(t, id, requests[0].ID)
	assert.True(t, requests[0].Amount.Equal(d("1.5")))
	require.NoError(t, dbMock.ExpectationsWereMet())
}

// Open exposure is a destination-currency value: each chunk's unfilled
// remainder counts at its primary price, not as raw source units.
func TestGetOpenExternalExposure_ValuesRemainderAtPrice(t *testing.T) {
	repo, dbMock, _ := newTestRepo(t)

	dbMock.ExpectQuery(`(?s)SELECT COALESCE\(SUM\(\(amount - filled_amount\) \* primary_price\), 0\)\s+FROM liquidations`).
		WithArgs("USDT").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("1500"))

	exposure, err := repo.GetOpenExternalExposure(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, exposure.Equal(d("1500")))
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestCountActiveLiquidationsForRequest(t *testing.T) {
	repo, dbMock, db := newTestRepo(t)
	requestID := uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`(?s)SELECT COUNT\(\*\)\s+FROM liquidations l\s+JOIN liquidation_associations a`).
		WithArgs(requestID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	dbMock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	count, err := repo.CountActiveLiquidationsForRequest(context.Background(), tx, requestID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Equal(t, 2, count)
	require.NoError(t, dbMock.ExpectationsWereMet())
}
