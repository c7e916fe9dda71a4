package refresher

import (
	"context"
	"testing"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/database/migrations"
	"signalbridge/src/model"
	"signalbridge/src/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeExchange struct {
	balance    connectors.Balance
	balanceErr error
	positions  []connectors.PositionInfo
}

func (f *fakeExchange) GetAccountBalance(context.Context) (connectors.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) GetPositions(context.Context) ([]connectors.PositionInfo, error) {
	return f.positions, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(migrations.Models()...))
	require.NoError(t, migrations.Run(db))
	return db
}

func newRefresher(db *gorm.DB, ex *fakeExchange) *Refresher {
	return New(ex,
		repository.NewAccountSnapshotRepository().WithDB(db),
		repository.NewPositionRepository().WithDB(db))
}

func TestSnapshotAccountStoresBalance(t *testing.T) {
	db := newTestDB(t)
	ex := &fakeExchange{balance: connectors.Balance{Available: decimal.NewFromInt(900), Wallet: decimal.NewFromInt(1000), CanTrade: true}}

	require.NoError(t, newRefresher(db, ex).SnapshotAccount(context.Background(), model.SnapshotTriggerScheduled))

	latest, err := repository.NewAccountSnapshotRepository().WithDB(db).Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, model.SnapshotTriggerScheduled, latest.Trigger)
	assert.True(t, latest.AvailableBalance.Decimal.Equal(decimal.NewFromInt(900)))
}

func TestSnapshotAccountRecordsFetchFailure(t *testing.T) {
	db := newTestDB(t)
	ex := &fakeExchange{balanceErr: &connectors.ExchangeError{Code: connectors.CodeNetwork, Message: "reset"}}

	err := newRefresher(db, ex).SnapshotAccount(context.Background(), model.SnapshotTriggerScheduled)
	require.Error(t, err)

	latest, err := repository.NewAccountSnapshotRepository().WithDB(db).Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, model.SnapshotTriggerError, latest.Trigger)
	require.NotNil(t, latest.TriggerDetails)
	assert.Contains(t, *latest.TriggerDetails, "reset")
}

func TestSyncPositionsOverwritesAndClosesMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	positions := repository.NewPositionRepository().WithDB(db)

	require.NoError(t, positions.UpsertFill(ctx, repository.PositionFill{
		Symbol: "BTCUSDT", Side: model.PositionSideLong,
		Quantity: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(50000), Leverage: 5, FilledAt: time.Now(),
	}))
	require.NoError(t, positions.UpsertFill(ctx, repository.PositionFill{
		Symbol: "ETHUSDT", Side: model.PositionSideShort,
		Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(3000), Leverage: 2, FilledAt: time.Now(),
	}))

	ex := &fakeExchange{positions: []connectors.PositionInfo{
		{Symbol: "BTCUSDT", Side: model.PositionSideLong, Size: decimal.RequireFromString("0.4"),
			EntryPrice: decimal.NewFromInt(49000), MarkPrice: decimal.NewFromInt(51000), Leverage: 5, MarginType: "cross"},
	}}

	require.NoError(t, newRefresher(db, ex).SyncPositions(ctx))

	active, err := positions.FindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "BTCUSDT", active[0].Symbol)
	assert.True(t, active[0].Size.Equal(decimal.RequireFromString("0.4")))
	assert.True(t, active[0].EntryPrice.Equal(decimal.NewFromInt(49000)))

	var closed model.Position
	require.NoError(t, db.Where("symbol = ? AND is_active = ?", "ETHUSDT", false).Take(&closed).Error)
	assert.NotNil(t, closed.ClosedAt)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := New(&fakeExchange{}, nil, nil)
	err := r.Schedule(NewRunner(context.Background()), Config{SnapshotSchedule: "every minute", PositionSchedule: "* * * * * *"})
	assert.Error(t, err)
}
