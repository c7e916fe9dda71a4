package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/database/migrations"
	"signalbridge/src/model"
	"signalbridge/src/recorder"
	"signalbridge/src/repository"
	"signalbridge/src/sizing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const referenceSignal = `{"action":"buy","symbol":"BTCUSDT","strategy":"ALSAPRO 1"}`

type fakeExchange struct {
	mu sync.Mutex

	balance      connectors.Balance
	balanceErr   error
	precision    sizing.Precision
	precisionErr error
	mark         decimal.Decimal
	markErr      error
	leverageErr  error
	submitErr    error
	result       *connectors.OrderResult
	fees         connectors.Fees

	// block* make the call wait until its context is done.
	blockBalance  bool
	blockLeverage bool
	blockSubmit   bool

	submitted []connectors.OrderRequest
	leverages []int
}

func (f *fakeExchange) GetAccountBalance(ctx context.Context) (connectors.Balance, error) {
	if f.blockBalance {
		<-ctx.Done()
		return connectors.Balance{}, ctx.Err()
	}
	return f.balance, f.balanceErr
}

func (f *fakeExchange) GetInstrumentPrecision(context.Context, string) (sizing.Precision, error) {
	return f.precision, f.precisionErr
}

func (f *fakeExchange) GetMarkPrice(context.Context, string) (decimal.Decimal, error) {
	return f.mark, f.markErr
}

func (f *fakeExchange) SetLeverage(ctx context.Context, _ string, leverage int) error {
	f.mu.Lock()
	f.leverages = append(f.leverages, leverage)
	f.mu.Unlock()
	if f.blockLeverage {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.leverageErr
}

func (f *fakeExchange) SubmitMarketOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	f.mu.Unlock()
	if f.blockSubmit {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	res := *f.result
	res.ClientOrderID = req.ClientOrderID
	res.OrigQuantity = req.Quantity
	res.ExecutedQuantity = req.Quantity
	return &res, nil
}

func (f *fakeExchange) GetPositions(context.Context) ([]connectors.PositionInfo, error) {
	return nil, nil
}

func (f *fakeExchange) GetOrderFees(context.Context, string, string) (connectors.Fees, error) {
	return f.fees, nil
}

type capturePublisher struct {
	mu         sync.Mutex
	executions []model.Execution
}

func (c *capturePublisher) Publish(execution model.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions = append(c.executions, execution)
}

type failingRecorder struct {
	*recorder.Recorder
}

func (failingRecorder) Begin(context.Context, *model.Signal, time.Time) (*recorder.Handle, error) {
	return nil, errors.New("database is down")
}

type fakeExceptionWriter struct {
	exceptions []*model.Exception
}

func (f *fakeExceptionWriter) Create(_ context.Context, exc *model.Exception) error {
	f.exceptions = append(f.exceptions, exc)
	return nil
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

func setPreference(t *testing.T, db *gorm.DB, updates map[string]interface{}) {
	t.Helper()
	require.NoError(t, db.Model(&model.Preference{}).
		Where("user_scope = ?", model.DefaultUserScope).
		Updates(updates).Error)
}

func referencePreference(t *testing.T, db *gorm.DB) {
	setPreference(t, db, map[string]interface{}{
		"product":                    "BTCUSDT",
		"strategy":                   "ALSAPRO 1",
		"direction_mode":             model.DirectionLongShort,
		"leverage":                   decimal.NewFromInt(5),
		"capital_allocation_percent": decimal.NewFromInt(10),
	})
}

func referenceExchange() *fakeExchange {
	return &fakeExchange{
		balance: connectors.Balance{Available: decimal.NewFromInt(1000), Wallet: decimal.NewFromInt(1200), CanTrade: true},
		precision: sizing.Precision{
			StepSize: decimal.RequireFromString("0.001"),
			MinQty:   decimal.RequireFromString("0.001"),
			MaxQty:   decimal.NewFromInt(1000),
		},
		mark: decimal.NewFromInt(50000),
		result: &connectors.OrderResult{
			OrderID:       "8389765",
			Symbol:        "BTCUSDT",
			Side:          model.OrderSideBuy,
			Status:        model.OrderStatusFilled,
			ExecutedPrice: decimal.NewFromInt(50000),
			CumQuote:      decimal.NewFromInt(500),
		},
		fees: connectors.Fees{Commission: decimal.RequireFromString("0.2"), Asset: "USDT"},
	}
}

type harness struct {
	db        *gorm.DB
	exchange  *fakeExchange
	publisher *capturePublisher
	pipeline  *Pipeline
}

func newHarness(t *testing.T, ex *fakeExchange) *harness {
	t.Helper()
	return newHarnessWithConfig(t, ex, Config{
		UserScope:       model.DefaultUserScope,
		PipelineTimeout: 5 * time.Second,
		ExchangeTimeout: time.Second,
	})
}

func newHarnessWithConfig(t *testing.T, ex *fakeExchange, cfg Config) *harness {
	t.Helper()
	db := newTestDB(t)
	publisher := &capturePublisher{}
	log, _ := logrustest.NewNullLogger()

	p := New(cfg, Deps{
		Preferences: repository.NewPreferenceRepository().WithDB(db),
		Exchange:    ex,
		Recorder:    recorder.New(db),
		Positions:   repository.NewPositionRepository().WithDB(db),
		Snapshots:   repository.NewAccountSnapshotRepository().WithDB(db),
		Commissions: repository.NewOrderRepository().WithDB(db),
		Executions:  repository.NewExecutionRepository().WithDB(db),
		Publisher:   publisher,
		ServiceName: "signalbridge-test",
		Log:         logrus.NewEntry(log),
	})
	return &harness{db: db, exchange: ex, publisher: publisher, pipeline: p}
}

func (h *harness) executions(t *testing.T) []model.Execution {
	t.Helper()
	var executions []model.Execution
	require.NoError(t, h.db.Preload("Order").Order("id").Find(&executions).Error)
	return executions
}

func (h *harness) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(m).Count(&n).Error)
	return n
}

func TestReferenceSignalSubmitsSizedOrder(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)

	res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))

	assert.Equal(t, model.ExecutionStatusSuccess, res.Status)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Empty(t, res.Code)

	require.Len(t, h.exchange.submitted, 1)
	req := h.exchange.submitted[0]
	assert.Equal(t, "BTCUSDT", req.Symbol)
	assert.Equal(t, model.OrderSideBuy, req.Side)
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("0.01")), "quantity %s", req.Quantity)
	assert.NotEmpty(t, req.ClientOrderID)
	assert.Equal(t, []int{5}, h.exchange.leverages)

	executions := h.executions(t)
	require.Len(t, executions, 1)
	execution := executions[0]
	assert.Equal(t, res.ExecutionID, execution.ID)
	assert.Equal(t, model.ExecutionStatusSuccess, execution.Status)
	require.NotNil(t, execution.Order)
	assert.Equal(t, "8389765", execution.Order.ExchangeOrderID)
	assert.True(t, execution.Fees.Decimal.Equal(decimal.RequireFromString("0.2")))
	require.NotNil(t, execution.SentToExchangeAt)
	require.NotNil(t, execution.ExchangeExecutedAt)
	require.NotNil(t, execution.CompletedAt)
	assert.False(t, execution.ExchangeExecutedAt.Before(*execution.SentToExchangeAt))
	assert.False(t, execution.CompletedAt.Before(*execution.ExchangeExecutedAt))

	var positions []model.Position
	require.NoError(t, h.db.Where("is_active = ?", true).Find(&positions).Error)
	require.Len(t, positions, 1)
	assert.Equal(t, model.PositionSideLong, positions[0].Side)
	assert.True(t, positions[0].Size.Equal(decimal.RequireFromString("0.01")))

	var snapshot model.AccountSnapshot
	require.NoError(t, h.db.Take(&snapshot).Error)
	assert.Equal(t, model.SnapshotTriggerPostTrade, snapshot.Trigger)

	require.Len(t, h.publisher.executions, 1)
	assert.Contains(t, res.Timing, model.StageExchangeExecuted)
}

func TestStrategyMismatchIsIgnoredWithoutExchangeCall(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)
	setPreference(t, h.db, map[string]interface{}{"strategy": "OTHER"})

	res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))

	assert.Equal(t, model.ExecutionStatusIgnored, res.Status)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, "strategy_mismatch", res.Code)
	assert.Empty(t, h.exchange.submitted)
	assert.Empty(t, h.exchange.leverages)

	executions := h.executions(t)
	require.Len(t, executions, 1)
	assert.Equal(t, model.ExecutionStatusIgnored, executions[0].Status)
	require.NotNil(t, executions[0].ErrorMessage)
	assert.Contains(t, *executions[0].ErrorMessage, "OTHER")
	assert.Nil(t, executions[0].Order)
}

func TestExchangeRejectionFailsWithoutOrder(t *testing.T) {
	ex := referenceExchange()
	ex.submitErr = &connectors.ExchangeError{Code: connectors.CodeInsufficientMargin, Message: "Margin is insufficient.", ExchangeCode: -2019}
	h := newHarness(t, ex)
	referencePreference(t, h.db)

	res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))

	assert.Equal(t, model.ExecutionStatusFailed, res.Status)
	assert.Equal(t, "insufficient_margin", res.Code)

	executions := h.executions(t)
	require.Len(t, executions, 1)
	assert.Equal(t, model.ExecutionStatusFailed, executions[0].Status)
	require.NotNil(t, executions[0].ErrorCode)
	assert.Equal(t, "insufficient_margin", *executions[0].ErrorCode)
	assert.Zero(t, h.count(t, &model.Order{}))
	assert.Zero(t, h.count(t, &model.Position{}))
	require.NotNil(t, executions[0].SentToExchangeAt, "stages reached before the failure are kept")
	assert.Nil(t, executions[0].ExchangeExecutedAt)
}

func TestEveryStageFaultProducesExactlyOneFinalExecution(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(ex *fakeExchange)
		pref      map[string]interface{}
		status    string
		code      string
		submitted bool
	}{
		{
			name:   "filter reject",
			pref:   map[string]interface{}{"direction_mode": model.DirectionShortOnly},
			status: model.ExecutionStatusIgnored,
			code:   "direction_blocked",
		},
		{
			name:    "balance unavailable",
			prepare: func(ex *fakeExchange) { ex.balanceErr = &connectors.ExchangeError{Code: connectors.CodeNetwork, Message: "reset"} },
			status:  model.ExecutionStatusFailed,
			code:    CodeBalanceUnavailable,
		},
		{
			name:    "precision unavailable",
			prepare: func(ex *fakeExchange) { ex.precisionErr = errors.New("symbol not listed") },
			status:  model.ExecutionStatusFailed,
			code:    CodePrecisionUnavailable,
		},
		{
			name:    "mark price rate limited",
			prepare: func(ex *fakeExchange) { ex.markErr = &connectors.ExchangeError{Code: connectors.CodeRateLimited, Message: "slow down"} },
			status:  model.ExecutionStatusFailed,
			code:    connectors.CodeRateLimited,
		},
		{
			name:    "insufficient size",
			prepare: func(ex *fakeExchange) { ex.balance.Available = decimal.NewFromInt(1) },
			status:  model.ExecutionStatusFailed,
			code:    CodeInsufficientSize,
		},
		{
			name:    "leverage rejected",
			prepare: func(ex *fakeExchange) { ex.leverageErr = &connectors.ExchangeError{Code: connectors.CodeRejected, Message: "no"} },
			status:  model.ExecutionStatusFailed,
			code:    connectors.CodeLeverageRejected,
		},
		{
			name:      "exchange timeout",
			prepare:   func(ex *fakeExchange) { ex.submitErr = &connectors.ExchangeError{Code: connectors.CodeTimeout, Message: "deadline"} },
			status:    model.ExecutionStatusFailed,
			code:      connectors.CodeTimeout,
			submitted: true,
		},
		{
			name:      "exchange rejection",
			prepare:   func(ex *fakeExchange) { ex.submitErr = &connectors.ExchangeError{Code: connectors.CodeInvalidQuantity, Message: "bad qty"} },
			status:    model.ExecutionStatusFailed,
			code:      connectors.CodeInvalidQuantity,
			submitted: true,
		},
		{
			name:      "exchange success",
			status:    model.ExecutionStatusSuccess,
			submitted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := referenceExchange()
			if tt.prepare != nil {
				tt.prepare(ex)
			}
			h := newHarness(t, ex)
			referencePreference(t, h.db)
			if tt.pref != nil {
				setPreference(t, h.db, tt.pref)
			}

			res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, tt.submitted, len(ex.submitted) == 1)

			executions := h.executions(t)
			require.Len(t, executions, 1)
			assert.Equal(t, tt.status, executions[0].Status)
			assert.NotNil(t, executions[0].CompletedAt)
			if tt.status == model.ExecutionStatusSuccess {
				assert.NotNil(t, executions[0].Order)
			} else {
				assert.Nil(t, executions[0].Order)
				require.NotNil(t, executions[0].ErrorMessage)
				assert.NotEmpty(t, *executions[0].ErrorMessage)
			}
			assert.Len(t, h.publisher.executions, 1)
		})
	}
}

func TestInvalidPayloadHandling(t *testing.T) {
	t.Run("identifiable payload is recorded as failed", func(t *testing.T) {
		h := newHarness(t, referenceExchange())

		res := h.pipeline.Handle(context.Background(), []byte(`{"action":"hold","symbol":"BTCUSDT"}`))

		assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
		assert.Equal(t, CodeInvalidPayload, res.Code)
		assert.NotZero(t, res.ExecutionID)
		assert.Empty(t, h.exchange.submitted)

		executions := h.executions(t)
		require.Len(t, executions, 1)
		assert.Equal(t, model.ExecutionStatusFailed, executions[0].Status)
	})

	t.Run("unidentifiable payload is not persisted", func(t *testing.T) {
		h := newHarness(t, referenceExchange())

		res := h.pipeline.Handle(context.Background(), []byte(`not json`))

		assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
		assert.Zero(t, res.ExecutionID)
		assert.Zero(t, h.count(t, &model.Signal{}))
		assert.Zero(t, h.count(t, &model.Execution{}))
	})
}

func TestPersistenceFailureReturnsServerError(t *testing.T) {
	db := newTestDB(t)
	exceptions := &fakeExceptionWriter{}
	p := New(Config{}, Deps{
		Preferences: repository.NewPreferenceRepository().WithDB(db),
		Exchange:    referenceExchange(),
		Recorder:    failingRecorder{recorder.New(db)},
		Exceptions:  exceptions,
	})

	res := p.Handle(context.Background(), []byte(referenceSignal))

	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, CodePersistence, res.Code)
	require.Len(t, exceptions.exceptions, 1)
	assert.Equal(t, "Begin", exceptions.exceptions[0].Method)
}

func TestCallerCancellationDoesNotStopProcessing(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.pipeline.Handle(ctx, []byte(referenceSignal))
	assert.Equal(t, model.ExecutionStatusSuccess, res.Status)
}

func TestRequestedQuantityUsedWithoutAllocation(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)
	setPreference(t, h.db, map[string]interface{}{"capital_allocation_percent": nil})

	res := h.pipeline.Handle(context.Background(),
		[]byte(`{"action":"buy","symbol":"BTCUSDT","strategy":"ALSAPRO 1","quantity":"0.0127"}`))

	assert.Equal(t, model.ExecutionStatusSuccess, res.Status)
	require.Len(t, h.exchange.submitted, 1)
	assert.True(t, h.exchange.submitted[0].Quantity.Equal(decimal.RequireFromString("0.012")))
}

func TestMissingAllocationAndQuantityFails(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)
	setPreference(t, h.db, map[string]interface{}{"capital_allocation_percent": nil})

	res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))

	assert.Equal(t, model.ExecutionStatusFailed, res.Status)
	assert.Equal(t, CodeInvalidSizingInput, res.Code)
	assert.Empty(t, h.exchange.submitted)
}

func TestTimeoutsStillRecordFailedExecution(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(ex *fakeExchange)
		cfg       Config
		submitted bool
	}{
		{
			name:    "pipeline budget spent while setting leverage",
			prepare: func(ex *fakeExchange) { ex.blockLeverage = true },
			cfg:     Config{PipelineTimeout: 200 * time.Millisecond},
		},
		{
			name:    "pipeline budget spent while fetching balance",
			prepare: func(ex *fakeExchange) { ex.blockBalance = true },
			cfg:     Config{PipelineTimeout: 200 * time.Millisecond},
		},
		{
			name:      "order submission exceeds exchange timeout",
			prepare:   func(ex *fakeExchange) { ex.blockSubmit = true },
			cfg:       Config{PipelineTimeout: 5 * time.Second, ExchangeTimeout: 100 * time.Millisecond},
			submitted: true,
		},
		{
			name:      "pipeline budget spent during order submission",
			prepare:   func(ex *fakeExchange) { ex.blockSubmit = true },
			cfg:       Config{PipelineTimeout: 200 * time.Millisecond, ExchangeTimeout: 5 * time.Second},
			submitted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := referenceExchange()
			tt.prepare(ex)
			tt.cfg.UserScope = model.DefaultUserScope
			h := newHarnessWithConfig(t, ex, tt.cfg)
			referencePreference(t, h.db)

			res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))

			assert.Equal(t, http.StatusOK, res.HTTPStatus)
			assert.Equal(t, model.ExecutionStatusFailed, res.Status)
			assert.Equal(t, connectors.CodeTimeout, res.Code)
			assert.Equal(t, tt.submitted, len(ex.submitted) == 1)

			executions := h.executions(t)
			require.Len(t, executions, 1)
			assert.Equal(t, model.ExecutionStatusFailed, executions[0].Status)
			require.NotNil(t, executions[0].ErrorCode)
			assert.Equal(t, connectors.CodeTimeout, *executions[0].ErrorCode)
			assert.NotNil(t, executions[0].CompletedAt)
			assert.Zero(t, h.count(t, &model.Order{}))
			assert.Len(t, h.publisher.executions, 1)
		})
	}
}

func TestOppositeSignalClosesCachedPosition(t *testing.T) {
	ex := referenceExchange()
	h := newHarness(t, ex)
	referencePreference(t, h.db)

	res := h.pipeline.Handle(context.Background(), []byte(referenceSignal))
	require.Equal(t, model.ExecutionStatusSuccess, res.Status)

	ex.result.OrderID = "8389766"
	ex.result.Side = model.OrderSideSell
	res = h.pipeline.Handle(context.Background(),
		[]byte(`{"action":"sell","symbol":"BTCUSDT","strategy":"ALSAPRO 1"}`))
	require.Equal(t, model.ExecutionStatusSuccess, res.Status)
	require.Len(t, ex.submitted, 2)
	assert.Equal(t, model.OrderSideSell, ex.submitted[1].Side)

	var active []model.Position
	require.NoError(t, h.db.Where("is_active = ?", true).Find(&active).Error)
	assert.Empty(t, active)

	var positions []model.Position
	require.NoError(t, h.db.Find(&positions).Error)
	require.Len(t, positions, 1)
	assert.Equal(t, model.PositionSideLong, positions[0].Side)
	assert.NotNil(t, positions[0].ClosedAt)
}

func TestPassphraseIsNotStoredWithSignal(t *testing.T) {
	h := newHarness(t, referenceExchange())
	referencePreference(t, h.db)

	res := h.pipeline.Handle(context.Background(),
		[]byte(`{"action":"buy","symbol":"BTCUSDT","strategy":"ALSAPRO 1","passphrase":"s3cret"}`))
	require.Equal(t, model.ExecutionStatusSuccess, res.Status)

	var signal model.Signal
	require.NoError(t, h.db.Take(&signal).Error)
	require.NotEmpty(t, signal.RawPayload)
	assert.NotContains(t, string(signal.RawPayload), "s3cret")
	assert.NotContains(t, string(signal.RawPayload), PassphraseField)
}

func TestFailureCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		got  *failure
		code string
	}{
		{"exchange error keeps its code", exchangeFailure(&connectors.ExchangeError{Code: connectors.CodeMinNotional, Message: "too small"}), connectors.CodeMinNotional},
		{"deadline is a timeout", exchangeFailure(context.DeadlineExceeded), connectors.CodeTimeout},
		{"unexpected error is a network failure", exchangeFailure(errors.New("connection reset")), connectors.CodeNetwork},
		{"fetch deadline is a timeout", fetchFailure(CodeBalanceUnavailable, "balance", context.DeadlineExceeded).(*failure), connectors.CodeTimeout},
		{"fetch exchange timeout is a timeout", fetchFailure(CodeMarkPriceUnavailable, "mark price", &connectors.ExchangeError{Code: connectors.CodeTimeout}).(*failure), connectors.CodeTimeout},
		{"fetch error keeps the fetch code", fetchFailure(CodePrecisionUnavailable, "precision", errors.New("not listed")).(*failure), CodePrecisionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.got.code)
			assert.Equal(t, model.ExecutionStatusFailed, tt.got.status)
		})
	}
	assert.Nil(t, fetchFailure(CodeBalanceUnavailable, "balance", nil))
}
