// Package pipeline turns one webhook call into exactly one recorded execution outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/controller"
	"signalbridge/src/filter"
	"signalbridge/src/mapper"
	"signalbridge/src/model"
	"signalbridge/src/recorder"
	"signalbridge/src/repository"
	"signalbridge/src/sizing"
	"signalbridge/src/symbols"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Error codes produced by the pipeline itself. Exchange failures carry the
// codes defined in the connectors package.
const (
	CodeInvalidPayload        = "invalid_payload"
	CodePreferenceUnavailable = "preference_unavailable"
	CodeBalanceUnavailable    = "balance_unavailable"
	CodePrecisionUnavailable  = "precision_unavailable"
	CodeMarkPriceUnavailable  = "mark_price_unavailable"
	CodeInsufficientSize      = "insufficient_size"
	CodeInvalidSizingInput    = "invalid_sizing_input"
	CodePersistence           = "persistence_error"
)

// StatusError is reported when the outcome could not be stored.
const StatusError = "error"

type PreferenceReader interface {
	GetCurrent(ctx context.Context, scope string) (model.Preference, error)
}

type Recorder interface {
	Begin(ctx context.Context, signal *model.Signal, receivedAt time.Time) (*recorder.Handle, error)
	Advance(ctx context.Context, h *recorder.Handle, stage string, ts time.Time) error
	Complete(ctx context.Context, h *recorder.Handle, out recorder.Outcome) error
	RecordInvalid(ctx context.Context, signal *model.Signal, receivedAt time.Time, code, message string) (*recorder.Handle, error)
}

type PositionWriter interface {
	UpsertFill(ctx context.Context, fill repository.PositionFill) error
}

type SnapshotWriter interface {
	Append(ctx context.Context, snapshot *model.AccountSnapshot) error
}

type CommissionWriter interface {
	UpdateCommission(ctx context.Context, executionID uint, commission decimal.Decimal, asset string) error
}

type ExecutionFinder interface {
	FindByID(ctx context.Context, id uint) (*model.Execution, error)
}

// Publisher receives every execution that reached a final state.
type Publisher interface {
	Publish(execution model.Execution)
}

// Deps groups the collaborators of a Pipeline. Positions, Snapshots, Commissions,
// Executions, Publisher and Exceptions are optional.
type Deps struct {
	Preferences PreferenceReader
	Exchange    connectors.ExchangeClient
	Recorder    Recorder
	Positions   PositionWriter
	Snapshots   SnapshotWriter
	Commissions CommissionWriter
	Executions  ExecutionFinder
	Publisher   Publisher
	Exceptions  controller.ExceptionWriter
	ServiceName string
	Log         *logger.Entry
}

// Result is the caller-facing outcome of Handle.
type Result struct {
	Status      string               `json:"status"`
	ExecutionID uint                 `json:"execution_id,omitempty"`
	Code        string               `json:"error_code,omitempty"`
	Detail      string               `json:"detail,omitempty"`
	HTTPStatus  int                  `json:"-"`
	Timing      map[string]time.Time `json:"timing,omitempty"`
}

type Pipeline struct {
	deps Deps
	cfg  Config
	log  *logger.Entry
	now  func() time.Time
}

func New(cfg Config, deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if cfg.UserScope == "" {
		cfg.UserScope = model.DefaultUserScope
	}
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		log:  log.WithField("component", "pipeline"),
		now:  time.Now,
	}
}

// failure is a terminal non-success outcome decided before or at the exchange.
type failure struct {
	status  string
	code    string
	message string
}

func (f *failure) Error() string {
	return f.code + ": " + f.message
}

func failed(code, format string, args ...interface{}) *failure {
	return &failure{status: model.ExecutionStatusFailed, code: code, message: fmt.Sprintf(format, args...)}
}

// detach returns a context that outlives the cancellation and deadline of ctx,
// bounded by d instead.
func detach(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// recordContext bounds one database write. An exhausted pipeline budget never
// prevents the outcome from being stored.
func (p *Pipeline) recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return detach(ctx, p.cfg.RecordTimeout)
}

// exchangeContext bounds one exchange call within ctx.
func (p *Pipeline) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.ExchangeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.ExchangeTimeout)
}

// Handle processes one webhook body. The caller's cancellation does not stop
// processing; PipelineTimeout bounds the work before the outcome is stored.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) Result {
	receivedAt := p.now().UTC()

	ctx, cancel := detach(ctx, p.cfg.PipelineTimeout)
	defer cancel()

	payload, err := Decode(raw)
	if err != nil {
		return p.handleInvalid(ctx, payload, err, receivedAt)
	}

	signal := payload.Signal()
	beginCtx, cancelBegin := p.recordContext(ctx)
	h, err := p.deps.Recorder.Begin(beginCtx, signal, receivedAt)
	cancelBegin()
	if err != nil {
		return p.persistenceFailure(ctx, "Begin", err, map[string]interface{}{
			"symbol": signal.Symbol,
			"action": signal.Action,
		})
	}

	log := p.log.WithFields(map[string]interface{}{
		"execution_id": h.ExecutionID,
		"symbol":       signal.Symbol,
		"action":       signal.Action,
	})
	log.Info("Signal received")

	out, f := p.process(ctx, log, h, signal)
	if f != nil {
		out = recorder.Outcome{Status: f.status, ErrorCode: f.code, ErrorMessage: f.message}
		log.WithFields(map[string]interface{}{
			"status":     f.status,
			"error_code": f.code,
		}).Warn(f.message)
	}

	completeCtx, cancelComplete := p.recordContext(ctx)
	err = p.deps.Recorder.Complete(completeCtx, h, out)
	cancelComplete()
	if err != nil {
		fields := map[string]interface{}{"execution_id": h.ExecutionID, "status": out.Status}
		if out.Order != nil {
			// The order exists on the exchange even though it is not recorded here.
			fields["exchange_order_id"] = out.Order.ExchangeOrderID
		}
		return p.persistenceFailure(ctx, "Complete", err, fields)
	}

	if out.Status == model.ExecutionStatusSuccess {
		p.afterSuccess(ctx, log, h, signal, out)
	}

	result := Result{
		Status:      out.Status,
		ExecutionID: h.ExecutionID,
		Code:        out.ErrorCode,
		Detail:      out.ErrorMessage,
		HTTPStatus:  http.StatusOK,
	}
	if out.Status == model.ExecutionStatusSuccess {
		result.Detail = fmt.Sprintf("order %s filled %s @ %s",
			out.Order.ExchangeOrderID, out.Order.ExecutedQuantity, out.Order.ExecutedPrice)
	}
	result.Timing = p.publish(ctx, log, h.ExecutionID)
	return result
}

func (p *Pipeline) handleInvalid(ctx context.Context, payload Payload, err error, receivedAt time.Time) Result {
	result := Result{
		Status:     model.ExecutionStatusFailed,
		Code:       CodeInvalidPayload,
		Detail:     err.Error(),
		HTTPStatus: http.StatusBadRequest,
	}

	var invalid *InvalidPayloadError
	if !errors.As(err, &invalid) || !invalid.Identifiable {
		p.log.WithError(err).Warn("Unidentifiable webhook payload dropped")
		return result
	}

	recordCtx, cancel := p.recordContext(ctx)
	h, recErr := p.deps.Recorder.RecordInvalid(recordCtx, payload.Signal(), receivedAt, CodeInvalidPayload, invalid.Reason)
	cancel()
	if recErr != nil {
		return p.persistenceFailure(ctx, "RecordInvalid", recErr, map[string]interface{}{
			"symbol": payload.Symbol,
			"action": payload.Action,
		})
	}

	p.log.WithFields(map[string]interface{}{
		"execution_id": h.ExecutionID,
		"symbol":       payload.Symbol,
		"action":       payload.Action,
	}).WithError(err).Warn("Invalid webhook payload recorded")

	result.ExecutionID = h.ExecutionID
	result.Timing = p.publish(ctx, p.log, h.ExecutionID)
	return result
}

func (p *Pipeline) persistenceFailure(ctx context.Context, method string, err error, data map[string]interface{}) Result {
	ctx, cancel := p.recordContext(ctx)
	defer cancel()
	controller.Capture(ctx, p.deps.Exceptions, p.deps.ServiceName, "pipeline", method, controller.LevelError, err, data)
	return Result{
		Status:     StatusError,
		Code:       CodePersistence,
		Detail:     "execution could not be recorded",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// process walks filter, sizing and submission. It returns either a success
// outcome or a failure; it never completes the execution itself.
func (p *Pipeline) process(
	ctx context.Context,
	log *logger.Entry,
	h *recorder.Handle,
	signal *model.Signal,
) (recorder.Outcome, *failure) {
	pref, err := p.deps.Preferences.GetCurrent(ctx, p.cfg.UserScope)
	if err != nil {
		controller.Capture(ctx, p.deps.Exceptions, p.deps.ServiceName, "pipeline", "GetCurrent", controller.LevelError, err,
			map[string]interface{}{"execution_id": h.ExecutionID, "scope": p.cfg.UserScope})
		return recorder.Outcome{}, failed(CodePreferenceUnavailable, "preferences could not be read: %v", err)
	}

	verdict := filter.Evaluate(*signal, pref)
	p.advance(ctx, log, h, model.StageProcessed)
	if !verdict.Accepted {
		return recorder.Outcome{}, &failure{
			status:  model.ExecutionStatusIgnored,
			code:    verdict.Reason,
			message: verdict.Message,
		}
	}

	symbol := symbols.ExchangeSymbol(signal.Symbol)
	leverage := pref.EffectiveLeverage()

	sized, f := p.size(ctx, symbol, signal, pref, leverage)
	if f != nil {
		return recorder.Outcome{}, f
	}
	log.WithFields(map[string]interface{}{
		"stage":    "sized",
		"quantity": sized.Quantity.String(),
		"notional": sized.Notional.String(),
	}).Info("Order sized")

	leverageCtx, cancelLeverage := p.exchangeContext(ctx)
	err = p.deps.Exchange.SetLeverage(leverageCtx, symbol, sizing.ExchangeLeverage(leverage))
	cancelLeverage()
	if err != nil {
		f := exchangeFailure(err)
		if f.code == connectors.CodeRejected {
			f.code = connectors.CodeLeverageRejected
		}
		return recorder.Outcome{}, f
	}

	p.advance(ctx, log, h, model.StageSentToExchange)

	submitCtx, cancelSubmit := p.exchangeContext(ctx)
	defer cancelSubmit()
	res, err := p.deps.Exchange.SubmitMarketOrder(submitCtx, connectors.OrderRequest{
		Symbol:        symbol,
		Side:          mapper.OrderSide(signal.Action),
		Quantity:      sized.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return recorder.Outcome{}, exchangeFailure(err)
	}

	executedAt := res.UpdatedAt
	if executedAt.IsZero() {
		executedAt = p.now()
	}
	p.advanceAt(ctx, log, h, model.StageExchangeExecuted, executedAt)

	order := mapper.MapOrderResultToModel(res, h.ExecutionID, sized.Quantity)
	out := recorder.Outcome{
		Status:            model.ExecutionStatusSuccess,
		RequestedQuantity: decimal.NewNullDecimal(sized.Quantity),
		ExecutedQuantity:  decimal.NewNullDecimal(order.ExecutedQuantity),
		ExecutedPrice:     decimal.NewNullDecimal(order.ExecutedPrice),
		Fees:              res.Fees,
		CommissionAsset:   res.FeeAsset,
		Leverage:          decimal.NewNullDecimal(leverage),
		CapitalPercent:    pref.CapitalAllocationPercent,
		Order:             order,
	}
	return out, nil
}

// size reads balance, precision and mark price in parallel, then sizes the order.
// Without a capital allocation the quantity sent with the signal is used.
func (p *Pipeline) size(
	ctx context.Context,
	symbol string,
	signal *model.Signal,
	pref model.Preference,
	leverage decimal.Decimal,
) (sizing.Result, *failure) {
	allocate := pref.CapitalAllocationPercent.Valid
	if !allocate && !signal.Quantity.Valid {
		return sizing.Result{}, failed(CodeInvalidSizingInput, "no capital allocation configured and no quantity in signal")
	}

	var (
		balance   connectors.Balance
		precision sizing.Precision
		mark      decimal.Decimal
	)

	fetchCtx, cancel := p.exchangeContext(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(fetchCtx)
	if allocate {
		g.Go(func() error {
			var err error
			balance, err = p.deps.Exchange.GetAccountBalance(gctx)
			return fetchFailure(CodeBalanceUnavailable, "balance", err)
		})
	}
	g.Go(func() error {
		var err error
		precision, err = p.deps.Exchange.GetInstrumentPrecision(gctx, symbol)
		return fetchFailure(CodePrecisionUnavailable, "precision", err)
	})
	g.Go(func() error {
		var err error
		mark, err = p.deps.Exchange.GetMarkPrice(gctx, symbol)
		return fetchFailure(CodeMarkPriceUnavailable, "mark price", err)
	})
	if err := g.Wait(); err != nil {
		var f *failure
		if errors.As(err, &f) {
			return sizing.Result{}, f
		}
		return sizing.Result{}, exchangeFailure(err)
	}

	var (
		res sizing.Result
		err error
	)
	if allocate {
		res, err = sizing.Size(sizing.Input{
			Available:         balance.Available,
			AllocationPercent: pref.CapitalAllocationPercent.Decimal,
			Leverage:          leverage,
			MarkPrice:         mark,
			Precision:         precision,
		})
	} else {
		res, err = sizing.FromRequested(signal.Quantity.Decimal, mark, precision)
	}
	if err != nil {
		return sizing.Result{}, sizingFailure(err)
	}
	return res, nil
}

func fetchFailure(code, what string, err error) error {
	if err == nil {
		return nil
	}
	if ex, ok := connectors.AsExchangeError(err); ok {
		switch ex.Code {
		case connectors.CodeRateLimited:
			return failed(connectors.CodeRateLimited, "%s fetch rate limited: %s", what, ex.Message)
		case connectors.CodeTimeout:
			return failed(connectors.CodeTimeout, "%s fetch timed out: %s", what, ex.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(connectors.CodeTimeout, "%s fetch timed out: %v", what, err)
	}
	return failed(code, "%s fetch failed: %v", what, err)
}

func sizingFailure(err error) *failure {
	switch {
	case errors.Is(err, sizing.ErrInsufficientSize):
		return failed(CodeInsufficientSize, "%v", err)
	case errors.Is(err, sizing.ErrPrecisionUnavailable):
		return failed(CodePrecisionUnavailable, "%v", err)
	default:
		return failed(CodeInvalidSizingInput, "%v", err)
	}
}

func exchangeFailure(err error) *failure {
	if ex, ok := connectors.AsExchangeError(err); ok {
		return failed(ex.Code, "%s", ex.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(connectors.CodeTimeout, "%v", err)
	}
	return failed(connectors.CodeNetwork, "%v", err)
}

func (p *Pipeline) advance(ctx context.Context, log *logger.Entry, h *recorder.Handle, stage string) {
	p.advanceAt(ctx, log, h, stage, p.now())
}

func (p *Pipeline) advanceAt(ctx context.Context, log *logger.Entry, h *recorder.Handle, stage string, ts time.Time) {
	ctx, cancel := p.recordContext(ctx)
	defer cancel()
	if err := p.deps.Recorder.Advance(ctx, h, stage, ts); err != nil {
		log.WithField("stage", stage).WithError(err).Warn("Failed to stamp stage")
	}
}

// afterSuccess refreshes cached state. None of it can change the recorded outcome.
func (p *Pipeline) afterSuccess(
	ctx context.Context,
	log *logger.Entry,
	h *recorder.Handle,
	signal *model.Signal,
	out recorder.Outcome,
) {
	order := out.Order

	// The pipeline budget may be spent by now; each step gets its own bound.
	ctx, cancel := detach(ctx, p.cfg.RecordTimeout+p.cfg.ExchangeTimeout)
	defer cancel()

	if p.deps.Positions != nil {
		fill := repository.PositionFill{
			Symbol:   order.Symbol,
			Side:     model.SideForAction(signal.Action),
			Quantity: order.ExecutedQuantity,
			Price:    order.ExecutedPrice,
			Leverage: sizing.ExchangeLeverage(out.Leverage.Decimal),
			FilledAt: p.now().UTC(),
		}
		if fill.Symbol == "" {
			fill.Symbol = symbols.ExchangeSymbol(signal.Symbol)
		}
		if err := p.deps.Positions.UpsertFill(ctx, fill); err != nil {
			controller.Capture(ctx, p.deps.Exceptions, p.deps.ServiceName, "pipeline", "UpsertFill", controller.LevelWarn, err,
				map[string]interface{}{"execution_id": h.ExecutionID, "symbol": fill.Symbol, "side": fill.Side})
		}
	}

	if p.deps.Snapshots != nil {
		balance, err := p.deps.Exchange.GetAccountBalance(ctx)
		if err != nil {
			log.WithError(err).Warn("Post-trade balance fetch failed")
		} else {
			snapshot := mapper.MapBalanceToSnapshot(balance, model.SnapshotTriggerPostTrade,
				fmt.Sprintf("execution %d", h.ExecutionID))
			if err := p.deps.Snapshots.Append(ctx, snapshot); err != nil {
				log.WithError(err).Warn("Post-trade snapshot not stored")
			}
		}
	}

	if p.deps.Commissions != nil && !out.Fees.Valid {
		fees, err := p.deps.Exchange.GetOrderFees(ctx, order.Symbol, order.ExchangeOrderID)
		if err != nil {
			log.WithError(err).Warn("Fee lookup failed")
			return
		}
		if err := p.deps.Commissions.UpdateCommission(ctx, h.ExecutionID, fees.Commission, fees.Asset); err != nil {
			log.WithError(err).Warn("Fee enrichment not stored")
		}
	}
}

// publish pushes the final execution to subscribers and returns its timing.
func (p *Pipeline) publish(ctx context.Context, log *logger.Entry, executionID uint) map[string]time.Time {
	if p.deps.Executions == nil {
		return nil
	}
	ctx, cancel := p.recordContext(ctx)
	defer cancel()
	execution, err := p.deps.Executions.FindByID(ctx, executionID)
	if err != nil || execution == nil {
		log.WithError(err).Warn("Completed execution could not be reloaded")
		return nil
	}
	if p.deps.Publisher != nil {
		p.deps.Publisher.Publish(*execution)
	}
	return execution.Timing()
}
