// Package refresher keeps the cached account and position views in line with the exchange.
package refresher

import (
	"context"
	"fmt"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/mapper"
	"signalbridge/src/model"
	"signalbridge/src/repository"

	logger "github.com/sirupsen/logrus"
)

type balanceSource interface {
	GetAccountBalance(ctx context.Context) (connectors.Balance, error)
	GetPositions(ctx context.Context) ([]connectors.PositionInfo, error)
}

type snapshotWriter interface {
	Append(ctx context.Context, snapshot *model.AccountSnapshot) error
}

type positionSyncer interface {
	SyncFromExchange(ctx context.Context, state repository.PositionState, at time.Time) error
	CloseMissing(ctx context.Context, open map[repository.PositionKey]bool, at time.Time) ([]repository.PositionKey, error)
}

type Refresher struct {
	exchange  balanceSource
	snapshots snapshotWriter
	positions positionSyncer
	now       func() time.Time
}

func New(exchange balanceSource, snapshots snapshotWriter, positions positionSyncer) *Refresher {
	return &Refresher{exchange: exchange, snapshots: snapshots, positions: positions, now: time.Now}
}

// SnapshotAccount stores the current balance. A failed fetch is stored as an
// error snapshot so gaps in the balance history stay visible.
func (r *Refresher) SnapshotAccount(ctx context.Context, trigger string) error {
	balance, err := r.exchange.GetAccountBalance(ctx)
	if err != nil {
		details := err.Error()
		errSnapshot := &model.AccountSnapshot{Asset: "USDT", Trigger: model.SnapshotTriggerError, TriggerDetails: &details}
		if appendErr := r.snapshots.Append(ctx, errSnapshot); appendErr != nil {
			logger.WithError(appendErr).Error("Failed to store error snapshot")
		}
		return fmt.Errorf("fetch balance: %w", err)
	}

	snapshot := mapper.MapBalanceToSnapshot(balance, trigger, "")
	if err := r.snapshots.Append(ctx, snapshot); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "refresher",
		"trigger":   trigger,
		"available": balance.Available.String(),
	}).Info("Account snapshot stored")
	return nil
}

// SyncPositions overwrites cached positions with the exchange state and closes
// the ones the exchange no longer reports.
func (r *Refresher) SyncPositions(ctx context.Context) error {
	infos, err := r.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	at := r.now().UTC()
	open := make(map[repository.PositionKey]bool, len(infos))
	for _, info := range infos {
		if !info.Size.IsPositive() {
			continue
		}
		if err := r.positions.SyncFromExchange(ctx, mapper.MapPositionInfo(info), at); err != nil {
			return fmt.Errorf("sync %s %s: %w", info.Symbol, info.Side, err)
		}
		open[repository.PositionKey{Symbol: info.Symbol, Side: info.Side}] = true
	}

	closed, err := r.positions.CloseMissing(ctx, open, at)
	if err != nil {
		return fmt.Errorf("close missing positions: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"component": "refresher",
		"open":      len(open),
		"closed":    len(closed),
	}).Info("Positions synced")
	return nil
}

// Schedule registers both jobs on the runner.
func (r *Refresher) Schedule(runner *Runner, cfg Config) error {
	if _, err := runner.Add(cfg.SnapshotSchedule, func(ctx context.Context) {
		if err := r.SnapshotAccount(ctx, model.SnapshotTriggerScheduled); err != nil {
			logger.WithError(err).Warn("Scheduled snapshot failed")
		}
	}); err != nil {
		return fmt.Errorf("snapshot schedule %q: %w", cfg.SnapshotSchedule, err)
	}

	if _, err := runner.Add(cfg.PositionSchedule, func(ctx context.Context) {
		if err := r.SyncPositions(ctx); err != nil {
			logger.WithError(err).Warn("Position sync failed")
		}
	}); err != nil {
		return fmt.Errorf("position schedule %q: %w", cfg.PositionSchedule, err)
	}
	return nil
}
