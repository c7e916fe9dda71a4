package repository

import (
	"context"
	"errors"
	"time"

	"signalbridge/src/database"
	"signalbridge/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PositionFill is one executed order to fold into the cached position.
type PositionFill struct {
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage int
	FilledAt time.Time
}

// PositionState is the exchange-reported state of one position.
type PositionState struct {
	Symbol        string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
	MarginType    string
}

// PositionRepository maintains the cached position view.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// activeConflict targets the partial unique index over active (symbol, side) rows.
func activeConflict(updates clause.Set) clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "side"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "is_active"},
		}},
		DoUpdates: updates,
	}
}

// UpsertFill folds a fill into the cached positions in one transaction. Orders are
// sent in one-way mode, so a fill first reduces the active opposite side and closes
// it when it reaches zero; only the remainder grows the fill's own side.
func (r *PositionRepository) UpsertFill(ctx context.Context, fill PositionFill) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remaining, err := r.WithDB(tx).reduceOpposite(ctx, fill)
		if err != nil {
			return err
		}
		if !remaining.IsPositive() {
			return nil
		}
		fill.Quantity = remaining
		return r.WithDB(tx).addFill(ctx, fill)
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "UpsertFill",
			"symbol": fill.Symbol,
			"side":   fill.Side,
		}).WithError(err).Error("Failed to upsert position fill")
	}
	return err
}

func oppositeSide(side string) string {
	if side == model.PositionSideShort {
		return model.PositionSideLong
	}
	return model.PositionSideShort
}

// reduceOpposite nets the fill against the locked opposite position and returns
// the quantity left over for the fill's own side.
func (r *PositionRepository) reduceOpposite(ctx context.Context, fill PositionFill) (decimal.Decimal, error) {
	var opposite model.Position
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ? AND side = ? AND is_active = ?", fill.Symbol, oppositeSide(fill.Side), true).
		Take(&opposite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fill.Quantity, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	updates := map[string]interface{}{
		"mark_price": decimal.NewNullDecimal(fill.Price),
	}
	remaining := decimal.Zero
	if fill.Quantity.LessThan(opposite.Size) {
		updates["size"] = opposite.Size.Sub(fill.Quantity)
	} else {
		remaining = fill.Quantity.Sub(opposite.Size)
		updates["size"] = decimal.Zero
		updates["is_active"] = false
		updates["closed_at"] = fill.FilledAt
	}

	err = r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND is_active = ?", opposite.ID, true).
		Updates(updates).Error
	return remaining, err
}

// addFill adds to the active position in one statement. Concurrent fills for the
// same (symbol, side) are summed by the database, so no update is lost. The entry
// price becomes the size-weighted average.
func (r *PositionRepository) addFill(ctx context.Context, fill PositionFill) error {
	position := model.Position{
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Size:       fill.Quantity,
		EntryPrice: fill.Price,
		MarkPrice:  decimal.NewNullDecimal(fill.Price),
		Leverage:   fill.Leverage,
		IsActive:   true,
		OpenedAt:   fill.FilledAt,
	}

	updates := clause.Set{
		{Column: clause.Column{Name: "size"}, Value: gorm.Expr("positions.size + excluded.size")},
		{Column: clause.Column{Name: "entry_price"}, Value: gorm.Expr(
			"CASE WHEN positions.size + excluded.size = 0 THEN excluded.entry_price " +
				"ELSE (positions.size * positions.entry_price + excluded.size * excluded.entry_price) / (positions.size + excluded.size) END",
		)},
		{Column: clause.Column{Name: "mark_price"}, Value: gorm.Expr("excluded.mark_price")},
		{Column: clause.Column{Name: "leverage"}, Value: gorm.Expr("excluded.leverage")},
		{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
	}

	return r.db.WithContext(ctx).
		Clauses(activeConflict(updates)).
		Create(&position).Error
}

// SyncFromExchange overwrites the active position with the exchange-reported state.
func (r *PositionRepository) SyncFromExchange(ctx context.Context, state PositionState, at time.Time) error {
	position := model.Position{
		Symbol:        state.Symbol,
		Side:          state.Side,
		Size:          state.Size,
		EntryPrice:    state.EntryPrice,
		MarkPrice:     decimal.NewNullDecimal(state.MarkPrice),
		UnrealizedPnl: decimal.NewNullDecimal(state.UnrealizedPnl),
		Leverage:      state.Leverage,
		MarginType:    state.MarginType,
		IsActive:      true,
		OpenedAt:      at,
	}

	return r.db.WithContext(ctx).
		Clauses(activeConflict(clause.AssignmentColumns([]string{
			"size", "entry_price", "mark_price", "unrealized_pnl", "leverage", "margin_type", "updated_at",
		}))).
		Create(&position).Error
}

// Close supersedes the active position for (symbol, side). History rows are kept.
func (r *PositionRepository) Close(ctx context.Context, symbol, side string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("symbol = ? AND side = ? AND is_active = ?", symbol, side, true).
		Updates(map[string]interface{}{
			"is_active": false,
			"closed_at": at,
		})
	return res.RowsAffected, res.Error
}

// PositionKey identifies one side of one instrument.
type PositionKey struct {
	Symbol string
	Side   string
}

// CloseMissing supersedes every active position not in open. It returns the closed keys.
func (r *PositionRepository) CloseMissing(ctx context.Context, open map[PositionKey]bool, at time.Time) ([]PositionKey, error) {
	var closed []PositionKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []model.Position
		if err := tx.Where("is_active = ?", true).Find(&active).Error; err != nil {
			return err
		}
		for _, p := range active {
			key := PositionKey{Symbol: p.Symbol, Side: p.Side}
			if open[key] {
				continue
			}
			if _, err := r.WithDB(tx).Close(ctx, p.Symbol, p.Side, at); err != nil {
				return err
			}
			closed = append(closed, key)
		}
		return nil
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "CloseMissing",
		}).WithError(err).Error("Failed to close missing positions")
		return nil, err
	}
	return closed, nil
}

// FindActive lists open positions ordered by symbol.
func (r *PositionRepository) FindActive(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("symbol ASC, side ASC").
		Find(&positions).Error
	return positions, err
}
