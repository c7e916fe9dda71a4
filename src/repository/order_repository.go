package repository

import (
	"context"
	"errors"

	"signalbridge/src/database"
	"signalbridge/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrderRepository handles read/write operations for exchange orders.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order. The given order is updated with the generated ID.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":              "OrderRepository",
		"op":                "Create",
		"execution_id":      order.ExecutionID,
		"exchange_order_id": order.ExchangeOrderID,
		"symbol":            order.Symbol,
	}).Debug("Creating order")

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")
		return err
	}
	return nil
}

// FindByExchangeOrderID fetches an order by the exchange-assigned id.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByExchangeOrderID(ctx context.Context, exchangeOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("exchange_order_id = ?", exchangeOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateCommission stores the fee charged for an order on both the order and its execution.
func (r *OrderRepository) UpdateCommission(
	ctx context.Context,
	executionID uint,
	commission decimal.Decimal,
	asset string,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Order{}).
			Where("execution_id = ?", executionID).
			Updates(map[string]interface{}{
				"commission":       commission,
				"commission_asset": asset,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Execution{}).
			Where("id = ?", executionID).
			Updates(map[string]interface{}{
				"fees":             commission,
				"commission_asset": asset,
			}).Error
	})
}
