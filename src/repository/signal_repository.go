package repository

import (
	"context"

	"signalbridge/src/database"
	"signalbridge/src/model"

	"gorm.io/gorm"
)

// SignalRepository persists inbound signals. Signals are insert-only.
type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository() *SignalRepository {
	return &SignalRepository{db: database.MainDB}
}

func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

func (r *SignalRepository) Create(ctx context.Context, signal *model.Signal) error {
	return r.db.WithContext(ctx).Create(signal).Error
}
