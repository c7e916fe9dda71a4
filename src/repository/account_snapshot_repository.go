package repository

import (
	"context"
	"errors"

	"signalbridge/src/database"
	"signalbridge/src/model"

	"gorm.io/gorm"
)

// AccountSnapshotRepository appends and reads balance snapshots.
type AccountSnapshotRepository struct {
	db *gorm.DB
}

func NewAccountSnapshotRepository() *AccountSnapshotRepository {
	return &AccountSnapshotRepository{db: database.MainDB}
}

func (r *AccountSnapshotRepository) WithDB(db *gorm.DB) *AccountSnapshotRepository {
	return &AccountSnapshotRepository{db: db}
}

func (r *AccountSnapshotRepository) Append(ctx context.Context, snapshot *model.AccountSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// Latest returns the newest snapshot, or (nil, nil) when none was taken yet.
func (r *AccountSnapshotRepository) Latest(ctx context.Context) (*model.AccountSnapshot, error) {
	var snapshot model.AccountSnapshot
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Take(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}
