package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalbridge/src/database"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultExecutionLimit = 20
	MaxExecutionLimit     = 100
)

// ErrUnknownStage is returned when a stage column is not part of the timestamp chain.
var ErrUnknownStage = errors.New("unknown execution stage")

var stageColumns = map[string]bool{
	model.StageSignalSent:       true,
	model.StageReceived:         true,
	model.StageProcessed:        true,
	model.StageSentToExchange:   true,
	model.StageExchangeExecuted: true,
}

// ExecutionRepository handles read/write operations for executions.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{db: database.MainDB}
}

// NewExecutionReader returns a repository bound to the read-only connection.
func NewExecutionReader() *ExecutionRepository {
	return &ExecutionRepository{db: database.Reader()}
}

func (r *ExecutionRepository) WithDB(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *model.Execution) error {
	return r.db.WithContext(ctx).Create(execution).Error
}

// SetStage writes one stamp of the timestamp chain.
func (r *ExecutionRepository) SetStage(ctx context.Context, id uint, stage string, ts time.Time) error {
	if !stageColumns[stage] {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return r.db.WithContext(ctx).
		Model(&model.Execution{}).
		Where("id = ?", id).
		Update(stage, ts).Error
}

// CompletePending applies the final update to an execution still in pending.
// It returns the number of rows changed, zero when the execution was already final.
func (r *ExecutionRepository) CompletePending(ctx context.Context, id uint, updates map[string]interface{}) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Execution{}).
		Where("id = ? AND status = ?", id, model.ExecutionStatusPending).
		Updates(updates)
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "ExecutionRepository",
			"op":           "CompletePending",
			"execution_id": id,
		}).WithError(res.Error).Error("Failed to complete execution")
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// FindByID returns the execution with its order, or (nil, nil) when absent.
func (r *ExecutionRepository) FindByID(ctx context.Context, id uint) (*model.Execution, error) {
	var execution model.Execution
	err := r.db.WithContext(ctx).
		Preload("Order").
		First(&execution, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &execution, nil
}

// ClampLimit bounds a requested page size to [1, MaxExecutionLimit], defaulting when unset.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultExecutionLimit
	}
	if limit > MaxExecutionLimit {
		return MaxExecutionLimit
	}
	return limit
}

// FindLatest returns the most recent executions first.
func (r *ExecutionRepository) FindLatest(ctx context.Context, limit int) ([]model.Execution, error) {
	var executions []model.Execution
	err := r.db.WithContext(ctx).
		Preload("Order").
		Order("received_at DESC, id DESC").
		Limit(ClampLimit(limit)).
		Find(&executions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExecutionRepository",
			"op":   "FindLatest",
		}).WithError(err).Error("Failed to list executions")
		return nil, err
	}
	return executions, nil
}
