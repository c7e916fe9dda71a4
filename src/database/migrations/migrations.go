package migrations

import (
	"errors"
	"fmt"
	"time"

	"signalbridge/src/model"

	"gorm.io/gorm"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Models lists every table of the write-side schema.
func Models() []interface{} {
	return []interface{}{
		&model.Signal{},
		&model.Execution{},
		&model.Order{},
		&model.Position{},
		&model.AccountSnapshot{},
		&model.Preference{},
		&model.PreferenceChange{},
		&model.Exception{},
		&DataMigration{},
	}
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_positions_active_symbol_side_unique", createActivePositionIndex); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_seed_default_preference", seedDefaultPreference); err != nil {
		return err
	}

	return nil
}

// createActivePositionIndex enforces at most one active row per (symbol, side).
// Closed rows are excluded so history can hold any number of them.
func createActivePositionIndex(db *gorm.DB) error {
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_active_symbol_side ON positions (symbol, side) WHERE is_active`,
	).Error
}

func seedDefaultPreference(db *gorm.DB) error {
	direction := model.DirectionLongShort
	pref := model.Preference{
		UserScope:     model.DefaultUserScope,
		DirectionMode: &direction,
	}
	return db.Where("user_scope = ?", model.DefaultUserScope).FirstOrCreate(&pref).Error
}
