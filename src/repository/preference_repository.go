package repository

import (
	"context"
	"errors"
	"fmt"

	"signalbridge/src/database"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceRepository stores one preference row per user scope.
type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{db: database.MainDB}
}

func (r *PreferenceRepository) WithDB(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetCurrent returns a snapshot of the scope's preferences, creating the default row
// on first use. The value is read by a single statement, so all fields come from
// the same committed state.
func (r *PreferenceRepository) GetCurrent(ctx context.Context, scope string) (model.Preference, error) {
	pref, err := r.getOrCreate(r.db.WithContext(ctx), scope, false)
	if err != nil {
		return model.Preference{}, err
	}
	return *pref, nil
}

func (r *PreferenceRepository) getOrCreate(db *gorm.DB, scope string, lock bool) (*model.Preference, error) {
	if scope == "" {
		scope = model.DefaultUserScope
	}

	var pref model.Preference
	load := func() error {
		query := db
		if lock {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		return query.Where("user_scope = ?", scope).Take(&pref).Error
	}

	err := load()
	if err == nil {
		return &pref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load preference %q: %w", scope, err)
	}

	// A concurrent first use may insert the same scope; the unique index keeps one row.
	direction := model.DirectionLongShort
	seed := model.Preference{UserScope: scope, DirectionMode: &direction}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_scope"}},
		DoNothing: true,
	}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("create preference %q: %w", scope, err)
	}

	pref = model.Preference{}
	if err := load(); err != nil {
		return nil, fmt.Errorf("reload preference %q: %w", scope, err)
	}
	return &pref, nil
}

// Update changes one field of the scope's preferences and writes an audit row,
// both in the same transaction. In-flight signals keep the snapshot they read.
func (r *PreferenceRepository) Update(
	ctx context.Context,
	scope string,
	field string,
	value interface{},
	changedBy string,
) (model.Preference, error) {
	column, display, err := normalizePreferenceValue(field, value)
	if err != nil {
		return model.Preference{}, err
	}

	var updated model.Preference
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pref, err := r.getOrCreate(tx, scope, true)
		if err != nil {
			return err
		}

		change := model.PreferenceChange{
			PreferenceID: pref.ID,
			UserScope:    pref.UserScope,
			Field:        field,
			OldValue:     preferenceFieldString(*pref, field),
			NewValue:     display,
			ChangedBy:    changedBy,
		}

		if err := tx.Model(pref).Update(field, column).Error; err != nil {
			return fmt.Errorf("update preference %s: %w", field, err)
		}
		if err := tx.Create(&change).Error; err != nil {
			return fmt.Errorf("audit preference %s: %w", field, err)
		}
		return tx.Take(&updated, pref.ID).Error
	})
	if err != nil {
		return model.Preference{}, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "PreferenceRepository",
		"op":         "Update",
		"user_scope": updated.UserScope,
		"field":      field,
		"changed_by": changedBy,
	}).Info("Preference updated")

	return updated, nil
}

func preferenceFieldString(p model.Preference, field string) *string {
	switch field {
	case model.PreferenceFieldProduct:
		return p.Product
	case model.PreferenceFieldStrategy:
		return p.Strategy
	case model.PreferenceFieldDirectionMode:
		return p.DirectionMode
	case model.PreferenceFieldLeverage:
		if p.Leverage.Valid {
			s := p.Leverage.Decimal.String()
			return &s
		}
	case model.PreferenceFieldCapital:
		if p.CapitalAllocationPercent.Valid {
			s := p.CapitalAllocationPercent.Decimal.String()
			return &s
		}
	}
	return nil
}

// History lists the audit trail of a scope, newest first.
func (r *PreferenceRepository) History(ctx context.Context, scope string, limit int) ([]model.PreferenceChange, error) {
	var changes []model.PreferenceChange
	err := r.db.WithContext(ctx).
		Where("user_scope = ?", scope).
		Order("created_at DESC, id DESC").
		Limit(ClampLimit(limit)).
		Find(&changes).Error
	return changes, err
}
