package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultUserScope = "default"

	DirectionLongShort = "allow_long_short"
	DirectionLongOnly  = "allow_long_only"
	DirectionShortOnly = "allow_short_only"
)

const (
	PreferenceFieldProduct       = "product"
	PreferenceFieldStrategy      = "strategy"
	PreferenceFieldDirectionMode = "direction_mode"
	PreferenceFieldLeverage      = "leverage"
	PreferenceFieldCapital       = "capital_allocation_percent"
)

// Preference is the trading configuration of one user scope.
// Nil fields mean "no restriction" (product, strategy) or "use default".
type Preference struct {
	ID                       uint                `gorm:"primaryKey" json:"-"`
	UserScope                string              `gorm:"size:100;not null;uniqueIndex" json:"user_scope"`
	Product                  *string             `gorm:"size:50" json:"product"`
	Strategy                 *string             `gorm:"size:100" json:"strategy"`
	DirectionMode            *string             `gorm:"size:30" json:"direction_mode"`
	Leverage                 decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"leverage"`
	CapitalAllocationPercent decimal.NullDecimal `gorm:"type:numeric(5,2)" json:"capital_allocation_percent"`
	CreatedAt                time.Time           `json:"created_at"`
	UpdatedAt                time.Time           `json:"updated_at"`
}

func (Preference) TableName() string {
	return "preferences"
}

// Direction returns the configured direction mode, defaulting to long and short.
func (p Preference) Direction() string {
	if p.DirectionMode == nil || *p.DirectionMode == "" {
		return DirectionLongShort
	}
	return *p.DirectionMode
}

// EffectiveLeverage returns the configured leverage or 1 when unset.
func (p Preference) EffectiveLeverage() decimal.Decimal {
	if !p.Leverage.Valid || !p.Leverage.Decimal.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return p.Leverage.Decimal
}

// PreferenceChange is the audit trail of preference updates.
type PreferenceChange struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PreferenceID uint      `gorm:"index;not null" json:"preference_id"`
	UserScope    string    `gorm:"size:100;not null;index" json:"user_scope"`
	Field        string    `gorm:"size:50;not null" json:"field"`
	OldValue     *string   `gorm:"type:text" json:"old_value"`
	NewValue     *string   `gorm:"type:text" json:"new_value"`
	ChangedBy    string    `gorm:"size:100" json:"changed_by"`
	CreatedAt    time.Time `json:"created_at"`
}

func (PreferenceChange) TableName() string {
	return "preference_changes"
}
