package model

import (
	"time"

	"gorm.io/datatypes"
)

// Exception is a system failure kept for later investigation, such as a storage
// error while recording an execution or a cache update that failed after a fill.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "signalbridge"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "pipeline"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "UpsertFill"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error | fatal

	Context datatypes.JSON `json:"context,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
