package controller

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

// ExceptionWriter persists captured exceptions.
type ExceptionWriter interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Capture records a system exception, logs it locally, and persists it when
// a writer is given. Persistence failures are logged and otherwise ignored.
func Capture(
	ctx context.Context,
	repo ExceptionWriter,
	service string,
	module string,
	method string,
	level string,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	var ctxJSON datatypes.JSON
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = datatypes.JSON(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
	}).WithError(err).Error("System exception captured")

	if repo != nil {
		// The request context may already be done; the record must still land.
		if e := repo.Create(context.WithoutCancel(ctx), exc); e != nil {
			logger.WithError(e).Error("Failed to persist exception")
		}
	}
}
