package handler

import (
	"context"
	"net/http"
	"strconv"

	"signalbridge/src/model"
	"signalbridge/src/repository"

	logger "github.com/sirupsen/logrus"
)

type executionLister interface {
	FindLatest(ctx context.Context, limit int) ([]model.Execution, error)
}

// ListExecutionsHandler returns the most recent executions first.
// limit defaults to 20 and is capped at 100.
func ListExecutionsHandler(repo executionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := repository.DefaultExecutionLimit
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = repository.ClampLimit(parsed)
		}

		executions, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list executions")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if executions == nil {
			executions = []model.Execution{}
		}
		writeJSON(w, http.StatusOK, executions)
	}
}

// DefaultListExecutionsHandler reads from the read-only connection.
func DefaultListExecutionsHandler() http.HandlerFunc {
	return ListExecutionsHandler(repository.NewExecutionReader())
}
