package handler

import (
	"context"
	"net/http"

	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
)

type positionLister interface {
	FindActive(ctx context.Context) ([]model.Position, error)
}

func ListPositionsHandler(repo positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positions, err := repo.FindActive(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to list positions")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	}
}
