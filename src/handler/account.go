package handler

import (
	"context"
	"net/http"

	"signalbridge/src/connectors"
	"signalbridge/src/mapper"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
)

type snapshotStore interface {
	Append(ctx context.Context, snapshot *model.AccountSnapshot) error
	Latest(ctx context.Context) (*model.AccountSnapshot, error)
}

type balanceFetcher interface {
	GetAccountBalance(ctx context.Context) (connectors.Balance, error)
}

// AccountSummaryHandler returns the latest account snapshot. With refresh=true a
// fresh balance is fetched and stored first; a failed fetch is stored as an
// error snapshot and the latest stored one is served.
func AccountSummaryHandler(store snapshotStore, exchange balanceFetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.URL.Query().Get("refresh") == "true" && exchange != nil {
			balance, err := exchange.GetAccountBalance(ctx)
			if err != nil {
				logger.WithError(err).Warn("account refresh failed")
				errSnapshot := &model.AccountSnapshot{
					Asset:   "USDT",
					Trigger: model.SnapshotTriggerError,
				}
				details := err.Error()
				errSnapshot.TriggerDetails = &details
				if err := store.Append(ctx, errSnapshot); err != nil {
					logger.WithError(err).Error("failed to store error snapshot")
				}
			} else {
				snapshot := mapper.MapBalanceToSnapshot(balance, model.SnapshotTriggerManual, "account summary refresh")
				if err := store.Append(ctx, snapshot); err != nil {
					logger.WithError(err).Error("failed to store account snapshot")
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
					return
				}
				writeJSON(w, http.StatusOK, snapshot)
				return
			}
		}

		snapshot, err := store.Latest(ctx)
		if err != nil {
			logger.WithError(err).Error("failed to load account snapshot")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if snapshot == nil {
			writeError(w, http.StatusNotFound, "no account snapshot recorded yet")
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}
