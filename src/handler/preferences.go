package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"signalbridge/src/model"
	"signalbridge/src/repository"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type preferenceStore interface {
	GetCurrent(ctx context.Context, scope string) (model.Preference, error)
	Update(ctx context.Context, scope, field string, value interface{}, changedBy string) (model.Preference, error)
}

type preferenceHistory interface {
	History(ctx context.Context, scope string, limit int) ([]model.PreferenceChange, error)
}

// ChangedByHeader names the operator recorded in the preference audit trail.
const ChangedByHeader = "X-Changed-By"

// preferenceRoutes maps the path segment of POST /preferences/{field} to the stored field.
var preferenceRoutes = map[string]string{
	"product":   model.PreferenceFieldProduct,
	"strategy":  model.PreferenceFieldStrategy,
	"direction": model.PreferenceFieldDirectionMode,
	"leverage":  model.PreferenceFieldLeverage,
	"capital":   model.PreferenceFieldCapital,
}

func scopeFrom(r *http.Request, fallback string) string {
	for _, key := range []string{"user_scope", "user_ref"} {
		if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
			return v
		}
	}
	if fallback == "" {
		return model.DefaultUserScope
	}
	return fallback
}

func CurrentPreferenceHandler(store preferenceStore, defaultScope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pref, err := store.GetCurrent(r.Context(), scopeFrom(r, defaultScope))
		if err != nil {
			logger.WithError(err).Error("failed to load preferences")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, http.StatusOK, pref)
	}
}

func PreferenceOptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, repository.PreferenceOptions())
	}
}

// UpdatePreferenceHandler changes one field. The body carries the value under the
// field name (e.g. {"direction_mode": "allow_long_only"}) or under "value".
// A null product or strategy removes that restriction.
func UpdatePreferenceHandler(store preferenceStore, defaultScope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		field, ok := preferenceRoutes[chi.URLParam(r, "field")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown preference")
			return
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payload")
			return
		}
		value, present := body[field]
		if !present {
			value, present = body["value"]
		}
		if !present {
			writeError(w, http.StatusBadRequest, "missing "+field)
			return
		}

		changedBy := strings.TrimSpace(r.Header.Get(ChangedByHeader))
		if changedBy == "" {
			changedBy = "api"
		}

		pref, err := store.Update(r.Context(), scopeFrom(r, defaultScope), field, value, changedBy)
		if err != nil {
			if errors.Is(err, repository.ErrInvalidPreference) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			logger.WithError(err).WithField("field", field).Error("failed to update preference")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, http.StatusOK, pref)
	}
}

// PreferenceHistoryHandler lists the audit trail of a scope, newest first.
func PreferenceHistoryHandler(store preferenceHistory, defaultScope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := repository.DefaultExecutionLimit
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		changes, err := store.History(r.Context(), scopeFrom(r, defaultScope), limit)
		if err != nil {
			logger.WithError(err).Error("failed to load preference history")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeJSON(w, http.StatusOK, changes)
	}
}
