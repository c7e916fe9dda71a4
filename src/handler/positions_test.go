package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"signalbridge/src/model"

	"github.com/stretchr/testify/assert"
)

type mockPositionLister struct {
	positions []model.Position
	err       error
}

func (m *mockPositionLister) FindActive(context.Context) ([]model.Position, error) {
	return m.positions, m.err
}

func TestListPositionsHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	ListPositionsHandler(&mockPositionLister{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = httptest.NewRecorder()
	ListPositionsHandler(&mockPositionLister{err: assert.AnError}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/positions", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
