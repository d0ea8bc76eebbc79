package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-engine/internal/model"
	"github.com/sells-group/insight-engine/internal/store"
)

func newTestServerStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestAPIRouter_Health(t *testing.T) {
	st := newTestServerStore(t)
	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRouter_Status_NotFound(t *testing.T) {
	st := newTestServerStore(t)
	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/status/nonexistent", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "run not found")
}

func TestAPIRouter_Status_Found(t *testing.T) {
	st := newTestServerStore(t)
	run, err := st.CreateRun(context.Background(), 5, 7)
	require.NoError(t, err)

	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/status/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusPending, got.Status)
}

func TestAPIRouter_Active_NoneRunning(t *testing.T) {
	st := newTestServerStore(t)
	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/active", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["active"])
}

func TestAPIRouter_Active_Running(t *testing.T) {
	st := newTestServerStore(t)
	run, err := st.CreateRun(context.Background(), 5, 7)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunProgress(context.Background(), run.ID, model.RunStatusDeepDive))

	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/active", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunStatusDeepDive, got.Status)
}

func TestAPIRouter_Start_ConflictWhenActive(t *testing.T) {
	st := newTestServerStore(t)
	run, err := st.CreateRun(context.Background(), 5, 7)
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunProgress(context.Background(), run.ID, model.RunStatusMacroScan))

	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, run.ID, body["run_id"])
}

func TestAPIRouter_Cancel(t *testing.T) {
	st := newTestServerStore(t)
	run, err := st.CreateRun(context.Background(), 5, 7)
	require.NoError(t, err)

	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/cancel/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	cancelled, err := st.IsCancelRequested(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestAPIRouter_Cancel_UnknownRun(t *testing.T) {
	st := newTestServerStore(t)
	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/cancel/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIRouter_Insights_FiltersFromQuery(t *testing.T) {
	st := newTestServerStore(t)
	run, err := st.CreateRun(context.Background(), 5, 7)
	require.NoError(t, err)

	insights := []model.Insight{
		{Action: model.ActionBuy, PrimarySymbol: "NVDA", Title: "AI capex cycle", Confidence: 0.9, Type: model.InsightTypeOpportunity, TimeHorizon: "medium"},
		{Action: model.ActionWatch, PrimarySymbol: "XOM", Title: "Crude basing", Confidence: 0.5, Type: model.InsightTypeOpportunity, TimeHorizon: "long"},
	}
	require.NoError(t, st.SaveInsights(context.Background(), run.ID, insights))

	router := apiRouter(context.Background(), st, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/insights?action=buy&min_confidence=0.8", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var got []model.Insight
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "NVDA", got[0].PrimarySymbol)
}
