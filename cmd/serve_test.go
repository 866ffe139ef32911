package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reva-labs/dialer-cli/internal/model"
	"github.com/reva-labs/dialer-cli/internal/scheduler"
	"github.com/reva-labs/dialer-cli/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dialer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	runner := scheduler.NewRunner(st, scheduler.LogDialer{})
	return newRouter(st, runner), st
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_CallStatusWebhook_UpdatesLead(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	_, err := st.InsertLeads(ctx, "user-1", []model.LeadDraft{
		{CompanyName: "Acme Realty", ContactName: "Pat Jones", Phone: "+15550001111", Email: "pat@acme.test"},
	})
	require.NoError(t, err)

	rr := postJSON(t, router, "/webhook/call-status", map[string]string{
		"user_id": "user-1",
		"phone":   "+15550001111",
		"outcome": "appointment_booked",
		"call_id": "call-abc",
	})

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, string(model.StatusScheduled), resp["status"])

	leads, err := st.ListLeads(ctx, "user-1", store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, model.StatusScheduled, leads[0].Status)
}

func TestRouter_CallStatusWebhook_UnknownPhone(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := postJSON(t, router, "/webhook/call-status", map[string]string{
		"user_id": "user-1",
		"phone":   "+15559999999",
		"outcome": "no_answer",
	})

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CallStatusWebhook_MissingFields(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := postJSON(t, router, "/webhook/call-status", map[string]string{
		"outcome": "no_answer",
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_CallStatusWebhook_InvalidBody(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/call-status", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_TriggerRun_Accepted(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	_, err := st.InsertLeads(ctx, "user-1", []model.LeadDraft{
		{CompanyName: "Acme Realty", ContactName: "Pat Jones", Phone: "+15550001111", Email: "pat@acme.test"},
	})
	require.NoError(t, err)

	rr := postJSON(t, router, "/trigger/run", map[string]string{"user_id": "user-1"})

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.Equal(t, "user-1", resp["user_id"])

	// The pass runs asynchronously; wait for the claim to land.
	require.Eventually(t, func() bool {
		leads, err := st.ListLeads(ctx, "user-1", store.LeadFilter{Status: model.StatusCalling})
		return err == nil && len(leads) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRouter_TriggerRun_MissingUser(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := postJSON(t, router, "/trigger/run", map[string]string{})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
