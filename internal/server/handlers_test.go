package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/interview_scheduler/internal/channels"
	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/db/dbtest"
	"github.com/friendsincode/interview_scheduler/internal/models"
)

type staticLeader bool

func (s staticLeader) IsLeader() bool { return bool(s) }

type okChannel struct{}

func (okChannel) Name() string { return "test" }

func (okChannel) Send(context.Context, channels.Contact, channels.Message) (channels.Receipt, error) {
	return "msg-1", nil
}

type apiRig struct {
	app     *App
	clk     *clock.Manual
	handler http.Handler
	fx      *dbtest.Fixture
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	database := dbtest.New(t)
	fx := dbtest.Seed(t, database)

	cfg := &config.Config{DefaultTimezone: "UTC", Policy: config.DefaultPolicy(), InstanceID: "api-test"}
	cfg.Policy.Workers = 1
	cfg.Policy.RatePerSecond = 0

	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 30, 0, time.UTC))
	app, err := NewApp(cfg, database, okChannel{}, clk, zerolog.Nop())
	require.NoError(t, err)

	return &apiRig{
		app:     app,
		clk:     clk,
		handler: newRouter(app, staticLeader(true), zerolog.Nop()),
		fx:      fx,
	}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	r.handler.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHealthz(t *testing.T) {
	r := newAPIRig(t)
	rr, body := r.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["leader"])
}

func TestTransitionEndpointSchedulesReminders(t *testing.T) {
	r := newAPIRig(t)
	slot := r.fx.Slot(t, models.SlotPending, time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC))

	rr, body := r.do(t, http.MethodPost, "/api/v1/slots/"+slot.ID+"/transitions", map[string]any{
		"action": "approve",
		"actor":  "recruiter:irina",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	got := body["slot"].(map[string]any)
	assert.Equal(t, string(models.SlotBooked), got["status"])
	assert.Equal(t, string(models.SlotPending), body["from"])
	scheduled := body["reminders"].(map[string]any)["scheduled"].([]any)
	assert.Len(t, scheduled, len(models.ReminderKinds))

	rr, body = r.do(t, http.MethodGet, "/api/v1/slots/"+slot.ID+"/reminders", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["jobs"].([]any), len(models.ReminderKinds))
}

func TestTransitionEndpointErrors(t *testing.T) {
	r := newAPIRig(t)
	booked := r.fx.Slot(t, models.SlotBooked, time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown action", booked.ID, map[string]any{"action": "teleport"}, http.StatusBadRequest, "invalid_request"},
		{"illegal", booked.ID, map[string]any{"action": "book", "candidate_id": r.fx.Candidate.ID}, http.StatusConflict, "illegal_transition"},
		{"needs force", booked.ID, map[string]any{"action": "cancel"}, http.StatusConflict, "requires_force"},
		{"stale version", booked.ID, map[string]any{"action": "confirm", "version": 7}, http.StatusConflict, "conflict"},
		{"missing slot", "00000000-0000-0000-0000-000000000000", map[string]any{"action": "approve"}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := r.do(t, http.MethodPost, "/api/v1/slots/"+tt.path+"/transitions", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, body["error"])
			if tt.code == "requires_force" {
				assert.NotEmpty(t, body["hint"])
			}
		})
	}
}

func TestDueRunOnceAndHistory(t *testing.T) {
	r := newAPIRig(t)
	slot := r.fx.Slot(t, models.SlotPending, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	rr, _ := r.do(t, http.MethodPost, "/api/v1/slots/"+slot.ID+"/transitions", map[string]any{"action": "approve"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr, body := r.do(t, http.MethodGet, "/api/v1/reminders/due?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["jobs"].([]any), 1)

	rr, body = r.do(t, http.MethodPost, "/api/v1/deliveries/run-once", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.EqualValues(t, 1, body["sent"])

	rr, body = r.do(t, http.MethodGet, "/api/v1/slots/"+slot.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	attempts := body["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, string(models.AttemptSent), attempts[0].(map[string]any)["result"])

	rr, body = r.do(t, http.MethodGet, "/api/v1/notification-log?result=SENT&slot_id="+slot.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, body["total"])

	rr, body = r.do(t, http.MethodGet, "/api/v1/reminders/failed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, body["jobs"])
}

func TestRecomputeEndpoint(t *testing.T) {
	r := newAPIRig(t)
	slot := r.fx.Slot(t, models.SlotBooked, time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC))

	rr, body := r.do(t, http.MethodPost, "/api/v1/slots/"+slot.ID+"/recompute", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Len(t, body["scheduled"].([]any), len(models.ReminderKinds))

	rr, body = r.do(t, http.MethodPost, "/api/v1/slots/"+slot.ID+"/recompute", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, body["scheduled"])
	assert.Len(t, body["kept"].([]any), len(models.ReminderKinds))
}

func TestNewAppRejectsBadDefaultZone(t *testing.T) {
	cfg := &config.Config{DefaultTimezone: "Mars/Olympus", Policy: config.DefaultPolicy()}
	_, err := NewApp(cfg, dbtest.New(t), okChannel{}, clock.Real{}, zerolog.Nop())
	assert.Error(t, err)
}
