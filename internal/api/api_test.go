package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Cadence/internal/breaker"
	"github.com/shaiso/Cadence/internal/counter"
	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/orchestrator"
	"github.com/shaiso/Cadence/internal/queue"
	"github.com/shaiso/Cadence/internal/ratelimit"
	"github.com/shaiso/Cadence/internal/scheduler"
	"github.com/shaiso/Cadence/internal/service"
	"github.com/shaiso/Cadence/internal/store/memstore"
	"github.com/shaiso/Cadence/internal/telemetry"
)

func newTestServer(t *testing.T, ready ReadyFunc) *httptest.Server {
	t.Helper()
	logger := telemetry.DiscardLogger()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New()

	ledger := queue.NewLedger(queue.LedgerConfig{Store: st, Clock: clock, Logger: logger})
	orch := orchestrator.New(orchestrator.Config{Store: st, Ledger: ledger, Clock: clock, Logger: logger})
	counters := counter.NewMemory(clock)

	svc := service.New(service.Config{
		Orchestrator: orch,
		Ledger:       ledger,
		Scheduler:    scheduler.New(scheduler.Config{Orchestrator: orch, Ledger: ledger, Logger: logger}),
		Breaker:      breaker.New(counters, breaker.Config{Logger: logger}, clock),
		Limiter:      ratelimit.New(counters, nil, clock, logger),
		Logger:       logger,
	})

	mux := http.NewServeMux()
	NewHandler(Config{Service: svc, Ready: ready, Logger: logger}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.ContentLength != 0 && resp.StatusCode != http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func data(body map[string]any) map[string]any {
	d, _ := body["data"].(map[string]any)
	return d
}

var flowBody = map[string]any{
	"name": "welcome-series",
	"graph": map[string]any{
		"stages": []map[string]any{
			{"id": "email1", "type": "send", "channel": "email"},
			{"id": "done", "type": "end"},
		},
		"branches": []map[string]any{
			{"source_id": "email1", "target_id": "done"},
		},
	},
}

func createFlow(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/v1/flows", flowBody)
	require.Equal(t, http.StatusCreated, status)
	return data(body)["id"].(string)
}

func TestFlows(t *testing.T) {
	srv := newTestServer(t, nil)
	id := createFlow(t, srv)

	status, body := do(t, srv, http.MethodGet, "/api/v1/flows/"+id, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "welcome-series", data(body)["name"])
	assert.Equal(t, true, data(body)["is_active"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/flows", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/flows", flowBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(ErrCodeConflict), errorCode(body))

	status, body = do(t, srv, http.MethodPost, "/api/v1/flows", map[string]any{"graph": flowBody["graph"]})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"].(map[string]any)["message"], "Name")

	status, _ = do(t, srv, http.MethodPost, "/api/v1/flows", map[string]any{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, status, "a graph without a start node is rejected")

	status, _ = do(t, srv, http.MethodPost, "/api/v1/flows", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodGet, "/api/v1/flows/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodGet, "/api/v1/flows/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(ErrCodeNotFound), errorCode(body))
}

func TestExecutionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	flowID := createFlow(t, srv)
	runPath := "/api/v1/flows/" + flowID + "/executions"

	status, _ := do(t, srv, http.MethodPost, runPath, map[string]any{"contact_ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, srv, http.MethodPost, runPath, map[string]any{"contact_ids": []string{"c1", ""}})
	assert.Equal(t, http.StatusBadRequest, status, "blank contact ids fail validation")

	status, body := do(t, srv, http.MethodPost, runPath, map[string]any{"contact_ids": []string{"c1", "c2"}})
	require.Equal(t, http.StatusCreated, status)
	exec := data(body)
	assert.Equal(t, "in_progress", exec["state"])
	assert.Equal(t, "email1", exec["next_node"])
	assert.EqualValues(t, 2, exec["contacts"])
	execID := exec["id"].(string)

	status, body = do(t, srv, http.MethodPost, runPath, map[string]any{"contact_ids": []string{"c3"}})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(ErrCodeConflict), errorCode(body))

	status, body = do(t, srv, http.MethodGet, "/api/v1/executions/"+execID, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, data(body)["placeholder_stages"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/executions/"+execID+"/stages", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/executions?flow_id="+flowID, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/executions/"+execID+"/pause", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", data(body)["state"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/executions/"+execID+"/pause", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(ErrCodeInvalidState), errorCode(body))

	status, body = do(t, srv, http.MethodPost, "/api/v1/executions/"+execID+"/resume", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "in_progress", data(body)["state"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/tick", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, data(body)["advanced"])

	status, body = do(t, srv, http.MethodPost, "/api/v1/executions/"+execID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "failed", data(body)["state"])
	assert.Equal(t, "cancelled", data(body)["error"])

	status, body = do(t, srv, http.MethodGet, "/api/v1/jobs?state=queued", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"], "the dispatched send job waits for a worker")

	status, _ = do(t, srv, http.MethodGet, "/api/v1/executions/00000000-0000-0000-0000-000000000001/evaluations", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChannelsAndJobs(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := do(t, srv, http.MethodGet, "/api/v1/channels/email", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "closed", data(body)["breaker"].(map[string]any)["state"])

	status, _ = do(t, srv, http.MethodGet, "/api/v1/channels/fax", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/channels/sms/breaker/reset", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/jobs/00000000-0000-0000-0000-000000000001/retry", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, srv, http.MethodDelete, "/api/v1/jobs/failed", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, data(body)["deleted"])

	status, _ = do(t, srv, http.MethodGet, "/api/v1/jobs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRecordEngagement(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := do(t, srv, http.MethodPost, "/api/v1/engagement", EngagementRequest{
		ProviderMessageID: "msg-1",
		Event:             string(domain.EventOpen),
	})
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = do(t, srv, http.MethodPost, "/api/v1/engagement", EngagementRequest{
		ProviderMessageID: "msg-1",
		Event:             "like",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProbes(t *testing.T) {
	srv := newTestServer(t, nil)
	status, _ := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, status)

	down := newTestServer(t, func(context.Context) error { return errors.New("database unavailable") })
	status, body := do(t, down, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, string(ErrCodeUnavailable), errorCode(body))
}

func TestRecovery(t *testing.T) {
	logger := telemetry.DiscardLogger()
	h := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
