package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   map[string]any
}

// stubAPI отвечает конвертами Cadence API и запоминает запросы.
func stubAPI(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.RequestURI()}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls = append(calls, rec)

		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no route"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func reply(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func run(t *testing.T, srv *httptest.Server, jsonMode bool, build func(func() *Client, func() *Output) *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	cmd := build(
		func() *Client { return NewClient(srv.URL) },
		func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) },
	)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

const flowJSON = `{"id":"f-1","name":"welcome","is_active":true,"created_at":"2024-03-01T12:00:00Z",
"graph":{"stages":[{"id":"email1","type":"send","channel":"email"},{"id":"done","type":"end"}],
"branches":[{"source_id":"email1","target_id":"done"}]}}`

func TestFlowCreate_FromYAML(t *testing.T) {
	srv, calls := stubAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/flows": reply(http.StatusCreated, `{"data":`+flowJSON+`}`),
	})

	file := filepath.Join(t.TempDir(), "welcome.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
name: welcome
graph:
  stages:
    - {id: email1, type: SEND, channel: Email, template_ref: welcome}
    - {id: done, type: end}
  branches:
    - {source_id: email1, target_id: done}
`), 0o600))

	stdout, stderr, err := run(t, srv, false, NewFlowCmd, "create", "-f", file, "--inactive")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Flow created: f-1")
	assert.Contains(t, stdout, "welcome")

	require.Len(t, *calls, 1)
	body := (*calls)[0].body
	assert.Equal(t, "welcome", body["name"])
	assert.Equal(t, false, body["is_active"])

	stages := body["graph"].(map[string]any)["stages"].([]any)
	first := stages[0].(map[string]any)
	assert.Equal(t, "send", first["type"], "graph is normalized before upload")
	assert.Equal(t, "email", first["channel"])
}

func TestFlowCreate_BadFileNeverCallsAPI(t *testing.T) {
	srv, calls := stubAPI(t, nil)

	file := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("graph:\n  stages: []\n"), 0o600))

	_, _, err := run(t, srv, false, NewFlowCmd, "create", "-f", file)
	require.Error(t, err)
	assert.Empty(t, *calls)
}

func TestFlowList_JSONMode(t *testing.T) {
	srv, _ := stubAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/flows": reply(http.StatusOK, `{"data":[`+flowJSON+`],"total":1}`),
	})

	stdout, _, err := run(t, srv, true, NewFlowCmd, "list")
	require.NoError(t, err)

	var flows []FlowResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &flows))
	require.Len(t, flows, 1)
	assert.Equal(t, "f-1", flows[0].ID)
	assert.Len(t, flows[0].Graph.Stages, 2)
}

func TestExecStart_SendsContactsAndStart(t *testing.T) {
	srv, calls := stubAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/flows/f-1/executions": reply(http.StatusCreated,
			`{"data":{"id":"e-1","flow_id":"f-1","state":"in_progress","contacts":2,"created_at":"2024-03-01T12:00:00Z"}}`),
	})

	_, stderr, err := run(t, srv, false, NewExecCmd,
		"start", "f-1", "--contacts", " c1, c2 ,,", "--at", "2024-03-02T09:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Execution started: e-1")

	body := (*calls)[0].body
	assert.Equal(t, []any{"c1", "c2"}, body["contact_ids"])
	assert.Equal(t, "2024-03-02T09:00:00Z", body["start_at"])
}

func TestExecList_PassesFilters(t *testing.T) {
	srv, calls := stubAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/executions": reply(http.StatusOK, `{"data":[],"total":0}`),
	})

	stdout, _, err := run(t, srv, false, NewExecCmd, "list", "--flow", "f-1", "--state", "paused", "--limit", "5")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/executions?flow_id=f-1&limit=5&state=paused", (*calls)[0].path)
	assert.Contains(t, stdout, "NEXT_NODE")
}

func TestExecState_APIErrorSurfaces(t *testing.T) {
	srv, _ := stubAPI(t, map[string]func(http.ResponseWriter){
		"POST /api/v1/executions/e-1/resume": reply(http.StatusUnprocessableEntity,
			`{"error":{"code":"INVALID_STATE","message":"execution is in_progress, cannot move to in_progress"}}`),
	})

	_, _, err := run(t, srv, false, NewExecCmd, "resume", "e-1")
	require.Error(t, err)
	assert.Equal(t, "INVALID_STATE: execution is in_progress, cannot move to in_progress", err.Error())
}

func TestJobClear(t *testing.T) {
	srv, calls := stubAPI(t, map[string]func(http.ResponseWriter){
		"DELETE /api/v1/jobs/failed": reply(http.StatusOK, `{"data":{"deleted":3}}`),
	})

	_, stderr, err := run(t, srv, false, NewJobCmd, "clear")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Deleted 3 failed jobs")
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
}

func TestChannelStatus_Table(t *testing.T) {
	srv, _ := stubAPI(t, map[string]func(http.ResponseWriter){
		"GET /api/v1/channels/sms": reply(http.StatusOK, `{"data":{"channel":"sms",
"breaker":{"state":"open","failures":5,"threshold":5,"opened_at":"2024-03-01T12:00:00Z"},
"rate_limit":{"second":{"used":1,"cap":10},"minute":{"used":4,"cap":0},"hour":{"used":4,"cap":100}}}}`),
	})

	stdout, _, err := run(t, srv, false, NewChannelCmd, "status", "sms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "open")
	assert.Contains(t, stdout, "5/5")
	assert.Contains(t, stdout, "1/10")
	assert.Contains(t, stdout, "4/-")
}

func TestResolveStart(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	got, err := resolveStart("", "", "UTC", now)
	require.NoError(t, err)
	assert.Nil(t, got, "no flags means start now")

	got, err = resolveStart("2024-03-05T10:00:00+03:00", "", "UTC", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)))

	got, err = resolveStart("", "0 9 * * *", "UTC", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), *got)

	_, err = resolveStart("2024-03-05T10:00:00Z", "0 9 * * *", "UTC", now)
	assert.Error(t, err)

	_, err = resolveStart("tomorrow", "", "UTC", now)
	assert.Error(t, err)
}
