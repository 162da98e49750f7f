package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/pkg/schema"
)

type fakeStore struct {
	workflows  map[string]*schema.Workflow
	executions map[string]*schema.ExecutionRecord
	lastFilter store.ExecutionFilter
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	if wf, ok := f.workflows[id]; ok {
		return wf, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
}

func (f *fakeStore) GetExecution(_ context.Context, id string) (*schema.ExecutionRecord, error) {
	if rec, ok := f.executions[id]; ok {
		return rec, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", id)
}

func (f *fakeStore) ListExecutions(_ context.Context, filter store.ExecutionFilter) ([]*schema.ExecutionRecord, error) {
	f.lastFilter = filter
	var out []*schema.ExecutionRecord
	for _, rec := range f.executions {
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []schema.TriggerEvent
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev schema.TriggerEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, prev := range f.events {
		if prev.TriggerEventID == ev.TriggerEventID {
			return false, nil
		}
	}
	f.events = append(f.events, ev)
	return true, nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeDispatcher, *streaming.MemoryHub) {
	t.Helper()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		workflows: map[string]*schema.Workflow{"wf-1": {ID: "wf-1", OwnerID: "owner-1"}},
		executions: map[string]*schema.ExecutionRecord{
			"exec-1": {ID: "exec-1", WorkflowID: "wf-1", TriggerEventID: "t-1", Status: schema.ExecutionRunning, StartedAt: started},
		},
	}
	fd := &fakeDispatcher{}
	hub := streaming.NewMemoryHub()
	return NewServer(Deps{Store: fs, Dispatcher: fd, Hub: hub}), fs, fd, hub
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestExecute_DispatchesWithInitialData(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/workflows/wf-1/execute", `{"initialData":{"name":"Ada"}}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	require.Len(t, fd.events, 1)
	assert.Equal(t, fd.events[0].TriggerEventID, body["triggerEventId"])
	assert.NotEmpty(t, body["triggerEventId"])
	assert.Equal(t, "wf-1", fd.events[0].WorkflowID)
	assert.Equal(t, map[string]any{"name": "Ada"}, fd.events[0].InitialData)
}

func TestExecute_EmptyBodyAllowed(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/workflows/wf-1/execute", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, fd.events, 1)
	assert.Nil(t, fd.events[0].InitialData)
}

func TestExecute_IdempotencyKey(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)
	h := srv.Handler()
	headers := map[string]string{IdempotencyHeader: "order-77"}

	first := decode(t, do(t, h, http.MethodPost, "/api/workflows/wf-1/execute", "{}", headers))
	second := decode(t, do(t, h, http.MethodPost, "/api/workflows/wf-1/execute", "{}", headers))

	assert.Equal(t, "order-77", first["triggerEventId"])
	assert.Equal(t, true, first["accepted"])
	assert.Equal(t, "order-77", second["triggerEventId"])
	assert.Equal(t, false, second["accepted"])
	assert.Len(t, fd.events, 1)
}

func TestExecute_Errors(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/workflows/missing/execute", "{}", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, schema.ErrCodeNotFound, decode(t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/api/workflows/wf-1/execute", "{nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fd.err = schema.NewError(schema.ErrCodeStore, "pool closed")
	rec = do(t, h, http.MethodPost, "/api/workflows/wf-1/execute", "{}", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGoogleFormWebhook_SeedsContext(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)

	payload := `{
		"formId": "form-1",
		"formTitle": "Signup",
		"responseId": "resp-9",
		"timestamp": "2026-03-01T10:00:00Z",
		"respondentEmail": "ada@example.com",
		"responses": {"Favourite colour": "green"}
	}`
	rec := do(t, srv.Handler(), http.MethodPost, "/api/webhooks/google-form?workflowId=wf-1", payload, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, fd.events, 1)
	seed, ok := fd.events[0].InitialData[GoogleFormKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "form-1", seed["formId"])
	assert.Equal(t, "Signup", seed["formTitle"])
	assert.Equal(t, "resp-9", seed["responseId"])
	assert.Equal(t, "ada@example.com", seed["respondentEmail"])
	assert.Equal(t, map[string]any{"Favourite colour": "green"}, seed["responses"])
	assert.Equal(t, "form-1", seed["raw"].(map[string]any)["formId"])
}

func TestGoogleFormWebhook_RequiresWorkflowID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodPost, "/api/webhooks/google-form", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook_SeedsContextAndDedupes(t *testing.T) {
	srv, _, fd, _ := newTestServer(t)
	h := srv.Handler()

	payload := `{
		"id": "evt_123",
		"type": "payment_intent.succeeded",
		"created": 1767225600,
		"livemode": false,
		"data": {"object": {"amount": 1999, "currency": "usd"}}
	}`
	first := decode(t, do(t, h, http.MethodPost, "/api/webhooks/stripe?workflowId=wf-1", payload, nil))
	second := decode(t, do(t, h, http.MethodPost, "/api/webhooks/stripe?workflowId=wf-1", payload, nil))

	assert.Equal(t, "stripe-evt_123", first["triggerEventId"])
	assert.Equal(t, false, second["accepted"], "redelivery maps to the same run")

	require.Len(t, fd.events, 1)
	seed := fd.events[0].InitialData[StripeKey].(map[string]any)
	assert.Equal(t, "evt_123", seed["eventId"])
	assert.Equal(t, "payment_intent.succeeded", seed["eventType"])
	assert.Equal(t, int64(1767225600), seed["timestamp"])
	assert.Equal(t, false, seed["livemode"])
	assert.Equal(t, float64(1999), seed["amount"])
	assert.Equal(t, "usd", seed["currency"])
	assert.NotNil(t, seed["raw"])
}

func TestGetExecution(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/executions/exec-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "exec-1", body["executionId"])
	assert.Equal(t, "RUNNING", body["status"])
	assert.Equal(t, "2026-03-01T10:00:00Z", body["startedAt"])

	rec = do(t, h, http.MethodGet, "/api/executions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutions(t *testing.T) {
	srv, fs, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/executions?workflowId=wf-1&status=RUNNING&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["executions"], 1)
	assert.Equal(t, "wf-1", fs.lastFilter.WorkflowID)
	assert.Equal(t, 10, fs.lastFilter.Limit)
	require.NotNil(t, fs.lastFilter.Status)
	assert.Equal(t, schema.ExecutionRunning, *fs.lastFilter.Status)

	rec = do(t, h, http.MethodGet, "/api/executions?workflowId=other", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["executions"])
	assert.Equal(t, defaultListLimit, fs.lastFilter.Limit)

	rec = do(t, h, http.MethodGet, "/api/executions?status=DONE", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSEStatus_StreamsFilteredEvents(t *testing.T) {
	srv, _, _, hub := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse/status?executionId=exec-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, streaming.StatusEvent{
		Channel: "http-request-execution", Topic: schema.StatusTopic, NodeID: "other", Status: schema.NodeStatusLoading, ExecutionID: "exec-2",
	}))
	require.NoError(t, hub.Publish(ctx, streaming.StatusEvent{
		Channel: "http-request-execution", Topic: schema.StatusTopic, NodeID: "fetch", Status: schema.NodeStatusSuccess, ExecutionID: "exec-1",
	}))

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status\n", eventLine)
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &ev))
	assert.Equal(t, "fetch", ev["nodeId"])
	assert.Equal(t, "success", ev["status"])
	assert.Equal(t, "http-request-execution", ev["channel"])
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkflowDiagram(t *testing.T) {
	srv, fs, _, _ := newTestServer(t)
	fs.workflows["wf-1"].Name = "Digest"
	fs.workflows["wf-1"].Graph = schema.Graph{
		Nodes: []schema.Node{
			{ID: "trigger", Type: schema.NodeTypeManualTrigger},
			{ID: "fetch", Type: schema.NodeTypeHTTPRequest},
		},
		Connections: []schema.Connection{{SourceID: "trigger", TargetID: "fetch"}},
	}
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/workflows/wf-1/diagram", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph TD")
	assert.Contains(t, rec.Body.String(), "trigger --> fetch")

	rec = do(t, h, http.MethodGet, "/api/workflows/wf-1/diagram?format=ascii", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== Digest ===")

	rec = do(t, h, http.MethodGet, "/api/workflows/wf-1/diagram?format=bmp", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/workflows/missing/diagram", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
