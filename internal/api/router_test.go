package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbickmore/relay-core/internal/collab"
	"github.com/tbickmore/relay-core/internal/config"
	"github.com/tbickmore/relay-core/internal/scheduler"
	"github.com/tbickmore/relay-core/internal/system"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Scheduler: config.SchedulerConfig{
			WorkerCount:   2,
			QueueCapacity: 32,
			TaskTimeout:   time.Second,
		},
		Cache: config.CacheConfig{
			CapacityBytes: 1 << 20,
			ShardCount:    4,
			DefaultTTL:    time.Minute,
			SweepInterval: time.Minute,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 100,
			Window:           time.Minute,
			Cooldown:         time.Minute,
			HalfOpenTrials:   1,
		},
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
			Multiplier:  2,
			MaxDelay:    10 * time.Millisecond,
		},
		Collab: config.CollabConfig{
			SessionIdleTimeout: time.Minute,
			HeartbeatTimeout:   time.Minute,
			BroadcastBuffer:    16,
		},
	}
}

func setupServer(t *testing.T) (*system.System, *httptest.Server) {
	t.Helper()

	sys := system.New(testConfig(), setupTestLogger())
	sys.RegisterHandler("echo", func(ctx context.Context, task *scheduler.Task) ([]byte, error) {
		return task.Payload, nil
	})
	sys.RegisterHandler("fail", func(ctx context.Context, task *scheduler.Task) ([]byte, error) {
		return nil, errors.New("handler failure")
	})
	sys.Start(context.Background())
	t.Cleanup(sys.Stop)

	srv := httptest.NewServer(NewRouter(sys, setupTestLogger()))
	t.Cleanup(srv.Close)
	return sys, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitAndPollTask(t *testing.T) {
	_, srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/tasks", SubmitTaskRequest{
		Category: "echo",
		Payload:  json.RawMessage(`{"n":1}`),
		Priority: "high",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[SubmitTaskResponse](t, resp)
	require.NotEmpty(t, submitted.TaskID)

	// Poll until the worker finishes.
	deadline := time.Now().Add(2 * time.Second)
	var status TaskStatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/tasks/" + submitted.TaskID)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status = decode[TaskStatusResponse](t, resp)
		if status.Status == string(scheduler.StatusSucceeded) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, string(scheduler.StatusSucceeded), status.Status)
	assert.Equal(t, "echo", status.Category)
	assert.Equal(t, 1, status.Attempts)
}

func TestSubmitUnknownCategory(t *testing.T) {
	_, srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/tasks", SubmitTaskRequest{Category: "nope"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitValidationFailure(t *testing.T) {
	_, srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/tasks", SubmitTaskRequest{
		Category: "echo",
		Priority: "urgent", // not one of low/normal/high
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskStatusNotFound(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/tasks/6a3b54f1-9c3f-4b31-a3a7-3f1f4d1a2b3c")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailedTaskReportsDeadLettered(t *testing.T) {
	_, srv := setupServer(t)

	resp := postJSON(t, srv.URL+"/tasks", SubmitTaskRequest{
		Category:    "fail",
		MaxAttempts: 1,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[SubmitTaskResponse](t, resp)

	deadline := time.Now().Add(2 * time.Second)
	var status TaskStatusResponse
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/tasks/" + submitted.TaskID)
		require.NoError(t, err)
		status = decode[TaskStatusResponse](t, resp)
		if status.Status == string(scheduler.StatusDeadLettered) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, string(scheduler.StatusDeadLettered), status.Status)
	assert.Contains(t, status.LastError, "handler failure")
}

func TestCacheRoundTrip(t *testing.T) {
	_, srv := setupServer(t)

	body, _ := json.Marshal(CachePutRequest{Value: json.RawMessage(`"cached"`)})
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/cache/greeting", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/cache/greeting")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[CacheGetResponse](t, resp)
	assert.Equal(t, "greeting", got.Key)
	assert.JSONEq(t, `"cached"`, string(got.Value))

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/cache/greeting", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/cache/greeting")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCacheMissReturns404(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/cache/absent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	errResp := decode[map[string]any](t, resp)
	assert.NotEmpty(t, errResp["trace_id"])
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	report := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", report["status"])
	components, ok := report["components"].([]any)
	require.True(t, ok)
	assert.Len(t, components, 4)
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func TestWebsocketJoinAndOperation(t *testing.T) {
	_, srv := setupServer(t)

	dial := func(participant string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/collab/doc-1/ws"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		require.NoError(t, conn.WriteJSON(ClientMessage{Type: "join", Participant: participant}))
		var joined ServerMessage
		require.NoError(t, conn.ReadJSON(&joined))
		require.Equal(t, "joined", joined.Type)
		require.NotNil(t, joined.Session)
		return conn
	}

	alice := dial("alice")
	bob := dial("bob")

	// Alice sees Bob's join event.
	var joinEvt ServerMessage
	require.NoError(t, alice.ReadJSON(&joinEvt))
	assert.Equal(t, "join", joinEvt.Type)
	assert.Equal(t, "bob", joinEvt.Participant)

	// Alice inserts; she gets an ack, Bob gets the broadcast.
	require.NoError(t, alice.WriteJSON(ClientMessage{
		Type: "operation",
		Operation: &collab.Operation{
			Kind: collab.OpInsert, Pos: 0, Text: "hello", BaseSeq: 0,
		},
	}))

	var ack ServerMessage
	require.NoError(t, alice.ReadJSON(&ack))
	require.Equal(t, "ack", ack.Type)
	require.NotNil(t, ack.Operation)
	assert.Equal(t, int64(1), ack.Operation.Seq)

	var broadcast ServerMessage
	require.NoError(t, bob.ReadJSON(&broadcast))
	assert.Equal(t, "broadcast_operation", broadcast.Type)
	require.NotNil(t, broadcast.Operation)
	assert.Equal(t, "hello", broadcast.Operation.Text)

	// A late joiner receives the converged document in its snapshot.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/collab/doc-1/ws"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "join", Participant: "carol"}))
	var joined ServerMessage
	require.NoError(t, conn.ReadJSON(&joined))
	require.NotNil(t, joined.Session)
	assert.Equal(t, "hello", joined.Session.Document)
	assert.Equal(t, int64(1), joined.Session.Seq)
}

func TestWebsocketFirstMessageMustBeJoin(t *testing.T) {
	_, srv := setupServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/collab/doc-2/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "heartbeat"}))
	var reply ServerMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "reject", reply.Type)
}

func TestPresenceEndpoint(t *testing.T) {
	sys, srv := setupServer(t)

	_, _, err := sys.Collab.Join("doc-3", "alice")
	require.NoError(t, err)
	require.NoError(t, sys.Collab.Heartbeat("doc-3", "alice", 7))

	resp, err := http.Get(srv.URL + "/collab/doc-3/presence")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	presence := decode[PresenceResponse](t, resp)
	require.Len(t, presence.Participants, 1)
	assert.Equal(t, "alice", presence.Participants[0].Participant)
	assert.Equal(t, 7, presence.Participants[0].Cursor)
}

func TestPresenceUnknownDocument(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/collab/none/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
