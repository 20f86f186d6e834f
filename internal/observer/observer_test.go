package observer

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/executionlog"
)

func testLogger() *logger.Logger {
	return logger.Default()
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", NewHandler(hub, testLogger()).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastDeliversToRegisteredClient(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, hub)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(Message{Type: "event", Phase: "phase-1", Payload: "hello"})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"phase-1"`)
	assert.Contains(t, string(data), `"payload":"hello"`)
}

func TestHubClientCountDropsOnDisconnect(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBridgeObserverTagsMessagesWithPhase(t *testing.T) {
	hub := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bridge := NewBridgeObserver(hub, "phase-2")
	bridge.OnEscalate("needs human input")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"escalate"`)
	assert.Contains(t, string(data), `"phase":"phase-2"`)
	assert.Contains(t, string(data), "needs human input")
}

func TestTailerBroadcastsRowsWrittenSinceLastPoll(t *testing.T) {
	tmp := t.TempDir()
	logPath := filepath.Join(tmp, "execution.jsonl")
	execLog, err := executionlog.Open(logPath)
	require.NoError(t, err)
	defer execLog.Close()

	require.NoError(t, execLog.Log(executionlog.SessionStarted, executionlog.SessionStartedData{Phase: "phase-1"}))

	hub := NewHub(testLogger())
	sqlitePath := strings.TrimSuffix(logPath, filepath.Ext(logPath)) + ".sqlite"
	tailer, err := NewTailer(sqlitePath, "phase-1", hub, testLogger())
	require.NoError(t, err)
	defer tailer.db.Close()

	tailer.poll()
	require.Len(t, hub.broadcast, 1)

	msg := <-hub.broadcast
	assert.Equal(t, "phase-1", msg.Phase)
	assert.Equal(t, string(executionlog.SessionStarted), msg.Type)
	assert.Contains(t, msg.Payload, "phase-1")

	tailer.poll()
	assert.Len(t, hub.broadcast, 0, "second poll finds no new rows")
}

func TestNewTailerErrorsOnUnreadableMirror(t *testing.T) {
	hub := NewHub(testLogger())
	_, err := NewTailer("/nonexistent/dir/does/not/exist.sqlite", "phase-1", hub, testLogger())
	assert.Error(t, err)
}
