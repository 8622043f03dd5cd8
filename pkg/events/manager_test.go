package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatchupQuerier struct {
	events []CatchupEvent
	err    error
}

func (m *mockCatchupQuerier) GetCatchupEvents(_ context.Context, _ string, _ int64, limit int) ([]CatchupEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.events) > limit {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func setupTestManager(t *testing.T, querier CatchupQuerier) (*ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := NewConnectionManager(querier, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)
	return manager, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectionManager_SendsConnectionEstablished(t *testing.T) {
	_, server := setupTestManager(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestConnectionManager_SubscribeConfirmsAndRunsCatchup(t *testing.T) {
	querier := &mockCatchupQuerier{events: []CatchupEvent{
		{ID: 1, Payload: map[string]any{"type": EventTypePhaseStarted, "run_id": "run-1"}},
	}}
	manager, server := setupTestManager(t, querier)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: RunChannel("run-1")})

	confirmed := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", confirmed["type"])
	assert.Equal(t, RunChannel("run-1"), confirmed["channel"])

	catchup := readJSON(t, conn)
	assert.Equal(t, EventTypePhaseStarted, catchup["type"])
	assert.EqualValues(t, 1, catchup["db_event_id"])

	require.Eventually(t, func() bool {
		return manager.subscriberCount(RunChannel("run-1")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Broadcast_OnlyReachesSubscribers(t *testing.T) {
	manager, server := setupTestManager(t, &mockCatchupQuerier{})

	subscribed := connectWS(t, server)
	readJSON(t, subscribed) // connection.established
	writeJSON(t, subscribed, ClientMessage{Action: "subscribe", Channel: RunChannel("run-1")})
	readJSON(t, subscribed) // subscription.confirmed

	unsubscribed := connectWS(t, server)
	readJSON(t, unsubscribed) // connection.established

	require.Eventually(t, func() bool {
		return manager.subscriberCount(RunChannel("run-1")) == 1
	}, time.Second, 10*time.Millisecond)

	manager.Broadcast(RunChannel("run-1"), []byte(`{"type":"phase.completed"}`))

	got := readJSON(t, subscribed)
	assert.Equal(t, "phase.completed", got["type"])

	// unsubscribed connection should not receive the broadcast; confirm by
	// sending a ping it should receive instead and asserting that arrives.
	writeJSON(t, unsubscribed, ClientMessage{Action: "ping"})
	pong := readJSON(t, unsubscribed)
	assert.Equal(t, "pong", pong["type"])
}

func TestConnectionManager_Unsubscribe_RemovesFromChannel(t *testing.T) {
	manager, server := setupTestManager(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	readJSON(t, conn)
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: RunChannel("run-1")})
	readJSON(t, conn)

	require.Eventually(t, func() bool {
		return manager.subscriberCount(RunChannel("run-1")) == 1
	}, time.Second, 10*time.Millisecond)

	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: RunChannel("run-1")})

	require.Eventually(t, func() bool {
		return manager.subscriberCount(RunChannel("run-1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_SubscribeMissingChannelReturnsError(t *testing.T) {
	_, server := setupTestManager(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe"})
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestConnectionManager_CatchupOverflowWhenMoreThanLimit(t *testing.T) {
	events := make([]CatchupEvent, catchupLimit+5)
	for i := range events {
		events[i] = CatchupEvent{ID: int64(i + 1), Payload: map[string]any{"type": EventTypePhaseProgress}}
	}
	manager, server := setupTestManager(t, &mockCatchupQuerier{events: events})
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: RunChannel("run-1")})
	readJSON(t, conn) // subscription.confirmed

	for i := 0; i < catchupLimit; i++ {
		readJSON(t, conn)
	}
	overflow := readJSON(t, conn)
	assert.Equal(t, "catchup.overflow", overflow["type"])
	assert.Equal(t, true, overflow["has_more"])

	require.NotNil(t, manager)
}

func TestConnectionManager_UnregisterRemovesConnection(t *testing.T) {
	manager, server := setupTestManager(t, &mockCatchupQuerier{})
	conn := connectWS(t, server)
	readJSON(t, conn)

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return manager.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
}
