package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/pubsub"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

func testConfig(chatURL string) *config.Config {
	return &config.Config{
		APIBaseURL:         "http://localhost:8000",
		ChatSocketURL:      chatURL,
		MonitorFallbackURL: "http://localhost:8001",
		StateDir:           "/state",
		HistoryPageSize:    20,
		ProbeTimeout:       time.Second,
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// wsServer is a minimal websocket peer capturing every frame a client sends.
type wsServer struct {
	srv      *httptest.Server
	frames   chan Envelope
	sessions chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		frames:   make(chan Envelope, 16),
		sessions: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.sessions <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(data, &env) == nil {
				s.frames <- env
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) nextFrame(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-s.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Envelope{}
	}
}

func (s *wsServer) push(t *testing.T, event string, payload any) {
	t.Helper()
	select {
	case conn := <-s.sessions:
		frame, err := EncodeEnvelope(event, payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session")
	}
}

func newTestManager(t *testing.T, cfg *config.Config, opts ...Option) (*Manager, *tokenstore.Store, pubsub.Bus) {
	t.Helper()
	store := tokenstore.New(afero.NewMemMapFs(), "/state")
	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { bus.Close() })
	m := NewManager(cfg, store, bus, opts...)
	t.Cleanup(m.Disconnect)
	return m, store, bus
}

func TestManager_ConnectUnknownNamespace(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig("ws://localhost:1"))

	err := m.Connect(context.Background(), Namespace("metrics"))
	assert.ErrorIs(t, err, domain.ErrUnknownNamespace)
}

func TestManager_ChatRequiresToken(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig("ws://localhost:1"))

	err := m.Connect(context.Background(), NamespaceChat)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Equal(t, StateDisconnected, m.State(NamespaceChat))
	assert.False(t, m.Connected(NamespaceChat))
}

func TestManager_ChatConnectAndEmit(t *testing.T) {
	server := newWSServer(t)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m, store, _ := newTestManager(t, testConfig(wsURL(server.srv.URL)),
		WithTypingThrottle(2*time.Second, func() time.Time { return now }))
	require.NoError(t, store.SetAccessToken("secret-token"))

	require.NoError(t, m.Connect(context.Background(), NamespaceChat))
	assert.True(t, m.Connected(NamespaceChat))

	// A second Connect on a live namespace is a no-op.
	require.NoError(t, m.Connect(context.Background(), NamespaceChat))

	assert.True(t, m.JoinRoom("room1"))
	env := server.nextFrame(t)
	assert.Equal(t, EventJoin, env.Event)
	var room RoomPayload
	require.NoError(t, json.Unmarshal(env.Data, &room))
	assert.Equal(t, "room1", room.Room)

	assert.True(t, m.SendMessage("room1", "hello", "ck-1"))
	env = server.nextFrame(t)
	assert.Equal(t, EventMessage, env.Event)
	var msg MessagePayload
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "ck-1", msg.ClientKey)

	// The second typing-start inside the window is suppressed but still
	// reported as success; the stop goes straight out.
	assert.True(t, m.SendTyping("room1", true))
	assert.True(t, m.SendTyping("room1", true))
	assert.True(t, m.SendTyping("room1", false))

	env = server.nextFrame(t)
	assert.Equal(t, EventTyping, env.Event)
	var typing TypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &typing))
	assert.True(t, typing.IsTyping)

	env = server.nextFrame(t)
	var stop TypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &stop))
	assert.False(t, stop.IsTyping)
}

func TestManager_EmitWhileDisconnected(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig("ws://localhost:1"))

	assert.False(t, m.JoinRoom("room1"))
	assert.False(t, m.LeaveRoom("room1"))
	assert.False(t, m.SendMessage("room1", "hello", "ck-1"))
	assert.False(t, m.SendTyping("room1", true))
}

func TestManager_DispatchPublishesTypedEvents(t *testing.T) {
	server := newWSServer(t)

	m, store, _ := newTestManager(t, testConfig(wsURL(server.srv.URL)))
	require.NoError(t, store.SetAccessToken("secret-token"))

	received := make(chan domain.Message, 1)
	unsub, err := m.OnNewMessage(context.Background(), func(msg domain.Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), NamespaceChat))

	server.push(t, EventNewMessage, domain.Message{
		ID:     "m1",
		RoomID: "room1",
		Text:   "hi there",
		Sender: domain.SenderBot,
	})

	select {
	case msg := <-received:
		assert.Equal(t, "m1", msg.ID)
		assert.Equal(t, "room1", msg.RoomID)
		assert.Equal(t, domain.SenderBot, msg.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the bus event")
	}
}

func TestManager_MonitorConnectUsesDiscoveredURL(t *testing.T) {
	server := newWSServer(t)

	m, store, _ := newTestManager(t, testConfig("ws://localhost:1"))
	require.NoError(t, store.SetMonitorURL(server.srv.URL))

	received := make(chan domain.BPReading, 1)
	unsub, err := m.OnBPReading(context.Background(), func(r domain.BPReading) {
		received <- r
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), NamespaceMonitor))
	assert.True(t, m.Connected(NamespaceMonitor))

	server.push(t, EventBPReading, domain.BPReading{Systolic: 120, Diastolic: 80, HeartRate: 70})

	select {
	case r := <-received:
		assert.Equal(t, 120, r.Systolic)
		assert.Equal(t, 80, r.Diastolic)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reading")
	}
}

func TestManager_BackoffSaturatesIntoErrorState(t *testing.T) {
	m, store, _ := newTestManager(t, testConfig("ws://127.0.0.1:1"),
		WithBackoffBase(time.Millisecond))
	require.NoError(t, store.SetAccessToken("secret-token"))

	err := m.Connect(context.Background(), NamespaceChat)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrReconnectExhausted), "the first failure only schedules a retry")

	require.Eventually(t, func() bool {
		return m.State(NamespaceChat) == StateError
	}, 2*time.Second, 5*time.Millisecond, "retries should saturate into the error state")
	assert.Equal(t, MaxReconnectAttempts, m.ReconnectAttempts(NamespaceChat))

	// Saturation is terminal until an explicit disconnect or reconnect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, MaxReconnectAttempts, m.ReconnectAttempts(NamespaceChat))

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State(NamespaceChat))
}

func TestManager_ServerCloseSchedulesSingleRetry(t *testing.T) {
	var connCount atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if connCount.Add(1) == 1 {
			// First session is closed by the server immediately.
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"), deadline)
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m, store, _ := newTestManager(t, testConfig(wsURL(srv.URL)),
		WithServerCloseDelay(20*time.Millisecond))
	require.NoError(t, store.SetAccessToken("secret-token"))

	require.NoError(t, m.Connect(context.Background(), NamespaceChat))

	require.Eventually(t, func() bool {
		return connCount.Load() >= 2 && m.Connected(NamespaceChat)
	}, 2*time.Second, 10*time.Millisecond, "a server close should be retried once after the fixed delay")
	assert.Equal(t, 0, m.ReconnectAttempts(NamespaceChat), "a successful retry resets the counter")
}

func TestManager_RefreshedTokenRetriesImmediately(t *testing.T) {
	refreshed := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "stale" {
			// Hold the rejection until the test has stored the new token, so
			// the refreshed-token check observes it.
			<-refreshed
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m, store, _ := newTestManager(t, testConfig(wsURL(srv.URL)))
	require.NoError(t, store.SetAccessToken("stale"))

	done := make(chan error, 1)
	go func() {
		done <- m.Connect(context.Background(), NamespaceChat)
	}()

	require.NoError(t, store.SetAccessToken("fresh"))
	close(refreshed)

	select {
	case err := <-done:
		require.NoError(t, err, "the refreshed token should be retried with no backoff")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the connect to finish")
	}
	assert.True(t, m.Connected(NamespaceChat))
	assert.Equal(t, 0, m.ReconnectAttempts(NamespaceChat))
}

func TestManager_ReconnectDiscardsOldSession(t *testing.T) {
	server := newWSServer(t)

	m, store, _ := newTestManager(t, testConfig(wsURL(server.srv.URL)))
	require.NoError(t, store.SetAccessToken("secret-token"))

	require.NoError(t, m.Connect(context.Background(), NamespaceChat))
	require.NoError(t, m.Reconnect(context.Background(), NamespaceChat))
	assert.True(t, m.Connected(NamespaceChat))
}

func TestManager_SessionStateEvents(t *testing.T) {
	server := newWSServer(t)

	m, store, _ := newTestManager(t, testConfig(wsURL(server.srv.URL)))
	require.NoError(t, store.SetAccessToken("secret-token"))

	states := make(chan SessionState, 8)
	unsub, err := m.OnSessionState(context.Background(), func(s SessionState) {
		states <- s
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, m.Connect(context.Background(), NamespaceChat))

	seen := make([]State, 0, 2)
	for len(seen) < 2 {
		select {
		case s := <-states:
			require.Equal(t, NamespaceChat, s.Namespace)
			seen = append(seen, s.State)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, states so far: %v", seen)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
}
