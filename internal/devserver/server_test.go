package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/socket"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedMessages(n int) []domain.Message {
	out := make([]domain.Message, n)
	for i := range out {
		out[i] = domain.Message{
			ID:              "m" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			RoomID:          "general",
			Text:            "seeded",
			Sender:          domain.SenderBot,
			ServerTimestamp: baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

func dialChat(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(baseURL, "/ws/chat?token="+token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) socket.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env socket.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := socket.EncodeEnvelope(event, payload)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

func TestServer_Health(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, socket.MonitorServiceID, body["service"])
}

func TestServer_HistoryPagination(t *testing.T) {
	s := New()
	seeded := seedMessages(30)
	s.SeedHistory("general", seeded)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	fetch := func(query string) []domain.Message {
		resp, err := http.Get(srv.URL + "/api/chat/rooms/general/messages" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Messages []domain.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Messages
	}

	latest := fetch("")
	require.Len(t, latest, 20, "default page size is 20")
	assert.Equal(t, seeded[10].ID, latest[0].ID, "the default page is the latest slice, oldest-first")
	assert.Equal(t, seeded[29].ID, latest[19].ID)

	older := fetch("?before=" + latest[0].ID)
	require.Len(t, older, 10)
	assert.Equal(t, seeded[0].ID, older[0].ID)
	assert.Equal(t, seeded[9].ID, older[9].ID)

	empty := fetch("?before=" + older[0].ID)
	assert.Empty(t, empty, "history before the very first message is empty")

	limited := fetch("?limit=5")
	assert.Len(t, limited, 5)
}

func TestServer_ChatRequiresToken(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws/chat"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ChatMessageRoundTrip(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	conn := dialChat(t, srv.URL, "alice-token")

	writeEnvelope(t, conn, socket.EventJoin, socket.RoomPayload{Room: "general"})

	// Join produces a status broadcast to the room, sender included.
	env := readEnvelope(t, conn)
	require.Equal(t, socket.EventStatus, env.Event)

	writeEnvelope(t, conn, socket.EventMessage, socket.MessagePayload{
		Room:      "general",
		Content:   "hello world",
		ClientKey: "ck-123",
	})

	env = readEnvelope(t, conn)
	require.Equal(t, socket.EventNewMessage, env.Event)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "hello world", msg.Text)
	assert.Equal(t, "ck-123", msg.ClientKey, "the client key is echoed for reconciliation")
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.ServerTimestamp.IsZero())
}

func TestServer_MessagesLandInHistory(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialChat(t, srv.URL, "alice-token")
	writeEnvelope(t, conn, socket.EventJoin, socket.RoomPayload{Room: "general"})
	readEnvelope(t, conn) // join status
	writeEnvelope(t, conn, socket.EventMessage, socket.MessagePayload{Room: "general", Content: "persisted"})
	readEnvelope(t, conn) // own echo

	resp, err := http.Get(srv.URL + "/api/chat/rooms/general/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "persisted", body.Messages[0].Text)
}

func TestServer_TypingNotEchoedToSender(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	alice := dialChat(t, srv.URL, "alice-token")
	bob := dialChat(t, srv.URL, "bobby-token")

	writeEnvelope(t, alice, socket.EventJoin, socket.RoomPayload{Room: "general"})
	readEnvelope(t, alice) // own join status
	writeEnvelope(t, bob, socket.EventJoin, socket.RoomPayload{Room: "general"})
	readEnvelope(t, alice) // bob's join status
	readEnvelope(t, bob)   // own join status

	writeEnvelope(t, bob, socket.EventTyping, socket.TypingPayload{Room: "general", IsTyping: true})

	env := readEnvelope(t, alice)
	require.Equal(t, socket.EventTypingStatus, env.Event)
	var ts domain.TypingStatus
	require.NoError(t, json.Unmarshal(env.Data, &ts))
	assert.True(t, ts.IsTyping)
	assert.Equal(t, "user-bobby-to", ts.UserID)
}

func TestServer_MonitorStreamsReadings(t *testing.T) {
	s := New(WithMonitorInterval(10*time.Millisecond), WithPredictionInterval(time.Hour))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv.URL, "/ws/monitor"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	env := readEnvelope(t, conn)
	require.Equal(t, socket.EventBPReading, env.Event)
	var reading domain.BPReading
	require.NoError(t, json.Unmarshal(env.Data, &reading))
	assert.Greater(t, reading.Systolic, 0)
	assert.Greater(t, reading.Diastolic, 0)
}
