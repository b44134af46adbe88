package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsepal/pulsepal/internal/config"
	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/pubsub"
	"github.com/pulsepal/pulsepal/internal/tokenstore"
)

const (
	// MaxReconnectAttempts bounds automatic reconnects per namespace. The
	// counter saturates here; further failures leave the namespace in
	// StateError until an explicit Reconnect.
	MaxReconnectAttempts = 5

	// DefaultBackoffBase is multiplied by the attempt number for linear backoff.
	DefaultBackoffBase = 3 * time.Second

	// DefaultServerCloseDelay is the fixed delay before the single retry that
	// follows a server-initiated disconnect.
	DefaultServerCloseDelay = 3 * time.Second

	// DefaultTypingThrottle is the per-room suppression window for
	// typing-start emissions.
	DefaultTypingThrottle = 2 * time.Second
)

// session is the live state for one namespace. At most one session per
// namespace exists at any time.
type session struct {
	ns           Namespace
	authRequired bool
	state        State
	attempts     int
	usedToken    string
	conn         *websocket.Conn
	writeMu      sync.Mutex
}

// Manager maintains exactly one connection per namespace, mediates
// authentication, and provides a small typed API on top of the raw
// bidirectional event channel. Failures of the fire-and-forget operations are
// logged and reported as a boolean, never thrown; connection failures surface
// as published SessionState events.
type Manager struct {
	cfg       *config.Config
	tokens    *tokenstore.Store
	bus       pubsub.Bus
	discovery *Discovery
	dialer    *websocket.Dialer
	logger    *slog.Logger

	backoffBase      time.Duration
	serverCloseDelay time.Duration
	throttle         *typingThrottle

	mu              sync.Mutex
	sessions        map[Namespace]*session
	reconnectTimers map[Namespace]*time.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoffBase overrides the linear backoff base delay.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) { m.backoffBase = d }
}

// WithServerCloseDelay overrides the fixed delay used after a
// server-initiated disconnect.
func WithServerCloseDelay(d time.Duration) Option {
	return func(m *Manager) { m.serverCloseDelay = d }
}

// WithTypingThrottle overrides the typing suppression window.
func WithTypingThrottle(window time.Duration, now func() time.Time) Option {
	return func(m *Manager) { m.throttle = newTypingThrottle(window, now) }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// NewManager creates a session manager. Nothing connects until Connect or
// EnsureReady is called for a namespace.
func NewManager(cfg *config.Config, tokens *tokenstore.Store, bus pubsub.Bus, opts ...Option) *Manager {
	m := &Manager{
		cfg:              cfg,
		tokens:           tokens,
		bus:              bus,
		discovery:        NewDiscovery(cfg, tokens),
		dialer:           websocket.DefaultDialer,
		logger:           slog.Default().With("service", "socket"),
		backoffBase:      DefaultBackoffBase,
		serverCloseDelay: DefaultServerCloseDelay,
		throttle:         newTypingThrottle(DefaultTypingThrottle, time.Now),
		sessions:         make(map[Namespace]*session),
		reconnectTimers:  make(map[Namespace]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect establishes the connection for a namespace. The call is idempotent:
// a namespace that is already connected or mid-connect is left alone. The chat
// namespace requires a bearer token and fails with domain.ErrAuthRequired,
// making no connection attempt, when none is stored. The monitor namespace
// never attaches a token and resolves its endpoint via service discovery.
func (m *Manager) Connect(ctx context.Context, ns Namespace) error {
	switch ns {
	case NamespaceChat, NamespaceMonitor:
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownNamespace, ns)
	}

	m.mu.Lock()
	if sess, ok := m.sessions[ns]; ok && (sess.state == StateConnected || sess.state == StateConnecting) {
		m.mu.Unlock()
		return nil
	}
	sess := &session{
		ns:           ns,
		authRequired: ns == NamespaceChat,
		state:        StateConnecting,
	}
	m.sessions[ns] = sess
	m.mu.Unlock()

	return m.dial(ctx, sess)
}

// EnsureReady transparently (re)initializes the namespace if no connected
// handle exists, then returns.
func (m *Manager) EnsureReady(ctx context.Context, ns Namespace) error {
	if m.Connected(ns) {
		return nil
	}
	return m.Connect(ctx, ns)
}

// Connected reports whether a live handle exists for the namespace. It is the
// non-blocking accessor for call sites that cannot await a connection.
func (m *Manager) Connected(ns Namespace) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[ns]
	return ok && sess.state == StateConnected && sess.conn != nil
}

// State returns the namespace's connection state.
func (m *Manager) State(ns Namespace) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[ns]; ok {
		return sess.state
	}
	return StateDisconnected
}

// ReconnectAttempts returns the namespace's current attempt counter.
func (m *Manager) ReconnectAttempts(ns Namespace) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[ns]; ok {
		return sess.attempts
	}
	return 0
}

func (m *Manager) dial(ctx context.Context, sess *session) error {
	var wsURL string
	var header http.Header

	if sess.authRequired {
		token := m.tokens.AccessToken()
		if token == "" {
			m.dropSession(sess)
			m.logger.Warn("chat connect refused: no token stored")
			return domain.ErrAuthRequired
		}
		m.mu.Lock()
		sess.usedToken = token
		m.mu.Unlock()
		wsURL = fmt.Sprintf("%s/ws/chat?token=%s", m.cfg.ChatSocketURL, url.QueryEscape(token))
		header = http.Header{"Authorization": []string{"Bearer " + token}}
	} else {
		base := m.discovery.Resolve(ctx)
		wsURL = httpToWS(base) + "/ws/monitor"
	}

	m.publishState(sess.ns, StateConnecting, m.ReconnectAttempts(sess.ns))

	conn, _, err := m.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return m.handleConnectError(ctx, sess, err)
	}

	m.mu.Lock()
	if m.sessions[sess.ns] != sess {
		// Torn down while the dial was in flight.
		m.mu.Unlock()
		conn.Close()
		return domain.ErrNotConnected
	}
	sess.conn = conn
	sess.state = StateConnected
	sess.attempts = 0
	m.mu.Unlock()

	m.logger.Info("namespace connected", "namespace", sess.ns)
	m.publishState(sess.ns, StateConnected, 0)

	go m.readLoop(sess)
	return nil
}

func (m *Manager) handleConnectError(ctx context.Context, sess *session, dialErr error) error {
	m.logger.Warn("connect failed", "namespace", sess.ns, "error", dialErr)

	// A token refreshed since the failed dial gets an immediate retry with no
	// backoff; the old token was the likely cause.
	if sess.authRequired {
		if fresh := m.tokens.AccessToken(); fresh != "" && fresh != sess.usedToken {
			m.logger.Info("retrying with refreshed token", "namespace", sess.ns)
			return m.dial(ctx, sess)
		}
	}

	m.mu.Lock()
	if m.sessions[sess.ns] != sess {
		m.mu.Unlock()
		return dialErr
	}

	sess.attempts++
	if sess.attempts >= MaxReconnectAttempts {
		sess.state = StateError
		attempts := sess.attempts
		m.mu.Unlock()
		m.publishState(sess.ns, StateError, attempts)
		m.logger.Error("reconnect attempts exhausted", "namespace", sess.ns, "attempts", attempts)
		return fmt.Errorf("%w: %s", domain.ErrReconnectExhausted, sess.ns)
	}

	delay := m.backoffBase * time.Duration(sess.attempts)
	sess.state = StateConnecting
	m.scheduleReconnectLocked(sess.ns, delay)
	m.mu.Unlock()

	return fmt.Errorf("connect %s: %w", sess.ns, dialErr)
}

// scheduleReconnectLocked arms the namespace's reconnect timer. Callers hold m.mu.
func (m *Manager) scheduleReconnectLocked(ns Namespace, delay time.Duration) {
	if t, ok := m.reconnectTimers[ns]; ok {
		t.Stop()
	}
	m.logger.Info("reconnect scheduled", "namespace", ns, "delay", delay)
	m.reconnectTimers[ns] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.reconnectTimers, ns)
		sess := m.sessions[ns]
		m.mu.Unlock()
		if sess == nil {
			return
		}
		if err := m.dial(context.Background(), sess); err != nil {
			m.logger.Debug("scheduled reconnect failed", "namespace", ns, "error", err)
		}
	})
}

func (m *Manager) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			m.handleReadError(sess, err)
			return
		}
		m.dispatch(sess.ns, data)
	}
}

func (m *Manager) handleReadError(sess *session, readErr error) {
	m.mu.Lock()
	if m.sessions[sess.ns] != sess {
		// Deliberate teardown; nothing to do.
		m.mu.Unlock()
		return
	}
	sess.conn = nil

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		// Server-initiated disconnect: always retried once after a fixed delay.
		m.logger.Info("server closed connection, scheduling reconnect",
			"namespace", sess.ns, "code", closeErr.Code)
		sess.state = StateConnecting
		attempts := sess.attempts
		m.scheduleReconnectLocked(sess.ns, m.serverCloseDelay)
		m.mu.Unlock()
		m.publishState(sess.ns, StateConnecting, attempts)
		return
	}

	// Transport drop: re-dial through the same bounded backoff as connect errors.
	m.logger.Warn("connection lost", "namespace", sess.ns, "error", readErr)
	sess.attempts++
	if sess.attempts >= MaxReconnectAttempts {
		sess.state = StateError
		attempts := sess.attempts
		m.mu.Unlock()
		m.publishState(sess.ns, StateError, attempts)
		return
	}
	sess.state = StateConnecting
	attempts := sess.attempts
	m.scheduleReconnectLocked(sess.ns, m.backoffBase*time.Duration(attempts))
	m.mu.Unlock()
	m.publishState(sess.ns, StateConnecting, attempts)
}

func (m *Manager) dispatch(ns Namespace, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Error("malformed frame", "namespace", ns, "error", err)
		return
	}

	ctx := context.Background()
	switch env.Event {
	case EventNewMessage:
		publishDecoded(ctx, m, TopicNewMessage, env.Data, func(msg domain.Message) string { return msg.RoomID })
	case EventTypingStatus:
		publishDecoded(ctx, m, TopicTyping, env.Data, func(ts domain.TypingStatus) string { return ts.RoomID })
	case EventStatus:
		publishDecoded(ctx, m, TopicStatus, env.Data, func(su domain.StatusUpdate) string { return su.RoomID })
	case EventBPReading:
		publishDecoded(ctx, m, TopicBPReading, env.Data, func(domain.BPReading) string { return "" })
	case EventPrediction:
		publishDecoded(ctx, m, TopicPrediction, env.Data, func(domain.Prediction) string { return "" })
	default:
		m.logger.Debug("unhandled event", "namespace", ns, "event", env.Event)
	}
}

func publishDecoded[T any](ctx context.Context, m *Manager, topic pubsub.Event[T], data []byte, roomOf func(T) string) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		m.logger.Error("malformed event payload", "topic", topic.Name(), "error", err)
		return
	}
	if err := pubsub.Publish(ctx, m.bus, topic, roomOf(payload), payload); err != nil {
		m.logger.Error("failed to publish event", "topic", topic.Name(), "error", err)
	}
}

// JoinRoom emits a room-membership join on the chat namespace. Best effort:
// returns false, logged only, when not connected.
func (m *Manager) JoinRoom(roomID string) bool {
	return m.emit(NamespaceChat, EventJoin, RoomPayload{Room: roomID})
}

// LeaveRoom emits a room-membership leave on the chat namespace.
func (m *Manager) LeaveRoom(roomID string) bool {
	return m.emit(NamespaceChat, EventLeave, RoomPayload{Room: roomID})
}

// SendMessage emits a chat message. Delivery is confirmed only by the
// server's echo event; there is no local acknowledgment.
func (m *Manager) SendMessage(roomID, content, clientKey string) bool {
	return m.emit(NamespaceChat, EventMessage, MessagePayload{
		Room:      roomID,
		Content:   content,
		ClientKey: clientKey,
	})
}

// SendTyping emits a typing indicator. Typing-start is throttled per room: a
// suppressed call reports success without re-emitting. Typing-stop always
// goes out immediately.
func (m *Manager) SendTyping(roomID string, isTyping bool) bool {
	if conn := m.liveConn(NamespaceChat); conn == nil {
		m.logger.Debug("dropping typing emit while disconnected", "room", roomID)
		return false
	}
	if !m.throttle.allow(roomID, isTyping) {
		return true
	}
	return m.emit(NamespaceChat, EventTyping, TypingPayload{Room: roomID, IsTyping: isTyping})
}

func (m *Manager) liveConn(ns Namespace) *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[ns]; ok && sess.state == StateConnected {
		return sess.conn
	}
	return nil
}

func (m *Manager) emit(ns Namespace, event string, payload any) bool {
	m.mu.Lock()
	sess, ok := m.sessions[ns]
	if !ok || sess.state != StateConnected || sess.conn == nil {
		m.mu.Unlock()
		m.logger.Warn("dropping emit while disconnected", "namespace", ns, "event", event)
		return false
	}
	conn := sess.conn
	m.mu.Unlock()

	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		m.logger.Error("failed to encode frame", "event", event, "error", err)
		return false
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		m.logger.Warn("emit failed", "namespace", ns, "event", event, "error", err)
		return false
	}
	return true
}

// Reconnect forcibly discards the namespace's current handle, resets backoff
// state, and connects again.
func (m *Manager) Reconnect(ctx context.Context, ns Namespace) error {
	m.mu.Lock()
	if t, ok := m.reconnectTimers[ns]; ok {
		t.Stop()
		delete(m.reconnectTimers, ns)
	}
	if sess, ok := m.sessions[ns]; ok {
		if sess.conn != nil {
			sess.conn.Close()
		}
		delete(m.sessions, ns)
	}
	m.mu.Unlock()

	return m.Connect(ctx, ns)
}

// Disconnect tears down every namespace session and synchronously clears all
// pending reconnect timers and typing-throttle state. Idempotent and safe to
// call when nothing is connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	for ns, t := range m.reconnectTimers {
		t.Stop()
		delete(m.reconnectTimers, ns)
	}
	sessions := m.sessions
	m.sessions = make(map[Namespace]*session)
	m.mu.Unlock()

	m.throttle.reset()

	for ns, sess := range sessions {
		if sess.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			sess.conn.Close()
		}
		m.publishState(ns, StateDisconnected, 0)
	}
	if len(sessions) > 0 {
		m.logger.Info("all namespaces disconnected")
	}
}

// WatchTokenRefresh reconnects the chat namespace when an externally
// refreshed token appears after the reconnect budget was exhausted. Requires
// an OS-backed token store.
func (m *Manager) WatchTokenRefresh(ctx context.Context) error {
	return m.tokens.WatchToken(ctx, func(token string) {
		if token == "" {
			return
		}
		m.mu.Lock()
		sess := m.sessions[NamespaceChat]
		stale := sess != nil && sess.state == StateError && token != sess.usedToken
		m.mu.Unlock()
		if !stale {
			return
		}
		m.logger.Info("token refreshed externally, reconnecting chat")
		if err := m.Reconnect(ctx, NamespaceChat); err != nil {
			m.logger.Warn("reconnect after token refresh failed", "error", err)
		}
	})
}

func (m *Manager) dropSession(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sess.ns] == sess {
		delete(m.sessions, sess.ns)
	}
}

func (m *Manager) publishState(ns Namespace, state State, attempts int) {
	err := pubsub.Publish(context.Background(), m.bus, TopicSessionState, "", SessionState{
		Namespace: ns,
		State:     state,
		Attempts:  attempts,
	})
	if err != nil {
		m.logger.Debug("failed to publish session state", "namespace", ns, "error", err)
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
