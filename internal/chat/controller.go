// Package chat drives a single chat room's live state: the message list,
// typing indicators, and "load older" pagination, on top of the socket
// session manager and the message cache.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsepal/pulsepal/internal/domain"
	"github.com/pulsepal/pulsepal/internal/msgcache"
)

const (
	// DefaultPageSize is the history fetch page size.
	DefaultPageSize = 20

	// ScrollThresholdPx triggers automatic older-history loading when the
	// scroll offset from the top falls below it.
	ScrollThresholdPx = 50

	// typingStartInterval is the minimum gap between typing-start emissions
	// while the input stays non-empty.
	typingStartInterval = 2500 * time.Millisecond

	// typingStopDelay schedules the typing-stop emission after the last keystroke.
	typingStopDelay = 3 * time.Second

	// typingExpiry removes a remote typing entry with no follow-up activity.
	typingExpiry = 3 * time.Second
)

// RoomState is the controller's lifecycle for the active room.
type RoomState string

const (
	RoomIdle         RoomState = "idle"
	RoomInitializing RoomState = "initializing"
	RoomReady        RoomState = "ready"
)

// SessionManager is the slice of the socket session manager the controller
// consumes.
type SessionManager interface {
	JoinRoom(roomID string) bool
	LeaveRoom(roomID string) bool
	SendMessage(roomID, content, clientKey string) bool
	SendTyping(roomID string, isTyping bool) bool
	OnNewMessage(ctx context.Context, fn func(domain.Message)) (func(), error)
	OnTyping(ctx context.Context, fn func(domain.TypingStatus)) (func(), error)
	OnStatus(ctx context.Context, fn func(domain.StatusUpdate)) (func(), error)
}

// HistoryFetcher fetches a page of room history from the REST backend.
type HistoryFetcher interface {
	Messages(ctx context.Context, roomID string, limit int, before string) ([]domain.Message, error)
}

// Controller is the chat session controller. All exported methods are safe
// for concurrent use.
type Controller struct {
	sessions SessionManager
	fetcher  HistoryFetcher
	cache    *msgcache.Cache
	logger   *slog.Logger

	userID   string
	username string
	pageSize int
	now      func() time.Time
	notify   func()

	mu              sync.Mutex
	roomID          string
	epoch           uint64
	state           RoomState
	messages        []domain.Message
	hasMore         bool
	loadingHistory  bool
	typing          map[string]domain.TypingUser
	typingTimers    map[string]*time.Timer
	lastTypingStart time.Time
	stopTypingTimer *time.Timer
	unsubs          []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithPageSize overrides the history page size.
func WithPageSize(n int) Option {
	return func(c *Controller) { c.pageSize = n }
}

// WithNotify registers a callback invoked after every state change, for the
// UI layer to re-render.
func WithNotify(fn func()) Option {
	return func(c *Controller) { c.notify = fn }
}

// WithClock injects a clock for deterministic typing-emission tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a controller for the authenticated user. Call Start before
// selecting a room.
func New(sessions SessionManager, fetcher HistoryFetcher, cache *msgcache.Cache, userID, username string, opts ...Option) *Controller {
	c := &Controller{
		sessions:     sessions,
		fetcher:      fetcher,
		cache:        cache,
		logger:       slog.Default().With("service", "chat"),
		userID:       userID,
		username:     username,
		pageSize:     DefaultPageSize,
		now:          time.Now,
		notify:       func() {},
		state:        RoomIdle,
		typing:       make(map[string]domain.TypingUser),
		typingTimers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start attaches the controller's event subscriptions. Safe to call before
// any namespace is connected; registrations live on the event bus.
func (c *Controller) Start(ctx context.Context) error {
	unsubMsg, err := c.sessions.OnNewMessage(ctx, c.handleNewMessage)
	if err != nil {
		return fmt.Errorf("subscribe new messages: %w", err)
	}
	unsubTyping, err := c.sessions.OnTyping(ctx, c.handleTyping)
	if err != nil {
		unsubMsg()
		return fmt.Errorf("subscribe typing: %w", err)
	}
	unsubStatus, err := c.sessions.OnStatus(ctx, c.handleStatus)
	if err != nil {
		unsubMsg()
		unsubTyping()
		return fmt.Errorf("subscribe status: %w", err)
	}

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubMsg, unsubTyping, unsubStatus)
	c.mu.Unlock()
	return nil
}

// SelectRoom switches the active room: leaves the previous one, resets local
// state, joins the new room and performs the initial history load (from cache
// when valid, otherwise a fresh fetch stored as a replace).
func (c *Controller) SelectRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	prev := c.roomID
	if prev == roomID && c.state != RoomIdle {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	epoch := c.epoch
	c.roomID = roomID
	c.state = RoomInitializing
	c.messages = nil
	c.hasMore = true
	c.loadingHistory = false
	c.resetTypingLocked()
	c.mu.Unlock()

	if prev != "" {
		c.sessions.LeaveRoom(prev)
	}
	if roomID == "" {
		c.setState(RoomIdle)
		c.notify()
		return nil
	}
	c.sessions.JoinRoom(roomID)

	if cached, ok := c.cache.Messages(roomID); ok {
		c.applyInitial(epoch, roomID, cached, false)
		return nil
	}

	if c.cache.IsLoading(roomID, msgcache.KindInitial) {
		return nil
	}
	c.cache.SetLoading(roomID, msgcache.KindInitial, true)
	defer c.cache.SetLoading(roomID, msgcache.KindInitial, false)

	page, err := c.fetcher.Messages(ctx, roomID, c.pageSize, "")
	if err != nil {
		c.logger.Error("initial history fetch failed", "room", roomID, "error", err)
		c.failRoom(epoch, roomID, err)
		return err
	}
	c.applyInitial(epoch, roomID, page, true)
	return nil
}

// applyInitial installs the initial message set if the room is still current.
func (c *Controller) applyInitial(epoch uint64, roomID string, page []domain.Message, seedCache bool) {
	if seedCache {
		c.cache.UpdateMessages(roomID, page, msgcache.ModeReplace)
		if len(page) < c.pageSize {
			c.cache.SetHasMoreOlder(roomID, false)
		}
	}

	c.mu.Lock()
	defer func() { c.mu.Unlock(); c.notify() }()
	if c.epoch != epoch {
		// The user already switched away; discard the stale result.
		return
	}
	if cached, ok := c.cache.Messages(roomID); ok {
		c.messages = cached
	} else {
		c.messages = page
	}
	c.hasMore = c.cache.HasMoreOlder(roomID)
	c.state = RoomReady
}

// failRoom records a failed fetch: pagination is defensively terminated and a
// synthetic system message describes the failure inline.
func (c *Controller) failRoom(epoch uint64, roomID string, fetchErr error) {
	c.mu.Lock()
	defer func() { c.mu.Unlock(); c.notify() }()
	if c.epoch != epoch {
		return
	}
	c.hasMore = false
	c.state = RoomReady
	c.messages = append(c.messages, domain.Message{
		ID:              "system_" + uuid.NewString(),
		RoomID:          roomID,
		Text:            "Failed to load message history: " + fetchErr.Error(),
		Sender:          domain.SenderSystem,
		ServerTimestamp: c.now(),
	})
}

// LoadOlder fetches the page before the oldest cached message and prepends
// it. Guarded against concurrent loads and exhausted history; a short page
// terminates pagination.
func (c *Controller) LoadOlder(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	epoch := c.epoch
	if roomID == "" || !c.hasMore || c.loadingHistory {
		c.mu.Unlock()
		return
	}
	var before string
	if len(c.messages) > 0 {
		before = c.messages[0].ID
	}
	c.loadingHistory = true
	c.mu.Unlock()

	if c.cache.IsLoading(roomID, msgcache.KindOlder) {
		c.setLoadingHistory(false)
		return
	}
	c.cache.SetLoading(roomID, msgcache.KindOlder, true)
	defer c.cache.SetLoading(roomID, msgcache.KindOlder, false)

	page, err := c.fetcher.Messages(ctx, roomID, c.pageSize, before)

	c.mu.Lock()
	defer func() { c.mu.Unlock(); c.notify() }()
	c.loadingHistory = false
	if c.epoch != epoch {
		return
	}
	if err != nil {
		c.logger.Error("older history fetch failed", "room", roomID, "error", err)
		c.hasMore = false
		c.cache.SetHasMoreOlder(roomID, false)
		c.messages = append(c.messages, domain.Message{
			ID:              "system_" + uuid.NewString(),
			RoomID:          roomID,
			Text:            "Failed to load older messages: " + err.Error(),
			Sender:          domain.SenderSystem,
			ServerTimestamp: c.now(),
		})
		return
	}

	c.cache.UpdateMessages(roomID, page, msgcache.ModePrepend)
	if len(page) < c.pageSize {
		c.hasMore = false
		c.cache.SetHasMoreOlder(roomID, false)
	}
	if cached, ok := c.cache.Messages(roomID); ok {
		c.messages = cached
	}
}

func (c *Controller) setLoadingHistory(v bool) {
	c.mu.Lock()
	c.loadingHistory = v
	c.mu.Unlock()
}

// HandleScroll triggers older-history loading when the container's offset
// from the top falls below the threshold.
func (c *Controller) HandleScroll(ctx context.Context, offsetTopPx int) {
	if offsetTopPx < ScrollThresholdPx {
		c.LoadOlder(ctx)
	}
}

// Send performs an optimistic send: the message appears immediately with a
// temporary id and pending flag, and is reconciled with the server echo via
// its client key.
func (c *Controller) Send(ctx context.Context, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		c.mu.Unlock()
		return
	}
	clientKey := uuid.NewString()
	pending := domain.Message{
		ID:              "temp_" + clientKey,
		RoomID:          roomID,
		Text:            text,
		Sender:          domain.SenderUser,
		SenderInfo:      domain.SenderInfo{ID: c.userID, Username: c.username},
		ServerTimestamp: c.now(),
		ClientKey:       clientKey,
		Pending:         true,
	}
	c.messages = append(c.messages, pending)
	c.mu.Unlock()

	c.sessions.SendMessage(roomID, text, clientKey)
	// Sending a message ends the local typing state immediately.
	c.emitTypingStop(roomID)
	c.notify()
}

// InputChanged tracks the local input box. A non-empty input emits
// typing-start at most once per interval and (re)schedules the typing-stop;
// an emptied input emits typing-stop immediately.
func (c *Controller) InputChanged(text string) {
	c.mu.Lock()
	roomID := c.roomID
	if roomID == "" {
		c.mu.Unlock()
		return
	}

	if text == "" {
		c.mu.Unlock()
		c.emitTypingStop(roomID)
		return
	}

	start := c.now().Sub(c.lastTypingStart) >= typingStartInterval
	if start {
		c.lastTypingStart = c.now()
	}
	if c.stopTypingTimer != nil {
		c.stopTypingTimer.Stop()
	}
	c.stopTypingTimer = time.AfterFunc(typingStopDelay, func() {
		c.emitTypingStop(roomID)
	})
	c.mu.Unlock()

	if start {
		c.sessions.SendTyping(roomID, true)
	}
}

func (c *Controller) emitTypingStop(roomID string) {
	c.mu.Lock()
	if c.stopTypingTimer != nil {
		c.stopTypingTimer.Stop()
		c.stopTypingTimer = nil
	}
	c.lastTypingStart = time.Time{}
	c.mu.Unlock()
	c.sessions.SendTyping(roomID, false)
}

func (c *Controller) handleNewMessage(msg domain.Message) {
	c.mu.Lock()
	if msg.RoomID != c.roomID || c.roomID == "" {
		c.mu.Unlock()
		return
	}
	roomID := c.roomID

	// Classify the sender relative to the authenticated user.
	if msg.Sender != domain.SenderSystem {
		if msg.SenderInfo.ID == c.userID {
			msg.Sender = domain.SenderUser
		} else {
			msg.Sender = domain.SenderBot
		}
	}

	// Reconcile an optimistic copy: the echo carries the client key we
	// attached at send time.
	reconciled := false
	if msg.ClientKey != "" {
		tempID := "temp_" + msg.ClientKey
		for i := range c.messages {
			if c.messages[i].ID == tempID {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
				reconciled = true
				break
			}
		}
		if reconciled {
			c.cache.ReplaceMessage(roomID, tempID, msg)
		}
	}

	c.messages = append(c.messages, msg)
	c.mu.Unlock()

	if !reconciled {
		c.cache.UpdateMessages(roomID, []domain.Message{msg}, msgcache.ModeAppend)
	}
	c.notify()
}

func (c *Controller) handleTyping(ts domain.TypingStatus) {
	c.mu.Lock()
	defer func() { c.mu.Unlock(); c.notify() }()

	if ts.RoomID != c.roomID || ts.UserID == c.userID {
		return
	}

	if t, ok := c.typingTimers[ts.UserID]; ok {
		t.Stop()
		delete(c.typingTimers, ts.UserID)
	}

	if !ts.IsTyping {
		delete(c.typing, ts.UserID)
		return
	}

	c.typing[ts.UserID] = domain.TypingUser{UserID: ts.UserID, Username: ts.Username}
	userID := ts.UserID
	c.typingTimers[userID] = time.AfterFunc(typingExpiry, func() {
		c.mu.Lock()
		delete(c.typing, userID)
		delete(c.typingTimers, userID)
		c.mu.Unlock()
		c.notify()
	})
}

func (c *Controller) handleStatus(su domain.StatusUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if su.RoomID != c.roomID {
		return
	}
	c.logger.Debug("room status", "room", su.RoomID, "status", su.Status)
}

// resetTypingLocked clears the typing set and stops its timers. Callers hold c.mu.
func (c *Controller) resetTypingLocked() {
	for id, t := range c.typingTimers {
		t.Stop()
		delete(c.typingTimers, id)
	}
	c.typing = make(map[string]domain.TypingUser)
	if c.stopTypingTimer != nil {
		c.stopTypingTimer.Stop()
		c.stopTypingTimer = nil
	}
	c.lastTypingStart = time.Time{}
}

func (c *Controller) setState(s RoomState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Messages returns a copy of the active room's message list.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// TypingUsers returns the users currently typing in the active room.
func (c *Controller) TypingUsers() []domain.TypingUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TypingUser, 0, len(c.typing))
	for _, u := range c.typing {
		out = append(out, u)
	}
	return out
}

// State returns the controller's room lifecycle state.
func (c *Controller) State() RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasMoreMessages reports whether older history may remain.
func (c *Controller) HasMoreMessages() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// RoomID returns the active room id, or "" when idle.
func (c *Controller) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Close leaves the active room and detaches all subscriptions and timers.
func (c *Controller) Close() {
	c.mu.Lock()
	roomID := c.roomID
	c.roomID = ""
	c.state = RoomIdle
	c.resetTypingLocked()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	if roomID != "" {
		c.sessions.LeaveRoom(roomID)
	}
	for _, unsub := range unsubs {
		unsub()
	}
}
