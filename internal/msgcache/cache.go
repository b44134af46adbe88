// Package msgcache holds the per-room chat history cache. It exists to reduce
// redundant history fetches and to carry the pagination metadata the chat
// controller needs to preserve scroll semantics while loading older pages.
package msgcache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pulsepal/pulsepal/internal/domain"
)

// DefaultTTL is how long a room's cache entry is served before it is treated
// as a miss and refetched.
const DefaultTTL = 10 * time.Minute

// Mode selects how an update merges with the existing cached sequence.
type Mode string

const (
	// ModeReplace discards the prior cache and stores the given sequence.
	ModeReplace Mode = "replace"
	// ModePrepend places older history before the existing sequence.
	ModePrepend Mode = "prepend"
	// ModeAppend places newly arrived messages after the existing sequence.
	ModeAppend Mode = "append"
)

// Kind identifies a fetch in flight for a room, used to reject duplicates.
type Kind string

const (
	KindInitial Kind = "initial"
	KindOlder   Kind = "older"
	KindNewer   Kind = "newer"
)

// Metadata carries the pagination state for a cached room.
type Metadata struct {
	OldestMessageID      string
	NewestMessageID      string
	HasMoreOlder         bool
	HasMoreNewer         bool
	InitialLoadPerformed bool
}

type room struct {
	messages   []domain.Message
	lastUpdate time.Time
	meta       Metadata
	loading    map[Kind]bool
}

// Cache is an in-memory, per-room message cache with TTL expiry.
type Cache struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default cache TTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

// WithClock injects a clock, for deterministic TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		rooms:  make(map[string]*room),
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default().With("service", "msgcache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTTL changes the TTL for subsequent validity checks.
func (c *Cache) SetTTL(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = d
}

// Messages returns the cached sequence for a room and true, or nil and false
// on a miss (no entry, or entry past its TTL). A room with zero messages is a
// legitimate cached state, not a miss.
func (c *Cache) Messages(roomID string) ([]domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok || !c.validLocked(r) {
		return nil, false
	}

	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out, true
}

// IsValid reports whether a room has a live (unexpired) cache entry.
func (c *Cache) IsValid(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	return ok && c.validLocked(r)
}

func (c *Cache) validLocked(r *room) bool {
	return c.now().Sub(r.lastUpdate) < c.ttl
}

// UpdateMessages merges messages into a room's cache. After any update the
// merged set is deduplicated by id, re-sorted by server timestamp (inputs are
// not assumed pre-sorted) and the pagination metadata recomputed.
func (c *Cache) UpdateMessages(roomID string, messages []domain.Message, mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok || mode == ModeReplace {
		prev := Metadata{HasMoreOlder: true, HasMoreNewer: false}
		if ok {
			// Pagination sentinels survive a replace; only the message set is new.
			prev.HasMoreOlder = r.meta.HasMoreOlder
			prev.HasMoreNewer = r.meta.HasMoreNewer
		}
		r = &room{meta: prev, loading: make(map[Kind]bool)}
		if ok {
			r.loading = c.rooms[roomID].loading
		}
		c.rooms[roomID] = r
	}

	switch mode {
	case ModeReplace:
		r.messages = append([]domain.Message(nil), messages...)
	case ModePrepend:
		merged := make([]domain.Message, 0, len(messages)+len(r.messages))
		merged = append(merged, messages...)
		merged = append(merged, r.messages...)
		r.messages = merged
	case ModeAppend:
		r.messages = append(r.messages, messages...)
	}

	r.messages = dedupeByID(r.messages)
	sort.SliceStable(r.messages, func(i, j int) bool {
		return r.messages[i].ServerTimestamp.Before(r.messages[j].ServerTimestamp)
	})

	if n := len(r.messages); n > 0 {
		r.meta.OldestMessageID = r.messages[0].ID
		r.meta.NewestMessageID = r.messages[n-1].ID
	} else {
		r.meta.OldestMessageID = ""
		r.meta.NewestMessageID = ""
	}
	r.meta.InitialLoadPerformed = true
	r.lastUpdate = c.now()

	c.logger.Debug("cache updated",
		"room", roomID,
		"mode", string(mode),
		"count", len(r.messages))
}

// ReplaceMessage swaps an optimistic message (matched by its id) for the
// server-confirmed one, keeping ordering and metadata consistent. Returns
// false if the temp id is not cached.
func (c *Cache) ReplaceMessage(roomID, tempID string, confirmed domain.Message) bool {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	found := false
	for i := range r.messages {
		if r.messages[i].ID == tempID {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	c.UpdateMessages(roomID, []domain.Message{confirmed}, ModeAppend)
	return true
}

// Invalidate drops one room's cache entry, metadata and in-flight flags.
func (c *Cache) Invalidate(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// InvalidateAll drops every room's state.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[string]*room)
}

// SetLoading marks a fetch of the given kind as in flight for a room.
func (c *Cache) SetLoading(roomID string, kind Kind, loading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok {
		if !loading {
			return
		}
		r = &room{
			meta:    Metadata{HasMoreOlder: true},
			loading: make(map[Kind]bool),
		}
		c.rooms[roomID] = r
	}
	if loading {
		r.loading[kind] = true
	} else {
		delete(r.loading, kind)
	}
}

// IsLoading reports whether any fetch of the given kinds is in flight for the
// room. With no kinds given, it reports whether any fetch at all is in flight.
func (c *Cache) IsLoading(roomID string, kinds ...Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	if len(kinds) == 0 {
		return len(r.loading) > 0
	}
	for _, k := range kinds {
		if r.loading[k] {
			return true
		}
	}
	return false
}

// HasNewerMessages reports whether any candidate is strictly newer than the
// latest cached message. With nothing cached, any candidate counts as newer.
func (c *Cache) HasNewerMessages(roomID string, candidates []domain.Message) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok || len(r.messages) == 0 {
		return len(candidates) > 0
	}

	latest := r.messages[len(r.messages)-1].ServerTimestamp
	for _, m := range candidates {
		if m.ServerTimestamp.After(latest) {
			return true
		}
	}
	return false
}

// SetHasMoreOlder records the pagination sentinel for older history.
func (c *Cache) SetHasMoreOlder(roomID string, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[roomID]
	if !ok {
		r = &room{
			meta:    Metadata{HasMoreOlder: true},
			loading: make(map[Kind]bool),
		}
		c.rooms[roomID] = r
	}
	r.meta.HasMoreOlder = hasMore
}

// HasMoreOlder reports the pagination sentinel. Unknown rooms default to true:
// more history is assumed to exist until a short page proves otherwise.
func (c *Cache) HasMoreOlder(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok {
		return true
	}
	return r.meta.HasMoreOlder
}

// RoomMetadata returns a copy of the pagination metadata for a room.
func (c *Cache) RoomMetadata(roomID string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rooms[roomID]
	if !ok {
		return Metadata{}, false
	}
	return r.meta, true
}

func dedupeByID(messages []domain.Message) []domain.Message {
	seen := make(map[string]bool, len(messages))
	out := messages[:0]
	for _, m := range messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}
