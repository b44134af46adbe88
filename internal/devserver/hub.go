package devserver

import "log/slog"

// Subscriber represents a single connected chat client. The hub sends frames
// through Send; the client's write pump drains it.
type Subscriber struct {
	UserID string
	Send   chan []byte
}

// Membership links a subscriber to a room for join/leave requests.
type Membership struct {
	Sub  *Subscriber
	Room string
}

// RoomMessage is a frame to broadcast to a room's members. Exclude, when set,
// skips one subscriber (typing indicators are not echoed to their sender).
type RoomMessage struct {
	Room    string
	Payload []byte
	Exclude *Subscriber
}

// Hub is the room-scoped event bus of the stub backend. It maintains the set
// of active subscribers and their room memberships and broadcasts frames to
// room members.
type Hub struct {
	// subscribers maps each subscriber to the set of rooms it has joined.
	subscribers map[*Subscriber]map[string]bool

	Register   chan *Subscriber
	Unregister chan *Subscriber
	Join       chan Membership
	Leave      chan Membership
	Broadcast  chan RoomMessage
}

// NewHub creates and returns a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]map[string]bool),
		Register:    make(chan *Subscriber),
		Unregister:  make(chan *Subscriber),
		Join:        make(chan Membership),
		Leave:       make(chan Membership),
		Broadcast:   make(chan RoomMessage, 64),
	}
}

// Run starts the Hub's processing loop. It must be run in a separate
// goroutine; it listens on its channels and orchestrates all room traffic.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.Register:
			h.subscribers[sub] = make(map[string]bool)
			slog.Debug("subscriber registered", "user", sub.UserID, "total", len(h.subscribers))

		case sub := <-h.Unregister:
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.Send)
				slog.Debug("subscriber unregistered", "user", sub.UserID, "total", len(h.subscribers))
			}

		case member := <-h.Join:
			if rooms, ok := h.subscribers[member.Sub]; ok {
				rooms[member.Room] = true
			}

		case member := <-h.Leave:
			if rooms, ok := h.subscribers[member.Sub]; ok {
				delete(rooms, member.Room)
			}

		case msg := <-h.Broadcast:
			for sub, rooms := range h.subscribers {
				if !rooms[msg.Room] || sub == msg.Exclude {
					continue
				}
				select {
				case sub.Send <- msg.Payload:
				default:
					// The send buffer is full; assume the client is dead or
					// stuck and drop it.
					close(sub.Send)
					delete(h.subscribers, sub)
					slog.Warn("unregistering slow subscriber", "user", sub.UserID)
				}
			}
		}
	}
}
