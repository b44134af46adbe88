package devserver

import (
	"sync"

	"github.com/pulsepal/pulsepal/internal/domain"
)

// messageStore is the stub backend's in-memory history, ascending per room.
type messageStore struct {
	mu    sync.RWMutex
	rooms map[string][]domain.Message
}

func newMessageStore() *messageStore {
	return &messageStore{rooms: make(map[string][]domain.Message)}
}

func (st *messageStore) Append(roomID string, msg domain.Message) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rooms[roomID] = append(st.rooms[roomID], msg)
}

// Page returns up to limit messages, oldest-first. A non-empty before id
// restricts the page to messages strictly older than that message.
func (st *messageStore) Page(roomID string, limit int, before string) []domain.Message {
	st.mu.RLock()
	defer st.mu.RUnlock()

	all := st.rooms[roomID]
	end := len(all)
	if before != "" {
		end = 0
		for i, m := range all {
			if m.ID == before {
				end = i
				break
			}
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]domain.Message, end-start)
	copy(page, all[start:end])
	return page
}
