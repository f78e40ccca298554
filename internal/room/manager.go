package room

import (
	"sync"

	"github.com/wandform/backend/internal/store"
)

// Manager routes form keys to their room actors, creating rooms lazily on
// first access and forgetting them once they retire. The update log lives
// in the store and survives any room's eviction.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room
	store *store.Store
	cfg   Config
}

func NewManager(st *store.Store, cfg Config) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		store: st,
		cfg:   cfg,
	}
}

// Join resolves the room for formID and opens a session in it. The session
// already carries its joined and presence events when this returns.
func (m *Manager) Join(formID string) *Session {
	for {
		r := m.room(formID)
		reply := make(chan *Session, 1)
		if r.enqueue(joinCmd{reply: reply}) {
			return <-reply
		}
		// Lost a race with the room retiring; next lookup makes a fresh one.
	}
}

func (m *Manager) room(formID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[formID]
	if r == nil {
		r = newRoom(formID, m.store, m.cfg, m.forget)
		m.rooms[formID] = r
		go r.run()
	}
	return r
}

func (m *Manager) forget(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[r.key] == r {
		delete(m.rooms, r.key)
	}
}

func (m *Manager) ActiveRooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, r := range m.rooms {
		total += int(r.live.Load())
	}
	return total
}
