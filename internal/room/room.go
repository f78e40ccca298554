package room

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wandform/backend/internal/metrics"
	"github.com/wandform/backend/internal/protocol"
	"github.com/wandform/backend/internal/store"
)

// Timestamps match the millisecond ISO-8601 format history consumers expect.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const mailboxSize = 64

type Config struct {
	// SendBuffer is the per-session event channel capacity. A session whose
	// buffer fills during a broadcast is treated as a failed delivery.
	SendBuffer int
}

type command interface{ isCommand() }

type joinCmd struct{ reply chan *Session }
type frameCmd struct {
	sessionID string
	data      []byte
}
type leaveCmd struct{ sessionID string }

func (joinCmd) isCommand()  {}
func (frameCmd) isCommand() {}
func (leaveCmd) isCommand() {}

// Room owns all mutable state for one form key: the session registry, the
// broadcast fan-out, and the write path into the update log. Every mutation
// flows through the mailbox and is processed by the single run goroutine,
// so no two operations on the same room ever race.
type Room struct {
	key      string
	store    *store.Store
	cfg      Config
	sessions *registry
	cmds     chan command
	live     atomic.Int64

	mu       sync.Mutex
	retired  bool
	onRetire func(*Room)
}

func newRoom(key string, st *store.Store, cfg Config, onRetire func(*Room)) *Room {
	return &Room{
		key:      key,
		store:    st,
		cfg:      cfg,
		sessions: newRegistry(),
		cmds:     make(chan command, mailboxSize),
		onRetire: onRetire,
	}
}

// enqueue admits a command to the mailbox. It fails only once the room has
// retired, at which point the caller must obtain a fresh room.
func (r *Room) enqueue(c command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.cmds <- c
	return true
}

func (r *Room) run() {
	for cmd := range r.cmds {
		switch c := cmd.(type) {
		case joinCmd:
			r.handleJoin(c)
		case frameCmd:
			r.handleFrame(c)
		case leaveCmd:
			r.handleLeave(c)
		}

		if r.sessions.size() == 0 && r.tryRetire() {
			return
		}
	}
}

// tryRetire shuts the room down if no commands are pending. The admission
// check in enqueue and the mailbox check here run under the same lock, so a
// caller can never enqueue into a room that has decided to retire. TryLock
// keeps the actor from blocking on a caller that is mid-enqueue waiting for
// mailbox space; failing the lock just means a command is on its way.
func (r *Room) tryRetire() bool {
	if !r.mu.TryLock() {
		return false
	}
	if len(r.cmds) > 0 {
		r.mu.Unlock()
		return false
	}
	r.retired = true
	r.mu.Unlock()

	if r.onRetire != nil {
		r.onRetire(r)
	}
	log.Printf("room %s retired (empty)", r.key)
	return true
}

func (r *Room) handleJoin(c joinCmd) {
	s := &Session{
		id:       uuid.NewString(),
		events:   make(chan []byte, r.cfg.SendBuffer),
		room:     r,
		joinedAt: time.Now(),
	}
	r.sessions.add(s)
	r.live.Store(int64(r.sessions.size()))
	metrics.ActiveSessions.Inc()
	metrics.SessionsTotal.Inc()

	r.broadcast(protocol.Joined{Type: protocol.TypeJoined, ID: s.id})
	r.broadcastPresence()

	c.reply <- s
}

func (r *Room) handleFrame(c frameCmd) {
	if _, ok := r.sessions.sessions[c.sessionID]; !ok {
		return
	}

	payload, ok := protocol.ParseUpdateFrame(c.data)
	if !ok {
		// Malformed frames are dropped with no reply and no state change.
		metrics.UpdatesRejected.Inc()
		return
	}

	id := uuid.NewString()
	at := time.Now().UTC().Format(timeLayout)

	// Persist before broadcast: a client that queries history right after
	// receiving this event must find it there.
	if err := r.store.AppendUpdate(r.key, id, c.sessionID, payload, at); err != nil {
		log.Printf("room %s: append update: %v", r.key, err)
		return
	}
	metrics.UpdatesAccepted.Inc()

	r.broadcast(protocol.Update{
		Type:    protocol.TypeUpdate,
		ID:      id,
		By:      c.sessionID,
		Payload: payload,
		At:      at,
	})
}

func (r *Room) handleLeave(c leaveCmd) {
	if r.evict(c.sessionID) {
		r.broadcastPresence()
	}
}

// evict removes and closes one session. Returns false if it was already
// gone, which makes duplicate close/error signals harmless.
func (r *Room) evict(id string) bool {
	s, ok := r.sessions.remove(id)
	if !ok {
		return false
	}
	close(s.events)
	r.live.Store(int64(r.sessions.size()))
	metrics.ActiveSessions.Dec()
	return true
}

// broadcast serializes event once and delivers it to every session. When a
// delivery fails the session is pruned and a follow-up presence event is
// emitted so the published count never goes silently stale.
func (r *Room) broadcast(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("room %s: marshal event: %v", r.key, err)
		return
	}
	if r.deliver(data) > 0 {
		r.broadcastPresence()
	}
}

func (r *Room) broadcastPresence() {
	for {
		data, err := json.Marshal(protocol.Presence{
			Type:  protocol.TypePresence,
			Count: r.sessions.size(),
		})
		if err != nil {
			return
		}
		// Re-announce whenever the pass itself shrank the session set.
		// Terminates because the set strictly decreases.
		if r.deliver(data) == 0 {
			return
		}
	}
}

// deliver attempts one non-blocking send per session and prunes every
// session whose buffer is full. One slow consumer never blocks the rest.
func (r *Room) deliver(data []byte) int {
	var failed []*Session
	r.sessions.forEach(func(s *Session) {
		select {
		case s.events <- data:
		default:
			failed = append(failed, s)
		}
	})

	for _, s := range failed {
		if r.evict(s.id) {
			metrics.BroadcastDrops.Inc()
			log.Printf("room %s: dropped session %s (send buffer full)", r.key, s.id)
		}
	}
	return len(failed)
}
