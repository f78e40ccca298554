package room

// registry is the set of live sessions for one room, keyed by session id.
// It is only ever touched from the owning room's actor goroutine, so it
// carries no lock; a single goroutine is the sole writer and reader.
type registry struct {
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

func (r *registry) add(s *Session) {
	r.sessions[s.id] = s
}

// remove deletes a session by id, returning it iff it was present.
func (r *registry) remove(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return s, true
}

func (r *registry) size() int {
	return len(r.sessions)
}

func (r *registry) forEach(fn func(*Session)) {
	for _, s := range r.sessions {
		fn(s)
	}
}
