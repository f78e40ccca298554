package room

import "time"

// Session is the handle a transport holds for one connected participant.
// The room actor exclusively owns the underlying registry entry; the
// transport only gets the capability to receive events and forward frames.
type Session struct {
	id       string
	events   chan []byte
	room     *Room
	joinedAt time.Time
}

func (s *Session) ID() string {
	return s.id
}

// Events yields serialized events in the order the room emitted them.
// The channel is closed when the session is removed from the room.
func (s *Session) Events() <-chan []byte {
	return s.events
}

// HandleFrame forwards one inbound client frame to the room actor.
// Frames from a session that has already been removed are ignored.
func (s *Session) HandleFrame(data []byte) {
	s.room.enqueue(frameCmd{sessionID: s.id, data: data})
}

// Close signals that this session's stream has closed or errored.
// Safe to call more than once; removal is idempotent.
func (s *Session) Close() {
	s.room.enqueue(leaveCmd{sessionID: s.id})
}
