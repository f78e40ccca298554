package protocol

import "encoding/json"

// Event types sent to connected sessions
const (
	TypeJoined   = "joined"
	TypePresence = "presence"
	TypeUpdate   = "update"
)

// Announces a new session to the room
type Joined struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Carries the current live-session count
type Presence struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// An accepted edit event, fanned out to every session
type Update struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	By      string          `json:"by"`
	Payload json.RawMessage `json:"payload"`
	At      string          `json:"at"`
}

// Inbound frame from a connected client
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseUpdateFrame extracts the payload from a well-formed update frame.
// A frame is well-formed when it is valid JSON with type "update" and a
// payload key (an explicit null payload is allowed, a missing one is not).
func ParseUpdateFrame(data []byte) (json.RawMessage, bool) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	if msg.Type != TypeUpdate || msg.Payload == nil {
		return nil, false
	}
	return msg.Payload, true
}
