// Package types holds the wire-level envelopes shared by the transport,
// dispatcher, and engine layers.
package types

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 1

// NewID returns a 16-byte random identifier rendered as lowercase hex.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// CommandEnvelope is a decoded client command bound to an authenticated actor.
// CommandID doubles as the idempotency key: retries of the same submission
// carry the same id.
type CommandEnvelope struct {
	CommandID   string          `json:"command_id"`
	RoomID      string          `json:"room_id"`
	Type        string          `json:"type"`
	ActorID     string          `json:"actor_id"`
	SessionID   string          `json:"session_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ReceivedAt  int64           `json:"received_at_ms"`
}

// Event is a committed, publishable fact about a room. Events with a
// non-empty Targets list are delivered only to those players; otherwise they
// fan out to every subscriber of the room.
type Event struct {
	EventID          string          `json:"event_id"`
	RoomID           string          `json:"room_id"`
	Type             string          `json:"type"`
	ActorID          string          `json:"actor_id,omitempty"`
	CausationCommand string          `json:"causation_command,omitempty"`
	Targets          []string        `json:"targets,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	TimestampMs      int64           `json:"server_timestamp_ms"`
}

// NewEvent builds an event caused by cmd.
func NewEvent(cmd CommandEnvelope, eventType string, payload any, targets ...string) Event {
	b, _ := json.Marshal(payload)
	return Event{
		EventID:          NewID(),
		RoomID:           cmd.RoomID,
		Type:             eventType,
		ActorID:          cmd.ActorID,
		CausationCommand: cmd.CommandID,
		Targets:          targets,
		Payload:          b,
		TimestampMs:      time.Now().UnixMilli(),
	}
}
