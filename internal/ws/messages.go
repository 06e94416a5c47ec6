// Package ws is the websocket transport: the handshake that binds a socket
// to an authenticated (room, player, session) identity, the per-socket
// pumps, and the hub that fans committed room updates out per viewer.
package ws

import (
	"encoding/json"

	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/types"
)

// ClientFrame is every client-to-server message: an event name, an optional
// idempotency command id, and an event-specific payload.
type ClientFrame struct {
	Event     string          `json:"event"`
	CommandID string          `json:"commandId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is every server-to-client message.
type ServerFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Handshake events. Exactly one must be the first frame on a fresh socket.
const (
	EvtRoomCreate    = "room.create"
	EvtRoomJoin      = "room.join"
	EvtSessionResume = "session.resume"
)

// EvtHostAction is the wire event covering every host command. The router
// splits it into the dispatcher's host.* and game.start types.
const EvtHostAction = "host.action"

// Server-emitted transport events. Game events pass through the hub with
// their bus type as the frame event name.
const (
	EvtRoomSnapshot   = "room.snapshot"
	EvtActionAck      = "action.ack"
	EvtError          = "error"
	EvtSessionEvicted = "session.evicted"
	EvtTokenRefresh   = "token.refresh"
)

// CreateRoomPayload opens a new room with the sender as host.
type CreateRoomPayload struct {
	HostName string `json:"hostName"`
}

// JoinRoomPayload joins an existing room by code. SessionID is accepted for
// clients that kept one from an earlier login; a join always issues a fresh
// session either way.
type JoinRoomPayload struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
	SessionID  string `json:"sessionId,omitempty"`
}

// ResumePayload re-binds a socket to an existing session.
type ResumePayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId,omitempty"`
	Token     string `json:"jwt"`
}

// HostActionPayload is the body of a host.action frame.
type HostActionPayload struct {
	Action   string `json:"action"`
	TargetID string `json:"targetId,omitempty"`
}

// BoundPayload answers a successful handshake. Events holds the replayable
// tail for resumes, already filtered to what this viewer may see.
type BoundPayload struct {
	RoomID    string           `json:"roomId"`
	Code      string           `json:"code"`
	PlayerID  string           `json:"playerId"`
	SessionID string           `json:"sessionId"`
	Token     string           `json:"jwt"`
	View      engine.View      `json:"view"`
	Events    []DeliveredEvent `json:"events,omitempty"`
}

// ViewPayload carries a redacted room snapshot pushed after a commit.
type ViewPayload struct {
	View engine.View `json:"view"`
}

// ActionAckPayload echoes a recorded night submission back to its sender.
type ActionAckPayload struct {
	ActionID string `json:"actionId"`
	Type     string `json:"type"`
	TargetID string `json:"targetId,omitempty"`
}

// EvictedPayload tells a socket its session was claimed by a newer login.
type EvictedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// TokenPayload carries a proactively refreshed token.
type TokenPayload struct {
	Token string `json:"jwt"`
}

func errorFrame(ge *types.GameError) ServerFrame {
	return ServerFrame{Event: EvtError, Payload: ge}
}

// commandErrorFrame tags a rejection with the failing command id so the
// client can match it to the frame it sent.
func commandErrorFrame(commandID string, ge *types.GameError) ServerFrame {
	tagged := *ge
	tagged.Context = commandID
	return ServerFrame{Event: EvtError, Payload: &tagged}
}

func evictedFrame() ServerFrame {
	return ServerFrame{Event: EvtSessionEvicted, Payload: EvictedPayload{
		Reason:  "duplicate_session",
		Message: "another connection signed in to this seat",
	}}
}
