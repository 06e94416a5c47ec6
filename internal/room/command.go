// Package room runs the per-room command loop: a single actor goroutine per
// owned room serializes every mutation, backed by a cross-instance leader
// lease so exactly one loop exists per room.
package room

import (
	"encoding/json"

	"github.com/nightcourt/mafiad/internal/types"
)

// Client command types carried in CommandEnvelope.Type. The host.* and
// game.start types are internal splits of the wire-level host.action event;
// the transport maps between them.
const (
	CmdStartGame    = "game.start"
	CmdSubmitAction = "action.submit"
	CmdCastVote     = "vote.cast"
	CmdSendChat     = "chat.message"
	CmdKickPlayer   = "host.kick"
	CmdMutePlayer   = "host.mute"
	CmdNudgePlayer  = "host.nudge"
	CmdLeaveRoom    = "room.leave"

	// cmdTick is enqueued by the scheduler, never by clients.
	cmdTick = "internal.tick"
)

// Event types published on the bus and delivered as websocket frames.
const (
	EvtPlayerJoined  = "player.joined"
	EvtPlayerLeft    = "player.left"
	EvtPlayerKicked  = "player.kicked"
	EvtPlayerStatus  = "player.status"
	EvtPhaseChanged  = "phase.change"
	EvtVoteUpdate    = "vote.update"
	EvtNightResolved = "night.publicResult"
	EvtVoteResolved  = "lynch.result"
	EvtGameEnded     = "game.ended"
	EvtChatMessage   = "chat.message"
	EvtInvestigation = "detective.result"
)

// SubmitActionPayload is the body of an action.submit command. ActionID is
// the client-chosen idempotency key.
type SubmitActionPayload struct {
	ActionID string `json:"actionId,omitempty"`
	Type     string `json:"type"`
	TargetID string `json:"targetId,omitempty"`
}

// CastVotePayload is the body of a vote.cast command. A null/absent target
// is an abstention.
type CastVotePayload struct {
	ActionID string `json:"actionId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// ChatPayload is the body of a chat.message command.
type ChatPayload struct {
	MessageID string `json:"messageId,omitempty"`
	Channel   string `json:"channel"`
	Content   string `json:"content"`
}

// HostTargetPayload is shared by the host.kick / host.mute / host.nudge
// commands.
type HostTargetPayload struct {
	TargetID string `json:"targetId"`
	Muted    bool   `json:"muted,omitempty"`
}

// Ack statuses. Dropped commands produce no client-visible reply at all.
const (
	AckOK      = "ok"
	AckError   = "error"
	AckDropped = "dropped"
)

// Ack is the reply to every dispatched command.
type Ack struct {
	CommandID string           `json:"commandId"`
	Status    string           `json:"status"`
	Duplicate bool             `json:"duplicate,omitempty"`
	Error     *types.GameError `json:"error,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
}

func okAck(commandID string, result any) Ack {
	raw, _ := json.Marshal(result)
	return Ack{CommandID: commandID, Status: AckOK, Result: raw}
}

func errAck(commandID string, ge *types.GameError) Ack {
	return Ack{CommandID: commandID, Status: AckError, Error: ge}
}

func droppedAck(commandID string) Ack {
	return Ack{CommandID: commandID, Status: AckDropped}
}
