package room

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/roles"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/types"
)

// Internal command types enqueued by the server itself.
const (
	cmdJoin       = "internal.join"
	cmdConnect    = "internal.connect"
	cmdDisconnect = "internal.disconnect"
)

// joinPayload is the body of the internal join command issued when a
// handshake resolves a room code.
type joinPayload struct {
	Name string `json:"name"`
}

// errNothingToDo aborts a tick commit when the phase turned out not to be
// due after all (stale timer, phase already advanced by an earlier tick).
var errNothingToDo = errors.New("room: nothing to do")

// errRoomEmpty aborts a leave commit when the last player is leaving; the
// room is deleted instead of persisted empty.
var errRoomEmpty = errors.New("room: last player left")

type request struct {
	ctx   context.Context
	cmd   types.CommandEnvelope
	reply chan Ack
}

// Actor is the single writer for one room. All commands, client and
// internal alike, funnel through its mailbox and execute strictly in order.
type Actor struct {
	roomID   string
	rooms    *store.RoomStore
	sessions *store.SessionStore
	dedup    *store.DedupStore
	bus      bus.Bus
	log      *zap.Logger
	met      *metrics.Metrics

	mailbox chan request
	sched   *Scheduler
	stop    chan struct{}
	stopped chan struct{}
}

func newActor(roomID string, deps Deps) *Actor {
	a := &Actor{
		roomID:   roomID,
		rooms:    deps.Rooms,
		sessions: deps.Sessions,
		dedup:    deps.Dedup,
		bus:      deps.Bus,
		log:      deps.Log.With(zap.String("room_id", roomID)),
		met:      deps.Metrics,
		mailbox:  make(chan request, 64),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	a.sched = newScheduler(a)
	return a
}

func (a *Actor) run() {
	defer close(a.stopped)
	go a.sched.run()
	for {
		select {
		case req := <-a.mailbox:
			req.reply <- a.handle(req.ctx, req.cmd)
		case <-a.stop:
			a.sched.shutdown()
			return
		}
	}
}

// Dispatch queues a command and waits for its ack.
func (a *Actor) Dispatch(ctx context.Context, cmd types.CommandEnvelope) Ack {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan Ack, 1)}
	select {
	case a.mailbox <- req:
	case <-a.stop:
		return errAck(cmd.CommandID, types.Internal("room is shutting down"))
	case <-ctx.Done():
		return errAck(cmd.CommandID, types.Internal("dispatch cancelled"))
	}
	select {
	case ack := <-req.reply:
		return ack
	case <-ctx.Done():
		return errAck(cmd.CommandID, types.Internal("dispatch cancelled"))
	}
}

func (a *Actor) handle(ctx context.Context, cmd types.CommandEnvelope) Ack {
	ctx, span := otel.Tracer("mafiad/room").Start(ctx, "dispatch."+cmd.Type,
		trace.WithAttributes(attribute.String("room.id", a.roomID)))
	defer span.End()

	start := time.Now()
	var ack Ack
	switch cmd.Type {
	case cmdTick:
		ack = a.handleTick(ctx, cmd)
	case CmdSendChat:
		ack = a.handleChat(ctx, cmd)
	default:
		ack = a.handleMutation(ctx, cmd)
	}
	a.met.CommandDuration.WithLabelValues(cmd.Type).Observe(time.Since(start).Seconds())
	a.met.CommandsTotal.WithLabelValues(cmd.Type, ack.Status).Inc()
	if ack.Error != nil {
		a.met.CommandRejected.WithLabelValues(string(ack.Error.Code)).Inc()
		span.SetAttributes(attribute.String("error.code", string(ack.Error.Code)))
	}
	return ack
}

// handleMutation is the standard path: claim the command id, run the
// policy-checked mutation inside an optimistic commit, then publish.
func (a *Actor) handleMutation(ctx context.Context, cmd types.CommandEnvelope) Ack {
	rec, err := a.dedup.Begin(ctx, a.roomID, cmd.ActorID, cmd.CommandID)
	if err != nil {
		return errAck(cmd.CommandID, types.Internal("dedup store unavailable"))
	}
	if rec != nil {
		return duplicateAck(cmd.CommandID, rec)
	}

	var events []types.Event
	var roomCode string
	committed, err := a.rooms.Update(ctx, a.roomID, func(s *engine.State) error {
		events = events[:0]
		roomCode = s.Code
		evs, merr := a.mutate(s, cmd)
		if merr != nil {
			return merr
		}
		events = evs
		return nil
	})
	if errors.Is(err, errRoomEmpty) {
		if derr := a.rooms.Delete(ctx, a.roomID, roomCode); derr != nil {
			a.log.Warn("empty room delete failed", zap.Error(derr))
		}
		ack := okAck(cmd.CommandID, map[string]string{"roomId": a.roomID})
		_ = a.dedup.Complete(ctx, a.roomID, cmd.ActorID, cmd.CommandID, ack)
		return ack
	}
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			a.met.CommitConflicts.Inc()
		}
		ge := types.AsGameError(err)
		_ = a.dedup.Fail(ctx, a.roomID, cmd.ActorID, cmd.CommandID, ge)
		return errAck(cmd.CommandID, ge)
	}

	a.publish(ctx, committed, events, true)
	ack := okAck(cmd.CommandID, map[string]string{"roomId": a.roomID})
	if err := a.dedup.Complete(ctx, a.roomID, cmd.ActorID, cmd.CommandID, ack); err != nil {
		a.log.Warn("dedup complete failed", zap.Error(err))
	}
	a.sched.poke()
	return ack
}

// mutate applies one client command to s, returning the events to publish.
func (a *Actor) mutate(s *engine.State, cmd types.CommandEnvelope) ([]types.Event, error) {
	now := cmd.ReceivedAt
	switch cmd.Type {
	case CmdStartGame:
		if ge := engine.CheckStart(s, cmd.ActorID); ge != nil {
			return nil, ge
		}
		engine.ApplyStart(s, shuffledPlayerIDs(s), now)
		return []types.Event{
			types.NewEvent(cmd, EvtPhaseChanged, map[string]any{
				"phase": s.Phase,
				"timer": s.Timer,
				"night": s.Phase == engine.PhaseNight,
			}),
		}, nil

	case CmdSubmitAction:
		var p SubmitActionPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		actionType := roles.ActionType(p.Type)
		if ge := engine.CheckNightAction(s, cmd.ActorID, actionType, p.TargetID); ge != nil {
			return nil, ge
		}
		engine.ApplyNightAction(s, engine.NightAction{
			ID:          cmd.CommandID,
			ActionID:    cmd.CommandID,
			PlayerID:    cmd.ActorID,
			Type:        actionType,
			TargetID:    p.TargetID,
			SubmittedAt: now,
		})
		return nil, nil

	case CmdCastVote:
		var p CastVotePayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		if ge := engine.CheckVote(s, cmd.ActorID, p.TargetID); ge != nil {
			return nil, ge
		}
		engine.ApplyVote(s, engine.Vote{
			ID:          cmd.CommandID,
			ActionID:    cmd.CommandID,
			PlayerID:    cmd.ActorID,
			TargetID:    p.TargetID,
			SubmittedAt: now,
		})
		payload := map[string]any{"playerId": cmd.ActorID}
		if p.TargetID != "" {
			payload["targetId"] = p.TargetID
		}
		// Anonymous rooms confirm the ballot to the voter alone and never
		// expose running tallies.
		if s.Settings.AnonymousVoting {
			return []types.Event{
				types.NewEvent(cmd, EvtVoteUpdate, payload, cmd.ActorID),
			}, nil
		}
		payload["tallies"] = engine.CurrentTallies(s)
		return []types.Event{
			types.NewEvent(cmd, EvtVoteUpdate, payload),
		}, nil

	case CmdKickPlayer:
		var p HostTargetPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		if ge := engine.CheckKick(s, cmd.ActorID, p.TargetID); ge != nil {
			return nil, ge
		}
		name := s.Players[p.TargetID].Name
		engine.ApplyKick(s, p.TargetID)
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerKicked, map[string]string{
				"playerId": p.TargetID,
				"name":     name,
			}),
		}, nil

	case CmdMutePlayer:
		var p HostTargetPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		if ge := engine.CheckHostAction(s, cmd.ActorID); ge != nil {
			return nil, ge
		}
		if _, ok := s.Players[p.TargetID]; !ok {
			return nil, types.NewGameError(types.ErrInvalidTarget, "no such player", false)
		}
		engine.ApplyMute(s, p.TargetID, p.Muted)
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerStatus, map[string]any{
				"playerId": p.TargetID,
				"muted":    p.Muted,
			}),
		}, nil

	case CmdNudgePlayer:
		var p HostTargetPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		if ge := engine.CheckHostAction(s, cmd.ActorID); ge != nil {
			return nil, ge
		}
		if _, ok := s.Players[p.TargetID]; !ok {
			return nil, types.NewGameError(types.ErrInvalidTarget, "no such player", false)
		}
		engine.ApplyNudge(s, p.TargetID)
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerStatus, map[string]any{
				"playerId": p.TargetID,
				"nudged":   true,
			}, p.TargetID),
		}, nil

	case cmdJoin:
		var p joinPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return nil, types.Unauthorized("malformed payload")
		}
		if ge := engine.CheckJoin(s, p.Name); ge != nil {
			return nil, ge
		}
		engine.ApplyJoin(s, cmd.ActorID, p.Name)
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerJoined, map[string]string{
				"playerId": cmd.ActorID,
				"name":     p.Name,
			}),
		}, nil

	case CmdLeaveRoom:
		return a.mutateLeave(s, cmd)

	case cmdConnect, cmdDisconnect:
		if _, ok := s.Players[cmd.ActorID]; !ok {
			return nil, types.Unauthorized("unknown player")
		}
		engine.ApplyConnection(s, cmd.ActorID, cmd.Type == cmdConnect, cmd.SessionID)
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerStatus, map[string]any{
				"playerId":  cmd.ActorID,
				"connected": cmd.Type == cmdConnect,
				"alive":     s.Players[cmd.ActorID].Alive(),
			}),
		}, nil

	default:
		return nil, types.Unauthorized("unknown command type " + cmd.Type)
	}
}

// mutateLeave removes a non-host player in the lobby, or marks the leaver
// disconnected so the seat survives a return. The host id never moves: a
// departing host keeps the seat and the room ages out on its TTL. A lone
// player leaving the lobby deletes the room.
func (a *Actor) mutateLeave(s *engine.State, cmd types.CommandEnvelope) ([]types.Event, error) {
	p, ok := s.Players[cmd.ActorID]
	if !ok {
		return nil, types.Unauthorized("unknown player")
	}
	if !s.Started() && len(s.Players) == 1 {
		return nil, errRoomEmpty
	}
	if s.Started() || cmd.ActorID == s.HostID {
		engine.ApplyConnection(s, cmd.ActorID, false, "")
		return []types.Event{
			types.NewEvent(cmd, EvtPlayerStatus, map[string]any{
				"playerId":  cmd.ActorID,
				"connected": false,
				"alive":     s.Players[cmd.ActorID].Alive(),
			}),
		}, nil
	}

	engine.ApplyKick(s, cmd.ActorID)
	return []types.Event{
		types.NewEvent(cmd, EvtPlayerLeft, map[string]string{
			"playerId": cmd.ActorID,
			"name":     p.Name,
		}),
	}, nil
}

// handleChat validates and fans out a chat message without touching room
// state. Messages the sender is not allowed to post (muted, closed channel,
// wrong audience) are dropped without a reply; only malformed frames and
// unknown senders are errors.
func (a *Actor) handleChat(ctx context.Context, cmd types.CommandEnvelope) Ack {
	var p ChatPayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return errAck(cmd.CommandID, types.Unauthorized("malformed payload"))
	}
	if n := utf8.RuneCountInString(p.Content); n == 0 || n > 1000 {
		return errAck(cmd.CommandID, types.NewGameError(types.ErrInvalidTarget, "message must be 1-1000 characters", false))
	}

	s, err := a.rooms.Get(ctx, a.roomID)
	if err != nil {
		return errAck(cmd.CommandID, types.AsGameError(err))
	}
	speaker, ok := s.Players[cmd.ActorID]
	if !ok {
		return errAck(cmd.CommandID, types.Unauthorized("unknown player"))
	}
	if speaker.Muted {
		return droppedAck(cmd.CommandID)
	}

	targets, allowed := chatAudience(&s, speaker, p.Channel)
	if !allowed {
		return droppedAck(cmd.CommandID)
	}

	ev := types.NewEvent(cmd, EvtChatMessage, map[string]any{
		"messageId": p.MessageID,
		"playerId":  cmd.ActorID,
		"name":      speaker.Name,
		"channel":   p.Channel,
		"content":   p.Content,
		"sentAt":    cmd.ReceivedAt,
	}, targets...)
	a.publish(ctx, s, []types.Event{ev}, false)
	return okAck(cmd.CommandID, map[string]string{"channel": p.Channel})
}

// chatAudience resolves a channel to its delivery targets. Empty targets
// means broadcast; allowed is false when the speaker may not post there.
func chatAudience(s *engine.State, speaker engine.Player, channel string) (targets []string, allowed bool) {
	if !s.Started() {
		return nil, channel == "lobby"
	}
	if !roles.CanSpeak(speaker.RoleID, speaker.Alive(), channel) {
		return nil, false
	}
	switch channel {
	case "day":
		switch s.Phase {
		case engine.PhaseDayAnnouncement, engine.PhaseDayDiscussion, engine.PhaseDayVoting:
		default:
			return nil, false
		}
		return nil, true
	case "nightMafia":
		if s.Phase != engine.PhaseNight {
			return nil, false
		}
		var mafia []string
		for id, pl := range s.Players {
			if pl.Alignment == roles.AlignMafia {
				mafia = append(mafia, id)
			}
		}
		return mafia, true
	case "dead":
		var dead []string
		for id, pl := range s.Players {
			if !pl.Alive() {
				dead = append(dead, id)
			}
		}
		return dead, true
	default:
		return nil, false
	}
}

// handleTick resolves a due phase: AFK strikes for silent submitters when
// the timer ran out, then the phase's resolution and advancement.
func (a *Actor) handleTick(ctx context.Context, cmd types.CommandEnvelope) Ack {
	now := cmd.ReceivedAt
	var events []types.Event
	var reason string
	var fromPhase engine.Phase

	committed, err := a.rooms.Update(ctx, a.roomID, func(s *engine.State) error {
		events = events[:0]
		if !s.Started() || s.Phase == engine.PhaseEnded {
			return errNothingToDo
		}
		timerExpired := s.Timer != nil && now >= s.Timer.EndsAt
		early := engine.PhaseComplete(s)
		if !timerExpired && !early {
			return errNothingToDo
		}
		reason = "early"
		if timerExpired && !early {
			reason = "timer"
			engine.ApplyAFKStrikes(s, engine.MissingSubmitters(s))
		}

		fromPhase = s.Phase
		switch fromPhase {
		case engine.PhaseNight:
			res := engine.ResolveNight(s)
			events = append(events, tickEvent(s.RoomID, EvtNightResolved, map[string]any{
				"death":     res.Death,
				"narrative": res.Narrative,
			}))
			for _, inv := range res.Investigations {
				events = append(events, tickEvent(s.RoomID, EvtInvestigation, map[string]any{
					"result": inv,
				}, inv.InvestigatorID))
			}
		case engine.PhaseDayVoting:
			res := engine.ResolveVoting(s)
			events = append(events, tickEvent(s.RoomID, EvtVoteResolved, map[string]any{
				"targetId":  res.Lynched,
				"narrative": res.Narrative,
			}))
		}

		engine.AdvancePhase(s, now)
		events = append(events, tickEvent(s.RoomID, EvtPhaseChanged, map[string]any{
			"phase": s.Phase,
			"timer": s.Timer,
			"night": s.Phase == engine.PhaseNight,
		}))
		if s.Phase == engine.PhaseEnded {
			events = append(events, tickEvent(s.RoomID, EvtGameEnded, map[string]any{
				"victoryCondition": s.VictoryCondition,
				"narrative":        s.PublicNarrative,
			}))
		}
		return nil
	})
	if errors.Is(err, errNothingToDo) {
		return okAck(cmd.CommandID, nil)
	}
	if err != nil {
		a.log.Error("tick failed", zap.Error(err))
		return errAck(cmd.CommandID, types.AsGameError(err))
	}

	a.met.PhaseAdvances.WithLabelValues(string(fromPhase), reason).Inc()
	a.publish(ctx, committed, events, true)
	a.sched.poke()
	return okAck(cmd.CommandID, nil)
}

func (a *Actor) publish(ctx context.Context, s engine.State, events []types.Event, stateChanged bool) {
	if len(events) > 0 {
		if err := a.rooms.AppendEvents(ctx, a.roomID, events); err != nil {
			a.log.Warn("event append failed", zap.Error(err))
		}
	}
	err := a.bus.Publish(ctx, bus.Publication{
		RoomID:       a.roomID,
		StateChanged: stateChanged,
		State:        s,
		Events:       events,
	})
	if err != nil {
		a.log.Error("publish failed", zap.Error(err))
		return
	}
	a.met.EventsPublished.Add(float64(len(events)))
}

// duplicateAck replays a completed command's stored result, silently drops a
// retransmit of one still processing, and rejects a retry of a failed one
// until its record expires.
func duplicateAck(commandID string, rec *store.DedupRecord) Ack {
	switch rec.Status {
	case store.DedupCompleted:
		return Ack{CommandID: commandID, Status: AckOK, Duplicate: true, Result: rec.Result}
	case store.DedupProcessing:
		ack := droppedAck(commandID)
		ack.Duplicate = true
		return ack
	default:
		return Ack{
			CommandID: commandID,
			Status:    AckError,
			Duplicate: true,
			Error: types.NewGameError(types.ErrIdempotentDuplicate,
				"command already "+string(rec.Status), false),
		}
	}
}

// tickEvent builds a scheduler-caused event: no actor, no causing command.
func tickEvent(roomID, eventType string, payload any, targets ...string) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{
		EventID:     types.NewID(),
		RoomID:      roomID,
		Type:        eventType,
		Targets:     targets,
		Payload:     b,
		TimestampMs: time.Now().UnixMilli(),
	}
}

// shuffledPlayerIDs returns every player id in random order for the deal.
func shuffledPlayerIDs(s *engine.State) []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}
