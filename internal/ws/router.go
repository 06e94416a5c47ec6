package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/room"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/token"
	"github.com/nightcourt/mafiad/internal/types"
)

// Deps wires the transport to the rest of the server.
type Deps struct {
	Registry       *room.Registry
	Rooms          *store.RoomStore
	Sessions       *store.SessionStore
	Tokens         *token.Issuer
	Bus            bus.Bus
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to game sockets.
type Handler struct {
	deps     Deps
	hub      *Hub
	upgrader websocket.Upgrader
}

// commandEvents is the set of wire events that dispatch under their own
// name. Handshake frames and host.action are handled separately; anything
// else is rejected.
var commandEvents = map[string]bool{
	room.CmdSubmitAction: true,
	room.CmdCastVote:     true,
	room.CmdSendChat:     true,
	room.CmdLeaveRoom:    true,
}

// hostActions maps the host.action verb to its dispatcher command type.
var hostActions = map[string]string{
	"start": room.CmdStartGame,
	"kick":  room.CmdKickPlayer,
	"mute":  room.CmdMutePlayer,
	"nudge": room.CmdNudgePlayer,
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{
		deps: deps,
		hub:  NewHub(deps.Bus, deps.Log),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.AllowedOrigins),
	}
	return h
}

// Hub exposes the fan-out layer for session eviction.
func (h *Handler) Hub() *Hub { return h.hub }

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Log.Debug("upgrade failed", zap.Error(err))
		return
	}
	h.deps.Metrics.ConnectedClients.Inc()
	c := newClient(h, conn)
	go c.writePump()
	go c.readPump()
}

// handleFrame routes one decoded frame. Runs on the client's read goroutine,
// so per-client handling is already serial.
func (h *Handler) handleFrame(c *Client, frame ClientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch frame.Event {
	case EvtRoomCreate:
		h.handleCreate(ctx, c, frame)
	case EvtRoomJoin:
		h.handleJoin(ctx, c, frame)
	case EvtSessionResume:
		h.handleResume(ctx, c, frame)
	default:
		h.handleCommand(ctx, c, frame)
	}
}

func (h *Handler) handleCreate(ctx context.Context, c *Client, frame ClientFrame) {
	if c.bound {
		c.enqueue(errorFrame(types.Unauthorized("socket already bound")))
		return
	}
	var p CreateRoomPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		c.enqueue(errorFrame(types.Unauthorized("malformed payload")))
		return
	}

	hostID := types.NewID()
	state, err := h.deps.Registry.CreateRoom(ctx, hostID, p.HostName)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}
	h.bind(ctx, c, state, hostID, nil)
}

func (h *Handler) handleJoin(ctx context.Context, c *Client, frame ClientFrame) {
	if c.bound {
		c.enqueue(errorFrame(types.Unauthorized("socket already bound")))
		return
	}
	var p JoinRoomPayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		c.enqueue(errorFrame(types.Unauthorized("malformed payload")))
		return
	}

	roomID, err := h.deps.Rooms.FindByCode(ctx, p.RoomCode)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}
	playerID := types.NewID()
	if ack := h.deps.Registry.Join(ctx, roomID, playerID, p.PlayerName); ack.Status != room.AckOK {
		c.enqueue(errorFrame(ack.Error))
		return
	}
	state, err := h.deps.Rooms.Get(ctx, roomID)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}
	h.bind(ctx, c, state, playerID, nil)
}

func (h *Handler) handleResume(ctx context.Context, c *Client, frame ClientFrame) {
	if c.bound {
		c.enqueue(errorFrame(types.Unauthorized("socket already bound")))
		return
	}
	var p ResumePayload
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		c.enqueue(errorFrame(types.Unauthorized("malformed payload")))
		return
	}

	claims, err := h.deps.Tokens.Verify(p.Token, p.RoomID)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}
	if p.SessionID != "" && p.SessionID != claims.SessionID {
		c.enqueue(errorFrame(types.Unauthorized("session does not match token")))
		return
	}
	sess, err := h.deps.Sessions.Get(ctx, claims.RoomID, claims.PlayerID, claims.SessionID)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}

	state, err := h.deps.Rooms.Get(ctx, claims.RoomID)
	if err != nil {
		c.enqueue(errorFrame(types.AsGameError(err)))
		return
	}
	stored, err := h.deps.Rooms.RecentEvents(ctx, claims.RoomID)
	if err != nil {
		h.deps.Log.Warn("event replay unavailable", zap.Error(err))
	}
	var replay []DeliveredEvent
	for _, ev := range stored {
		if addressedTo(ev, claims.PlayerID) {
			replay = append(replay, deliveredEvent(ev))
		}
	}
	h.resumeBind(ctx, c, state, sess, p.Token, claims, replay)
}

// bind finishes a create or join handshake: new session, fresh token, hub
// registration, and the opening snapshot. A superseded session is evicted
// locally and announced on the bus so other instances drop it too.
func (h *Handler) bind(ctx context.Context, c *Client, state engine.State, playerID string, replay []DeliveredEvent) {
	sess, evicted, err := h.deps.Sessions.Create(ctx, state.RoomID, playerID)
	if err != nil {
		c.enqueue(errorFrame(types.Internal("session store unavailable")))
		return
	}
	if evicted != "" {
		h.hub.EvictSession(state.RoomID, evicted)
		if err := h.deps.Bus.Publish(ctx, bus.Publication{
			RoomID:         state.RoomID,
			EvictSessionID: evicted,
		}); err != nil {
			h.deps.Log.Warn("eviction publish failed", zap.Error(err))
		}
	}
	signed, err := h.deps.Tokens.Issue(state.RoomID, playerID, sess.ID)
	if err != nil {
		c.enqueue(errorFrame(types.Internal("token issue failed")))
		return
	}

	c.bound = true
	c.roomID = state.RoomID
	c.playerID = playerID
	c.sessionID = sess.ID
	if claims, err := h.deps.Tokens.Verify(signed, state.RoomID); err == nil {
		c.claims = claims
	}

	if err := h.hub.register(c); err != nil {
		c.enqueue(errorFrame(types.Internal("room subscription failed")))
		return
	}

	view, err := engine.BuildView(&state, playerID)
	if err != nil {
		h.deps.Log.Error("redaction self-check failed", zap.Error(err))
		c.enqueue(errorFrame(types.Internal("state unavailable")))
		return
	}
	c.enqueue(ServerFrame{Event: EvtRoomSnapshot, Payload: BoundPayload{
		RoomID:    state.RoomID,
		Code:      state.Code,
		PlayerID:  playerID,
		SessionID: sess.ID,
		Token:     signed,
		View:      view,
		Events:    replay,
	}})
}

// resumeBind re-attaches an existing session to a fresh socket. The bus
// announcement lets an instance holding an older socket for the same session
// evict it; EvictExcept shields the socket being bound here.
func (h *Handler) resumeBind(ctx context.Context, c *Client, state engine.State, sess store.Session, signed string, claims token.Claims, replay []DeliveredEvent) {
	c.bound = true
	c.roomID = state.RoomID
	c.playerID = sess.PlayerID
	c.sessionID = sess.ID
	c.claims = claims

	if err := h.hub.register(c); err != nil {
		c.enqueue(errorFrame(types.Internal("room subscription failed")))
		return
	}
	if err := h.deps.Bus.Publish(ctx, bus.Publication{
		RoomID:         state.RoomID,
		EvictSessionID: sess.ID,
		EvictExcept:    c.connID,
	}); err != nil {
		h.deps.Log.Warn("eviction publish failed", zap.Error(err))
	}
	_ = h.deps.Sessions.Touch(ctx, sess)
	h.deps.Registry.PlayerConnected(ctx, state.RoomID, sess.PlayerID, sess.ID, true)

	// Re-read after the connect commit so the snapshot shows us connected.
	if fresh, err := h.deps.Rooms.Get(ctx, state.RoomID); err == nil {
		state = fresh
	}
	view, err := engine.BuildView(&state, sess.PlayerID)
	if err != nil {
		h.deps.Log.Error("redaction self-check failed", zap.Error(err))
		c.enqueue(errorFrame(types.Internal("state unavailable")))
		return
	}
	c.enqueue(ServerFrame{Event: EvtRoomSnapshot, Payload: BoundPayload{
		RoomID:    state.RoomID,
		Code:      state.Code,
		PlayerID:  sess.PlayerID,
		SessionID: sess.ID,
		Token:     signed,
		View:      view,
		Events:    replay,
	}})
	h.maybeRefreshToken(c)
}

// handleCommand turns a game frame into a dispatcher command. Client-chosen
// ids inside the payload (actionId, messageId) become the idempotency key so
// retransmits dedupe; errors echo that id back in the error frame's context.
func (h *Handler) handleCommand(ctx context.Context, c *Client, frame ClientFrame) {
	if !c.bound {
		c.enqueue(errorFrame(types.Unauthorized("handshake required")))
		return
	}

	cmdType := frame.Event
	payload := frame.Payload
	commandID := frame.CommandID
	var submitted room.SubmitActionPayload

	switch frame.Event {
	case EvtHostAction:
		var p HostActionPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.enqueue(commandErrorFrame(commandID, types.Unauthorized("malformed payload")))
			return
		}
		mapped, ok := hostActions[p.Action]
		if !ok {
			c.enqueue(commandErrorFrame(commandID, types.Unauthorized("unknown host action "+p.Action)))
			return
		}
		cmdType = mapped
		payload, _ = json.Marshal(room.HostTargetPayload{TargetID: p.TargetID, Muted: true})

	case room.CmdSubmitAction:
		if err := json.Unmarshal(frame.Payload, &submitted); err != nil {
			c.enqueue(commandErrorFrame(commandID, types.Unauthorized("malformed payload")))
			return
		}
		if submitted.ActionID != "" {
			commandID = submitted.ActionID
		}

	case room.CmdCastVote:
		var p room.CastVotePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.enqueue(commandErrorFrame(commandID, types.Unauthorized("malformed payload")))
			return
		}
		if p.ActionID != "" {
			commandID = p.ActionID
		}

	case room.CmdSendChat:
		var p room.ChatPayload
		if err := json.Unmarshal(frame.Payload, &p); err == nil && p.MessageID != "" {
			commandID = p.MessageID
		}

	default:
		if !commandEvents[frame.Event] {
			c.enqueue(errorFrame(types.Unauthorized("unknown event " + frame.Event)))
			return
		}
	}
	if commandID == "" {
		commandID = types.NewID()
	}

	ack := h.deps.Registry.Dispatch(ctx, types.CommandEnvelope{
		CommandID:  commandID,
		RoomID:     c.roomID,
		Type:       cmdType,
		ActorID:    c.playerID,
		SessionID:  c.sessionID,
		Payload:    payload,
		ReceivedAt: time.Now().UnixMilli(),
	})

	switch ack.Status {
	case room.AckDropped:
		// Silent by contract: duplicate retransmits and disallowed chat get
		// no reply at all.
	case room.AckError:
		c.enqueue(commandErrorFrame(commandID, ack.Error))
	default:
		if frame.Event == room.CmdSubmitAction {
			c.enqueue(ServerFrame{Event: EvtActionAck, Payload: ActionAckPayload{
				ActionID: commandID,
				Type:     submitted.Type,
				TargetID: submitted.TargetID,
			}})
		}
	}
	h.maybeRefreshToken(c)
}

// maybeRefreshToken pushes a reissued token when the current one is close
// to expiry.
func (h *Handler) maybeRefreshToken(c *Client) {
	if c.claims.ExpiresAt == nil {
		return
	}
	refreshed, err := h.deps.Tokens.RefreshIfNeeded(c.claims)
	if err != nil || refreshed == "" {
		return
	}
	if claims, err := h.deps.Tokens.Verify(refreshed, c.roomID); err == nil {
		c.claims = claims
	}
	c.enqueue(ServerFrame{Event: EvtTokenRefresh, Payload: TokenPayload{Token: refreshed}})
}

func rateLimited() *types.GameError {
	return types.NewGameError(types.ErrRateLimited, "slow down", true)
}
