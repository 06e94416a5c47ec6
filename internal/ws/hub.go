package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/types"
)

// DeliveredEvent is the client-visible shape of a bus event. Targeting
// metadata stays server-side.
type DeliveredEvent struct {
	EventID     string          `json:"eventId"`
	Type        string          `json:"type"`
	ActorID     string          `json:"actorId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	TimestampMs int64           `json:"serverTimestampMs"`
}

func deliveredEvent(ev types.Event) DeliveredEvent {
	return DeliveredEvent{
		EventID:     ev.EventID,
		Type:        ev.Type,
		ActorID:     ev.ActorID,
		Payload:     ev.Payload,
		TimestampMs: ev.TimestampMs,
	}
}

// Hub tracks which sockets watch which room and bridges the bus to them.
// One bus subscription exists per room with at least one local socket; every
// publication is redacted per viewer before it leaves the process.
type Hub struct {
	bus bus.Bus
	log *zap.Logger

	mu    sync.Mutex
	rooms map[string]*roomSub
}

type roomSub struct {
	clients map[*Client]struct{}
	cancel  func()
}

func NewHub(b bus.Bus, log *zap.Logger) *Hub {
	return &Hub{bus: b, log: log, rooms: map[string]*roomSub{}}
}

// register adds a bound client, evicting any existing socket on the same
// session first, and opens the room's bus subscription on first use.
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.rooms[c.roomID]
	if !ok {
		pubs, cancel, err := h.bus.Subscribe(context.Background(), c.roomID)
		if err != nil {
			return err
		}
		sub = &roomSub{clients: map[*Client]struct{}{}, cancel: cancel}
		h.rooms[c.roomID] = sub
		go h.fanout(c.roomID, pubs)
	}

	for other := range sub.clients {
		if other.sessionID == c.sessionID {
			other.evicted.Store(true)
			other.enqueue(evictedFrame())
			go other.close()
			delete(sub.clients, other)
		}
	}
	sub.clients[c] = struct{}{}
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	delete(sub.clients, c)
	if len(sub.clients) == 0 {
		sub.cancel()
		delete(h.rooms, c.roomID)
	}
}

// EvictSession closes the local socket bound to sessionID, if any. Called
// when a duplicate login invalidates the session.
func (h *Hub) EvictSession(roomID, sessionID string) {
	h.evictSession(roomID, sessionID, "")
}

// evictSession drops every socket on the session except the connection named
// by exceptConnID, which is the socket the newer login just bound.
func (h *Hub) evictSession(roomID, sessionID, exceptConnID string) {
	h.mu.Lock()
	var victims []*Client
	if sub, ok := h.rooms[roomID]; ok {
		for c := range sub.clients {
			if c.sessionID == sessionID && c.connID != exceptConnID {
				victims = append(victims, c)
				delete(sub.clients, c)
			}
		}
	}
	h.mu.Unlock()
	for _, victim := range victims {
		victim.evicted.Store(true)
		victim.enqueue(evictedFrame())
		victim.close()
	}
}

func (h *Hub) fanout(roomID string, pubs <-chan bus.Publication) {
	for pub := range pubs {
		if pub.EvictSessionID != "" {
			h.evictSession(roomID, pub.EvictSessionID, pub.EvictExcept)
		}
		h.mu.Lock()
		clients := make([]*Client, 0)
		if sub, ok := h.rooms[roomID]; ok {
			for c := range sub.clients {
				clients = append(clients, c)
			}
		}
		h.mu.Unlock()

		for _, c := range clients {
			h.deliver(c, pub)
		}
	}
}

// deliver sends a publication to one viewer: their redacted snapshot when
// state changed, plus every event addressed to them.
func (h *Hub) deliver(c *Client, pub bus.Publication) {
	if pub.StateChanged {
		view, err := engine.BuildView(&pub.State, c.playerID)
		if err != nil {
			// A failed redaction self-check must never leak state.
			h.log.Error("redaction self-check failed",
				zap.String("room_id", pub.RoomID),
				zap.String("player_id", c.playerID),
				zap.Error(err))
			c.enqueue(errorFrame(types.Internal("state update unavailable")))
		} else {
			c.enqueue(ServerFrame{Event: EvtRoomSnapshot, Payload: ViewPayload{View: view}})
		}
	}
	for _, ev := range pub.Events {
		if addressedTo(ev, c.playerID) {
			c.enqueue(ServerFrame{Event: ev.Type, Payload: deliveredEvent(ev)})
		}
	}
}

func addressedTo(ev types.Event, playerID string) bool {
	if len(ev.Targets) == 0 {
		return true
	}
	for _, t := range ev.Targets {
		if t == playerID {
			return true
		}
	}
	return false
}
