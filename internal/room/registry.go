package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/bus"
	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/platform/metrics"
	"github.com/nightcourt/mafiad/internal/store"
	"github.com/nightcourt/mafiad/internal/types"
)

// Deps bundles everything an actor needs.
type Deps struct {
	InstanceID string
	Rooms      *store.RoomStore
	Sessions   *store.SessionStore
	Dedup      *store.DedupStore
	Leader     *store.LeaderStore
	Bus        bus.Bus
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// Registry owns the actors for every room this instance leads. A dispatch
// for a room led elsewhere is refused with a retryable error; the client's
// next attempt lands after its socket reconnects to the owning instance.
type Registry struct {
	deps Deps

	mu     sync.Mutex
	actors map[string]*Actor
	closed bool
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:   deps,
		actors: map[string]*Actor{},
	}
}

// CreateRoom allocates a room with the caller as host and takes its lease.
func (r *Registry) CreateRoom(ctx context.Context, hostID, hostName string) (engine.State, error) {
	if ge := engine.CheckName(hostName); ge != nil {
		return engine.State{}, ge
	}
	state, err := r.deps.Rooms.Create(ctx, hostID, hostName)
	if err != nil {
		return engine.State{}, err
	}
	if _, err := r.ensureOwned(ctx, state.RoomID); err != nil {
		return engine.State{}, err
	}
	return state, nil
}

// Dispatch routes a command to the room's actor, acquiring leadership on
// first touch.
func (r *Registry) Dispatch(ctx context.Context, cmd types.CommandEnvelope) Ack {
	actor, err := r.ensureOwned(ctx, cmd.RoomID)
	if err != nil {
		return errAck(cmd.CommandID, types.AsGameError(err))
	}
	return actor.Dispatch(ctx, cmd)
}

// Join adds a player to a room through its actor.
func (r *Registry) Join(ctx context.Context, roomID, playerID, name string) Ack {
	payload, _ := json.Marshal(joinPayload{Name: name})
	return r.Dispatch(ctx, types.CommandEnvelope{
		CommandID:  types.NewID(),
		RoomID:     roomID,
		Type:       cmdJoin,
		ActorID:    playerID,
		Payload:    payload,
		ReceivedAt: time.Now().UnixMilli(),
	})
}

// PlayerConnected records a transport connect or disconnect.
func (r *Registry) PlayerConnected(ctx context.Context, roomID, playerID, sessionID string, connected bool) Ack {
	cmdType := cmdDisconnect
	if connected {
		cmdType = cmdConnect
	}
	return r.Dispatch(ctx, types.CommandEnvelope{
		CommandID:  types.NewID(),
		RoomID:     roomID,
		Type:       cmdType,
		ActorID:    playerID,
		SessionID:  sessionID,
		ReceivedAt: time.Now().UnixMilli(),
	})
}

func (r *Registry) ensureOwned(ctx context.Context, roomID string) (*Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, types.Internal("server is shutting down")
	}
	if a, ok := r.actors[roomID]; ok {
		return a, nil
	}

	ok, err := r.deps.Leader.Acquire(ctx, roomID, r.deps.InstanceID)
	if err != nil {
		return nil, types.Internal("leader store unavailable")
	}
	if !ok {
		return nil, types.Internal("room is owned by another instance")
	}

	a := newActor(roomID, r.deps)
	r.actors[roomID] = a
	r.deps.Metrics.RoomsOwned.Inc()
	go a.run()
	go r.renewLoop(a)
	r.deps.Log.Info("room lease acquired", zap.String("room_id", roomID))
	return a, nil
}

// renewLoop keeps the lease alive while the actor runs and tears the actor
// down the moment the lease is lost.
func (r *Registry) renewLoop(a *Actor) {
	ticker := time.NewTicker(store.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), store.RenewInterval)
			ok, err := r.deps.Leader.Renew(ctx, a.roomID, r.deps.InstanceID)
			cancel()
			if err != nil {
				r.deps.Log.Warn("lease renew failed", zap.String("room_id", a.roomID), zap.Error(err))
				continue
			}
			if !ok {
				r.deps.Log.Warn("lease lost", zap.String("room_id", a.roomID))
				r.dropActor(a.roomID)
				return
			}
		case <-a.stop:
			return
		}
	}
}

func (r *Registry) dropActor(roomID string) {
	r.mu.Lock()
	a, ok := r.actors[roomID]
	if ok {
		delete(r.actors, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	close(a.stop)
	<-a.stopped
	r.deps.Metrics.RoomsOwned.Dec()
}

// Shutdown stops every actor and releases its lease so another instance can
// take over immediately.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	actors := make([]*Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = map[string]*Actor{}
	r.mu.Unlock()

	for _, a := range actors {
		close(a.stop)
	}
	for _, a := range actors {
		select {
		case <-a.stopped:
		case <-ctx.Done():
		}
		if err := r.deps.Leader.Release(ctx, a.roomID, r.deps.InstanceID); err != nil {
			r.deps.Log.Warn("lease release failed", zap.String("room_id", a.roomID), zap.Error(err))
		}
		r.deps.Metrics.RoomsOwned.Dec()
	}
}
