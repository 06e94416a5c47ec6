package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nightcourt/mafiad/internal/engine"
	"github.com/nightcourt/mafiad/internal/types"
)

// idleWait is the re-check interval when the room has no running timer
// (lobby, ended) or the state could not be loaded.
const idleWait = 30 * time.Second

// Scheduler drives the phase clock for one room. It wakes on the timer
// deadline or on a poke after any commit, and enqueues an internal tick
// whenever the phase is due, by timer or by early completion.
type Scheduler struct {
	a      *Actor
	pokeCh chan struct{}
	stop   chan struct{}
}

func newScheduler(a *Actor) *Scheduler {
	return &Scheduler{
		a:      a,
		pokeCh: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// poke nudges the scheduler to re-read state. Coalesces bursts.
func (sc *Scheduler) poke() {
	select {
	case sc.pokeCh <- struct{}{}:
	default:
	}
}

func (sc *Scheduler) shutdown() {
	close(sc.stop)
}

func (sc *Scheduler) run() {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		wait, due := sc.check()
		if due {
			sc.tick()
			continue
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-sc.pokeCh:
		case <-sc.stop:
			return
		}
	}
}

// check loads the room and reports whether the phase is due now, or how
// long to sleep otherwise.
func (sc *Scheduler) check() (time.Duration, bool) {
	select {
	case <-sc.stop:
		return idleWait, false
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := sc.a.rooms.Get(ctx, sc.a.roomID)
	if err != nil {
		return idleWait, false
	}
	if !s.Started() || s.Phase == engine.PhaseEnded {
		return idleWait, false
	}
	if engine.PhaseComplete(&s) {
		return 0, true
	}
	if s.Timer == nil {
		return idleWait, false
	}
	remaining := time.Until(time.UnixMilli(s.Timer.EndsAt))
	if remaining <= 0 {
		return 0, true
	}
	return remaining, false
}

func (sc *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ack := sc.a.Dispatch(ctx, types.CommandEnvelope{
		CommandID:  types.NewID(),
		RoomID:     sc.a.roomID,
		Type:       cmdTick,
		ReceivedAt: time.Now().UnixMilli(),
	})
	if ack.Status != AckOK {
		sc.a.log.Warn("tick rejected", zap.Any("error", ack.Error))
		// Back off so a persistent failure does not spin.
		select {
		case <-time.After(time.Second):
		case <-sc.stop:
		}
	}
}
