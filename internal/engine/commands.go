package engine

import (
	"github.com/nightcourt/mafiad/internal/roles"
)

// Command-specific mutations. Each assumes the matching policy check has
// already passed and only touches the fields it owns. All are pure with
// respect to I/O; randomness (the deal order for ApplyStart) comes from the
// caller so two replicas given the same inputs produce the same state.

// ApplyJoin adds a player to a lobby-phase room.
func ApplyJoin(s *State, playerID, name string) {
	s.Players[playerID] = Player{
		ID:        playerID,
		Name:      name,
		Status:    StatusAlive,
		Connected: true,
	}
}

// ApplyStart deals roles over the supplied order (a shuffled permutation of
// all player ids), then enters the first night. Role and alignment are
// assigned exactly once here and never mutated afterwards.
func ApplyStart(s *State, order []string, now int64) {
	deal := roles.Flatten(roles.Distribution(len(order)))
	for i, playerID := range order {
		p := s.Players[playerID]
		role := roles.MustGet(deal[i])
		p.RoleID = role.ID
		p.Alignment = role.Alignment
		s.Players[playerID] = p
	}
	s.Phase = PhaseNight
	s.Timer = &Timer{
		Phase:     PhaseNight,
		StartedAt: now,
		EndsAt:    now + s.Settings.NightDurationMs,
	}
	s.LastSnapshot = now
}

// ApplyNightAction records a night submission. Priority is derived from the
// action type, never trusted from the wire.
func ApplyNightAction(s *State, a NightAction) {
	a.Priority = roles.Priority(a.Type)
	s.NightActions[a.ActionID] = a
}

// ApplyVote upserts the caller's ballot: any prior vote record by the same
// player is deleted first, so each alive player contributes at most one vote
// and the latest submission wins.
func ApplyVote(s *State, v Vote) {
	for id, prev := range s.Votes {
		if prev.PlayerID == v.PlayerID {
			delete(s.Votes, id)
		}
	}
	s.Votes[v.ActionID] = v
}

// ApplyKick removes a lobby player along with any state keyed to them.
func ApplyKick(s *State, targetID string) {
	delete(s.Players, targetID)
	for id, a := range s.NightActions {
		if a.PlayerID == targetID || a.TargetID == targetID {
			delete(s.NightActions, id)
		}
	}
	for id, v := range s.Votes {
		if v.PlayerID == targetID || v.TargetID == targetID {
			delete(s.Votes, id)
		}
	}
}

// ApplyMute toggles the host mute flag consulted by the chat gate.
func ApplyMute(s *State, targetID string, muted bool) {
	if p, ok := s.Players[targetID]; ok {
		p.Muted = muted
		s.Players[targetID] = p
	}
}

// ApplyNudge clears a player's AFK strikes.
func ApplyNudge(s *State, targetID string) {
	if p, ok := s.Players[targetID]; ok {
		p.AFKStrikes = 0
		s.Players[targetID] = p
	}
}

// ApplyConnection flips the transport-connected flag. A dead player stays
// dead; an alive player parked at three AFK strikes is surfaced as
// disconnected until they act again.
func ApplyConnection(s *State, playerID string, connected bool, sessionID string) {
	p, ok := s.Players[playerID]
	if !ok {
		return
	}
	p.Connected = connected
	if sessionID != "" {
		p.SessionID = sessionID
	}
	if connected && p.Status == StatusDisconnected {
		p.Status = StatusAlive
	}
	s.Players[playerID] = p
}

// ApplyAFKStrikes increments strikes for every listed player, marking those
// that reach three as disconnected.
func ApplyAFKStrikes(s *State, playerIDs []string) {
	for _, id := range playerIDs {
		p, ok := s.Players[id]
		if !ok || !p.Alive() {
			continue
		}
		if p.AFKStrikes < 3 {
			p.AFKStrikes++
		}
		if p.AFKStrikes >= 3 {
			p.Status = StatusDisconnected
		}
		s.Players[id] = p
	}
}

// MissingSubmitters lists alive players whose submission the current phase
// was still waiting on. Used for AFK accounting when a phase resolves by
// timer instead of early completion.
func MissingSubmitters(s *State) []string {
	var missing []string
	switch s.Phase {
	case PhaseNight:
		submitted := make(map[string]bool, len(s.NightActions))
		for _, a := range s.NightActions {
			submitted[a.PlayerID] = true
		}
		for id, p := range s.Players {
			if p.Alive() && (p.RoleID == roles.Mafia || p.RoleID == roles.Detective) && !submitted[id] {
				missing = append(missing, id)
			}
		}
	case PhaseDayVoting:
		voted := make(map[string]bool, len(s.Votes))
		for _, v := range s.Votes {
			voted[v.PlayerID] = true
		}
		for id, p := range s.Players {
			if p.Alive() && !voted[id] {
				missing = append(missing, id)
			}
		}
	}
	return missing
}
