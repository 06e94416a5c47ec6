package engine

import (
	"fmt"
	"unicode/utf8"

	"github.com/nightcourt/mafiad/internal/roles"
	"github.com/nightcourt/mafiad/internal/types"
)

// The policy gate runs ahead of every mutation. Each check returns nil when
// the command is legal, or a wire-level GameError otherwise. Checks never
// mutate state.

// CheckName validates a host or player display name. The bounds count
// characters, not bytes.
func CheckName(name string) *types.GameError {
	if n := utf8.RuneCountInString(name); n < 3 || n > 15 {
		return types.NewGameError(types.ErrInvalidName, "name must be 3-15 characters", false)
	}
	return nil
}

// CheckJoin validates a lobby join.
func CheckJoin(s *State, name string) *types.GameError {
	if ge := CheckName(name); ge != nil {
		return ge
	}
	if s.Phase != PhaseLobby {
		return types.NewGameError(types.ErrWrongPhase, "game already started", false)
	}
	if len(s.Players) >= s.Settings.MaxPlayers {
		return types.NewGameError(types.ErrRoomFull, "room is full", false)
	}
	return nil
}

// CheckHostAction validates that the caller may run host-only commands.
func CheckHostAction(s *State, callerID string) *types.GameError {
	if callerID != s.HostID {
		return types.Unauthorized("only the host may do that")
	}
	return nil
}

// CheckStart validates a startGame command.
func CheckStart(s *State, callerID string) *types.GameError {
	if ge := CheckHostAction(s, callerID); ge != nil {
		return ge
	}
	if s.Phase != PhaseLobby {
		return types.NewGameError(types.ErrWrongPhase, "game already started", false)
	}
	if len(s.Players) < s.Settings.MinPlayers {
		return types.NewGameError(types.ErrWrongPhase,
			fmt.Sprintf("need at least %d players", s.Settings.MinPlayers), true)
	}
	return nil
}

// CheckNightAction validates a night submission against phase, liveness,
// the actor's role spec, and its target rules.
func CheckNightAction(s *State, playerID string, actionType roles.ActionType, targetID string) *types.GameError {
	if s.Phase != PhaseNight {
		return types.NewGameError(types.ErrWrongPhase, "night actions are only valid at night", false)
	}
	actor, ok := s.Players[playerID]
	if !ok {
		return types.Unauthorized("unknown player")
	}
	if !actor.Alive() {
		return types.NewGameError(types.ErrDeadPlayer, "dead players cannot act", false)
	}
	role, ok := roles.Get(actor.RoleID)
	if !ok || role.Night == nil {
		return types.NewGameError(types.ErrInvalidTarget, "role has no night action", false)
	}
	if actionType == roles.ActionNone {
		return nil
	}
	if role.Night.Type != actionType {
		return types.NewGameError(types.ErrInvalidTarget,
			fmt.Sprintf("role cannot perform %s", actionType), false)
	}
	for _, a := range s.NightActions {
		if a.PlayerID == playerID {
			return types.NewGameError(types.ErrAlreadySubmitted, "night action already submitted", false)
		}
	}
	if targetID == "" {
		if role.Night.TargetRequired {
			return types.NewGameError(types.ErrInvalidTarget, "target required", true)
		}
		return nil
	}
	target, ok := s.Players[targetID]
	if !ok {
		return types.NewGameError(types.ErrInvalidTarget, "no such target", true)
	}
	if targetID == playerID && !role.Targets.AllowSelf {
		return types.NewGameError(types.ErrInvalidTarget, "cannot target yourself", true)
	}
	if target.Alive() && !role.Targets.AllowAlive {
		return types.NewGameError(types.ErrInvalidTarget, "cannot target the living", true)
	}
	if !target.Alive() && !role.Targets.AllowDead {
		return types.NewGameError(types.ErrInvalidTarget, "cannot target the dead", true)
	}
	if role.Targets.Filter == roles.FilterNonMafia && target.Alignment == roles.AlignMafia {
		return types.NewGameError(types.ErrInvalidTarget, "cannot target a teammate", true)
	}
	return nil
}

// CheckVote validates a ballot. An empty target is an abstention.
func CheckVote(s *State, playerID, targetID string) *types.GameError {
	if s.Phase != PhaseDayVoting {
		return types.NewGameError(types.ErrWrongPhase, "voting is closed", false)
	}
	voter, ok := s.Players[playerID]
	if !ok {
		return types.Unauthorized("unknown player")
	}
	if !voter.Alive() {
		return types.NewGameError(types.ErrDeadPlayer, "dead players cannot vote", false)
	}
	if r, ok := roles.Get(voter.RoleID); ok && !r.Voting.CanVote {
		return types.NewGameError(types.ErrInvalidTarget, "role cannot vote", false)
	}
	if targetID == "" {
		return nil
	}
	target, ok := s.Players[targetID]
	if !ok || !target.Alive() {
		return types.NewGameError(types.ErrInvalidTarget, "target is not an alive player", true)
	}
	return nil
}

// CheckKick validates a host kick.
func CheckKick(s *State, callerID, targetID string) *types.GameError {
	if ge := CheckHostAction(s, callerID); ge != nil {
		return ge
	}
	if targetID == callerID {
		return types.NewGameError(types.ErrInvalidTarget, "host cannot kick themselves", false)
	}
	if _, ok := s.Players[targetID]; !ok {
		return types.NewGameError(types.ErrInvalidTarget, "no such player", false)
	}
	if s.Phase != PhaseLobby {
		return types.NewGameError(types.ErrWrongPhase, "players can only be kicked in the lobby", false)
	}
	return nil
}
