package engine

// CheckVictory computes the victory condition and, when decisive, moves the
// state to ended. Checked immediately after each night and voting
// resolution.
func CheckVictory(s *State) Victory {
	mafia, town, neutral := s.AliveByAlignment()

	result := VictoryNone
	switch {
	case mafia >= town+neutral:
		result = VictoryMafia
	case mafia == 0:
		result = VictoryTown
	}

	if result != VictoryNone {
		s.Phase = PhaseEnded
		s.Timer = nil
		s.VictoryCondition = result
	}
	return result
}

// NextPhase returns the successor in the fixed progression. Ended is
// terminal; lobby only leaves via startGame.
func NextPhase(p Phase) Phase {
	switch p {
	case PhaseLobby:
		return PhaseNight
	case PhaseNight:
		return PhaseDayAnnouncement
	case PhaseDayAnnouncement:
		return PhaseDayDiscussion
	case PhaseDayDiscussion:
		return PhaseDayVoting
	case PhaseDayVoting:
		return PhaseNight
	default:
		return PhaseEnded
	}
}

// PhaseDuration returns the configured duration for a timed phase in
// milliseconds. Day announcement is a fixed 30 seconds.
func PhaseDuration(set Settings, p Phase) int64 {
	switch p {
	case PhaseNight:
		return set.NightDurationMs
	case PhaseDayAnnouncement:
		return AnnouncementDurationMs
	case PhaseDayDiscussion:
		return set.DayDurationMs
	case PhaseDayVoting:
		return set.VoteDurationMs
	default:
		return 0
	}
}

// AdvancePhase moves s to the next phase at wall-clock now (ms). Victory is
// re-checked first; an ended game never advances. Ephemeral maps are cleared
// by the resolution steps, not here.
func AdvancePhase(s *State, now int64) {
	if CheckVictory(s) != VictoryNone || s.Phase == PhaseEnded {
		s.LastSnapshot = now
		return
	}
	next := NextPhase(s.Phase)
	s.Phase = next
	s.Timer = &Timer{
		Phase:     next,
		StartedAt: now,
		EndsAt:    now + PhaseDuration(s.Settings, next),
	}
	s.LastSnapshot = now
}

// PhaseComplete reports whether the current phase's early-completion
// predicate holds. Phases other than night and day_voting are timer-only.
func PhaseComplete(s *State) bool {
	switch s.Phase {
	case PhaseNight:
		return NightComplete(s)
	case PhaseDayVoting:
		return VotingComplete(s)
	default:
		return false
	}
}
