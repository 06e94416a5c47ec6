package engine

import (
	"fmt"
	"sort"

	"github.com/nightcourt/mafiad/internal/roles"
)

// NightResult summarises one night resolution.
type NightResult struct {
	Death          string // player id, empty when nobody died
	Narrative      string
	Investigations []Investigation // results appended this night
}

// ResolveNight applies the pending night actions to s and clears them.
// The outcome is a function of (s.Players, s.NightActions) only: actions are
// ordered by (priority, submittedAt, actionId) so identical inputs resolve
// identically on any instance.
func ResolveNight(s *State) NightResult {
	actions := make([]NightAction, 0, len(s.NightActions))
	for _, a := range s.NightActions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Priority != actions[j].Priority {
			return actions[i].Priority < actions[j].Priority
		}
		if actions[i].SubmittedAt != actions[j].SubmittedAt {
			return actions[i].SubmittedAt < actions[j].SubmittedAt
		}
		return actions[i].ActionID < actions[j].ActionID
	})

	var res NightResult
	queuedKillTarget := ""

	for _, a := range actions {
		actor, ok := s.Players[a.PlayerID]
		if !ok || !actor.Alive() {
			continue
		}
		target, targetOK := s.Players[a.TargetID]

		switch a.Type {
		case roles.ActionKill:
			if actor.Alignment != roles.AlignMafia {
				continue
			}
			if !targetOK || !target.Alive() || target.Alignment == roles.AlignMafia {
				continue
			}
			// At most one kill per night; a later-ordered kill replaces it.
			queuedKillTarget = a.TargetID

		case roles.ActionProtect:
			if actor.RoleID != roles.Doctor {
				continue
			}
			if !targetOK || !target.Alive() {
				continue
			}
			if queuedKillTarget == a.TargetID {
				queuedKillTarget = ""
			}

		case roles.ActionInvestigate:
			if actor.RoleID != roles.Detective {
				continue
			}
			if !targetOK || !target.Alive() {
				continue
			}
			inv := Investigation{
				InvestigatorID: a.PlayerID,
				TargetID:       a.TargetID,
				IsMafia:        target.Alignment == roles.AlignMafia,
			}
			s.InvestigationResults = append(s.InvestigationResults, inv)
			res.Investigations = append(res.Investigations, inv)
		}
	}

	if queuedKillTarget != "" {
		victim := s.Players[queuedKillTarget]
		victim.Status = StatusDead
		s.Players[queuedKillTarget] = victim
		res.Death = queuedKillTarget
		res.Narrative = fmt.Sprintf("%s was eliminated during the night.", victim.Name)
	} else {
		res.Narrative = "No one died during the night."
	}
	s.PublicNarrative = append(s.PublicNarrative, res.Narrative)

	s.NightActions = map[string]NightAction{}
	return res
}

// NightComplete is the early-completion predicate for the night phase:
// every alive mafia and every alive detective has submitted an action.
// The doctor's action is optional.
func NightComplete(s *State) bool {
	submitted := make(map[string]bool, len(s.NightActions))
	for _, a := range s.NightActions {
		submitted[a.PlayerID] = true
	}
	for id, p := range s.Players {
		if !p.Alive() {
			continue
		}
		if (p.RoleID == roles.Mafia || p.RoleID == roles.Detective) && !submitted[id] {
			return false
		}
	}
	return true
}
