package engine

import (
	"fmt"

	"github.com/nightcourt/mafiad/internal/roles"
)

// VoteResult summarises one voting resolution.
type VoteResult struct {
	Lynched   string // player id, empty when no lynch
	Tallies   map[string]int
	Narrative string
}

// CurrentTallies computes the per-target vote weights for the pending
// ballots without touching state. Every alive player appears, at zero when
// no one voted for them.
func CurrentTallies(s *State) map[string]int {
	tally := make(map[string]int)
	for id, p := range s.Players {
		if p.Alive() {
			tally[id] = 0
		}
	}

	// One effective vote per player: the dispatcher removes stale ballots,
	// but tally defensively by latest submission anyway.
	latest := make(map[string]Vote, len(s.Votes))
	for _, v := range s.Votes {
		prev, ok := latest[v.PlayerID]
		if !ok || v.SubmittedAt > prev.SubmittedAt ||
			(v.SubmittedAt == prev.SubmittedAt && v.ActionID > prev.ActionID) {
			latest[v.PlayerID] = v
		}
	}
	for _, v := range latest {
		if v.Abstain() {
			continue
		}
		target, ok := s.Players[v.TargetID]
		if !ok || !target.Alive() {
			continue
		}
		weight := 1
		if voter, ok := s.Players[v.PlayerID]; ok {
			if r, ok := roles.Get(voter.RoleID); ok && r.Voting.Weight > 0 {
				weight = r.Voting.Weight
			}
		}
		tally[v.TargetID] += weight
	}
	return tally
}

// ResolveVoting tallies the pending votes, applies the lynch (if any), and
// clears the vote map. When the lynch ends the game the votes are kept so
// the final snapshot can show them.
func ResolveVoting(s *State) VoteResult {
	tally := CurrentTallies(s)
	lynched := selectLynch(s.Settings.VotingMode, tally, s.AliveCount())

	res := VoteResult{Lynched: lynched, Tallies: tally}
	if lynched != "" {
		victim := s.Players[lynched]
		victim.Status = StatusDead
		s.Players[lynched] = victim
		res.Narrative = fmt.Sprintf("%s was lynched with %d votes.", victim.Name, tally[lynched])
		if s.Settings.RevealRolesOnDeath {
			res.Narrative += fmt.Sprintf(" They were a %s.", victim.RoleID)
		}
	} else {
		res.Narrative = "No one was lynched. The town could not reach a decision."
	}
	s.PublicNarrative = append(s.PublicNarrative, res.Narrative)

	if CheckVictory(s) == VictoryNone {
		s.Votes = map[string]Vote{}
	}
	return res
}

// selectLynch picks the lynch target, or "" when no one is lynched.
func selectLynch(mode VotingMode, tally map[string]int, aliveCount int) string {
	top, topCount, tied := "", 0, false
	for id, n := range tally {
		switch {
		case n > topCount:
			top, topCount, tied = id, n, false
		case n == topCount && n > 0:
			tied = true
		}
	}
	if topCount == 0 || tied {
		return ""
	}
	if mode == VotingMajority {
		threshold := aliveCount/2 + 1
		if topCount < threshold {
			return ""
		}
	}
	return top
}

// VotingComplete is the early-completion predicate for day_voting: every
// alive player has cast a ballot (a target or an explicit abstention).
func VotingComplete(s *State) bool {
	voted := make(map[string]bool, len(s.Votes))
	for _, v := range s.Votes {
		voted[v.PlayerID] = true
	}
	for id, p := range s.Players {
		if p.Alive() && !voted[id] {
			return false
		}
	}
	return true
}
