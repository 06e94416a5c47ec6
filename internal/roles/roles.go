// Package roles is the static registry of playable roles: night-action
// specs, targeting rules, chat and visibility configuration, voting weight,
// and win conditions. The table never changes at runtime.
package roles

// ID identifies a role.
type ID string

const (
	Mafia       ID = "mafia"
	Detective   ID = "detective"
	Doctor      ID = "doctor"
	Townsperson ID = "townsperson"
)

// Alignment is a player's faction.
type Alignment string

const (
	AlignMafia   Alignment = "mafia"
	AlignTown    Alignment = "town"
	AlignNeutral Alignment = "neutral"
)

// ActionType is a night action kind.
type ActionType string

const (
	ActionKill        ActionType = "KILL"
	ActionProtect     ActionType = "PROTECT"
	ActionInvestigate ActionType = "INVESTIGATE"
	ActionNone        ActionType = "NONE"
)

// Night resolution priorities. Lower resolves first.
const (
	PriorityKill        = 10
	PriorityProtect     = 20
	PriorityInvestigate = 30
)

// Priority returns the resolution priority for an action type, or 0 for
// types that never reach the resolver.
func Priority(t ActionType) int {
	switch t {
	case ActionKill:
		return PriorityKill
	case ActionProtect:
		return PriorityProtect
	case ActionInvestigate:
		return PriorityInvestigate
	default:
		return 0
	}
}

// TargetFilter restricts the candidate set of a night action.
type TargetFilter string

const (
	FilterNonMafia TargetFilter = "nonMafia"
	FilterAnyAlive TargetFilter = "anyAlive"
	FilterNone     TargetFilter = "none"
)

// NightSpec describes a role's night action.
type NightSpec struct {
	Type           ActionType
	Priority       int
	MaxTargets     int
	TargetRequired bool
}

// TargetRules constrain who a night action may point at.
type TargetRules struct {
	AllowSelf  bool
	AllowAlive bool
	AllowDead  bool
	Filter     TargetFilter
}

// TallyView controls how much of the live vote tally a role sees.
type TallyView string

const (
	TalliesLive  TallyView = "live"
	TalliesFinal TallyView = "final"
	TalliesNone  TallyView = "none"
)

// Visibility describes what a role learns beyond its own card.
type Visibility struct {
	KnowsTeammates  bool
	SeesVoteTallies TallyView
}

// VotingSpec describes a role's day-vote behaviour.
type VotingSpec struct {
	CanVote bool
	Weight  int
}

// WinCondition names the faction goal a role shares.
type WinCondition string

const (
	WinEliminateTown  WinCondition = "eliminate-town"
	WinEliminateMafia WinCondition = "eliminate-mafia"
)

// Role is one registry entry.
type Role struct {
	ID         ID
	Alignment  Alignment
	Night      *NightSpec
	Targets    TargetRules
	Visibility Visibility
	Voting     VotingSpec
	Win        WinCondition
}

var registry = map[ID]Role{
	Mafia: {
		ID:        Mafia,
		Alignment: AlignMafia,
		Night:     &NightSpec{Type: ActionKill, Priority: PriorityKill, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: false, AllowAlive: true, AllowDead: false, Filter: FilterNonMafia},
		Visibility: Visibility{
			KnowsTeammates:  true,
			SeesVoteTallies: TalliesLive,
		},
		Voting: VotingSpec{CanVote: true, Weight: 1},
		Win:    WinEliminateTown,
	},
	Detective: {
		ID:        Detective,
		Alignment: AlignTown,
		Night:     &NightSpec{Type: ActionInvestigate, Priority: PriorityInvestigate, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: false, AllowAlive: true, AllowDead: false, Filter: FilterAnyAlive},
		Visibility: Visibility{
			SeesVoteTallies: TalliesLive,
		},
		Voting: VotingSpec{CanVote: true, Weight: 1},
		Win:    WinEliminateMafia,
	},
	Doctor: {
		ID:        Doctor,
		Alignment: AlignTown,
		Night:     &NightSpec{Type: ActionProtect, Priority: PriorityProtect, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: true, AllowAlive: true, AllowDead: false, Filter: FilterAnyAlive},
		Visibility: Visibility{
			SeesVoteTallies: TalliesLive,
		},
		Voting: VotingSpec{CanVote: true, Weight: 1},
		Win:    WinEliminateMafia,
	},
	Townsperson: {
		ID:        Townsperson,
		Alignment: AlignTown,
		Targets:   TargetRules{Filter: FilterNone},
		Visibility: Visibility{
			SeesVoteTallies: TalliesLive,
		},
		Voting: VotingSpec{CanVote: true, Weight: 1},
		Win:    WinEliminateMafia,
	},
}

// Get looks up a role by id.
func Get(id ID) (Role, bool) {
	r, ok := registry[id]
	return r, ok
}

// MustGet panics on an unknown id. Only for ids produced by Distribution.
func MustGet(id ID) Role {
	r, ok := registry[id]
	if !ok {
		panic("roles: unknown role id " + string(id))
	}
	return r
}

// Distribution returns the role counts for n players. For n >= 5 the table
// always contains one detective and one doctor, max(1, n/3) mafia, and
// townsperson for the remainder. Below 5 players the power roles shrink
// before the mafia does.
func Distribution(n int) map[ID]int {
	d := map[ID]int{Mafia: 1}
	if n >= 5 {
		d[Mafia] = n / 3
	}
	switch {
	case n >= 5:
		d[Detective] = 1
		d[Doctor] = 1
	case n == 4:
		d[Detective] = 1
		d[Doctor] = 1
	default: // n == 3
		d[Detective] = 1
	}
	town := n - d[Mafia] - d[Detective] - d[Doctor]
	if town > 0 {
		d[Townsperson] = town
	}
	return d
}

// Flatten expands a distribution into a deterministic role list:
// mafia first, then detective, doctor, townsperson.
func Flatten(d map[ID]int) []ID {
	out := make([]ID, 0)
	for _, id := range []ID{Mafia, Detective, Doctor, Townsperson} {
		for i := 0; i < d[id]; i++ {
			out = append(out, id)
		}
	}
	return out
}

// CanSpeak reports whether a role may post to a chat channel given the
// speaker's liveness. Dead players speak only in the dead channel; the
// night mafia channel is mafia-only.
func CanSpeak(id ID, alive bool, channel string) bool {
	r, ok := registry[id]
	if !ok {
		return false
	}
	switch channel {
	case "dead":
		return !alive
	case "nightMafia":
		return alive && r.Alignment == AlignMafia
	case "day", "lobby":
		return alive
	default:
		return false
	}
}
