// Package engine holds the authoritative room state and the pure reducers
// that transform it: night resolution, voting, victory checks, and phase
// advancement. Nothing in this package performs I/O or suspends.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/nightcourt/mafiad/internal/roles"
	"github.com/nightcourt/mafiad/internal/types"
)

type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseNight           Phase = "night"
	PhaseDayAnnouncement Phase = "day_announcement"
	PhaseDayDiscussion   Phase = "day_discussion"
	PhaseDayVoting       Phase = "day_voting"
	PhaseEnded           Phase = "ended"
)

type VotingMode string

const (
	VotingMajority  VotingMode = "majority"
	VotingPlurality VotingMode = "plurality"
)

type Victory string

const (
	VictoryNone  Victory = "none"
	VictoryMafia Victory = "mafia-victory"
	VictoryTown  Victory = "town-victory"
)

type PlayerStatus string

const (
	StatusAlive        PlayerStatus = "alive"
	StatusDead         PlayerStatus = "dead"
	StatusDisconnected PlayerStatus = "disconnected"
)

// Timer bounds the current phase on the wall clock, milliseconds.
type Timer struct {
	Phase     Phase `json:"phase"`
	StartedAt int64 `json:"startedAt"`
	EndsAt    int64 `json:"endsAt"`
}

// Settings are host-tunable room parameters, fixed at game start.
type Settings struct {
	NightDurationMs    int64      `json:"nightDurationMs"`
	DayDurationMs      int64      `json:"dayDurationMs"`
	VoteDurationMs     int64      `json:"voteDurationMs"`
	RevealRolesOnDeath bool       `json:"revealRolesOnDeath"`
	AnonymousVoting    bool       `json:"anonymousVoting"`
	VotingMode         VotingMode `json:"votingMode"`
	MinPlayers         int        `json:"minPlayers"`
	MaxPlayers         int        `json:"maxPlayers"`
}

// AnnouncementDurationMs is the fixed day-announcement timer.
const AnnouncementDurationMs int64 = 30_000

func DefaultSettings() Settings {
	return Settings{
		NightDurationMs:    60_000,
		DayDurationMs:      180_000,
		VoteDurationMs:     60_000,
		RevealRolesOnDeath: true,
		AnonymousVoting:    false,
		VotingMode:         VotingMajority,
		MinPlayers:         3,
		MaxPlayers:         12,
	}
}

type Player struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	RoleID     roles.ID        `json:"roleId,omitempty"`
	Alignment  roles.Alignment `json:"alignment,omitempty"`
	Status     PlayerStatus    `json:"status"`
	Connected  bool            `json:"connected"`
	Muted      bool            `json:"muted,omitempty"`
	AFKStrikes int             `json:"afkStrikes"`
	SessionID  string          `json:"sessionId,omitempty"`
}

// Alive treats disconnected players as still in the game: only death
// removes a player from counts, targeting, and voting.
func (p Player) Alive() bool { return p.Status != StatusDead }

type NightAction struct {
	ID          string           `json:"id"`
	ActionID    string           `json:"actionId"`
	PlayerID    string           `json:"playerId"`
	Type        roles.ActionType `json:"type"`
	TargetID    string           `json:"targetId,omitempty"`
	SubmittedAt int64            `json:"submittedAt"`
	Priority    int              `json:"priority"`
}

// Vote is one ballot. An empty TargetID is an abstention (wire null).
type Vote struct {
	ID          string `json:"id"`
	ActionID    string `json:"actionId"`
	PlayerID    string `json:"playerId"`
	TargetID    string `json:"targetId,omitempty"`
	SubmittedAt int64  `json:"submittedAt"`
}

func (v Vote) Abstain() bool { return v.TargetID == "" }

type Investigation struct {
	InvestigatorID string `json:"investigatorId"`
	TargetID       string `json:"targetId"`
	IsMafia        bool   `json:"isMafia"`
}

// State is the authoritative room state. It is only ever mutated by the
// single writer for the room; everything else sees redacted views.
type State struct {
	RoomID               string                 `json:"roomId"`
	Code                 string                 `json:"code"`
	HostID               string                 `json:"hostId"`
	Phase                Phase                  `json:"phase"`
	Timer                *Timer                 `json:"timer,omitempty"`
	Settings             Settings               `json:"settings"`
	Players              map[string]Player      `json:"players"`
	NightActions         map[string]NightAction `json:"nightActions"`
	Votes                map[string]Vote        `json:"votes"`
	InvestigationResults []Investigation        `json:"investigationResults"`
	PublicNarrative      []string               `json:"publicNarrative"`
	VictoryCondition     Victory                `json:"victoryCondition"`
	ProtocolVersion      int                    `json:"protocolVersion"`
	LastSnapshot         int64                  `json:"lastSnapshot"`
}

// NewState creates a lobby-phase room with the host as its first player.
func NewState(roomID, code, hostID, hostName string) State {
	return State{
		RoomID:   roomID,
		Code:     code,
		HostID:   hostID,
		Phase:    PhaseLobby,
		Settings: DefaultSettings(),
		Players: map[string]Player{
			hostID: {ID: hostID, Name: hostName, Status: StatusAlive, Connected: true},
		},
		NightActions:         map[string]NightAction{},
		Votes:                map[string]Vote{},
		InvestigationResults: []Investigation{},
		PublicNarrative:      []string{},
		VictoryCondition:     VictoryNone,
		ProtocolVersion:      types.ProtocolVersion,
	}
}

// Copy deep-copies the state so reducers can work on a scratch value.
func (s State) Copy() State {
	cp := s
	cp.Players = make(map[string]Player, len(s.Players))
	for k, v := range s.Players {
		cp.Players[k] = v
	}
	cp.NightActions = make(map[string]NightAction, len(s.NightActions))
	for k, v := range s.NightActions {
		cp.NightActions[k] = v
	}
	cp.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		cp.Votes[k] = v
	}
	cp.InvestigationResults = make([]Investigation, len(s.InvestigationResults))
	copy(cp.InvestigationResults, s.InvestigationResults)
	cp.PublicNarrative = make([]string, len(s.PublicNarrative))
	copy(cp.PublicNarrative, s.PublicNarrative)
	if s.Timer != nil {
		t := *s.Timer
		cp.Timer = &t
	}
	return cp
}

// AliveCount counts players with status alive.
func (s *State) AliveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Alive() {
			n++
		}
	}
	return n
}

// AliveByAlignment counts alive players per faction.
func (s *State) AliveByAlignment() (mafia, town, neutral int) {
	for _, p := range s.Players {
		if !p.Alive() {
			continue
		}
		switch p.Alignment {
		case roles.AlignMafia:
			mafia++
		case roles.AlignNeutral:
			neutral++
		default:
			town++
		}
	}
	return
}

// Started reports whether roles have been dealt.
func (s *State) Started() bool {
	return s.Phase != PhaseLobby
}

// Validate enforces the committed-state invariants. A violation is an
// internal error: no command path may produce one.
func (s *State) Validate() error {
	if s.HostID == "" {
		return fmt.Errorf("state: empty hostId")
	}
	if _, ok := s.Players[s.HostID]; !ok {
		return fmt.Errorf("state: hostId %s not in players", s.HostID)
	}
	inTimeless := s.Phase == PhaseLobby || s.Phase == PhaseEnded
	if inTimeless != (s.Timer == nil) {
		return fmt.Errorf("state: phase %s and timer presence disagree", s.Phase)
	}
	if s.Timer != nil && s.Timer.Phase != s.Phase {
		return fmt.Errorf("state: timer phase %s != %s", s.Timer.Phase, s.Phase)
	}
	if len(s.Players) > s.Settings.MaxPlayers {
		return fmt.Errorf("state: %d players exceed max %d", len(s.Players), s.Settings.MaxPlayers)
	}
	for id, a := range s.NightActions {
		if _, ok := s.Players[a.PlayerID]; !ok {
			return fmt.Errorf("state: night action %s actor missing", id)
		}
		if a.TargetID != "" {
			if _, ok := s.Players[a.TargetID]; !ok {
				return fmt.Errorf("state: night action %s target missing", id)
			}
		}
	}
	for id, v := range s.Votes {
		if _, ok := s.Players[v.PlayerID]; !ok {
			return fmt.Errorf("state: vote %s voter missing", id)
		}
		if !v.Abstain() {
			if _, ok := s.Players[v.TargetID]; !ok {
				return fmt.Errorf("state: vote %s target missing", id)
			}
		}
	}
	if s.Started() {
		for id, p := range s.Players {
			if p.RoleID == "" || p.Alignment == "" {
				return fmt.Errorf("state: player %s has no role after start", id)
			}
		}
	}
	return nil
}

func Marshal(s State) ([]byte, error) {
	return json.Marshal(s)
}

func Unmarshal(raw []byte) (State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, err
	}
	if s.Players == nil {
		s.Players = map[string]Player{}
	}
	if s.NightActions == nil {
		s.NightActions = map[string]NightAction{}
	}
	if s.Votes == nil {
		s.Votes = map[string]Vote{}
	}
	return s, nil
}
