package engine

import (
	"fmt"

	"github.com/nightcourt/mafiad/internal/roles"
)

// PlayerView is one entry of the redacted player list. RoleID is present
// only for the viewer themselves, for dead players when the room reveals
// roles on death, and for everyone once the game has ended.
type PlayerView struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    PlayerStatus `json:"status"`
	Connected bool         `json:"connected"`
	RoleID    roles.ID     `json:"roleId,omitempty"`
}

// SelfRole is the viewer's own card. Teammates is present only for mafia
// and never contains the viewer.
type SelfRole struct {
	RoleID    roles.ID        `json:"roleId"`
	Alignment roles.Alignment `json:"alignment"`
	Teammates []string        `json:"teammates,omitempty"`
}

// LockedAction echoes the viewer's own pending night submission.
type LockedAction struct {
	Type     roles.ActionType `json:"type"`
	TargetID string           `json:"targetId,omitempty"`
}

// View is the per-player projection of a room. Everything a client ever
// sees of authoritative state goes through here.
type View struct {
	RoomID               string                `json:"roomId"`
	Code                 string                `json:"code"`
	Phase                Phase                 `json:"phase"`
	Timer                *Timer                `json:"timer,omitempty"`
	Settings             Settings              `json:"settings"`
	HostID               string                `json:"hostId"`
	IsHost               bool                  `json:"isHost"`
	Players              map[string]PlayerView `json:"players"`
	SelfRole             *SelfRole             `json:"selfRole,omitempty"`
	Votes                map[string]Vote       `json:"votes,omitempty"`
	InvestigationResults []Investigation       `json:"investigationResults,omitempty"`
	LockedAction         *LockedAction         `json:"lockedAction,omitempty"`
	PublicNarrative      []string              `json:"publicNarrative"`
	VictoryCondition     Victory               `json:"victoryCondition"`
	ProtocolVersion      int                   `json:"protocolVersion"`
}

// BuildView redacts s down to what viewerID may see, then runs the safety
// self-check. A safety failure means a redaction bug and surfaces as an
// error the dispatcher treats as fatal for the command.
func BuildView(s *State, viewerID string) (View, error) {
	viewer, viewerKnown := s.Players[viewerID]

	v := View{
		RoomID:           s.RoomID,
		Code:             s.Code,
		Phase:            s.Phase,
		Settings:         s.Settings,
		HostID:           s.HostID,
		IsHost:           viewerID == s.HostID,
		Players:          make(map[string]PlayerView, len(s.Players)),
		PublicNarrative:  append([]string(nil), s.PublicNarrative...),
		VictoryCondition: s.VictoryCondition,
		ProtocolVersion:  s.ProtocolVersion,
	}
	if s.Timer != nil {
		t := *s.Timer
		v.Timer = &t
	}

	for id, p := range s.Players {
		pv := PlayerView{ID: p.ID, Name: p.Name, Status: p.Status, Connected: p.Connected}
		if id == viewerID || s.Phase == PhaseEnded ||
			(s.Settings.RevealRolesOnDeath && p.Status == StatusDead) {
			pv.RoleID = p.RoleID
		}
		v.Players[id] = pv
	}

	if viewerKnown && viewer.RoleID != "" {
		self := &SelfRole{RoleID: viewer.RoleID, Alignment: viewer.Alignment}
		if viewer.Alignment == roles.AlignMafia {
			for id, p := range s.Players {
				if id != viewerID && p.Alignment == roles.AlignMafia {
					self.Teammates = append(self.Teammates, id)
				}
			}
		}
		v.SelfRole = self
	}

	if votesVisible(s) {
		v.Votes = make(map[string]Vote, len(s.Votes))
		for id, vote := range s.Votes {
			v.Votes[id] = vote
		}
	}

	if viewerKnown && viewer.RoleID == roles.Detective {
		for _, inv := range s.InvestigationResults {
			if inv.InvestigatorID == viewerID {
				v.InvestigationResults = append(v.InvestigationResults, inv)
			}
		}
	}

	if s.Phase == PhaseNight {
		for _, a := range s.NightActions {
			if a.PlayerID == viewerID {
				v.LockedAction = &LockedAction{Type: a.Type, TargetID: a.TargetID}
				break
			}
		}
	}

	if err := verifyRedaction(s, viewerID, &v); err != nil {
		return View{}, err
	}
	return v, nil
}

// votesVisible: during day_voting when voting is not anonymous; after a
// resolution while the (final) votes are still present; and at game end.
func votesVisible(s *State) bool {
	switch s.Phase {
	case PhaseDayVoting:
		return !s.Settings.AnonymousVoting
	case PhaseDayAnnouncement, PhaseDayDiscussion:
		return len(s.Votes) > 0 && !s.Settings.AnonymousVoting
	case PhaseEnded:
		return true
	default:
		return false
	}
}

// verifyRedaction asserts the view leaks nothing. It runs in all builds; a
// failure here is a redaction bug, never a user error.
func verifyRedaction(s *State, viewerID string, v *View) error {
	for id, pv := range v.Players {
		if pv.RoleID == "" || id == viewerID {
			continue
		}
		p := s.Players[id]
		deadReveal := s.Settings.RevealRolesOnDeath && p.Status == StatusDead
		if s.Phase != PhaseEnded && !deadReveal {
			return fmt.Errorf("redaction: role of alive player %s leaked to %s", id, viewerID)
		}
	}
	for _, inv := range v.InvestigationResults {
		if inv.InvestigatorID != viewerID {
			return fmt.Errorf("redaction: foreign investigation leaked to %s", viewerID)
		}
	}
	if v.SelfRole != nil && len(v.SelfRole.Teammates) > 0 {
		if viewer, ok := s.Players[viewerID]; !ok || viewer.Alignment != roles.AlignMafia {
			return fmt.Errorf("redaction: teammates leaked to non-mafia %s", viewerID)
		}
		for _, t := range v.SelfRole.Teammates {
			if t == viewerID {
				return fmt.Errorf("redaction: viewer %s listed in own teammates", viewerID)
			}
		}
	}
	return nil
}
