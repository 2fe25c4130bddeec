// Package models defines the core entities of the room partitioning domain.
package models

import "time"

// Label is one of a closed vocabulary of categorical tags a member may carry.
type Label string

const (
	LabelGod    Label = "god"
	LabelSister Label = "sister"
	LabelMale   Label = "male"
	LabelBoss   Label = "boss"
)

// Labels lists the full closed vocabulary, in a stable order.
var Labels = []Label{LabelGod, LabelSister, LabelMale, LabelBoss}

// ValidLabel reports whether l is one of the closed vocabulary.
func ValidLabel(l Label) bool {
	switch l {
	case LabelGod, LabelSister, LabelMale, LabelBoss:
		return true
	default:
		return false
	}
}

// Rule is the partitioning policy attached to a Label.
type Rule string

const (
	RuleNone     Rule = "none"
	RuleEven     Rule = "even"
	RuleSameTeam Rule = "same_team"
)

// ValidRule reports whether r is a recognized rule value.
func ValidRule(r Rule) bool {
	switch r {
	case RuleNone, RuleEven, RuleSameTeam:
		return true
	default:
		return false
	}
}

// LabelRules maps every label in the vocabulary to its rule. Absent entries
// default to RuleNone.
type LabelRules map[Label]Rule

// RuleFor returns the rule for l, defaulting to RuleNone if unset.
func (lr LabelRules) RuleFor(l Label) Rule {
	if r, ok := lr[l]; ok {
		return r
	}
	return RuleNone
}

// SameTeamLabel returns the single label with RuleSameTeam, if any.
func (lr LabelRules) SameTeamLabel() (Label, bool) {
	for l, r := range lr {
		if r == RuleSameTeam {
			return l, true
		}
	}
	return "", false
}

// Team is the side of the partition a membership has been assigned to.
type Team string

const (
	TeamNone Team = "none"
	TeamA    Team = "team_a"
	TeamB    Team = "team_b"
)

// RoomStatus is the lifecycle state of a Room.
type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusDivided RoomStatus = "divided"
	StatusClosed  RoomStatus = "closed"
)

const (
	MinMaxMembers     = 2
	MaxMaxMembers     = 100
	DefaultMaxMembers = 10
	MaxGameNameLen    = 128
)

// User is a stable identity resolved by the external authentication
// provider. Immutable from the core's perspective besides name/avatar.
type User struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
}

// Room is an ephemeral gathering of members, owned by a single user.
type Room struct {
	ID         string          `json:"id"`
	RoomCode   string          `json:"roomCode"`
	GameName   string          `json:"gameName"`
	OwnerID    string          `json:"ownerId"`
	Status     RoomStatus      `json:"status"`
	MaxMembers int             `json:"maxMembers"`
	LabelRules LabelRules      `json:"labelRules"`
	Division   *DivisionResult `json:"-"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Membership is a (room, user) pair with a team assignment and labels.
type Membership struct {
	RoomID   string    `json:"-"`
	UserID   string    `json:"id"`
	Nickname string    `json:"nickname"`
	Avatar   string    `json:"avatarUrl"`
	Team     Team      `json:"team"`
	Labels   []Label   `json:"labels"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MemberProjection is the read-model slice of a membership exposed in a
// DivisionResult.
type MemberProjection struct {
	ID        string  `json:"id"`
	Nickname  string  `json:"nickname"`
	AvatarURL string  `json:"avatarUrl"`
	Labels    []Label `json:"labels"`
}

// DivisionResult is the outcome of a successful team split.
type DivisionResult struct {
	TeamA []MemberProjection `json:"teamA"`
	TeamB []MemberProjection `json:"teamB"`
}

// OwnerProjection is the small owner read-model embedded in a snapshot.
type OwnerProjection struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
}

// RoomSnapshot is the full aggregated read-model returned by the API.
type RoomSnapshot struct {
	ID          string           `json:"id"`
	RoomCode    string           `json:"roomCode"`
	GameName    string           `json:"gameName"`
	Status      RoomStatus       `json:"status"`
	MaxMembers  int              `json:"maxMembers"`
	OwnerID     string           `json:"ownerId"`
	LabelRules  LabelRules       `json:"labelRules"`
	Owner       *OwnerProjection `json:"owner"`
	Members     []MembershipView `json:"members"`
	MemberCount int              `json:"memberCount"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// MembershipView is a membership rendered into the snapshot's member list.
type MembershipView struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatarUrl"`
	Team      Team      `json:"team"`
	Labels    []Label   `json:"labels"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// RoomAggregate is the full room + membership + user projections returned
// by the Repository, from which a RoomSnapshot is built.
type RoomAggregate struct {
	Room    Room
	Owner   User
	Members []Membership
	Users   map[string]User // userID -> projection, for all members
}

// Snapshot renders the aggregate into the API read-model.
func (a RoomAggregate) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		ID:          a.Room.ID,
		RoomCode:    a.Room.RoomCode,
		GameName:    a.Room.GameName,
		Status:      a.Room.Status,
		MaxMembers:  a.Room.MaxMembers,
		OwnerID:     a.Room.OwnerID,
		LabelRules:  a.Room.LabelRules,
		MemberCount: len(a.Members),
		CreatedAt:   a.Room.CreatedAt,
		Members:     make([]MembershipView, 0, len(a.Members)),
	}
	if owner, ok := a.Users[a.Room.OwnerID]; ok {
		snap.Owner = &OwnerProjection{ID: owner.ID, Nickname: owner.Nickname, AvatarURL: owner.AvatarURL}
	}
	for _, m := range a.Members {
		u := a.Users[m.UserID]
		snap.Members = append(snap.Members, MembershipView{
			ID:        m.UserID,
			Nickname:  u.Nickname,
			AvatarURL: u.AvatarURL,
			Team:      m.Team,
			Labels:    m.Labels,
			JoinedAt:  m.JoinedAt,
		})
	}
	return snap
}

// DivisionFromMembers reconstructs a DivisionResult from the team field on
// each membership, for rooms whose cached division was not persisted.
func DivisionFromMembers(agg RoomAggregate) DivisionResult {
	var result DivisionResult
	for _, m := range agg.Members {
		u := agg.Users[m.UserID]
		proj := MemberProjection{ID: m.UserID, Nickname: u.Nickname, AvatarURL: u.AvatarURL, Labels: m.Labels}
		switch m.Team {
		case TeamA:
			result.TeamA = append(result.TeamA, proj)
		case TeamB:
			result.TeamB = append(result.TeamB, proj)
		}
	}
	return result
}
