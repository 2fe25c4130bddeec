// Package roomservice implements the room lifecycle state machine: it
// validates preconditions, mutates room state through a Repository, runs
// the partition solver for divide/redivide, and emits events through a
// Publisher. Every operation follows load → validate → mutate → publish;
// the room lock is always released (the mutating transaction committed)
// before Publish is called, so a slow or failing subscriber fan-out can
// never hold up a caller.
package roomservice

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/models"
	"github.com/dukepan/splitrooms/internal/pubsub"
	"github.com/dukepan/splitrooms/internal/repository"
	"github.com/dukepan/splitrooms/internal/solver"
	"github.com/dukepan/splitrooms/internal/utils"

	"github.com/google/uuid"
)

const maxCodeAttempts = 10

// Service is the room lifecycle state machine.
type Service struct {
	repo      repository.Repository
	publisher pubsub.Publisher
	logger    *utils.Logger

	// rng backs both room-code generation and the partition solver.
	// *rand.Rand is not safe for concurrent use, so every access goes
	// through mu; many rooms may divide or be created at once.
	mu  sync.Mutex
	rng *rand.Rand

	enableSpecialPairing bool
}

// New builds a room service. rng must be non-nil; inject a seeded source in
// tests for reproducibility.
func New(repo repository.Repository, publisher pubsub.Publisher, logger *utils.Logger, rng *rand.Rand, enableSpecialPairing bool) *Service {
	return &Service{repo: repo, publisher: publisher, logger: logger, rng: rng, enableSpecialPairing: enableSpecialPairing}
}

// CreateRoom creates a new waiting room owned by userID, with the owner as
// its first member.
func (s *Service) CreateRoom(ctx context.Context, userID, gameName string, maxMembers int) (models.RoomSnapshot, error) {
	if _, ok, err := s.repo.FindOwnedWaitingRoom(ctx, userID); err != nil {
		return models.RoomSnapshot{}, fmt.Errorf("check existing room: %w", err)
	} else if ok {
		return models.RoomSnapshot{}, apierr.New(apierr.HasActiveRoom, "you already own a waiting room")
	}

	if maxMembers == 0 {
		maxMembers = models.DefaultMaxMembers
	}
	if maxMembers < models.MinMaxMembers || maxMembers > models.MaxMaxMembers {
		return models.RoomSnapshot{}, apierr.New(apierr.InvalidInput, "maxMembers must be between 2 and 100")
	}
	if n := utf8.RuneCountInString(gameName); n == 0 || n > models.MaxGameNameLen {
		return models.RoomSnapshot{}, apierr.New(apierr.InvalidInput, "gameName must be 1-128 characters")
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		now := time.Now().UTC()
		room := models.Room{
			ID:         uuid.NewString(),
			RoomCode:   s.generateRoomCode(),
			GameName:   gameName,
			OwnerID:    userID,
			Status:     models.StatusWaiting,
			MaxMembers: maxMembers,
			LabelRules: models.LabelRules{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		owner := models.Membership{UserID: userID, Team: models.TeamNone, JoinedAt: now}

		agg, err := s.repo.CreateRoom(ctx, room, owner)
		if err == nil {
			// No event: no subscriber can exist for a room that didn't exist a moment ago.
			return agg.Snapshot(), nil
		}
		if apierr.KindOf(err) != apierr.RoomCodeConflict {
			return models.RoomSnapshot{}, err
		}
	}
	return models.RoomSnapshot{}, apierr.New(apierr.CodeExhausted, "failed to generate a unique room code")
}

func (s *Service) generateRoomCode() string {
	s.mu.Lock()
	n := s.rng.Intn(900000) + 100000
	s.mu.Unlock()
	return fmt.Sprintf("%06d", n)
}

// GetRoom returns the full snapshot of the room identified by code.
func (s *Service) GetRoom(ctx context.Context, code string) (models.RoomSnapshot, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	return agg.Snapshot(), nil
}

// JoinRoom adds userID to the room, or returns the current snapshot
// idempotently if userID is already a member.
func (s *Service) JoinRoom(ctx context.Context, userID, code string) (models.RoomSnapshot, error) {
	roomID, err := s.roomIDForCode(ctx, code)
	if err != nil {
		return models.RoomSnapshot{}, err
	}

	alreadyMember := false
	result, err := s.repo.WithRoomLock(ctx, roomID, func(ctx context.Context, m repository.RoomMutator) error {
		cur := m.Aggregate()
		if cur.Room.Status != models.StatusWaiting {
			return apierr.New(apierr.RoomNotJoinable, "room is not accepting members")
		}
		for _, mem := range cur.Members {
			if mem.UserID == userID {
				alreadyMember = true
				return nil
			}
		}
		if len(cur.Members) >= cur.Room.MaxMembers {
			return apierr.New(apierr.RoomFull, "room is full")
		}
		return m.AddMember(ctx, models.Membership{UserID: userID, Team: models.TeamNone, JoinedAt: time.Now().UTC()})
	})
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if !alreadyMember {
		s.publishSnapshot(ctx, result, pubsub.EventMemberJoined)
	}
	return result.Snapshot(), nil
}

// LeaveRoom removes userID's membership. If userID is the owner, the room
// is closed instead.
func (s *Service) LeaveRoom(ctx context.Context, userID, code string) error {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}
	if agg.Room.OwnerID == userID {
		return s.CloseRoom(ctx, userID, code)
	}

	result, err := s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		return m.RemoveMember(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.publishSnapshot(ctx, result, pubsub.EventMemberLeft)
	return nil
}

// RemoveMember lets the owner evict another member.
func (s *Service) RemoveMember(ctx context.Context, ownerID, code, memberUserID string) error {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}
	if agg.Room.OwnerID != ownerID {
		return apierr.New(apierr.NotOwner, "only the owner can remove members")
	}
	if memberUserID == ownerID {
		return apierr.New(apierr.CannotRemoveOwner, "the owner cannot remove themself")
	}

	result, err := s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		found := false
		for _, mem := range m.Aggregate().Members {
			if mem.UserID == memberUserID {
				found = true
				break
			}
		}
		if !found {
			return apierr.New(apierr.MemberNotFound, "member not found")
		}
		return m.RemoveMember(ctx, memberUserID)
	})
	if err != nil {
		return err
	}
	s.publishSnapshot(ctx, result, pubsub.EventMemberLeft)
	return nil
}

// CloseRoom deletes the room and its memberships. room-closed is published
// only once the delete has committed, keeping the general rule that a
// failed transaction never produces an event.
func (s *Service) CloseRoom(ctx context.Context, ownerID, code string) error {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}
	if agg.Room.OwnerID != ownerID {
		return apierr.New(apierr.NotOwner, "only the owner can close the room")
	}

	_, err = s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		if m.Aggregate().Room.OwnerID != ownerID {
			return apierr.New(apierr.NotOwner, "only the owner can close the room")
		}
		return m.Delete(ctx)
	})
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, agg.Room.RoomCode, pubsub.EventRoomClosed, struct{}{})
	return nil
}

// SetMemberLabels lets the owner assign labels to a member.
func (s *Service) SetMemberLabels(ctx context.Context, ownerID, code, memberUserID string, labels []models.Label) (models.RoomSnapshot, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if agg.Room.OwnerID != ownerID {
		return models.RoomSnapshot{}, apierr.New(apierr.NotOwner, "only the owner can set member labels")
	}
	for _, l := range labels {
		if !models.ValidLabel(l) {
			return models.RoomSnapshot{}, apierr.New(apierr.InvalidLabel, fmt.Sprintf("invalid label %q", l))
		}
	}

	result, err := s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		found := false
		for _, mem := range m.Aggregate().Members {
			if mem.UserID == memberUserID {
				found = true
				break
			}
		}
		if !found {
			return apierr.New(apierr.MemberNotFound, "member not found")
		}
		return m.UpdateMemberLabels(ctx, memberUserID, labels)
	})
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	s.publishSnapshot(ctx, result, pubsub.EventRoomUpdated)
	return result.Snapshot(), nil
}

// SetLabelRules lets the owner configure the partitioning policy.
func (s *Service) SetLabelRules(ctx context.Context, ownerID, code string, rules models.LabelRules) (models.RoomSnapshot, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	if agg.Room.OwnerID != ownerID {
		return models.RoomSnapshot{}, apierr.New(apierr.NotOwner, "only the owner can set label rules")
	}

	sameTeamCount := 0
	for l, rule := range rules {
		if !models.ValidLabel(l) {
			return models.RoomSnapshot{}, apierr.New(apierr.InvalidLabel, fmt.Sprintf("invalid label %q", l))
		}
		if !models.ValidRule(rule) {
			return models.RoomSnapshot{}, apierr.New(apierr.InvalidRule, fmt.Sprintf("invalid rule %q", rule))
		}
		if rule == models.RuleSameTeam {
			sameTeamCount++
		}
	}
	if sameTeamCount > 1 {
		return models.RoomSnapshot{}, apierr.New(apierr.ConflictingRules, "at most one label may be same_team")
	}

	result, err := s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		room := m.Aggregate().Room
		room.LabelRules = rules
		return m.UpdateRoom(ctx, room)
	})
	if err != nil {
		return models.RoomSnapshot{}, err
	}
	s.publishSnapshot(ctx, result, pubsub.EventRoomUpdated)
	return result.Snapshot(), nil
}

// DivideTeams runs the partition solver and commits the resulting teams.
func (s *Service) DivideTeams(ctx context.Context, ownerID, code string) (models.DivisionResult, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.DivisionResult{}, err
	}
	if agg.Room.OwnerID != ownerID {
		return models.DivisionResult{}, apierr.New(apierr.NotOwner, "only the owner can divide teams")
	}

	result, err := s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		cur := m.Aggregate()
		if cur.Room.Status != models.StatusWaiting {
			return apierr.New(apierr.WrongStatus, "room is not waiting")
		}
		if len(cur.Members) < 2 {
			return apierr.New(apierr.TooFewMembers, "need at least 2 members to divide")
		}

		split := s.solve(cur)
		division := toDivisionResult(cur, split)

		for _, c := range split.TeamA {
			if err := m.UpdateMemberTeam(ctx, c.ID, models.TeamA); err != nil {
				return err
			}
		}
		for _, c := range split.TeamB {
			if err := m.UpdateMemberTeam(ctx, c.ID, models.TeamB); err != nil {
				return err
			}
		}

		room := m.Aggregate().Room
		room.Status = models.StatusDivided
		room.Division = &division
		return m.UpdateRoom(ctx, room)
	})
	if err != nil {
		return models.DivisionResult{}, err
	}
	s.publishSnapshot(ctx, result, pubsub.EventTeamsDivided)
	return *result.Room.Division, nil
}

// RedivideTeams resets every membership to no team, then re-runs DivideTeams.
func (s *Service) RedivideTeams(ctx context.Context, ownerID, code string) (models.DivisionResult, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.DivisionResult{}, err
	}
	if agg.Room.OwnerID != ownerID {
		return models.DivisionResult{}, apierr.New(apierr.NotOwner, "only the owner can redivide teams")
	}

	_, err = s.repo.WithRoomLock(ctx, agg.Room.ID, func(ctx context.Context, m repository.RoomMutator) error {
		cur := m.Aggregate()
		for _, mem := range cur.Members {
			if err := m.UpdateMemberTeam(ctx, mem.UserID, models.TeamNone); err != nil {
				return err
			}
		}
		room := cur.Room
		room.Status = models.StatusWaiting
		room.Division = nil
		return m.UpdateRoom(ctx, room)
	})
	if err != nil {
		return models.DivisionResult{}, err
	}
	return s.DivideTeams(ctx, ownerID, code)
}

// GetDivisionResult returns the cached division, or reconstructs one from
// membership team fields if the room was divided but no cache was stored.
func (s *Service) GetDivisionResult(ctx context.Context, code string) (models.DivisionResult, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return models.DivisionResult{}, err
	}
	if agg.Room.Division != nil {
		return *agg.Room.Division, nil
	}
	return models.DivisionFromMembers(agg), nil
}

// GetMyOwnedRoom returns the caller's own waiting room, or nil.
func (s *Service) GetMyOwnedRoom(ctx context.Context, userID string) (*models.RoomSnapshot, error) {
	agg, ok, err := s.repo.FindOwnedWaitingRoom(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	snap := agg.Snapshot()
	return &snap, nil
}

// GetMyJoinedRoom returns the first non-closed room the caller belongs to
// without owning, or nil.
func (s *Service) GetMyJoinedRoom(ctx context.Context, userID string) (*models.RoomSnapshot, error) {
	agg, ok, err := s.repo.FindJoinedRoom(ctx, userID)
	if err != nil || !ok {
		return nil, err
	}
	snap := agg.Snapshot()
	return &snap, nil
}

func (s *Service) roomIDForCode(ctx context.Context, code string) (string, error) {
	agg, err := s.repo.GetRoomByCode(ctx, code)
	if err != nil {
		return "", err
	}
	return agg.Room.ID, nil
}

func (s *Service) solve(agg models.RoomAggregate) solver.Result {
	candidates := make([]solver.Candidate, 0, len(agg.Members))
	for _, m := range agg.Members {
		candidates = append(candidates, solver.Candidate{ID: m.UserID, Name: m.Nickname, Labels: m.Labels})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return solver.Solve(candidates, agg.Room.LabelRules, s.rng, solver.Options{EnableSpecialPairing: s.enableSpecialPairing})
}

func toDivisionResult(agg models.RoomAggregate, result solver.Result) models.DivisionResult {
	project := func(c solver.Candidate) models.MemberProjection {
		u := agg.Users[c.ID]
		return models.MemberProjection{ID: c.ID, Nickname: u.Nickname, AvatarURL: u.AvatarURL, Labels: c.Labels}
	}
	var div models.DivisionResult
	for _, c := range result.TeamA {
		div.TeamA = append(div.TeamA, project(c))
	}
	for _, c := range result.TeamB {
		div.TeamB = append(div.TeamB, project(c))
	}
	return div
}

// publishSnapshot publishes event with the room's current snapshot as
// payload, adding the division result for teams-divided per spec's event
// taxonomy.
func (s *Service) publishSnapshot(ctx context.Context, agg models.RoomAggregate, event pubsub.Event) {
	snap := agg.Snapshot()
	if event == pubsub.EventTeamsDivided && agg.Room.Division != nil {
		s.publisher.Publish(ctx, agg.Room.RoomCode, event, struct {
			models.RoomSnapshot
			Division models.DivisionResult `json:"division"`
		}{RoomSnapshot: snap, Division: *agg.Room.Division})
		return
	}
	s.publisher.Publish(ctx, agg.Room.RoomCode, event, snap)
}
