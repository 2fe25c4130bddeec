package roomservice

import (
	"context"
	"sync"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/models"
	"github.com/dukepan/splitrooms/internal/repository"
)

// fakeRepository is an in-memory repository.Repository used to exercise
// roomservice.Service without a database. WithRoomLock holds the repository
// lock for the whole callback, giving the same per-room serialization a
// row-level Postgres lock provides.
type fakeRepository struct {
	mu      sync.Mutex
	byCode  map[string]*models.RoomAggregate
	idToCode map[string]string
	users   map[string]models.User
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byCode:   make(map[string]*models.RoomAggregate),
		idToCode: make(map[string]string),
		users:    make(map[string]models.User),
	}
}

func (r *fakeRepository) putUser(u models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func cloneAggregate(agg models.RoomAggregate) models.RoomAggregate {
	members := make([]models.Membership, len(agg.Members))
	copy(members, agg.Members)
	users := make(map[string]models.User, len(agg.Users))
	for k, v := range agg.Users {
		users[k] = v
	}
	return models.RoomAggregate{Room: agg.Room, Owner: agg.Owner, Members: members, Users: users}
}

func (r *fakeRepository) CreateRoom(ctx context.Context, room models.Room, owner models.Membership) (models.RoomAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCode[room.RoomCode]; exists {
		return models.RoomAggregate{}, apierr.New(apierr.RoomCodeConflict, "room code already in use")
	}
	ownerUser, ok := r.users[owner.UserID]
	if !ok {
		ownerUser = models.User{ID: owner.UserID, Nickname: owner.UserID}
		r.users[owner.UserID] = ownerUser
	}
	owner.RoomID = room.ID
	agg := models.RoomAggregate{
		Room:    room,
		Owner:   ownerUser,
		Members: []models.Membership{owner},
		Users:   map[string]models.User{ownerUser.ID: ownerUser},
	}
	r.byCode[room.RoomCode] = &agg
	r.idToCode[room.ID] = room.RoomCode
	return cloneAggregate(agg), nil
}

func (r *fakeRepository) GetRoomByID(ctx context.Context, id string) (models.RoomAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.idToCode[id]
	if !ok {
		return models.RoomAggregate{}, apierr.New(apierr.NotFound, "room not found")
	}
	return cloneAggregate(*r.byCode[code]), nil
}

func (r *fakeRepository) GetRoomByCode(ctx context.Context, code string) (models.RoomAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.byCode[code]
	if !ok {
		return models.RoomAggregate{}, apierr.New(apierr.NotFound, "room not found")
	}
	return cloneAggregate(*agg), nil
}

func (r *fakeRepository) FindOwnedWaitingRoom(ctx context.Context, ownerID string) (models.RoomAggregate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agg := range r.byCode {
		if agg.Room.OwnerID == ownerID && agg.Room.Status == models.StatusWaiting {
			return cloneAggregate(*agg), true, nil
		}
	}
	return models.RoomAggregate{}, false, nil
}

func (r *fakeRepository) FindJoinedRoom(ctx context.Context, userID string) (models.RoomAggregate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, agg := range r.byCode {
		if agg.Room.Status == models.StatusClosed || agg.Room.OwnerID == userID {
			continue
		}
		for _, m := range agg.Members {
			if m.UserID == userID {
				return cloneAggregate(*agg), true, nil
			}
		}
	}
	return models.RoomAggregate{}, false, nil
}

func (r *fakeRepository) DeleteRoom(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.idToCode[id]
	if !ok {
		return nil
	}
	delete(r.byCode, code)
	delete(r.idToCode, id)
	return nil
}

func (r *fakeRepository) WithRoomLock(ctx context.Context, roomID string, fn func(ctx context.Context, mutator repository.RoomMutator) error) (models.RoomAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.idToCode[roomID]
	if !ok {
		return models.RoomAggregate{}, apierr.New(apierr.NotFound, "room not found")
	}
	live := r.byCode[code]
	m := &fakeMutator{agg: cloneAggregate(*live)}
	if err := fn(ctx, m); err != nil {
		return models.RoomAggregate{}, err
	}
	if m.deleted {
		delete(r.byCode, code)
		delete(r.idToCode, roomID)
		return m.agg, nil
	}
	*live = m.agg
	return cloneAggregate(*live), nil
}

type fakeMutator struct {
	agg     models.RoomAggregate
	deleted bool
}

func (m *fakeMutator) Aggregate() models.RoomAggregate { return m.agg }

func (m *fakeMutator) AddMember(ctx context.Context, mem models.Membership) error {
	for _, existing := range m.agg.Members {
		if existing.UserID == mem.UserID {
			return apierr.New(apierr.AlreadyMember, "already a member of this room")
		}
	}
	mem.RoomID = m.agg.Room.ID
	m.agg.Members = append(m.agg.Members, mem)
	if _, ok := m.agg.Users[mem.UserID]; !ok {
		m.agg.Users[mem.UserID] = models.User{ID: mem.UserID, Nickname: mem.Nickname, AvatarURL: mem.Avatar}
	}
	return nil
}

func (m *fakeMutator) RemoveMember(ctx context.Context, userID string) error {
	kept := m.agg.Members[:0]
	for _, mem := range m.agg.Members {
		if mem.UserID != userID {
			kept = append(kept, mem)
		}
	}
	m.agg.Members = kept
	return nil
}

func (m *fakeMutator) UpdateMemberTeam(ctx context.Context, userID string, team models.Team) error {
	for i := range m.agg.Members {
		if m.agg.Members[i].UserID == userID {
			m.agg.Members[i].Team = team
		}
	}
	return nil
}

func (m *fakeMutator) UpdateMemberLabels(ctx context.Context, userID string, labels []models.Label) error {
	for i := range m.agg.Members {
		if m.agg.Members[i].UserID == userID {
			m.agg.Members[i].Labels = labels
		}
	}
	return nil
}

func (m *fakeMutator) UpdateRoom(ctx context.Context, room models.Room) error {
	m.agg.Room = room
	return nil
}

func (m *fakeMutator) Delete(ctx context.Context) error {
	m.agg.Room.Status = models.StatusClosed
	m.agg.Members = nil
	m.deleted = true
	return nil
}
