package roomservice

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/splitrooms/internal/apierr"
	"github.com/dukepan/splitrooms/internal/models"
	"github.com/dukepan/splitrooms/internal/pubsub"
	"github.com/dukepan/splitrooms/internal/utils"
)

func newTestService() (*Service, *fakeRepository, *pubsub.Broker) {
	repo := newFakeRepository()
	broker := pubsub.NewBroker()
	logger := utils.NewLogger("error")
	rng := rand.New(rand.NewSource(1))
	return New(repo, broker, logger, rng, true), repo, broker
}

func subscribe(t *testing.T, broker *pubsub.Broker, code string) <-chan pubsub.Message {
	t.Helper()
	sub, err := broker.Subscribe(context.Background(), code)
	require.NoError(t, err)
	return sub.Channel()
}

func TestCreateThenGet_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateRoom(ctx, "owner-1", "werewolf", 8)
	require.NoError(t, err)

	got, err := svc.GetRoom(ctx, created.RoomCode)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.RoomCode, got.RoomCode)
	assert.Equal(t, created.GameName, got.GameName)
	assert.Equal(t, created.MemberCount, got.MemberCount)
	assert.Equal(t, created.OwnerID, got.OwnerID)
}

func TestCreateRoom_RejectsSecondWaitingRoom(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateRoom(ctx, "owner-1", "game", 4)
	require.NoError(t, err)

	_, err = svc.CreateRoom(ctx, "owner-1", "another", 4)
	assert.Equal(t, apierr.HasActiveRoom, apierr.KindOf(err))
}

func TestJoinThenLeave_RestoresMemberList(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner-1", "game", 4)
	require.NoError(t, err)

	before, err := svc.GetRoom(ctx, room.RoomCode)
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, "member-1", room.RoomCode)
	require.NoError(t, err)

	err = svc.LeaveRoom(ctx, "member-1", room.RoomCode)
	require.NoError(t, err)

	after, err := svc.GetRoom(ctx, room.RoomCode)
	require.NoError(t, err)

	assert.Equal(t, len(before.Members), len(after.Members))
}

func TestJoinRoom_Idempotent(t *testing.T) {
	svc, _, broker := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner-1", "game", 4)
	require.NoError(t, err)

	feed := subscribe(t, broker, room.RoomCode)

	_, err = svc.JoinRoom(ctx, "member-1", room.RoomCode)
	require.NoError(t, err)
	assertEvent(t, feed, pubsub.EventMemberJoined)

	snap, err := svc.JoinRoom(ctx, "member-1", room.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.MemberCount)
	assertNoEvent(t, feed)
}

func TestDivideThenGetResult_Cached(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner-1", "game", 8)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.JoinRoom(ctx, idFor(i), room.RoomCode)
		require.NoError(t, err)
	}

	division, err := svc.DivideTeams(ctx, "owner-1", room.RoomCode)
	require.NoError(t, err)

	cached, err := svc.GetDivisionResult(ctx, room.RoomCode)
	require.NoError(t, err)
	assert.Equal(t, division, cached)
}

func TestRedivideTeams_PreservesMemberCount(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner-1", "game", 8)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.JoinRoom(ctx, idFor(i), room.RoomCode)
		require.NoError(t, err)
	}

	_, err = svc.DivideTeams(ctx, "owner-1", room.RoomCode)
	require.NoError(t, err)

	before, err := svc.GetRoom(ctx, room.RoomCode)
	require.NoError(t, err)

	division, err := svc.RedivideTeams(ctx, "owner-1", room.RoomCode)
	require.NoError(t, err)

	assert.Equal(t, before.MemberCount, len(division.TeamA)+len(division.TeamB))
	for _, m := range division.TeamA {
		assert.NotEmpty(t, m.ID)
	}
}

// basicBalance: spec.md §8 scenario 1.
func TestScenario_BasicBalance(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner", "game", 8)
	require.NoError(t, err)
	_, err = svc.SetLabelRules(ctx, "owner", room.RoomCode, models.LabelRules{models.LabelGod: models.RuleEven})
	require.NoError(t, err)

	members := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, id := range members {
		_, err := svc.JoinRoom(ctx, id, room.RoomCode)
		require.NoError(t, err)
	}
	for _, id := range []string{"owner", "a", "b", "c"} {
		_, err := svc.SetMemberLabels(ctx, "owner", room.RoomCode, id, []models.Label{models.LabelGod})
		require.NoError(t, err)
	}

	division, err := svc.DivideTeams(ctx, "owner", room.RoomCode)
	require.NoError(t, err)

	assert.Len(t, division.TeamA, 4)
	assert.Len(t, division.TeamB, 4)
	assert.Equal(t, 2, countWithLabel(division.TeamA, models.LabelGod))
	assert.Equal(t, 2, countWithLabel(division.TeamB, models.LabelGod))
}

// sameTeam: spec.md §8 scenario 2.
func TestScenario_SameTeam(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "boss1", "game", 8)
	require.NoError(t, err)
	_, err = svc.SetLabelRules(ctx, "boss1", room.RoomCode, models.LabelRules{models.LabelBoss: models.RuleSameTeam})
	require.NoError(t, err)

	for _, id := range []string{"boss2", "p1", "p2", "p3", "p4"} {
		_, err := svc.JoinRoom(ctx, id, room.RoomCode)
		require.NoError(t, err)
	}
	for _, id := range []string{"boss1", "boss2"} {
		_, err := svc.SetMemberLabels(ctx, "boss1", room.RoomCode, id, []models.Label{models.LabelBoss})
		require.NoError(t, err)
	}

	division, err := svc.DivideTeams(ctx, "boss1", room.RoomCode)
	require.NoError(t, err)

	boss1Side := teamOf(division, "boss1")
	boss2Side := teamOf(division, "boss2")
	assert.Equal(t, boss1Side, boss2Side)

	diff := len(division.TeamA) - len(division.TeamB)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, 2)
}

// conflictingRules: spec.md §8 scenario 5.
func TestScenario_ConflictingRules(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner", "game", 8)
	require.NoError(t, err)

	_, err = svc.SetLabelRules(ctx, "owner", room.RoomCode, models.LabelRules{
		models.LabelGod:  models.RuleSameTeam,
		models.LabelBoss: models.RuleSameTeam,
	})
	assert.Equal(t, apierr.ConflictingRules, apierr.KindOf(err))
}

// concurrentJoin: spec.md §8 scenario 6.
func TestScenario_ConcurrentJoin(t *testing.T) {
	svc, _, broker := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner", "game", 3)
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, "existing-1", room.RoomCode)
	require.NoError(t, err)

	feed := subscribe(t, broker, room.RoomCode)

	const attempts = 5
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.JoinRoom(ctx, idFor(100+i), room.RoomCode)
			results[i] = err
		}(i)
	}
	wg.Wait()

	succeeded, full := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case apierr.KindOf(err) == apierr.RoomFull:
			full++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, full)
	assertEvent(t, feed, pubsub.EventMemberJoined)
	assertNoEvent(t, feed)
}

// ownerLeaves: spec.md §8 scenario 7.
func TestScenario_OwnerLeaves(t *testing.T) {
	svc, _, broker := newTestService()
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "owner", "game", 4)
	require.NoError(t, err)

	feed := subscribe(t, broker, room.RoomCode)

	err = svc.LeaveRoom(ctx, "owner", room.RoomCode)
	require.NoError(t, err)
	assertEvent(t, feed, pubsub.EventRoomClosed)

	_, err = svc.GetRoom(ctx, room.RoomCode)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func idFor(i int) string {
	return "user-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func countWithLabel(members []models.MemberProjection, l models.Label) int {
	c := 0
	for _, m := range members {
		for _, ml := range m.Labels {
			if ml == l {
				c++
			}
		}
	}
	return c
}

func teamOf(d models.DivisionResult, id string) bool {
	for _, m := range d.TeamA {
		if m.ID == id {
			return true
		}
	}
	return false
}

func assertEvent(t *testing.T, feed <-chan pubsub.Message, want pubsub.Event) {
	t.Helper()
	select {
	case msg := <-feed:
		assert.Equal(t, want, msg.Event)
	default:
		t.Fatalf("expected event %s, got none", want)
	}
}

func assertNoEvent(t *testing.T, feed <-chan pubsub.Message) {
	t.Helper()
	select {
	case msg := <-feed:
		t.Fatalf("expected no event, got %s", msg.Event)
	default:
	}
}
