package registry

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petsync/internal/domain"
)

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (r *recordingNotifier) Notify(n []domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n...)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func newTestStore(n Notifier, hideDelay time.Duration) *Store {
	return NewStore(n, hideDelay, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_LoadAllReplacesDuplicatesAndDropsStalePosition(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()

	s.LoadAll([]domain.Pet{
		{ID: "a", Name: "A", Hunger: 5, IsAlive: true, Position: &domain.Position{X: 1, Y: 1}},
		{ID: "b", Name: "B", IsAlive: true},
	}, []domain.User{{ID: "u1", Username: "ann"}})

	pos := &domain.Position{X: 7, Y: 8}
	s.LoadAll([]domain.Pet{
		{ID: "a", Name: "A2", IsAlive: true},
		{ID: "c", Name: "C", IsAlive: true, Position: pos},
	}, []domain.User{{ID: "u1", Username: "ann", IsOnline: true}, {ID: "u2", Username: "bob"}})

	a, ok := s.Pet("a")
	require.True(t, ok)
	assert.Equal(t, "A2", a.Name)
	assert.Equal(t, 0, a.Hunger, "absent fields are dropped on reload")
	assert.Nil(t, a.Position, "no stale position carries over a reload")

	_, ok = s.Pet("b")
	assert.True(t, ok, "pets are never removed implicitly")

	c, _ := s.Pet("c")
	require.NotNil(t, c.Position)
	pos.X = 100
	c, _ = s.Pet("c")
	assert.Equal(t, 7.0, c.Position.X, "position is deep-copied")

	assert.Len(t, s.Users(), 2)
	assert.Len(t, s.OnlineUsers(), 1)
	assert.Equal(t, "bob", s.OwnerName("u2"))
	assert.Equal(t, "Unknown", s.OwnerName("zzz"))
}

func TestStore_ApplyNotifiesAndHidesOwnDeadPet(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestStore(n, 30*time.Millisecond)
	defer s.Close()
	s.SetViewer("me")
	s.LoadAll([]domain.Pet{{ID: "P1", Name: "Mochi", OwnerID: "me", IsAlive: true}}, nil)

	out := s.Apply(domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{{ID: "P1", IsAlive: boolPtr(false)}}})
	assert.Equal(t, []string{"P1"}, out.HideDead)
	assert.Equal(t, 1, n.count())
	assert.False(t, s.IsHidden("P1"), "hiding is delayed")

	require.Eventually(t, func() bool { return s.IsHidden("P1") }, time.Second, 5*time.Millisecond)

	visible := s.VisiblePets(ViewFilter{ShowMyKnockedOut: true})
	assert.Empty(t, visible)
}

func TestStore_RemoveForgetsLocalState(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()
	s.LoadAll([]domain.Pet{{ID: "P1", IsAlive: true}}, nil)
	require.True(t, s.SetWorkingPosition("P1", domain.Point{X: 1, Y: 2}))
	s.Select("P1")

	s.Apply(domain.Event{Type: domain.EventPetRemoved, RemovedID: "P1"})

	_, ok := s.WorkingPosition("P1")
	assert.False(t, ok)
	_, ok = s.Selected()
	assert.False(t, ok)
	assert.False(t, s.SetWorkingPosition("P1", domain.Point{}), "unknown pets get no working position")
}

func TestStore_VisiblePets(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()
	s.SetViewer("me")
	s.LoadAll([]domain.Pet{
		{ID: "mine-alive", OwnerID: "me", IsAlive: true},
		{ID: "mine-dead", OwnerID: "me", IsAlive: false},
		{ID: "bob-alive", OwnerID: "bob", IsAlive: true},
		{ID: "bob-dead", OwnerID: "bob", IsAlive: false},
		{ID: "cy-alive", OwnerID: "cy", IsAlive: true},
	}, nil)

	ids := func(pets []domain.Pet) []string {
		var out []string
		for _, p := range pets {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{"mine-alive", "bob-alive", "cy-alive"}, ids(s.VisiblePets(ViewFilter{})))
	assert.Equal(t, []string{"mine-alive", "bob-alive"}, ids(s.VisiblePets(ViewFilter{SelectedOwners: []string{"bob"}})))
	assert.Equal(t, []string{"mine-alive", "mine-dead", "bob-alive", "bob-dead"},
		ids(s.VisiblePets(ViewFilter{SelectedOwners: []string{"bob"}, ShowDeadPets: true, ShowMyKnockedOut: true})))
	assert.Equal(t, []string{"mine-alive", "mine-dead"}, ids(s.MyPets()))
}

func TestStore_LiveLocationsOnlyAlivePetsWithPositions(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()
	s.LoadAll([]domain.Pet{
		{ID: "a", IsAlive: true},
		{ID: "b", IsAlive: false},
		{ID: "c", IsAlive: true},
	}, nil)
	s.SetWorkingPositions(map[string]domain.Point{"a": {X: 1, Y: 2}, "b": {X: 3, Y: 4}})

	assert.Equal(t, []domain.PetLocation{{ID: "a", X: 1, Y: 2}}, s.LiveLocations())
}

func TestStore_PatchPetKeepsIdentityFields(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()
	s.LoadAll([]domain.Pet{{ID: "a", Name: "Mochi", OwnerID: "me", Emoji: "🐱", IsAlive: true,
		Position: &domain.Position{X: 3, Y: 3}}}, nil)

	require.True(t, s.PatchPet(domain.Pet{ID: "a", Happiness: 90, IsAlive: true, Status: "Happy"}))
	p, _ := s.Pet("a")
	assert.Equal(t, 90, p.Happiness)
	assert.Equal(t, "Mochi", p.Name)
	assert.Equal(t, "me", p.OwnerID)
	require.NotNil(t, p.Position)

	assert.False(t, s.PatchPet(domain.Pet{ID: "missing"}))
}

func TestStore_SelectedTracksLiveUpdates(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()
	s.LoadAll([]domain.Pet{{ID: "a", Happiness: 10, IsAlive: true}}, nil)
	s.Select("a")
	s.Apply(domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{{ID: "a", Happiness: intPtr(60)}}})

	sel, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, 60, sel.Happiness)
}

func TestStore_ConcurrentApplyKeepsSinglePetPerID(t *testing.T) {
	s := newTestStore(nil, time.Second)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Apply(domain.Event{Type: domain.EventPetCreated, Created: &domain.Pet{ID: "dup", IsAlive: true}})
		}()
		go func() {
			defer wg.Done()
			s.LoadAll([]domain.Pet{{ID: "dup", IsAlive: true}}, nil)
		}()
	}
	wg.Wait()

	assert.Len(t, s.Pets(), 1)
}
