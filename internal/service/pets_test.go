package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

type fakeAuthority struct {
	fail     error
	released bool
	created  domain.Pet
	calls    []string
}

func (f *fakeAuthority) CreatePet(_ context.Context, name string) (domain.Pet, error) {
	f.calls = append(f.calls, "create:"+name)
	if f.fail != nil {
		return domain.Pet{}, f.fail
	}
	return f.created, nil
}

func (f *fakeAuthority) act(name, id string) (domain.Pet, error) {
	f.calls = append(f.calls, name+":"+id)
	if f.fail != nil {
		return domain.Pet{}, f.fail
	}
	return domain.Pet{ID: id, Happiness: 99, Hunger: 1, IsAlive: true, Status: domain.StatusHappy}, nil
}

func (f *fakeAuthority) Feed(_ context.Context, id string) (domain.Pet, error) {
	return f.act("feed", id)
}

func (f *fakeAuthority) Play(_ context.Context, id string) (domain.Pet, error) {
	return f.act("play", id)
}

func (f *fakeAuthority) Rest(_ context.Context, id string) (domain.Pet, error) {
	return f.act("rest", id)
}

func (f *fakeAuthority) Revive(_ context.Context, id string) (domain.Pet, error) {
	return f.act("revive", id)
}

func (f *fakeAuthority) Support(_ context.Context, id string) (domain.Pet, error) {
	return f.act("support", id)
}

func (f *fakeAuthority) Release(_ context.Context, id string) (bool, error) {
	f.calls = append(f.calls, "release:"+id)
	return f.released, f.fail
}

type fakeReloader struct{ n int }

func (r *fakeReloader) LoadAll(context.Context) error {
	r.n++
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notice
}

func (r *recordingNotifier) Push(message string, typ domain.NotificationType) domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, domain.Notice{Message: message, Type: typ})
	return domain.Notification{Message: message, Type: typ}
}

func (r *recordingNotifier) last() domain.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return domain.Notice{}
	}
	return r.items[len(r.items)-1]
}

type fixture struct {
	auth     *fakeAuthority
	store    *registry.Store
	reloader *fakeReloader
	notes    *recordingNotifier
	svc      *PetService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		auth:     &fakeAuthority{released: true},
		store:    registry.NewStore(nil, time.Second, logger),
		reloader: &fakeReloader{},
		notes:    &recordingNotifier{},
	}
	t.Cleanup(f.store.Close)
	f.store.LoadAll([]domain.Pet{{
		ID: "p1", Name: "Mochi", OwnerID: "me", Happiness: 10, Hunger: 80, IsAlive: true,
		Position: &domain.Position{X: 5, Y: 6},
	}}, nil)
	f.svc = NewPetService(f.auth, f.store, f.reloader, f.notes, logger)
	return f
}

func TestCreate_TrimsAndReloads(t *testing.T) {
	f := newFixture(t)
	f.auth.created = domain.Pet{ID: "p2", Name: "Bun", IsAlive: true}

	pet, err := f.svc.Create(context.Background(), "  Bun  ")
	require.NoError(t, err)
	assert.Equal(t, "p2", pet.ID)
	assert.Equal(t, []string{"create:Bun"}, f.auth.calls)
	assert.Equal(t, 1, f.reloader.n)
	_, ok := f.store.Pet("p2")
	assert.True(t, ok)
}

func TestCreate_RejectsBlankName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidPetName)
	assert.Empty(t, f.auth.calls)
}

func TestAct_SuccessPatchesStoreAndNotifies(t *testing.T) {
	cases := []struct {
		action  Action
		message string
	}{
		{ActionFeed, "you fed Mochi!"},
		{ActionPlay, "you played with Mochi!"},
		{ActionRest, "you let Mochi rest."},
		{ActionRevive, "you revived Mochi!"},
		{ActionSupport, "you sent love to Mochi!"},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			f := newFixture(t)
			pet, err := f.svc.Act(context.Background(), tc.action, "p1")
			require.NoError(t, err)

			assert.Equal(t, 99, pet.Happiness)
			assert.Equal(t, "Mochi", pet.Name)
			require.NotNil(t, pet.Position)
			assert.Equal(t, domain.Notice{Message: tc.message, Type: domain.NotificationSuccess}, f.notes.last())
		})
	}
}

func TestAct_FailureLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	f.auth.fail = errors.New("network down")

	_, err := f.svc.Act(context.Background(), ActionFeed, "p1")
	require.Error(t, err)

	p, _ := f.store.Pet("p1")
	assert.Equal(t, 80, p.Hunger)
	assert.Equal(t, domain.Notice{Message: "failed to feed pet", Type: domain.NotificationError}, f.notes.last())
}

func TestAct_UnknownPet(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Act(context.Background(), ActionPlay, "ghost")
	assert.ErrorIs(t, err, domain.ErrPetNotFound)
	assert.Empty(t, f.auth.calls)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ok, err := f.svc.Release(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, found := f.store.Pet("p1")
	assert.False(t, found)
	assert.Equal(t, domain.Notice{Message: "you released Mochi.", Type: domain.NotificationInfo}, f.notes.last())
}

func TestRelease_FalseKeepsPet(t *testing.T) {
	f := newFixture(t)
	f.auth.released = false

	ok, err := f.svc.Release(context.Background(), "p1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrMutationRejected)
	_, found := f.store.Pet("p1")
	assert.True(t, found)
	assert.Equal(t, "failed to release pet", f.notes.last().Message)
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("Feed")
	assert.True(t, ok)
	assert.Equal(t, ActionFeed, a)
	_, ok = ParseAction("pet")
	assert.False(t, ok)
}
