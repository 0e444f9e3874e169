package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petsync/internal/domain"
)

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func f64Ptr(v float64) *float64 { return &v }

func baseSnapshot() Snapshot {
	return Snapshot{
		Pets: []domain.Pet{
			{ID: "P1", Name: "Mochi", OwnerID: "me", Happiness: 50, IsAlive: true, Status: "Happy",
				Position: &domain.Position{X: 10, Y: 20, Direction: 1, Speed: f64Ptr(2)}},
			{ID: "P3", Name: "Dusk", OwnerID: "other", IsAlive: false, Status: "Dead",
				Position: &domain.Position{X: 5, Y: 5}},
		},
	}
}

func TestApplyRemoteEvent_StatsKnockoutScenario(t *testing.T) {
	snap := baseSnapshot()
	ev := domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{
		{ID: "P1", Happiness: intPtr(80), IsAlive: boolPtr(false)},
	}}

	next, out := ApplyRemoteEvent(snap, ev, "me")

	p, ok := next.Pet("P1")
	require.True(t, ok)
	assert.Equal(t, 80, p.Happiness)
	assert.False(t, p.IsAlive)
	require.NotNil(t, p.Position)
	assert.Equal(t, domain.Position{X: 10, Y: 20, Direction: 1, Speed: f64Ptr(2)}, *p.Position)

	require.Len(t, out.Notices, 1)
	assert.Equal(t, domain.NotificationWarning, out.Notices[0].Type)
	assert.Equal(t, "your pet Mochi is knocked out!", out.Notices[0].Message)
	assert.Equal(t, []string{"P1"}, out.HideDead)

	orig, _ := snap.Pet("P1")
	assert.True(t, orig.IsAlive, "input snapshot must be untouched")
	assert.Equal(t, 50, orig.Happiness)
}

func TestApplyRemoteEvent_KnockoutOnlyOncePerTransition(t *testing.T) {
	snap := baseSnapshot()
	dead := domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{{ID: "P1", IsAlive: boolPtr(false)}}}

	snap, out := ApplyRemoteEvent(snap, dead, "someone-else")
	assert.Len(t, out.Notices, 1)
	assert.Empty(t, out.HideDead, "only the owner hides their knocked out pet")

	snap, out = ApplyRemoteEvent(snap, dead, "someone-else")
	assert.Empty(t, out.Notices)

	revive := domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{{ID: "P1", IsAlive: boolPtr(true)}}}
	snap, _ = ApplyRemoteEvent(snap, revive, "someone-else")
	_, out = ApplyRemoteEvent(snap, dead, "someone-else")
	assert.Len(t, out.Notices, 1)
}

func TestApplyRemoteEvent_BadPositionStillKnocksOut(t *testing.T) {
	ev, err := domain.DecodeEvent([]byte(
		`{"type":"stats_update","tamagotchi":{"id":"P1","happiness":"80","isAlive":false,"position":"garbage"}}`))
	require.NoError(t, err)

	next, out := ApplyRemoteEvent(baseSnapshot(), ev, "me")

	p, ok := next.Pet("P1")
	require.True(t, ok)
	assert.False(t, p.IsAlive)
	assert.Equal(t, 50, p.Happiness, "unreadable vitals keep the stored value")
	require.NotNil(t, p.Position)
	assert.Equal(t, 10.0, p.Position.X)
	require.Len(t, out.Notices, 1)
	assert.Equal(t, domain.NotificationWarning, out.Notices[0].Type)
}

func TestApplyRemoteEvent_StatsNeverClearsPosition(t *testing.T) {
	snap := baseSnapshot()
	patches := []domain.PetPatch{
		{ID: "P1", Hunger: intPtr(10)},
		{ID: "P1", Status: strPtr("Sad")},
		{ID: "P1", Position: &domain.Position{X: 99, Y: 98}},
		{ID: "P1", Energy: intPtr(3)},
	}
	for _, patch := range patches {
		snap, _ = ApplyRemoteEvent(snap, domain.Event{Type: domain.EventStatsUpdate, Stats: []domain.PetPatch{patch}}, "")
		p, _ := snap.Pet("P1")
		require.NotNil(t, p.Position)
	}
	p, _ := snap.Pet("P1")
	assert.Equal(t, 99.0, p.Position.X)
	assert.Equal(t, "Sad", p.Status)
}

func TestApplyRemoteEvent_StatsUnknownPetIsNoop(t *testing.T) {
	snap := baseSnapshot()
	next, out := ApplyRemoteEvent(snap, domain.Event{Type: domain.EventStatsUpdate,
		Stats: []domain.PetPatch{{ID: "ghost", IsAlive: boolPtr(false)}}}, "me")
	assert.False(t, out.Changed)
	assert.Empty(t, out.Notices)
	assert.Equal(t, snap, next)
}

func TestApplyRemoteEvent_PositionUpdate(t *testing.T) {
	snap := baseSnapshot()
	ev := domain.Event{Type: domain.EventPositionUpdate, Positions: []domain.PositionUpdate{
		{ID: "P1", X: 1, Y: 2, Direction: f64Ptr(0.25)},
		{ID: "P3", X: 100, Y: 100},
		{ID: "ghost", X: 7, Y: 7},
	}}

	next, out := ApplyRemoteEvent(snap, ev, "")
	assert.True(t, out.Changed)

	p1, _ := next.Pet("P1")
	assert.Equal(t, 1.0, p1.Position.X)
	assert.Equal(t, 2.0, p1.Position.Y)
	assert.Equal(t, 0.25, p1.Position.Direction)
	require.NotNil(t, p1.Position.Speed, "speed must survive a position update")
	assert.Equal(t, 2.0, *p1.Position.Speed)

	p3, _ := next.Pet("P3")
	assert.Equal(t, domain.Position{X: 5, Y: 5}, *p3.Position, "dead pets keep their stored position")
	assert.Len(t, next.Pets, 2)
}

func TestApplyRemoteEvent_PositionUpdateKeepsDirectionWhenAbsent(t *testing.T) {
	snap := baseSnapshot()
	next, _ := ApplyRemoteEvent(snap, domain.Event{Type: domain.EventPositionUpdate,
		Positions: []domain.PositionUpdate{{ID: "P1", X: 3, Y: 4}}}, "")
	p1, _ := next.Pet("P1")
	assert.Equal(t, 1.0, p1.Position.Direction)
}

func TestApplyRemoteEvent_CreatedIsIdempotent(t *testing.T) {
	snap := baseSnapshot()
	ev := domain.Event{Type: domain.EventPetCreated, Created: &domain.Pet{ID: "P2", Name: "Bun", IsAlive: true}}

	snap, out := ApplyRemoteEvent(snap, ev, "")
	assert.True(t, out.Changed)
	snap, out = ApplyRemoteEvent(snap, ev, "")
	assert.False(t, out.Changed)

	count := 0
	for _, p := range snap.Pets {
		if p.ID == "P2" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestApplyRemoteEvent_RemoveUnknownIsNoop(t *testing.T) {
	snap := baseSnapshot()
	next, out := ApplyRemoteEvent(snap, domain.Event{Type: domain.EventPetRemoved, RemovedID: "P2"}, "")
	assert.False(t, out.Changed)
	assert.Equal(t, snap, next)

	next, out = ApplyRemoteEvent(snap, domain.Event{Type: domain.EventPetRemoved, RemovedID: "P3"}, "")
	assert.True(t, out.Changed)
	assert.Len(t, next.Pets, 1)
	assert.Len(t, snap.Pets, 2)
}

func TestApplyRemoteEvent_Cursor(t *testing.T) {
	snap := Snapshot{}
	snap, out := ApplyRemoteEvent(snap, domain.Event{Type: domain.EventMousePosition,
		Cursor: &domain.Cursor{UserID: "me", X: 1}}, "me")
	assert.False(t, out.Changed)
	assert.Empty(t, snap.Cursors)

	snap, _ = ApplyRemoteEvent(snap, domain.Event{Type: domain.EventMousePosition,
		Cursor: &domain.Cursor{UserID: "u2", X: 1}}, "me")
	snap, _ = ApplyRemoteEvent(snap, domain.Event{Type: domain.EventMousePosition,
		Cursor: &domain.Cursor{UserID: "u2", X: 9}}, "me")
	require.Len(t, snap.Cursors, 1)
	assert.Equal(t, 9.0, snap.Cursors[0].X)
}

func TestApplyRemoteEvent_UnknownTypeAndEmptyPayloads(t *testing.T) {
	snap := baseSnapshot()
	for _, ev := range []domain.Event{
		{Type: "weather"},
		{Type: domain.EventPetCreated},
		{Type: domain.EventPositionUpdate},
		{Type: domain.EventMousePosition},
	} {
		next, out := ApplyRemoteEvent(snap, ev, "me")
		assert.False(t, out.Changed)
		assert.Equal(t, snap, next)
	}
}

func strPtr(v string) *string { return &v }
