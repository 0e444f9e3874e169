// Package registry is the client-side store of pets and users.
//
// All remote events, whichever channel delivered them, go through
// ApplyRemoteEvent, a pure function from (snapshot, event) to a new snapshot
// plus side effects the caller is expected to carry out. Store wraps the
// current snapshot with the locking and timers the reducer itself avoids.
package registry

import (
	"fmt"

	"github.com/petsync/internal/domain"
)

// Snapshot is an immutable view of the registry. Slices keep insertion order;
// ids are unique within each slice.
type Snapshot struct {
	Pets    []domain.Pet
	Users   []domain.User
	Cursors []domain.Cursor
}

// Outcome lists the side effects produced while merging an event
type Outcome struct {
	Notices []domain.Notice
	// HideDead holds ids of the viewer's own pets that were just knocked out
	HideDead []string
	// Changed is false when the event left the snapshot untouched
	Changed bool
}

// PetIndex returns the slice index of the pet with the given id, or -1
func (s Snapshot) PetIndex(id string) int {
	for i := range s.Pets {
		if s.Pets[i].ID == id {
			return i
		}
	}
	return -1
}

// Pet returns a copy of the pet with the given id
func (s Snapshot) Pet(id string) (domain.Pet, bool) {
	if i := s.PetIndex(id); i >= 0 {
		return s.Pets[i].Clone(), true
	}
	return domain.Pet{}, false
}

// User returns the user with the given id
func (s Snapshot) User(id string) (domain.User, bool) {
	for _, u := range s.Users {
		if u.ID == id {
			return u, true
		}
	}
	return domain.User{}, false
}

// ApplyRemoteEvent merges a single remote event into snap. The input snapshot
// is never modified. Unknown event types and references to unknown pets are
// no-ops.
func ApplyRemoteEvent(snap Snapshot, ev domain.Event, viewerID string) (Snapshot, Outcome) {
	switch ev.Type {
	case domain.EventStatsUpdate:
		return applyStats(snap, ev.Stats, viewerID)
	case domain.EventPositionUpdate:
		return applyPositions(snap, ev.Positions)
	case domain.EventPetCreated:
		return applyCreated(snap, ev.Created)
	case domain.EventPetRemoved:
		return applyRemoved(snap, ev.RemovedID)
	case domain.EventMousePosition:
		return applyCursor(snap, ev.Cursor, viewerID)
	default:
		return snap, Outcome{}
	}
}

// KnockoutMessage is the notice text for a pet that just went down
func KnockoutMessage(name string) string {
	return fmt.Sprintf("your pet %s is knocked out!", name)
}

func applyStats(snap Snapshot, patches []domain.PetPatch, viewerID string) (Snapshot, Outcome) {
	var out Outcome
	pets := snap.Pets
	copied := false

	for _, patch := range patches {
		i := indexPet(pets, patch.ID)
		if i < 0 {
			continue
		}
		if !copied {
			pets = append([]domain.Pet(nil), snap.Pets...)
			copied = true
		}

		prev := pets[i]
		next := patch.Apply(prev)
		pets[i] = next
		out.Changed = true

		if prev.IsAlive && !next.IsAlive {
			out.Notices = append(out.Notices, domain.Notice{
				Message: KnockoutMessage(prev.Name),
				Type:    domain.NotificationWarning,
			})
			if viewerID != "" && prev.OwnerID == viewerID {
				out.HideDead = append(out.HideDead, prev.ID)
			}
		}
	}

	if !out.Changed {
		return snap, out
	}
	snap.Pets = pets
	return snap, out
}

func applyPositions(snap Snapshot, updates []domain.PositionUpdate) (Snapshot, Outcome) {
	var out Outcome
	pets := snap.Pets
	copied := false

	for _, u := range updates {
		i := indexPet(pets, u.ID)
		if i < 0 || !pets[i].IsAlive {
			continue
		}
		if !copied {
			pets = append([]domain.Pet(nil), snap.Pets...)
			copied = true
		}

		pos := pets[i].Position.Clone()
		if pos == nil {
			pos = &domain.Position{}
		}
		pos.X = u.X
		pos.Y = u.Y
		if u.Direction != nil {
			pos.Direction = *u.Direction
		}
		pets[i].Position = pos
		out.Changed = true
	}

	if !out.Changed {
		return snap, out
	}
	snap.Pets = pets
	return snap, out
}

func applyCreated(snap Snapshot, pet *domain.Pet) (Snapshot, Outcome) {
	if pet == nil || pet.ID == "" || snap.PetIndex(pet.ID) >= 0 {
		return snap, Outcome{}
	}
	pets := make([]domain.Pet, len(snap.Pets), len(snap.Pets)+1)
	copy(pets, snap.Pets)
	snap.Pets = append(pets, pet.Clone())
	return snap, Outcome{Changed: true}
}

func applyRemoved(snap Snapshot, id string) (Snapshot, Outcome) {
	i := snap.PetIndex(id)
	if id == "" || i < 0 {
		return snap, Outcome{}
	}
	pets := make([]domain.Pet, 0, len(snap.Pets)-1)
	pets = append(pets, snap.Pets[:i]...)
	pets = append(pets, snap.Pets[i+1:]...)
	snap.Pets = pets
	return snap, Outcome{Changed: true}
}

func applyCursor(snap Snapshot, c *domain.Cursor, viewerID string) (Snapshot, Outcome) {
	if c == nil || c.UserID == "" || c.UserID == viewerID {
		return snap, Outcome{}
	}
	cursors := append([]domain.Cursor(nil), snap.Cursors...)
	replaced := false
	for i := range cursors {
		if cursors[i].UserID == c.UserID {
			cursors[i] = *c
			replaced = true
			break
		}
	}
	if !replaced {
		cursors = append(cursors, *c)
	}
	snap.Cursors = cursors
	return snap, Outcome{Changed: true}
}

func indexPet(pets []domain.Pet, id string) int {
	for i := range pets {
		if pets[i].ID == id {
			return i
		}
	}
	return -1
}
