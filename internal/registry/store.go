package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/petsync/internal/domain"
)

// Notifier receives notices produced while merging events
type Notifier interface {
	Notify(notices []domain.Notice)
}

// ViewFilter narrows the pets shown to the local viewer
type ViewFilter struct {
	// SelectedOwners limits other players' pets to these owners; empty means all
	SelectedOwners   []string
	ShowDeadPets     bool
	ShowMyKnockedOut bool
}

// Store owns the registry snapshot plus the client-only state derived from it:
// working (rendered) positions, selection and locally hidden dead pets.
// Every mutation takes the write lock, so socket, subscription, frame and
// timer callbacks never interleave inside a merge.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	viewerID string
	working  map[string]domain.Point
	hidden   map[string]struct{}
	selected string
	timers   map[string]*time.Timer
	closed   bool

	notifier  Notifier
	hideDelay time.Duration
	logger    *slog.Logger
}

// NewStore creates an empty registry. notifier may be nil.
func NewStore(notifier Notifier, hideDelay time.Duration, logger *slog.Logger) *Store {
	return &Store{
		working:   make(map[string]domain.Point),
		hidden:    make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
		notifier:  notifier,
		hideDelay: hideDelay,
		logger:    logger,
	}
}

// SetViewer records the identity of the local user
func (s *Store) SetViewer(userID string) {
	s.mu.Lock()
	s.viewerID = userID
	s.mu.Unlock()
}

// Viewer returns the identity of the local user
func (s *Store) Viewer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewerID
}

// LoadAll installs the result of a bulk fetch. Fetched pets and users replace
// any stored entry with the same id wholesale; new ids are appended. A fetched
// pet's position is deep-copied, or left nil when the fetch omitted it.
func (s *Store) LoadAll(pets []domain.Pet, users []domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append([]domain.Pet(nil), s.snap.Pets...)
	for _, p := range pets {
		if p.ID == "" {
			continue
		}
		fresh := p.Clone()
		if i := indexPet(next, p.ID); i >= 0 {
			next[i] = fresh
		} else {
			next = append(next, fresh)
		}
	}

	nextUsers := append([]domain.User(nil), s.snap.Users...)
	for _, u := range users {
		if u.ID == "" {
			continue
		}
		replaced := false
		for i := range nextUsers {
			if nextUsers[i].ID == u.ID {
				nextUsers[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			nextUsers = append(nextUsers, u)
		}
	}

	s.snap.Pets = next
	s.snap.Users = nextUsers
	s.logger.Debug("registry loaded", "pets", len(pets), "users", len(users), "total_pets", len(next))
}

// Apply merges a remote event and carries out its side effects
func (s *Store) Apply(ev domain.Event) Outcome {
	s.mu.Lock()
	next, out := ApplyRemoteEvent(s.snap, ev, s.viewerID)
	s.snap = next
	if ev.Type == domain.EventPetRemoved && out.Changed {
		s.forgetLocked(ev.RemovedID)
	}
	for _, id := range out.HideDead {
		s.scheduleHideLocked(id)
	}
	s.mu.Unlock()

	if len(out.Notices) > 0 && s.notifier != nil {
		s.notifier.Notify(out.Notices)
	}
	return out
}

// PatchPet merges a pet returned by a mutation over the stored entry.
// Fields the mutation left at their zero value are not cleared.
func (s *Store) PatchPet(p domain.Pet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.snap.PetIndex(p.ID)
	if i < 0 {
		return false
	}
	pets := append([]domain.Pet(nil), s.snap.Pets...)
	cur := pets[i]
	merged := p.Clone()
	if merged.Name == "" {
		merged.Name = cur.Name
	}
	if merged.OwnerID == "" {
		merged.OwnerID = cur.OwnerID
	}
	if merged.Emoji == "" {
		merged.Emoji = cur.Emoji
	}
	if merged.Position == nil {
		merged.Position = cur.Position.Clone()
	}
	if merged.Age == 0 {
		merged.Age = cur.Age
	}
	pets[i] = merged
	s.snap.Pets = pets
	return true
}

// RemovePet deletes a pet locally, e.g. after a confirmed release
func (s *Store) RemovePet(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, out := applyRemoved(s.snap, id)
	s.snap = next
	if out.Changed {
		s.forgetLocked(id)
	}
	return out.Changed
}

// Snapshot returns the current immutable snapshot
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Pet returns a copy of a single pet
func (s *Store) Pet(id string) (domain.Pet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Pet(id)
}

// Pets returns copies of every pet
func (s *Store) Pets() []domain.Pet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePets(s.snap.Pets, nil)
}

// Users returns every known user
func (s *Store) Users() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.User(nil), s.snap.Users...)
}

// OnlineUsers returns users the authority reports as online
func (s *Store) OnlineUsers() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.User
	for _, u := range s.snap.Users {
		if u.IsOnline {
			out = append(out, u)
		}
	}
	return out
}

// OnlineOthers returns online users other than the viewer
func (s *Store) OnlineOthers() []domain.User {
	viewer := s.Viewer()
	var out []domain.User
	for _, u := range s.OnlineUsers() {
		if u.ID != viewer {
			out = append(out, u)
		}
	}
	return out
}

// MyPets returns the viewer's own pets
func (s *Store) MyPets() []domain.Pet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePets(s.snap.Pets, func(p domain.Pet) bool {
		return s.viewerID != "" && p.OwnerID == s.viewerID
	})
}

// VisiblePets returns the pets the renderer should draw for the viewer
func (s *Store) VisiblePets(f ViewFilter) []domain.Pet {
	owners := make(map[string]struct{}, len(f.SelectedOwners))
	for _, id := range f.SelectedOwners {
		owners[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePets(s.snap.Pets, func(p domain.Pet) bool {
		mine := s.viewerID != "" && p.OwnerID == s.viewerID

		ownerOK := mine || len(owners) == 0
		if !ownerOK {
			_, ownerOK = owners[p.OwnerID]
		}

		deadOK := p.IsAlive
		if !p.IsAlive {
			if mine {
				deadOK = f.ShowMyKnockedOut
			} else {
				deadOK = f.ShowDeadPets
			}
		}

		_, hidden := s.hidden[p.ID]
		hiddenMineDead := mine && !p.IsAlive && hidden

		return ownerOK && deadOK && !hiddenMineDead
	})
}

// IsHidden reports whether a pet has been flagged hidden after its knockout
func (s *Store) IsHidden(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hidden[id]
	return ok
}

// OwnerName resolves an owner id to a username
func (s *Store) OwnerName(ownerID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.snap.User(ownerID); ok {
		return u.Username
	}
	return "Unknown"
}

// Cursors returns the last known pointer of every other user
func (s *Store) Cursors() []domain.Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Cursor(nil), s.snap.Cursors...)
}

// Select marks a pet as the current selection; an empty id clears it
func (s *Store) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// Selected returns the live copy of the selected pet
func (s *Store) Selected() (domain.Pet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return domain.Pet{}, false
	}
	return s.snap.Pet(s.selected)
}

// WorkingPosition returns the rendered position of a pet
func (s *Store) WorkingPosition(id string) (domain.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.working[id]
	return p, ok
}

// WorkingPositions returns a copy of all rendered positions
func (s *Store) WorkingPositions() map[string]domain.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Point, len(s.working))
	for id, p := range s.working {
		out[id] = p
	}
	return out
}

// SetWorkingPositions overwrites rendered positions for known pets.
// Ids that are not in the registry are ignored.
func (s *Store) SetWorkingPositions(positions map[string]domain.Point) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range positions {
		if s.snap.PetIndex(id) < 0 {
			continue
		}
		s.working[id] = p
		n++
	}
	return n
}

// SetWorkingPosition overwrites one rendered position
func (s *Store) SetWorkingPosition(id string, p domain.Point) bool {
	return s.SetWorkingPositions(map[string]domain.Point{id: p}) == 1
}

// LiveLocations returns the rendered position of every alive pet that has one
func (s *Store) LiveLocations() []domain.PetLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PetLocation
	for _, p := range s.snap.Pets {
		if !p.IsAlive {
			continue
		}
		if w, ok := s.working[p.ID]; ok {
			out = append(out, domain.PetLocation{ID: p.ID, X: w.X, Y: w.Y})
		}
	}
	return out
}

// Close cancels pending hide timers
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Store) scheduleHideLocked(id string) {
	if s.closed {
		return
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.hideDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.timers, id)
		if s.snap.PetIndex(id) >= 0 {
			s.hidden[id] = struct{}{}
		}
	})
}

func (s *Store) forgetLocked(id string) {
	delete(s.working, id)
	delete(s.hidden, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if s.selected == id {
		s.selected = ""
	}
}

func clonePets(pets []domain.Pet, keep func(domain.Pet) bool) []domain.Pet {
	out := make([]domain.Pet, 0, len(pets))
	for _, p := range pets {
		if keep != nil && !keep(p) {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}
