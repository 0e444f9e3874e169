package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

// Authority is the mutating surface of the remote authority
type Authority interface {
	CreatePet(ctx context.Context, name string) (domain.Pet, error)
	Feed(ctx context.Context, id string) (domain.Pet, error)
	Play(ctx context.Context, id string) (domain.Pet, error)
	Rest(ctx context.Context, id string) (domain.Pet, error)
	Revive(ctx context.Context, id string) (domain.Pet, error)
	Support(ctx context.Context, id string) (domain.Pet, error)
	Release(ctx context.Context, id string) (bool, error)
}

// Reloader performs a full registry reload
type Reloader interface {
	LoadAll(ctx context.Context) error
}

// Notifier shows a transient notice to the local user
type Notifier interface {
	Push(message string, typ domain.NotificationType) domain.Notification
}

// Action names a single-pet interaction
type Action string

const (
	ActionFeed    Action = "feed"
	ActionPlay    Action = "play"
	ActionRest    Action = "rest"
	ActionRevive  Action = "revive"
	ActionSupport Action = "support"
	ActionRelease Action = "release"
)

// ParseAction maps a route segment to an Action
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionFeed, ActionPlay, ActionRest, ActionRevive, ActionSupport, ActionRelease:
		return a, true
	}
	return "", false
}

var successMessages = map[Action]string{
	ActionFeed:    "you fed %s!",
	ActionPlay:    "you played with %s!",
	ActionRest:    "you let %s rest.",
	ActionRevive:  "you revived %s!",
	ActionSupport: "you sent love to %s!",
	ActionRelease: "you released %s.",
}

var failureMessages = map[Action]string{
	ActionFeed:    "failed to feed pet",
	ActionPlay:    "failed to play with pet",
	ActionRest:    "failed to rest pet",
	ActionRevive:  "failed to revive pet",
	ActionSupport: "failed to support pet",
	ActionRelease: "failed to release pet",
}

// PetService runs user actions against the authority and reflects confirmed
// results in the registry. Nothing is applied before the authority answers.
type PetService struct {
	authority Authority
	store     *registry.Store
	reloader  Reloader
	notifier  Notifier
	logger    *slog.Logger
}

// NewPetService creates a new pet service
func NewPetService(
	authority Authority,
	store *registry.Store,
	reloader Reloader,
	notifier Notifier,
	logger *slog.Logger,
) *PetService {
	return &PetService{
		authority: authority,
		store:     store,
		reloader:  reloader,
		notifier:  notifier,
		logger:    logger,
	}
}

// Create asks the authority for a new pet and refreshes the registry
func (s *PetService) Create(ctx context.Context, name string) (domain.Pet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Pet{}, domain.ErrInvalidPetName
	}

	pet, err := s.authority.CreatePet(ctx, name)
	if err != nil {
		s.notifier.Push("failed to create pet", domain.NotificationError)
		return domain.Pet{}, fmt.Errorf("creating pet: %w", err)
	}

	// The created event may race this; insertion is idempotent either way.
	s.store.Apply(domain.Event{Type: domain.EventPetCreated, Created: &pet})
	if err := s.reloader.LoadAll(ctx); err != nil {
		s.logger.Warn("reload after create failed", "error", err)
	}

	s.logger.Info("pet created", "pet_id", pet.ID, "name", pet.Name)
	return pet, nil
}

// Act performs one interaction with a pet. Release is routed to Release.
func (s *PetService) Act(ctx context.Context, action Action, id string) (domain.Pet, error) {
	if action == ActionRelease {
		target, _ := s.store.Pet(id)
		_, err := s.Release(ctx, id)
		return target, err
	}

	target, ok := s.store.Pet(id)
	if !ok {
		return domain.Pet{}, domain.ErrPetNotFound
	}

	var call func(context.Context, string) (domain.Pet, error)
	switch action {
	case ActionFeed:
		call = s.authority.Feed
	case ActionPlay:
		call = s.authority.Play
	case ActionRest:
		call = s.authority.Rest
	case ActionRevive:
		call = s.authority.Revive
	case ActionSupport:
		call = s.authority.Support
	default:
		return domain.Pet{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidRequest, action)
	}

	updated, err := call(ctx, id)
	if err != nil {
		s.notifier.Push(failureMessages[action], domain.NotificationError)
		s.logger.Warn("pet action failed", "action", action, "pet_id", id, "error", err)
		return domain.Pet{}, fmt.Errorf("%s pet: %w", action, err)
	}

	if updated.ID == "" {
		updated.ID = id
	}
	s.store.PatchPet(updated)
	s.notifier.Push(fmt.Sprintf(successMessages[action], target.Name), domain.NotificationSuccess)

	current, _ := s.store.Pet(id)
	return current, nil
}

// Release gives up a pet and removes it locally once the authority confirms
func (s *PetService) Release(ctx context.Context, id string) (bool, error) {
	target, ok := s.store.Pet(id)
	if !ok {
		return false, domain.ErrPetNotFound
	}

	released, err := s.authority.Release(ctx, id)
	if err != nil || !released {
		s.notifier.Push(failureMessages[ActionRelease], domain.NotificationError)
		if err == nil {
			err = domain.ErrMutationRejected
		}
		return false, fmt.Errorf("release pet: %w", err)
	}

	s.store.RemovePet(id)
	s.notifier.Push(fmt.Sprintf(successMessages[ActionRelease], target.Name), domain.NotificationInfo)
	s.logger.Info("pet released", "pet_id", id)
	return true, nil
}
