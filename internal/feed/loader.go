// Package feed brings authority state into the registry: one bulk load plus
// any number of push sources, all merged through the same reducer.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

// Snapshotter provides the two bulk fetches a full reload needs
type Snapshotter interface {
	AllPets(ctx context.Context) ([]domain.Pet, error)
	AllUsers(ctx context.Context) ([]domain.User, error)
}

// Source is a push stream of remote events. Run blocks until ctx is done.
type Source interface {
	Run(ctx context.Context, handle func(domain.Event)) error
}

// Loader performs full reloads into the store
type Loader struct {
	snapshots Snapshotter
	store     *registry.Store
	logger    *slog.Logger
	afterLoad []func()
}

// NewLoader creates a loader backed by the given snapshot provider
func NewLoader(snapshots Snapshotter, store *registry.Store, logger *slog.Logger) *Loader {
	return &Loader{snapshots: snapshots, store: store, logger: logger}
}

// AfterLoad registers a hook run after every successful install
func (l *Loader) AfterLoad(fn func()) {
	l.afterLoad = append(l.afterLoad, fn)
}

// LoadAll fetches pets and users independently and installs whatever arrived.
// A failed fetch leaves its half of the registry untouched.
func (l *Loader) LoadAll(ctx context.Context) error {
	var (
		pets             []domain.Pet
		users            []domain.User
		petErr, usersErr error
		g                errgroup.Group
	)
	g.Go(func() error {
		pets, petErr = l.snapshots.AllPets(ctx)
		return nil
	})
	g.Go(func() error {
		users, usersErr = l.snapshots.AllUsers(ctx)
		return nil
	})
	_ = g.Wait()

	if petErr != nil {
		pets = nil
		l.logger.Warn("failed to load pets", "error", petErr)
	}
	if usersErr != nil {
		users = nil
		l.logger.Warn("failed to load users", "error", usersErr)
	}
	if petErr != nil && usersErr != nil {
		return fmt.Errorf("loading snapshot: %w", errors.Join(petErr, usersErr))
	}

	l.store.LoadAll(pets, users)
	for _, fn := range l.afterLoad {
		fn()
	}
	l.logger.Info("snapshot loaded", "pets", len(pets), "users", len(users))

	if err := errors.Join(petErr, usersErr); err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	return nil
}

// Apply returns an event handler that merges into store and logs each event
func Apply(store *registry.Store, logger *slog.Logger) func(domain.Event) {
	return func(ev domain.Event) {
		out := store.Apply(ev)
		logger.Debug("remote event applied", "type", ev.Type, "changed", out.Changed, "notices", len(out.Notices))
	}
}

// RunSources runs every source until ctx is done. A source that fails is
// logged and does not stop the others.
func RunSources(ctx context.Context, handle func(domain.Event), logger *slog.Logger, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			if err := src.Run(ctx, handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed source stopped", "source", fmt.Sprintf("%T", src), "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
