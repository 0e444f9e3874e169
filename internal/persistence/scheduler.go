// Package persistence pushes working positions back to the authority on a
// debounce timer and a fixed interval, and once more at teardown.
package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

// LocationWriter stores one pet's position upstream
type LocationWriter interface {
	UpdatePetLocation(ctx context.Context, id string, x, y float64) (domain.PetLocation, error)
}

// FlushRequester asks the authority to persist its own state immediately
type FlushRequester interface {
	RequestFlush() bool
}

// Scheduler runs the save routine from its two timers. Saves never overlap;
// a failed push is logged and left for the next save.
type Scheduler struct {
	store   *registry.Store
	writer  LocationWriter
	flusher FlushRequester
	config  config.PersistenceConfig
	logger  *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	debounce *time.Timer
	running  bool
	stopped  bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	saveMu   sync.Mutex
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler; flusher may be nil
func NewScheduler(
	store *registry.Store,
	writer LocationWriter,
	flusher FlushRequester,
	cfg config.PersistenceConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:   store,
		writer:  writer,
		flusher: flusher,
		config:  cfg,
		logger:  logger,
		ctx:     context.Background(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the interval saves
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("persistence scheduler started",
		"interval", s.config.Interval,
		"debounce", s.config.Debounce,
	)

	go s.run(ctx)
	return nil
}

// Touch records a position change and restarts the debounce timer
func (s *Scheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	ctx := s.ctx
	s.debounce = time.AfterFunc(s.config.Debounce, func() {
		s.SaveAll(ctx)
	})
}

// SaveAll pushes every alive pet's working position, one request at a time.
// It returns how many pushes succeeded.
func (s *Scheduler) SaveAll(ctx context.Context) int {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	locations := s.store.LiveLocations()
	if len(locations) == 0 {
		return 0
	}

	startTime := time.Now()
	saved, failed := 0, 0
	for _, loc := range locations {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.writer.UpdatePetLocation(ctx, loc.ID, loc.X, loc.Y); err != nil {
			s.logger.Warn("failed to save pet location", "pet_id", loc.ID, "error", err)
			failed++
			continue
		}
		saved++
	}

	s.logger.Debug("locations saved",
		"duration", time.Since(startTime),
		"saved", saved,
		"errors", failed,
	)
	return saved
}

// Flush starts a save without waiting for it and asks the authority to flush
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if !s.stopped {
		ctx := s.ctx
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.SaveAll(context.WithoutCancel(ctx))
		}()
	}
	s.mu.Unlock()

	if s.flusher != nil {
		s.flusher.RequestFlush()
	}
}

// Stop cancels both timers and performs one last save
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	running := s.running
	ctx := s.ctx
	s.mu.Unlock()

	if running {
		close(s.stopCh)
		<-s.doneCh
	}

	s.SaveAll(context.WithoutCancel(ctx))
	s.inflight.Wait()
	s.logger.Info("persistence scheduler stopped")
	return nil
}

// run is the interval loop
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SaveAll(ctx)
		}
	}
}
