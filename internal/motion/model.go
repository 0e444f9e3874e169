// Package motion moves pets' rendered positions toward their targets.
//
// Targets use eased arrival: the duration grows with distance inside fixed
// bounds and progress is shaped by a half-cosine ease-in-out. A pet without a
// target is never moved, except by drag repulsion.
package motion

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/petsync/internal/config"
	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

type record struct {
	start     domain.Point
	target    domain.Point
	startedAt time.Time
	duration  time.Duration
}

// Model owns motion records and writes working positions into the store
type Model struct {
	store  *registry.Store
	cfg    config.MotionConfig
	logger *slog.Logger

	now    func() time.Time
	random func() float64

	mu       sync.Mutex
	records  map[string]record
	dragging string
	onChange []func()

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option customizes a Model
type Option func(*Model)

// WithClock replaces the time source used by SetTarget and Run
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithRandom replaces the [0,1) source used for initial placement
func WithRandom(random func() float64) Option {
	return func(m *Model) { m.random = random }
}

// NewModel creates a motion model over store
func NewModel(store *registry.Store, cfg config.MotionConfig, logger *slog.Logger, opts ...Option) *Model {
	m := &Model{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		random:  rand.Float64,
		records: make(map[string]record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers a hook fired after any working position changes
func (m *Model) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Duration is the travel time for a move of dist pixels
func (m *Model) Duration(dist float64) time.Duration {
	d := time.Duration(dist * float64(m.cfg.PerPixel))
	if d < m.cfg.MinDuration {
		return m.cfg.MinDuration
	}
	if d > m.cfg.MaxDuration {
		return m.cfg.MaxDuration
	}
	return d
}

// Ease is the half-cosine ease-in-out curve
func Ease(p float64) float64 {
	return 0.5 * (1 - math.Cos(math.Pi*p))
}

// SetTarget starts moving an alive pet toward dest, replacing any earlier target.
// It reports false when the pet is unknown or knocked out.
func (m *Model) SetTarget(id string, dest domain.Point) bool {
	pet, ok := m.store.Pet(id)
	if !ok || !pet.IsAlive {
		return false
	}
	start, _ := m.store.WorkingPosition(id)
	dist := math.Hypot(dest.X-start.X, dest.Y-start.Y)

	m.mu.Lock()
	m.records[id] = record{
		start:     start,
		target:    dest,
		startedAt: m.now(),
		duration:  m.Duration(dist),
	}
	m.mu.Unlock()
	return true
}

// Cancel drops the pet's in-flight target, leaving it where it is
func (m *Model) Cancel(id string) {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
}

// HasTarget reports whether the pet is currently moving
func (m *Model) HasTarget(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	return ok
}

// Step advances every motion record to now and places pets that have no
// working position yet. Records of dead or removed pets are discarded.
func (m *Model) Step(now time.Time) {
	m.mu.Lock()
	next := make(map[string]domain.Point, len(m.records))
	for id, rec := range m.records {
		pet, ok := m.store.Pet(id)
		if !ok || !pet.IsAlive {
			delete(m.records, id)
			continue
		}

		p := 1.0
		if rec.duration > 0 {
			p = float64(now.Sub(rec.startedAt)) / float64(rec.duration)
		}
		if p >= 1 {
			next[id] = rec.target
			delete(m.records, id)
			continue
		}
		if p < 0 {
			p = 0
		}
		e := Ease(p)
		next[id] = domain.Point{
			X: rec.start.X + (rec.target.X-rec.start.X)*e,
			Y: rec.start.Y + (rec.target.Y-rec.start.Y)*e,
		}
	}
	// Written under m.mu so a drag that cancels a record cannot be
	// overwritten by this frame's interpolation.
	changed := 0
	if len(next) > 0 {
		changed = m.store.SetWorkingPositions(next)
	}
	m.mu.Unlock()

	changed += m.placeMissing()
	if changed > 0 {
		m.changed()
	}
}

// PlaceMissing gives every pet without a working position one: its authority
// position when known, otherwise a random point on the canvas.
func (m *Model) PlaceMissing() int {
	n := m.placeMissing()
	if n > 0 {
		m.changed()
	}
	return n
}

func (m *Model) placeMissing() int {
	working := m.store.WorkingPositions()
	placed := make(map[string]domain.Point)
	for _, pet := range m.store.Pets() {
		if _, ok := working[pet.ID]; ok {
			continue
		}
		if pet.Position != nil {
			placed[pet.ID] = pet.Position.Point()
			continue
		}
		placed[pet.ID] = domain.Point{
			X: m.random() * m.cfg.CanvasWidth,
			Y: m.random() * m.cfg.CanvasHeight,
		}
	}
	if len(placed) == 0 {
		return 0
	}
	return m.store.SetWorkingPositions(placed)
}

// BeginDrag cancels the pet's automated target and selects it
func (m *Model) BeginDrag(id string) {
	m.mu.Lock()
	delete(m.records, id)
	m.dragging = id
	m.mu.Unlock()
	if _, ok := m.store.Pet(id); ok {
		m.store.Select(id)
	}
}

// DragTo moves the dragged pet to p and pushes overlapping alive pets away
// along the line between them by half the overlap. A radius <= 0 uses the
// configured collision radius.
func (m *Model) DragTo(id string, p domain.Point, radius float64) {
	if radius <= 0 {
		radius = m.cfg.CollisionRadius
	}
	minDist := radius * 2

	working := m.store.WorkingPositions()
	next := map[string]domain.Point{id: p}
	for _, pet := range m.store.Pets() {
		if !pet.IsAlive || pet.ID == id {
			continue
		}
		op, ok := working[pet.ID]
		if !ok {
			continue
		}
		dx, dy := op.X-p.X, op.Y-p.Y
		dist := math.Hypot(dx, dy)
		if dist <= 0 || dist >= minDist {
			continue
		}
		push := (minDist - dist) * 0.5
		next[pet.ID] = domain.Point{X: op.X + dx/dist*push, Y: op.Y + dy/dist*push}
	}

	if m.store.SetWorkingPositions(next) > 0 {
		m.changed()
	}
}

// EndDrag finishes a drag. Repulsion offsets stay where they landed.
func (m *Model) EndDrag(id string) {
	m.mu.Lock()
	if m.dragging == id {
		m.dragging = ""
	}
	m.mu.Unlock()
}

// Dragging returns the id of the pet being dragged, if any
func (m *Model) Dragging() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dragging
}

// Run starts the frame loop. Calling Run twice is a no-op.
func (m *Model) Run(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	rate := m.cfg.FrameRate
	if rate <= 0 {
		rate = 60
	}
	m.logger.Info("motion loop started", "frame_rate", rate)
	go m.loop(ctx, time.Second/time.Duration(rate), m.stopCh, m.doneCh)
}

// Stop cancels the frame loop; in-flight moves are abandoned where they are
func (m *Model) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.running = false
	m.logger.Info("motion loop stopped")
}

func (m *Model) loop(ctx context.Context, frame time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Step(m.now())
		}
	}
}

func (m *Model) changed() {
	m.mu.Lock()
	hooks := append([]func(){}, m.onChange...)
	m.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
