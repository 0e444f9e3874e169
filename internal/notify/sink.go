// Package notify holds transient user-facing notices. Every notice removes
// itself after a fixed lifetime; nothing is persisted.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petsync/internal/domain"
)

// Sink is a self-expiring queue of notifications
type Sink struct {
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	items       []domain.Notification
	timers      map[string]*time.Timer
	subscribers map[chan domain.Notification]struct{}
	closed      bool
}

// NewSink creates a sink whose notifications expire after ttl
func NewSink(ttl time.Duration, logger *slog.Logger) *Sink {
	return &Sink{
		ttl:         ttl,
		logger:      logger,
		timers:      make(map[string]*time.Timer),
		subscribers: make(map[chan domain.Notification]struct{}),
	}
}

// Push records a notification and schedules its removal
func (s *Sink) Push(message string, typ domain.NotificationType) domain.Notification {
	if typ == "" {
		typ = domain.NotificationInfo
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		Message:   message,
		Type:      typ,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return n
	}

	s.items = append(s.items, n)
	s.timers[n.ID] = time.AfterFunc(s.ttl, func() { s.expire(n.ID) })

	for ch := range s.subscribers {
		select {
		case ch <- n:
		default:
			s.logger.Debug("notification subscriber full, skipping", "notification_id", n.ID)
		}
	}

	s.logger.Debug("notification pushed", "type", typ, "message", message)
	return n
}

// Notify pushes a batch of notices produced by the registry
func (s *Sink) Notify(notices []domain.Notice) {
	for _, n := range notices {
		s.Push(n.Message, n.Type)
	}
}

// List returns the live notifications, oldest first
func (s *Sink) List() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// Dismiss removes a notification before its lifetime ends
func (s *Sink) Dismiss(id string) {
	s.expire(id)
}

// Subscribe returns a channel receiving every future notification.
// The returned func unsubscribes and closes the channel.
func (s *Sink) Subscribe(buffer int) (<-chan domain.Notification, func()) {
	ch := make(chan domain.Notification, buffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// Close stops all pending expiry timers and drops every notification
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.items = nil
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Sink) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	for i, n := range s.items {
		if n.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}
