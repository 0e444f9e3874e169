// Package view pushes derived scene frames to local renderers over a
// websocket and routes their pointer input back into the client core.
package view

import (
	"sort"
	"time"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/registry"
)

// Message types
const (
	MessageTypeFrame = "frame"
	MessageTypeError = "error"
	MessageTypePong  = "pong"

	InputTarget    = "target"
	InputDragStart = "drag_start"
	InputDragMove  = "drag_move"
	InputDragEnd   = "drag_end"
	InputMouseMove = "mouse_move"
	InputSelect    = "select"
	InputFilter    = "filter"
	InputPing      = "ping"
)

// PetView is one pet as a renderer should draw it
type PetView struct {
	domain.Pet
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Placed        bool    `json:"placed"`
	DisplayStatus string  `json:"displayStatus"`
	OwnerName     string  `json:"ownerName"`
	Mine          bool    `json:"mine"`
}

// Frame is the full scene pushed to renderers on every broadcast tick
type Frame struct {
	Type          string                `json:"type"`
	Pets          []PetView             `json:"pets"`
	OnlineUsers   []domain.User         `json:"onlineUsers"`
	Cursors       []domain.Cursor       `json:"cursors"`
	Notifications []domain.Notification `json:"notifications"`
	Selected      *domain.Pet           `json:"selected,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

// NoticeLister exposes the live notifications
type NoticeLister interface {
	List() []domain.Notification
}

// Builder derives frames from the registry
type Builder struct {
	store   *registry.Store
	notices NoticeLister
}

// NewBuilder creates a frame builder; notices may be nil
func NewBuilder(store *registry.Store, notices NoticeLister) *Builder {
	return &Builder{store: store, notices: notices}
}

// Build assembles the frame for one renderer's filter
func (b *Builder) Build(filter registry.ViewFilter) Frame {
	viewer := b.store.Viewer()
	working := b.store.WorkingPositions()
	pets := b.store.VisiblePets(filter)
	sort.Slice(pets, func(i, j int) bool { return pets[i].ID < pets[j].ID })

	views := make([]PetView, 0, len(pets))
	for _, p := range pets {
		v := PetView{
			Pet:           p,
			DisplayStatus: domain.DisplayStatus(p.Status),
			OwnerName:     b.store.OwnerName(p.OwnerID),
			Mine:          viewer != "" && p.OwnerID == viewer,
		}
		if pt, ok := working[p.ID]; ok {
			v.X, v.Y, v.Placed = pt.X, pt.Y, true
		}
		views = append(views, v)
	}

	f := Frame{
		Type:        MessageTypeFrame,
		Pets:        views,
		OnlineUsers: b.store.OnlineUsers(),
		Cursors:     b.store.Cursors(),
		Timestamp:   time.Now(),
	}
	if b.notices != nil {
		f.Notifications = b.notices.List()
	}
	if sel, ok := b.store.Selected(); ok {
		f.Selected = &sel
	}
	return f
}
