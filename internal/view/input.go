package view

import (
	"fmt"
	"log/slog"

	"github.com/petsync/internal/domain"
	"github.com/petsync/internal/motion"
	"github.com/petsync/internal/registry"
)

// Input is a message sent by a renderer
type Input struct {
	Type   string  `json:"type"`
	PetID  string  `json:"pet_id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius,omitempty"`

	// filter only
	Owners           []string `json:"owners,omitempty"`
	ShowDeadPets     bool     `json:"show_dead_pets,omitempty"`
	ShowMyKnockedOut bool     `json:"show_my_knocked_out,omitempty"`
}

// Filter returns the view filter carried by a filter message
func (in Input) Filter() registry.ViewFilter {
	return registry.ViewFilter{
		SelectedOwners:   in.Owners,
		ShowDeadPets:     in.ShowDeadPets,
		ShowMyKnockedOut: in.ShowMyKnockedOut,
	}
}

// InputHandler applies renderer input to the client core
type InputHandler interface {
	HandleInput(in Input) error
}

// PointerSender forwards the local pointer to the authority
type PointerSender interface {
	SendMousePosition(x, y float64) bool
}

// Controller routes renderer input to the motion model, the transport and
// the registry selection.
type Controller struct {
	motion  *motion.Model
	store   *registry.Store
	pointer PointerSender
	logger  *slog.Logger
}

// NewController creates an input controller; pointer may be nil
func NewController(m *motion.Model, store *registry.Store, pointer PointerSender, logger *slog.Logger) *Controller {
	return &Controller{motion: m, store: store, pointer: pointer, logger: logger}
}

// HandleInput dispatches one renderer message
func (c *Controller) HandleInput(in Input) error {
	point := domain.Point{X: in.X, Y: in.Y}

	switch in.Type {
	case InputTarget:
		if !c.motion.SetTarget(in.PetID, point) {
			return fmt.Errorf("%w: pet %q cannot move", domain.ErrInvalidRequest, in.PetID)
		}
	case InputDragStart:
		if _, ok := c.store.Pet(in.PetID); !ok {
			return domain.ErrPetNotFound
		}
		c.motion.BeginDrag(in.PetID)
	case InputDragMove:
		if c.motion.Dragging() != in.PetID {
			return fmt.Errorf("%w: pet %q is not being dragged", domain.ErrInvalidRequest, in.PetID)
		}
		c.motion.DragTo(in.PetID, point, in.Radius)
	case InputDragEnd:
		c.motion.EndDrag(in.PetID)
	case InputMouseMove:
		if c.pointer != nil {
			c.pointer.SendMousePosition(in.X, in.Y)
		}
	case InputSelect:
		c.store.Select(in.PetID)
	default:
		return fmt.Errorf("%w: unknown input %q", domain.ErrInvalidRequest, in.Type)
	}
	return nil
}
