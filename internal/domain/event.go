package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// EventType tags a remote event
type EventType string

const (
	EventStatsUpdate    EventType = "stats_update"
	EventPositionUpdate EventType = "position_update"
	EventPetCreated     EventType = "tamagotchi_created"
	EventPetRemoved     EventType = "tamagotchi_removed"
	EventMousePosition  EventType = "mouse_position"
)

// Event is the decoded form of every message the authority pushes, regardless of
// whether it arrived on the raw socket, the subscription or the event topic.
// Exactly one payload group is populated, selected by Type.
type Event struct {
	Type      EventType
	Stats     []PetPatch
	Positions []PositionUpdate
	Created   *Pet
	RemovedID string
	Cursor    *Cursor
}

// PetPatch carries the authority-owned fields of a stats update.
// Nil fields were absent on the wire and leave the stored value untouched.
type PetPatch struct {
	ID        string
	Name      *string
	OwnerID   *string
	Happiness *int
	Hunger    *int
	Energy    *int
	Health    *int
	Age       *int
	IsAlive   *bool
	Status    *string
	Emoji     *string
	Position  *Position
}

// Apply returns a copy of pet with the patch applied. Position is replaced only
// when the patch carries one.
func (p PetPatch) Apply(pet Pet) Pet {
	next := pet.Clone()
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.OwnerID != nil {
		next.OwnerID = *p.OwnerID
	}
	if p.Happiness != nil {
		next.Happiness = *p.Happiness
	}
	if p.Hunger != nil {
		next.Hunger = *p.Hunger
	}
	if p.Energy != nil {
		next.Energy = *p.Energy
	}
	if p.Health != nil {
		next.Health = *p.Health
	}
	if p.Age != nil {
		next.Age = *p.Age
	}
	if p.IsAlive != nil {
		next.IsAlive = *p.IsAlive
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Emoji != nil {
		next.Emoji = *p.Emoji
	}
	if p.Position != nil {
		next.Position = p.Position.Clone()
	}
	return next
}

// PositionUpdate moves a single pet. A nil Direction keeps the stored heading.
type PositionUpdate struct {
	ID        string
	X         float64
	Y         float64
	Direction *float64
}

type wireEnvelope struct {
	Type        string          `json:"type"`
	Tamagotchi  json.RawMessage `json:"tamagotchi"`
	Tamagotchis json.RawMessage `json:"tamagotchis"`
	Positions   json.RawMessage `json:"positions"`
	ID          json.RawMessage `json:"id"`
	Data        json.RawMessage `json:"data"`
}

// DecodeEvent parses a `{type, ...payload}` frame into an Event.
// Malformed list elements are dropped individually; only an unreadable envelope,
// a missing or unknown type, or a variant with nothing usable left is an error.
func DecodeEvent(data []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := Event{Type: EventType(env.Type)}
	switch ev.Type {
	case EventStatsUpdate:
		if p, ok := decodePatch(env.Tamagotchi); ok {
			ev.Stats = append(ev.Stats, p)
		}
		for _, raw := range decodeList(env.Tamagotchis) {
			if p, ok := decodePatch(raw); ok {
				ev.Stats = append(ev.Stats, p)
			}
		}
		if len(ev.Stats) == 0 {
			return Event{}, fmt.Errorf("%w: stats_update without pets", ErrMalformedEvent)
		}

	case EventPositionUpdate:
		for _, raw := range decodeList(env.Positions) {
			if u, ok := decodePositionUpdate(raw); ok {
				ev.Positions = append(ev.Positions, u)
			}
		}
		if len(ev.Positions) == 0 {
			return Event{}, fmt.Errorf("%w: position_update without positions", ErrMalformedEvent)
		}

	case EventPetCreated:
		p, ok := decodePatch(env.Tamagotchi)
		if !ok {
			return Event{}, fmt.Errorf("%w: tamagotchi_created without pet", ErrMalformedEvent)
		}
		pet := NewPetFromPatch(p)
		ev.Created = &pet

	case EventPetRemoved:
		var id string
		if len(env.ID) > 0 {
			_ = json.Unmarshal(env.ID, &id)
		}
		if id == "" {
			if p, ok := decodePatch(env.Tamagotchi); ok {
				id = p.ID
			}
		}
		if id == "" {
			return Event{}, fmt.Errorf("%w: tamagotchi_removed without id", ErrMalformedEvent)
		}
		ev.RemovedID = id

	case EventMousePosition:
		var c Cursor
		if len(env.Data) == 0 || json.Unmarshal(env.Data, &c) != nil || c.UserID == "" {
			return Event{}, fmt.Errorf("%w: mouse_position without sender", ErrMalformedEvent)
		}
		ev.Cursor = &c

	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}

	return ev, nil
}

// NewPetFromPatch builds a full pet from a creation payload. A missing alive
// flag defaults to true since the authority only announces living pets.
func NewPetFromPatch(p PetPatch) Pet {
	return p.Apply(Pet{ID: p.ID, IsAlive: true})
}

func decodeList(raw json.RawMessage) []json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// decodeFields splits a JSON object into its raw members so that each one can
// be decoded, and rejected, on its own.
func decodeFields(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// field decodes the first of keys that is present and well-typed. A member of
// the wrong type is treated as absent.
func field[T any](fields map[string]json.RawMessage, keys ...string) *T {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v
		}
	}
	return nil
}

// Both the subscription (camelCase) and raw socket (snake_case) spellings are accepted.
func decodePatch(raw json.RawMessage) (PetPatch, bool) {
	fields, ok := decodeFields(raw)
	if !ok {
		return PetPatch{}, false
	}
	id := field[string](fields, "id")
	if id == nil || *id == "" {
		return PetPatch{}, false
	}

	return PetPatch{
		ID:        *id,
		Name:      field[string](fields, "name"),
		OwnerID:   field[string](fields, "ownerId", "owner_id"),
		Happiness: toInt(field[float64](fields, "happiness")),
		Hunger:    toInt(field[float64](fields, "hunger")),
		Energy:    toInt(field[float64](fields, "energy")),
		Health:    toInt(field[float64](fields, "health")),
		Age:       toInt(field[float64](fields, "age")),
		IsAlive:   field[bool](fields, "isAlive", "is_alive"),
		Status:    field[string](fields, "status"),
		Emoji:     field[string](fields, "emoji"),
		Position:  decodePosition(fields["position"]),
	}, true
}

// decodePosition needs both coordinates; direction and speed are optional.
func decodePosition(raw json.RawMessage) *Position {
	fields, ok := decodeFields(raw)
	if !ok {
		return nil
	}
	x, y := field[float64](fields, "x"), field[float64](fields, "y")
	if x == nil || y == nil {
		return nil
	}
	pos := &Position{X: *x, Y: *y, Speed: field[float64](fields, "speed")}
	if dir := field[float64](fields, "direction"); dir != nil {
		pos.Direction = *dir
	}
	return pos
}

func decodePositionUpdate(raw json.RawMessage) (PositionUpdate, bool) {
	fields, ok := decodeFields(raw)
	if !ok {
		return PositionUpdate{}, false
	}
	id := field[string](fields, "id")
	x, y := field[float64](fields, "x"), field[float64](fields, "y")
	if id == nil || *id == "" || x == nil || y == nil {
		return PositionUpdate{}, false
	}
	return PositionUpdate{ID: *id, X: *x, Y: *y, Direction: field[float64](fields, "direction")}, true
}

func toInt(v *float64) *int {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}
