package domain

// Status labels reported by the authority
const (
	StatusHappy    = "Happy"
	StatusSad      = "Sad"
	StatusTired    = "Tired"
	StatusStarving = "Starving"
	StatusDead     = "Dead"
)

// Point is a bare canvas coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position is a pet's placement on the shared canvas. Direction is an angle in radians.
type Position struct {
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Direction float64  `json:"direction"`
	Speed     *float64 `json:"speed,omitempty"`
}

// Clone returns a deep copy of the position, or nil
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.Speed != nil {
		s := *p.Speed
		c.Speed = &s
	}
	return &c
}

// Point returns the position's coordinates
func (p *Position) Point() Point {
	return Point{X: p.X, Y: p.Y}
}

// Pet represents a virtual pet as known to the client
type Pet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Happiness int       `json:"happiness"`
	Hunger    int       `json:"hunger"`
	Energy    int       `json:"energy"`
	Health    int       `json:"health"`
	Age       int       `json:"age"`
	IsAlive   bool      `json:"isAlive"`
	Status    string    `json:"status"`
	Emoji     string    `json:"emoji,omitempty"`
	Position  *Position `json:"position,omitempty"`
}

// Clone returns a copy of the pet that shares no memory with the original
func (p Pet) Clone() Pet {
	p.Position = p.Position.Clone()
	return p
}

// PetLocation is the payload pushed upstream when persisting positions
type PetLocation struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// DisplayStatus maps the authority status to the label shown to players
func DisplayStatus(status string) string {
	if status == StatusDead {
		return "Knocked Out"
	}
	return status
}
