package viewer

import (
	"github.com/l1jgo/cellapp/internal/world"
)

// Snapshot is a read-only copy of the cell taken on the tick goroutine.
type Snapshot struct {
	Cell   uint64          `json:"cell"`
	Tick   uint64          `json:"tick"`
	Spaces []SpaceSnapshot `json:"spaces"`
}

type SpaceSnapshot struct {
	ID       uint32           `json:"id"`
	Entities []EntitySnapshot `json:"entities"`
}

type EntitySnapshot struct {
	ID        int32   `json:"id"`
	Type      string  `json:"type"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	Z         float32 `json:"z"`
	Yaw       float32 `json:"yaw"`
	Real      bool    `json:"real"`
	Witnessed int     `json:"witnessed"`
	Viewing   int     `json:"viewing,omitempty"`
	Radius    float32 `json:"radius,omitempty"`
}

// Capture copies every space of c. Tick goroutine only.
func Capture(c *world.Cell) *Snapshot {
	s := &Snapshot{Cell: uint64(c.ID()), Tick: c.Tick()}
	for _, sid := range c.SpaceIDs() {
		sp := c.Space(sid)
		ss := SpaceSnapshot{ID: sid, Entities: make([]EntitySnapshot, 0, sp.EntityCount())}
		for _, id := range sp.EntityIDs() {
			e := sp.Entity(id)
			p := e.Position()
			es := EntitySnapshot{
				ID:        int32(id),
				Type:      e.Type().Name,
				X:         p.X,
				Y:         p.Y,
				Z:         p.Z,
				Yaw:       e.Direction().Yaw,
				Real:      e.IsReal(),
				Witnessed: len(e.WitnessedBy()),
			}
			if w := e.Witness(); w != nil {
				es.Viewing = w.ClientViewSize()
				es.Radius = w.ViewRadius()
			}
			ss.Entities = append(ss.Entities, es)
		}
		s.Spaces = append(s.Spaces, ss)
	}
	return s
}

func (s *Snapshot) Space(id uint32) *SpaceSnapshot {
	for i := range s.Spaces {
		if s.Spaces[i].ID == id {
			return &s.Spaces[i]
		}
	}
	return nil
}

func (s *Snapshot) Entity(id int32) (*EntitySnapshot, uint32) {
	for i := range s.Spaces {
		for j := range s.Spaces[i].Entities {
			if s.Spaces[i].Entities[j].ID == id {
				return &s.Spaces[i].Entities[j], s.Spaces[i].ID
			}
		}
	}
	return nil, 0
}
