package interconnect

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
)

const envelopeVersion = 1

var ErrBadEnvelope = errors.New("bad envelope")

// Envelope wraps one ghost batch on the wire:
// [version C][id 16][from Q][to Q][batch ...].
type Envelope struct {
	ID    uuid.UUID
	From  ecs.ComponentID
	To    ecs.ComponentID
	Batch []byte
}

func (e Envelope) Encode() []byte {
	w := packet.NewWriter()
	w.WriteC(envelopeVersion)
	w.WriteBytes(e.ID[:])
	w.WriteQ(uint64(e.From))
	w.WriteQ(uint64(e.To))
	w.WriteBytes(e.Batch)
	return w.Bytes()
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	r := packet.NewBodyReader(data)
	if v := r.ReadC(); v != envelopeVersion {
		return Envelope{}, fmt.Errorf("%w: version %d", ErrBadEnvelope, v)
	}
	var env Envelope
	copy(env.ID[:], r.ReadBytes(16))
	env.From = ecs.ComponentID(r.ReadQ())
	env.To = ecs.ComponentID(r.ReadQ())
	if r.Err() != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, r.Err())
	}
	env.Batch = r.ReadBytes(r.Remaining())
	return env, nil
}

// Topic is the inbound topic of one cell.
func Topic(prefix string, cell ecs.ComponentID) string {
	return fmt.Sprintf("%s.cell.%d", prefix, cell)
}

// seenSet remembers the last n batch ids. Kafka delivers at least once.
type seenSet struct {
	ids  map[uuid.UUID]struct{}
	ring []uuid.UUID
	next int
}

func newSeenSet(n int) *seenSet {
	return &seenSet{ids: make(map[uuid.UUID]struct{}, n), ring: make([]uuid.UUID, n)}
}

// add reports whether id is new.
func (s *seenSet) add(id uuid.UUID) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != uuid.Nil {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
