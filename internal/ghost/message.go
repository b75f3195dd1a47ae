package ghost

import (
	"errors"
	"fmt"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
)

// Kinds of cell-to-cell messages. Every message is addressed to one entity.
// U marks a UTF-8 string (Writer.WriteU), independent of the client charset.
const (
	MsgCreateGhost   uint8 = 1 // entity stream
	MsgGhostUpdate   uint8 = 2 // [x y z yaw pitch roll F][onGround C]
	MsgDestroyGhost  uint8 = 3
	MsgRealMoved     uint8 = 4 // [cell Q] new owner of the real
	MsgHandoff       uint8 = 5 // [n H]{[ghost holder Q]} then entity stream
	MsgCallClients   uint8 = 6 // [method U][args blob][otherClientsOnly C]
	MsgSetProperty   uint8 = 7 // [name U][value U], addressed to the real
	MsgGhostProperty uint8 = 8 // [name U][value U], mirrored to a ghost
)

var ErrShortBatch = errors.New("ghost batch truncated")

// Message is one entry of a batch.
type Message struct {
	Entity  ecs.EntityID
	Kind    uint8
	Payload []byte
}

func kindName(k uint8) string {
	switch k {
	case MsgCreateGhost:
		return "create_ghost"
	case MsgGhostUpdate:
		return "ghost_update"
	case MsgDestroyGhost:
		return "destroy_ghost"
	case MsgRealMoved:
		return "real_moved"
	case MsgHandoff:
		return "handoff"
	case MsgCallClients:
		return "call_clients"
	case MsgSetProperty:
		return "set_property"
	case MsgGhostProperty:
		return "ghost_property"
	}
	return fmt.Sprintf("kind_%d", k)
}

// maxBatch bounds the message count of one encoded batch.
const maxBatch = 4096

// maxOutbox bounds what one unreachable destination may hold back.
const maxOutbox = 1 << 16

// EncodeBatch writes [count H] then per message
// [entity D][kind C][len DU][payload].
func EncodeBatch(msgs []Message) []byte {
	w := packet.NewWriter()
	w.WriteH(uint16(len(msgs)))
	for _, m := range msgs {
		w.WriteD(int32(m.Entity))
		w.WriteC(m.Kind)
		w.WriteDU(uint32(len(m.Payload)))
		w.WriteBytes(m.Payload)
	}
	return w.Bytes()
}

// DecodeBatch is the inverse of EncodeBatch. Payloads are copies.
func DecodeBatch(data []byte) ([]Message, error) {
	r := packet.NewBodyReader(data)
	n := int(r.ReadH())
	if r.Err() != nil {
		return nil, fmt.Errorf("batch header: %w", ErrShortBatch)
	}
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		m := Message{Entity: ecs.EntityID(r.ReadD()), Kind: r.ReadC()}
		size := int(r.ReadDU())
		if r.Err() != nil || size > r.Remaining() {
			return out, fmt.Errorf("batch message %d/%d: %w", i, n, ErrShortBatch)
		}
		m.Payload = r.ReadBytes(size)
		out = append(out, m)
	}
	return out, nil
}

func ghostUpdatePayload(x, y, z, yaw, pitch, roll float32, onGround bool) []byte {
	w := packet.NewWriter()
	for _, f := range []float32{x, y, z, yaw, pitch, roll} {
		w.WriteF(f)
	}
	w.WriteBool(onGround)
	return w.Bytes()
}
