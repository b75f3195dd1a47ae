package packet

import (
	"encoding/binary"
	"fmt"
)

// Message is one [opcode][len][body] unit of a client frame.
type Message struct {
	Opcode byte
	Body   []byte
}

// SplitMessages cuts a client frame into its messages. Bodies alias frame.
func SplitMessages(frame []byte) ([]Message, error) {
	var out []Message
	for off := 0; off < len(frame); {
		if len(frame)-off < 3 {
			return out, fmt.Errorf("message header at %d: %w", off, ErrShort)
		}
		op := frame[off]
		n := int(binary.LittleEndian.Uint16(frame[off+1:]))
		off += 3
		if len(frame)-off < n {
			return out, fmt.Errorf("message 0x%02X body (%d bytes): %w", op, n, ErrShort)
		}
		out = append(out, Message{Opcode: op, Body: frame[off : off+n]})
		off += n
	}
	return out, nil
}
