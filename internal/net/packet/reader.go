package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

// ErrShort is reported by Reader.Err after a read ran past the end.
var ErrShort = errors.New("packet: short read")

// Reader reads little-endian fields. Reads past the end return zero values
// and latch ErrShort.
type Reader struct {
	data  []byte
	off   int
	short bool
}

// NewReader reads a client packet. Byte 0 is always the opcode.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, off: 1} // skip opcode byte
}

// NewBodyReader reads data from its first byte.
func NewBodyReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Opcode() byte {
	if len(r.data) == 0 {
		return 0
	}
	return r.data[0]
}

func (r *Reader) need(n int) bool {
	if r.off+n > len(r.data) {
		r.short = true
		r.off = len(r.data)
		return false
	}
	return true
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) ReadBool() bool { return r.ReadC() != 0 }

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadD reads 4 bytes as little-endian int32.
func (r *Reader) ReadD() int32 {
	return int32(r.ReadDU())
}

// ReadDU reads 4 bytes as little-endian uint32.
func (r *Reader) ReadDU() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadQ reads 8 bytes as little-endian uint64.
func (r *Reader) ReadQ() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadF() float32 {
	return math.Float32frombits(r.ReadDU())
}

// ReadS reads a null-terminated string in the configured client charset.
func (r *Reader) ReadS() string {
	start := r.off
	for r.off < len(r.data) {
		if r.data[r.off] == 0 {
			raw := r.data[start:r.off]
			r.off++ // skip null terminator
			return decodeText(raw)
		}
		r.off++
	}
	r.short = true
	return decodeText(r.data[start:r.off])
}

// ReadU reads a null-terminated UTF-8 string written by WriteU.
func (r *Reader) ReadU() string {
	rest := r.data[r.off:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		r.off = len(r.data)
		r.short = true
		return string(rest)
	}
	r.off += i + 1
	return string(rest[:i])
}

// ReadBlob reads a 2-byte length followed by that many bytes.
func (r *Reader) ReadBlob() []byte {
	return r.ReadBytes(int(r.ReadH()))
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

func (r *Reader) ReadPackXZ() (x, z float32) {
	var p [3]byte
	p[0], p[1], p[2] = r.ReadC(), r.ReadC(), r.ReadC()
	return UnpackXZ(p)
}

func (r *Reader) ReadPackY() float32 { return UnpackY(r.ReadH()) }

func (r *Reader) ReadAngle() float32 { return Int8ToAngle(int8(r.ReadC())) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err returns ErrShort if any read ran past the end.
func (r *Reader) Err() error {
	if r.short {
		return ErrShort
	}
	return nil
}
