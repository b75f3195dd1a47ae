package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a payload. All multi-byte writes are little-endian.
type Writer struct {
	buf  []byte
	mark []int // offsets of open message length fields
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func NewWriterWithOpcode(opcode byte) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteBool writes 1 byte, 0 or 1.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteC(1)
		return
	}
	w.WriteC(0)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteD writes 4 bytes little-endian (signed or unsigned via cast).
func (w *Writer) WriteD(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteDU writes 4 bytes little-endian unsigned.
func (w *Writer) WriteDU(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteQ writes 8 bytes little-endian unsigned.
func (w *Writer) WriteQ(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteF writes an IEEE-754 float32.
func (w *Writer) WriteF(v float32) {
	w.WriteDU(math.Float32bits(v))
}

// WriteS writes a null-terminated string in the configured client charset.
func (w *Writer) WriteS(s string) {
	w.buf = append(w.buf, encodeText(s)...)
	w.buf = append(w.buf, 0)
}

// WriteU writes a null-terminated UTF-8 string regardless of the client
// charset. Cell-to-cell data uses it.
func (w *Writer) WriteU(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteBlob writes a 2-byte length followed by the bytes.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteH(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WritePackXZ writes x and z in 3 bytes. Usable range is about ±510.
func (w *Writer) WritePackXZ(x, z float32) {
	p := PackXZ(x, z)
	w.buf = append(w.buf, p[:]...)
}

// WritePackY writes y in 2 bytes.
func (w *Writer) WritePackY(y float32) {
	w.WriteH(PackY(y))
}

// WriteAngle writes a radian angle as one signed byte.
func (w *Writer) WriteAngle(v float32) {
	w.WriteC(byte(AngleToInt8(v)))
}

// BeginMessage opens a [opcode][2-byte length][body] message. Close it with
// EndMessage once the body is written.
func (w *Writer) BeginMessage(opcode byte) {
	w.WriteC(opcode)
	w.mark = append(w.mark, len(w.buf))
	w.WriteH(0)
}

// EndMessage patches the length of the innermost open message.
func (w *Writer) EndMessage() {
	n := len(w.mark)
	if n == 0 {
		return
	}
	at := w.mark[n-1]
	w.mark = w.mark[:n-1]
	binary.LittleEndian.PutUint16(w.buf[at:], uint16(len(w.buf)-at-2))
}

// Bytes returns the content written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset empties the writer, keeping its buffer.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.mark = w.mark[:0]
}
