package image

import "encoding/binary"

// Writer accumulates a fixed-width little-endian byte buffer. Counterpart to
// Reader, used by CreateSnapshot to serialize a running heap back into
// image form.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// RawBytes appends b verbatim.
func (w *Writer) RawBytes(b []byte) { w.buf = append(w.buf, b...) }

// PutU16At overwrites two bytes at a previously reserved offset, used to
// backpatch the header's CRC and section-offset fields once the full image
// body is known.
func (w *Writer) PutU16At(offset int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[offset:], v)
}

// Pad appends n zero bytes.
func (w *Writer) Pad(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}
