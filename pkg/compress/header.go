package compress

import (
	"encoding/binary"
	"fmt"

	"github.com/EchoTools/bintext/pkg/format"
)

// Yaz0Magic identifies a Yaz0 stream.
var Yaz0Magic = [4]byte{'Y', 'a', 'z', '0'}

// Yaz0HeaderSize is the fixed binary size of a Yaz0 header.
const Yaz0HeaderSize = 16 // 4 + 4 + 4 + 4 bytes

// Yaz0Header is the big-endian header in front of every Yaz0 stream.
type Yaz0Header struct {
	Magic     [4]byte
	Size      uint32 // Uncompressed size
	Alignment uint32 // Required data alignment, 0 on most files
	Reserved  uint32
}

// Validate checks the header for validity.
func (h *Yaz0Header) Validate() error {
	if h.Magic != Yaz0Magic {
		return fmt.Errorf("%w: invalid magic: expected %x, got %x", format.ErrCorruptContainer, Yaz0Magic, h.Magic)
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Yaz0Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Yaz0HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least Yaz0HeaderSize bytes.
func (h *Yaz0Header) EncodeTo(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Size)
	binary.BigEndian.PutUint32(buf[8:12], h.Alignment)
	binary.BigEndian.PutUint32(buf[12:16], h.Reserved)
}

// UnmarshalBinary decodes and validates the header.
func (h *Yaz0Header) UnmarshalBinary(data []byte) error {
	if len(data) < Yaz0HeaderSize {
		return fmt.Errorf("%w: header too short: need %d, got %d", format.ErrCorruptContainer, Yaz0HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer without validating it.
func (h *Yaz0Header) DecodeFrom(data []byte) {
	copy(h.Magic[:], data[0:4])
	h.Size = binary.BigEndian.Uint32(data[4:8])
	h.Alignment = binary.BigEndian.Uint32(data[8:12])
	h.Reserved = binary.BigEndian.Uint32(data[12:16])
}

// NewYaz0Header creates a header for a stream of the given uncompressed size.
func NewYaz0Header(size, alignment uint32) *Yaz0Header {
	return &Yaz0Header{
		Magic:     Yaz0Magic,
		Size:      size,
		Alignment: alignment,
	}
}
