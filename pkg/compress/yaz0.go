package compress

import (
	"fmt"
	"math"

	"github.com/EchoTools/bintext/pkg/format"
)

const (
	yaz0Window    = 0x1000
	yaz0MinMatch  = 3
	yaz0MaxMatch  = 0xFF + 0x12
	yaz0MaxChain  = 128
	yaz0LongMatch = 0x12
)

// DecompressYaz0 decodes a complete Yaz0 stream including its header.
func DecompressYaz0(data []byte) ([]byte, error) {
	h := &Yaz0Header{}
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return decodeYaz0(data[Yaz0HeaderSize:], int(h.Size))
}

func decodeYaz0(src []byte, size int) ([]byte, error) {
	// Every chunk costs at least one source byte and yields at most
	// yaz0MaxMatch output bytes.
	if uint64(size) > uint64(len(src))*yaz0MaxMatch {
		return nil, fmt.Errorf("%w: declared size %d exceeds what %d stream bytes can hold", format.ErrCorruptContainer, size, len(src))
	}
	dst := make([]byte, size)
	in, out := 0, 0
	var code byte
	bits := 0

	for out < size {
		if bits == 0 {
			if in >= len(src) {
				return nil, truncatedYaz0(out, size)
			}
			code = src[in]
			in++
			bits = 8
		}

		if code&0x80 != 0 {
			if in >= len(src) {
				return nil, truncatedYaz0(out, size)
			}
			dst[out] = src[in]
			in++
			out++
		} else {
			if in+2 > len(src) {
				return nil, truncatedYaz0(out, size)
			}
			b1, b2 := src[in], src[in+1]
			in += 2

			dist := (int(b1&0x0F)<<8 | int(b2)) + 1
			n := int(b1 >> 4)
			if n == 0 {
				if in >= len(src) {
					return nil, truncatedYaz0(out, size)
				}
				n = int(src[in]) + yaz0LongMatch
				in++
			} else {
				n += 2
			}

			if dist > out {
				return nil, fmt.Errorf("%w: back-reference %d before start at %d", format.ErrCorruptContainer, dist, out)
			}
			if out+n > size {
				return nil, fmt.Errorf("%w: run of %d overflows declared size %d", format.ErrCorruptContainer, n, size)
			}
			// Runs may overlap their own output.
			for i := 0; i < n; i++ {
				dst[out] = dst[out-dist]
				out++
			}
		}

		code <<= 1
		bits--
	}

	return dst, nil
}

func truncatedYaz0(out, size int) error {
	return fmt.Errorf("%w: stream truncated after %d of %d bytes", format.ErrCorruptContainer, out, size)
}

// CompressYaz0 encodes data as a Yaz0 stream with the given header alignment.
func CompressYaz0(data []byte, alignment uint32) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("data too large for yaz0: %d bytes", len(data))
	}

	out := make([]byte, Yaz0HeaderSize, Yaz0HeaderSize+len(data)+len(data)/8+1)
	NewYaz0Header(uint32(len(data)), alignment).EncodeTo(out)

	m := newMatcher(data)
	pos := 0
	for pos < len(data) {
		codePos := len(out)
		out = append(out, 0)

		for bit := 0; bit < 8 && pos < len(data); bit++ {
			length, dist := m.find(pos)
			if length < yaz0MinMatch {
				out[codePos] |= 0x80 >> bit
				out = append(out, data[pos])
				m.insert(pos)
				pos++
				continue
			}

			d := dist - 1
			if length >= yaz0LongMatch {
				out = append(out, byte(d>>8), byte(d), byte(length-yaz0LongMatch))
			} else {
				out = append(out, byte((length-2)<<4|d>>8), byte(d))
			}
			for i := 0; i < length; i++ {
				m.insert(pos + i)
			}
			pos += length
		}
	}

	return out, nil
}

// matcher finds back-references with hash chains over 3-byte prefixes.
type matcher struct {
	data []byte
	head map[uint32]int
	prev []int
}

func newMatcher(data []byte) *matcher {
	return &matcher{
		data: data,
		head: make(map[uint32]int),
		prev: make([]int, len(data)),
	}
}

func (m *matcher) key(pos int) uint32 {
	return uint32(m.data[pos])<<16 | uint32(m.data[pos+1])<<8 | uint32(m.data[pos+2])
}

func (m *matcher) insert(pos int) {
	if pos+yaz0MinMatch > len(m.data) {
		return
	}
	k := m.key(pos)
	if p, ok := m.head[k]; ok {
		m.prev[pos] = p
	} else {
		m.prev[pos] = -1
	}
	m.head[k] = pos
}

func (m *matcher) find(pos int) (length, dist int) {
	if pos+yaz0MinMatch > len(m.data) {
		return 0, 0
	}
	limit := len(m.data) - pos
	if limit > yaz0MaxMatch {
		limit = yaz0MaxMatch
	}

	cand, ok := m.head[m.key(pos)]
	for steps := 0; ok && cand >= 0 && pos-cand <= yaz0Window && steps < yaz0MaxChain; steps++ {
		n := 0
		for n < limit && m.data[cand+n] == m.data[pos+n] {
			n++
		}
		if n > length {
			length, dist = n, pos-cand
			if n == limit {
				break
			}
		}
		cand = m.prev[cand]
	}
	return length, dist
}
