package msbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/EchoTools/bintext/pkg/format"
)

const (
	// HeaderSize is the fixed binary size of a message table header.
	HeaderSize = 0x20

	sectionHeaderSize = 0x10
	sectionAlignment  = 0x10
	sectionPadding    = 0xAB

	byteOrderMark = 0xFEFF

	controlStart = 0x0E
	controlClose = 0x0F
)

// Header is the binary header of a message table.
type Header struct {
	Magic        [8]byte
	BOM          uint16
	Encoding     Encoding
	Version      uint8
	SectionCount uint16
	FileSize     uint32
}

// Validate checks the header for validity.
func (h *Header) Validate(size int) error {
	if h.Magic != format.MessageTableMagic {
		return fmt.Errorf("invalid magic: expected %q, got %q", format.MessageTableMagic[:], h.Magic[:])
	}
	if h.BOM != byteOrderMark {
		return fmt.Errorf("invalid byte order mark 0x%04x", h.BOM)
	}
	if h.Encoding > EncodingUTF16 {
		return fmt.Errorf("unknown encoding %d", h.Encoding)
	}
	if h.SectionCount == 0 {
		return fmt.Errorf("no sections")
	}
	if int(h.FileSize) > size {
		return fmt.Errorf("file size %d exceeds data length %d", h.FileSize, size)
	}
	return nil
}

// EncodeTo writes the header to buf. The buffer must be at least HeaderSize
// bytes.
func (h *Header) EncodeTo(buf []byte, bo binary.ByteOrder) {
	copy(buf[0:8], h.Magic[:])
	bo.PutUint16(buf[8:], h.BOM)
	bo.PutUint16(buf[10:], 0)
	buf[12] = byte(h.Encoding)
	buf[13] = h.Version
	bo.PutUint16(buf[14:], h.SectionCount)
	bo.PutUint16(buf[16:], 0)
	bo.PutUint32(buf[18:], h.FileSize)
	clear(buf[22:HeaderSize])
}

// DecodeFrom reads the header from buf without validating it.
func (h *Header) DecodeFrom(buf []byte, bo binary.ByteOrder) {
	copy(h.Magic[:], buf[0:8])
	h.BOM = bo.Uint16(buf[8:])
	h.Encoding = Encoding(buf[12])
	h.Version = buf[13]
	h.SectionCount = bo.Uint16(buf[14:])
	h.FileSize = bo.Uint32(buf[18:])
}

// Decode parses a binary message table. The byte order mark must agree with
// order; every structural failure is reported as format.ErrUnreadableTable.
func Decode(data []byte, order format.ByteOrder) (*MessageTable, error) {
	if len(data) >= HeaderSize && bytes.HasPrefix(data, format.MessageTableMagic[:]) {
		if got := format.MessageTableOrder(data); got != order {
			return nil, fmt.Errorf("%w: %s table decoded as %s", format.ErrCodecMismatch, got.Platform(), order.Platform())
		}
	}
	mt, err := decode(data, order.Binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", format.ErrUnreadableTable, err)
	}
	return mt, nil
}

func decode(data []byte, bo format.Endian) (*MessageTable, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header data too short: need %d, got %d", HeaderSize, len(data))
	}
	var h Header
	h.DecodeFrom(data, bo)
	if err := h.Validate(len(data)); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	mt := &MessageTable{
		Encoding: h.Encoding,
		Version:  h.Version,
		Opaque:   make(map[string][]byte),
	}
	sections := make(map[string][]byte, h.SectionCount)
	off := HeaderSize
	for i := 0; i < int(h.SectionCount); i++ {
		if off+sectionHeaderSize > len(data) {
			return nil, fmt.Errorf("section %d header out of bounds at 0x%x", i, off)
		}
		magic := string(data[off : off+4])
		size := int(bo.Uint32(data[off+4:]))
		start := off + sectionHeaderSize
		if size > len(data)-start {
			return nil, fmt.Errorf("section %s size %d out of bounds", magic, size)
		}
		if _, dup := sections[magic]; dup {
			return nil, fmt.Errorf("duplicate section %s", magic)
		}
		sections[magic] = data[start : start+size]
		mt.Sections = append(mt.Sections, magic)
		off = alignUp(start+size, sectionAlignment)
	}

	var labels map[uint32]string
	if b, ok := sections[SectionLabels]; ok {
		groups, l, err := decodeLabels(b, bo)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", SectionLabels, err)
		}
		mt.GroupCount, labels = groups, l
	}

	var texts [][]Content
	if b, ok := sections[SectionText]; ok {
		t, err := decodeText(b, bo, mt.Encoding)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", SectionText, err)
		}
		texts = t
	}
	if len(labels) != len(texts) {
		return nil, fmt.Errorf("%d labels for %d messages", len(labels), len(texts))
	}

	mt.Entries = make([]Entry, len(texts))
	for i := range mt.Entries {
		label, ok := labels[uint32(i)]
		if !ok {
			return nil, fmt.Errorf("message %d has no label", i)
		}
		mt.Entries[i] = Entry{Label: label, Contents: texts[i]}
	}

	if b, ok := sections[SectionAttributes]; ok {
		if err := decodeAttributes(mt, b, bo); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SectionAttributes, err)
		}
	}
	if b, ok := sections[SectionStyles]; ok {
		if len(b) != 4*len(mt.Entries) {
			return nil, fmt.Errorf("parse %s: %d bytes for %d messages", SectionStyles, len(b), len(mt.Entries))
		}
		for i := range mt.Entries {
			mt.Entries[i].Style = bo.Uint32(b[i*4:])
		}
	}

	for magic, b := range sections {
		switch magic {
		case SectionLabels, SectionAttributes, SectionStyles, SectionText:
		default:
			mt.Opaque[magic] = append([]byte{}, b...)
		}
	}
	return mt, nil
}

func decodeLabels(b []byte, bo format.Endian) (uint32, map[uint32]string, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("section too short")
	}
	groups := bo.Uint32(b)
	if uint64(groups)*8 > uint64(len(b)-4) {
		return 0, nil, fmt.Errorf("%d groups do not fit in %d bytes", groups, len(b))
	}

	labels := make(map[uint32]string)
	for g := 0; g < int(groups); g++ {
		count := int(bo.Uint32(b[4+g*8:]))
		off := int(bo.Uint32(b[8+g*8:]))
		for i := 0; i < count; i++ {
			if off >= len(b) {
				return 0, nil, fmt.Errorf("label in group %d out of bounds", g)
			}
			n := int(b[off])
			if off+1+n+4 > len(b) {
				return 0, nil, fmt.Errorf("label in group %d out of bounds", g)
			}
			label := string(b[off+1 : off+1+n])
			index := bo.Uint32(b[off+1+n:])
			if prev, dup := labels[index]; dup {
				return 0, nil, fmt.Errorf("labels %q and %q share message %d", prev, label, index)
			}
			labels[index] = label
			off += 1 + n + 4
		}
	}
	return groups, labels, nil
}

func decodeAttributes(mt *MessageTable, b []byte, bo format.Endian) error {
	if len(b) < 8 {
		return fmt.Errorf("section too short")
	}
	count := int(bo.Uint32(b))
	size := bo.Uint32(b[4:])
	if count != len(mt.Entries) {
		return fmt.Errorf("%d attributes for %d messages", count, len(mt.Entries))
	}
	if uint64(count)*uint64(size) > uint64(len(b)-8) {
		return fmt.Errorf("%d attributes of %d bytes do not fit", count, size)
	}
	mt.AttributeSize = size
	off := 8
	for i := range mt.Entries {
		mt.Entries[i].Attributes = append([]byte{}, b[off:off+int(size)]...)
		off += int(size)
	}
	if off < len(b) {
		mt.AttributeExtra = append([]byte{}, b[off:]...)
	}
	return nil
}

// codec returns the text codec for runs of plain characters.
func codec(enc Encoding, bo format.Endian) encoding.Encoding {
	if enc == EncodingUTF8 {
		return unicode.UTF8
	}
	if bo == binary.BigEndian {
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	}
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}

func decodeText(b []byte, bo format.Endian, enc Encoding) ([][]Content, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("section too short")
	}
	count := int(bo.Uint32(b))
	if uint64(count)*4 > uint64(len(b)-4) {
		return nil, fmt.Errorf("%d offsets do not fit in %d bytes", count, len(b))
	}

	dec := codec(enc, bo).NewDecoder()
	unit := 2
	if enc == EncodingUTF8 {
		unit = 1
	}

	out := make([][]Content, count)
	for i := range out {
		start := int(bo.Uint32(b[4+i*4:]))
		end := len(b)
		if i+1 < count {
			end = int(bo.Uint32(b[8+i*4:]))
		}
		if start > end || end > len(b) {
			return nil, fmt.Errorf("message %d spans 0x%x..0x%x outside the section", i, start, end)
		}
		contents, err := decodeMessage(b[start:end], bo, unit, dec)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out[i] = contents
	}
	return out, nil
}

func decodeMessage(b []byte, bo format.Endian, unit int, dec *encoding.Decoder) ([]Content, error) {
	contents := []Content{}
	var run []byte
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		s, err := dec.Bytes(run)
		if err != nil {
			return err
		}
		contents = append(contents, Content{Text: string(s)})
		run = nil
		return nil
	}
	code := func(p int) uint16 {
		if unit == 1 {
			return uint16(b[p])
		}
		return bo.Uint16(b[p:])
	}

	for p := 0; p+unit <= len(b); {
		switch code(p) {
		case 0:
			return contents, flush()
		case controlStart:
			if err := flush(); err != nil {
				return nil, err
			}
			q := p + unit
			if q+6 > len(b) {
				return nil, fmt.Errorf("control at 0x%x out of bounds", p)
			}
			size := int(bo.Uint16(b[q+4:]))
			if q+6+size > len(b) {
				return nil, fmt.Errorf("control parameters at 0x%x out of bounds", p)
			}
			ctl := &Control{Group: bo.Uint16(b[q:]), Type: bo.Uint16(b[q+2:])}
			params := b[q+6 : q+6+size]
			if size%2 == 0 {
				ctl.Words = make([]uint16, size/2)
				for i := range ctl.Words {
					ctl.Words[i] = bo.Uint16(params[i*2:])
				}
			} else {
				ctl.Data = append([]byte{}, params...)
			}
			contents = append(contents, Content{Control: ctl})
			p = q + 6 + size
		case controlClose:
			if err := flush(); err != nil {
				return nil, err
			}
			q := p + unit
			if q+4 > len(b) {
				return nil, fmt.Errorf("close at 0x%x out of bounds", p)
			}
			contents = append(contents, Content{Close: &Close{
				Group: bo.Uint16(b[q:]),
				Type:  bo.Uint16(b[q+2:]),
			}})
			p = q + 4
		default:
			run = append(run, b[p:p+unit]...)
			p += unit
		}
	}
	return nil, fmt.Errorf("missing terminator")
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Encode writes mt in the layout of the platform selected by order.
func Encode(mt *MessageTable, order format.ByteOrder) ([]byte, error) {
	if err := mt.Validate(); err != nil {
		return nil, err
	}
	bo := order.Binary()

	buf := make([]byte, HeaderSize)
	for _, magic := range mt.Sections {
		data, err := mt.sectionData(magic, bo)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", magic, err)
		}
		if len(data) > math.MaxUint32 {
			return nil, fmt.Errorf("write %s: section too large", magic)
		}
		buf = append(buf, magic...)
		buf = bo.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, make([]byte, 8)...)
		buf = append(buf, data...)
		for len(buf)%sectionAlignment != 0 {
			buf = append(buf, sectionPadding)
		}
	}

	h := &Header{
		Magic:        format.MessageTableMagic,
		BOM:          byteOrderMark,
		Encoding:     mt.Encoding,
		Version:      mt.Version,
		SectionCount: uint16(len(mt.Sections)),
		FileSize:     uint32(len(buf)),
	}
	h.EncodeTo(buf, bo)
	return buf, nil
}

// Validate checks that the table can be encoded.
func (mt *MessageTable) Validate() error {
	if mt.Encoding > EncodingUTF16 {
		return fmt.Errorf("unknown encoding %d", mt.Encoding)
	}
	if len(mt.Sections) == 0 || len(mt.Sections) > math.MaxUint16 {
		return fmt.Errorf("%d sections", len(mt.Sections))
	}
	seen := make(map[string]bool)
	for _, magic := range mt.Sections {
		if len(magic) != 4 {
			return fmt.Errorf("section magic %q is not 4 bytes", magic)
		}
		if seen[magic] {
			return fmt.Errorf("duplicate section %s", magic)
		}
		seen[magic] = true
		switch magic {
		case SectionLabels, SectionAttributes, SectionStyles, SectionText:
		default:
			if _, ok := mt.Opaque[magic]; !ok {
				return fmt.Errorf("no data for section %s", magic)
			}
		}
	}

	if len(mt.Entries) > 0 && (!seen[SectionLabels] || !seen[SectionText]) {
		return fmt.Errorf("messages need both %s and %s sections", SectionLabels, SectionText)
	}
	if seen[SectionLabels] && mt.GroupCount == 0 {
		return fmt.Errorf("%s needs a positive group count", SectionLabels)
	}
	labels := make(map[string]bool, len(mt.Entries))
	for i := range mt.Entries {
		e := &mt.Entries[i]
		if e.Label == "" || len(e.Label) > math.MaxUint8 {
			return fmt.Errorf("message %d: label must be 1 to %d bytes", i, math.MaxUint8)
		}
		if labels[e.Label] {
			return fmt.Errorf("duplicate label %q", e.Label)
		}
		labels[e.Label] = true
		if seen[SectionAttributes] && len(e.Attributes) != int(mt.AttributeSize) {
			return fmt.Errorf("message %q: %d attribute bytes, expected %d", e.Label, len(e.Attributes), mt.AttributeSize)
		}
		for _, c := range e.Contents {
			if c.Control != nil {
				if c.Control.Data != nil && c.Control.Words != nil {
					return fmt.Errorf("message %q: control has both words and data", e.Label)
				}
				if c.Control.paramSize() > math.MaxUint16 {
					return fmt.Errorf("message %q: control parameters too long", e.Label)
				}
			}
			if strings.ContainsAny(c.Text, "\x00\x0e\x0f") {
				return fmt.Errorf("message %q: text contains a reserved control character", e.Label)
			}
		}
	}
	return nil
}

func (mt *MessageTable) sectionData(magic string, bo format.Endian) ([]byte, error) {
	switch magic {
	case SectionLabels:
		return mt.labelData(bo), nil
	case SectionAttributes:
		b := bo.AppendUint32(nil, uint32(len(mt.Entries)))
		b = bo.AppendUint32(b, mt.AttributeSize)
		for i := range mt.Entries {
			b = append(b, mt.Entries[i].Attributes...)
		}
		return append(b, mt.AttributeExtra...), nil
	case SectionStyles:
		var b []byte
		for i := range mt.Entries {
			b = bo.AppendUint32(b, mt.Entries[i].Style)
		}
		return b, nil
	case SectionText:
		return mt.textData(bo)
	}
	return mt.Opaque[magic], nil
}

// labelData writes the LBL1 buckets; labels within a bucket follow message
// order.
func (mt *MessageTable) labelData(bo format.Endian) []byte {
	buckets := make([][]int, mt.GroupCount)
	for i := range mt.Entries {
		g := LabelHash(mt.Entries[i].Label, mt.GroupCount)
		buckets[g] = append(buckets[g], i)
	}

	b := bo.AppendUint32(nil, mt.GroupCount)
	table := len(b)
	b = append(b, make([]byte, len(buckets)*8)...)
	for g, bucket := range buckets {
		bo.PutUint32(b[table+g*8:], uint32(len(bucket)))
		bo.PutUint32(b[table+g*8+4:], uint32(len(b)))
		for _, i := range bucket {
			label := mt.Entries[i].Label
			b = append(b, byte(len(label)))
			b = append(b, label...)
			b = bo.AppendUint32(b, uint32(i))
		}
	}
	return b
}

func (mt *MessageTable) textData(bo format.Endian) ([]byte, error) {
	enc := codec(mt.Encoding, bo).NewEncoder()
	unit := func(b []byte, c uint16) []byte {
		if mt.Encoding == EncodingUTF8 {
			return append(b, byte(c))
		}
		return bo.AppendUint16(b, c)
	}

	b := bo.AppendUint32(nil, uint32(len(mt.Entries)))
	table := len(b)
	b = append(b, make([]byte, len(mt.Entries)*4)...)
	for i := range mt.Entries {
		bo.PutUint32(b[table+i*4:], uint32(len(b)))
		for _, c := range mt.Entries[i].Contents {
			switch {
			case c.Control != nil:
				b = unit(b, controlStart)
				b = bo.AppendUint16(b, c.Control.Group)
				b = bo.AppendUint16(b, c.Control.Type)
				b = bo.AppendUint16(b, uint16(c.Control.paramSize()))
				if c.Control.Data != nil {
					b = append(b, c.Control.Data...)
				}
				for _, w := range c.Control.Words {
					b = bo.AppendUint16(b, w)
				}
			case c.Close != nil:
				b = unit(b, controlClose)
				b = bo.AppendUint16(b, c.Close.Group)
				b = bo.AppendUint16(b, c.Close.Type)
			default:
				s, err := enc.Bytes([]byte(c.Text))
				if err != nil {
					return nil, fmt.Errorf("message %q: %w", mt.Entries[i].Label, err)
				}
				b = append(b, s...)
			}
		}
		b = unit(b, 0)
	}
	return b, nil
}
