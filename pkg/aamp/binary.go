package aamp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/EchoTools/bintext/pkg/format"
)

const (
	// HeaderSize is the fixed binary size of an archive header.
	HeaderSize = 0x30

	// Version is the only supported archive version.
	Version = 2

	flagLittleEndian = 1 << 0
	flagUTF8         = 1 << 1

	listSize      = 12
	objectSize    = 8
	parameterSize = 8

	maxDepth = 128
)

// Header is the binary header of a parameter archive.
type Header struct {
	Magic             [4]byte
	Version           uint32
	Flags             uint32
	FileSize          uint32
	PIOVersion        uint32
	PIOOffset         uint32 // Root list offset, relative to the end of the header
	NumLists          uint32
	NumObjects        uint32
	NumParameters     uint32
	DataSectionSize   uint32
	StringSectionSize uint32
	UnknownSize       uint32
}

// Validate checks the header for validity.
func (h *Header) Validate(size int) error {
	if h.Magic != format.ParameterTreeMagic {
		return fmt.Errorf("%w: invalid magic: expected %x, got %x", format.ErrUnknownFormat, format.ParameterTreeMagic, h.Magic)
	}
	if h.Version != Version {
		return fmt.Errorf("unsupported version %d", h.Version)
	}
	if h.Flags&flagLittleEndian == 0 {
		return fmt.Errorf("big-endian parameter archives are not supported")
	}
	if int(h.FileSize) > size {
		return fmt.Errorf("file size %d exceeds data length %d", h.FileSize, size)
	}
	return nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	fields := []uint32{
		h.Version, h.Flags, h.FileSize, h.PIOVersion, h.PIOOffset,
		h.NumLists, h.NumObjects, h.NumParameters,
		h.DataSectionSize, h.StringSectionSize, h.UnknownSize,
	}
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[4+i*4:], v)
	}
}

// DecodeFrom reads the header from the given buffer without validating it.
func (h *Header) DecodeFrom(buf []byte) {
	copy(h.Magic[:], buf[0:4])
	fields := []*uint32{
		&h.Version, &h.Flags, &h.FileSize, &h.PIOVersion, &h.PIOOffset,
		&h.NumLists, &h.NumObjects, &h.NumParameters,
		&h.DataSectionSize, &h.StringSectionSize, &h.UnknownSize,
	}
	for i, v := range fields {
		*v = binary.LittleEndian.Uint32(buf[4+i*4:])
	}
}

// Decode parses a binary parameter archive.
func Decode(data []byte) (*ParameterIO, error) {
	pio := &ParameterIO{}
	if err := pio.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pio, nil
}

// UnmarshalBinary decodes a parameter archive from binary data.
func (pio *ParameterIO) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("header data too short: need %d, got %d", HeaderSize, len(data))
	}
	var h Header
	h.DecodeFrom(data)
	if err := h.Validate(len(data)); err != nil {
		return fmt.Errorf("parse header: %w", err)
	}

	r := &reader{data: data}
	pio.Version = h.PIOVersion
	pio.Type = r.cstring(HeaderSize)

	rootOffset := HeaderSize + int(h.PIOOffset)
	name, root := r.list(rootOffset, 0)
	if r.err != nil {
		return r.err
	}
	if name != RootName {
		return fmt.Errorf("root list name is %s, expected param_root", name)
	}
	pio.Root = root
	return nil
}

// reader keeps the first out-of-bounds error so parsing code can stay linear.
type reader struct {
	data []byte
	err  error
}

func (r *reader) fail(msg string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(msg, args...)
	}
}

func (r *reader) check(off, n int) bool {
	if r.err != nil {
		return false
	}
	if off < 0 || n < 0 || off+n > len(r.data) {
		r.fail("read of %d bytes at 0x%x out of bounds (size 0x%x)", n, off, len(r.data))
		return false
	}
	return true
}

func (r *reader) u16(off int) uint16 {
	if !r.check(off, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.data[off:])
}

func (r *reader) u32(off int) uint32 {
	if !r.check(off, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.data[off:])
}

func (r *reader) f32(off int) float32 {
	return math.Float32frombits(r.u32(off))
}

func (r *reader) cstring(off int) string {
	if !r.check(off, 0) {
		return ""
	}
	end := bytes.IndexByte(r.data[off:], 0)
	if end < 0 {
		r.fail("unterminated string at 0x%x", off)
		return ""
	}
	return string(r.data[off : off+end])
}

func (r *reader) list(off, depth int) (Name, List) {
	var l List
	if depth > maxDepth {
		r.fail("lists nested deeper than %d", maxDepth)
		return 0, l
	}
	name := Name(r.u32(off))
	listsOff := off + 4*int(r.u16(off+4))
	numLists := int(r.u16(off + 6))
	objectsOff := off + 4*int(r.u16(off+8))
	numObjects := int(r.u16(off + 10))
	if r.err != nil {
		return name, l
	}

	if numObjects > 0 {
		l.Objects = make([]NamedObject, 0, numObjects)
	}
	for i := 0; i < numObjects && r.err == nil; i++ {
		objName, obj := r.object(objectsOff + i*objectSize)
		l.Objects = append(l.Objects, NamedObject{Name: objName, Object: obj})
	}
	if numLists > 0 {
		l.Lists = make([]NamedList, 0, numLists)
	}
	for i := 0; i < numLists && r.err == nil; i++ {
		childName, child := r.list(listsOff+i*listSize, depth+1)
		l.Lists = append(l.Lists, NamedList{Name: childName, List: child})
	}
	return name, l
}

func (r *reader) object(off int) (Name, Object) {
	var o Object
	name := Name(r.u32(off))
	paramsOff := off + 4*int(r.u16(off+4))
	numParams := int(r.u16(off + 6))
	if numParams > 0 {
		o.Params = make([]NamedParameter, 0, numParams)
	}
	for i := 0; i < numParams && r.err == nil; i++ {
		o.Params = append(o.Params, r.parameter(paramsOff+i*parameterSize))
	}
	return name, o
}

func (r *reader) parameter(off int) NamedParameter {
	name := Name(r.u32(off))
	word := r.u32(off + 4)
	dataOff := off + 4*int(word&0xFFFFFF)
	t := Type(word >> 24)
	p := Parameter{Type: t}

	switch {
	case t == TypeBool:
		p.Bool = r.u32(dataOff) != 0
	case t == TypeF32:
		p.F32 = r.f32(dataOff)
	case t == TypeInt:
		p.Int = int32(r.u32(dataOff))
	case t == TypeU32:
		p.U32 = r.u32(dataOff)
	case t.vectorLen() > 0:
		p.Floats = r.floats(dataOff, t.vectorLen())
	case t.curveCount() > 0:
		p.Curves = make([]Curve, t.curveCount())
		for i := range p.Curves {
			base := dataOff + i*CurveSize
			p.Curves[i].A = r.u32(base)
			p.Curves[i].B = r.u32(base + 4)
			for j := range p.Curves[i].Floats {
				p.Curves[i].Floats[j] = r.f32(base + 8 + j*4)
			}
		}
	case t.IsString():
		p.Str = r.cstring(dataOff)
	case t.IsBuffer():
		n := int(r.u32(dataOff - 4))
		elemSize := 4
		if t == TypeBufferBinary {
			elemSize = 1
		}
		if !r.check(dataOff, n*elemSize) {
			break
		}
		switch t {
		case TypeBufferInt:
			p.Ints = make([]int32, n)
			for i := range p.Ints {
				p.Ints[i] = int32(r.u32(dataOff + i*4))
			}
		case TypeBufferF32:
			p.Floats = r.floats(dataOff, n)
		case TypeBufferU32:
			p.U32s = make([]uint32, n)
			for i := range p.U32s {
				p.U32s[i] = r.u32(dataOff + i*4)
			}
		case TypeBufferBinary:
			p.Bytes = append([]byte{}, r.data[dataOff:dataOff+n]...)
		}
	default:
		r.fail("parameter %s at 0x%x has unknown type %d", name, off, uint8(t))
	}
	return NamedParameter{Name: name, Param: p}
}

func (r *reader) floats(off, n int) []float32 {
	if !r.check(off, n*4) {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = r.f32(off + i*4)
	}
	return out
}

// Encode is MarshalBinary as a function.
func Encode(pio *ParameterIO) ([]byte, error) {
	return pio.MarshalBinary()
}

// MarshalBinary encodes the archive. The layout is deterministic: lists are
// written breadth first per parent, then objects, then parameters, then the
// data section and the string section, each with identical values shared.
func (pio *ParameterIO) MarshalBinary() ([]byte, error) {
	w := &writer{
		dataOffsets:   make(map[string]int),
		stringOffsets: make(map[string]int),
	}

	w.buf = make([]byte, HeaderSize)
	w.buf = append(w.buf, pio.Type...)
	w.buf = append(w.buf, 0)
	w.align(4)

	pioOffset := len(w.buf) - HeaderSize
	root := w.listStruct(RootName, &pio.Root)
	w.writeLists(root)
	w.writeObjects(root)
	for _, o := range w.objects {
		w.writeParams(o)
	}
	if w.err != nil {
		return nil, w.err
	}

	dataStart := len(w.buf)
	for _, p := range w.params {
		if !p.param.Type.IsString() {
			w.writeData(p)
		}
	}
	dataSize := len(w.buf) - dataStart

	stringStart := len(w.buf)
	for _, p := range w.params {
		if p.param.Type.IsString() {
			w.writeString(p)
		}
	}
	stringSize := len(w.buf) - stringStart
	if w.err != nil {
		return nil, w.err
	}
	if len(w.buf) > math.MaxUint32 {
		return nil, fmt.Errorf("archive too large: %d bytes", len(w.buf))
	}

	h := &Header{
		Magic:             format.ParameterTreeMagic,
		Version:           Version,
		Flags:             flagLittleEndian | flagUTF8,
		FileSize:          uint32(len(w.buf)),
		PIOVersion:        pio.Version,
		PIOOffset:         uint32(pioOffset),
		NumLists:          uint32(w.numLists),
		NumObjects:        uint32(len(w.objects)),
		NumParameters:     uint32(len(w.params)),
		DataSectionSize:   uint32(dataSize),
		StringSectionSize: uint32(stringSize),
	}
	h.EncodeTo(w.buf)
	return w.buf, nil
}

type listRecord struct {
	off      int
	list     *List
	children []*listRecord
}

type objectRecord struct {
	off int
	obj *Object
}

type paramRecord struct {
	off   int
	param *Parameter
}

type writer struct {
	buf           []byte
	err           error
	numLists      int
	objects       []objectRecord
	params        []paramRecord
	dataOffsets   map[string]int
	stringOffsets map[string]int
}

func (w *writer) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// relOffset stores target-base in 4-byte units as a u16 at field.
func (w *writer) relOffset(field, base, target int) {
	rel := (target - base) / 4
	if rel > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("offset 0x%x from 0x%x does not fit the archive layout", target, base)
		}
		return
	}
	binary.LittleEndian.PutUint16(w.buf[field:], uint16(rel))
}

func (w *writer) listStruct(name Name, l *List) *listRecord {
	rec := &listRecord{off: len(w.buf), list: l}
	w.u32(uint32(name))
	w.buf = binary.LittleEndian.AppendUint16(w.buf, 0)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(l.Lists)))
	w.buf = binary.LittleEndian.AppendUint16(w.buf, 0)
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(l.Objects)))
	w.numLists++
	if len(l.Lists) > math.MaxUint16 || len(l.Objects) > math.MaxUint16 {
		w.err = fmt.Errorf("list %s has too many children", name)
	}
	return rec
}

func (w *writer) writeLists(rec *listRecord) {
	w.relOffset(rec.off+4, rec.off, len(w.buf))
	for i := range rec.list.Lists {
		child := &rec.list.Lists[i]
		rec.children = append(rec.children, w.listStruct(child.Name, &child.List))
	}
	for _, child := range rec.children {
		w.writeLists(child)
	}
}

func (w *writer) writeObjects(rec *listRecord) {
	w.relOffset(rec.off+8, rec.off, len(w.buf))
	for i := range rec.list.Objects {
		obj := &rec.list.Objects[i]
		w.objects = append(w.objects, objectRecord{off: len(w.buf), obj: &obj.Object})
		w.u32(uint32(obj.Name))
		w.buf = binary.LittleEndian.AppendUint16(w.buf, 0)
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(obj.Object.Params)))
		if len(obj.Object.Params) > math.MaxUint16 {
			w.err = fmt.Errorf("object %s has too many parameters", obj.Name)
		}
	}
	for _, child := range rec.children {
		w.writeObjects(child)
	}
}

func (w *writer) writeParams(o objectRecord) {
	w.relOffset(o.off+4, o.off, len(w.buf))
	for i := range o.obj.Params {
		np := &o.obj.Params[i]
		if err := np.Param.Validate(); err != nil && w.err == nil {
			w.err = fmt.Errorf("parameter %s: %w", np.Name, err)
		}
		w.params = append(w.params, paramRecord{off: len(w.buf), param: &np.Param})
		w.u32(uint32(np.Name))
		w.u32(uint32(np.Param.Type) << 24)
	}
}

// setData points the parameter at p.off to the data at target.
func (w *writer) setData(p paramRecord, target int) {
	rel := (target - p.off) / 4
	if rel > 0xFFFFFF {
		if w.err == nil {
			w.err = fmt.Errorf("data offset 0x%x out of range", target)
		}
		return
	}
	binary.LittleEndian.PutUint32(w.buf[p.off+4:], uint32(p.param.Type)<<24|uint32(rel))
}

func (w *writer) writeData(p paramRecord) {
	data, count := parameterData(p.param)
	key := string(data)
	if p.param.Type.IsBuffer() {
		// buffers of different element size can share bytes but not counts
		key = fmt.Sprintf("b%d:", count) + key
	} else {
		key = "v" + key
	}

	if off, ok := w.dataOffsets[key]; ok {
		w.setData(p, off)
		return
	}
	if p.param.Type.IsBuffer() {
		w.u32(uint32(count))
	}
	off := len(w.buf)
	w.buf = append(w.buf, data...)
	w.align(4)
	w.dataOffsets[key] = off
	w.setData(p, off)
}

func (w *writer) writeString(p paramRecord) {
	if off, ok := w.stringOffsets[p.param.Str]; ok {
		w.setData(p, off)
		return
	}
	off := len(w.buf)
	w.buf = append(w.buf, p.param.Str...)
	w.buf = append(w.buf, 0)
	w.align(4)
	w.stringOffsets[p.param.Str] = off
	w.setData(p, off)
}

// parameterData serializes a non-string value and returns its element count
// for buffer types.
func parameterData(p *Parameter) ([]byte, int) {
	var b []byte
	le := binary.LittleEndian
	f32s := func(fs []float32) {
		for _, f := range fs {
			b = le.AppendUint32(b, math.Float32bits(f))
		}
	}

	switch {
	case p.Type == TypeBool:
		var v uint32
		if p.Bool {
			v = 1
		}
		b = le.AppendUint32(b, v)
	case p.Type == TypeF32:
		b = le.AppendUint32(b, math.Float32bits(p.F32))
	case p.Type == TypeInt:
		b = le.AppendUint32(b, uint32(p.Int))
	case p.Type == TypeU32:
		b = le.AppendUint32(b, p.U32)
	case p.Type.vectorLen() > 0:
		f32s(p.Floats)
	case p.Type.curveCount() > 0:
		for _, c := range p.Curves {
			b = le.AppendUint32(b, c.A)
			b = le.AppendUint32(b, c.B)
			f32s(c.Floats[:])
		}
	case p.Type == TypeBufferInt:
		for _, v := range p.Ints {
			b = le.AppendUint32(b, uint32(v))
		}
		return b, len(p.Ints)
	case p.Type == TypeBufferF32:
		f32s(p.Floats)
		return b, len(p.Floats)
	case p.Type == TypeBufferU32:
		for _, v := range p.U32s {
			b = le.AppendUint32(b, v)
		}
		return b, len(p.U32s)
	case p.Type == TypeBufferBinary:
		return append(b, p.Bytes...), len(p.Bytes)
	}
	return b, 0
}
