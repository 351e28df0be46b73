package byml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/EchoTools/bintext/pkg/format"
)

const (
	// HeaderSize is the fixed binary size of a document header.
	HeaderSize = 0x10

	maxDepth = 256
)

// Header is the binary header of a keyed document.
type Header struct {
	Magic             [2]byte
	Version           uint16
	KeyTableOffset    uint32
	StringTableOffset uint32
	RootOffset        uint32 // zero for a null root
}

// Order returns the byte order selected by the magic.
func (h *Header) Order() (format.ByteOrder, error) {
	switch h.Magic {
	case format.KeyedDataMagicLE:
		return format.LittleEndian, nil
	case format.KeyedDataMagicBE:
		return format.BigEndian, nil
	}
	return 0, fmt.Errorf("%w: invalid magic %q", format.ErrUnknownFormat, h.Magic[:])
}

// Validate checks the header for validity.
func (h *Header) Validate(size int) error {
	if _, err := h.Order(); err != nil {
		return err
	}
	if err := validVersion(h.Version); err != nil {
		return err
	}
	for _, off := range []uint32{h.KeyTableOffset, h.StringTableOffset, h.RootOffset} {
		if off != 0 && (off < HeaderSize || int(off) >= size) {
			return fmt.Errorf("table offset 0x%x out of range (size 0x%x)", off, size)
		}
	}
	return nil
}

// EncodeTo writes the header to buf in the order given by its magic.
// The buffer must be at least HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:2], h.Magic[:])
	bo := orderOf(h.Magic)
	bo.PutUint16(buf[2:], h.Version)
	bo.PutUint32(buf[4:], h.KeyTableOffset)
	bo.PutUint32(buf[8:], h.StringTableOffset)
	bo.PutUint32(buf[12:], h.RootOffset)
}

// DecodeFrom reads the header from buf without validating it.
func (h *Header) DecodeFrom(buf []byte) {
	copy(h.Magic[:], buf[0:2])
	bo := orderOf(h.Magic)
	h.Version = bo.Uint16(buf[2:])
	h.KeyTableOffset = bo.Uint32(buf[4:])
	h.StringTableOffset = bo.Uint32(buf[8:])
	h.RootOffset = bo.Uint32(buf[12:])
}

func orderOf(magic [2]byte) binary.ByteOrder {
	if magic == format.KeyedDataMagicBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func magicOf(order format.ByteOrder) [2]byte {
	if order.IsBig() {
		return format.KeyedDataMagicBE
	}
	return format.KeyedDataMagicLE
}

// Decode parses a binary document. The magic must agree with order.
// A container referenced from several slots decodes to a single Node whose
// Array or Hash is shared by every reference.
func Decode(data []byte, order format.ByteOrder) (*Document, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header data too short: need %d, got %d", HeaderSize, len(data))
	}
	var h Header
	h.DecodeFrom(data)
	if err := h.Validate(len(data)); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if got, _ := h.Order(); got != order {
		return nil, fmt.Errorf("%w: %s-endian document decoded as %s-endian", format.ErrCodecMismatch, got, order)
	}

	r := &reader{data: data, big: order.IsBig(), bo: order.Binary(), seen: make(map[int]decoded)}
	if h.KeyTableOffset != 0 {
		r.keys = r.stringTable(int(h.KeyTableOffset))
	}
	if h.StringTableOffset != 0 {
		r.strs = r.stringTable(int(h.StringTableOffset))
	}

	doc := &Document{Version: h.Version, Root: Null()}
	if h.RootOffset != 0 {
		off := int(h.RootOffset)
		if r.check(off, 1) {
			t := Type(data[off])
			if !t.IsContainer() {
				r.fail("root node is %s, expected Array or Hash", t)
			}
			doc.Root, _ = r.container(off, 0)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return doc, nil
}

// maxNodes bounds the number of nodes a document may expand to once shared
// containers are counted at every place they are referenced.
const maxNodes = 1 << 22

type reader struct {
	data  []byte
	big   bool
	bo    binary.ByteOrder
	keys  []string
	strs  []string
	seen  map[int]decoded
	nodes int
	err   error
}

// shape is the expanded size of a subtree and the depth of its deepest
// container below the root of the subtree.
type shape struct {
	nodes  int
	height int
}

type decoded struct {
	node Node
	shape
}

// count charges n expanded nodes against maxNodes.
func (r *reader) count(n int) {
	r.nodes += n
	if r.nodes > maxNodes {
		r.fail("document expands to more than %d nodes", maxNodes)
	}
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

func (r *reader) u32(off int) uint32 {
	if !r.check(off, 4) {
		return 0
	}
	return r.bo.Uint32(r.data[off:])
}

func (r *reader) u64(off int) uint64 {
	if !r.check(off, 8) {
		return 0
	}
	return r.bo.Uint64(r.data[off:])
}

func (r *reader) u24(off int) int {
	if !r.check(off, 3) {
		return 0
	}
	b := r.data[off:]
	if r.big {
		return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
	}
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

// nodeHeader reads the type byte and u24 count that start every table and
// container.
func (r *reader) nodeHeader(off int, want Type) int {
	if !r.check(off, 4) {
		return 0
	}
	if t := Type(r.data[off]); t != want {
		r.fail("node at 0x%x is %s, expected %s", off, t, want)
		return 0
	}
	return r.u24(off + 1)
}

func (r *reader) stringTable(off int) []string {
	count := r.nodeHeader(off, TypeStringTable)
	if !r.check(off+4, (count+1)*4) {
		return nil
	}
	out := make([]string, count)
	for i := range out {
		start := off + int(r.u32(off+4+i*4))
		end := off + int(r.u32(off+8+i*4))
		if !r.check(start, end-start) {
			return nil
		}
		out[i] = string(bytes.TrimRight(r.data[start:end], "\x00"))
	}
	return out
}

// container decodes the array or hash at off. Containers referenced from
// several slots are decoded once and shared.
func (r *reader) container(off, depth int) (Node, shape) {
	if depth > maxDepth {
		r.fail("containers nested deeper than %d", maxDepth)
		return Null(), shape{}
	}
	if d, ok := r.seen[off]; ok {
		if depth+d.height > maxDepth {
			r.fail("containers nested deeper than %d", maxDepth)
			return Null(), shape{}
		}
		r.count(d.nodes)
		return d.node, d.shape
	}
	if !r.check(off, 1) {
		return Null(), shape{}
	}

	var n Node
	sh := shape{nodes: 1}
	add := func(c shape) {
		sh.nodes += c.nodes
		sh.height = max(sh.height, c.height)
	}
	switch Type(r.data[off]) {
	case TypeArray:
		count := r.nodeHeader(off, TypeArray)
		if !r.check(off+4, count) {
			return Null(), shape{}
		}
		values := off + 4 + align4(count)
		n = Node{Type: TypeArray, Array: make([]Node, 0, count)}
		for i := 0; i < count && r.err == nil; i++ {
			v, c := r.value(Type(r.data[off+4+i]), values+i*4, depth)
			n.Array = append(n.Array, v)
			add(c)
		}
	case TypeHash:
		count := r.nodeHeader(off, TypeHash)
		n = Hash(make(map[string]Node, min(count, len(r.data)/8)))
		for i := 0; i < count && r.err == nil; i++ {
			entry := off + 4 + i*8
			idx := r.u24(entry)
			if !r.check(entry+3, 1) {
				break
			}
			if idx >= len(r.keys) {
				r.fail("key index %d out of range (%d keys)", idx, len(r.keys))
				break
			}
			v, c := r.value(Type(r.data[entry+3]), entry+4, depth)
			n.Hash[r.keys[idx]] = v
			add(c)
		}
	default:
		r.fail("node at 0x%x is %s, expected a container", off, Type(r.data[off]))
		return Null(), shape{}
	}
	if r.err != nil {
		return Null(), shape{}
	}
	r.count(1)
	r.seen[off] = decoded{node: n, shape: sh}
	return n, sh
}

// value reads the value of type t whose 4-byte slot is at off.
func (r *reader) value(t Type, off, depth int) (Node, shape) {
	word := r.u32(off)
	switch t {
	case TypeString:
		if int(word) >= len(r.strs) {
			r.fail("string index %d out of range (%d strings)", word, len(r.strs))
			return Null(), shape{}
		}
		return String(r.strs[word]), shape{nodes: 1}
	case TypeBool:
		return Bool(word != 0), shape{nodes: 1}
	case TypeInt:
		return Int(int32(word)), shape{nodes: 1}
	case TypeUint:
		return Uint(word), shape{nodes: 1}
	case TypeFloat:
		return Float(math.Float32frombits(word)), shape{nodes: 1}
	case TypeNull:
		return Null(), shape{nodes: 1}
	case TypeInt64:
		return Int64(int64(r.u64(int(word)))), shape{nodes: 1}
	case TypeUint64:
		return Uint64(r.u64(int(word))), shape{nodes: 1}
	case TypeDouble:
		return Double(math.Float64frombits(r.u64(int(word)))), shape{nodes: 1}
	case TypeBinary:
		size := int(r.u32(int(word)))
		if !r.check(int(word)+4, size) {
			return Null(), shape{}
		}
		start := int(word) + 4
		return Binary(append([]byte{}, r.data[start:start+size]...)), shape{nodes: 1}
	case TypeArray, TypeHash:
		if !r.check(int(word), 1) {
			return Null(), shape{}
		}
		if Type(r.data[word]) != t {
			r.fail("node at 0x%x is %s, expected %s", word, Type(r.data[word]), t)
			return Null(), shape{}
		}
		n, sh := r.container(int(word), depth+1)
		sh.height++
		return n, sh
	}
	r.fail("unknown node type 0x%02x at 0x%x", uint8(t), off)
	return Null(), shape{}
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// Encode writes doc in the given byte order. Keys and strings are sorted,
// containers are written depth first after their parent and identical
// non-inline values are stored once.
func Encode(doc *Document, order format.ByteOrder) ([]byte, error) {
	if err := validVersion(doc.Version); err != nil {
		return nil, err
	}
	if doc.Root.Type != TypeNull && !doc.Root.Type.IsContainer() {
		return nil, fmt.Errorf("root node is %s, expected Array, Hash or Null", doc.Root.Type)
	}

	keys := make(map[string]struct{})
	strs := make(map[string]struct{})
	if err := collect(&doc.Root, keys, strs, 0); err != nil {
		return nil, err
	}

	w := &writer{
		big:     order.IsBig(),
		bo:      order.Binary(),
		buf:     make([]byte, HeaderSize),
		written: make(map[string]uint32),
	}
	h := &Header{Magic: magicOf(order), Version: doc.Version}

	if len(keys) > 0 {
		h.KeyTableOffset = uint32(len(w.buf))
		w.keys = w.stringTable(keys)
	}
	if len(strs) > 0 {
		h.StringTableOffset = uint32(len(w.buf))
		w.strs = w.stringTable(strs)
	}
	if doc.Root.Type != TypeNull {
		h.RootOffset = w.nonInline(&doc.Root)
	}
	if w.err != nil {
		return nil, w.err
	}
	h.EncodeTo(w.buf)
	return w.buf, nil
}

func collect(n *Node, keys, strs map[string]struct{}, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("containers nested deeper than %d", maxDepth)
	}
	switch n.Type {
	case TypeString:
		strs[n.Str] = struct{}{}
	case TypeArray:
		for i := range n.Array {
			if err := collect(&n.Array[i], keys, strs, depth+1); err != nil {
				return err
			}
		}
	case TypeHash:
		for k, v := range n.Hash {
			keys[k] = struct{}{}
			if err := collect(&v, keys, strs, depth+1); err != nil {
				return err
			}
		}
	case TypeBinary, TypeBool, TypeInt, TypeFloat, TypeUint, TypeInt64, TypeUint64, TypeDouble, TypeNull:
	default:
		return fmt.Errorf("unknown node type %s", n.Type)
	}
	return nil
}

type writer struct {
	big     bool
	bo      format.Endian
	buf     []byte
	keys    map[string]uint32
	strs    map[string]uint32
	written map[string]uint32
	err     error
}

func (w *writer) align() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) u32(v uint32) {
	w.buf = w.bo.AppendUint32(w.buf, v)
}

func (w *writer) u24(v int) {
	if v > 0xFFFFFF && w.err == nil {
		w.err = fmt.Errorf("count %d does not fit in 24 bits", v)
	}
	if w.big {
		w.buf = append(w.buf, byte(v>>16), byte(v>>8), byte(v))
	} else {
		w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
	}
}

func (w *writer) nodeHeader(t Type, count int) {
	w.buf = append(w.buf, byte(t))
	w.u24(count)
}

// stringTable writes a sorted string table and returns the string indices.
func (w *writer) stringTable(set map[string]struct{}) map[string]uint32 {
	list := make([]string, 0, len(set))
	for s := range set {
		list = append(list, s)
	}
	slices.Sort(list)

	start := len(w.buf)
	w.nodeHeader(TypeStringTable, len(list))
	offsets := len(w.buf)
	w.buf = append(w.buf, make([]byte, (len(list)+1)*4)...)

	index := make(map[string]uint32, len(list))
	for i, s := range list {
		w.bo.PutUint32(w.buf[offsets+i*4:], uint32(len(w.buf)-start))
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
		index[s] = uint32(i)
	}
	w.bo.PutUint32(w.buf[offsets+len(list)*4:], uint32(len(w.buf)-start))
	w.align()
	return index
}

// value returns the 4-byte slot contents for n, writing non-inline data.
func (w *writer) value(n *Node) uint32 {
	switch n.Type {
	case TypeString:
		return w.strs[n.Str]
	case TypeBool:
		if n.Bool {
			return 1
		}
		return 0
	case TypeInt:
		return uint32(int32(n.Int))
	case TypeUint:
		return uint32(n.Uint)
	case TypeFloat:
		return math.Float32bits(n.Float)
	case TypeNull:
		return 0
	}
	return w.nonInline(n)
}

func (w *writer) nonInline(n *Node) uint32 {
	key := fingerprint(n)
	if off, ok := w.written[key]; ok {
		return off
	}
	w.align()
	off := uint32(len(w.buf))
	w.written[key] = off

	switch n.Type {
	case TypeInt64:
		w.buf = w.bo.AppendUint64(w.buf, uint64(n.Int))
	case TypeUint64:
		w.buf = w.bo.AppendUint64(w.buf, n.Uint)
	case TypeDouble:
		w.buf = w.bo.AppendUint64(w.buf, math.Float64bits(n.Double))
	case TypeBinary:
		w.u32(uint32(len(n.Bytes)))
		w.buf = append(w.buf, n.Bytes...)
		w.align()
	case TypeArray:
		w.nodeHeader(TypeArray, len(n.Array))
		for i := range n.Array {
			w.buf = append(w.buf, byte(n.Array[i].Type))
		}
		w.align()
		slots := len(w.buf)
		w.buf = append(w.buf, make([]byte, len(n.Array)*4)...)
		for i := range n.Array {
			v := w.value(&n.Array[i])
			w.bo.PutUint32(w.buf[slots+i*4:], v)
		}
	case TypeHash:
		keys := sortedKeys(n.Hash)
		w.nodeHeader(TypeHash, len(keys))
		entries := len(w.buf)
		for _, k := range keys {
			w.u24(int(w.keys[k]))
			w.buf = append(w.buf, byte(n.Hash[k].Type))
			w.u32(0)
		}
		for i, k := range keys {
			v := n.Hash[k]
			slot := w.value(&v)
			w.bo.PutUint32(w.buf[entries+i*8+4:], slot)
		}
	default:
		if w.err == nil {
			w.err = fmt.Errorf("cannot write %s node", n.Type)
		}
	}
	return off
}

func sortedKeys(m map[string]Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// fingerprint identifies a non-inline value by its type and content.
func fingerprint(n *Node) string {
	var sb strings.Builder
	writeFingerprint(&sb, n)
	return sb.String()
}

func writeFingerprint(sb *strings.Builder, n *Node) {
	sb.WriteByte(byte(n.Type))
	switch n.Type {
	case TypeString:
		sb.WriteString(strconv.Quote(n.Str))
	case TypeBinary:
		sb.WriteString(strconv.Quote(string(n.Bytes)))
	case TypeBool:
		sb.WriteString(strconv.FormatBool(n.Bool))
	case TypeInt, TypeInt64:
		sb.WriteString(strconv.FormatInt(n.Int, 10))
	case TypeUint, TypeUint64:
		sb.WriteString(strconv.FormatUint(n.Uint, 10))
	case TypeFloat:
		sb.WriteString(strconv.FormatUint(uint64(math.Float32bits(n.Float)), 16))
	case TypeDouble:
		sb.WriteString(strconv.FormatUint(math.Float64bits(n.Double), 16))
	case TypeArray:
		sb.WriteByte('[')
		for i := range n.Array {
			writeFingerprint(sb, &n.Array[i])
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	case TypeHash:
		sb.WriteByte('{')
		for _, k := range sortedKeys(n.Hash) {
			v := n.Hash[k]
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			writeFingerprint(sb, &v)
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	}
}
