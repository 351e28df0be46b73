// Package byml reads and writes BYML keyed documents: trees of hashes,
// arrays and typed scalars sharing one key table and one string table.
package byml

import (
	"fmt"
)

// Type is the binary node type tag.
type Type uint8

const (
	TypeString      Type = 0xA0
	TypeBinary      Type = 0xA1
	TypeArray       Type = 0xC0
	TypeHash        Type = 0xC1
	TypeStringTable Type = 0xC2
	TypeBool        Type = 0xD0
	TypeInt         Type = 0xD1
	TypeFloat       Type = 0xD2
	TypeUint        Type = 0xD3
	TypeInt64       Type = 0xD4
	TypeUint64      Type = 0xD5
	TypeDouble      Type = 0xD6
	TypeNull        Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeBinary:
		return "Binary"
	case TypeArray:
		return "Array"
	case TypeHash:
		return "Hash"
	case TypeStringTable:
		return "StringTable"
	case TypeBool:
		return "Bool"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeUint:
		return "Uint"
	case TypeInt64:
		return "Int64"
	case TypeUint64:
		return "Uint64"
	case TypeDouble:
		return "Double"
	case TypeNull:
		return "Null"
	}
	return fmt.Sprintf("Type(0x%02x)", uint8(t))
}

// IsContainer reports whether t is an array or a hash.
func (t Type) IsContainer() bool {
	return t == TypeArray || t == TypeHash
}

// inline values fit in the 4-byte value slot of their parent.
func (t Type) inline() bool {
	switch t {
	case TypeString, TypeBool, TypeInt, TypeFloat, TypeUint, TypeNull:
		return true
	}
	return false
}

const (
	// DefaultVersion is the version written when none is requested.
	DefaultVersion = 2
	MinVersion     = 1
	MaxVersion     = 7
)

// Node is a document value. Type selects the field that holds it; Int holds
// both Int and Int64 values, Uint both Uint and Uint64.
type Node struct {
	Type   Type
	Str    string
	Bytes  []byte
	Bool   bool
	Int    int64
	Uint   uint64
	Float  float32
	Double float64
	Array  []Node
	Hash   map[string]Node
}

// String returns a String node.
func String(s string) Node { return Node{Type: TypeString, Str: s} }

// Binary returns a Binary node.
func Binary(b []byte) Node { return Node{Type: TypeBinary, Bytes: b} }

// Bool returns a Bool node.
func Bool(v bool) Node { return Node{Type: TypeBool, Bool: v} }

// Int returns a 32-bit Int node.
func Int(v int32) Node { return Node{Type: TypeInt, Int: int64(v)} }

// Uint returns a 32-bit Uint node.
func Uint(v uint32) Node { return Node{Type: TypeUint, Uint: uint64(v)} }

// Float returns a single precision Float node.
func Float(v float32) Node { return Node{Type: TypeFloat, Float: v} }

// Int64 returns an Int64 node.
func Int64(v int64) Node { return Node{Type: TypeInt64, Int: v} }

// Uint64 returns a Uint64 node.
func Uint64(v uint64) Node { return Node{Type: TypeUint64, Uint: v} }

// Double returns a double precision node.
func Double(v float64) Node { return Node{Type: TypeDouble, Double: v} }

// Null returns a Null node.
func Null() Node { return Node{Type: TypeNull} }

// Array returns an Array node holding items.
func Array(items ...Node) Node { return Node{Type: TypeArray, Array: items} }

// Hash returns a Hash node. A nil map is replaced by an empty one.
func Hash(m map[string]Node) Node {
	if m == nil {
		m = make(map[string]Node)
	}
	return Node{Type: TypeHash, Hash: m}
}

// Get returns the hash entry for key.
func (n *Node) Get(key string) (Node, bool) {
	v, ok := n.Hash[key]
	return v, ok
}

// Document is a complete keyed document. A null root is stored as a zero
// root offset.
type Document struct {
	Version uint16
	Root    Node
}

// New returns a document with the given root and the default version.
func New(root Node) *Document {
	return &Document{Version: DefaultVersion, Root: root}
}

func validVersion(v uint16) error {
	if v < MinVersion || v > MaxVersion {
		return fmt.Errorf("unsupported version %d", v)
	}
	return nil
}
