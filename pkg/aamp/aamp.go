// Package aamp reads and writes AAMP parameter archives, the typed
// parameter trees used by game configuration data.
//
// Every key in a tree is stored as a CRC32 hash. Names resolved through a
// names.Table are used for display only.
package aamp

import (
	"fmt"

	"github.com/EchoTools/bintext/pkg/names"
)

// Name is the hashed identifier of a list, object or parameter.
type Name uint32

// NameOf hashes a readable name.
func NameOf(s string) Name {
	return Name(names.Hash(s))
}

// RootName is the name of the root list of every parameter archive.
var RootName = NameOf("param_root")

func (n Name) String() string {
	return fmt.Sprintf("0x%08x", uint32(n))
}

// Type is the binary type tag of a parameter.
type Type uint8

const (
	TypeBool Type = iota
	TypeF32
	TypeInt
	TypeVec2
	TypeVec3
	TypeVec4
	TypeColor
	TypeString32
	TypeString64
	TypeCurve1
	TypeCurve2
	TypeCurve3
	TypeCurve4
	TypeBufferInt
	TypeBufferF32
	TypeString256
	TypeQuat
	TypeU32
	TypeBufferU32
	TypeBufferBinary
	TypeStringRef
	typeCount
)

var typeNames = [typeCount]string{
	"Bool", "F32", "Int", "Vec2", "Vec3", "Vec4", "Color", "String32",
	"String64", "Curve1", "Curve2", "Curve3", "Curve4", "BufferInt",
	"BufferF32", "String256", "Quat", "U32", "BufferU32", "BufferBinary",
	"StringRef",
}

func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsString reports whether values of t live in the string section.
func (t Type) IsString() bool {
	switch t {
	case TypeString32, TypeString64, TypeString256, TypeStringRef:
		return true
	}
	return false
}

// IsBuffer reports whether values of t carry an element count prefix.
func (t Type) IsBuffer() bool {
	switch t {
	case TypeBufferInt, TypeBufferF32, TypeBufferU32, TypeBufferBinary:
		return true
	}
	return false
}

// vectorLen returns the float count of fixed-size vector types.
func (t Type) vectorLen() int {
	switch t {
	case TypeVec2:
		return 2
	case TypeVec3:
		return 3
	case TypeVec4, TypeColor, TypeQuat:
		return 4
	}
	return 0
}

// curveCount returns the number of curves of curve types.
func (t Type) curveCount() int {
	if t >= TypeCurve1 && t <= TypeCurve4 {
		return int(t-TypeCurve1) + 1
	}
	return 0
}

// CurveSize is the binary size of a single curve.
const CurveSize = 0x80

// Curve is a hermite curve description.
type Curve struct {
	A      uint32
	B      uint32
	Floats [30]float32
}

// Parameter is a typed value. Type selects which field holds the value:
// Bool, F32, Int or U32 for scalars, Floats for vectors, colours, quaternions
// and float buffers, Ints, U32s and Bytes for the other buffers, Curves for
// curve types and Str for all string types.
type Parameter struct {
	Type   Type
	Bool   bool
	F32    float32
	Int    int32
	U32    uint32
	Floats []float32
	Ints   []int32
	U32s   []uint32
	Bytes  []byte
	Curves []Curve
	Str    string
}

// Bool returns a boolean parameter.
func Bool(v bool) Parameter { return Parameter{Type: TypeBool, Bool: v} }

// F32 returns a float parameter.
func F32(v float32) Parameter { return Parameter{Type: TypeF32, F32: v} }

// Int returns a signed integer parameter.
func Int(v int32) Parameter { return Parameter{Type: TypeInt, Int: v} }

// U32 returns an unsigned integer parameter.
func U32(v uint32) Parameter { return Parameter{Type: TypeU32, U32: v} }

// Vec returns a vector parameter of type t (Vec2, Vec3, Vec4, Color or Quat).
func Vec(t Type, v ...float32) Parameter { return Parameter{Type: t, Floats: v} }

// String returns a string parameter of type t.
func String(t Type, s string) Parameter { return Parameter{Type: t, Str: s} }

// Validate checks that the populated fields match Type.
func (p *Parameter) Validate() error {
	switch {
	case p.Type >= typeCount:
		return fmt.Errorf("unknown parameter type %d", p.Type)
	case p.Type.vectorLen() > 0 && len(p.Floats) != p.Type.vectorLen():
		return fmt.Errorf("%s needs %d floats, got %d", p.Type, p.Type.vectorLen(), len(p.Floats))
	case p.Type.curveCount() > 0 && len(p.Curves) != p.Type.curveCount():
		return fmt.Errorf("%s needs %d curves, got %d", p.Type, p.Type.curveCount(), len(p.Curves))
	}
	return nil
}

// NamedParameter is an entry of an object.
type NamedParameter struct {
	Name  Name
	Param Parameter
}

// Object is an ordered set of parameters.
type Object struct {
	Params []NamedParameter
}

// Get returns the parameter with the given name.
func (o *Object) Get(name Name) (*Parameter, bool) {
	for i := range o.Params {
		if o.Params[i].Name == name {
			return &o.Params[i].Param, true
		}
	}
	return nil, false
}

// Set replaces or appends a parameter.
func (o *Object) Set(name Name, p Parameter) {
	if cur, ok := o.Get(name); ok {
		*cur = p
		return
	}
	o.Params = append(o.Params, NamedParameter{Name: name, Param: p})
}

// NamedObject is an object entry of a list.
type NamedObject struct {
	Name   Name
	Object Object
}

// NamedList is a child list entry of a list.
type NamedList struct {
	Name Name
	List List
}

// List holds ordered child objects and lists.
type List struct {
	Objects []NamedObject
	Lists   []NamedList
}

// Object returns the child object with the given name.
func (l *List) Object(name Name) (*Object, bool) {
	for i := range l.Objects {
		if l.Objects[i].Name == name {
			return &l.Objects[i].Object, true
		}
	}
	return nil, false
}

// List returns the child list with the given name.
func (l *List) List(name Name) (*List, bool) {
	for i := range l.Lists {
		if l.Lists[i].Name == name {
			return &l.Lists[i].List, true
		}
	}
	return nil, false
}

// ParameterIO is a complete parameter archive.
type ParameterIO struct {
	Version uint32
	Type    string
	Root    List
}

// New returns an empty archive with the usual "xml" type.
func New() *ParameterIO {
	return &ParameterIO{Type: "xml"}
}
