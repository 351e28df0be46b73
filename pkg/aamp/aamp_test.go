package aamp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/EchoTools/bintext/pkg/format"
	"github.com/EchoTools/bintext/pkg/names"
)

func testCurve(seed uint32) Curve {
	c := Curve{A: seed, B: seed + 1}
	for i := range c.Floats {
		c.Floats[i] = float32(seed) + float32(i)*0.25
	}
	return c
}

// sampleIO covers every parameter type plus nested and empty lists.
func sampleIO() *ParameterIO {
	pio := New()
	pio.Version = 1

	var obj Object
	obj.Set(NameOf("Enabled"), Bool(true))
	obj.Set(NameOf("Speed"), F32(1.5))
	obj.Set(NameOf("Count"), Int(-7))
	obj.Set(NameOf("Flags"), U32(0xDEADBEEF))
	obj.Set(NameOf("Offset"), Vec(TypeVec2, 1, 2))
	obj.Set(NameOf("Position"), Vec(TypeVec3, 1, 2, 3))
	obj.Set(NameOf("Extents"), Vec(TypeVec4, 1, 2, 3, 4))
	obj.Set(NameOf("Tint"), Vec(TypeColor, 0.5, 0.25, 1, 1))
	obj.Set(NameOf("Rotation"), Vec(TypeQuat, 0, 0, 0, 1))
	obj.Set(NameOf("Label"), String(TypeString32, "short"))
	obj.Set(NameOf("Title"), String(TypeString64, "a longer title"))
	obj.Set(NameOf("Body"), String(TypeString256, "body text"))
	obj.Set(NameOf("Ref"), String(TypeStringRef, "short"))
	obj.Set(NameOf("Curve1"), Parameter{Type: TypeCurve1, Curves: []Curve{testCurve(1)}})
	obj.Set(NameOf("Curve2"), Parameter{Type: TypeCurve2, Curves: []Curve{testCurve(1), testCurve(2)}})
	obj.Set(NameOf("Curve3"), Parameter{Type: TypeCurve3, Curves: []Curve{testCurve(3), testCurve(4), testCurve(5)}})
	obj.Set(NameOf("Curve4"), Parameter{Type: TypeCurve4, Curves: []Curve{testCurve(6), testCurve(7), testCurve(8), testCurve(9)}})
	obj.Set(NameOf("Ints"), Parameter{Type: TypeBufferInt, Ints: []int32{-1, 0, 1}})
	obj.Set(NameOf("Floats"), Parameter{Type: TypeBufferF32, Floats: []float32{0.1, 0.2}})
	obj.Set(NameOf("Words"), Parameter{Type: TypeBufferU32, U32s: []uint32{1, 2, 3}})
	obj.Set(NameOf("Blob"), Parameter{Type: TypeBufferBinary, Bytes: []byte{1, 0, 0, 0}})
	obj.Set(NameOf("Empty"), Parameter{Type: TypeBufferInt})

	var shared Object
	shared.Set(NameOf("Enabled"), Bool(true))
	shared.Set(NameOf("Label"), String(TypeString32, "short"))

	pio.Root.Objects = []NamedObject{{Name: NameOf("Params"), Object: obj}}
	pio.Root.Lists = []NamedList{
		{Name: NameOf("Children"), List: List{
			Objects: []NamedObject{{Name: NameOf("Shared"), Object: shared}},
			Lists:   []NamedList{{Name: NameOf("Leaf")}},
		}},
		{Name: NameOf("Empty")},
	}
	return pio
}

var cmpOpts = []cmp.Option{cmpopts.EquateEmpty()}

func TestBinaryRoundTrip(t *testing.T) {
	original := sampleIO()

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(data[:4], []byte("AAMP")) {
		t.Fatalf("magic = %q", data[:4])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(original, decoded, cmpOpts...); diff != "" {
		t.Errorf("decoded tree mismatch (-want +got):\n%s", diff)
	}

	again, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Errorf("re-encoded bytes differ: got %d bytes, want %d", len(again), len(data))
	}
}

func TestBinaryHeader(t *testing.T) {
	data, err := sampleIO().MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var h Header
	h.DecodeFrom(data)
	if err := h.Validate(len(data)); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if int(h.FileSize) != len(data) {
		t.Errorf("FileSize = %d, want %d", h.FileSize, len(data))
	}
	if h.NumLists != 4 {
		t.Errorf("NumLists = %d, want 4", h.NumLists)
	}
	if h.NumObjects != 2 {
		t.Errorf("NumObjects = %d, want 2", h.NumObjects)
	}
	if h.NumParameters != 24 {
		t.Errorf("NumParameters = %d, want 24", h.NumParameters)
	}

	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	if !bytes.Equal(buf, data[:HeaderSize]) {
		t.Error("header does not re-encode to the same bytes")
	}
}

func TestBinaryDedup(t *testing.T) {
	pio := New()
	var obj Object
	obj.Set(NameOf("A"), String(TypeString32, "same"))
	obj.Set(NameOf("B"), String(TypeStringRef, "same"))
	obj.Set(NameOf("C"), Parameter{Type: TypeBufferInt, Ints: []int32{1}})
	obj.Set(NameOf("D"), Parameter{Type: TypeBufferBinary, Bytes: []byte{1, 0, 0, 0}})
	pio.Root.Objects = []NamedObject{{Name: NameOf("O"), Object: obj}}

	data, err := pio.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var h Header
	h.DecodeFrom(data)
	if h.StringSectionSize != 8 {
		t.Errorf("StringSectionSize = %d, want 8 (one shared string)", h.StringSectionSize)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(pio, decoded, cmpOpts...); diff != "" {
		t.Errorf("buffers with equal bytes but different counts were merged (-want +got):\n%s", diff)
	}
}

func TestFloatBitExactness(t *testing.T) {
	values := []float32{
		0.1,
		float32(math.Copysign(0, -1)),
		math.Float32frombits(1),
		math.MaxFloat32,
		16777216,
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		math.Float32frombits(0x7FC00000),
		math.Float32frombits(0x7FC00001),
		math.Float32frombits(0xFFC00000),
	}

	pio := New()
	pio.Root.Objects = []NamedObject{{Name: NameOf("O"), Object: Object{Params: []NamedParameter{
		{Name: NameOf("F"), Param: Parameter{Type: TypeBufferF32, Floats: values}},
	}}}}

	t.Run("Binary", func(t *testing.T) {
		data, err := pio.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		checkBits(t, values, decoded.Root.Objects[0].Object.Params[0].Param.Floats)
	})

	t.Run("Text", func(t *testing.T) {
		text, err := RenderText(pio, nil)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		parsed, err := ParseText(text)
		if err != nil {
			t.Fatalf("parse: %v\n%s", err, text)
		}
		checkBits(t, values, parsed.Root.Objects[0].Object.Params[0].Param.Floats)
	})
}

func checkBits(t *testing.T, want, got []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d floats, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Float32bits(got[i]) != math.Float32bits(want[i]) {
			t.Errorf("float %d: got bits 0x%08x, want 0x%08x", i, math.Float32bits(got[i]), math.Float32bits(want[i]))
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := sampleIO().MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	t.Run("Short", func(t *testing.T) {
		if _, err := Decode(valid[:HeaderSize-1]); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		data := append([]byte{}, valid...)
		copy(data, "PMAA")
		if _, err := Decode(data); !errors.Is(err, format.ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		data := append([]byte{}, valid[:len(valid)/2]...)
		binary.LittleEndian.PutUint32(data[12:], uint32(len(data)))
		if _, err := Decode(data); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("BigEndian", func(t *testing.T) {
		data := append([]byte{}, valid...)
		binary.LittleEndian.PutUint32(data[8:], flagUTF8)
		if _, err := Decode(data); err == nil {
			t.Error("expected error")
		}
	})
}

func TestTextRoundTrip(t *testing.T) {
	table := names.New()
	for _, name := range []string{"Params", "Children", "Shared", "Enabled", "Speed", "Label", "Curve2"} {
		table.Add(name)
	}

	for _, tc := range []struct {
		name  string
		table *names.Table
	}{
		{"RawHashes", nil},
		{"PartialNames", table},
	} {
		t.Run(tc.name, func(t *testing.T) {
			original := sampleIO()
			text, err := RenderText(original, tc.table)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			parsed, err := ParseText(text)
			if err != nil {
				t.Fatalf("parse: %v\n%s", err, text)
			}
			if diff := cmp.Diff(original, parsed, cmpOpts...); diff != "" {
				t.Errorf("text round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTextForm(t *testing.T) {
	table := names.New()
	table.Add("Params")
	table.Add("Flags")
	table.Add("Position")

	pio := New()
	var obj Object
	obj.Set(NameOf("Flags"), U32(0x1F))
	obj.Set(NameOf("Position"), Vec(TypeVec3, 1, 2.5, -3))
	pio.Root.Objects = []NamedObject{{Name: NameOf("Params"), Object: obj}}

	text, err := RenderText(pio, table)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"!io",
		"version: 0",
		"type: xml",
		"param_root: !list",
		"Params: !obj",
		"Flags: !u 0x1f",
		"Position: !vec3 [1.0, 2.5, -3.0]",
	} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestPlaceholderNames(t *testing.T) {
	key := NameOf("File_42")
	pio := New()
	pio.Root.Objects = []NamedObject{{Name: key, Object: Object{Params: []NamedParameter{
		{Name: key, Param: Int(1)},
	}}}}

	table := names.New()
	if _, ok := table.Resolve(uint32(key)); ok {
		t.Fatal("unpopulated table resolved a placeholder")
	}

	before, err := RenderText(pio, table)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	raw := table.Display(uint32(key))
	if !strings.Contains(string(before), raw+": !obj") {
		t.Errorf("expected raw hash key %s before population:\n%s", raw, before)
	}
	if strings.Contains(string(before), "File_42") {
		t.Errorf("placeholder rendered before population:\n%s", before)
	}

	table.EnsurePopulated()
	after, err := RenderText(pio, table)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(after), "File_42: !obj") {
		t.Errorf("expected File_42 after population:\n%s", after)
	}

	for _, text := range [][]byte{before, after} {
		parsed, err := ParseText(text)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if parsed.Root.Objects[0].Name != key {
			t.Errorf("key hash = %s, want %s", parsed.Root.Objects[0].Name, key)
		}
	}
}

func TestParseTextErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"Empty", "", 0},
		{"Syntax", "!io\nversion: [\n", 0},
		{"NotIO", "version: 0\n", 1},
		{"MissingRoot", "!io\nversion: 0\ntype: xml\n", 1},
		{"UnknownRootKey", "!io\nversion: 0\nextra: 1\nparam_root: !list {}\n", 3},
		{"ShortVector", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: !vec3 [1, 2]\n", 7},
		{"BadTag", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: !nope 1\n", 7},
		{"BadCurve", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: !curve [1, 2, 3]\n", 7},
		{"DuplicateKey", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: 1\n      Bar: 2\n", 8},
		{"IntOverflow", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: 4294967296\n", 7},
		{"ByteOverflow", "!io\nversion: 0\ntype: xml\nparam_root: !list\n  objects:\n    Foo: !obj\n      Bar: !buffer_binary [256]\n", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseText([]byte(tt.text))
			if !errors.Is(err, format.ErrInvalidText) {
				t.Fatalf("expected ErrInvalidText, got %v", err)
			}
			var te *format.TextError
			if tt.line > 0 && (!errors.As(err, &te) || te.Line != tt.line) {
				t.Errorf("error %v: want line %d", err, tt.line)
			}
		})
	}
}

func TestNonUTF8Strings(t *testing.T) {
	table := names.New()
	table.Add("\xffName")

	var obj Object
	obj.Set(NameOf("\xffName"), String(TypeString64, "\x82\xa0"))
	obj.Set(NameOf("Short"), String(TypeString32, "\x80"))
	obj.Set(NameOf("Body"), String(TypeString256, "ok"))
	obj.Set(NameOf("Ref"), String(TypeStringRef, "\xfe\xff"))
	original := New()
	original.Root.Objects = []NamedObject{{Name: NameOf("Params"), Object: obj}}

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	text, err := RenderText(decoded, table)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"!str64b", "!str32b", "!strb"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}

	parsed, err := ParseText(text)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, text)
	}
	if diff := cmp.Diff(original, parsed, cmpOpts...); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	again, err := parsed.MarshalBinary()
	if err != nil {
		t.Fatalf("encode parsed: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("parsed text encodes differently")
	}
}
