package byml

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
)

var cmpOpts = []cmp.Option{cmpopts.EquateEmpty()}

func sampleDoc() *Document {
	shared := Hash(map[string]Node{"x": Float(1.5), "y": Float(-2)})
	return New(Hash(map[string]Node{
		"name":    String("Link"),
		"blob":    Binary([]byte{0, 1, 2, 3, 4}),
		"flag":    Bool(true),
		"int":     Int(-42),
		"uint":    Uint(0xFFFFFFFF),
		"float":   Float(0.1),
		"int64":   Int64(-1 << 40),
		"uint64":  Uint64(1 << 63),
		"double":  Double(math.Pi),
		"nothing": Null(),
		"list":    Array(String("a"), String("b"), Int(1), shared, Array()),
		"pos":     shared,
		"empty":   Hash(nil),
	}))
}

// versionBlob is {"Version": 1} as a little-endian version 2 document.
var versionBlob = []byte{
	'B', 'Y', 0x02, 0x00, // magic, version
	0x10, 0x00, 0x00, 0x00, // key table
	0x00, 0x00, 0x00, 0x00, // no string table
	0x24, 0x00, 0x00, 0x00, // root
	0xC2, 0x01, 0x00, 0x00, // key table: 1 string
	0x0C, 0x00, 0x00, 0x00,
	0x14, 0x00, 0x00, 0x00,
	'V', 'e', 'r', 's', 'i', 'o', 'n', 0x00,
	0xC1, 0x01, 0x00, 0x00, // root hash: 1 entry
	0x00, 0x00, 0x00, 0xD1, // key 0, int
	0x01, 0x00, 0x00, 0x00,
}

func TestVersionBlob(t *testing.T) {
	doc, err := Decode(versionBlob, format.LittleEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := New(Hash(map[string]Node{"Version": Int(1)}))
	if diff := cmp.Diff(want, doc, cmpOpts...); diff != "" {
		t.Fatalf("decoded mismatch (-want +got):\n%s", diff)
	}

	text, err := RenderText(doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(text), "Version: 1") {
		t.Errorf("text missing %q:\n%s", "Version: 1", text)
	}

	parsed, err := ParseText(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data, err := Encode(parsed, format.LittleEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(data, versionBlob) {
		t.Errorf("encode mismatch:\ngot  % x\nwant % x", data, versionBlob)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, order := range []format.ByteOrder{format.LittleEndian, format.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			original := sampleDoc()
			data, err := Encode(original, order)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			kind, detected, err := format.Detect(data, "")
			if err != nil || kind != format.KeyedData || detected != order {
				t.Fatalf("detect = %v, %v, %v", kind, detected, err)
			}

			decoded, err := Decode(data, order)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(original, decoded, cmpOpts...); diff != "" {
				t.Errorf("decoded mismatch (-want +got):\n%s", diff)
			}

			again, err := Encode(decoded, order)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(again, data) {
				t.Error("re-encoded bytes differ")
			}
		})
	}
}

func TestByteOrdersDiffer(t *testing.T) {
	le, err := Encode(sampleDoc(), format.LittleEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	be, err := Encode(sampleDoc(), format.BigEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(le) != len(be) {
		t.Errorf("sizes differ: %d and %d", len(le), len(be))
	}
	if bytes.Equal(le, be) {
		t.Error("little and big endian encodings are identical")
	}
}

func TestDedup(t *testing.T) {
	shared := Array(Int64(7), String("s"))
	doc := New(Hash(map[string]Node{"a": shared, "b": shared}))
	data, err := Encode(doc, format.LittleEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	root := binary.LittleEndian.Uint32(data[12:])
	a := binary.LittleEndian.Uint32(data[root+8:])
	b := binary.LittleEndian.Uint32(data[root+16:])
	if a != b {
		t.Errorf("identical arrays written twice: 0x%x and 0x%x", a, b)
	}
}

func TestNullRoot(t *testing.T) {
	doc := New(Null())
	data, err := Encode(doc, format.BigEndian)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != HeaderSize {
		t.Errorf("size = %d, want %d", len(data), HeaderSize)
	}

	var h Header
	h.DecodeFrom(data)
	if h.RootOffset != 0 || h.KeyTableOffset != 0 || h.StringTableOffset != 0 {
		t.Errorf("header = %+v, want zero offsets", h)
	}

	decoded, err := Decode(data, format.BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Root.Type != TypeNull {
		t.Errorf("root = %s, want Null", decoded.Root.Type)
	}

	text, err := RenderText(decoded)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	parsed, err := ParseText(text)
	if err != nil {
		t.Fatalf("parse %q: %v", text, err)
	}
	if parsed.Root.Type != TypeNull {
		t.Errorf("parsed root = %s, want Null", parsed.Root.Type)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("OrderMismatch", func(t *testing.T) {
		if _, err := Decode(versionBlob, format.BigEndian); !errors.Is(err, format.ErrCodecMismatch) {
			t.Errorf("expected ErrCodecMismatch, got %v", err)
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		data := append([]byte{}, versionBlob...)
		copy(data, "XX")
		if _, err := Decode(data, format.LittleEndian); !errors.Is(err, format.ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"Short", func(b []byte) []byte { return b[:8] }},
		{"Version", func(b []byte) []byte { b[2] = 9; return b }},
		{"Truncated", func(b []byte) []byte { return b[:len(b)-4] }},
		{"RootOutOfRange", func(b []byte) []byte { b[12] = 0xF0; return b }},
		{"KeyIndex", func(b []byte) []byte { b[0x28] = 5; return b }},
		{"NodeType", func(b []byte) []byte { b[0x2B] = 0x42; return b }},
		{"RootNotContainer", func(b []byte) []byte { b[0x24] = byte(TypeInt); return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte{}, versionBlob...))
			if _, err := Decode(data, format.LittleEndian); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	original := sampleDoc()
	text, err := RenderText(original)
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
}

func TestTextForm(t *testing.T) {
	text, err := RenderText(sampleDoc())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"name: Link",
		"blob: !!binary AAECAwQ=",
		"uint: !u 0xffffffff",
		"int64: !l -1099511627776",
		"uint64: !ul 0x8000000000000000",
		"double: !f64 3.141592653589793",
		"float: 0.1",
		"nothing: null",
		"empty: {}",
	} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	if strings.HasPrefix(string(text), versionTagPrefix) {
		t.Errorf("default version rendered a version tag:\n%s", text)
	}
}

func TestVersionTag(t *testing.T) {
	doc := sampleDoc()
	doc.Version = 3

	text, err := RenderText(doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(string(text), "!v3") {
		t.Errorf("expected !v3 root tag:\n%s", text)
	}
	parsed, err := ParseText(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Version != 3 {
		t.Errorf("version = %d, want 3", parsed.Version)
	}

	t.Run("DefaultVersionOption", func(t *testing.T) {
		text, err := RenderText(doc, WithDefaultVersion(3))
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if strings.HasPrefix(string(text), "!v") {
			t.Errorf("unexpected version tag:\n%s", text)
		}
		parsed, err := ParseText(text, WithDefaultVersion(3))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if parsed.Version != 3 {
			t.Errorf("version = %d, want 3", parsed.Version)
		}
	})
}

func TestFloatBits(t *testing.T) {
	floats := []float32{math.Float32frombits(0x7FC00001), float32(math.Copysign(0, -1)), math.Float32frombits(1)}
	doubles := []float64{math.Float64frombits(0x7FF0000000000002), math.Copysign(0, -1), math.SmallestNonzeroFloat64}

	var items []Node
	for _, f := range floats {
		items = append(items, Float(f))
	}
	for _, d := range doubles {
		items = append(items, Double(d))
	}
	text, err := RenderText(New(Array(items...)))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	parsed, err := ParseText(text)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, text)
	}

	got := parsed.Root.Array
	for i, f := range floats {
		if math.Float32bits(got[i].Float) != math.Float32bits(f) {
			t.Errorf("float %d: got 0x%08x, want 0x%08x", i, math.Float32bits(got[i].Float), math.Float32bits(f))
		}
	}
	for i, d := range doubles {
		g := got[len(floats)+i]
		if g.Type != TypeDouble || math.Float64bits(g.Double) != math.Float64bits(d) {
			t.Errorf("double %d: got %s 0x%016x, want 0x%016x", i, g.Type, math.Float64bits(g.Double), math.Float64bits(d))
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
		{"Syntax", "a: [\n", 0},
		{"ScalarRoot", "hello\n", 1},
		{"BadTag", "a: 1\nb: !nope 2\n", 2},
		{"UintOverflow", "a: !u 0x100000000\n", 1},
		{"DuplicateKey", "a: 1\na: 2\n", 2},
		{"BadBase64", "a: !!binary '%%%'\n", 1},
		{"BadVersionTag", "!vx\na: 1\n", 1},
		{"VersionOutOfRange", "!v9\na: 1\n", 1},
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
	original := New(Hash(map[string]Node{
		"name":       String("\xff\xfe"),
		"\x82\xa0id": String("ok"),
		"list":       Array(String("\x80"), String("plain")),
	}))

	for _, order := range []format.ByteOrder{format.LittleEndian, format.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			data, err := Encode(original, order)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := Decode(data, order)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			text, err := RenderText(decoded)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if !strings.Contains(string(text), "!strb") {
				t.Errorf("expected base64 strings:\n%s", text)
			}
			parsed, err := ParseText(text)
			if err != nil {
				t.Fatalf("parse: %v\n%s", err, text)
			}
			if diff := cmp.Diff(original, parsed, cmpOpts...); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
			again, err := Encode(parsed, order)
			if err != nil {
				t.Fatalf("encode parsed: %v", err)
			}
			if !bytes.Equal(again, data) {
				t.Error("parsed text encodes differently")
			}
		})
	}
}

// sharedChain builds a little-endian document of depth nested arrays where
// each array holds two references to the next one.
func sharedChain(depth int) []byte {
	data := []byte{'B', 'Y', 0x02, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0x10, 0, 0, 0}
	for i := 0; i < depth; i++ {
		next := uint32(HeaderSize + (i+1)*16)
		data = append(data, 0xC0, 0x02, 0x00, 0x00, 0xC0, 0xC0, 0x00, 0x00)
		data = binary.LittleEndian.AppendUint32(data, next)
		data = binary.LittleEndian.AppendUint32(data, next)
	}
	return append(data, 0xC0, 0x00, 0x00, 0x00)
}

func TestSharedContainers(t *testing.T) {
	t.Run("Decodes", func(t *testing.T) {
		doc, err := Decode(sharedChain(12), format.LittleEndian)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		n := doc.Root
		for level := 0; level < 12; level++ {
			if n.Type != TypeArray || len(n.Array) != 2 {
				t.Fatalf("level %d: got %s with %d items", level, n.Type, len(n.Array))
			}
			if diff := cmp.Diff(n.Array[0], n.Array[1], cmpOpts...); diff != "" {
				t.Fatalf("level %d: references differ (-first +second):\n%s", level, diff)
			}
			n = n.Array[0]
		}
		if n.Type != TypeArray || len(n.Array) != 0 {
			t.Errorf("innermost: got %s with %d items, want empty array", n.Type, len(n.Array))
		}
	})

	for _, depth := range []int{40, 64, maxDepth + 8} {
		t.Run("Expansion", func(t *testing.T) {
			if _, err := Decode(sharedChain(depth), format.LittleEndian); err == nil {
				t.Errorf("depth %d: expected error", depth)
			}
		})
	}
}
