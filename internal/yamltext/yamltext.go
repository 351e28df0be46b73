// Package yamltext holds the yaml.v3 node helpers shared by the text forms
// of the binary codecs.
package yamltext

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/EchoTools/bintext/pkg/format"
)

// Standard tags as reported by yaml.Node.ShortTag.
const (
	StrTag    = "!!str"
	IntTag    = "!!int"
	FloatTag  = "!!float"
	BoolTag   = "!!bool"
	NullTag   = "!!null"
	MapTag    = "!!map"
	SeqTag    = "!!seq"
	BinaryTag = "!!binary"

	// StrBytesTag carries a string that is not valid UTF-8 as base64.
	StrBytesTag = "!strb"

	// Float32BitsTag and Float64BitsTag carry NaNs with non-default payloads.
	Float32BitsTag = "!f32bits"
	Float64BitsTag = "!f64bits"
)

const (
	canonicalNaN32 = 0x7FC00000
	canonicalNaN64 = 0x7FF8000000000001
)

// Parse decodes text into its root node.
func Parse(text []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, format.InvalidText(err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, format.TextErrorf(0, 0, "empty document")
	}
	return Resolve(doc.Content[0]), nil
}

// Encode renders a node tree with two-space indentation.
func Encode(node *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	return buf.Bytes(), nil
}

// Resolve follows aliases.
func Resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// Errorf reports a grammar violation at the position of n.
func Errorf(n *yaml.Node, msg string, args ...any) error {
	if n == nil {
		return format.TextErrorf(0, 0, msg, args...)
	}
	return format.TextErrorf(n.Line, n.Column, msg, args...)
}

// Scalar builds a scalar node.
func Scalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

// Str builds a string scalar; the encoder quotes it when needed.
func Str(s string) *yaml.Node {
	return String(StrTag, s)
}

// String builds a string scalar with the given tag. YAML cannot hold bytes
// that are not UTF-8, so such strings are written as base64 under
// BytesTag(tag).
func String(tag, s string) *yaml.Node {
	if utf8.ValidString(s) {
		return Scalar(tag, s)
	}
	return Scalar(BytesTag(tag), base64.StdEncoding.EncodeToString([]byte(s)))
}

// BytesTag returns the tag String uses for a tag's non-UTF-8 form.
func BytesTag(tag string) string {
	if tag == StrTag {
		return StrBytesTag
	}
	return tag + "b"
}

// DecodeBytes reads the base64 value of a scalar written under a BytesTag.
func DecodeBytes(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", Errorf(n, "expected a base64 string")
	}
	b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
	if err != nil {
		return "", Errorf(n, "invalid base64: %v", err)
	}
	return string(b), nil
}

// StringValue returns the string a scalar holds, decoding the StrBytesTag
// form written by Str.
func StringValue(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", Errorf(n, "expected a string")
	}
	if n.ShortTag() == StrBytesTag {
		return DecodeBytes(n)
	}
	return n.Value, nil
}

// Int builds a decimal integer scalar.
func Int(v int64) *yaml.Node {
	return Scalar(IntTag, strconv.FormatInt(v, 10))
}

// Uint builds a decimal unsigned integer scalar.
func Uint(v uint64) *yaml.Node {
	return Scalar(IntTag, strconv.FormatUint(v, 10))
}

// Hex builds a hexadecimal scalar carrying a custom tag.
func Hex(tag string, v uint64) *yaml.Node {
	return Scalar(tag, "0x"+strconv.FormatUint(v, 16))
}

// Bool builds a boolean scalar.
func Bool(v bool) *yaml.Node {
	return Scalar(BoolTag, strconv.FormatBool(v))
}

// Null builds a null scalar.
func Null() *yaml.Node {
	return Scalar(NullTag, "null")
}

// Map builds a block mapping with the given tag ("" for a plain mapping).
func Map(tag string) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: tag}
}

// Seq builds a sequence with the given tag; flow sequences print on one line.
func Seq(tag string, flow bool) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: tag}
	if flow {
		n.Style = yaml.FlowStyle
	}
	return n
}

// Append adds a key/value pair to a mapping node.
func Append(m *yaml.Node, key, value *yaml.Node) {
	m.Content = append(m.Content, key, value)
}

// Pairs returns the key/value pairs of a mapping node.
func Pairs(m *yaml.Node) [][2]*yaml.Node {
	pairs := make([][2]*yaml.Node, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{Resolve(m.Content[i]), Resolve(m.Content[i+1])})
	}
	return pairs
}

// Items returns the resolved elements of a sequence node.
func Items(s *yaml.Node) []*yaml.Node {
	items := make([]*yaml.Node, len(s.Content))
	for i, n := range s.Content {
		items[i] = Resolve(n)
	}
	return items
}

// Float32 builds a scalar that reproduces f bit for bit when parsed back.
func Float32(f float32) *yaml.Node {
	bits := math.Float32bits(f)
	switch {
	case f != f:
		if bits != canonicalNaN32 {
			return Hex(Float32BitsTag, uint64(bits))
		}
		return Scalar(FloatTag, ".nan")
	case math.IsInf(float64(f), 1):
		return Scalar(FloatTag, ".inf")
	case math.IsInf(float64(f), -1):
		return Scalar(FloatTag, "-.inf")
	}
	return Scalar(FloatTag, floatLiteral(strconv.FormatFloat(float64(f), 'g', -1, 32)))
}

// Float64 is Float32 for doubles.
func Float64(tag string, f float64) *yaml.Node {
	bits := math.Float64bits(f)
	switch {
	case f != f:
		if bits != canonicalNaN64 {
			return Hex(Float64BitsTag, bits)
		}
		return Scalar(tag, ".nan")
	case math.IsInf(f, 1):
		return Scalar(tag, ".inf")
	case math.IsInf(f, -1):
		return Scalar(tag, "-.inf")
	}
	return Scalar(tag, floatLiteral(strconv.FormatFloat(f, 'g', -1, 64)))
}

// floatLiteral keeps integral values from reading back as integers.
func floatLiteral(s string) string {
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	return s + ".0"
}

// ParseFloat32 reads a float scalar. Integer scalars are accepted where a
// float is expected.
func ParseFloat32(n *yaml.Node) (float32, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, Errorf(n, "expected a float")
	}
	switch n.ShortTag() {
	case Float32BitsTag:
		bits, err := strconv.ParseUint(n.Value, 0, 32)
		if err != nil {
			return 0, Errorf(n, "invalid float bits %q", n.Value)
		}
		return math.Float32frombits(uint32(bits)), nil
	case FloatTag, IntTag:
	default:
		return 0, Errorf(n, "expected a float, got %s", n.ShortTag())
	}

	switch special(n.Value) {
	case "nan":
		return math.Float32frombits(canonicalNaN32), nil
	case "+inf":
		return float32(math.Inf(1)), nil
	case "-inf":
		return float32(math.Inf(-1)), nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 32)
	if err != nil {
		return 0, Errorf(n, "invalid float %q", n.Value)
	}
	return float32(f), nil
}

// ParseFloat64 reads a double scalar written by Float64 with the given tag.
func ParseFloat64(n *yaml.Node, tag string) (float64, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, Errorf(n, "expected a float")
	}
	switch n.ShortTag() {
	case Float64BitsTag:
		bits, err := strconv.ParseUint(n.Value, 0, 64)
		if err != nil {
			return 0, Errorf(n, "invalid float bits %q", n.Value)
		}
		return math.Float64frombits(bits), nil
	case tag, FloatTag, IntTag:
	default:
		return 0, Errorf(n, "expected a float, got %s", n.ShortTag())
	}

	switch special(n.Value) {
	case "nan":
		return math.Float64frombits(canonicalNaN64), nil
	case "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
	if err != nil {
		return 0, Errorf(n, "invalid float %q", n.Value)
	}
	return f, nil
}

func special(v string) string {
	switch strings.ToLower(v) {
	case ".nan":
		return "nan"
	case ".inf", "+.inf":
		return "+inf"
	case "-.inf":
		return "-inf"
	}
	return ""
}

// ParseInt reads a signed integer scalar of the given bit size.
func ParseInt(n *yaml.Node, bits int) (int64, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, Errorf(n, "expected an integer")
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(n.Value, "_", ""), 0, bits)
	if err != nil {
		return 0, Errorf(n, "invalid %d-bit integer %q", bits, n.Value)
	}
	return v, nil
}

// ParseUint reads an unsigned integer scalar of the given bit size.
func ParseUint(n *yaml.Node, bits int) (uint64, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, Errorf(n, "expected an unsigned integer")
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(n.Value, "_", ""), 0, bits)
	if err != nil {
		return 0, Errorf(n, "invalid %d-bit unsigned integer %q", bits, n.Value)
	}
	return v, nil
}

// ParseBool reads a boolean scalar.
func ParseBool(n *yaml.Node) (bool, error) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == BoolTag {
		switch strings.ToLower(n.Value) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, Errorf(n, "expected a boolean, got %q", n.Value)
}

// ExpectKind checks the node kind and, when tag is not empty, its tag.
func ExpectKind(n *yaml.Node, kind yaml.Kind, tag string) error {
	if n == nil {
		return Errorf(n, "missing value")
	}
	if n.Kind != kind {
		return Errorf(n, "expected %s", kindName(kind))
	}
	if tag != "" && n.ShortTag() != tag {
		return Errorf(n, "expected %s tag, got %s", tag, n.ShortTag())
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	default:
		return "a document"
	}
}
