package byml

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EchoTools/bintext/internal/yamltext"
)

const (
	uintTag   = "!u"
	int64Tag  = "!l"
	uint64Tag = "!ul"
	doubleTag = "!f64"

	versionTagPrefix = "!v"
)

// Option configures the text form.
type Option func(*textOptions)

type textOptions struct {
	version uint16
}

// WithDefaultVersion sets the version that needs no tag on the root node.
// Text without a version tag parses to this version.
func WithDefaultVersion(v uint16) Option {
	return func(o *textOptions) {
		o.version = v
	}
}

func newTextOptions(opts []Option) *textOptions {
	o := &textOptions{version: DefaultVersion}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RenderText renders the document as plain YAML. Types YAML cannot infer
// carry a tag, and the root carries !v<N> when the version is not the
// default one.
func RenderText(doc *Document, opts ...Option) ([]byte, error) {
	o := newTextOptions(opts)
	root, err := renderNode(&doc.Root)
	if err != nil {
		return nil, err
	}
	if doc.Version != o.version {
		root.Tag = versionTagPrefix + strconv.Itoa(int(doc.Version))
	}
	return yamltext.Encode(root)
}

func renderNode(n *Node) (*yaml.Node, error) {
	switch n.Type {
	case TypeString:
		return yamltext.Str(n.Str), nil
	case TypeBinary:
		return yamltext.Scalar(yamltext.BinaryTag, base64.StdEncoding.EncodeToString(n.Bytes)), nil
	case TypeBool:
		return yamltext.Bool(n.Bool), nil
	case TypeInt:
		return yamltext.Int(n.Int), nil
	case TypeUint:
		return yamltext.Hex(uintTag, n.Uint), nil
	case TypeFloat:
		return yamltext.Float32(n.Float), nil
	case TypeInt64:
		return yamltext.Scalar(int64Tag, strconv.FormatInt(n.Int, 10)), nil
	case TypeUint64:
		return yamltext.Hex(uint64Tag, n.Uint), nil
	case TypeDouble:
		return yamltext.Float64(doubleTag, n.Double), nil
	case TypeNull:
		return yamltext.Null(), nil
	case TypeArray:
		seq := yamltext.Seq("", false)
		for i := range n.Array {
			item, err := renderNode(&n.Array[i])
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, item)
		}
		return seq, nil
	case TypeHash:
		m := yamltext.Map("")
		for _, k := range sortedKeys(n.Hash) {
			v := n.Hash[k]
			value, err := renderNode(&v)
			if err != nil {
				return nil, err
			}
			yamltext.Append(m, yamltext.Str(k), value)
		}
		return m, nil
	}
	return nil, fmt.Errorf("cannot render %s node", n.Type)
}

// ParseText parses the YAML form produced by RenderText.
func ParseText(text []byte, opts ...Option) (*Document, error) {
	o := newTextOptions(opts)
	root, err := yamltext.Parse(text)
	if err != nil {
		return nil, err
	}

	doc := &Document{Version: o.version}
	if tag := root.ShortTag(); strings.HasPrefix(tag, versionTagPrefix) {
		v, err := strconv.ParseUint(strings.TrimPrefix(tag, versionTagPrefix), 10, 16)
		if err != nil {
			return nil, yamltext.Errorf(root, "invalid version tag %s", tag)
		}
		doc.Version = uint16(v)
		// the version tag replaces the root's own tag
		clone := *root
		clone.Tag = ""
		root = &clone
	}
	if err := validVersion(doc.Version); err != nil {
		return nil, yamltext.Errorf(root, "%v", err)
	}

	doc.Root, err = parseNode(root, 0)
	if err != nil {
		return nil, err
	}
	if doc.Root.Type != TypeNull && !doc.Root.Type.IsContainer() {
		return nil, yamltext.Errorf(root, "root must be a mapping, a sequence or null")
	}
	return doc, nil
}

func parseNode(n *yaml.Node, depth int) (Node, error) {
	if depth > maxDepth {
		return Node{}, yamltext.Errorf(n, "containers nested deeper than %d", maxDepth)
	}

	switch n.Kind {
	case yaml.MappingNode:
		if err := yamltext.ExpectKind(n, yaml.MappingNode, yamltext.MapTag); err != nil {
			return Node{}, err
		}
		h := Hash(make(map[string]Node, len(n.Content)/2))
		for _, kv := range yamltext.Pairs(n) {
			key, value := kv[0], kv[1]
			if key.Kind != yaml.ScalarNode {
				return Node{}, yamltext.Errorf(key, "keys must be scalars")
			}
			k, err := yamltext.StringValue(key)
			if err != nil {
				return Node{}, err
			}
			if _, dup := h.Hash[k]; dup {
				return Node{}, yamltext.Errorf(key, "duplicate key %q", k)
			}
			v, err := parseNode(value, depth+1)
			if err != nil {
				return Node{}, err
			}
			h.Hash[k] = v
		}
		return h, nil
	case yaml.SequenceNode:
		if err := yamltext.ExpectKind(n, yaml.SequenceNode, yamltext.SeqTag); err != nil {
			return Node{}, err
		}
		items := yamltext.Items(n)
		a := Node{Type: TypeArray, Array: make([]Node, 0, len(items))}
		for _, item := range items {
			v, err := parseNode(item, depth+1)
			if err != nil {
				return Node{}, err
			}
			a.Array = append(a.Array, v)
		}
		return a, nil
	case yaml.ScalarNode:
		return parseScalar(n)
	}
	return Node{}, yamltext.Errorf(n, "unexpected node")
}

func parseScalar(n *yaml.Node) (Node, error) {
	switch tag := n.ShortTag(); tag {
	case yamltext.StrTag:
		return String(n.Value), nil
	case yamltext.StrBytesTag:
		s, err := yamltext.DecodeBytes(n)
		return String(s), err
	case yamltext.NullTag:
		return Null(), nil
	case yamltext.BinaryTag:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return Node{}, yamltext.Errorf(n, "invalid base64: %v", err)
		}
		return Binary(b), nil
	case yamltext.BoolTag:
		v, err := yamltext.ParseBool(n)
		return Bool(v), err
	case yamltext.IntTag:
		v, err := yamltext.ParseInt(n, 64)
		if err != nil {
			return Node{}, err
		}
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Int64(v), nil
		}
		return Int(int32(v)), nil
	case uintTag:
		v, err := yamltext.ParseUint(n, 32)
		return Uint(uint32(v)), err
	case int64Tag:
		v, err := yamltext.ParseInt(n, 64)
		return Int64(v), err
	case uint64Tag:
		v, err := yamltext.ParseUint(n, 64)
		return Uint64(v), err
	case yamltext.FloatTag, yamltext.Float32BitsTag:
		v, err := yamltext.ParseFloat32(n)
		return Float(v), err
	case doubleTag, yamltext.Float64BitsTag:
		v, err := yamltext.ParseFloat64(n, doubleTag)
		return Double(v), err
	default:
		return Node{}, yamltext.Errorf(n, "unsupported tag %s", tag)
	}
}
