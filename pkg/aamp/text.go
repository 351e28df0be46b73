package aamp

import (
	"gopkg.in/yaml.v3"

	"github.com/EchoTools/bintext/internal/yamltext"
	"github.com/EchoTools/bintext/pkg/names"
)

const (
	ioTag   = "!io"
	listTag = "!list"
	objTag  = "!obj"
	u32Tag  = "!u"
)

var typeTags = map[Type]string{
	TypeU32:          u32Tag,
	TypeVec2:         "!vec2",
	TypeVec3:         "!vec3",
	TypeVec4:         "!vec4",
	TypeColor:        "!color",
	TypeQuat:         "!quat",
	TypeString32:     "!str32",
	TypeString64:     "!str64",
	TypeString256:    "!str256",
	TypeCurve1:       "!curve",
	TypeCurve2:       "!curve",
	TypeCurve3:       "!curve",
	TypeCurve4:       "!curve",
	TypeBufferInt:    "!buffer_int",
	TypeBufferF32:    "!buffer_f32",
	TypeBufferU32:    "!buffer_u32",
	TypeBufferBinary: "!buffer_binary",
}

var (
	scalarTypes = map[string]Type{
		"!str32":  TypeString32,
		"!str64":  TypeString64,
		"!str256": TypeString256,
	}
	scalarBytesTypes = map[string]Type{
		yamltext.BytesTag("!str32"):  TypeString32,
		yamltext.BytesTag("!str64"):  TypeString64,
		yamltext.BytesTag("!str256"): TypeString256,
	}
	sequenceTypes = map[string]Type{
		"!vec2":          TypeVec2,
		"!vec3":          TypeVec3,
		"!vec4":          TypeVec4,
		"!color":         TypeColor,
		"!quat":          TypeQuat,
		"!curve":         TypeCurve1,
		"!buffer_int":    TypeBufferInt,
		"!buffer_f32":    TypeBufferF32,
		"!buffer_u32":    TypeBufferU32,
		"!buffer_binary": TypeBufferBinary,
	}
)

// curveWords is the number of scalars a curve occupies in text.
const curveWords = 2 + 30

// RenderText renders the archive as YAML. Keys are resolved through table
// when it is not nil; keys without a name print as decimal hashes.
func RenderText(pio *ParameterIO, table *names.Table) ([]byte, error) {
	root := yamltext.Map(ioTag)
	yamltext.Append(root, yamltext.Str("version"), yamltext.Uint(uint64(pio.Version)))
	yamltext.Append(root, yamltext.Str("type"), yamltext.Str(pio.Type))
	yamltext.Append(root, yamltext.Str("param_root"), renderList(&pio.Root, table))
	return yamltext.Encode(root)
}

func renderKey(name Name, table *names.Table) *yaml.Node {
	if table != nil {
		if s, ok := table.Resolve(uint32(name)); ok {
			return yamltext.Str(s)
		}
	}
	return yamltext.Uint(uint64(name))
}

func renderList(l *List, table *names.Table) *yaml.Node {
	n := yamltext.Map(listTag)

	objects := yamltext.Map("")
	for i := range l.Objects {
		o := &l.Objects[i]
		yamltext.Append(objects, renderKey(o.Name, table), renderObject(&o.Object, table))
	}
	lists := yamltext.Map("")
	for i := range l.Lists {
		c := &l.Lists[i]
		yamltext.Append(lists, renderKey(c.Name, table), renderList(&c.List, table))
	}

	yamltext.Append(n, yamltext.Str("objects"), objects)
	yamltext.Append(n, yamltext.Str("lists"), lists)
	return n
}

func renderObject(o *Object, table *names.Table) *yaml.Node {
	n := yamltext.Map(objTag)
	for i := range o.Params {
		p := &o.Params[i]
		yamltext.Append(n, renderKey(p.Name, table), renderParameter(&p.Param))
	}
	return n
}

func renderParameter(p *Parameter) *yaml.Node {
	tag := typeTags[p.Type]
	switch {
	case p.Type == TypeBool:
		return yamltext.Bool(p.Bool)
	case p.Type == TypeF32:
		return yamltext.Float32(p.F32)
	case p.Type == TypeInt:
		return yamltext.Int(int64(p.Int))
	case p.Type == TypeU32:
		return yamltext.Hex(tag, uint64(p.U32))
	case p.Type == TypeStringRef:
		return yamltext.Str(p.Str)
	case p.Type.IsString():
		return yamltext.String(tag, p.Str)
	}

	seq := yamltext.Seq(tag, true)
	add := func(n *yaml.Node) { seq.Content = append(seq.Content, n) }
	switch p.Type {
	case TypeBufferInt:
		for _, v := range p.Ints {
			add(yamltext.Int(int64(v)))
		}
	case TypeBufferU32:
		for _, v := range p.U32s {
			add(yamltext.Uint(uint64(v)))
		}
	case TypeBufferBinary:
		for _, v := range p.Bytes {
			add(yamltext.Uint(uint64(v)))
		}
	case TypeCurve1, TypeCurve2, TypeCurve3, TypeCurve4:
		for _, c := range p.Curves {
			add(yamltext.Uint(uint64(c.A)))
			add(yamltext.Uint(uint64(c.B)))
			for _, f := range c.Floats {
				add(yamltext.Float32(f))
			}
		}
	default:
		// vectors, colours, quaternions and float buffers
		for _, f := range p.Floats {
			add(yamltext.Float32(f))
		}
	}
	return seq
}

// ParseText parses the YAML form produced by RenderText.
func ParseText(text []byte) (*ParameterIO, error) {
	root, err := yamltext.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := yamltext.ExpectKind(root, yaml.MappingNode, ioTag); err != nil {
		return nil, err
	}

	pio := New()
	haveRoot := false
	for _, kv := range yamltext.Pairs(root) {
		key, value := kv[0], kv[1]
		switch key.Value {
		case "version":
			v, err := yamltext.ParseUint(value, 32)
			if err != nil {
				return nil, err
			}
			pio.Version = uint32(v)
		case "type":
			t, err := yamltext.StringValue(value)
			if err != nil {
				return nil, err
			}
			pio.Type = t
		case "param_root":
			l, err := parseList(value, 0)
			if err != nil {
				return nil, err
			}
			pio.Root = l
			haveRoot = true
		default:
			return nil, yamltext.Errorf(key, "unexpected key %q in !io", key.Value)
		}
	}
	if !haveRoot {
		return nil, yamltext.Errorf(root, "missing param_root")
	}
	return pio, nil
}

func parseKey(k *yaml.Node, seen map[Name]bool) (Name, error) {
	if k.Kind != yaml.ScalarNode {
		return 0, yamltext.Errorf(k, "keys must be names or hashes")
	}
	var name Name
	if k.ShortTag() == yamltext.IntTag {
		v, err := yamltext.ParseUint(k, 32)
		if err != nil {
			return 0, err
		}
		name = Name(v)
	} else {
		s, err := yamltext.StringValue(k)
		if err != nil {
			return 0, err
		}
		name = NameOf(s)
	}
	if seen[name] {
		return 0, yamltext.Errorf(k, "duplicate key %q", k.Value)
	}
	seen[name] = true
	return name, nil
}

func parseList(n *yaml.Node, depth int) (List, error) {
	var l List
	if depth > maxDepth {
		return l, yamltext.Errorf(n, "lists nested deeper than %d", maxDepth)
	}
	if err := yamltext.ExpectKind(n, yaml.MappingNode, listTag); err != nil {
		return l, err
	}

	for _, kv := range yamltext.Pairs(n) {
		key, value := kv[0], kv[1]
		if err := yamltext.ExpectKind(value, yaml.MappingNode, ""); err != nil {
			return l, err
		}
		seen := make(map[Name]bool)
		switch key.Value {
		case "objects":
			for _, entry := range yamltext.Pairs(value) {
				name, err := parseKey(entry[0], seen)
				if err != nil {
					return l, err
				}
				obj, err := parseObject(entry[1])
				if err != nil {
					return l, err
				}
				l.Objects = append(l.Objects, NamedObject{Name: name, Object: obj})
			}
		case "lists":
			for _, entry := range yamltext.Pairs(value) {
				name, err := parseKey(entry[0], seen)
				if err != nil {
					return l, err
				}
				child, err := parseList(entry[1], depth+1)
				if err != nil {
					return l, err
				}
				l.Lists = append(l.Lists, NamedList{Name: name, List: child})
			}
		default:
			return l, yamltext.Errorf(key, "unexpected key %q in !list", key.Value)
		}
	}
	return l, nil
}

func parseObject(n *yaml.Node) (Object, error) {
	var o Object
	if err := yamltext.ExpectKind(n, yaml.MappingNode, objTag); err != nil {
		return o, err
	}
	seen := make(map[Name]bool)
	for _, kv := range yamltext.Pairs(n) {
		name, err := parseKey(kv[0], seen)
		if err != nil {
			return o, err
		}
		p, err := parseParameter(kv[1])
		if err != nil {
			return o, err
		}
		o.Params = append(o.Params, NamedParameter{Name: name, Param: p})
	}
	return o, nil
}

func parseParameter(n *yaml.Node) (Parameter, error) {
	tag := n.ShortTag()
	switch n.Kind {
	case yaml.ScalarNode:
		return parseScalar(n, tag)
	case yaml.SequenceNode:
		return parseSequence(n, tag)
	default:
		return Parameter{}, yamltext.Errorf(n, "expected a parameter value")
	}
}

func parseScalar(n *yaml.Node, tag string) (Parameter, error) {
	switch tag {
	case yamltext.BoolTag:
		v, err := yamltext.ParseBool(n)
		return Bool(v), err
	case yamltext.FloatTag, yamltext.Float32BitsTag:
		v, err := yamltext.ParseFloat32(n)
		return F32(v), err
	case yamltext.IntTag:
		v, err := yamltext.ParseInt(n, 32)
		return Int(int32(v)), err
	case u32Tag:
		v, err := yamltext.ParseUint(n, 32)
		return U32(uint32(v)), err
	case yamltext.StrTag:
		return String(TypeStringRef, n.Value), nil
	case yamltext.StrBytesTag:
		s, err := yamltext.DecodeBytes(n)
		return String(TypeStringRef, s), err
	}
	if t, ok := scalarTypes[tag]; ok {
		return String(t, n.Value), nil
	}
	if t, ok := scalarBytesTypes[tag]; ok {
		s, err := yamltext.DecodeBytes(n)
		return String(t, s), err
	}
	return Parameter{}, yamltext.Errorf(n, "unsupported parameter tag %s", tag)
}

func parseSequence(n *yaml.Node, tag string) (Parameter, error) {
	t, ok := sequenceTypes[tag]
	if !ok {
		return Parameter{}, yamltext.Errorf(n, "unsupported sequence tag %s", tag)
	}
	items := yamltext.Items(n)
	p := Parameter{Type: t}

	switch {
	case t.vectorLen() > 0:
		if len(items) != t.vectorLen() {
			return p, yamltext.Errorf(n, "%s needs %d values, got %d", tag, t.vectorLen(), len(items))
		}
		fs, err := parseFloats(items)
		p.Floats = fs
		return p, err
	case t == TypeCurve1:
		if len(items) == 0 || len(items)%curveWords != 0 || len(items)/curveWords > 4 {
			return p, yamltext.Errorf(n, "!curve needs 1 to 4 groups of %d values, got %d values", curveWords, len(items))
		}
		p.Type = TypeCurve1 + Type(len(items)/curveWords-1)
		p.Curves = make([]Curve, len(items)/curveWords)
		for i := range p.Curves {
			group := items[i*curveWords : (i+1)*curveWords]
			a, err := yamltext.ParseUint(group[0], 32)
			if err != nil {
				return p, err
			}
			b, err := yamltext.ParseUint(group[1], 32)
			if err != nil {
				return p, err
			}
			fs, err := parseFloats(group[2:])
			if err != nil {
				return p, err
			}
			p.Curves[i].A, p.Curves[i].B = uint32(a), uint32(b)
			copy(p.Curves[i].Floats[:], fs)
		}
		return p, nil
	case t == TypeBufferF32:
		fs, err := parseFloats(items)
		p.Floats = fs
		return p, err
	}

	for _, item := range items {
		switch t {
		case TypeBufferInt:
			v, err := yamltext.ParseInt(item, 32)
			if err != nil {
				return p, err
			}
			p.Ints = append(p.Ints, int32(v))
		case TypeBufferU32:
			v, err := yamltext.ParseUint(item, 32)
			if err != nil {
				return p, err
			}
			p.U32s = append(p.U32s, uint32(v))
		case TypeBufferBinary:
			v, err := yamltext.ParseUint(item, 8)
			if err != nil {
				return p, err
			}
			p.Bytes = append(p.Bytes, byte(v))
		}
	}
	return p, nil
}

func parseFloats(items []*yaml.Node) ([]float32, error) {
	fs := make([]float32, len(items))
	for i, item := range items {
		f, err := yamltext.ParseFloat32(item)
		if err != nil {
			return nil, err
		}
		fs[i] = f
	}
	return fs, nil
}
