package msbt

import (
	"encoding/base64"
	"math"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/EchoTools/bintext/internal/yamltext"
)

// RenderText renders the table as YAML. The text form carries no byte
// order; the platform is chosen when the text is encoded again.
func RenderText(mt *MessageTable) ([]byte, error) {
	root := yamltext.Map("")
	yamltext.Append(root, yamltext.Str("group_count"), yamltext.Uint(uint64(mt.GroupCount)))
	yamltext.Append(root, yamltext.Str("encoding"), yamltext.Str(mt.Encoding.String()))
	yamltext.Append(root, yamltext.Str("version"), yamltext.Uint(uint64(mt.Version)))

	hasAttributes := mt.HasSection(SectionAttributes)
	if hasAttributes {
		yamltext.Append(root, yamltext.Str("attribute_size"), yamltext.Uint(uint64(mt.AttributeSize)))
		if len(mt.AttributeExtra) > 0 {
			yamltext.Append(root, yamltext.Str("attribute_extra"), binaryNode(mt.AttributeExtra))
		}
	}

	sections := yamltext.Seq("", true)
	for _, magic := range mt.Sections {
		sections.Content = append(sections.Content, yamltext.Str(magic))
	}
	yamltext.Append(root, yamltext.Str("sections"), sections)

	if len(mt.Opaque) > 0 {
		opaque := yamltext.Map("")
		magics := make([]string, 0, len(mt.Opaque))
		for magic := range mt.Opaque {
			magics = append(magics, magic)
		}
		slices.Sort(magics)
		for _, magic := range magics {
			yamltext.Append(opaque, yamltext.Str(magic), binaryNode(mt.Opaque[magic]))
		}
		yamltext.Append(root, yamltext.Str("opaque"), opaque)
	}

	hasStyles := mt.HasSection(SectionStyles)
	entries := yamltext.Map("")
	for i := range mt.Entries {
		e := &mt.Entries[i]
		entry := yamltext.Map("")
		if hasAttributes && mt.AttributeSize > 0 {
			yamltext.Append(entry, yamltext.Str("attributes"), binaryNode(e.Attributes))
		}
		if hasStyles {
			yamltext.Append(entry, yamltext.Str("style"), yamltext.Uint(uint64(e.Style)))
		}
		contents := yamltext.Seq("", false)
		for _, c := range e.Contents {
			contents.Content = append(contents.Content, renderContent(c))
		}
		yamltext.Append(entry, yamltext.Str("contents"), contents)
		yamltext.Append(entries, yamltext.Str(e.Label), entry)
	}
	yamltext.Append(root, yamltext.Str("entries"), entries)

	return yamltext.Encode(root)
}

func binaryNode(b []byte) *yaml.Node {
	return yamltext.Scalar(yamltext.BinaryTag, base64.StdEncoding.EncodeToString(b))
}

func renderContent(c Content) *yaml.Node {
	item := yamltext.Map("")
	switch {
	case c.Control != nil:
		ctl := yamltext.Map("")
		ctl.Style = yaml.FlowStyle
		yamltext.Append(ctl, yamltext.Str("group"), yamltext.Uint(uint64(c.Control.Group)))
		yamltext.Append(ctl, yamltext.Str("type"), yamltext.Uint(uint64(c.Control.Type)))
		if c.Control.Data != nil {
			yamltext.Append(ctl, yamltext.Str("data"), binaryNode(c.Control.Data))
		} else {
			words := yamltext.Seq("", true)
			for _, w := range c.Control.Words {
				words.Content = append(words.Content, yamltext.Uint(uint64(w)))
			}
			yamltext.Append(ctl, yamltext.Str("params"), words)
		}
		yamltext.Append(item, yamltext.Str("control"), ctl)
	case c.Close != nil:
		cl := yamltext.Map("")
		cl.Style = yaml.FlowStyle
		yamltext.Append(cl, yamltext.Str("group"), yamltext.Uint(uint64(c.Close.Group)))
		yamltext.Append(cl, yamltext.Str("type"), yamltext.Uint(uint64(c.Close.Type)))
		yamltext.Append(item, yamltext.Str("close"), cl)
	default:
		yamltext.Append(item, yamltext.Str("text"), yamltext.Str(c.Text))
	}
	return item
}

// ParseText parses the YAML form produced by RenderText.
func ParseText(text []byte) (*MessageTable, error) {
	root, err := yamltext.Parse(text)
	if err != nil {
		return nil, err
	}
	if err := yamltext.ExpectKind(root, yaml.MappingNode, yamltext.MapTag); err != nil {
		return nil, err
	}

	mt := &MessageTable{
		Encoding: EncodingUTF16,
		Version:  DefaultVersion,
		Opaque:   make(map[string][]byte),
	}
	var entries *yaml.Node
	haveSections := false
	for _, kv := range yamltext.Pairs(root) {
		key, value := kv[0], kv[1]
		switch key.Value {
		case "group_count":
			v, err := yamltext.ParseUint(value, 32)
			if err != nil {
				return nil, err
			}
			mt.GroupCount = uint32(v)
		case "encoding":
			enc, err := ParseEncoding(value.Value)
			if err != nil || value.Kind != yaml.ScalarNode {
				return nil, yamltext.Errorf(value, "encoding must be utf8 or utf16")
			}
			mt.Encoding = enc
		case "version":
			v, err := yamltext.ParseUint(value, 8)
			if err != nil {
				return nil, err
			}
			mt.Version = uint8(v)
		case "attribute_size":
			v, err := yamltext.ParseUint(value, 32)
			if err != nil {
				return nil, err
			}
			mt.AttributeSize = uint32(v)
		case "attribute_extra":
			b, err := parseBinary(value)
			if err != nil {
				return nil, err
			}
			mt.AttributeExtra = b
		case "sections":
			if err := yamltext.ExpectKind(value, yaml.SequenceNode, yamltext.SeqTag); err != nil {
				return nil, err
			}
			for _, item := range yamltext.Items(value) {
				magic, err := yamltext.StringValue(item)
				if err != nil || len(magic) != 4 {
					return nil, yamltext.Errorf(item, "section magics are 4 bytes")
				}
				if slices.Contains(mt.Sections, magic) {
					return nil, yamltext.Errorf(item, "duplicate section %q", magic)
				}
				mt.Sections = append(mt.Sections, magic)
			}
			haveSections = true
		case "opaque":
			if err := yamltext.ExpectKind(value, yaml.MappingNode, yamltext.MapTag); err != nil {
				return nil, err
			}
			for _, entry := range yamltext.Pairs(value) {
				magic, err := yamltext.StringValue(entry[0])
				if err != nil {
					return nil, err
				}
				b, err := parseBinary(entry[1])
				if err != nil {
					return nil, err
				}
				mt.Opaque[magic] = b
			}
		case "entries":
			if err := yamltext.ExpectKind(value, yaml.MappingNode, yamltext.MapTag); err != nil {
				return nil, err
			}
			entries = value
		default:
			return nil, yamltext.Errorf(key, "unexpected key %q", key.Value)
		}
	}
	if !haveSections {
		return nil, yamltext.Errorf(root, "missing sections")
	}
	for _, magic := range mt.Sections {
		switch magic {
		case SectionLabels, SectionAttributes, SectionStyles, SectionText:
		default:
			if _, ok := mt.Opaque[magic]; !ok {
				return nil, yamltext.Errorf(root, "section %s has no opaque data", magic)
			}
		}
	}
	if mt.HasSection(SectionLabels) && mt.GroupCount == 0 {
		return nil, yamltext.Errorf(root, "group_count must be positive")
	}

	if entries != nil {
		if err := parseEntries(mt, entries); err != nil {
			return nil, err
		}
	}
	return mt, nil
}

func parseBinary(n *yaml.Node) ([]byte, error) {
	if err := yamltext.ExpectKind(n, yaml.ScalarNode, yamltext.BinaryTag); err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
	if err != nil {
		return nil, yamltext.Errorf(n, "invalid base64: %v", err)
	}
	return b, nil
}

func parseEntries(mt *MessageTable, entries *yaml.Node) error {
	hasAttributes := mt.HasSection(SectionAttributes)
	hasStyles := mt.HasSection(SectionStyles)
	if len(entries.Content) > 0 && (!mt.HasSection(SectionLabels) || !mt.HasSection(SectionText)) {
		return yamltext.Errorf(entries, "entries need both %s and %s sections", SectionLabels, SectionText)
	}

	for _, kv := range yamltext.Pairs(entries) {
		key, value := kv[0], kv[1]
		label, err := yamltext.StringValue(key)
		if err != nil || label == "" || len(label) > math.MaxUint8 {
			return yamltext.Errorf(key, "labels must be 1 to %d bytes", math.MaxUint8)
		}
		if _, dup := mt.Entry(label); dup {
			return yamltext.Errorf(key, "duplicate label %q", label)
		}
		if err := yamltext.ExpectKind(value, yaml.MappingNode, yamltext.MapTag); err != nil {
			return err
		}

		e := Entry{Label: label, Contents: []Content{}}
		for _, field := range yamltext.Pairs(value) {
			switch field[0].Value {
			case "attributes":
				if !hasAttributes {
					return yamltext.Errorf(field[0], "attributes need an %s section", SectionAttributes)
				}
				b, err := parseBinary(field[1])
				if err != nil {
					return err
				}
				e.Attributes = b
			case "style":
				if !hasStyles {
					return yamltext.Errorf(field[0], "style needs a %s section", SectionStyles)
				}
				v, err := yamltext.ParseUint(field[1], 32)
				if err != nil {
					return err
				}
				e.Style = uint32(v)
			case "contents":
				if err := yamltext.ExpectKind(field[1], yaml.SequenceNode, yamltext.SeqTag); err != nil {
					return err
				}
				for _, item := range yamltext.Items(field[1]) {
					c, err := parseContent(item)
					if err != nil {
						return err
					}
					e.Contents = append(e.Contents, c)
				}
			default:
				return yamltext.Errorf(field[0], "unexpected key %q in entry", field[0].Value)
			}
		}
		if hasAttributes {
			if e.Attributes == nil && mt.AttributeSize == 0 {
				e.Attributes = []byte{}
			}
			if len(e.Attributes) != int(mt.AttributeSize) {
				return yamltext.Errorf(value, "entry %q has %d attribute bytes, expected %d", e.Label, len(e.Attributes), mt.AttributeSize)
			}
		}
		mt.Entries = append(mt.Entries, e)
	}
	return nil
}

func parseContent(n *yaml.Node) (Content, error) {
	if err := yamltext.ExpectKind(n, yaml.MappingNode, yamltext.MapTag); err != nil {
		return Content{}, err
	}
	pairs := yamltext.Pairs(n)
	if len(pairs) != 1 {
		return Content{}, yamltext.Errorf(n, "content must have exactly one of text, control or close")
	}
	key, value := pairs[0][0], pairs[0][1]

	switch key.Value {
	case "text":
		text, err := yamltext.StringValue(value)
		if err != nil {
			return Content{}, err
		}
		if strings.ContainsAny(text, "\x00\x0e\x0f") {
			return Content{}, yamltext.Errorf(value, "text contains a reserved control character")
		}
		return Content{Text: text}, nil
	case "control":
		ctl := &Control{}
		if err := parseCode(value, &ctl.Group, &ctl.Type, func(k, v *yaml.Node) error {
			switch k.Value {
			case "params":
				if err := yamltext.ExpectKind(v, yaml.SequenceNode, yamltext.SeqTag); err != nil {
					return err
				}
				ctl.Words = []uint16{}
				for _, item := range yamltext.Items(v) {
					w, err := yamltext.ParseUint(item, 16)
					if err != nil {
						return err
					}
					ctl.Words = append(ctl.Words, uint16(w))
				}
			case "data":
				b, err := parseBinary(v)
				if err != nil {
					return err
				}
				if len(b)%2 == 0 {
					return yamltext.Errorf(v, "data holds odd-length parameters; use params for 16-bit words")
				}
				ctl.Data = b
			default:
				return yamltext.Errorf(k, "unexpected key %q in control", k.Value)
			}
			return nil
		}); err != nil {
			return Content{}, err
		}
		if ctl.Words != nil && ctl.Data != nil {
			return Content{}, yamltext.Errorf(value, "control has both params and data")
		}
		if ctl.Words == nil && ctl.Data == nil {
			ctl.Words = []uint16{}
		}
		return Content{Control: ctl}, nil
	case "close":
		cl := &Close{}
		err := parseCode(value, &cl.Group, &cl.Type, func(k, _ *yaml.Node) error {
			return yamltext.Errorf(k, "unexpected key %q in close", k.Value)
		})
		if err != nil {
			return Content{}, err
		}
		return Content{Close: cl}, nil
	}
	return Content{}, yamltext.Errorf(key, "unknown content %q", key.Value)
}

// parseCode reads the group and type of a control or close mapping and
// passes any other key to extra.
func parseCode(n *yaml.Node, group, typ *uint16, extra func(k, v *yaml.Node) error) error {
	if err := yamltext.ExpectKind(n, yaml.MappingNode, yamltext.MapTag); err != nil {
		return err
	}
	for _, kv := range yamltext.Pairs(n) {
		k, v := kv[0], kv[1]
		switch k.Value {
		case "group", "type":
			x, err := yamltext.ParseUint(v, 16)
			if err != nil {
				return err
			}
			if k.Value == "group" {
				*group = uint16(x)
			} else {
				*typ = uint16(x)
			}
		default:
			if err := extra(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}
