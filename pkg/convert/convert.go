// Package convert opens binary game assets as editable text and saves edited
// text back to the exact binary layout the target platform expects.
//
// Open runs decompression, format detection, the matching codec's decoder and
// its text renderer. Save runs the text parser and the encoder for a caller
// supplied format kind and byte order.
package convert

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/EchoTools/bintext/pkg/aamp"
	"github.com/EchoTools/bintext/pkg/byml"
	"github.com/EchoTools/bintext/pkg/compress"
	"github.com/EchoTools/bintext/pkg/format"
	"github.com/EchoTools/bintext/pkg/msbt"
	"github.com/EchoTools/bintext/pkg/names"
)

// Entry is an archive entry supplied by an archive reader.
type Entry interface {
	Name() string
	Data() []byte
}

// Converter holds the conversion settings. It is safe for concurrent use;
// the only shared state is its name table.
type Converter struct {
	names         *names.Table
	log           *slog.Logger
	readableNames bool
	bymlVersion   uint16
	compression   compress.Kind
	compressOpts  []compress.Option
}

// Option configures a Converter.
type Option func(*Converter)

// WithNameTable sets the table used to display parameter tree keys.
// The default is the process-wide names.Default table.
func WithNameTable(t *names.Table) Option {
	return func(c *Converter) {
		c.names = t
	}
}

// WithLogger sets the logger for conversion events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		c.log = l
	}
}

// WithReadableNames controls whether the name table is populated before
// parameter trees are rendered. When disabled every key prints as its hash.
func WithReadableNames(enabled bool) Option {
	return func(c *Converter) {
		c.readableNames = enabled
	}
}

// WithKeyedDataVersion sets the keyed document version that needs no tag in
// text and is written for text without one.
func WithKeyedDataVersion(v uint16) Option {
	return func(c *Converter) {
		c.bymlVersion = v
	}
}

// WithCompression wraps saved bytes in the given compression.
func WithCompression(kind compress.Kind, opts ...compress.Option) Option {
	return func(c *Converter) {
		c.compression = kind
		c.compressOpts = opts
	}
}

// New returns a Converter with the given options applied.
func New(opts ...Option) *Converter {
	c := &Converter{
		readableNames: true,
		bymlVersion:   byml.DefaultVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.names == nil {
		c.names = names.Default()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Open decodes a blob into a Document. The name is only consulted to
// recognise message tables and may be empty.
func (c *Converter) Open(data []byte, name string) (*Document, error) {
	raw, wrapper, err := compress.MaybeDecompress(data)
	if err != nil {
		return nil, err
	}
	if wrapper != compress.None {
		c.log.Debug("decompressed", "name", name, "compression", wrapper, "size", len(data), "decompressed", len(raw))
	}

	kind, order, err := format.Detect(raw, name)
	if err != nil {
		return nil, err
	}
	c.log.Debug("detected", "name", name, "kind", kind, "order", order, "size", len(raw))

	value, err := c.decode(raw, kind, order)
	if err != nil {
		return nil, err
	}
	text, err := c.render(value)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}

	return &Document{
		conv:        c,
		kind:        kind,
		order:       order,
		compression: wrapper,
		value:       value,
		text:        text,
	}, nil
}

// OpenEntry opens an archive entry.
func (c *Converter) OpenEntry(e Entry) (*Document, error) {
	doc, err := c.Open(e.Data(), e.Name())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.Name(), err)
	}
	return doc, nil
}

// OpenFile reads and opens a file.
func (c *Converter) OpenFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	doc, err := c.Open(data, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return doc, nil
}

// Parse builds a Document from text for the given kind and byte order.
func (c *Converter) Parse(text []byte, kind format.Kind, order format.ByteOrder) (*Document, error) {
	if err := checkOrder(kind, order); err != nil {
		return nil, err
	}
	value, err := c.parse(text, kind)
	if err != nil {
		return nil, err
	}
	return &Document{
		conv:        c,
		kind:        kind,
		order:       order,
		compression: c.compression,
		value:       value,
		text:        append([]byte{}, text...),
	}, nil
}

// Save parses edited text and encodes it for the given kind and byte order.
// Malformed text fails with format.ErrInvalidText.
func (c *Converter) Save(text []byte, kind format.Kind, order format.ByteOrder) ([]byte, error) {
	doc, err := c.Parse(text, kind, order)
	if err != nil {
		return nil, err
	}
	return doc.Bytes()
}

// SaveFile saves edited text to path.
func (c *Converter) SaveFile(path string, text []byte, kind format.Kind, order format.ByteOrder) error {
	data, err := c.Save(text, kind, order)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// checkOrder rejects byte orders a format has no layout for. Parameter
// trees only exist in little endian.
func checkOrder(kind format.Kind, order format.ByteOrder) error {
	switch kind {
	case format.ParameterTree:
		if order != format.LittleEndian {
			return fmt.Errorf("%w: %s has no %s-endian layout", format.ErrCodecMismatch, kind, order)
		}
	case format.KeyedData, format.MessageTable:
		if order != format.LittleEndian && order != format.BigEndian {
			return fmt.Errorf("%w: byte order %d", format.ErrCodecMismatch, order)
		}
	default:
		return fmt.Errorf("%w: kind %s", format.ErrUnknownFormat, kind)
	}
	return nil
}

func (c *Converter) decode(raw []byte, kind format.Kind, order format.ByteOrder) (any, error) {
	var (
		value any
		err   error
	)
	switch kind {
	case format.ParameterTree:
		value, err = aamp.Decode(raw)
	case format.KeyedData:
		value, err = byml.Decode(raw, order)
	case format.MessageTable:
		value, err = msbt.Decode(raw, order)
	default:
		return nil, fmt.Errorf("%w: kind %s", format.ErrUnknownFormat, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return value, nil
}

func (c *Converter) encode(value any, order format.ByteOrder) ([]byte, error) {
	switch v := value.(type) {
	case *aamp.ParameterIO:
		return aamp.Encode(v)
	case *byml.Document:
		return byml.Encode(v, order)
	case *msbt.MessageTable:
		return msbt.Encode(v, order)
	}
	return nil, fmt.Errorf("%w: value of type %T", format.ErrCodecMismatch, value)
}

func (c *Converter) render(value any) ([]byte, error) {
	switch v := value.(type) {
	case *aamp.ParameterIO:
		var table *names.Table
		if c.readableNames {
			c.names.EnsurePopulated()
			table = c.names
		}
		return aamp.RenderText(v, table)
	case *byml.Document:
		return byml.RenderText(v, byml.WithDefaultVersion(c.bymlVersion))
	case *msbt.MessageTable:
		return msbt.RenderText(v)
	}
	return nil, fmt.Errorf("%w: value of type %T", format.ErrCodecMismatch, value)
}

func (c *Converter) parse(text []byte, kind format.Kind) (any, error) {
	switch kind {
	case format.ParameterTree:
		return aamp.ParseText(text)
	case format.KeyedData:
		return byml.ParseText(text, byml.WithDefaultVersion(c.bymlVersion))
	case format.MessageTable:
		return msbt.ParseText(text)
	}
	return nil, fmt.Errorf("%w: kind %s", format.ErrUnknownFormat, kind)
}

// kindOf returns the format kind of a structured value.
func kindOf(value any) (format.Kind, error) {
	switch value.(type) {
	case *aamp.ParameterIO:
		return format.ParameterTree, nil
	case *byml.Document:
		return format.KeyedData, nil
	case *msbt.MessageTable:
		return format.MessageTable, nil
	}
	return format.KindUnknown, fmt.Errorf("%w: value of type %T", format.ErrCodecMismatch, value)
}
