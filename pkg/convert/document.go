package convert

import (
	"fmt"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/EchoTools/bintext/pkg/compress"
	"github.com/EchoTools/bintext/pkg/format"
)

// Document is a decoded asset together with its text form. The structured
// value and the text always describe the same content; they are only
// replaced together.
//
// The value is one of *aamp.ParameterIO, *byml.Document or
// *msbt.MessageTable, matching Kind.
type Document struct {
	conv        *Converter
	kind        format.Kind
	order       format.ByteOrder
	compression compress.Kind
	value       any
	text        []byte
}

// Kind returns the format kind.
func (d *Document) Kind() format.Kind { return d.kind }

// Order returns the byte order the document was read in or will be saved in.
func (d *Document) Order() format.ByteOrder { return d.order }

// Compression returns the wrapper the blob was found in. It is not
// re-applied unless the Converter was configured with WithCompression.
func (d *Document) Compression() compress.Kind { return d.compression }

// Value returns the structured value.
func (d *Document) Value() any { return d.value }

// Text returns a copy of the text form.
func (d *Document) Text() []byte { return append([]byte{}, d.text...) }

// SetText replaces the text and the structured value parsed from it. The
// document is unchanged when the text does not parse.
func (d *Document) SetText(text []byte) error {
	value, err := d.conv.parse(text, d.kind)
	if err != nil {
		return err
	}
	d.value = value
	d.text = append([]byte{}, text...)
	return nil
}

// SetValue replaces the structured value and regenerates the text.
func (d *Document) SetValue(value any) error {
	kind, err := kindOf(value)
	if err != nil {
		return err
	}
	if kind != d.kind {
		return fmt.Errorf("%w: %s value for a %s document", format.ErrCodecMismatch, kind, d.kind)
	}
	text, err := d.conv.render(value)
	if err != nil {
		return fmt.Errorf("render %s: %w", kind, err)
	}
	d.value = value
	d.text = text
	return nil
}

// Bytes encodes the structured value in the document's byte order and
// applies the Converter's output compression.
func (d *Document) Bytes() ([]byte, error) {
	data, err := d.conv.encode(d.value, d.order)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", d.kind, err)
	}
	d.conv.log.Debug("encoded", "kind", d.kind, "order", d.order, "size", len(data), "compression", d.conv.compression)
	if d.conv.compression == compress.None {
		return data, nil
	}
	out, err := compress.Compress(d.conv.compression, data, d.conv.compressOpts...)
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", d.conv.compression, err)
	}
	return out, nil
}

// Diff compares the document text with edited text line by line.
func (d *Document) Diff(edited []byte) []diffpatch.Diff {
	return Diff(d.text, edited)
}

// Diff returns the line diff between two texts.
func Diff(before, after []byte) []diffpatch.Diff {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(before), string(after))
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCharsToLines(diffs, lines)
}

// Changed reports whether a diff contains any insertion or deletion.
func Changed(diffs []diffpatch.Diff) bool {
	for _, d := range diffs {
		if d.Type != diffpatch.DiffEqual {
			return true
		}
	}
	return false
}
