// Package msbt reads and writes MSBT message tables: labelled, styled text
// entries for the Wii U (big endian) and Switch (little endian) platforms.
//
// Both platforms share one structure and one text form; only the byte order
// of the binary layout differs.
package msbt

import (
	"fmt"
	"slices"
)

// Encoding is the character encoding of the TXT2 section.
type Encoding uint8

const (
	EncodingUTF8  Encoding = 0
	EncodingUTF16 Encoding = 1
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf8"
	case EncodingUTF16:
		return "utf16"
	}
	return fmt.Sprintf("Encoding(%d)", uint8(e))
}

// ParseEncoding parses an encoding name as returned by Encoding.String.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "utf8":
		return EncodingUTF8, nil
	case "utf16":
		return EncodingUTF16, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}

// Section magics interpreted by this package. Other sections are kept as
// opaque bytes.
const (
	SectionLabels     = "LBL1"
	SectionAttributes = "ATR1"
	SectionStyles     = "TSY1"
	SectionText       = "TXT2"
)

// DefaultVersion is the header version written by both platforms.
const DefaultVersion = 3

// Control is an inline control sequence such as a colour change or a pause.
// Parameters of even length are held as 16-bit words so they follow the byte
// order of the target platform; odd-length parameters stay raw in Data.
type Control struct {
	Group uint16
	Type  uint16
	Words []uint16
	Data  []byte
}

// paramSize returns the binary size of the control parameters.
func (c *Control) paramSize() int {
	if c.Data != nil {
		return len(c.Data)
	}
	return 2 * len(c.Words)
}

// Close ends a control sequence that spans text.
type Close struct {
	Group uint16
	Type  uint16
}

// Content is one piece of a message: text, a control or a close. Exactly
// one field is set.
type Content struct {
	Text    string
	Control *Control
	Close   *Close
}

// Entry is a labelled message.
type Entry struct {
	Label      string
	Attributes []byte
	Style      uint32
	Contents   []Content
}

// MessageTable is a decoded message table. Entries are in text index order
// and Sections lists the section magics in file order.
type MessageTable struct {
	Encoding       Encoding
	Version        uint8
	GroupCount     uint32
	AttributeSize  uint32
	AttributeExtra []byte
	Sections       []string
	Opaque         map[string][]byte
	Entries        []Entry
}

// New returns an empty UTF-16 table with labels and text.
func New(groupCount uint32) *MessageTable {
	return &MessageTable{
		Encoding:   EncodingUTF16,
		Version:    DefaultVersion,
		GroupCount: groupCount,
		Sections:   []string{SectionLabels, SectionText},
	}
}

// HasSection reports whether magic is one of the table's sections.
func (mt *MessageTable) HasSection(magic string) bool {
	return slices.Contains(mt.Sections, magic)
}

// Entry returns the entry with the given label.
func (mt *MessageTable) Entry(label string) (*Entry, bool) {
	for i := range mt.Entries {
		if mt.Entries[i].Label == label {
			return &mt.Entries[i], true
		}
	}
	return nil, false
}

// LabelHash returns the LBL1 bucket a label belongs to.
func LabelHash(label string, groups uint32) uint32 {
	var h uint32
	for i := 0; i < len(label); i++ {
		h = h*0x492 + uint32(label[i])
	}
	return h % groups
}
