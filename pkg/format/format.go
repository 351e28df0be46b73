// Package format defines the format kinds, byte orders and error kinds shared
// by the binary codecs, and detects which codec a blob belongs to.
package format

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Kind identifies one of the supported binary grammars.
type Kind uint8

const (
	KindUnknown Kind = iota
	ParameterTree
	KeyedData
	MessageTable
)

// String returns the short name used on the command line and in logs.
func (k Kind) String() string {
	switch k {
	case ParameterTree:
		return "aamp"
	case KeyedData:
		return "byml"
	case MessageTable:
		return "msbt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses a kind name as returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "aamp", "parametertree":
		return ParameterTree, nil
	case "byml", "keyeddata":
		return KeyedData, nil
	case "msbt", "messagetable":
		return MessageTable, nil
	}
	return KindUnknown, fmt.Errorf("%w: kind %q", ErrUnknownFormat, s)
}

// ByteOrder selects the binary layout. For message tables it also selects
// the target platform: big endian is the Wii U layout, little endian the
// Switch layout.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// OrderFromBig converts a big-endian flag to a ByteOrder.
func OrderFromBig(big bool) ByteOrder {
	if big {
		return BigEndian
	}
	return LittleEndian
}

// IsBig reports whether o is BigEndian.
func (o ByteOrder) IsBig() bool {
	return o == BigEndian
}

// Endian reads, writes and appends fixed-size integers in one byte order.
type Endian interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Binary returns the encoding/binary implementation for o.
func (o ByteOrder) Binary() Endian {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// Platform returns the platform name a message table byte order targets.
func (o ByteOrder) Platform() string {
	if o == BigEndian {
		return "wiiu"
	}
	return "switch"
}
