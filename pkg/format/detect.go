package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strings"
)

var (
	// KeyedDataMagicLE and KeyedDataMagicBE are the keyed-data signatures.
	KeyedDataMagicLE = [2]byte{'B', 'Y'}
	KeyedDataMagicBE = [2]byte{'Y', 'B'}

	// ParameterTreeMagic starts every parameter tree.
	ParameterTreeMagic = [4]byte{'A', 'A', 'M', 'P'}

	// MessageTableMagic starts every message table.
	MessageTableMagic = [8]byte{'M', 's', 'g', 'S', 't', 'd', 'B', 'n'}
)

const (
	// MessageTableExt is the entry suffix that selects the message table codec.
	MessageTableExt = ".msbt"

	// MessageTableBOMOffset is where a message table stores its byte order mark.
	MessageTableBOMOffset = 8

	minKeyedDataVersion = 1
	maxKeyedDataVersion = 7
)

// Detect classifies an already decompressed blob. The name is the file or
// archive entry name; it is only consulted for message tables.
func Detect(data []byte, name string) (Kind, ByteOrder, error) {
	if len(data) >= 2 {
		var sig [2]byte
		copy(sig[:], data[:2])
		switch sig {
		case KeyedDataMagicLE:
			return detectKeyedData(data, LittleEndian)
		case KeyedDataMagicBE:
			return detectKeyedData(data, BigEndian)
		}
	}

	if len(data) >= 4 && bytes.Equal(data[:4], ParameterTreeMagic[:]) {
		return ParameterTree, LittleEndian, nil
	}

	if IsMessageTableName(name) || bytes.HasPrefix(data, MessageTableMagic[:]) {
		return MessageTable, MessageTableOrder(data), nil
	}

	if len(data) < 4 {
		return KindUnknown, LittleEndian, fmt.Errorf("%w: %d bytes", ErrUnknownFormat, len(data))
	}
	return KindUnknown, LittleEndian, fmt.Errorf("%w: signature %q", ErrUnknownFormat, data[:4])
}

// detectKeyedData rejects signature matches whose version field is out of
// range so that arbitrary blobs starting with "BY" are not handed to the codec.
func detectKeyedData(data []byte, order ByteOrder) (Kind, ByteOrder, error) {
	if len(data) < 4 {
		return KindUnknown, order, fmt.Errorf("%w: keyed data header truncated", ErrUnknownFormat)
	}
	version := order.Binary().Uint16(data[2:4])
	if version < minKeyedDataVersion || version > maxKeyedDataVersion {
		return KindUnknown, order, fmt.Errorf("%w: keyed data version %d", ErrUnknownFormat, version)
	}
	return KeyedData, order, nil
}

// IsMessageTableName reports whether name carries the message table suffix.
func IsMessageTableName(name string) bool {
	return strings.EqualFold(path.Ext(name), MessageTableExt)
}

// MessageTableOrder reads the byte order mark of a message table header.
// Inputs too short to carry one are treated as little endian.
func MessageTableOrder(data []byte) ByteOrder {
	if len(data) < MessageTableBOMOffset+2 {
		return LittleEndian
	}
	if binary.BigEndian.Uint16(data[MessageTableBOMOffset:]) == 0xFEFF {
		return BigEndian
	}
	return LittleEndian
}
