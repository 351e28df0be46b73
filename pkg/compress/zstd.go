package compress

import (
	"fmt"

	"github.com/DataDog/zstd"

	"github.com/EchoTools/bintext/pkg/format"
)

// ZstdMagic starts every zstd frame.
var ZstdMagic = [4]byte{0x28, 0xB5, 0x2F, 0xFD}

// DefaultZstdLevel is the level used when re-compressing zstd data.
const DefaultZstdLevel = zstd.DefaultCompression

// DecompressZstd decodes a zstd frame.
func DecompressZstd(data []byte) ([]byte, error) {
	out, err := zstd.Decompress(nil, data)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", format.ErrCorruptContainer, err)
	}
	return out, nil
}

// CompressZstd encodes data as a single zstd frame.
func CompressZstd(data []byte, level int) ([]byte, error) {
	out, err := zstd.CompressLevel(nil, data, level)
	if err != nil {
		return nil, fmt.Errorf("zstd compress: %w", err)
	}
	return out, nil
}
