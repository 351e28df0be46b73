// Package compress detects and reverses the compression wrappers that game
// data ships in, and re-applies them on request.
package compress

import (
	"bytes"
	"fmt"
	"strings"
)

// Kind identifies a compression wrapper.
type Kind uint8

const (
	None Kind = iota
	Yaz0
	Zstd
)

func (k Kind) String() string {
	switch k {
	case Yaz0:
		return "yaz0"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// ParseKind parses a wrapper name as returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "yaz0", "szs":
		return Yaz0, nil
	case "zstd", "zs":
		return Zstd, nil
	}
	return None, fmt.Errorf("unknown compression %q", s)
}

// Detect returns the wrapper whose signature starts data.
func Detect(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, Yaz0Magic[:]):
		return Yaz0
	case bytes.HasPrefix(data, ZstdMagic[:]):
		return Zstd
	default:
		return None
	}
}

// MaybeDecompress fully decompresses data if it starts with a known wrapper
// signature and returns it unchanged otherwise. The detected wrapper is
// returned so callers can re-apply it.
func MaybeDecompress(data []byte) ([]byte, Kind, error) {
	kind := Detect(data)
	switch kind {
	case Yaz0:
		out, err := DecompressYaz0(data)
		if err != nil {
			return nil, kind, fmt.Errorf("decompress yaz0: %w", err)
		}
		return out, kind, nil
	case Zstd:
		out, err := DecompressZstd(data)
		if err != nil {
			return nil, kind, fmt.Errorf("decompress zstd: %w", err)
		}
		return out, kind, nil
	default:
		return data, None, nil
	}
}

type config struct {
	level     int
	alignment uint32
}

// Option configures Compress.
type Option func(*config)

// WithLevel sets the zstd compression level.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithAlignment sets the alignment recorded in a Yaz0 header.
func WithAlignment(alignment uint32) Option {
	return func(c *config) {
		c.alignment = alignment
	}
}

// Compress wraps data with the given compression. None returns data as is.
func Compress(kind Kind, data []byte, opts ...Option) ([]byte, error) {
	cfg := &config{level: DefaultZstdLevel}
	for _, opt := range opts {
		opt(cfg)
	}

	switch kind {
	case None:
		return data, nil
	case Yaz0:
		return CompressYaz0(data, cfg.alignment)
	case Zstd:
		return CompressZstd(data, cfg.level)
	default:
		return nil, fmt.Errorf("unknown compression kind %d", kind)
	}
}
