package compress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/EchoTools/bintext/pkg/format"
)

func TestYaz0Header(t *testing.T) {
	t.Run("MarshalUnmarshal", func(t *testing.T) {
		original := NewYaz0Header(1024, 0x80)

		data, err := original.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		decoded := &Yaz0Header{}
		if err := decoded.UnmarshalBinary(data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		if *decoded != *original {
			t.Errorf("mismatch: got %+v, want %+v", decoded, original)
		}
	})

	t.Run("InvalidMagic", func(t *testing.T) {
		h := &Yaz0Header{Magic: [4]byte{'Y', 'a', 'z', '1'}, Size: 16}
		if err := h.Validate(); !errors.Is(err, format.ErrCorruptContainer) {
			t.Errorf("expected ErrCorruptContainer, got %v", err)
		}
	})

	t.Run("Short", func(t *testing.T) {
		h := &Yaz0Header{}
		if err := h.UnmarshalBinary([]byte("Yaz0")); !errors.Is(err, format.ErrCorruptContainer) {
			t.Errorf("expected ErrCorruptContainer, got %v", err)
		}
	})
}

func TestYaz0RoundTrip(t *testing.T) {
	repetitive := bytes.Repeat([]byte("param_root objects lists "), 400)
	ramp := make([]byte, 9000)
	for i := range ramp {
		ramp[i] = byte(i % 251)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Short", []byte("ab")},
		{"Literal", []byte("Hello, World! This is test data for compression.")},
		{"Repetitive", repetitive},
		{"Run", bytes.Repeat([]byte{0}, 5000)},
		{"Ramp", ramp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := CompressYaz0(tt.data, 0)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if Detect(packed) != Yaz0 {
				t.Fatalf("compressed data not detected as yaz0")
			}

			unpacked, kind, err := MaybeDecompress(packed)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if kind != Yaz0 {
				t.Errorf("kind: got %s, want yaz0", kind)
			}
			if !bytes.Equal(unpacked, tt.data) {
				t.Errorf("data mismatch: got %d bytes, want %d", len(unpacked), len(tt.data))
			}
		})
	}

	t.Run("Compresses", func(t *testing.T) {
		packed, err := CompressYaz0(repetitive, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(packed) >= len(repetitive)/4 {
			t.Errorf("expected strong compression, got %d of %d bytes", len(packed), len(repetitive))
		}
	})
}

func TestYaz0Decode(t *testing.T) {
	// "abcabcabc": three literals, then a run of 6 at distance 3.
	stream := []byte{
		'Y', 'a', 'z', '0', 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0, 0,
		0xE0, 'a', 'b', 'c', 0x40, 0x02,
	}
	got, err := DecompressYaz0(stream)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(got) != "abcabcabc" {
		t.Errorf("got %q, want %q", got, "abcabcabc")
	}
}

func TestYaz0Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
	}{
		{"Truncated", []byte{'Y', 'a', 'z', '0', 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0xE0, 'a'}},
		{"DistanceBeforeStart", []byte{'Y', 'a', 'z', '0', 0, 0, 0, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0x80, 'a', 0x40, 0x05}},
		{"Overflow", []byte{'Y', 'a', 'z', '0', 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0x80, 'a', 0x70, 0x00}},
		{"HeaderOnly", []byte{'Y', 'a', 'z', '0', 0, 0}},
		{"SizeBeyondStream", []byte{'Y', 'a', 'z', '0', 0x40, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x0F, 0xFF}},
		{"MaxSize", []byte{'Y', 'a', 'z', '0', 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0, 0, 0, 0, 0, 0x80, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := MaybeDecompress(tt.stream); !errors.Is(err, format.ErrCorruptContainer) {
				t.Errorf("expected ErrCorruptContainer, got %v", err)
			}
		})
	}
}

func TestZstdRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("BY message table "), 200)

	packed, err := Compress(Zstd, original)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if Detect(packed) != Zstd {
		t.Fatalf("compressed data not detected as zstd")
	}

	unpacked, kind, err := MaybeDecompress(packed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if kind != Zstd || !bytes.Equal(unpacked, original) {
		t.Errorf("round trip mismatch (kind %s)", kind)
	}

	t.Run("Corrupt", func(t *testing.T) {
		bad := append([]byte{}, packed[:len(packed)/2]...)
		if _, _, err := MaybeDecompress(bad); !errors.Is(err, format.ErrCorruptContainer) {
			t.Errorf("expected ErrCorruptContainer, got %v", err)
		}
	})
}

func TestMaybeDecompressPassthrough(t *testing.T) {
	data := []byte("AAMP\x02\x00\x00\x00")
	out, kind, err := MaybeDecompress(data)
	if err != nil {
		t.Fatal(err)
	}
	if kind != None || !bytes.Equal(out, data) {
		t.Errorf("expected unchanged input, got kind %s", kind)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{None, Yaz0, Zstd} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %s, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("lz4"); err == nil {
		t.Error("expected error for unknown compression")
	}
}
