package byml

import (
	"testing"

	"github.com/EchoTools/bintext/pkg/format"
)

func BenchmarkEncode(b *testing.B) {
	doc := sampleDoc()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(doc, format.LittleEndian); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	data, err := Encode(sampleDoc(), format.LittleEndian)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data, format.LittleEndian); err != nil {
			b.Fatal(err)
		}
	}
}
