package compression

import (
	"bytes"
	"testing"
)

func TestRoundTripAllTypes(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50)

	for _, typ := range []Type{None, Snappy, Zstd, LZ4} {
		t.Run(typ.String(), func(t *testing.T) {
			compressed, err := Compress(typ, data)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			got, err := Decompress(typ, compressed, len(data))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch for %s", typ)
			}
		})
	}
}

func TestNoneIsIdentity(t *testing.T) {
	data := []byte("raw bytes")
	compressed, err := Compress(None, data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(compressed, data) {
		t.Fatalf("Compress(None) modified the input")
	}
}
