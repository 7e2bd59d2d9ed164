package storage

import (
	"testing"
)

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d components, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeVectorBadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatal("DecodeVector() should reject blobs that are not a multiple of 4 bytes")
	}
}

func TestEncodeVectorEmpty(t *testing.T) {
	out, err := DecodeVector(EncodeVector(nil))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("decoded %d components, want 0", len(out))
	}
}
