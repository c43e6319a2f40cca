package filter

import (
	"fmt"
	"testing"
)

func TestMayContainAllAddedKeys(t *testing.T) {
	b := NewBuilder(DefaultBitsPerKey)
	var keys [][]byte
	for i := 0; i < 500; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		keys = append(keys, k)
		b.Add(k)
	}
	if b.NumKeys() != 500 {
		t.Fatalf("NumKeys() = %d, want 500", b.NumKeys())
	}

	r := NewReader(b.Finish())
	for _, k := range keys {
		if !r.MayContain(k) {
			t.Fatalf("MayContain(%s) = false, want true for an added key", k)
		}
	}
}

func TestFalsePositiveRateIsReasonable(t *testing.T) {
	b := NewBuilder(DefaultBitsPerKey)
	for i := 0; i < 1000; i++ {
		b.Add([]byte(fmt.Sprintf("present-%05d", i)))
	}
	r := NewReader(b.Finish())

	falsePositives := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if r.MayContain([]byte(fmt.Sprintf("absent-%05d", i))) {
			falsePositives++
		}
	}
	if rate := float64(falsePositives) / trials; rate > 0.05 {
		t.Fatalf("false positive rate %.4f exceeds 5%% at %d bits/key", rate, DefaultBitsPerKey)
	}
}

func TestEmptyBuilderIsAlwaysFalse(t *testing.T) {
	b := NewBuilder(DefaultBitsPerKey)
	r := NewReader(b.Finish())
	if r.MayContain([]byte("anything")) {
		t.Fatalf("empty filter reported a positive match")
	}
}

func TestNewReaderRejectsShortData(t *testing.T) {
	if r := NewReader([]byte{1, 2, 3}); r != nil {
		t.Fatalf("NewReader(short) = %v, want nil", r)
	}
}

func TestNilReaderMayContainIsFalse(t *testing.T) {
	var r *Reader
	if r.MayContain([]byte("x")) {
		t.Fatalf("nil Reader.MayContain should be false")
	}
}
