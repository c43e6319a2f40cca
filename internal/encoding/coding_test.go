package encoding

import "testing"

func TestFixedRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutFixed16(buf, 0xBEEF)
	if got := GetFixed16(buf); got != 0xBEEF {
		t.Fatalf("GetFixed16 = %x, want beef", got)
	}
	PutFixed32(buf, 0xDEADBEEF)
	if got := GetFixed32(buf); got != 0xDEADBEEF {
		t.Fatalf("GetFixed32 = %x, want deadbeef", got)
	}
	PutFixed64(buf, 0x0102030405060708)
	if got := GetFixed64(buf); got != 0x0102030405060708 {
		t.Fatalf("GetFixed64 = %x", got)
	}
}

func TestAppendFixed(t *testing.T) {
	var buf []byte
	buf = AppendFixed16(buf, 7)
	buf = AppendFixed32(buf, 11)
	buf = AppendFixed64(buf, 13)
	if len(buf) != 2+4+8 {
		t.Fatalf("len(buf) = %d, want 14", len(buf))
	}
}

func TestLengthPrefixedSliceRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	buf := AppendLengthPrefixedSlice(nil, payload)

	got, n, err := GetLengthPrefixedSlice(buf)
	if err != nil {
		t.Fatalf("GetLengthPrefixedSlice: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed = %d, want %d", n, len(buf))
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestLengthPrefixedSliceShortBuffer(t *testing.T) {
	if _, _, err := GetLengthPrefixedSlice([]byte{1, 2}); err != ErrBufferTooSmall {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
	buf := AppendFixed32(nil, 100) // claims 100 bytes follow, but none do
	if _, _, err := GetLengthPrefixedSlice(buf); err != ErrBufferTooSmall {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestSliceSequentialDecode(t *testing.T) {
	var buf []byte
	buf = append(buf, 0x42)
	buf = AppendFixed32(buf, 100)
	buf = AppendFixed64(buf, 200)
	buf = append(buf, []byte("xyz")...)
	buf = AppendLengthPrefixedSlice(buf, []byte("tail"))

	s := NewSlice(buf)
	b, err := s.GetUint8()
	if err != nil || b != 0x42 {
		t.Fatalf("GetUint8 = %v, %v", b, err)
	}
	u32, err := s.GetUint32()
	if err != nil || u32 != 100 {
		t.Fatalf("GetUint32 = %v, %v", u32, err)
	}
	u64, err := s.GetUint64()
	if err != nil || u64 != 200 {
		t.Fatalf("GetUint64 = %v, %v", u64, err)
	}
	raw, err := s.GetBytes(3)
	if err != nil || string(raw) != "xyz" {
		t.Fatalf("GetBytes = %q, %v", raw, err)
	}
	lp, err := s.GetLengthPrefixed()
	if err != nil || string(lp) != "tail" {
		t.Fatalf("GetLengthPrefixed = %q, %v", lp, err)
	}
	if s.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", s.Remaining())
	}
}
