package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

	if got := U32LE(data); got != 0x67452301 {
		t.Fatalf("U32LE = 0x%x, want 0x67452301", got)
	}
	if got := U64LE(data); got != 0xefcdab8967452301 {
		t.Fatalf("U64LE = 0x%x, want 0xefcdab8967452301", got)
	}
	if got := WordAt(data, 1); got != 0xefcdab89 {
		t.Fatalf("WordAt(1) = 0x%x, want 0xefcdab89", got)
	}
	if got := WordAt(data, 2); got != 0 {
		t.Fatalf("WordAt past end = 0x%x, want 0", got)
	}

	short := []byte{0xAA}
	if U32LE(short) != 0 || U64LE(short) != 0 {
		t.Fatalf("short reads should return 0")
	}
}

func TestPutHelpers(t *testing.T) {
	b := make([]byte, 12)
	PutU32(b, 0, 0x4D4F4455)
	PutU64(b, 4, 0x1122334455667788)
	if WordAt(b, 0) != 0x4D4F4455 {
		t.Fatalf("PutU32 round trip failed")
	}
	if U64LE(b[4:]) != 0x1122334455667788 {
		t.Fatalf("PutU64 round trip failed")
	}
	// Out of range writes are ignored.
	PutU32(b, 10, 1)
	PutU64(b, 8, 1)
	if U64LE(b[4:]) != 0x1122334455667788 {
		t.Fatalf("short writes should be ignored")
	}
}
