package buffer

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	b := New(8)
	span := b.WritePtr()
	n := copy(span, []byte("hello"))
	b.WriteAdv(n)

	if got := string(b.ReadPtr()); got != "hello" {
		t.Fatalf("ReadPtr = %q, want %q", got, "hello")
	}
	b.ReadAdv(n)
	if b.CanRead() {
		t.Fatal("CanRead true after full drain")
	}
}

func TestAutoResetOnFullDrain(t *testing.T) {
	b := New(4)
	b.WriteAdv(copy(b.WritePtr(), []byte("ab")))
	b.ReadAdv(2)

	// After a full drain the cursors should reset to zero, regaining the
	// entire capacity for the next write instead of dribbling out 2 bytes.
	if got := len(b.WritePtr()); got != 4 {
		t.Fatalf("WritePtr len after drain = %d, want 4", got)
	}
}

func TestPartialDrainDoesNotReset(t *testing.T) {
	b := New(4)
	b.WriteAdv(copy(b.WritePtr(), []byte("abcd")))
	b.ReadAdv(1)

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if b.CanWrite() {
		t.Fatal("CanWrite true while buffer still has undrained bytes and is at capacity")
	}
}

func TestWriteAdvClampsToCapacity(t *testing.T) {
	b := New(2)
	b.WriteAdv(100)
	if b.CanWrite() {
		t.Fatal("CanWrite true after over-advancing write cursor")
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want clamped 2", b.Len())
	}
}

func TestResetDiscardsData(t *testing.T) {
	b := New(4)
	b.WriteAdv(copy(b.WritePtr(), []byte("ab")))
	b.Reset()
	if b.CanRead() {
		t.Fatal("CanRead true after Reset")
	}
	if len(b.WritePtr()) != 4 {
		t.Fatalf("WritePtr len after Reset = %d, want 4", len(b.WritePtr()))
	}
}
