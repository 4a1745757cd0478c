package buffer

import (
	"bytes"
	"testing"
)

func TestAppendGrowsReadable(t *testing.T) {
	b := New(4)
	b.Append([]byte("hello"))
	if b.ReadableLen() != 5 {
		t.Fatalf("ReadableLen() = %d, want 5", b.ReadableLen())
	}
	if !bytes.Equal(b.Peek(), []byte("hello")) {
		t.Fatalf("Peek() = %q, want %q", b.Peek(), "hello")
	}
}

func TestEnsureWritableGrows(t *testing.T) {
	b := New(4)
	b.EnsureWritable(100)
	if b.WritableLen() < 100 {
		t.Fatalf("WritableLen() = %d, want >= 100", b.WritableLen())
	}
}

func TestEnsureWritableCompacts(t *testing.T) {
	b := New(16)
	b.Append([]byte("0123456789"))
	b.Consume(8) // r=8, w=10, prependable=8
	b.EnsureWritable(12)
	if b.PrependableLen() != 0 {
		t.Fatalf("PrependableLen() = %d, want 0 after compaction", b.PrependableLen())
	}
	if !bytes.Equal(b.Peek(), []byte("89")) {
		t.Fatalf("Peek() after compaction = %q, want %q", b.Peek(), "89")
	}
}

func TestRoundTrip(t *testing.T) {
	s := []byte("the quick brown fox")
	b := New(4)
	b.Append(s)
	got := b.DrainToString()
	if got != string(s) {
		t.Fatalf("DrainToString() = %q, want %q", got, s)
	}
	if b.ReadableLen() != 0 {
		t.Fatalf("ReadableLen() after drain = %d, want 0", b.ReadableLen())
	}
}

func TestConsumePastWritePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on over-consume")
		}
	}()
	b := New(4)
	b.Append([]byte("ab"))
	b.Consume(3)
}

func TestConsumeUntil(t *testing.T) {
	b := New(16)
	b.Append([]byte("GET / HTTP/1.1\r\n"))
	sp := bytes.IndexByte(b.Peek(), ' ')
	rest := b.Peek()[sp:]
	b.ConsumeUntil(rest)
	if !bytes.Equal(b.Peek(), []byte(" / HTTP/1.1\r\n")) {
		t.Fatalf("Peek() = %q", b.Peek())
	}
}
