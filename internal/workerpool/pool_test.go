package workerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsEveryTask(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n int64
	const total = 200
	for range total {
		if err := p.Submit(func() { atomic.AddInt64(&n, 1) }); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&n) != total && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&n); got != total {
		t.Fatalf("ran %d tasks, want %d", got, total)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(2)
	p.Close()

	if err := p.Submit(func() {}); err != ErrClosed {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestCloseDrainsQueueBeforeExit(t *testing.T) {
	p := New(1)
	var n int64
	for range 10 {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.Close()

	if got := atomic.LoadInt64(&n); got != 10 {
		t.Fatalf("ran %d tasks before Close returned, want 10", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := New(1)
	p.Close()
	p.Close() // must not deadlock or panic
}
