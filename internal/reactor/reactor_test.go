package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/cinder/internal/config"
)

// newTestServer builds a Server from the default config without calling
// Start; Start itself requires a reachable MySQL instance (dbpool.Init
// dials out), so these tests exercise only the pieces that don't need
// the network: the wheel-locking wrappers and peer address formatting.
func newTestServer() *Server {
	cfg := config.Default()
	cfg.Port = 18080
	return New(cfg)
}

func TestWheelWrappersRoundTrip(t *testing.T) {
	s := newTestServer()
	fired := false
	s.wheelAdd(1, 50*time.Millisecond, func(id int) { fired = true })

	if ok := s.wheelRemove(1); !ok {
		t.Fatal("wheelRemove(1) = false, want true")
	}
	if ok := s.wheelRemove(1); ok {
		t.Fatal("second wheelRemove(1) = true, want false")
	}
	if fired {
		t.Fatal("callback should not have fired after Remove")
	}
}

func TestWheelTickFiresAndUnlocks(t *testing.T) {
	s := newTestServer()
	fired := make(chan int, 1)
	s.wheelAdd(42, 0, func(id int) { fired <- id })

	s.wheelTick()

	select {
	case id := <-fired:
		if id != 42 {
			t.Fatalf("fired id = %d, want 42", id)
		}
	default:
		t.Fatal("expected wheelTick to fire the expired callback")
	}

	// wheelTick must release s.mu before invoking callbacks: confirm the
	// mutex is free by taking it directly.
	s.mu.Lock()
	s.mu.Unlock()
}

func TestPeerAddrFormatsIPv4(t *testing.T) {
	sa := &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: 8080}
	got := peerAddr(sa)
	if got != "127.0.0.1:8080" {
		t.Fatalf("peerAddr() = %q, want 127.0.0.1:8080", got)
	}
}
