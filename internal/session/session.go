// Package session implements the connection object (C8): the
// per-connection state machine bridging the HTTP parser and response
// builder, with a two-element scatter-gather vector for draining header
// bytes and the mmap'd file body to the socket.
package session

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/cinder/internal/buffer"
	"github.com/kfcemployee/cinder/internal/httpproto"
	"github.com/kfcemployee/cinder/internal/router"
)

// LiveConnections is the process-wide live-connection counter, shared by
// reference across every Session as explicit shared state rather than a
// class-wide static.
var LiveConnections int64

// Session is the per-connection state machine (C8).
type Session struct {
	FD     int
	Addr   string
	closed bool

	in  *buffer.Buffer
	out *buffer.Buffer

	parser    *httpproto.Parser
	responder *httpproto.Responder
	keepAlive bool

	iov      [2][]byte
	iovCount int

	edgeTriggered bool
	resourceRoot  string
	router        *router.Router
}

// New allocates a Session; call Init before first use.
func New(rt *router.Router, resourceRoot string, edgeTriggered bool) *Session {
	if rt == nil {
		rt = router.Default
	}
	return &Session{
		in:            buffer.New(4096),
		out:           buffer.New(4096),
		router:        rt,
		resourceRoot:  resourceRoot,
		edgeTriggered: edgeTriggered,
	}
}

// Init clears both buffers, arms a fresh parser, and increments the
// live-connection counter.
func (s *Session) Init(fd int, addr string, verifier httpproto.Verifier) {
	s.FD = fd
	s.Addr = addr
	s.closed = false
	s.in.Reset()
	s.out.Reset()
	s.parser = httpproto.NewParser(verifier)
	s.responder = nil
	s.keepAlive = false
	s.iovCount = 0
	atomic.AddInt64(&LiveConnections, 1)
}

// Read repeatedly scatter-reads into the in-buffer when edge-triggered
// (draining until EAGAIN), or performs a single read when level-triggered.
func (s *Session) Read() (int, error) {
	total := 0
	for {
		n, err := s.in.ReadFromFD(s.FD)
		if n > 0 {
			total += n
		}
		if !s.edgeTriggered {
			return total, err
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return total, nil
		}
		if err != nil || n <= 0 {
			return total, err
		}
	}
}

// PendingRouteKind classifies the in-flight request's path, once the
// request line has been parsed, so the reactor can give a pending auth
// request (RouteAuth, which blocks on the DB pool inside Process) a
// longer idle deadline than a static one. It reports ok=false when no
// request line is pending.
func (s *Session) PendingRouteKind() (router.RouteKind, bool) {
	if s.parser == nil || s.parser.Request().Path == "" {
		return router.RouteStatic, false
	}
	return s.router.Lookup(s.parser.Request().Path)
}

// Process requires at least one readable byte, drives the parser over
// the in-buffer, and on completion builds a response into the out-buffer,
// arming the scatter-gather vector. It returns true once a full response
// is ready to write.
func (s *Session) Process() (bool, error) {
	if s.in.ReadableLen() == 0 {
		return false, nil
	}

	err := s.parser.Feed(s.in)
	if err != nil {
		s.keepAlive = false
		if s.responder != nil {
			s.responder.Unmap()
		}
		s.responder = httpproto.NewResponder(s.resourceRoot, "/400.html", false, 400)
		if buildErr := s.responder.Build(s.out); buildErr != nil {
			httpproto.ErrorBody(s.out, 400, false, "Bad Request")
		}
		s.armIOVec()
		return true, nil
	}

	if s.parser.State() != httpproto.StateFinish {
		return false, nil // needs more data
	}

	req := s.parser.Request()
	s.keepAlive = req.KeepAlive
	if s.responder != nil {
		s.responder.Unmap()
	}
	s.responder = httpproto.NewResponder(s.resourceRoot, req.Path, req.KeepAlive, 0)
	if err := s.responder.Build(s.out); err != nil {
		httpproto.ErrorBody(s.out, 400, req.KeepAlive, "Bad Request")
	}
	s.armIOVec()
	s.parser.Reset()
	return true, nil
}

// armIOVec sets iov[0] to the out-buffer's readable extent and, if a body
// is mapped, iov[1] to the mmap'd region.
func (s *Session) armIOVec() {
	s.iov[0] = s.out.Peek()
	if s.responder != nil && s.responder.FileLen() > 0 {
		s.iov[1] = s.responder.FilePtr()
		s.iovCount = 2
	} else {
		s.iov[1] = nil
		s.iovCount = 1
	}
}

// BytesPendingWrite is the total bytes remaining across the iovec.
func (s *Session) BytesPendingWrite() int {
	total := 0
	for i := 0; i < s.iovCount; i++ {
		total += len(s.iov[i])
	}
	return total
}

// edgeWriteThreshold is the "~10 KiB" threshold below which an
// edge-triggered connection can stop redraining and wait for the next
// writable notification instead.
const edgeWriteThreshold = 10 * 1024

// Write drains the iovec via a real scatter-gather Writev, advancing
// iov[0]/iov[1] and the out-buffer's read cursor to match. Edge-triggered
// connections repeat until EAGAIN or until pending bytes fall under
// edgeWriteThreshold.
func (s *Session) Write() (int, error) {
	total := 0
	for {
		if s.iovCount == 0 || s.BytesPendingWrite() == 0 {
			return total, nil
		}

		bufs := make([][]byte, 0, 2)
		for i := 0; i < s.iovCount; i++ {
			if len(s.iov[i]) > 0 {
				bufs = append(bufs, s.iov[i])
			}
		}
		if len(bufs) == 0 {
			return total, nil
		}

		n, err := writev(s.FD, bufs)
		if n > 0 {
			total += n
			s.advance(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return total, err
			}
			return total, err
		}
		if !s.edgeTriggered {
			return total, nil
		}
		if s.BytesPendingWrite() < edgeWriteThreshold {
			return total, nil
		}
	}
}

// advance applies k successfully-written bytes across the logical
// stream: if k <= iov[0].len, consume k from the out-buffer and shrink
// iov[0]; otherwise zero iov[0], advance iov[1] by the remainder, and
// clear the out-buffer.
func (s *Session) advance(k int) {
	if k <= len(s.iov[0]) {
		s.iov[0] = s.iov[0][k:]
		s.out.Consume(k)
		return
	}
	rem := k - len(s.iov[0])
	s.iov[0] = nil
	s.out.Reset()
	if s.iovCount > 1 {
		s.iov[1] = s.iov[1][rem:]
	}
}

// writev performs the real Linux scatter-gather write via
// golang.org/x/sys/unix.Writev, falling back to writeSequential on the
// rare kernel/seccomp profile that rejects the vectored syscall outright.
func writev(fd int, bufs [][]byte) (int, error) {
	n, err := unix.Writev(fd, bufs)
	if err == unix.ENOSYS {
		return writeSequential(fd, bufs)
	}
	return n, err
}

// writeSequential is the fallback for platforms without a working
// vectored write syscall: two contiguous writes preserving the same
// "advance exactly n bytes" contract.
func writeSequential(fd int, bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := unix.Write(fd, b)
		total += n
		if err != nil || n < len(b) {
			return total, err
		}
	}
	return total, nil
}

// KeepAlive reports whether the last processed request asked for
// connection reuse. It reads a value captured at the end of Process,
// not the live parser state — Process resets the parser's Request
// (including its KeepAlive field) before returning, so reading through
// the parser here would always see the zeroed post-reset value.
func (s *Session) KeepAlive() bool {
	if s.responder == nil {
		return false
	}
	return s.keepAlive
}

// Close is idempotent: unmaps the responder, closes the fd, and
// decrements the live-connection counter at most once.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.responder != nil {
		s.responder.Unmap()
	}
	unix.Close(s.FD)
	atomic.AddInt64(&LiveConnections, -1)
}

// Closed reports whether Close has already run.
func (s *Session) Closed() bool { return s.closed }
