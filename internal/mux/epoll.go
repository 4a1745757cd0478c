// Package mux implements the readiness multiplexer: a thin wrapper over
// Linux epoll built on golang.org/x/sys/unix, following the raw-epoll
// event loop shape used by the theoretical epoll benchmark servers.
package mux

import "golang.org/x/sys/unix"

// Event masks. Readable/Writable/PeerHangup/Hangup/Err mirror the epoll
// bits directly; OneShot and EdgeTriggered are the registration
// modifiers callers combine into them.
const (
	Readable      = unix.EPOLLIN
	Writable      = unix.EPOLLOUT
	PeerHangup    = unix.EPOLLRDHUP
	Hangup        = unix.EPOLLHUP
	Err           = unix.EPOLLERR
	OneShot       = unix.EPOLLONESHOT
	EdgeTriggered = unix.EPOLLET
)

// Event is a single (fd, event-mask) tuple delivered by Wait.
type Event struct {
	FD   int
	Mask uint32
}

// Epoll is the readiness multiplexer. Add/Modify/Remove are idempotent
// with respect to repeated calls carrying the same mask.
type Epoll struct {
	fd int
}

// New creates a fresh epoll instance.
func New() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{fd: fd}, nil
}

// FD exposes the underlying epoll fd.
func (e *Epoll) FD() int { return e.fd }

// Add registers fd for the given mask. Adding an fd that is already
// registered re-arms it with mask instead of failing.
func (e *Epoll) Add(fd int, mask uint32) error {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: mask,
		Fd:     int32(fd),
	})
	if err == unix.EEXIST {
		return e.Modify(fd, mask)
	}
	return err
}

// Modify re-arms fd with a new mask, used after every one-shot dispatch.
func (e *Epoll) Modify(fd int, mask uint32) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: mask,
		Fd:     int32(fd),
	})
}

// Remove deregisters fd. It is safe to call after the fd is already
// closed; the kernel error is swallowed since removal only needs to be
// idempotent, not verified.
func (e *Epoll) Remove(fd int) error {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks up to timeoutMS (or indefinitely if timeoutMS < 0) and
// returns the ready events. A negative timeoutMS matches
// timer.Wheel.NextTickMS's "no deadline" sentinel.
func (e *Epoll) Wait(timeoutMS int, buf []unix.EpollEvent) ([]Event, error) {
	n, err := unix.EpollWait(e.fd, buf, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = Event{FD: int(buf[i].Fd), Mask: buf[i].Events}
	}
	return out, nil
}

// Close closes the epoll fd.
func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}
