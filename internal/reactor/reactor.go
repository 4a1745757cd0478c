// Package reactor wires the multiplexer, timer wheel, worker pool, DB
// pool, protocol parser/builder, and router into a single-threaded
// epoll event loop: one goroutine drives accept/read/write dispatch,
// handing blocking work off to a bounded worker pool.
package reactor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kfcemployee/cinder/internal/auth"
	"github.com/kfcemployee/cinder/internal/config"
	"github.com/kfcemployee/cinder/internal/dbpool"
	"github.com/kfcemployee/cinder/internal/logging"
	"github.com/kfcemployee/cinder/internal/mux"
	"github.com/kfcemployee/cinder/internal/router"
	"github.com/kfcemployee/cinder/internal/session"
	"github.com/kfcemployee/cinder/internal/timer"
	"github.com/kfcemployee/cinder/internal/workerpool"
)

// connMask/listenMask are the base registration masks before trigger-mode
// edge flags and one-shot are applied.
const (
	connMask   = mux.Readable | mux.PeerHangup
	listenMask = mux.Readable
)

// Server is the reactor (C9): one goroutine runs the event loop; the
// worker pool runs submitted read/write tasks. The timer wheel and
// connection map are guarded by mu, since closeConn is also reached from
// a worker task on an I/O failure and so does not always run on the
// reactor's own goroutine. Worker tasks also re-arm their fd through
// the epoll instance (Modify) directly, without taking mu.
type Server struct {
	cfg config.Config

	epoll    *mux.Epoll
	wheel    *timer.Wheel
	pool     *workerpool.Pool
	db       *dbpool.Pool
	log      *logging.Logger
	rt       *router.Router
	verifier *auth.Verifier

	listenFD int

	mu    sync.Mutex
	conns map[int]*session.Session
}

// New constructs a Server from cfg. It does not touch the network; call
// Start to bind, listen, and run the event loop.
func New(cfg config.Config) *Server {
	return &Server{
		cfg:   cfg,
		wheel: timer.New(),
		conns: make(map[int]*session.Session),
		rt:    router.NewDefault(),
	}
}

// Start initializes every subsystem, binds and listens, and runs the
// event loop until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log = logging.New(logging.Config{
		MinLevel:  s.cfg.LogLevel,
		QueueSize: s.cfg.LogQueueSize,
		Enabled:   s.cfg.LogEnabled,
	})
	defer s.log.Close()

	dbPool, err := dbpool.Init(ctx, s.cfg.DB, s.log)
	if err != nil {
		return fmt.Errorf("reactor: db init: %w", err)
	}
	s.db = dbPool
	defer s.db.Close()

	s.verifier = auth.New(s.db, s.log)
	s.pool = workerpool.New(s.cfg.WorkerCount)
	defer s.pool.Close()

	ep, err := mux.New()
	if err != nil {
		return fmt.Errorf("reactor: epoll init: %w", err)
	}
	s.epoll = ep
	defer s.epoll.Close()

	if err := s.listen(); err != nil {
		return err
	}
	defer unix.Close(s.listenFD)

	s.log.Infof("listening on port %d (trigger mode %d)", s.cfg.Port, s.cfg.Trigger)
	return s.loop(ctx)
}

// listen binds and listens on 0.0.0.0:port with SO_REUSEADDR and an
// optional SO_LINGER, registering the resulting fd non-blocking with
// the multiplexer.
func (s *Server) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}
	if s.cfg.Linger {
		ling := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &ling); err != nil {
			unix.Close(fd)
			return fmt.Errorf("reactor: setsockopt SO_LINGER: %w", err)
		}
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: set nonblock: %w", err)
	}

	mask := uint32(listenMask)
	if s.cfg.Trigger.ListenEdgeTriggered() {
		mask |= mux.EdgeTriggered
	}
	if err := s.epoll.Add(fd, mask); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: epoll add listen fd: %w", err)
	}
	s.listenFD = fd
	return nil
}

// loop is the single-threaded event loop: compute the next timer
// deadline, wait, fire expired timers, then dispatch ready events.
func (s *Server) loop(ctx context.Context) error {
	buf := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := s.wheelNextTickMS()
		if timeout < 0 || timeout > 1000 {
			timeout = 1000 // recheck ctx.Done() periodically even with no timers armed
		}
		events, err := s.epoll.Wait(timeout, buf)
		if err != nil {
			return fmt.Errorf("reactor: epoll wait: %w", err)
		}
		s.wheelTick()

		for _, ev := range events {
			s.dispatch(ev)
		}
	}
}

func (s *Server) dispatch(ev mux.Event) {
	if ev.FD == s.listenFD {
		s.acceptLoop()
		return
	}

	s.mu.Lock()
	sess, ok := s.conns[ev.FD]
	s.mu.Unlock()
	if !ok {
		return
	}

	if ev.Mask&(mux.Hangup|mux.PeerHangup|mux.Err) != 0 {
		s.closeConn(ev.FD)
		return
	}

	if ev.Mask&mux.Readable != 0 {
		s.wheelAdjust(ev.FD, s.readIdleTimeout(sess))
		s.submit(func() { s.handleRead(ev.FD, sess) })
	}
	if ev.Mask&mux.Writable != 0 {
		s.wheelAdjust(ev.FD, s.cfg.IdleTimeout)
		s.submit(func() { s.handleWrite(ev.FD, sess) })
	}
}

// The timer wheel would be reactor-exclusive and lock-free if only the
// event loop ever touched it, but closeConn can also run on a worker
// goroutine (a failed read/write), so every wheel access is funneled
// through these mutex-guarded wrappers instead.
func (s *Server) wheelAdd(id int, ttl time.Duration, onExpire timer.OnExpire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wheel.Add(id, ttl, onExpire)
}

func (s *Server) wheelAdjust(id int, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wheel.Adjust(id, ttl)
}

func (s *Server) wheelRemove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheel.Remove(id)
}

// wheelTick fires expired timers. It drains due nodes under the lock,
// then releases it before invoking callbacks (closeConn takes s.mu
// itself, and the mutex isn't reentrant).
func (s *Server) wheelTick() {
	s.mu.Lock()
	due := s.wheel.DrainDue()
	s.mu.Unlock()
	for _, d := range due {
		if d.OnExpire != nil {
			d.OnExpire(d.ID)
		}
	}
}

func (s *Server) wheelNextTickMS() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wheel.NextTickMS()
}

// readIdleTimeout extends the idle deadline for a connection whose
// in-flight request already parsed as one of the auth endpoints: those
// requests carry a DB round trip inside conn.Process, which can run
// longer than the plain filesystem lookup a static request needs.
func (s *Server) readIdleTimeout(sess *session.Session) time.Duration {
	if kind, ok := sess.PendingRouteKind(); ok && kind == router.RouteAuth {
		return s.cfg.IdleTimeout + 3*time.Second
	}
	return s.cfg.IdleTimeout
}

func (s *Server) submit(task workerpool.Task) {
	if err := s.pool.Submit(task); err != nil {
		s.log.Warnf("reactor: submit after shutdown: %v", err)
	}
}

// acceptLoop drains pending connections off the listen backlog. When the
// listen socket is edge-triggered it repeats until EAGAIN; level-triggered
// it accepts at most one and relies on the next readiness notification
// for the rest.
func (s *Server) acceptLoop() {
	for {
		connFD, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				s.log.Warnf("reactor: accept: %v", err)
			}
			return
		}

		if atomic.LoadInt64(&session.LiveConnections) >= config.MaxFD {
			unix.Write(connFD, []byte("Server busy!"))
			unix.Close(connFD)
			s.log.Warnf("reactor: rejecting connection, live >= %d", config.MaxFD)
			if !s.cfg.Trigger.ListenEdgeTriggered() {
				return
			}
			continue
		}

		if err := unix.SetNonblock(connFD, true); err != nil {
			unix.Close(connFD)
			continue
		}

		sess := session.New(s.rt, s.cfg.ResourceRoot, s.cfg.Trigger.ConnEdgeTriggered())
		sess.Init(connFD, peerAddr(sa), s.verifier)

		mask := uint32(connMask) | mux.OneShot
		if s.cfg.Trigger.ConnEdgeTriggered() {
			mask |= mux.EdgeTriggered
		}
		if err := s.epoll.Add(connFD, mask); err != nil {
			s.log.Warnf("reactor: epoll add conn fd: %v", err)
			sess.Close()
			continue
		}

		s.mu.Lock()
		s.conns[connFD] = sess
		s.mu.Unlock()
		s.wheelAdd(connFD, s.cfg.IdleTimeout, func(id int) { s.closeConn(id) })

		if !s.cfg.Trigger.ListenEdgeTriggered() {
			return
		}
	}
}

// handleRead is the read-task body submitted to the worker pool.
func (s *Server) handleRead(fd int, sess *session.Session) {
	n, err := sess.Read()
	if n <= 0 && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.closeConn(fd)
		return
	}

	done, err := sess.Process()
	if err != nil {
		s.closeConn(fd)
		return
	}

	mask := uint32(connMask) | mux.OneShot
	if s.cfg.Trigger.ConnEdgeTriggered() {
		mask |= mux.EdgeTriggered
	}
	if done {
		mask = mux.Writable | mux.OneShot
		if s.cfg.Trigger.ConnEdgeTriggered() {
			mask |= mux.EdgeTriggered
		}
	}
	if err := s.epoll.Modify(fd, mask); err != nil {
		s.closeConn(fd)
	}
}

// handleWrite is the write-task body submitted to the worker pool.
func (s *Server) handleWrite(fd int, sess *session.Session) {
	_, err := sess.Write()

	flushed := sess.BytesPendingWrite() == 0
	switch {
	case flushed && sess.KeepAlive():
		// A pipelined second request may already be sitting in the
		// in-buffer from the read that produced this response; drive the
		// parser again before deciding which way to re-arm, since no new
		// EPOLLIN will fire for bytes the client already wrote.
		done, procErr := sess.Process()
		if procErr != nil {
			s.closeConn(fd)
			return
		}
		mask := uint32(connMask) | mux.OneShot
		if done {
			mask = mux.Writable | mux.OneShot
		}
		if s.cfg.Trigger.ConnEdgeTriggered() {
			mask |= mux.EdgeTriggered
		}
		if err := s.epoll.Modify(fd, mask); err != nil {
			s.closeConn(fd)
		}
	case !flushed && (err == unix.EAGAIN || err == unix.EWOULDBLOCK):
		mask := uint32(mux.Writable) | mux.OneShot
		if s.cfg.Trigger.ConnEdgeTriggered() {
			mask |= mux.EdgeTriggered
		}
		if err := s.epoll.Modify(fd, mask); err != nil {
			s.closeConn(fd)
		}
	default:
		s.closeConn(fd)
	}
}

// closeConn tears down a connection exactly once: removes the epoll
// registration, the timer entry, the connection-map entry, and closes
// the session (which itself closes the fd and decrements the
// live-connection counter).
func (s *Server) closeConn(fd int) {
	s.mu.Lock()
	sess, ok := s.conns[fd]
	if ok {
		delete(s.conns, fd)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.epoll.Remove(fd)
	s.wheelRemove(fd)
	sess.Close()
}

func peerAddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
