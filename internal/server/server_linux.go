//go:build linux

// Package server owns the listener, the reactor loop, the connection table
// and the idle-timeout sweep. One goroutine runs the reactor; a fixed worker
// pool performs all connection I/O. Client descriptors are registered
// one-shot, so at most one worker owns a connection at a time; workers rearm
// through the reactor (epoll_ctl is thread-safe) and schedule closes through
// a queue the reactor drains, so a close commits only on the reactor
// goroutine once the connection has no pending worker.
package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/goceleris/celeris/internal/auth"
	"github.com/goceleris/celeris/internal/pool"
	"github.com/goceleris/celeris/internal/protocol"
	"github.com/goceleris/celeris/internal/reactor"
	"github.com/goceleris/celeris/internal/timer"
)

const (
	maxEvents = 1024
	backlog   = 4096
)

var busyResponse = []byte("Server busy!")

// Config carries the server's startup parameters.
type Config struct {
	Port     int
	Root     string        // document root for static files
	TrigMode int           // 0: LT/LT, 1: LT listen + ET conn, 2: ET listen + LT conn, 3: ET/ET
	Timeout  time.Duration // idle-connection timeout; 0 disables the sweep
	Workers  int
	MaxConns int
	Linger   bool // SO_LINGER with a 1s timeout on the listener
}

// Server is the single-node serving engine.
type Server struct {
	cfg  Config
	log  *zap.SugaredLogger
	hook protocol.AuthFunc

	reactor *reactor.Reactor
	timers  *timer.Heap
	workers *pool.Pool
	conns   map[int]*conn

	listenFd int
	port     int
	wakeFd   int

	listenEv reactor.Event
	connEv   reactor.Event
	etConn   bool
	etListen bool

	mu     sync.Mutex
	closeQ []int

	runID     string
	userCount atomic.Int64
	closed    atomic.Bool
}

// New builds a Server. store may be nil to disable the auth flow.
func New(cfg Config, log *zap.SugaredLogger, store auth.Store) (*Server, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("document root %q is not a directory", cfg.Root)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 65536
	}

	s := &Server{
		cfg:   cfg,
		log:   log,
		conns: make(map[int]*conn),
		runID: uuid.NewString(),
	}
	if store != nil {
		s.hook = auth.Hook(log, store)
	}
	s.initEventMode(cfg.TrigMode)

	if err := s.initListener(); err != nil {
		return nil, err
	}

	s.reactor, err = reactor.New(maxEvents)
	if err != nil {
		unix.Close(s.listenFd)
		return nil, err
	}
	s.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(s.listenFd)
		s.reactor.Close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	if err := s.reactor.Add(s.wakeFd, reactor.Read); err != nil {
		s.cleanupFds()
		return nil, err
	}
	if err := s.reactor.Add(s.listenFd, s.listenEv); err != nil {
		s.cleanupFds()
		return nil, err
	}

	s.timers = timer.New()
	s.workers = pool.New(cfg.Workers, maxEvents)

	log.Infof("server %s listening on port %d, root %s, trig %d, %d workers",
		s.runID, s.port, cfg.Root, cfg.TrigMode, cfg.Workers)
	return s, nil
}

// Port returns the bound listen port, which differs from Config.Port when 0
// was requested.
func (s *Server) Port() int { return s.port }

// initEventMode derives the listen and connection event masks from the
// configured trigger mode.
func (s *Server) initEventMode(trig int) {
	s.listenEv = reactor.Read | reactor.RDHup
	s.connEv = reactor.OneShot | reactor.RDHup
	switch trig {
	case 0:
	case 1:
		s.connEv |= reactor.EdgeTriggered
	case 2:
		s.listenEv |= reactor.EdgeTriggered
	default:
		s.listenEv |= reactor.EdgeTriggered
		s.connEv |= reactor.EdgeTriggered
	}
	s.etListen = s.listenEv&reactor.EdgeTriggered != 0
	s.etConn = s.connEv&reactor.EdgeTriggered != 0
}

func (s *Server) initListener() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if s.cfg.Linger {
		// Flush pending data for up to a second on close.
		unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1})
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: s.cfg.Port}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind port %d: %w", s.cfg.Port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}
	if inet, ok := sa.(*unix.SockaddrInet4); ok {
		s.port = inet.Port
	}
	s.listenFd = fd
	return nil
}

// Run executes the reactor loop until Shutdown. Only unrecoverable reactor
// errors return early.
func (s *Server) Run() error {
	defer s.teardown()

	for !s.closed.Load() {
		pending := s.drainCloseQueue()

		timeoutMS := -1
		if s.cfg.Timeout > 0 {
			s.timers.Tick()
			timeoutMS = s.timers.NextTickMS()
		}
		if pending > 0 && (timeoutMS < 0 || timeoutMS > 5) {
			// A close is waiting on an in-flight worker; poll soon.
			timeoutMS = 5
		}

		ready, err := s.reactor.Wait(timeoutMS)
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("reactor wait: %w", err)
		}

		for _, ev := range ready {
			switch {
			case ev.FD == s.listenFd:
				s.acceptLoop()
			case ev.FD == s.wakeFd:
				s.drainWake()
			case ev.Events&(reactor.Err|reactor.Hup|reactor.RDHup) != 0:
				s.closeConn(ev.FD)
			case ev.Events&reactor.Read != 0:
				s.dispatch(ev.FD, (*Server).onRead)
			case ev.Events&reactor.Write != 0:
				s.dispatch(ev.FD, (*Server).onWrite)
			default:
				s.log.Warnf("fd %d: unexpected event mask %b", ev.FD, ev.Events)
				s.closeConn(ev.FD)
			}
		}
	}
	return nil
}

// Shutdown stops the reactor loop and releases all resources.
func (s *Server) Shutdown() {
	if s.closed.Swap(true) {
		return
	}
	s.wake()
}

func (s *Server) teardown() {
	// Stop accepting, then drain the worker pool before touching any
	// connection: a worker may still be inside a writev over a mapped
	// response body, and unmapping or closing the fd underneath it races.
	s.reactor.Remove(s.listenFd)
	unix.Close(s.listenFd)
	s.workers.Close()
	for fd := range s.conns {
		s.closeConn(fd)
	}
	s.cleanupWake()
	s.reactor.Close()
	s.log.Infof("server %s stopped", s.runID)
}

func (s *Server) cleanupFds() {
	unix.Close(s.listenFd)
	unix.Close(s.wakeFd)
	s.reactor.Close()
}

func (s *Server) cleanupWake() {
	s.reactor.Remove(s.wakeFd)
	unix.Close(s.wakeFd)
}

// acceptLoop accepts until EAGAIN (required in edge-triggered mode). Beyond
// MaxConns new sockets get the busy notice and an immediate close.
func (s *Server) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			if err == syscall.EINTR {
				continue
			}
			s.log.Warnf("accept: %v", err)
			return
		}

		if len(s.conns) >= s.cfg.MaxConns {
			s.log.Warnf("connection table full (%d), refusing fd %d", s.cfg.MaxConns, nfd)
			unix.Write(nfd, busyResponse)
			unix.Close(nfd)
		} else {
			s.addClient(nfd, sa)
		}
		if !s.etListen {
			return
		}
	}
}

func (s *Server) addClient(fd int, sa unix.Sockaddr) {
	peer := peerString(sa)
	c := newConn(fd, peer, s.cfg.Root, s.etConn, s.hook)
	s.conns[fd] = c

	if s.cfg.Timeout > 0 {
		s.timers.Add(fd, s.cfg.Timeout, func() { s.expire(fd) })
	}
	if err := s.reactor.Add(fd, s.connEv|reactor.Read); err != nil {
		s.log.Warnf("register fd %d: %v", fd, err)
		delete(s.conns, fd)
		s.timers.Remove(fd)
		c.close()
		return
	}
	n := s.userCount.Add(1)
	s.log.Debugf("client %s connected on fd %d (%d active)", peer, fd, n)
}

// expire is the idle-timeout callback, run on the reactor goroutine. If a
// worker still owns the connection the close is deferred to the queue and
// retried once the worker finishes.
func (s *Server) expire(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	if c.inflight.Load() {
		s.requestClose(fd)
		return
	}
	s.log.Debugf("client %s idle timeout on fd %d", c.peer, fd)
	s.closeConn(fd)
}

// dispatch hands the connection to a worker, extending its timer first.
// The one-shot registration guarantees no second event for this fd until
// the worker rearms.
func (s *Server) dispatch(fd int, task func(*Server, *conn)) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	if s.cfg.Timeout > 0 {
		s.timers.Adjust(fd, s.cfg.Timeout)
	}
	c.inflight.Store(true)
	s.workers.Submit(func() { task(s, c) })
}

// onRead runs on a worker goroutine.
func (s *Server) onRead(c *conn) {
	n, err := c.read()
	if err != nil {
		// EOF or a fatal socket error; transients return nil.
		if err != io.EOF {
			s.log.Warnf("client %s read: %v", c.peer, err)
		}
		s.finishClose(c)
		return
	}
	if n == 0 {
		// Spurious wakeup; wait for more bytes.
		s.rearm(c, reactor.Read)
		return
	}
	s.onProcess(c)
}

// onProcess parses what is buffered and rearms for the side the connection
// now needs.
func (s *Server) onProcess(c *conn) {
	if c.process() {
		s.rearm(c, reactor.Write)
	} else {
		s.rearm(c, reactor.Read)
	}
}

// onWrite runs on a worker goroutine.
func (s *Server) onWrite(c *conn) {
	if _, err := c.write(); err != nil {
		s.log.Warnf("client %s write: %v", c.peer, err)
		s.finishClose(c)
		return
	}
	if c.toWrite() > 0 {
		// Short write; wait for the socket to drain.
		s.rearm(c, reactor.Write)
		return
	}
	if c.keepAlive {
		c.resetForKeepAlive()
		s.onProcess(c)
		return
	}
	s.finishClose(c)
}

// rearm clears the in-flight flag and reposts the one-shot registration.
// The flag must drop first: the next event may fire the moment Modify
// lands, and its worker owns the connection from then on.
func (s *Server) rearm(c *conn, side reactor.Event) {
	c.inflight.Store(false)
	if err := s.reactor.Modify(c.fd, s.connEv|side); err != nil {
		// The reactor thread may have closed this fd underneath us.
		s.log.Debugf("rearm fd %d: %v", c.fd, err)
	}
}

// finishClose ends a worker's ownership and hands the fd to the reactor
// goroutine for the actual close.
func (s *Server) finishClose(c *conn) {
	c.inflight.Store(false)
	s.requestClose(c.fd)
}

// requestClose enqueues fd for closing on the reactor goroutine.
func (s *Server) requestClose(fd int) {
	s.mu.Lock()
	s.closeQ = append(s.closeQ, fd)
	s.mu.Unlock()
	s.wake()
}

func (s *Server) wake() {
	var one [8]byte
	one[7] = 1
	unix.Write(s.wakeFd, one[:])
}

func (s *Server) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(s.wakeFd, buf[:]); err != nil {
			return
		}
	}
}

// drainCloseQueue closes every queued fd whose worker has finished and
// returns how many remain deferred.
func (s *Server) drainCloseQueue() int {
	s.mu.Lock()
	queued := s.closeQ
	s.closeQ = nil
	s.mu.Unlock()

	var remaining []int
	for _, fd := range queued {
		c, ok := s.conns[fd]
		if !ok {
			continue
		}
		if c.inflight.Load() {
			remaining = append(remaining, fd)
			continue
		}
		s.closeConn(fd)
	}
	if len(remaining) > 0 {
		s.mu.Lock()
		s.closeQ = append(s.closeQ, remaining...)
		n := len(s.closeQ)
		s.mu.Unlock()
		return n
	}
	s.mu.Lock()
	n := len(s.closeQ)
	s.mu.Unlock()
	return n
}

// closeConn commits a close: deregister, cancel the timer, unmap, close the
// fd and drop the table entry. Runs only on the reactor goroutine.
func (s *Server) closeConn(fd int) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	delete(s.conns, fd)
	s.timers.Remove(fd)
	s.reactor.Remove(fd)
	c.close()
	n := s.userCount.Add(-1)
	s.log.Debugf("client %s closed on fd %d (%d active)", c.peer, fd, n)
}

func peerString(sa unix.Sockaddr) string {
	if inet, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%s:%d", net.IP(inet.Addr[:]), inet.Port)
	}
	return "unknown"
}
