//go:build linux

// Package reactor wraps Linux epoll as a readiness multiplexer over raw file
// descriptors. Client connections run edge-triggered with one-shot delivery
// so that at most one worker at a time owns a connection; Modify is safe to
// call from worker goroutines because epoll_ctl is thread-safe.
package reactor

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Event is a mask of readiness conditions a registration subscribes to.
type Event uint32

const (
	Read Event = 1 << iota
	Write
	EdgeTriggered
	OneShot
	RDHup
	Err
	Hup
)

// Ready describes one fd returned from Wait.
type Ready struct {
	FD     int
	Events Event
}

// Reactor multiplexes readiness over registered file descriptors.
type Reactor struct {
	epfd   int
	events []unix.EpollEvent
	ready  []Ready
}

// New creates a Reactor that returns at most maxEvents descriptors per Wait.
func New(maxEvents int) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Reactor{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Ready, maxEvents),
	}, nil
}

// Add registers fd with the given event mask.
func (r *Reactor) Add(fd int, ev Event) error {
	e := &unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, e); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Modify changes fd's event mask. Required to rearm one-shot registrations.
func (r *Reactor) Modify(fd int, ev Event) error {
	e := &unix.EpollEvent{Events: toEpoll(ev), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, e); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd.
func (r *Reactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks up to timeoutMS for readiness and returns the ready set.
// timeoutMS of -1 blocks indefinitely, 0 polls. The returned slice is reused
// across calls.
func (r *Reactor) Wait(timeoutMS int) ([]Ready, error) {
	for {
		n, err := unix.EpollWait(r.epfd, r.events, timeoutMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			r.ready[i] = Ready{
				FD:     int(r.events[i].Fd),
				Events: fromEpoll(r.events[i].Events),
			}
		}
		return r.ready[:n], nil
	}
}

// Close releases the epoll descriptor.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

func toEpoll(ev Event) uint32 {
	var out uint32
	if ev&Read != 0 {
		out |= unix.EPOLLIN
	}
	if ev&Write != 0 {
		out |= unix.EPOLLOUT
	}
	if ev&EdgeTriggered != 0 {
		out |= unix.EPOLLET
	}
	if ev&OneShot != 0 {
		out |= unix.EPOLLONESHOT
	}
	if ev&RDHup != 0 {
		out |= unix.EPOLLRDHUP
	}
	return out
}

func fromEpoll(bits uint32) Event {
	var out Event
	if bits&unix.EPOLLIN != 0 {
		out |= Read
	}
	if bits&unix.EPOLLOUT != 0 {
		out |= Write
	}
	if bits&unix.EPOLLRDHUP != 0 {
		out |= RDHup
	}
	if bits&unix.EPOLLERR != 0 {
		out |= Err
	}
	if bits&unix.EPOLLHUP != 0 {
		out |= Hup
	}
	return out
}
