// Package selector implements the readiness multiplexer that drives every
// socket in the proxy from a single thread: the acceptor, session client
// and origin file descriptors, the monitor plane, and the resolver's
// self-pipe wakeup. It is a thin, Go-idiomatic wrapper around epoll(7),
// grounded on the teacher's use of golang.org/x/sys/unix for raw socket
// control (sockopt_linux.go) and on the epoll event-loop shape used
// throughout the retrieval pack's raw-syscall servers.
package selector

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask over the readiness conditions a registered fd
// cares about.
type Interest uint32

const (
	None  Interest = 0
	Read  Interest = 1 << iota
	Write Interest = 1 << iota
)

func (i Interest) epollEvents() uint32 {
	var ev uint32
	if i&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Key is handed to a Handler on every readiness callback. It identifies
// which selector and fd triggered the call plus whatever user data the
// caller registered alongside it.
type Key struct {
	Selector *Selector
	Fd       int
	Data     any
}

// Handler is the per-fd vtable. Any of the three hooks may be nil; a nil
// hook for a condition that fires is simply skipped.
type Handler struct {
	OnReadReady  func(key Key)
	OnWriteReady func(key Key)
	OnBlockReady func(key Key)
}

type registration struct {
	handler  Handler
	interest Interest
	data     any
}

// Selector multiplexes readiness across every registered fd using a
// single epoll instance. It is not safe for concurrent registration from
// multiple goroutines; by design, everything but the resolver's wakeup
// write runs on the selector's own dispatch goroutine.
type Selector struct {
	epfd int

	mu   sync.Mutex
	regs map[int]*registration

	wakeR int
	wakeW int

	closed bool
}

// New creates a Selector with its epoll instance and self-pipe already
// registered. The self-pipe lets arbitrary threads (the resolver's
// worker pool) nudge the loop out of a blocking Wait.
func New() (*Selector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("selector: epoll_create1: %w", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("selector: pipe2: %w", err)
	}

	s := &Selector{
		epfd:  epfd,
		regs:  make(map[int]*registration),
		wakeR: pipeFds[0],
		wakeW: pipeFds[1],
	}

	if err := s.Register(s.wakeR, Handler{OnReadReady: s.drainWake}, Read, nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("selector: register wake pipe: %w", err)
	}

	return s, nil
}

// Wake is safe to call from any goroutine (including resolver workers)
// to interrupt a blocking Wait.
func (s *Selector) Wake() {
	var b [1]byte
	_, err := unix.Write(s.wakeW, b[:])
	if err != nil && err != unix.EAGAIN {
		log.Printf("[selector] wake write: %v", err)
	}
}

func (s *Selector) drainWake(key Key) {
	var buf [64]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Register adds fd to the selector with the given interest. The fd must
// already be non-blocking; the selector never sets that itself.
func (s *Selector) Register(fd int, h Handler, interest Interest, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.regs[fd]; exists {
		return fmt.Errorf("selector: fd %d already registered", fd)
	}

	ev := unix.EpollEvent{Events: interest.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("selector: epoll_ctl add fd %d: %w", fd, err)
	}

	s.regs[fd] = &registration{handler: h, interest: interest, data: data}
	return nil
}

// SetInterest changes the interest mask for an already-registered fd.
func (s *Selector) SetInterest(fd int, interest Interest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regs[fd]
	if !ok {
		return fmt.Errorf("selector: fd %d not registered", fd)
	}
	if reg.interest == interest {
		return nil
	}

	ev := unix.EpollEvent{Events: interest.epollEvents(), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("selector: epoll_ctl mod fd %d: %w", fd, err)
	}
	reg.interest = interest
	return nil
}

// Unregister removes fd from the selector and closes it. It is a no-op
// if the fd was never registered, so callers can unregister defensively
// during teardown without checking first.
func (s *Selector) Unregister(fd int) {
	s.mu.Lock()
	_, ok := s.regs[fd]
	if ok {
		delete(s.regs, fd)
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	s.mu.Unlock()

	if ok {
		unix.Close(fd)
	}
}

// Data returns the user data currently associated with fd, if registered.
func (s *Selector) Data(fd int) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[fd]
	if !ok {
		return nil, false
	}
	return reg.data, true
}

const maxEvents = 256

// Wait blocks up to timeoutMillis (negative means forever) waiting for
// readiness, then dispatches every ready fd's matching hook. It returns
// the number of fds serviced. EINTR is retried transparently.
func (s *Selector) Wait(timeoutMillis int) (int, error) {
	var events [maxEvents]unix.EpollEvent

	var n int
	for {
		var err error
		n, err = unix.EpollWait(s.epfd, events[:], timeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("selector: epoll_wait: %w", err)
		}
		break
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		mask := events[i].Events

		s.mu.Lock()
		reg, ok := s.regs[fd]
		s.mu.Unlock()
		if !ok {
			continue
		}

		key := Key{Selector: s, Fd: fd, Data: reg.data}

		if mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 && reg.handler.OnBlockReady != nil {
			reg.handler.OnBlockReady(key)
			continue
		}
		if mask&unix.EPOLLIN != 0 && reg.handler.OnReadReady != nil {
			reg.handler.OnReadReady(key)
		}
		if mask&unix.EPOLLOUT != 0 && reg.handler.OnWriteReady != nil {
			reg.handler.OnWriteReady(key)
		}
	}

	return n, nil
}

// Close tears down the selector: every remaining registered fd is
// closed, the epoll instance itself is closed, and the self-pipe is
// released.
func (s *Selector) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fds := make([]int, 0, len(s.regs))
	for fd := range s.regs {
		fds = append(fds, fd)
	}
	s.regs = nil
	s.mu.Unlock()

	for _, fd := range fds {
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if fd != s.wakeR {
			unix.Close(fd)
		}
	}

	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
	return unix.Close(s.epfd)
}
