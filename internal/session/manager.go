package session

import (
	"fmt"
	"log"
	"net"

	"go-socks5-gateway/internal/accesslog"
	"go-socks5-gateway/internal/buffer"
	"go-socks5-gateway/internal/config"
	"go-socks5-gateway/internal/fsm"
	"go-socks5-gateway/internal/metrics"
	"go-socks5-gateway/internal/netutil"
	"go-socks5-gateway/internal/resolver"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/userstore"
)

// Manager owns the SOCKS5 listening socket and the registry of live
// Sessions, all driven by one shared Selector. It is the event-loop-side
// counterpart of spec §4.F: everything here runs on the goroutine that
// calls Selector.Wait, so the registry needs no lock.
type Manager struct {
	sel     *selector.Selector
	res     *resolver.Pool
	metrics *metrics.Metrics
	users   *userstore.Store
	access  *accesslog.Writer
	cfg     *config.Config

	listenFd int
	nextID   uint64
	sessions map[uint64]*Session
}

// NewManager wires together the already-constructed shared collaborators.
// It does not itself open any sockets; call Listen to start accepting.
func NewManager(cfg *config.Config, sel *selector.Selector, res *resolver.Pool, m *metrics.Metrics, users *userstore.Store, access *accesslog.Writer) *Manager {
	return &Manager{
		sel:      sel,
		res:      res,
		metrics:  m,
		users:    users,
		access:   access,
		cfg:      cfg,
		listenFd: -1,
		sessions: make(map[uint64]*Session),
	}
}

// Listen opens the SOCKS5 listening socket and registers it with the
// selector; accepted connections become Sessions.
func (mgr *Manager) Listen() error {
	fd, err := netutil.ListenTCP(mgr.cfg.SOCKS5Addr, mgr.cfg.SOCKS5Port)
	if err != nil {
		return fmt.Errorf("session: listen socks5: %w", err)
	}
	mgr.listenFd = fd

	return mgr.sel.Register(fd, selector.Handler{
		OnReadReady: func(key selector.Key) { mgr.acceptLoop() },
	}, selector.Read, nil)
}

// acceptLoop drains every pending connection on the listening socket —
// accept4 is level-triggered-friendly but draining the backlog in one
// pass avoids a thundering stampede of separate Wait() round trips under
// a connection burst.
func (mgr *Manager) acceptLoop() {
	for {
		fd, peerIP, peerPort, ok, err := netutil.Accept(mgr.listenFd)
		if err != nil {
			log.Printf("[session] accept: %v", err)
			return
		}
		if !ok {
			return
		}
		mgr.spawn(fd, peerIP, peerPort)
	}
}

func (mgr *Manager) spawn(fd int, peerIP net.IP, peerPort int) {
	mgr.nextID++
	s := &Session{
		id:           mgr.nextID,
		sel:          mgr.sel,
		res:          mgr.res,
		metrics:      mgr.metrics,
		users:        mgr.users,
		access:       mgr.access,
		snifferPorts: mgr.cfg.SnifferPorts,
		username:     "anonymous",
		clientFd:     fd,
		originFd:     -1,
		readBuf:      buffer.New(handshakeBufSize),
		writeBuf:     buffer.New(handshakeBufSize),
		c2o:          buffer.New(relayBufSize),
		o2c:          buffer.New(relayBufSize),
		clientAddr:   fmt.Sprintf("%s:%d", peerIP, peerPort),
		onDestroy:    mgr.destroy,
	}

	if err := mgr.sel.Register(fd, selector.Handler{
		OnReadReady:  func(key selector.Key) { s.clientMachine.Dispatch(fsm.EventReadReady) },
		OnWriteReady: func(key selector.Key) { s.clientMachine.Dispatch(fsm.EventWriteReady) },
	}, selector.Read, s); err != nil {
		log.Printf("[session] register client fd: %v", err)
		netutil.CloseFd(fd)
		return
	}

	s.clientMachine = fsm.New(clientTable, csHelloRead, s)
	s.originMachine = fsm.New(originTable, osIdle, s)

	mgr.sessions[s.id] = s
	mgr.metrics.IncConnection()
}

func (mgr *Manager) destroy(s *Session) {
	if _, ok := mgr.sessions[s.id]; ok {
		delete(mgr.sessions, s.id)
		mgr.metrics.DecConnection()
	}
}

// Len reports the number of live sessions, for tests and diagnostics.
func (mgr *Manager) Len() int { return len(mgr.sessions) }

// Shutdown tears down every live session and closes the listening
// socket, used during orderly process shutdown.
func (mgr *Manager) Shutdown() {
	for _, s := range mgr.sessions {
		s.terminateHard()
	}
	if mgr.listenFd >= 0 {
		mgr.sel.Unregister(mgr.listenFd)
		mgr.listenFd = -1
	}
}
