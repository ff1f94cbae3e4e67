// Package monitor implements the administrative text protocol (spec
// §4.G / §6): a line-oriented command connection returning either a
// metrics snapshot, the result of RESET, or the result of ADDUSER,
// driven by the same selector as the SOCKS5 listener rather than a
// separate net.Listener goroutine — grounded on the C reference's
// helpers/monitor.c accept/write shape, extended with command parsing
// per spec's supplemented ADDUSER/RESET surface.
package monitor

import (
	"bytes"
	"fmt"
	"log"
	"strings"

	"go-socks5-gateway/internal/metrics"
	"go-socks5-gateway/internal/netutil"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/userstore"
)

const (
	maxCommandLine = 1024
	maxResponse    = 8192
)

// Server owns the monitor listening socket and its connected clients.
type Server struct {
	sel     *selector.Selector
	metrics *metrics.Metrics
	users   *userstore.Store

	listenFd int
}

// NewServer wires a Server to the shared selector and core collaborators.
func NewServer(sel *selector.Selector, m *metrics.Metrics, users *userstore.Store) *Server {
	return &Server{sel: sel, metrics: m, users: users, listenFd: -1}
}

// Listen opens the monitor listening socket and registers it.
func (srv *Server) Listen(addr string, port int) error {
	fd, err := netutil.ListenTCP(addr, port)
	if err != nil {
		return fmt.Errorf("monitor: listen: %w", err)
	}
	srv.listenFd = fd
	return srv.sel.Register(fd, selector.Handler{
		OnReadReady: func(key selector.Key) { srv.acceptLoop() },
	}, selector.Read, nil)
}

func (srv *Server) acceptLoop() {
	for {
		fd, _, _, ok, err := netutil.Accept(srv.listenFd)
		if err != nil {
			log.Printf("[monitor] accept: %v", err)
			return
		}
		if !ok {
			return
		}
		srv.spawn(fd)
	}
}

// client holds one in-progress monitor connection: a command line being
// accumulated, and a response being drained once the command resolves.
type client struct {
	fd       int
	sel      *selector.Selector
	input    bytes.Buffer
	response []byte
	sent     int
}

func (srv *Server) spawn(fd int) {
	c := &client{fd: fd, sel: srv.sel}
	if err := srv.sel.Register(fd, selector.Handler{
		OnReadReady:  func(key selector.Key) { srv.onReadable(c) },
		OnWriteReady: func(key selector.Key) { srv.onWritable(c) },
	}, selector.Read, c); err != nil {
		log.Printf("[monitor] register client: %v", err)
		netutil.CloseFd(fd)
	}
}

func (srv *Server) onReadable(c *client) {
	var buf [512]byte
	for {
		n, err, wouldBlock := netutil.Read(c.fd, buf[:])
		if wouldBlock {
			return
		}
		if n == 0 || err != nil {
			// Peer closed without a newline-terminated command: treat
			// whatever arrived (possibly nothing) as the request.
			srv.resolve(c, c.input.String())
			return
		}
		c.input.Write(buf[:n])

		if c.input.Len() > maxCommandLine {
			srv.respondError(c, "command too long")
			return
		}
		if idx := bytes.IndexByte(c.input.Bytes(), '\n'); idx >= 0 {
			line := c.input.String()[:idx]
			srv.resolve(c, line)
			return
		}
	}
}

func (srv *Server) resolve(c *client, line string) {
	srv.respond(c, srv.execute(line))
}

// execute runs one command line and returns the response body. Split
// out from the fd plumbing so command semantics are testable without
// sockets.
func (srv *Server) execute(line string) string {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)

	switch {
	case len(fields) == 0:
		return srv.metrics.Snapshot()

	case strings.EqualFold(fields[0], "RESET"):
		srv.metrics.Reset()
		return "OK: metrics reset\n"

	case strings.EqualFold(fields[0], "ADDUSER"):
		if len(fields) != 3 {
			return "ERROR: invalid username\n"
		}
		if err := srv.users.Add(fields[1], fields[2]); err != nil {
			return "ERROR: user exists or table full\n"
		}
		return "OK: user added\n"

	default:
		return "ERROR: unknown command\n"
	}
}

func (srv *Server) respondError(c *client, reason string) {
	srv.respond(c, fmt.Sprintf("ERROR: %s\n", reason))
}

func (srv *Server) respond(c *client, body string) {
	if len(body) > maxResponse {
		body = body[:maxResponse]
	}
	c.response = []byte(body)
	srv.sel.SetInterest(c.fd, selector.Write)
}

func (srv *Server) onWritable(c *client) {
	n, err, wouldBlock := netutil.Write(c.fd, c.response[c.sent:])
	if n > 0 {
		c.sent += n
	}
	if wouldBlock {
		return
	}
	if err != nil || c.sent >= len(c.response) {
		srv.sel.Unregister(c.fd)
	}
}

// Close tears down the monitor listening socket.
func (srv *Server) Close() {
	if srv.listenFd >= 0 {
		srv.sel.Unregister(srv.listenFd)
		srv.listenFd = -1
	}
}
