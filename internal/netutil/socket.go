package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// NewNonblockingSocket creates a non-blocking TCP socket for family
// (unix.AF_INET or unix.AF_INET6), tuned via TuneTCP.
func NewNonblockingSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	if err := TuneTCP(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// SockaddrFor builds a unix.Sockaddr for a net.IP + port, choosing
// AF_INET or AF_INET6 based on whether the address has a v4-in-v6
// representation.
func SockaddrFor(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if v4 := ip.To4(); v4 != nil {
		var addr [4]byte
		copy(addr[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}, unix.AF_INET, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, 0, fmt.Errorf("netutil: invalid IP %v", ip)
	}
	var addr [16]byte
	copy(addr[:], v6)
	return &unix.SockaddrInet6{Port: port, Addr: addr}, unix.AF_INET6, nil
}

// Connect issues a non-blocking connect(2). done=true means the connect
// completed synchronously (rare, but possible for e.g. loopback);
// done=false with a nil error means the caller must wait for writable
// readiness and then call SocketError to learn the outcome.
func Connect(fd int, sa unix.Sockaddr) (done bool, err error) {
	err = unix.Connect(fd, sa)
	if err == nil {
		return true, nil
	}
	if err == unix.EINPROGRESS {
		return false, nil
	}
	return false, err
}

// LocalAddr returns the local IP/port a connected or about-to-connect
// socket is bound to, for inclusion in the SOCKS5 reply's BND fields.
func LocalAddr(fd int) (net.IP, int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, 0, fmt.Errorf("netutil: getsockname: %w", err)
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return ip, v.Port, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return ip, v.Port, nil
	default:
		return nil, 0, fmt.Errorf("netutil: unexpected sockaddr type %T", sa)
	}
}

// ListenTCP creates a non-blocking, listening TCP socket bound to
// addr:port (addr may be "" for all interfaces) and returns its fd.
func ListenTCP(addr string, port int) (int, error) {
	ip := net.IPv4zero
	if addr != "" {
		parsed := net.ParseIP(addr)
		if parsed == nil {
			return -1, fmt.Errorf("netutil: invalid listen address %q", addr)
		}
		ip = parsed
	}

	sa, family, err := SockaddrFor(ip, port)
	if err != nil {
		return -1, err
	}

	fd, err := NewNonblockingSocket(family)
	if err != nil {
		return -1, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: listen %s:%d: %w", addr, port, err)
	}
	return fd, nil
}

// Accept accepts one pending connection on a non-blocking listening fd.
// ok=false with a nil error means EAGAIN/EWOULDBLOCK — no connection was
// pending.
func Accept(listenFd int) (fd int, peer net.IP, peerPort int, ok bool, err error) {
	connFd, sa, aerr := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return -1, nil, 0, false, nil
		}
		return -1, nil, 0, false, fmt.Errorf("netutil: accept: %w", aerr)
	}

	if err := TuneTCP(connFd); err != nil {
		unix.Close(connFd)
		return -1, nil, 0, false, err
	}

	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return connFd, ip, v.Port, true, nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return connFd, ip, v.Port, true, nil
	default:
		return connFd, nil, 0, true, nil
	}
}

// Read performs one non-blocking read, reporting would-block separately
// from a hard error so relay.Channel.DoRead can distinguish them.
func Read(fd int, p []byte) (n int, err error, wouldBlock bool) {
	n, err = unix.Read(fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil, true
	}
	return n, err, false
}

// Write performs one non-blocking write, reporting would-block
// separately from a hard error. EPIPE is reported like any other hard
// error; the session is responsible for treating it as a graceful
// mid-relay termination rather than propagating it, per spec §5's
// "writes must defensively mask broken-pipe errors" (the event loop
// itself never crashes on EPIPE — it's just another hard-error signal
// here).
func Write(fd int, p []byte) (n int, err error, wouldBlock bool) {
	n, err = unix.Write(fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil, true
	}
	return n, err, false
}

// ShutdownWrite half-closes the write side of fd (TCP FIN), letting the
// peer observe EOF after draining whatever is still in flight.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// ShutdownRead half-closes the read side of fd.
func ShutdownRead(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RD)
}

// CloseFd releases a socket that never made it into the selector (which
// otherwise owns closing registered fds via Unregister).
func CloseFd(fd int) error {
	return unix.Close(fd)
}
