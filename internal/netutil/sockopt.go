// Package netutil adapts the teacher's raw socket-option tuning
// (sockopt_linux.go / sockopt_other.go) from net.Dialer.Control hooks
// into the raw syscall.Socket/connect(2) path the session's
// non-blocking connect-fallback loop needs, since spec §4.F requires
// trying candidate addresses one at a time over non-blocking connects
// rather than letting net.Dialer own the whole attempt.
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TuneTCP applies the same performance options the teacher's
// sockopt_linux.go sets via net.Dialer.Control: address reuse, Nagle
// disabled, and TCP keepalive with a 30s idle / 10s interval / 3 probe
// schedule.
func TuneTCP(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("netutil: TCP_NODELAY: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("netutil: SO_KEEPALIVE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); err != nil {
		return fmt.Errorf("netutil: TCP_KEEPIDLE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); err != nil {
		return fmt.Errorf("netutil: TCP_KEEPINTVL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); err != nil {
		return fmt.Errorf("netutil: TCP_KEEPCNT: %w", err)
	}
	return nil
}

// SocketError returns the pending SO_ERROR on fd, the way a
// writable-but-not-yet-connected non-blocking socket must be checked
// after connect(2) returns EINPROGRESS.
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("netutil: SO_ERROR: %w", err)
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
