package session

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"go-socks5-gateway/internal/fsm"
	"go-socks5-gateway/internal/netutil"
	"go-socks5-gateway/internal/resolver"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/socks5"
)

// onRequestDispatch is csRequestWrite's OnArrival hook: the synchronous
// half of spec's REQUEST_WRITE state. It either already knows the reply
// (CMD rejected by the parser; an unsupported ATYP is replied to from
// onRequestRead and never reaches this state) or kicks off resolution/connect and
// lets an async callback (onResolveComplete / onConnectWritable) finish
// the job later. Either way it may call s.finalizeReply, which Gotos the
// client machine straight to csReply — safe to call from inside an
// OnArrival hook since fsm.Machine.Goto is reentrant-safe by design.
func (s *Session) onRequestDispatch() {
	if s.request.Rep != 0 {
		s.finalizeReply(s.request.Rep, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
		return
	}

	s.destPort = s.request.Port()

	switch s.request.Atyp {
	case socks5.ATYPDomain:
		s.destHost = s.request.Domain()
		if s.destHost == "" {
			// Zero-length domain: spec §8 boundary behavior says this is
			// accepted by the parser and fails resolution afterwards.
			s.metrics.RecordDNS(false)
			s.finalizeReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
			return
		}
		s.res.Request(s.destHost, fmt.Sprintf("%d", s.destPort), s, s.onResolveComplete)

	case socks5.ATYPIPv4, socks5.ATYPIPv6:
		ip := s.request.IP()
		s.destHost = ip.String()
		s.candidates = []net.IPAddr{{IP: ip}}
		s.candidateIdx = 0
		s.metrics.RecordDNS(true) // literal address: no resolution needed, trivially "ok"
		s.attemptConnect()
	}
}

// onResolveComplete is the resolver.Callback delivered on the
// event-loop thread (spec §4.E: never on a worker goroutine).
func (s *Session) onResolveComplete(status resolver.Status, addrs []net.IPAddr, err error) {
	if status != resolver.StatusSuccess || len(addrs) == 0 {
		s.metrics.RecordDNS(false)
		s.finalizeReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
		return
	}
	s.metrics.RecordDNS(true)
	s.candidates = addrs
	s.candidateIdx = 0
	s.attemptConnect()
}

// attemptConnect walks the candidate list per spec's "Connect fallback
// policy": create a non-blocking socket, issue connect; on synchronous
// failure, close and try the next candidate; on "in progress", register
// for writable readiness and wait; on synchronous success (loopback, for
// instance), proceed immediately. If the list exhausts, reply with
// RepConnectionRefused.
func (s *Session) attemptConnect() {
	for s.candidateIdx < len(s.candidates) {
		ip := s.candidates[s.candidateIdx].IP
		sa, family, err := netutil.SockaddrFor(ip, int(s.destPort))
		if err != nil {
			s.candidateIdx++
			continue
		}

		fd, err := netutil.NewNonblockingSocket(family)
		if err != nil {
			s.candidateIdx++
			continue
		}

		done, cerr := netutil.Connect(fd, sa)
		if cerr != nil {
			unix.Close(fd)
			s.candidateIdx++
			continue
		}

		s.originFd = fd
		if regErr := s.sel.Register(fd, selector.Handler{
			OnReadReady:  func(key selector.Key) { s.originMachine.Dispatch(fsm.EventReadReady) },
			OnWriteReady: func(key selector.Key) { s.originMachine.Dispatch(fsm.EventWriteReady) },
			OnBlockReady: func(key selector.Key) { s.originMachine.Dispatch(fsm.EventBlockReady) },
		}, selector.Write, s); regErr != nil {
			unix.Close(fd)
			s.originFd = -1
			s.candidateIdx++
			continue
		}

		s.originMachine.Goto(osConnecting)

		if done {
			s.handleConnectOutcome(nil)
		}
		return
	}

	// Candidates exhausted.
	s.finalizeReply(socks5.RepConnectionRefused, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
}

// onConnectWritable is osConnecting's OnWriteReady hook: the origin fd
// became writable, meaning connect(2) has resolved one way or another.
func (s *Session) onConnectWritable() fsm.State {
	sockErr := netutil.SocketError(s.originFd)
	s.handleConnectOutcome(sockErr)
	return osConnecting // transition to TUNNEL/DONE happens in afterReplySent, once the client side has flushed its reply (spec's coupling rule)
}

// onConnectBlocked is osConnecting's OnBlockReady hook, covering
// EPOLLERR/EPOLLHUP surfaced directly by the selector rather than
// through a writable event with a pending SO_ERROR.
func (s *Session) onConnectBlocked() fsm.State {
	s.handleConnectOutcome(fmt.Errorf("session: origin fd reported error/hangup"))
	return osConnecting
}

func (s *Session) handleConnectOutcome(sockErr error) {
	if sockErr != nil {
		s.sel.Unregister(s.originFd)
		s.originFd = -1
		s.candidateIdx++
		s.attemptConnect()
		return
	}

	// This candidate connected successfully; stop watching it until the
	// tunnel phase (coupling rule: origin machine blocks, interest=none,
	// while waiting for the client side to emit the reply).
	s.sel.SetInterest(s.originFd, selector.None)

	ip, port, err := netutil.LocalAddr(s.originFd)
	if err != nil {
		s.finalizeReply(socks5.RepGeneralFailure, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
		return
	}
	s.boundIP, s.boundPort = ip, port

	atyp := byte(socks5.ATYPIPv4)
	addrBytes := ip.To4()
	if addrBytes == nil {
		atyp = socks5.ATYPIPv6
		addrBytes = ip.To16()
	}
	s.finalizeReply(socks5.RepSuccess, atyp, addrBytes, uint16(port))
}

// finalizeReply is the single place a session's REP code is decided:
// it marshals the reply bytes, records the reply-code histogram slot
// and the access log line (spec §6, "recorded once per session at the
// moment REP is set"), and nudges the client machine toward csReply —
// from wherever it currently sits, synchronously or asynchronously.
func (s *Session) finalizeReply(rep, atyp byte, addr []byte, port uint16) {
	if s.repKnown {
		return
	}
	s.repKnown = true
	s.repCode = rep

	var reply []byte
	if rep == socks5.RepSuccess {
		reply, _ = socks5.MarshalReply(rep, atyp, addr, port)
	} else {
		reply = socks5.ZeroBoundReply(rep)
	}
	s.replyBytes = reply
	s.replyReady = true

	s.metrics.RecordReply(rep)
	if s.access != nil {
		dst := s.destHost
		if s.destPort != 0 {
			dst = fmt.Sprintf("%s:%d", s.destHost, s.destPort)
		}
		s.access.Access(s.username, s.clientAddr, dst, rep == socks5.RepSuccess)
	}

	s.clientMachine.Goto(csReply)
}

// terminateHard ends the session abruptly on a hard I/O error, per spec
// §7 "Hard I/O error mid-relay ... terminates the session gracefully
// from both sides; remaining buffered bytes may be lost."
func (s *Session) terminateHard() {
	s.clientMachine.Goto(csError)
	s.originMachine.Goto(osError)
}
