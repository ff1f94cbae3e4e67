package session

import (
	"go-socks5-gateway/internal/fsm"
	"go-socks5-gateway/internal/netutil"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/socks5"
)

// fillReadBuf performs one non-blocking read from the client fd into
// readBuf's writable span. ok=false means no new bytes were appended;
// fatal distinguishes why: fatal=false is a transient would-block (the
// caller retains its current state and waits for the next readiness
// event), fatal=true is EOF or a hard error (the caller must terminate
// the session rather than spin re-reading a closed/broken fd).
func (s *Session) fillReadBuf() (ok bool, fatal bool) {
	span := s.readBuf.WritePtr()
	if len(span) == 0 {
		// Handshake messages are bounded well under handshakeBufSize; a
		// full buffer here means a malformed/oversized message.
		return false, true
	}
	n, err, wouldBlock := netutil.Read(s.clientFd, span)
	if wouldBlock {
		return false, false
	}
	if err != nil || n == 0 {
		return false, true
	}
	s.readBuf.WriteAdv(n)
	return true, false
}

// drainWriteBuf performs one non-blocking write of writeBuf's readable
// span to the client fd.
func (s *Session) drainWriteBuf() (drained bool, hardErr bool) {
	span := s.writeBuf.ReadPtr()
	if len(span) == 0 {
		return true, false
	}
	n, err, wouldBlock := netutil.Write(s.clientFd, span)
	if n > 0 {
		s.writeBuf.ReadAdv(n)
	}
	if wouldBlock {
		return false, false
	}
	if err != nil {
		return false, true
	}
	return !s.writeBuf.CanRead(), false
}

func (s *Session) onHelloRead() fsm.State {
	ok, fatal := s.fillReadBuf()
	if !ok {
		if fatal {
			s.terminateHard()
			return csError
		}
		return csHelloRead
	}

	switch s.greeting.Consume(s.readBuf) {
	case socks5.StatusPending:
		return csHelloRead
	case socks5.StatusError:
		s.selectedMethod = socks5.MethodNoAccept
	case socks5.StatusDone:
		s.selectedMethod = socks5.SelectMethod(s.offeredMethods, !s.users.Empty())
	}

	s.writeBuf.Reset()
	buf := s.writeBuf.WritePtr()
	buf[0] = socks5.Version
	buf[1] = s.selectedMethod
	s.writeBuf.WriteAdv(2)

	s.sel.SetInterest(s.clientFd, selector.Write)
	return csHelloWrite
}

func (s *Session) onHelloWrite() fsm.State {
	drained, hardErr := s.drainWriteBuf()
	if hardErr {
		s.terminateHard()
		return csError
	}
	if !drained {
		return csHelloWrite
	}

	if s.selectedMethod == socks5.MethodNoAccept {
		return csError
	}

	s.sel.SetInterest(s.clientFd, selector.Read)
	if s.selectedMethod == socks5.MethodUserPass {
		return csAuthRead
	}
	return csRequestRead
}

func (s *Session) onAuthRead() fsm.State {
	ok, fatal := s.fillReadBuf()
	if !ok {
		if fatal {
			s.terminateHard()
			return csError
		}
		return csAuthRead
	}

	status := s.auth.Consume(s.readBuf)
	if status == socks5.StatusPending {
		return csAuthRead
	}

	authOK := status == socks5.StatusDone && s.users.Authenticate(s.auth.Username(), s.auth.Password())
	if authOK {
		s.username = s.auth.Username()
	}
	s.metrics.RecordAuth(authOK)
	s.pendingAuthOK = authOK

	s.writeBuf.Reset()
	buf := s.writeBuf.WritePtr()
	buf[0] = socks5.AuthVersion
	if authOK {
		buf[1] = socks5.AuthStatusOK
	} else {
		buf[1] = socks5.AuthStatusErr
	}
	s.writeBuf.WriteAdv(2)

	s.sel.SetInterest(s.clientFd, selector.Write)
	return csAuthWrite
}

func (s *Session) onAuthWrite() fsm.State {
	drained, hardErr := s.drainWriteBuf()
	if hardErr {
		s.terminateHard()
		return csError
	}
	if !drained {
		return csAuthWrite
	}

	if s.pendingAuthOK {
		s.sel.SetInterest(s.clientFd, selector.Read)
		return csRequestRead
	}
	return csError
}

func (s *Session) onRequestRead() fsm.State {
	ok, fatal := s.fillReadBuf()
	if !ok {
		if fatal {
			s.terminateHard()
			return csError
		}
		return csRequestRead
	}

	switch s.request.Consume(s.readBuf) {
	case socks5.StatusPending:
		return csRequestRead
	case socks5.StatusError:
		// RSV!=0 or an unrecoverable parse failure: no well-formed
		// request to reply to the specifics of. An unsupported ATYP
		// already set Request.Rep to 0x08 before aborting the parse (it
		// can't be continued without knowing DSTADDR's length); anything
		// else falls back to a general-failure reply (spec §7 "Protocol
		// error ... ends the session with REP=0x01").
		rep := s.request.Rep
		if rep == 0 {
			rep = socks5.RepGeneralFailure
		}
		s.finalizeReply(rep, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, 0)
		return csReply // finalizeReply already jumped the machine here (and armed write interest); match it
	}

	s.sel.SetInterest(s.clientFd, selector.None)
	return csRequestWrite
}
