package session

import (
	"go-socks5-gateway/internal/fsm"
	"go-socks5-gateway/internal/netutil"
	"go-socks5-gateway/internal/relay"
	"go-socks5-gateway/internal/selector"
	"go-socks5-gateway/internal/sniff"
)

// onReplyRead is csReply's OnReadReady hook. Before the reply is fully
// flushed, the client fd's read interest is disabled (see
// onRequestRead), so this only ever fires once the tunnel is open —
// at which point it's the client->origin relay read.
func (s *Session) onReplyRead() fsm.State {
	if !s.replySent {
		return csReply
	}
	return s.relayReadC2O()
}

// onReplyWrite is csReply's OnWriteReady hook: first it flushes the
// reply bytes, then (once sent) it becomes the origin->client relay
// write, exactly as spec's table describes REPLY doing double duty.
func (s *Session) onReplyWrite() fsm.State {
	if !s.replySent {
		n, err, wouldBlock := netutil.Write(s.clientFd, s.replyBytes[s.replyOff:])
		if n > 0 {
			s.replyOff += n
		}
		if wouldBlock {
			return csReply
		}
		if err != nil {
			s.terminateHard()
			return csError
		}
		if s.replyOff < len(s.replyBytes) {
			return csReply
		}

		s.replySent = true
		s.afterReplySent()

		if s.repCode != 0 {
			return csDone
		}
		return csReply
	}

	return s.relayWriteO2C()
}

// afterReplySent is the synchronization point spec's coupling rule
// describes: "The client-side REPLY state, after flushing the reply,
// re-enables the origin-side machine and arms both channels'
// interests." On success it builds the relay channels (and wires in a
// credential sniffer if the destination port is configured for one); on
// failure it simply releases the origin fd.
func (s *Session) afterReplySent() {
	if s.repCode != 0 {
		s.originMachine.Goto(osDone)
		if s.originFd >= 0 {
			s.sel.Unregister(s.originFd)
			s.originFd = -1
		}
		return
	}

	s.c2oChannel = relay.New(relay.ClientToOrigin, s.clientFd, s.originFd, s.c2o)
	s.o2cChannel = relay.New(relay.OriginToClient, s.originFd, s.clientFd, s.o2c)

	if sniffer := sniff.New(s.destPort, s.snifferPorts); sniffer != nil {
		s.sniffer = sniffer
		s.c2oChannel.Sink = sniffer
	}

	s.originMachine.Goto(osTunnel)
	s.recomputeInterests()
}

func (s *Session) relayReadC2O() fsm.State {
	res := s.c2oChannel.DoRead(netutil.Read)
	switch res {
	case relay.ReadEOF:
		s.c2oChannel.ReadEnabled = false
	case relay.ReadHardError:
		s.terminateHard()
		return csError
	}

	if s.sniffer != nil && !s.credentialsLogged {
		if creds, ok := s.sniffer.Captured(); ok {
			s.logCredentials(creds)
		}
	}

	return s.afterRelayStep()
}

func (s *Session) relayWriteO2C() fsm.State {
	res := s.o2cChannel.DoWrite(netutil.Write)
	if res == relay.WriteHardError {
		s.terminateHard()
		return csError
	}
	delta := s.o2cChannel.BytesMetered - s.o2cMetered
	s.o2cMetered = s.o2cChannel.BytesMetered
	s.metrics.AddBytesO2C(delta)

	return s.afterRelayStep()
}

func (s *Session) onOriginRead() fsm.State {
	res := s.o2cChannel.DoRead(netutil.Read)
	switch res {
	case relay.ReadEOF:
		s.o2cChannel.ReadEnabled = false
	case relay.ReadHardError:
		s.terminateHard()
		return osError
	}
	s.afterRelayStep()
	return s.originMachine.Current()
}

func (s *Session) onOriginWrite() fsm.State {
	res := s.c2oChannel.DoWrite(netutil.Write)
	if res == relay.WriteHardError {
		s.terminateHard()
		return osError
	}
	delta := s.c2oChannel.BytesMetered - s.c2oMetered
	s.c2oMetered = s.c2oChannel.BytesMetered
	s.metrics.AddBytesC2O(delta)

	s.afterRelayStep()
	return s.originMachine.Current()
}

// afterRelayStep recomputes both fds' interest masks, issues any
// half-close shutdowns now due, and checks for relay termination. It
// returns the client machine's resulting state so client-side hooks can
// return it directly.
func (s *Session) afterRelayStep() fsm.State {
	s.recomputeInterests()
	s.maybeShutdownDrainedWrites()

	if s.c2oChannel.Idle() && s.o2cChannel.Idle() {
		s.clientMachine.Goto(csDone)
		s.originMachine.Goto(osDone)
	}

	return s.clientMachine.Current()
}

// recomputeInterests applies spec §4.F's four interest rules verbatim:
// a fd's read bit tracks the channel reading FROM it, its write bit
// tracks the channel writing TO it.
func (s *Session) recomputeInterests() {
	if s.c2oChannel == nil || s.o2cChannel == nil {
		return
	}

	var clientInterest, originInterest selector.Interest

	if s.c2oChannel.ReadEnabled && s.c2o.CanWrite() {
		clientInterest |= selector.Read
	}
	if s.o2cChannel.WriteEnabled && s.o2c.CanRead() {
		clientInterest |= selector.Write
	}
	if s.o2cChannel.ReadEnabled && s.o2c.CanWrite() {
		originInterest |= selector.Read
	}
	if s.c2oChannel.WriteEnabled && s.c2o.CanRead() {
		originInterest |= selector.Write
	}

	if s.clientFd >= 0 {
		s.sel.SetInterest(s.clientFd, clientInterest)
	}
	if s.originFd >= 0 {
		s.sel.SetInterest(s.originFd, originInterest)
	}
}

// maybeShutdownDrainedWrites issues the TCP half-close once a source
// direction has gone read-disabled (peer EOF or hard stop) and its
// staging buffer has fully drained to the destination, per spec's "half
// close the destination's write side (so the peer observes EOF after
// draining)".
func (s *Session) maybeShutdownDrainedWrites() {
	if s.c2oChannel != nil && !s.c2oChannel.ReadEnabled && !s.c2o.CanRead() && !s.originWriteHalfClosed {
		if s.originFd >= 0 {
			netutil.ShutdownWrite(s.originFd)
		}
		s.originWriteHalfClosed = true
	}
	if s.o2cChannel != nil && !s.o2cChannel.ReadEnabled && !s.o2c.CanRead() && !s.clientWriteHalfClosed {
		if s.clientFd >= 0 {
			netutil.ShutdownWrite(s.clientFd)
		}
		s.clientWriteHalfClosed = true
	}
}

func (s *Session) logCredentials(creds sniff.Credentials) {
	s.credentialsLogged = true
	if s.access == nil {
		return
	}
	proto := s.snifferPorts[s.destPort]
	dst := s.destHost
	if s.destPort != 0 {
		dst = s.destHost + ":" + portString(s.destPort)
	}
	s.access.Credentials(proto, s.clientAddr, dst, creds.Username, creds.Password)
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}
