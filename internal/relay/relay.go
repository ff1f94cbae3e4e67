// Package relay implements the bidirectional byte relay: two Channel
// values share a session's buffers and fds, each copying one direction
// (client→origin or origin→client) with half-close discipline and byte
// metering, per spec §4.F "Bidirectional relay". Channels do not own the
// fds or buffers they reference — the session does — mirroring the data
// model's "Channels do not own fds or buffers; they reference those held
// by the session."
package relay

import (
	"go-socks5-gateway/internal/buffer"
)

// Direction tags which way a Channel copies bytes.
type Direction int

const (
	ClientToOrigin Direction = iota
	OriginToClient
)

// Sink receives every byte written into this channel's destination
// buffer, in addition to the normal relay — used to splice sniffed
// bytes to credential sniffers without the relay needing to know about
// them. A nil Sink is fine; it's simply skipped.
type Sink interface {
	Write(p []byte) (int, error)
}

// Channel is a non-owning relay-phase descriptor: a source fd reference,
// a destination fd reference, and the destination's staging buffer.
type Channel struct {
	Direction Direction

	SourceFd      int
	DestFd        int
	DestBuf       *buffer.Buffer
	ReadEnabled   bool
	WriteEnabled  bool

	Sink Sink

	// BytesMetered accumulates bytes actually delivered to the
	// destination's write side (not merely read from the source), per
	// the spec's testable property that byte totals count delivered
	// bytes.
	BytesMetered uint64
}

// New creates a Channel bound to a source/destination fd pair and
// staging buffer, both enabled.
func New(dir Direction, sourceFd, destFd int, destBuf *buffer.Buffer) *Channel {
	return &Channel{
		Direction:    dir,
		SourceFd:     sourceFd,
		DestFd:       destFd,
		DestBuf:      destBuf,
		ReadEnabled:  true,
		WriteEnabled: true,
	}
}

// ReadResult reports what happened on a source-readable event.
type ReadResult int

const (
	ReadWouldBlock ReadResult = iota
	ReadProgress
	ReadEOF
	ReadHardError
)

// DoRead performs one non-blocking read from SourceFd into the
// destination buffer's writable span, feeding any bytes read to Sink.
// It never blocks and never reads more than the destination buffer can
// currently hold in one contiguous span.
func (c *Channel) DoRead(sysRead func(fd int, p []byte) (int, error, bool)) ReadResult {
	span := c.DestBuf.WritePtr()
	if len(span) == 0 {
		// Destination full; wait for it to drain before reading more.
		return ReadWouldBlock
	}

	n, err, wouldBlock := sysRead(c.SourceFd, span)
	if n > 0 {
		c.DestBuf.WriteAdv(n)
		if c.Sink != nil {
			c.Sink.Write(span[:n])
		}
	}
	if wouldBlock {
		return ReadWouldBlock
	}
	if err != nil {
		return ReadHardError
	}
	if n == 0 {
		return ReadEOF
	}
	return ReadProgress
}

// WriteResult reports what happened on a destination-writable event.
type WriteResult int

const (
	WriteWouldBlock WriteResult = iota
	WriteProgress
	WriteDrained
	WriteHardError
)

// DoWrite performs one non-blocking write from the destination buffer's
// readable span out to DestFd, metering delivered bytes.
func (c *Channel) DoWrite(sysWrite func(fd int, p []byte) (int, error, bool)) WriteResult {
	span := c.DestBuf.ReadPtr()
	if len(span) == 0 {
		return WriteDrained
	}

	n, err, wouldBlock := sysWrite(c.DestFd, span)
	if n > 0 {
		c.DestBuf.ReadAdv(n)
		c.BytesMetered += uint64(n)
	}
	if wouldBlock {
		return WriteWouldBlock
	}
	if err != nil {
		return WriteHardError
	}
	if !c.DestBuf.CanRead() {
		return WriteDrained
	}
	return WriteProgress
}

// Idle reports whether this channel has nothing left to do: reading is
// disabled (source half-closed or hard-errored) and the staging buffer
// has been fully drained. Two idle channels sharing a session mean the
// session's relay phase is over (spec §4.F "Termination of relay").
func (c *Channel) Idle() bool {
	return !c.ReadEnabled && !c.DestBuf.CanRead()
}
