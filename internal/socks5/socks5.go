// Package socks5 implements the wire-level byte-incremental parsers and
// reply marshaller for RFC 1928 (method negotiation, CONNECT
// request/reply) and RFC 1929 (username/password subnegotiation). Each
// parser consumes from a *buffer.Buffer incrementally — it may be called
// again and again as more bytes trickle in — and never allocates beyond
// what it needs to hold the in-flight message.
package socks5

import (
	"encoding/binary"
	"fmt"
	"net"

	"go-socks5-gateway/internal/buffer"
)

// Protocol constants, bit-exact per RFC 1928 / RFC 1929.
const (
	Version = 0x05

	MethodNoAuth     = 0x00
	MethodUserPass   = 0x02
	MethodNoAccept   = 0xFF

	CmdConnect = 0x01

	ATYPIPv4   = 0x01
	ATYPDomain = 0x03
	ATYPIPv6   = 0x04

	RepSuccess             = 0x00
	RepGeneralFailure      = 0x01
	RepNetworkUnreachable  = 0x03
	RepHostUnreachable     = 0x04
	RepConnectionRefused   = 0x05
	RepCommandNotSupported = 0x07
	RepAddrTypeNotSupported = 0x08

	AuthVersion   = 0x01
	AuthStatusOK  = 0x00
	AuthStatusErr = 0x01
)

// Status is the outcome of feeding a parser more bytes.
type Status int

const (
	StatusPending Status = iota
	StatusDone
	StatusError
)

// ---- Greeting parser (VER | NMETHODS | METHODS...) ----

type greetingState int

const (
	greetVersion greetingState = iota
	greetNMethods
	greetMethods
	greetDone
	greetError
)

// Greeting incrementally parses the SOCKS5 method-negotiation message.
// OnMethod, if set, is invoked once per offered method byte as they are
// consumed, letting the caller build up a selection policy without the
// parser needing to know about user tables or method preference.
type Greeting struct {
	state     greetingState
	nmethods  int
	seen      int
	OnMethod  func(method byte)
}

// NewGreeting returns a fresh Greeting parser.
func NewGreeting() *Greeting {
	return &Greeting{state: greetVersion}
}

// Consume feeds buffered bytes to the parser, advancing its read cursor
// as it goes. It returns Pending until NMETHODS bytes of METHODS have
// been consumed (Done), or Error on a malformed message. Per the spec,
// any trailing bytes left in the buffer the instant the message
// completes is itself an error — greeting messages are exactly
// 2+NMETHODS bytes, never more.
func (g *Greeting) Consume(b *buffer.Buffer) Status {
	for b.CanRead() {
		span := b.ReadPtr()
		c := span[0]

		switch g.state {
		case greetVersion:
			b.ReadAdv(1)
			if c != Version {
				g.state = greetError
				return StatusError
			}
			g.state = greetNMethods

		case greetNMethods:
			b.ReadAdv(1)
			g.nmethods = int(c)
			if g.nmethods == 0 {
				g.state = greetError
				return StatusError
			}
			g.state = greetMethods

		case greetMethods:
			b.ReadAdv(1)
			if g.OnMethod != nil {
				g.OnMethod(c)
			}
			g.seen++
			if g.seen == g.nmethods {
				g.state = greetDone
				if b.CanRead() {
					// trailing garbage in the same message: reject
					g.state = greetError
					return StatusError
				}
				return StatusDone
			}

		case greetDone, greetError:
			return StatusError
		}
	}

	if g.state == greetDone {
		return StatusDone
	}
	return StatusPending
}

// SelectMethod applies the negotiation policy from spec §4.D: prefer
// USER/PASS if the user table is non-empty and offered, else NO-AUTH if
// offered, else NO-ACCEPTABLE. offered is populated by the OnMethod
// callback during Consume.
func SelectMethod(offered []byte, haveUsers bool) byte {
	hasUserPass, hasNoAuth := false, false
	for _, m := range offered {
		switch m {
		case MethodUserPass:
			hasUserPass = true
		case MethodNoAuth:
			hasNoAuth = true
		}
	}
	if haveUsers && hasUserPass {
		return MethodUserPass
	}
	if hasNoAuth {
		return MethodNoAuth
	}
	return MethodNoAccept
}

// ---- Username/password subnegotiation parser (RFC 1929) ----

type authState int

const (
	authVersion authState = iota
	authULen
	authUName
	authPLen
	authPasswd
	authDone
	authError
)

// Auth incrementally parses the RFC 1929 subnegotiation message.
type Auth struct {
	state  authState
	ulen   int
	plen   int
	uname  []byte
	passwd []byte
}

// NewAuth returns a fresh Auth parser.
func NewAuth() *Auth {
	return &Auth{}
}

// Consume feeds bytes to the parser. Username/password length limits
// (255 bytes each) make VER/ULEN/PLEN validation errors impossible to
// confuse with truncation; an invalid VER ends the parser in an error
// state the caller maps to AuthStatusErr rather than closing the
// connection outright, matching spec §4.D ("VER != 0x01 -> final reply
// with STATUS=0x01").
func (a *Auth) Consume(b *buffer.Buffer) Status {
	for b.CanRead() {
		span := b.ReadPtr()
		c := span[0]

		switch a.state {
		case authVersion:
			b.ReadAdv(1)
			if c != AuthVersion {
				a.state = authError
				return StatusError
			}
			a.state = authULen

		case authULen:
			b.ReadAdv(1)
			a.ulen = int(c)
			a.uname = make([]byte, 0, a.ulen)
			if a.ulen == 0 {
				a.state = authError
				return StatusError
			}
			a.state = authUName

		case authUName:
			n := a.ulen - len(a.uname)
			if n > len(span) {
				n = len(span)
			}
			a.uname = append(a.uname, span[:n]...)
			b.ReadAdv(n)
			if len(a.uname) == a.ulen {
				a.state = authPLen
			}

		case authPLen:
			b.ReadAdv(1)
			a.plen = int(c)
			a.passwd = make([]byte, 0, a.plen)
			a.state = authPasswd
			if a.plen == 0 {
				a.state = authDone
				if b.CanRead() {
					a.state = authError
					return StatusError
				}
				return StatusDone
			}

		case authPasswd:
			n := a.plen - len(a.passwd)
			if n > len(span) {
				n = len(span)
			}
			a.passwd = append(a.passwd, span[:n]...)
			b.ReadAdv(n)
			if len(a.passwd) == a.plen {
				a.state = authDone
				if b.CanRead() {
					a.state = authError
					return StatusError
				}
				return StatusDone
			}

		case authDone, authError:
			return StatusError
		}
	}

	if a.state == authDone {
		return StatusDone
	}
	return StatusPending
}

// Username returns the parsed username, valid once Consume returns Done.
func (a *Auth) Username() string { return string(a.uname) }

// Password returns the parsed password, valid once Consume returns Done.
func (a *Auth) Password() string { return string(a.passwd) }

// ---- Request parser (VER | CMD | RSV | ATYP | DSTADDR | DSTPORT) ----

type reqState int

const (
	reqVersion reqState = iota
	reqCmd
	reqRsv
	reqAtyp
	reqAddrLen  // domain only
	reqAddr
	reqPort
	reqDone
	reqError
)

// Request incrementally parses a SOCKS5 CONNECT request. Rep is set to
// a non-zero reply code the instant CMD or ATYP is found unsupported so
// the caller can synthesize the matching reply without re-deriving it;
// a bad VER or RSV leaves Rep at 0.
type Request struct {
	state reqState

	Cmd  byte
	Atyp byte

	addrLen int // expected length for the in-flight DSTADDR
	addr    []byte
	port    [2]byte
	portLen int

	Rep byte // 0 until an error reply code is known
}

// NewRequest returns a fresh Request parser.
func NewRequest() *Request {
	return &Request{}
}

// Consume feeds bytes to the parser. RSV != 0x00 is a hard parse error
// (connection terminates); CMD != CONNECT instead sets Rep and continues
// parsing so the remaining request bytes (notably DSTPORT) are still
// drained correctly before the reply is sent — the caller still needs to
// know how many bytes this request consumed even when it can't be
// honored. An unsupported ATYP sets Rep and then returns StatusError at
// once, since DSTADDR's length is unknown.
func (r *Request) Consume(b *buffer.Buffer) Status {
	for b.CanRead() {
		span := b.ReadPtr()
		c := span[0]

		switch r.state {
		case reqVersion:
			b.ReadAdv(1)
			if c != Version {
				r.state = reqError
				return StatusError
			}
			r.state = reqCmd

		case reqCmd:
			b.ReadAdv(1)
			r.Cmd = c
			if c != CmdConnect {
				r.Rep = RepCommandNotSupported
			}
			r.state = reqRsv

		case reqRsv:
			b.ReadAdv(1)
			if c != 0x00 {
				r.state = reqError
				return StatusError
			}
			r.state = reqAtyp

		case reqAtyp:
			b.ReadAdv(1)
			r.Atyp = c
			switch c {
			case ATYPIPv4:
				r.addrLen = 4
				r.addr = make([]byte, 0, 4)
				r.state = reqAddr
			case ATYPIPv6:
				r.addrLen = 16
				r.addr = make([]byte, 0, 16)
				r.state = reqAddr
			case ATYPDomain:
				r.state = reqAddrLen
			default:
				if r.Rep == 0 {
					r.Rep = RepAddrTypeNotSupported
				}
				// Unknown ATYP: we can't know DSTADDR's length, so we
				// cannot keep parsing this request. Treat as a hard
				// error; the caller replies with Rep and tears down.
				r.state = reqError
				return StatusError
			}

		case reqAddrLen:
			b.ReadAdv(1)
			r.addrLen = int(c)
			r.addr = make([]byte, 0, r.addrLen)
			if r.addrLen == 0 {
				r.state = reqPort
			} else {
				r.state = reqAddr
			}

		case reqAddr:
			n := r.addrLen - len(r.addr)
			if n > len(span) {
				n = len(span)
			}
			r.addr = append(r.addr, span[:n]...)
			b.ReadAdv(n)
			if len(r.addr) == r.addrLen {
				r.state = reqPort
			}

		case reqPort:
			n := 2 - r.portLen
			if n > len(span) {
				n = len(span)
			}
			copy(r.port[r.portLen:], span[:n])
			r.portLen += n
			b.ReadAdv(n)
			if r.portLen == 2 {
				r.state = reqDone
				if b.CanRead() {
					r.state = reqError
					return StatusError
				}
				return StatusDone
			}

		case reqDone, reqError:
			return StatusError
		}
	}

	if r.state == reqDone {
		return StatusDone
	}
	return StatusPending
}

// Addr returns the raw DSTADDR bytes (4, 16, or a domain name's ASCII
// bytes depending on Atyp).
func (r *Request) Addr() []byte { return r.addr }

// Domain returns the DSTADDR bytes as a string; only meaningful when
// Atyp == ATYPDomain.
func (r *Request) Domain() string { return string(r.addr) }

// IP returns the DSTADDR bytes as a net.IP; only meaningful when
// Atyp is ATYPIPv4 or ATYPIPv6.
func (r *Request) IP() net.IP { return net.IP(r.addr) }

// Port returns DSTPORT as a host-order uint16.
func (r *Request) Port() uint16 { return binary.BigEndian.Uint16(r.port[:]) }

// MarshalReply writes a SOCKS5 reply (VER | REP | RSV | ATYP | BND.ADDR
// | BND.PORT) for rep/atyp/addr/port into a fresh byte slice. addr must
// match atyp's expected length (4 for IPv4, 16 for IPv6); any other
// BND.ATYP, a domain included, is rejected with an error, since the
// proxy itself never originates a domain BND address (BND is always the
// locally bound socket's own IP).
func MarshalReply(rep, atyp byte, addr []byte, port uint16) ([]byte, error) {
	switch atyp {
	case ATYPIPv4:
		if len(addr) != 4 {
			return nil, fmt.Errorf("socks5: IPv4 BND.ADDR must be 4 bytes, got %d", len(addr))
		}
	case ATYPIPv6:
		if len(addr) != 16 {
			return nil, fmt.Errorf("socks5: IPv6 BND.ADDR must be 16 bytes, got %d", len(addr))
		}
	default:
		return nil, fmt.Errorf("socks5: unsupported BND.ATYP 0x%02x", atyp)
	}

	out := make([]byte, 4+len(addr)+2)
	out[0] = Version
	out[1] = rep
	out[2] = 0x00
	out[3] = atyp
	copy(out[4:], addr)
	binary.BigEndian.PutUint16(out[4+len(addr):], port)
	return out, nil
}

// ZeroBoundReply builds a reply with an all-zero IPv4 BND.ADDR/PORT, used
// whenever the proxy fails before a local socket exists to report (DNS
// failure, refused request, unsupported command/address type).
func ZeroBoundReply(rep byte) []byte {
	out, _ := MarshalReply(rep, ATYPIPv4, []byte{0, 0, 0, 0}, 0)
	return out
}
