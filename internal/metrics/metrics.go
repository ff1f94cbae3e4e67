// Package metrics holds the process-wide counters described in spec §3
// and §8. Every field is touched only from the event-loop goroutine, so
// plain ints suffice — there is deliberately no lock, matching the
// spec's "no lock is required by construction" design. A secondary
// Prometheus mirror (grounded on postalsys-Muti-Metroo/internal/metrics,
// a sibling proxy in the retrieval pack that exposes the same kind of
// counters via promauto) is kept alongside for external scraping; it is
// purely additive and never read by the core.
package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// replyCodeSlots matches the spec's "256-slot histogram of SOCKS5 reply
// codes" — REP is a single byte, so 256 slots cover every possible value.
const replyCodeSlots = 256

// Metrics is the single-writer, single-threaded counter set.
type Metrics struct {
	TotalConnections        uint64
	CurrentConnections      int64
	MaxConcurrentConnections int64
	BytesClientToOrigin     uint64
	BytesOriginToClient     uint64
	AuthOK                  uint64
	AuthFail                uint64
	DNSOK                   uint64
	DNSFail                 uint64
	ReplyCodeCount          [replyCodeSlots]uint64

	prom *promMirror
}

type promMirror struct {
	totalConnections   prometheus.Counter
	currentConnections prometheus.Gauge
	maxConcurrent      prometheus.Gauge
	bytesC2O           prometheus.Counter
	bytesO2C           prometheus.Counter
	authOK             prometheus.Counter
	authFail           prometheus.Counter
	dnsOK              prometheus.Counter
	dnsFail            prometheus.Counter
	replyCodes         *prometheus.CounterVec
}

// New creates a zeroed Metrics set. If reg is non-nil, a Prometheus
// mirror is registered against it; pass nil to skip the mirror entirely
// (e.g. in unit tests that construct many Metrics values).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg != nil {
		factory := promauto.With(reg)
		m.prom = &promMirror{
			totalConnections: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "connections_total",
				Help: "Total SOCKS5 sessions accepted.",
			}),
			currentConnections: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "socks5_gateway", Name: "connections_current",
				Help: "Currently live SOCKS5 sessions.",
			}),
			maxConcurrent: factory.NewGauge(prometheus.GaugeOpts{
				Namespace: "socks5_gateway", Name: "connections_max_concurrent",
				Help: "Highest number of concurrent SOCKS5 sessions observed.",
			}),
			bytesC2O: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "bytes_client_to_origin_total",
				Help: "Bytes relayed from clients to origin servers.",
			}),
			bytesO2C: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "bytes_origin_to_client_total",
				Help: "Bytes relayed from origin servers to clients.",
			}),
			authOK: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "auth_ok_total",
				Help: "Successful username/password authentications.",
			}),
			authFail: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "auth_fail_total",
				Help: "Failed username/password authentications.",
			}),
			dnsOK: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "dns_ok_total",
				Help: "Successful asynchronous DNS resolutions.",
			}),
			dnsFail: factory.NewCounter(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "dns_fail_total",
				Help: "Failed asynchronous DNS resolutions.",
			}),
			replyCodes: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: "socks5_gateway", Name: "reply_code_total",
				Help: "SOCKS5 reply codes emitted, by code.",
			}, []string{"rep"}),
		}
	}
	return m
}

// IncConnection records a new session starting.
func (m *Metrics) IncConnection() {
	m.TotalConnections++
	m.CurrentConnections++
	if m.CurrentConnections > m.MaxConcurrentConnections {
		m.MaxConcurrentConnections = m.CurrentConnections
	}
	if m.prom != nil {
		m.prom.totalConnections.Inc()
		m.prom.currentConnections.Set(float64(m.CurrentConnections))
		m.prom.maxConcurrent.Set(float64(m.MaxConcurrentConnections))
	}
}

// DecConnection records a session ending.
func (m *Metrics) DecConnection() {
	m.CurrentConnections--
	if m.CurrentConnections < 0 {
		m.CurrentConnections = 0
	}
	if m.prom != nil {
		m.prom.currentConnections.Set(float64(m.CurrentConnections))
	}
}

// AddBytesC2O records n bytes delivered to the origin-side write side.
func (m *Metrics) AddBytesC2O(n uint64) {
	m.BytesClientToOrigin += n
	if m.prom != nil {
		m.prom.bytesC2O.Add(float64(n))
	}
}

// AddBytesO2C records n bytes delivered to the client-side write side.
func (m *Metrics) AddBytesO2C(n uint64) {
	m.BytesOriginToClient += n
	if m.prom != nil {
		m.prom.bytesO2C.Add(float64(n))
	}
}

// RecordAuth records the outcome of a username/password subnegotiation.
func (m *Metrics) RecordAuth(ok bool) {
	if ok {
		m.AuthOK++
		if m.prom != nil {
			m.prom.authOK.Inc()
		}
	} else {
		m.AuthFail++
		if m.prom != nil {
			m.prom.authFail.Inc()
		}
	}
}

// RecordDNS records the outcome of an asynchronous resolution.
func (m *Metrics) RecordDNS(ok bool) {
	if ok {
		m.DNSOK++
		if m.prom != nil {
			m.prom.dnsOK.Inc()
		}
	} else {
		m.DNSFail++
		if m.prom != nil {
			m.prom.dnsFail.Inc()
		}
	}
}

// RecordReply increments the histogram slot for a SOCKS5 reply code.
// Called exactly once per session, per spec's testable property
// "exactly one REP is ever emitted".
func (m *Metrics) RecordReply(rep byte) {
	m.ReplyCodeCount[rep]++
	if m.prom != nil {
		m.prom.replyCodes.WithLabelValues(fmt.Sprintf("0x%02x", rep)).Inc()
	}
}

// Reset zeroes every counter, implementing the monitor plane's RESET
// command. The Prometheus mirror is intentionally left untouched:
// Prometheus counters are defined to be monotonic, and a scraper that
// sees a counter go backwards treats it as a process restart — zeroing
// it here would misrepresent history to anyone scraping /metrics.
func (m *Metrics) Reset() {
	m.TotalConnections = 0
	m.CurrentConnections = 0
	m.MaxConcurrentConnections = 0
	m.BytesClientToOrigin = 0
	m.BytesOriginToClient = 0
	m.AuthOK = 0
	m.AuthFail = 0
	m.DNSOK = 0
	m.DNSFail = 0
	for i := range m.ReplyCodeCount {
		m.ReplyCodeCount[i] = 0
	}
}

// Snapshot renders the human-readable metrics dump the monitor plane
// returns to a connection that sends no command, matching the shape of
// the C reference's helpers/monitor.c dump (a banner, labeled counters,
// and a Reply Codes section listing only non-zero codes).
func (m *Metrics) Snapshot() string {
	var b strings.Builder
	b.WriteString("=== SOCKS5 Server Metrics ===\n\n")
	fmt.Fprintf(&b, "total_connections: %d\n", m.TotalConnections)
	fmt.Fprintf(&b, "current_connections: %d\n", m.CurrentConnections)
	fmt.Fprintf(&b, "max_concurrent_connections: %d\n", m.MaxConcurrentConnections)
	fmt.Fprintf(&b, "bytes_client_to_origin: %d\n", m.BytesClientToOrigin)
	fmt.Fprintf(&b, "bytes_origin_to_client: %d\n", m.BytesOriginToClient)
	fmt.Fprintf(&b, "auth_ok: %d\n", m.AuthOK)
	fmt.Fprintf(&b, "auth_fail: %d\n", m.AuthFail)
	fmt.Fprintf(&b, "dns_ok: %d\n", m.DNSOK)
	fmt.Fprintf(&b, "dns_fail: %d\n", m.DNSFail)
	b.WriteString("\nReply Codes:\n")
	any := false
	for code, count := range m.ReplyCodeCount {
		if count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  0x%02x: %d\n", code, count)
		any = true
	}
	if !any {
		b.WriteString("  (none)\n")
	}
	return b.String()
}
