package metrics

import (
	"strings"
	"testing"
)

func TestConnectionCountersTrackMaxConcurrent(t *testing.T) {
	m := New(nil)

	m.IncConnection()
	m.IncConnection()
	m.IncConnection()
	m.DecConnection()
	m.IncConnection()

	if m.TotalConnections != 4 {
		t.Fatalf("TotalConnections = %d, want 4", m.TotalConnections)
	}
	if m.CurrentConnections != 3 {
		t.Fatalf("CurrentConnections = %d, want 3", m.CurrentConnections)
	}
	if m.MaxConcurrentConnections != 3 {
		t.Fatalf("MaxConcurrentConnections = %d, want 3", m.MaxConcurrentConnections)
	}
}

func TestDecConnectionNeverGoesNegative(t *testing.T) {
	m := New(nil)
	m.DecConnection()
	if m.CurrentConnections != 0 {
		t.Fatalf("CurrentConnections = %d, want clamped 0", m.CurrentConnections)
	}
}

func TestRecordAuthAndDNS(t *testing.T) {
	m := New(nil)
	m.RecordAuth(true)
	m.RecordAuth(false)
	m.RecordAuth(false)
	m.RecordDNS(true)
	m.RecordDNS(false)

	if m.AuthOK != 1 || m.AuthFail != 2 {
		t.Fatalf("auth counters = %d/%d, want 1/2", m.AuthOK, m.AuthFail)
	}
	if m.DNSOK != 1 || m.DNSFail != 1 {
		t.Fatalf("dns counters = %d/%d, want 1/1", m.DNSOK, m.DNSFail)
	}
}

func TestSnapshotFreshMetricsShowsNoReplyCodes(t *testing.T) {
	m := New(nil)
	snap := m.Snapshot()

	if !strings.Contains(snap, "total_connections: 0") {
		t.Fatalf("snapshot missing zero total_connections:\n%s", snap)
	}
	if !strings.Contains(snap, "(none)") {
		t.Fatalf("snapshot should list no reply codes yet:\n%s", snap)
	}
}

func TestSnapshotListsOnlyNonZeroReplyCodes(t *testing.T) {
	m := New(nil)
	m.RecordReply(0x00)
	m.RecordReply(0x05)
	m.RecordReply(0x05)

	snap := m.Snapshot()
	if !strings.Contains(snap, "0x00: 1") || !strings.Contains(snap, "0x05: 2") {
		t.Fatalf("snapshot missing recorded reply codes:\n%s", snap)
	}
	if strings.Contains(snap, "0x01:") {
		t.Fatalf("snapshot lists a code that was never recorded:\n%s", snap)
	}
	if strings.Contains(snap, "(none)") {
		t.Fatalf("snapshot shows (none) despite recorded codes:\n%s", snap)
	}
}

func TestResetZeroesEveryCounter(t *testing.T) {
	m := New(nil)
	m.IncConnection()
	m.AddBytesC2O(100)
	m.AddBytesO2C(200)
	m.RecordAuth(true)
	m.RecordDNS(false)
	m.RecordReply(0x04)

	m.Reset()

	if m.TotalConnections != 0 || m.CurrentConnections != 0 || m.MaxConcurrentConnections != 0 {
		t.Fatal("connection counters survived Reset")
	}
	if m.BytesClientToOrigin != 0 || m.BytesOriginToClient != 0 {
		t.Fatal("byte counters survived Reset")
	}
	if m.AuthOK != 0 || m.AuthFail != 0 || m.DNSOK != 0 || m.DNSFail != 0 {
		t.Fatal("auth/dns counters survived Reset")
	}
	for code, count := range m.ReplyCodeCount {
		if count != 0 {
			t.Fatalf("ReplyCodeCount[0x%02x] = %d after Reset", code, count)
		}
	}
}
