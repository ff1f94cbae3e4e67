package relay

import (
	"bytes"
	"errors"
	"testing"

	"go-socks5-gateway/internal/buffer"
)

// scriptedRead returns a sysRead that serves from data, then reports EOF.
func scriptedRead(data []byte) func(fd int, p []byte) (int, error, bool) {
	remaining := data
	return func(fd int, p []byte) (int, error, bool) {
		if len(remaining) == 0 {
			return 0, nil, false // EOF
		}
		n := copy(p, remaining)
		remaining = remaining[n:]
		return n, nil, false
	}
}

func TestDoReadCopiesIntoDestBufferAndFeedsSink(t *testing.T) {
	buf := buffer.New(64)
	c := New(ClientToOrigin, 3, 4, buf)

	var sink bytes.Buffer
	c.Sink = &sink

	res := c.DoRead(scriptedRead([]byte("hello origin")))
	if res != ReadProgress {
		t.Fatalf("DoRead = %v, want ReadProgress", res)
	}
	if got := string(buf.ReadPtr()); got != "hello origin" {
		t.Fatalf("dest buffer = %q", got)
	}
	if sink.String() != "hello origin" {
		t.Fatalf("sink saw %q, want the same bytes the buffer received", sink.String())
	}
}

func TestDoReadEOFReportedOnceDataRuns(t *testing.T) {
	buf := buffer.New(64)
	c := New(OriginToClient, 3, 4, buf)
	read := scriptedRead([]byte("x"))

	if res := c.DoRead(read); res != ReadProgress {
		t.Fatalf("first DoRead = %v, want ReadProgress", res)
	}
	buf.ReadAdv(1)
	if res := c.DoRead(read); res != ReadEOF {
		t.Fatalf("second DoRead = %v, want ReadEOF", res)
	}
}

func TestDoReadWouldBlockIsNotAnError(t *testing.T) {
	buf := buffer.New(64)
	c := New(ClientToOrigin, 3, 4, buf)

	res := c.DoRead(func(fd int, p []byte) (int, error, bool) {
		return 0, nil, true
	})
	if res != ReadWouldBlock {
		t.Fatalf("DoRead = %v, want ReadWouldBlock", res)
	}
}

func TestDoReadFullDestinationBufferBackpressures(t *testing.T) {
	buf := buffer.New(2)
	c := New(ClientToOrigin, 3, 4, buf)
	buf.WriteAdv(copy(buf.WritePtr(), []byte("ab")))

	called := false
	res := c.DoRead(func(fd int, p []byte) (int, error, bool) {
		called = true
		return 0, nil, false
	})
	if res != ReadWouldBlock {
		t.Fatalf("DoRead = %v, want ReadWouldBlock on a full buffer", res)
	}
	if called {
		t.Fatal("sysRead must not be invoked when the destination has no room")
	}
}

func TestDoReadHardError(t *testing.T) {
	buf := buffer.New(64)
	c := New(ClientToOrigin, 3, 4, buf)

	res := c.DoRead(func(fd int, p []byte) (int, error, bool) {
		return 0, errors.New("connection reset"), false
	})
	if res != ReadHardError {
		t.Fatalf("DoRead = %v, want ReadHardError", res)
	}
}

func TestDoWriteMetersOnlyDeliveredBytes(t *testing.T) {
	buf := buffer.New(64)
	c := New(ClientToOrigin, 3, 4, buf)
	buf.WriteAdv(copy(buf.WritePtr(), []byte("abcdef")))

	// A destination that accepts at most 4 bytes per call.
	slowWrite := func(fd int, p []byte) (int, error, bool) {
		n := len(p)
		if n > 4 {
			n = 4
		}
		return n, nil, false
	}

	if res := c.DoWrite(slowWrite); res != WriteProgress {
		t.Fatalf("first DoWrite = %v, want WriteProgress", res)
	}
	if c.BytesMetered != 4 {
		t.Fatalf("BytesMetered = %d after partial write, want 4", c.BytesMetered)
	}
	if res := c.DoWrite(slowWrite); res != WriteDrained {
		t.Fatalf("second DoWrite = %v, want WriteDrained", res)
	}
	if c.BytesMetered != 6 {
		t.Fatalf("BytesMetered = %d after drain, want 6", c.BytesMetered)
	}
}

func TestDoWriteEmptyBufferIsDrained(t *testing.T) {
	c := New(OriginToClient, 3, 4, buffer.New(8))
	res := c.DoWrite(func(fd int, p []byte) (int, error, bool) {
		t.Fatal("sysWrite must not be invoked with nothing buffered")
		return 0, nil, false
	})
	if res != WriteDrained {
		t.Fatalf("DoWrite = %v, want WriteDrained", res)
	}
}

func TestDoWriteHardError(t *testing.T) {
	buf := buffer.New(8)
	c := New(OriginToClient, 3, 4, buf)
	buf.WriteAdv(copy(buf.WritePtr(), []byte("x")))

	res := c.DoWrite(func(fd int, p []byte) (int, error, bool) {
		return 0, errors.New("broken pipe"), false
	})
	if res != WriteHardError {
		t.Fatalf("DoWrite = %v, want WriteHardError", res)
	}
}

func TestIdleRequiresEOFAndFullDrain(t *testing.T) {
	buf := buffer.New(8)
	c := New(ClientToOrigin, 3, 4, buf)

	if c.Idle() {
		t.Fatal("a fresh channel must not be idle")
	}
	c.ReadEnabled = false
	buf.WriteAdv(copy(buf.WritePtr(), []byte("tail")))
	if c.Idle() {
		t.Fatal("channel with undrained bytes must not be idle")
	}
	buf.ReadAdv(4)
	if !c.Idle() {
		t.Fatal("read-disabled channel with an empty buffer must be idle")
	}
}
