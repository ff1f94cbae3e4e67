package accesslog

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"
)

func testWriter() (*Writer, *bytes.Buffer) {
	var buf bytes.Buffer
	w := &Writer{
		Logger: log.New(&buf, "", 0),
		Now: func() time.Time {
			return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		},
	}
	return w, &buf
}

func TestAccessLineFormat(t *testing.T) {
	w, buf := testWriter()
	w.Access("alice", "192.0.2.10:51234", "example.com:80", true)

	got := strings.TrimRight(buf.String(), "\n")
	want := `2026-08-01T12:00:00Z USER="alice" SRC="192.0.2.10:51234" DST="example.com:80" RESULT="OK"`
	if got != want {
		t.Fatalf("access line\n got: %s\nwant: %s", got, want)
	}
}

func TestAccessLineFailResult(t *testing.T) {
	w, buf := testWriter()
	w.Access("anonymous", "192.0.2.10:51234", "example.invalid:80", false)

	if !strings.Contains(buf.String(), `RESULT="FAIL"`) {
		t.Fatalf("line missing FAIL result: %s", buf.String())
	}
}

func TestCredentialsLineFormat(t *testing.T) {
	w, buf := testWriter()
	w.Credentials("pop3", "192.0.2.10:51234", "mail.example.com:110", "bob", "secret")

	got := strings.TrimRight(buf.String(), "\n")
	want := `2026-08-01T12:00:00Z PROTO=pop3 SRC="192.0.2.10:51234" DST="mail.example.com:110" USER="bob" PASS="secret"`
	if got != want {
		t.Fatalf("credentials line\n got: %s\nwant: %s", got, want)
	}
}
