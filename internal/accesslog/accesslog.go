// Package accesslog writes the two log line formats spec §6 hands to
// external log collaborators: one access-log line per session at the
// moment its REP is set, and at most one credentials-log line per
// session upon a sniffer capture. The actual on-disk formatting of log
// files is an external collaborator's concern (spec §1); this package
// only owns producing the line text through the ambient *log.Logger,
// the same way the teacher prefixes every line with a bracketed
// component tag.
package accesslog

import (
	"log"
	"time"
)

// Writer emits access and credentials log lines. The zero value uses
// log.Default(); tests can substitute a *log.Logger writing to a buffer.
type Writer struct {
	Logger *log.Logger
	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

func (w *Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

func (w *Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Access records one session's outcome: `<TIMESTAMP> USER="u" SRC="ip"
// DST="host:port" RESULT="OK"|"FAIL"`.
func (w *Writer) Access(user, src, dst string, ok bool) {
	result := "FAIL"
	if ok {
		result = "OK"
	}
	w.logger().Printf("%s USER=%q SRC=%q DST=%q RESULT=%q",
		w.now().Format(time.RFC3339), user, src, dst, result)
}

// Credentials records a sniffer capture: `<TIMESTAMP> PROTO=<proto>
// SRC=ip DST=host:port USER=u PASS=p`.
func (w *Writer) Credentials(proto, src, dst, user, pass string) {
	w.logger().Printf("%s PROTO=%s SRC=%q DST=%q USER=%q PASS=%q",
		w.now().Format(time.RFC3339), proto, src, dst, user, pass)
}
