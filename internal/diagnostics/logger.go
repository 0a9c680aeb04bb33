// Package diagnostics prints the SEND/RECV packet trace and state-
// transition banners spec.md §6 requires, and the leveled error/status
// logging the mode driver needs, on top of logrus instead of hand-rolled
// formatting.
package diagnostics

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"robotudp/internal/protocol"
)

// Logger wraps a logrus.Entry with the run-correlation id attached, plus
// the packet-trace and banner helpers the protocol packages call.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing to out, tagged with a fresh per-run
// correlation id (a diagnostic id only — never to be confused with the
// protocol's server-assigned conn_id).
func New(out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: base.WithField("run_id", xid.New().String())}
}

// NewDefault builds a Logger writing to stdout, for status/trace output,
// as distinct from the error stream spec.md §6 calls out separately.
func NewDefault() *Logger { return New(os.Stdout) }

// WithField returns a child logger carrying an additional structured
// field, mirroring the teacher's logger.WithField surface.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Banner prints a state-transition banner like "DOWNLOADING STARTED".
func (l *Logger) Banner(text string) { l.entry.Info(text) }

// Packet prints a SEND/RECV trace line for p, per spec.md §6.
func (l *Logger) Packet(direction string, p protocol.Packet) {
	l.entry.Infof("%s connId=%d seq=%d ack=%d flag=%s data=%s",
		direction, p.ConnID, p.Seq, p.Ack, p.Flag, hex.EncodeToString(p.Data))
}

// ErrLogger is a separate stream for fatal errors, per spec.md §6 ("Errors
// print to a separate error stream").
type ErrLogger struct {
	entry *logrus.Entry
}

// NewErr builds an ErrLogger writing to stderr.
func NewErr() *ErrLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &ErrLogger{entry: base.WithField("run_id", xid.New().String())}
}

// Fatal logs err and returns a formatted message for the caller to use as
// the process exit path's final print.
func (e *ErrLogger) Fatal(err error) string {
	e.entry.Error(err)
	return fmt.Sprintf("error: %v", err)
}
