// Package logging implements the level-filtered, hookable sink described in
// spec.md §4.3, built on github.com/sirupsen/logrus as the structured
// backing engine. Two free functions (TraceEnter/TraceExit) are kept
// allocation-free and safe to call from interrupt context, since they are
// the only printers spec.md permits an ISR to use.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Level mirrors spec.md §4.3's monotonically increasing severity set.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Crit
	NoLog
)

func (l Level) logrus() logrus.Level {
	switch l {
	case Trace:
		return logrus.TraceLevel
	case Debug:
		return logrus.DebugLevel
	case Info:
		return logrus.InfoLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel // Crit/NoLog: logrus has no closer match
	}
}

// RemoteSink is the narrow contract the remote-log-endpoint hook needs;
// satisfied by the adapter apiclient.NewRemoteLogSink returns around
// apiclient.Client.RegisterLog. Kept as an interface here
// (rather than importing apiclient, which would create an import cycle:
// apiclient needs a Logger to log its own requests).
type RemoteSink interface {
	RegisterLog(text string) error
}

// Logger is one level-filtered, tagged sink instance (spec.md §4.3: "each
// logger instance carries its own min-level and a static target tag").
type Logger struct {
	target string
	min    Level
	runID  string

	entry *logrus.Entry

	mu         sync.Mutex
	remote     RemoteSink
	remoteArm  atomic.Bool
	shouldFlush bool
}

var base = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}()

// New creates a Logger tagged target, filtering below min.
func New(target string, min Level) *Logger {
	return &Logger{
		target: target,
		min:    min,
		runID:  uuid.NewString(),
		entry:  base.WithField("target", target),
	}
}

// SetLevel adjusts the minimum level filtered by this logger instance.
func (l *Logger) SetLevel(min Level) { l.min = min }

// Level returns the logger's current minimum level.
func (l *Logger) Level() Level { return l.min }

// ArmRemote wires the remote log endpoint; once armed, Warn+ records are
// additionally mirrored through RegisterLog (spec.md §4.3: "multiplex to
// ... the remote log endpoint of the API, when armed").
func (l *Logger) ArmRemote(sink RemoteSink) {
	l.mu.Lock()
	l.remote = sink
	l.mu.Unlock()
	l.remoteArm.Store(true)
}

// DisarmRemote stops mirroring to the remote endpoint (e.g. link lost).
func (l *Logger) DisarmRemote() {
	l.remoteArm.Store(false)
}

// ShouldFlush coalesces successive writes; a no-op on top of logrus (which
// already writes synchronously), kept to preserve the spec.md call shape
// callers expect.
func (l *Logger) ShouldFlush(v bool) {
	l.mu.Lock()
	l.shouldFlush = v
	l.mu.Unlock()
}

// Log concatenates parts with no separator and terminates with a newline,
// matching spec.md §4.3's variadic log(level, parts...) contract.
func (l *Logger) Log(level Level, parts ...string) {
	if level < l.min || l.min == NoLog {
		return
	}
	msg := strings.Join(parts, "")
	l.entry.WithField("run_id", l.runID).Log(level.logrus(), msg)

	if level >= Warn && l.remoteArm.Load() {
		l.mu.Lock()
		sink := l.remote
		l.mu.Unlock()
		if sink != nil {
			_ = sink.RegisterLog(fmt.Sprintf("[%s] %s", l.target, msg))
		}
	}
}

func (l *Logger) Trace(parts ...string) { l.Log(Trace, parts...) }
func (l *Logger) Debug(parts ...string) { l.Log(Debug, parts...) }
func (l *Logger) Info(parts ...string)  { l.Log(Info, parts...) }
func (l *Logger) Warn(parts ...string)  { l.Log(Warn, parts...) }
func (l *Logger) Error(parts ...string) { l.Log(Error, parts...) }
func (l *Logger) Crit(parts ...string)  { l.Log(Crit, parts...) }

// CritTrace satisfies interrupt.Logger: it is allocation-free (no
// strings.Join, no logrus fields) and writes directly to the process's
// standard error, matching spec.md §4.11's "log a Crit warning; do not
// spin or allocate" requirement for ISR context.
func (l *Logger) CritTrace(parts ...string) {
	traceWrite(os.Stderr, "CRIT ", l.target, parts)
}

// traceEnabled tracks whether any logger is currently at Trace level,
// gating the scoped tracer (spec.md §4.3: "Enabled only while any logger
// is at Trace").
var traceEnabled atomic.Bool

// SetTraceEnabled switches region tracing on or off. Logger.SetLevel does
// not call it; the entrypoints set it once at startup from the configured
// level.
func SetTraceEnabled(v bool) { traceEnabled.Store(v) }

// TraceEnabled reports whether region tracing is currently active.
func TraceEnabled() bool { return traceEnabled.Load() }

// traceWrite is the allocation-free formatting helper shared by both
// interrupt-safe trace printers.
func traceWrite(w io.Writer, prefix, target string, parts []string) {
	_, _ = io.WriteString(w, prefix)
	_, _ = io.WriteString(w, target)
	_, _ = io.WriteString(w, ": ")
	for _, p := range parts {
		_, _ = io.WriteString(w, p)
	}
	_, _ = io.WriteString(w, "\n")
}

// TraceEnter is one of the two independent, interrupt-context-safe trace
// printers named in spec.md §4.3: it records entry into a named region and
// the current free-memory counters.
func TraceEnter(region string, freeHeap uint64) {
	if !TraceEnabled() {
		return
	}
	traceWrite(os.Stderr, "TRACE enter ", region, []string{" free_heap="})
	_, _ = io.WriteString(os.Stderr, uintToDecimal(freeHeap))
	_, _ = io.WriteString(os.Stderr, "\n")
}

// TraceExit is the companion printer recording region exit.
func TraceExit(region string) {
	if !TraceEnabled() {
		return
	}
	traceWrite(os.Stderr, "TRACE exit ", region, nil)
}

// uintToDecimal avoids strconv's allocation for the interrupt-safe path.
func uintToDecimal(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
