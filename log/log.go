// Package log provides the audit logger used across the CA issuance core
// and the OCSP responder engine. It writes to syslog and, optionally,
// stdout, tagging every line with a severity level, and marks the subset
// of lines that record issuance, revocation, and CA lifecycle events as
// audit events so they can be filtered out of the general stream without
// ever being dropped.
package log

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"
	"time"
)

// Level mirrors the syslog severities we actually use.
type Level int

const (
	Emerg Level = iota
	Alert
	Crit
	Err
	Warning
	Notice
	Info
	Debug
)

// Logger is the interface the rest of the module depends on. Everything
// that needs to log takes a Logger, never a concrete type, so tests can
// substitute a Mock.
type Logger interface {
	Err(msg string)
	Errf(format string, a ...interface{})
	Warning(msg string)
	Warningf(format string, a ...interface{})
	Info(msg string)
	Infof(format string, a ...interface{})
	Debug(msg string)
	Debugf(format string, a ...interface{})
	// AuditErr logs a line at Err level and marks it as an audit event:
	// these are the lines an operator must never lose (issuance,
	// revocation, CA state transitions).
	AuditErr(msg string)
	AuditInfo(msg string)
	// AuditObject formats obj with %+v and logs it, prefixed by term, as
	// an audit event.
	AuditObject(term string, obj interface{})
}

var (
	_default   Logger
	_defaultMu sync.Mutex
)

// impl is the concrete Logger backing StatsAndLogging-constructed loggers.
type impl struct {
	w            *syslog.Writer
	stdoutLevel  int
	syslogLevel  int
	clk          clock
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// New constructs a Logger writing to the supplied syslog.Writer, at the
// requested stdout/syslog verbosity thresholds (RFC 5424 numeric levels,
// 0=Emerg .. 7=Debug).
func New(w *syslog.Writer, stdoutLevel, syslogLevel int) (Logger, error) {
	if w == nil {
		return nil, fmt.Errorf("log: nil syslog writer")
	}
	return &impl{w: w, stdoutLevel: stdoutLevel, syslogLevel: syslogLevel, clk: realClock{}}, nil
}

// Set installs logger as the process-wide default, returned by Get.
func Set(logger Logger) error {
	_defaultMu.Lock()
	defer _defaultMu.Unlock()
	if _default != nil {
		return fmt.Errorf("log: default logger already set")
	}
	_default = logger
	return nil
}

// Get returns the process-wide default logger, or a stderr-only fallback
// if Set was never called (true in unit tests).
func Get() Logger {
	_defaultMu.Lock()
	defer _defaultMu.Unlock()
	if _default == nil {
		return stderrLogger{}
	}
	return _default
}

func (i *impl) logAtLevel(sev Level, prefix, msg string) {
	line := fmt.Sprintf("%s%s", prefix, msg)
	if int(sev) <= i.stdoutLevel {
		fmt.Fprintln(os.Stdout, line)
	}
	if int(sev) <= i.syslogLevel {
		switch sev {
		case Emerg:
			_ = i.w.Emerg(line)
		case Alert:
			_ = i.w.Alert(line)
		case Crit:
			_ = i.w.Crit(line)
		case Err:
			_ = i.w.Err(line)
		case Warning:
			_ = i.w.Warning(line)
		case Notice:
			_ = i.w.Notice(line)
		case Info:
			_ = i.w.Info(line)
		case Debug:
			_ = i.w.Debug(line)
		}
	}
}

func (i *impl) Err(msg string)                          { i.logAtLevel(Err, "[ERR] ", msg) }
func (i *impl) Errf(format string, a ...interface{})     { i.Err(fmt.Sprintf(format, a...)) }
func (i *impl) Warning(msg string)                       { i.logAtLevel(Warning, "[WARNING] ", msg) }
func (i *impl) Warningf(format string, a ...interface{}) { i.Warning(fmt.Sprintf(format, a...)) }
func (i *impl) Info(msg string)                          { i.logAtLevel(Info, "[INFO] ", msg) }
func (i *impl) Infof(format string, a ...interface{})    { i.Info(fmt.Sprintf(format, a...)) }
func (i *impl) Debug(msg string)                         { i.logAtLevel(Debug, "[DEBUG] ", msg) }
func (i *impl) Debugf(format string, a ...interface{})   { i.Debug(fmt.Sprintf(format, a...)) }

// AuditErr tags the line so log-shipping can filter audit events out of
// the general stream without missing any of them.
func (i *impl) AuditErr(msg string) {
	i.logAtLevel(Err, "[AUDIT] ", msg)
}

func (i *impl) AuditInfo(msg string) {
	i.logAtLevel(Info, "[AUDIT] ", msg)
}

func (i *impl) AuditObject(term string, obj interface{}) {
	i.AuditInfo(fmt.Sprintf("%s: %+v", term, obj))
}

// stderrLogger is the Get() fallback before Set has been called.
type stderrLogger struct{}

func (stderrLogger) Err(msg string)                          { fmt.Fprintln(os.Stderr, "[ERR]", msg) }
func (stderrLogger) Errf(format string, a ...interface{})     { fmt.Fprintf(os.Stderr, "[ERR] "+format+"\n", a...) }
func (stderrLogger) Warning(msg string)                       { fmt.Fprintln(os.Stderr, "[WARNING]", msg) }
func (stderrLogger) Warningf(format string, a ...interface{}) { fmt.Fprintf(os.Stderr, "[WARNING] "+format+"\n", a...) }
func (stderrLogger) Info(msg string)                          { fmt.Fprintln(os.Stderr, "[INFO]", msg) }
func (stderrLogger) Infof(format string, a ...interface{})    { fmt.Fprintf(os.Stderr, "[INFO] "+format+"\n", a...) }
func (stderrLogger) Debug(msg string)                          { fmt.Fprintln(os.Stderr, "[DEBUG]", msg) }
func (stderrLogger) Debugf(format string, a ...interface{})    { fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", a...) }
func (stderrLogger) AuditErr(msg string)                       { fmt.Fprintln(os.Stderr, "[AUDIT]", msg) }
func (stderrLogger) AuditInfo(msg string)                      { fmt.Fprintln(os.Stderr, "[AUDIT]", msg) }
func (stderrLogger) AuditObject(term string, obj interface{}) {
	fmt.Fprintf(os.Stderr, "[AUDIT] %s: %+v\n", term, obj)
}
