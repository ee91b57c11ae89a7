package log

import (
	"fmt"
	"sync"
)

// Mock is an in-memory Logger for tests: every line is captured instead of
// written anywhere, so a test can assert on what was logged.
type Mock struct {
	mu    sync.Mutex
	lines []string
}

// NewMock returns a ready-to-use Mock logger.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) add(prefix, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, prefix+msg)
}

// GetAll returns every captured line, in order.
func (m *Mock) GetAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

// Clear discards captured lines.
func (m *Mock) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
}

func (m *Mock) Err(msg string)                      { m.add("[ERR] ", msg) }
func (m *Mock) Errf(format string, a ...interface{}) { m.Err(fmt.Sprintf(format, a...)) }
func (m *Mock) Warning(msg string)                   { m.add("[WARNING] ", msg) }
func (m *Mock) Warningf(format string, a ...interface{}) {
	m.Warning(fmt.Sprintf(format, a...))
}
func (m *Mock) Info(msg string)                   { m.add("[INFO] ", msg) }
func (m *Mock) Infof(format string, a ...interface{}) { m.Info(fmt.Sprintf(format, a...)) }
func (m *Mock) Debug(msg string)                  { m.add("[DEBUG] ", msg) }
func (m *Mock) Debugf(format string, a ...interface{}) {
	m.Debug(fmt.Sprintf(format, a...))
}
func (m *Mock) AuditErr(msg string)  { m.add("[AUDIT] ", msg) }
func (m *Mock) AuditInfo(msg string) { m.add("[AUDIT] ", msg) }
func (m *Mock) AuditObject(term string, obj interface{}) {
	m.AuditInfo(fmt.Sprintf("%s: %+v", term, obj))
}
