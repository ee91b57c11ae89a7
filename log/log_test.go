package log

import (
	"testing"

	"github.com/letsencrypt-style/xipki-core/test"
)

func TestMockCapturesLines(t *testing.T) {
	m := NewMock()
	m.Info("hello")
	m.AuditErr("revoked serial 0102")
	lines := m.GetAll()
	test.AssertEquals(t, len(lines), 2)
	test.AssertContains(t, lines[0], "hello")
	test.AssertContains(t, lines[1], "[AUDIT]")
	test.AssertContains(t, lines[1], "revoked serial 0102")
}

func TestMockClear(t *testing.T) {
	m := NewMock()
	m.Warning("disk almost full")
	test.AssertEquals(t, len(m.GetAll()), 1)
	m.Clear()
	test.AssertEquals(t, len(m.GetAll()), 0)
}

func TestGetWithoutSetFallsBack(t *testing.T) {
	l := Get()
	test.AssertNotNil(t, l, "Get should never return nil")
}
