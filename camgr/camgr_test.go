package camgr

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/ca"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/test"
)

func testManager(t *testing.T) (*Manager, *castore.Store) {
	t.Helper()
	store := castore.New()
	keys, err := goodkey.NewKeyPolicy("")
	test.AssertNotError(t, err, "building key policy")
	loader := func(Config) (map[string]*ca.Instance, error) {
		return map[string]*ca.Instance{}, nil
	}
	clk := clock.NewFake()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New("instance-a", store, keys, loader, nil, log.NewMock(), clk), store
}

func TestStartAcquiresMasterWhenUnlocked(t *testing.T) {
	m, _ := testManager(t)
	err := m.Start(Config{})
	test.AssertNotError(t, err, "Start")
	test.AssertEquals(t, m.State(), StartedAsMaster)
}

func TestStartBecomesSlaveWhenLockedByAnother(t *testing.T) {
	m, store := testManager(t)
	store.ChangeSystemEvent(core.SystemEvent{Name: core.EventLock, Owner: "instance-b", Time: time.Now()})
	err := m.Start(Config{})
	test.AssertNotError(t, err, "Start")
	test.AssertEquals(t, m.State(), StartedAsSlave)
}

func TestRestartCaSystemBumpsCaChange(t *testing.T) {
	m, _ := testManager(t)
	test.AssertNotError(t, m.Start(Config{}), "Start")
	_, ok := m.LastCaChange()
	test.Assert(t, !ok, "expected no CA_CHANGE row before a restart")

	err := m.RestartCaSystem(Config{})
	test.AssertNotError(t, err, "RestartCaSystem")
	_, ok = m.LastCaChange()
	test.Assert(t, ok, "expected a CA_CHANGE row after a restart")
}

func TestUnlockClearsOwner(t *testing.T) {
	m, store := testManager(t)
	store.ChangeSystemEvent(core.SystemEvent{Name: core.EventLock, Owner: "instance-b", Time: time.Now()})
	m.Unlock()
	ev, ok := store.GetSystemEvent(core.EventLock)
	test.Assert(t, ok, "expected a LOCK row to remain")
	test.AssertEquals(t, ev.Owner, "")
}
