package namemap

import (
	"testing"

	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/test"
)

func TestAddAndLookup(t *testing.T) {
	m := New()
	test.AssertNotError(t, m.Add(1, "ExampleCA"), "Add failed")

	id, err := m.NameToId("exampleca")
	test.AssertNotError(t, err, "NameToId failed")
	test.AssertEquals(t, id, int64(1))

	name, err := m.IdToName(1)
	test.AssertNotError(t, err, "IdToName failed")
	test.AssertEquals(t, name, "exampleca")
}

func TestDuplicateNameRejected(t *testing.T) {
	m := New()
	test.AssertNotError(t, m.Add(1, "dup"), "Add failed")
	err := m.Add(2, "DUP")
	test.AssertError(t, err, "expected duplicate name error")
	test.Assert(t, errors.Is(err, errors.DuplicateName), "expected DuplicateName error type")
}

func TestDuplicateIdRejected(t *testing.T) {
	m := New()
	test.AssertNotError(t, m.Add(1, "first"), "Add failed")
	err := m.Add(1, "second")
	test.AssertError(t, err, "expected duplicate id error")
	test.Assert(t, errors.Is(err, errors.DuplicateId), "expected DuplicateId error type")
}

func TestReAddSamePairIsIdempotent(t *testing.T) {
	m := New()
	test.AssertNotError(t, m.Add(1, "stable"), "first Add failed")
	test.AssertNotError(t, m.Add(1, "STABLE"), "re-Add of identical pair should succeed")
}

func TestRemove(t *testing.T) {
	m := New()
	test.AssertNotError(t, m.Add(1, "gone"), "Add failed")
	m.Remove(1)
	_, err := m.IdToName(1)
	test.AssertError(t, err, "expected not-found after Remove")
	test.Assert(t, errors.Is(err, errors.NotFound), "expected NotFound error type")
}

func TestNotFound(t *testing.T) {
	m := New()
	_, err := m.NameToId("nope")
	test.AssertError(t, err, "expected not-found")
	test.Assert(t, errors.Is(err, errors.NotFound), "expected NotFound error type")
}
