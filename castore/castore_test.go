package castore

import (
	"testing"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/test"
)

func TestAddAndLoadCert(t *testing.T) {
	s := New()
	id, err := s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01", NotBefore: time.Now()})
	test.AssertNotError(t, err, "AddCert")
	test.Assert(t, id != 0, "expected a nonzero row id")

	rec, err := s.LoadCert(1, "aa01")
	test.AssertNotError(t, err, "LoadCert")
	test.AssertEquals(t, rec.Serial, "aa01")
}

func TestAddCertRejectsDuplicate(t *testing.T) {
	s := New()
	_, err := s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01"})
	test.AssertNotError(t, err, "AddCert")
	_, err = s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01"})
	test.AssertError(t, err, "AddCert should reject a duplicate (issuer, serial)")
}

func TestChangeRevocationGoodToRevoked(t *testing.T) {
	s := New()
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01"})
	err := s.ChangeRevocation(1, "aa01", core.RevocationInfo{Reason: core.ReasonKeyCompromise, RevocationTime: time.Now()})
	test.AssertNotError(t, err, "ChangeRevocation")

	rec, _ := s.LoadCert(1, "aa01")
	test.Assert(t, rec.Revoked, "expected certificate to be revoked")
	test.AssertEquals(t, *rec.Reason, core.ReasonKeyCompromise)
}

func TestChangeRevocationRejectsDoubleRevoke(t *testing.T) {
	s := New()
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01"})
	err := s.ChangeRevocation(1, "aa01", core.RevocationInfo{Reason: core.ReasonKeyCompromise, RevocationTime: time.Now()})
	test.AssertNotError(t, err, "first ChangeRevocation")
	err = s.ChangeRevocation(1, "aa01", core.RevocationInfo{Reason: core.ReasonSuperseded, RevocationTime: time.Now()})
	test.AssertError(t, err, "ChangeRevocation should reject revoking an already-revoked certificate")
	test.Assert(t, errors.Is(err, errors.NotPermitted), "expected NotPermitted")
}

func TestUnsuspendOnlyFromHold(t *testing.T) {
	s := New()
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa01"})
	err := s.Unsuspend(1, "aa01")
	test.AssertError(t, err, "Unsuspend should reject a certificate that is not on hold")

	err = s.ChangeRevocation(1, "aa01", core.RevocationInfo{Reason: core.ReasonCertificateHold, RevocationTime: time.Now()})
	test.AssertNotError(t, err, "placing certificate on hold")
	err = s.Unsuspend(1, "aa01")
	test.AssertNotError(t, err, "Unsuspend")

	rec, _ := s.LoadCert(1, "aa01")
	test.Assert(t, !rec.Revoked, "expected certificate to be unsuspended")
}

func TestNextCrlNumberIncrementsPerCA(t *testing.T) {
	s := New()
	test.AssertEquals(t, s.NextCrlNumber(1), int64(1))
	test.AssertEquals(t, s.NextCrlNumber(1), int64(2))
	test.AssertEquals(t, s.NextCrlNumber(2), int64(1))
}

func TestListCertsFilterAndOrder(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "bb", NotBefore: now.Add(time.Hour)})
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa", NotBefore: now})
	out := s.ListCerts(ListFilter{IssuerID: 1}, OrderBySerial, 0)
	test.AssertEquals(t, len(out), 2)
	test.AssertEquals(t, out[0].Serial, "aa")
}

func TestSystemEventRoundTrip(t *testing.T) {
	s := New()
	_, ok := s.GetSystemEvent(core.EventLock)
	test.Assert(t, !ok, "expected no LOCK row initially")

	s.ChangeSystemEvent(core.SystemEvent{Name: core.EventLock, Owner: "instance-a", Time: time.Now()})
	ev, ok := s.GetSystemEvent(core.EventLock)
	test.Assert(t, ok, "expected a LOCK row")
	test.AssertEquals(t, ev.Owner, "instance-a")
}

func TestRevokedSinceOrdering(t *testing.T) {
	s := New()
	now := time.Now()
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "aa"})
	s.AddCert(core.CertRecord{IssuerID: 1, Serial: "bb"})
	s.ChangeRevocation(1, "bb", core.RevocationInfo{Reason: core.ReasonSuperseded, RevocationTime: now.Add(time.Minute)})
	s.ChangeRevocation(1, "aa", core.RevocationInfo{Reason: core.ReasonSuperseded, RevocationTime: now.Add(2 * time.Minute)})

	out := s.RevokedSince(1, now)
	test.AssertEquals(t, len(out), 2)
	test.AssertEquals(t, out[0].Serial, "bb")
	test.AssertEquals(t, out[1].Serial, "aa")
}
