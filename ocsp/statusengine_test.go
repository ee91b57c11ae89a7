package ocsp

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/crypto/ocsp"

	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
)

func testEngine(t *testing.T, issuerID int64, crl *core.CrlInfo) (*Engine, *castore.Store, *Index, clock.Clock) {
	t.Helper()
	store := castore.New()
	idx := NewIndex(1 << 20)
	clk := clock.NewFake()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	crlInfos := map[int64]core.CrlInfo{}
	if crl != nil {
		crlInfos[issuerID] = *crl
	}
	if err := idx.SetIssuers([]core.IssuerEntry{{ID: issuerID, SubjectKeyIdentifier: []byte("ski")}}, crlInfos); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	return NewEngine(idx, store, clk, nil), store, idx, clk
}

func addCert(t *testing.T, store *castore.Store, issuerID int64, serial string, notBefore, notAfter time.Time) {
	t.Helper()
	_, err := store.AddCert(core.CertRecord{IssuerID: issuerID, Serial: serial, NotBefore: notBefore, NotAfter: notAfter})
	if err != nil {
		t.Fatalf("AddCert: %s", err)
	}
}

func TestGetCertStatusRejectsNonPositiveSerial(t *testing.T) {
	e, _, _, _ := testEngine(t, 1, nil)
	status, err := e.GetCertStatus(1, "00", Policy{})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusUnknown {
		t.Fatalf("expected Unknown for serial 0, got %v", status.Kind)
	}
}

func TestGetCertStatusUnknownIssuerReturnsNil(t *testing.T) {
	e, _, _, _ := testEngine(t, 1, nil)
	status, err := e.GetCertStatus(999, "01", Policy{})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status != nil {
		t.Fatalf("expected nil status for an unknown issuer, got %+v", status)
	}
}

func TestGetCertStatusCrlExpired(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e, _, _, _ := testEngine(t, 1, &core.CrlInfo{NextUpdate: clk.Now().Add(time.Minute)})
	status, err := e.GetCertStatus(1, "01", Policy{IgnoreExpiredCrls: true})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusCrlExpired {
		t.Fatalf("expected CrlExpired, got %v", status.Kind)
	}
}

func TestGetCertStatusMissingRecordIsUnknown(t *testing.T) {
	e, _, _, _ := testEngine(t, 1, nil)
	status, err := e.GetCertStatus(1, "01", Policy{})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusUnknown {
		t.Fatalf("expected Unknown for a missing record, got %v", status.Kind)
	}
}

func TestGetCertStatusGood(t *testing.T) {
	e, store, _, clk := testEngine(t, 1, nil)
	addCert(t, store, 1, "01", clk.Now().Add(-time.Hour), clk.Now().Add(time.Hour))
	status, err := e.GetCertStatus(1, "01", Policy{})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusGood {
		t.Fatalf("expected Good, got %v", status.Kind)
	}
}

func TestGetCertStatusIgnoresNotYetValid(t *testing.T) {
	e, store, _, clk := testEngine(t, 1, nil)
	addCert(t, store, 1, "01", clk.Now().Add(time.Hour), clk.Now().Add(2*time.Hour))
	status, err := e.GetCertStatus(1, "01", Policy{IgnoreNotYetValidCert: true})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusIgnore {
		t.Fatalf("expected Ignore for a not-yet-valid cert, got %v", status.Kind)
	}
}

func TestGetCertStatusRevoked(t *testing.T) {
	e, store, _, clk := testEngine(t, 1, nil)
	addCert(t, store, 1, "01", clk.Now().Add(-time.Hour), clk.Now().Add(time.Hour))
	err := store.ChangeRevocation(1, "01", core.RevocationInfo{Reason: core.ReasonKeyCompromise, RevocationTime: clk.Now()})
	if err != nil {
		t.Fatalf("ChangeRevocation: %s", err)
	}

	status, err := e.GetCertStatus(1, "01", Policy{})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusRevoked || status.Reason != core.ReasonKeyCompromise {
		t.Fatalf("expected Revoked(keyCompromise), got %+v", status)
	}
}

func TestGetCertStatusCaInheritanceReplacesGood(t *testing.T) {
	e, store, idx, clk := testEngine(t, 1, nil)
	addCert(t, store, 1, "01", clk.Now().Add(-time.Hour), clk.Now().Add(time.Hour))

	caRevTime := clk.Now()
	if err := idx.SetIssuers([]core.IssuerEntry{{
		ID: 1, SubjectKeyIdentifier: []byte("ski"),
		RevocationInfo: &core.RevocationInfo{Reason: core.ReasonCACompromise, RevocationTime: caRevTime},
	}}, nil); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	status, err := e.GetCertStatus(1, "01", Policy{InheritCaRevocation: true})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Kind != StatusRevoked || status.Reason != core.ReasonCACompromise {
		t.Fatalf("expected inherited CA revocation, got %+v", status)
	}
	if !status.RevocationTime.Equal(caRevTime) {
		t.Fatalf("expected inherited revocation time %v, got %v", caRevTime, status.RevocationTime)
	}
}

func TestGetCertStatusCaInheritanceLeavesNewerRevocationAlone(t *testing.T) {
	e, store, idx, clk := testEngine(t, 1, nil)
	addCert(t, store, 1, "01", clk.Now().Add(-time.Hour), clk.Now().Add(time.Hour))

	certRevTime := clk.Now()
	if err := store.ChangeRevocation(1, "01", core.RevocationInfo{Reason: core.ReasonKeyCompromise, RevocationTime: certRevTime}); err != nil {
		t.Fatalf("ChangeRevocation: %s", err)
	}

	olderCaRevTime := certRevTime.Add(-time.Hour)
	if err := idx.SetIssuers([]core.IssuerEntry{{
		ID: 1, SubjectKeyIdentifier: []byte("ski"),
		RevocationInfo: &core.RevocationInfo{Reason: core.ReasonCACompromise, RevocationTime: olderCaRevTime},
	}}, nil); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	status, err := e.GetCertStatus(1, "01", Policy{InheritCaRevocation: true})
	if err != nil {
		t.Fatalf("GetCertStatus: %s", err)
	}
	if status.Reason != core.ReasonKeyCompromise {
		t.Fatalf("expected the cert's own (newer) revocation to survive, got %+v", status)
	}
}

func TestStatusToResponseTemplateMapsWireCodes(t *testing.T) {
	good := &Status{Kind: StatusGood}
	if got := good.ToResponseTemplate().Status; got != ocsp.Good {
		t.Fatalf("expected ocsp.Good for a good status, got %d", got)
	}

	revokedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	revoked := &Status{Kind: StatusRevoked, Reason: core.ReasonKeyCompromise, RevocationTime: revokedAt}
	tmpl := revoked.ToResponseTemplate()
	if tmpl.Status != ocsp.Revoked {
		t.Fatalf("expected ocsp.Revoked for a revoked status, got %d", tmpl.Status)
	}
	if tmpl.RevocationReason != int(core.ReasonKeyCompromise) {
		t.Fatalf("expected reason %d, got %d", core.ReasonKeyCompromise, tmpl.RevocationReason)
	}
	if !tmpl.RevokedAt.Equal(revokedAt) {
		t.Fatalf("expected revocation time %v, got %v", revokedAt, tmpl.RevokedAt)
	}

	for _, kind := range []StatusKind{StatusUnknown, StatusIgnore, StatusCrlExpired} {
		if got := (&Status{Kind: kind}).ToResponseTemplate().Status; got != ocsp.Unknown {
			t.Fatalf("expected ocsp.Unknown for kind %s, got %d", kind, got)
		}
	}
}
