package ca

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	"github.com/jmhodges/clock"
	promtest "github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/issuance"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
	"github.com/letsencrypt-style/xipki-core/policy"
	"github.com/letsencrypt-style/xipki-core/test"
)

func newTestInstance(t *testing.T) (*Instance, *ecdsa.PrivateKey) {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating CA key")
	reqKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating request key")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := policy.CAInfo{
		Subject:           pkix.Name{CommonName: "Test Issuing CA"},
		PathLenConstraint: -1,
		NotBefore:         now.Add(-24 * time.Hour),
		NotAfter:          now.Add(10 * 365 * 24 * time.Hour),
		ValidityMode:      core.ValidityCutoff,
	}

	keys, err := goodkey.NewKeyPolicy("")
	test.AssertNotError(t, err, "building key policy")

	conf := policy.Config{
		Name:                "test-ee",
		CertLevel:           core.EndEntity,
		Validity:            90 * 24 * time.Hour,
		NotAfterMode:        core.NotAfterCutoff,
		SignatureAlgorithms: []x509.SignatureAlgorithm{x509.ECDSAWithSHA256},
		ExtensionControls:   map[string]policy.ExtensionControl{},
		PathLenConstraint:   -1,
		MaxPathLen:          -1,
	}
	prof, err := policy.Initialize(conf, keys)
	test.AssertNotError(t, err, "initializing profile")

	clk := clock.NewFake()
	clk.Set(info.NotBefore.Add(time.Hour))

	inst, err := New(Options{
		ID:   1,
		Info: info,
		Signers: map[x509.SignatureAlgorithm]crypto.Signer{
			x509.ECDSAWithSHA256: caKey,
		},
		Profiles: map[string]*policy.Profile{"test-ee": prof},
		Store:    castore.New(),
		Log:      log.NewMock(),
		Metrics:  metrics.NewIssuanceMetrics(promtest.NewRegistry()),
		Clk:      clk,
	})
	test.AssertNotError(t, err, "New")
	return inst, reqKey
}

func TestGenerateIssuesAndStores(t *testing.T) {
	inst, reqKey := newTestInstance(t)
	req := issuance.Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	rec, err := inst.Generate(context.Background(), "test-ee", req)
	test.AssertNotError(t, err, "Generate")
	test.Assert(t, len(rec.DER) > 0, "expected DER bytes")

	loaded, err := inst.store.LoadCert(1, rec.Serial)
	test.AssertNotError(t, err, "LoadCert")
	test.AssertByteEquals(t, loaded.DER, rec.DER)
}

func TestGenerateRejectsUnknownProfile(t *testing.T) {
	inst, reqKey := newTestInstance(t)
	req := issuance.Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	_, err := inst.Generate(context.Background(), "nonexistent", req)
	test.AssertError(t, err, "Generate should reject an unknown profile")
	test.Assert(t, errors.Is(err, errors.UnknownCertProfile), "expected UnknownCertProfile")
}

func TestRevokeAndUnsuspend(t *testing.T) {
	inst, reqKey := newTestInstance(t)
	req := issuance.Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	rec, err := inst.Generate(context.Background(), "test-ee", req)
	test.AssertNotError(t, err, "Generate")

	err = inst.Revoke(rec.Serial, core.ReasonCertificateHold, nil)
	test.AssertNotError(t, err, "Revoke")
	err = inst.Unsuspend(rec.Serial)
	test.AssertNotError(t, err, "Unsuspend")
}

func TestIssuePrecertThenFinalizeWithSCTs(t *testing.T) {
	inst, reqKey := newTestInstance(t)
	req := issuance.Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	precertDER, err := inst.IssuePrecert(context.Background(), "test-ee", req)
	test.AssertNotError(t, err, "IssuePrecert")
	precert, err := x509.ParseCertificate(precertDER)
	test.AssertNotError(t, err, "parsing precertificate")

	foundPoison := false
	for _, ext := range precert.Extensions {
		if ext.Id.Equal(issuance.CTPoisonOID) {
			foundPoison = true
			test.Assert(t, ext.Critical, "CT poison extension must be critical")
		}
	}
	test.Assert(t, foundPoison, "expected precertificate to carry the CT poison extension")

	// Not persisted: the Cert Store has no record under this serial yet.
	serial := core.SerialToString(precert.SerialNumber)
	_, err = inst.store.LoadCert(1, serial)
	test.AssertError(t, err, "precertificate must not be stored as a final certificate")

	sct, err := cttls.Marshal(ct.SignedCertificateTimestamp{})
	test.AssertNotError(t, err, "marshalling test SCT")

	rec, err := inst.FinalizeWithSCTs(precertDER, [][]byte{sct})
	test.AssertNotError(t, err, "FinalizeWithSCTs")
	test.AssertEquals(t, rec.Serial, serial)

	final, err := x509.ParseCertificate(rec.DER)
	test.AssertNotError(t, err, "parsing final certificate")
	test.AssertByteEquals(t, final.SerialNumber.Bytes(), precert.SerialNumber.Bytes())

	foundSCTList := false
	for _, ext := range final.Extensions {
		if ext.Id.Equal(issuance.CTPoisonOID) {
			t.Fatal("final certificate must not carry the CT poison extension")
		}
		if ext.Id.Equal(issuance.SCTListOID) {
			foundSCTList = true
		}
	}
	test.Assert(t, foundSCTList, "expected final certificate to carry the SCT list extension")

	loaded, err := inst.store.LoadCert(1, serial)
	test.AssertNotError(t, err, "LoadCert after finalize")
	test.AssertByteEquals(t, loaded.DER, rec.DER)
}

func TestRevokeCaAndUnrevokeCa(t *testing.T) {
	inst, _ := newTestInstance(t)
	test.Assert(t, !inst.Revoked(), "expected CA to start un-revoked")
	inst.RevokeCa(core.RevocationInfo{Reason: core.ReasonCACompromise, RevocationTime: time.Now()})
	test.Assert(t, inst.Revoked(), "expected CA to be revoked")
	inst.UnrevokeCa()
	test.Assert(t, !inst.Revoked(), "expected CA to be un-revoked")
}
