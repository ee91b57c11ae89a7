package issuance

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/policy"
	"github.com/letsencrypt-style/xipki-core/test"
)

type fakeCA struct {
	revoked    bool
	info       policy.CAInfo
	signers    map[x509.SignatureAlgorithm]crypto.Signer
	noNewAfter *time.Time
}

func (c *fakeCA) Info() policy.CAInfo                                   { return c.info }
func (c *fakeCA) Revoked() bool                                         { return c.revoked }
func (c *fakeCA) Signers() map[x509.SignatureAlgorithm]crypto.Signer    { return c.signers }
func (c *fakeCA) NoNewCertificateAfter() *time.Time                     { return c.noNewAfter }

func testSetup(t *testing.T) (*fakeCA, *policy.Profile, *ecdsa.PrivateKey) {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating CA key")
	reqKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "generating request key")

	caSubject := pkix.Name{CommonName: "Test Issuing CA"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ca := &fakeCA{
		info: policy.CAInfo{
			Subject:           caSubject,
			PathLenConstraint: -1,
			NotBefore:         now.Add(-24 * time.Hour),
			NotAfter:          now.Add(10 * 365 * 24 * time.Hour),
			ValidityMode:      core.ValidityCutoff,
		},
		signers: map[x509.SignatureAlgorithm]crypto.Signer{
			x509.ECDSAWithSHA256: caKey,
		},
	}

	keys, err := goodkey.NewKeyPolicy("")
	test.AssertNotError(t, err, "building key policy")

	conf := policy.Config{
		Name:                "test-ee",
		CertLevel:           core.EndEntity,
		CertDomain:          core.DomainGeneric,
		Validity:            90 * 24 * time.Hour,
		NotAfterMode:        core.NotAfterCutoff,
		SignatureAlgorithms: []x509.SignatureAlgorithm{x509.ECDSAWithSHA256},
		ExtensionControls:   map[string]policy.ExtensionControl{},
		PathLenConstraint:   -1,
		MaxPathLen:          -1,
	}
	prof, err := policy.Initialize(conf, keys)
	test.AssertNotError(t, err, "initializing profile")

	return ca, prof, reqKey
}

func TestBuildGrantsTemplate(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	tmpl, err := Build(ca, prof, req, clk, nil)
	test.AssertNotError(t, err, "Build")
	test.Assert(t, tmpl.SerialNumber != nil, "expected a serial number")
	test.Assert(t, !tmpl.NotAfter.After(ca.info.NotAfter), "notAfter should not exceed CA notAfter")
	test.AssertEquals(t, tmpl.SignatureAlgorithm, x509.ECDSAWithSHA256)
}

func TestBuildRejectsRevokedCA(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	ca.revoked = true
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	_, err := Build(ca, prof, req, clk, nil)
	test.AssertError(t, err, "Build should reject a revoked CA")
	test.Assert(t, errors.Is(err, errors.NotPermitted), "expected NotPermitted")
}

func TestBuildRejectsSubjectEqualToCA(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            ca.info.Subject,
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	_, err := Build(ca, prof, req, clk, nil)
	test.AssertError(t, err, "Build should reject a subject identical to the CA's own")
	test.Assert(t, errors.Is(err, errors.AlreadyIssued), "expected AlreadyIssued")
}

func TestBuildClampsNotAfterToCA(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	ca.info.NotAfter = ca.info.NotBefore.Add(48 * time.Hour)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	tmpl, err := Build(ca, prof, req, clk, nil)
	test.AssertNotError(t, err, "Build")
	test.AssertEquals(t, tmpl.NotAfter, ca.info.NotAfter)
	test.Assert(t, tmpl.Warning != "", "expected a clamp warning")
}

func TestBuildIncludeCTPoisonMarksPrecert(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		IncludeCTPoison:    true,
	}
	tmpl, err := Build(ca, prof, req, clk, nil)
	test.AssertNotError(t, err, "Build")
	test.Assert(t, tmpl.Precert, "expected Precert to be set")

	found := false
	for _, ext := range tmpl.Extensions {
		if ext.Id.Equal(CTPoisonOID) {
			found = true
			test.Assert(t, ext.Critical, "CT poison extension must be critical")
		}
	}
	test.Assert(t, found, "expected granted template to carry the CT poison extension")
}

func TestBuildSCTListEmbedsExtension(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SCTList:            []ct.SignedCertificateTimestamp{{}},
	}
	tmpl, err := Build(ca, prof, req, clk, nil)
	test.AssertNotError(t, err, "Build")
	test.Assert(t, !tmpl.Precert, "a request carrying SCTs is not a precertificate")

	found := false
	for _, ext := range tmpl.Extensions {
		if ext.Id.Equal(SCTListOID) {
			found = true
		}
	}
	test.Assert(t, found, "expected granted template to carry the SCT list extension")
}

func TestBuildRejectsPoisonAndSCTListTogether(t *testing.T) {
	ca, prof, reqKey := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		PublicKey:          &reqKey.PublicKey,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		IncludeCTPoison:    true,
		SCTList:            []ct.SignedCertificateTimestamp{{}},
	}
	_, err := Build(ca, prof, req, clk, nil)
	test.AssertError(t, err, "Build should reject a request with both poison and SCT list")
	test.Assert(t, errors.Is(err, errors.BadCertTemplate), "expected BadCertTemplate")
}

func TestBuildRejectsNoPublicKeyWhenForbidden(t *testing.T) {
	ca, prof, _ := testSetup(t)
	clk := clock.NewFake()
	clk.Set(ca.info.NotBefore.Add(time.Hour))

	req := Request{
		Subject:            pkix.Name{CommonName: "example.com"},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	_, err := Build(ca, prof, req, clk, nil)
	test.AssertError(t, err, "Build should reject a request with no public key and no keygen")
	test.Assert(t, errors.Is(err, errors.BadCertTemplate), "expected BadCertTemplate")
}
