package qa

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/policy"
)

func testProfileAndCA(t *testing.T) (*policy.Profile, policy.CAInfo) {
	t.Helper()
	keys, err := goodkey.NewKeyPolicy("")
	if err != nil {
		t.Fatalf("building key policy: %s", err)
	}

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
	if err != nil {
		t.Fatalf("initializing profile: %s", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ca := policy.CAInfo{
		Subject:           pkix.Name{CommonName: "Test Issuing CA"},
		PathLenConstraint: -1,
		NotBefore:         now.Add(-24 * time.Hour),
		NotAfter:          now.Add(10 * 365 * 24 * time.Hour),
		ValidityMode:      core.ValidityCutoff,
	}
	return prof, ca
}

func grantedPublicKeyDER(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %s", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshalling public key: %s", err)
	}
	return der
}

func TestCheckExtensionsAgreesWithItself(t *testing.T) {
	prof, ca := testProfileAndCA(t)
	pubDER := grantedPublicKeyDER(t)
	req := policy.ExtensionRequest{RequestedPathLen: -1}

	expected, err := prof.GetExtensions(req, pubDER, ca)
	if err != nil {
		t.Fatalf("GetExtensions: %s", err)
	}

	issues, err := CheckExtensions(prof, req, pubDER, ca, expected.Extensions)
	if err != nil {
		t.Fatalf("CheckExtensions: %s", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues comparing a recomputation against itself, got %+v", issues)
	}
}

func TestCheckExtensionsCatchesTamperedValue(t *testing.T) {
	prof, ca := testProfileAndCA(t)
	pubDER := grantedPublicKeyDER(t)
	req := policy.ExtensionRequest{RequestedPathLen: -1}

	expected, err := prof.GetExtensions(req, pubDER, ca)
	if err != nil {
		t.Fatalf("GetExtensions: %s", err)
	}
	if len(expected.Extensions) == 0 {
		t.Fatal("expected at least one extension to tamper with")
	}

	tampered := make([]pkix.Extension, len(expected.Extensions))
	copy(tampered, expected.Extensions)
	tampered[0].Value = append([]byte{0xFF}, tampered[0].Value...)

	issues, err := CheckExtensions(prof, req, pubDER, ca, tampered)
	if err != nil {
		t.Fatalf("CheckExtensions: %s", err)
	}
	if len(issues) == 0 {
		t.Fatal("expected a mismatch issue for a tampered extension value")
	}
}

func TestCheckExtensionsCatchesMissingExtension(t *testing.T) {
	prof, ca := testProfileAndCA(t)
	pubDER := grantedPublicKeyDER(t)
	req := policy.ExtensionRequest{RequestedPathLen: -1}

	expected, err := prof.GetExtensions(req, pubDER, ca)
	if err != nil {
		t.Fatalf("GetExtensions: %s", err)
	}
	if len(expected.Extensions) == 0 {
		t.Fatal("expected at least one extension")
	}

	issues, err := CheckExtensions(prof, req, pubDER, ca, expected.Extensions[1:])
	if err != nil {
		t.Fatalf("CheckExtensions: %s", err)
	}
	found := false
	for _, issue := range issues {
		if issue.Tag == "extension-missing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an extension-missing issue, got %+v", issues)
	}
}
