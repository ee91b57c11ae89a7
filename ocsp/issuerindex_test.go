package ocsp

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
)

func TestIndexStartsEmpty(t *testing.T) {
	idx := NewIndex(1 << 20)
	if idx.KnowsIssuer(1) {
		t.Fatal("expected empty index to know no issuers")
	}
	if _, ok := idx.IssuerByID(1); ok {
		t.Fatal("expected empty index to return no issuer")
	}
}

func TestSetIssuersAndLookup(t *testing.T) {
	idx := NewIndex(1 << 20)
	iss := core.IssuerEntry{ID: 7, Cert: []byte("issuer-cert"), SubjectKeyIdentifier: []byte("ski-7"), NotBefore: time.Now()}
	if err := idx.SetIssuers([]core.IssuerEntry{iss}, map[int64]core.CrlInfo{7: {CrlID: 1, CrlNumber: 1}}); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	if !idx.KnowsIssuer(7) {
		t.Fatal("expected index to know issuer 7")
	}
	if _, ok := idx.CrlInfo(8); ok {
		t.Fatal("expected no CRL info for unknown issuer")
	}
	info, ok := idx.CrlInfo(7)
	if !ok || info.CrlNumber != 1 {
		t.Fatalf("expected CRL info for issuer 7, got %+v ok=%v", info, ok)
	}

	found, ok := idx.IssuerByID(7)
	if !ok || found.ID != 7 {
		t.Fatalf("expected to find issuer 7, got %+v ok=%v", found, ok)
	}
}

func TestSetIssuersRejectsCollidingIdentity(t *testing.T) {
	idx := NewIndex(1 << 20)
	a := core.IssuerEntry{ID: 1, SubjectKeyIdentifier: []byte("same-ski")}
	b := core.IssuerEntry{ID: 2, SubjectKeyIdentifier: []byte("same-ski")}
	err := idx.SetIssuers([]core.IssuerEntry{a, b}, nil)
	if err == nil {
		t.Fatal("expected SetIssuers to reject two issuers sharing an identity")
	}
}

func TestSetIssuersSwapIsAtomic(t *testing.T) {
	idx := NewIndex(1 << 20)
	first := core.IssuerEntry{ID: 1, SubjectKeyIdentifier: []byte("ski-1")}
	if err := idx.SetIssuers([]core.IssuerEntry{first}, nil); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	second := core.IssuerEntry{ID: 2, SubjectKeyIdentifier: []byte("ski-2")}
	if err := idx.SetIssuers([]core.IssuerEntry{second}, nil); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	if idx.KnowsIssuer(1) {
		t.Fatal("expected old snapshot's issuer to be gone after swap")
	}
	if !idx.KnowsIssuer(2) {
		t.Fatal("expected new snapshot's issuer to be served after swap")
	}
}

func TestGetIssuerForFpMatchesComputedHash(t *testing.T) {
	idx := NewIndex(1 << 20)
	iss := core.IssuerEntry{ID: 3, Cert: []byte("cert-bytes"), SubjectKeyIdentifier: []byte("ski-3")}
	if err := idx.SetIssuers([]core.IssuerEntry{iss}, nil); err != nil {
		t.Fatalf("SetIssuers: %s", err)
	}

	nameHash, keyHash := encodedHashPair(sha256.New, &iss)
	found, ok := idx.GetIssuerForFp("sha256", nameHash, keyHash)
	if !ok || found.ID != 3 {
		t.Fatalf("expected to find issuer 3 by fingerprint, got %+v ok=%v", found, ok)
	}

	if _, ok := idx.GetIssuerForFp("sha256", []byte("wrong"), []byte("wrong")); ok {
		t.Fatal("expected no match for an unrelated fingerprint")
	}
	if _, ok := idx.GetIssuerForFp("md5", nameHash, keyHash); ok {
		t.Fatal("expected no match for an unsupported algorithm")
	}
}
