package policy

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
)

// The Granted Template Builder (package issuance) sits directly on top of
// this package's per-certificate computations: subject normalisation,
// public-key policy, extension assembly, and serial generation. These
// thin exported wrappers are the seam between the two packages; Profile
// itself stays built around its unexported, invariant-checked helpers.

// GetSubject normalises requestedSubject against the profile's subject spec.
func (p *Profile) GetSubject(requestedSubject pkix.Name) (SubjectInfo, error) {
	return p.getSubject(requestedSubject)
}

// CheckPublicKey enforces the profile's public-key policy on pk.
func (p *Profile) CheckPublicKey(pk interface{}) error {
	return p.checkPublicKey(pk)
}

// GetExtensions computes the certificate's extension set in the stable
// order described in the package doc.
func (p *Profile) GetExtensions(req ExtensionRequest, grantedPublicKeyDER []byte, ca CAInfo) (ExtensionValues, error) {
	return p.getExtensions(req, grantedPublicKeyDER, ca)
}

// GenerateSerialNumber picks a serial number per the profile's configured mode.
func (p *Profile) GenerateSerialNumber(caSubject pkix.Name, caPk []byte, reqSubject pkix.Name, reqPk []byte) (*big.Int, error) {
	return p.generateSerialNumber(caSubject, caPk, reqSubject, reqPk)
}

// KeypairGenMode reports how the profile wants server-side key generation
// handled for requests that don't supply a public key.
func (p *Profile) KeypairGenMode() KeypairGenMode { return p.conf.KeypairGen }

// KeypairGenAlgorithm reports the algorithm and keyspec a server-generated
// key should use when KeypairGenMode is KeypairGenExplicit.
func (p *Profile) KeypairGenAlgorithm() (x509.PublicKeyAlgorithm, string) {
	return p.conf.KeypairGenAlg, p.conf.KeypairGenKeySpec
}

// Validity returns the profile's configured validity duration.
func (p *Profile) Validity() time.Duration { return p.conf.Validity }

// NotAfterMode reports how this profile's validity interacts with its CA's.
func (p *Profile) NotAfterMode() core.NotAfterMode { return p.conf.NotAfterMode }

// HasNoWellDefinedExpiration reports whether this profile issues certificates
// with the RFC 5280 "no expiration date" sentinel.
func (p *Profile) HasNoWellDefinedExpiration() bool { return p.conf.HasNoWellDefinedExpiration }

// MaxPathLen returns the profile's configured path-length bound, or -1 if unset.
func (p *Profile) MaxPathLen() int { return p.conf.MaxPathLen }

// PathLenConstraint returns the profile's own pathLenConstraint setting.
func (p *Profile) PathLenConstraint() int { return p.conf.PathLenConstraint }
