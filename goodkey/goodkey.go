// Package goodkey implements public-key policy enforcement: allowed
// algorithm and key size, rejection of known-weak RSA moduli (including
// the ROCA-affected class), and rejection of malformed key encodings.
// CA instances and the profile engine both consult it before issuance.
package goodkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"

	"github.com/titanous/rocacheck"

	"github.com/letsencrypt-style/xipki-core/errors"
)

// KeyPolicy describes the public keys a CA or profile will accept.
type KeyPolicy struct {
	AllowRSA       bool
	AllowECDSA     bool
	RSAMinBits     int
	RSAMaxBits     int
	ECDSACurves    []elliptic.Curve
	weak           *weakKeys
	checkROCA      bool
}

// DefaultRSAMinBits and DefaultRSAMaxBits bound a RSA key's modulus length
// absent any profile-specific override.
const (
	DefaultRSAMinBits = 2048
	DefaultRSAMaxBits = 4096
)

// NewKeyPolicy builds a policy that accepts RSA-2048..4096 and ECDSA on
// P-256/P-384/P-521, with ROCA checking enabled. weakKeyDir, if non-empty,
// loads a directory of known-weak-key suffix files (see loadSuffixes).
func NewKeyPolicy(weakKeyDir string) (KeyPolicy, error) {
	kp := KeyPolicy{
		AllowRSA:    true,
		AllowECDSA:  true,
		RSAMinBits:  DefaultRSAMinBits,
		RSAMaxBits:  DefaultRSAMaxBits,
		ECDSACurves: []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()},
		checkROCA:   true,
	}
	if weakKeyDir != "" {
		wk, err := loadSuffixes(weakKeyDir)
		if err != nil {
			return KeyPolicy{}, err
		}
		kp.weak = wk
	} else {
		kp.weak = &weakKeys{suffixes: make(map[[10]byte]struct{})}
	}
	return kp, nil
}

// GoodKey reports whether key satisfies the policy: correct algorithm,
// key size within bounds, curve on the allow-list, not a known-weak
// modulus, and (for RSA) not ROCA-affected.
func (kp KeyPolicy) GoodKey(key interface{}) error {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return kp.goodRSAKey(k)
	case *ecdsa.PublicKey:
		return kp.goodECDSAKey(k)
	default:
		return errors.BadCertTemplateError("goodkey: unsupported public key type %T", key)
	}
}

func (kp KeyPolicy) goodRSAKey(key *rsa.PublicKey) error {
	if !kp.AllowRSA {
		return errors.BadCertTemplateError("goodkey: RSA keys are not permitted by this policy")
	}
	if key.N == nil {
		return errors.BadCertTemplateError("goodkey: RSA key has nil modulus")
	}
	bits := key.N.BitLen()
	if bits < kp.RSAMinBits {
		return errors.BadCertTemplateError("goodkey: RSA modulus too small: %d bits, minimum %d", bits, kp.RSAMinBits)
	}
	if bits > kp.RSAMaxBits {
		return errors.BadCertTemplateError("goodkey: RSA modulus too large: %d bits, maximum %d", bits, kp.RSAMaxBits)
	}
	if key.E <= 1 {
		return errors.BadCertTemplateError("goodkey: RSA public exponent too small")
	}
	if kp.weak != nil && kp.weak.Known(key.N.Bytes()) {
		return errors.BadCertTemplateError("goodkey: RSA key matches a known-compromised modulus")
	}
	if kp.checkROCA && rocacheck.IsWeak(key) {
		return errors.BadCertTemplateError("goodkey: RSA key is ROCA-affected (weak key generation)")
	}
	return nil
}

func (kp KeyPolicy) goodECDSAKey(key *ecdsa.PublicKey) error {
	if !kp.AllowECDSA {
		return errors.BadCertTemplateError("goodkey: ECDSA keys are not permitted by this policy")
	}
	for _, c := range kp.ECDSACurves {
		if key.Curve == c {
			return nil
		}
	}
	return errors.BadCertTemplateError("goodkey: ECDSA curve %s is not on the allow-list", key.Curve.Params().Name)
}

// badSignatureAlgorithms enumerates X.509 signature algorithms no profile
// may accept on an incoming CSR: broken hashes (MD2, MD5, SHA-1 for
// ECDSA), DSA, and the unknown sentinel. SHA-1-with-RSA is intentionally
// left out of this table; callers that need to reject it can do so
// per-profile.
var badSignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.UnknownSignatureAlgorithm: true,
	x509.MD2WithRSA:                true,
	x509.MD5WithRSA:                true,
	x509.DSAWithSHA1:               true,
	x509.DSAWithSHA256:             true,
	x509.ECDSAWithSHA1:             true,
}

// GoodSignatureAlgorithm reports whether a CSR's signature algorithm is
// acceptable.
func GoodSignatureAlgorithm(alg x509.SignatureAlgorithm) error {
	if badSignatureAlgorithms[alg] {
		return errors.BadCertTemplateError("goodkey: signature algorithm %s is not permitted", alg)
	}
	return nil
}
