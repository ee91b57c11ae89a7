package policy

import (
	"crypto/x509"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/goodkey"
)

// Profile is an immutable, validated certificate profile. Build one with
// Initialize; every method is read-only.
type Profile struct {
	conf Config
	keys goodkey.KeyPolicy
}

// Initialize validates conf and, on success, returns an immutable Profile.
// It rejects configurations that can never produce a valid certificate:
// a non-EndEntity profile claiming no well-defined expiration, a CA/B BR
// EndEntity profile with no way to populate SAN, and a subordinate-CA or
// cross profile whose pathLenConstraint is below -1 (-1, unbounded, is
// accepted).
func Initialize(conf Config, keys goodkey.KeyPolicy) (*Profile, error) {
	if conf.Name == "" {
		return nil, errors.ProfileConfigError("policy: profile name must not be empty")
	}

	if conf.HasNoWellDefinedExpiration && conf.CertLevel != core.EndEntity {
		return nil, errors.ProfileConfigError(
			"policy: profile %q: hasNoWellDefinedExpirationDate is only permitted for EndEntity profiles", conf.Name)
	}

	if conf.CertDomain == core.DomainCABForumBR && conf.CertLevel == core.EndEntity {
		if _, ok := conf.ExtensionControls[oidSubjectAltName.String()]; !ok {
			return nil, errors.ProfileConfigError(
				"policy: profile %q: CA/B BR EndEntity profiles must configure a subjectAltName extension control", conf.Name)
		}
	}

	if conf.CertLevel == core.SubCA || conf.CertLevel == core.Cross {
		if conf.PathLenConstraint < -1 {
			return nil, errors.ProfileConfigError(
				"policy: profile %q: pathLenConstraint must be >= -1", conf.Name)
		}
	}

	if len(conf.SignatureAlgorithms) == 0 {
		return nil, errors.ProfileConfigError("policy: profile %q: at least one signature algorithm must be permitted", conf.Name)
	}

	return &Profile{conf: conf, keys: keys}, nil
}

// Name returns the profile's configured name.
func (p *Profile) Name() string { return p.conf.Name }

// CertLevel returns the profile's configured cert level.
func (p *Profile) CertLevel() core.CertLevel { return p.conf.CertLevel }

// CertDomain returns the profile's configured policy domain.
func (p *Profile) CertDomain() core.CertDomain { return p.conf.CertDomain }

// AllowsSignatureAlgorithm reports whether alg is in the profile's
// allowed list.
func (p *Profile) AllowsSignatureAlgorithm(alg x509.SignatureAlgorithm) bool {
	for _, a := range p.conf.SignatureAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// checkPublicKey enforces the profile's public-key policy: allowed
// algorithm/keyspec via the shared goodkey.KeyPolicy, rejecting weak RSA
// (ROCA-affected or blacklisted) moduli and malformed encodings.
func (p *Profile) checkPublicKey(pk interface{}) error {
	return p.keys.GoodKey(pk)
}
