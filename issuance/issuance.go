// Package issuance builds a GrantedCertTemplate: the fully-resolved,
// ready-to-sign shape of a certificate, computed by running a request
// against a CA's live state and an activated profile. It is the layer
// above the profile engine (package policy) — it decides CA-level
// eligibility and validity clamping, and delegates subject, public-key,
// extension, and serial decisions to the profile.
package issuance

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/policy"
)

// CTPoisonOID is the critical poison extension (RFC 6962 §3.1) that marks a
// certificate as a precertificate: a signed object submitted to CT logs for
// SCTs but never itself presented to a relying party. SCTListOID is the
// extension a precertificate's poison is swapped for once those SCTs come
// back (RFC 6962 §3.3).
var (
	CTPoisonOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 3}
	SCTListOID  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}
)

var ctPoisonExt = pkix.Extension{
	Id:       CTPoisonOID,
	Critical: true,
	Value:    asn1.NullBytes,
}

// SCTListExtension serializes scts into the TLS-presentation-language
// SignedCertificateTimestampList structure RFC 6962 §3.3 specifies (a
// 2-byte-length-prefixed vector of 2-byte-length-prefixed SCTs), then wraps
// that in the ASN.1 OCTET STRING the X.509 extension's Value holds.
func SCTListExtension(scts []ct.SignedCertificateTimestamp) (pkix.Extension, error) {
	var list []byte
	for _, sct := range scts {
		encoded, err := cttls.Marshal(sct)
		if err != nil {
			return pkix.Extension{}, errors.SystemFailureError("issuance: marshalling SCT: %s", err)
		}
		if len(encoded) > 0xffff {
			return pkix.Extension{}, errors.SystemFailureError("issuance: SCT too large to embed")
		}
		list = append(list, byte(len(encoded)>>8), byte(len(encoded)))
		list = append(list, encoded...)
	}
	if len(list) > 0xffff {
		return pkix.Extension{}, errors.SystemFailureError("issuance: SCT list too large to embed")
	}
	prefixed := append([]byte{byte(len(list) >> 8), byte(len(list))}, list...)
	value, err := asn1.Marshal(prefixed)
	if err != nil {
		return pkix.Extension{}, errors.SystemFailureError("issuance: marshalling SCT list extension: %s", err)
	}
	return pkix.Extension{Id: SCTListOID, Value: value}, nil
}

// maxBackdate bounds how far into the past a profile may set notBefore
// relative to wall-clock now.
const maxBackdate = 10 * time.Minute

// noExpirationDate is the RFC 5280 "no well-defined expiration" sentinel.
var noExpirationDate = core.NoWellDefinedExpiration

// CA is the subset of a CA instance's state the template builder needs:
// its own identity and constraints, its revocation status, the signers it
// owns (keyed by signature algorithm), and an optional hard issuance
// cutoff.
type CA interface {
	Info() policy.CAInfo
	Revoked() bool
	Signers() map[x509.SignatureAlgorithm]crypto.Signer
	NoNewCertificateAfter() *time.Time
}

// KeypairGenerator produces a fresh private key for one keyspec name
// (e.g. "rsa-2048", "ecdsa-p256", "ed25519"), used when a request asks
// for server-side key generation instead of supplying its own public key.
type KeypairGenerator interface {
	Supports(keySpec string) bool
	Generate(keySpec string) (crypto.Signer, error)
}

// KeypairGenerators is an ordered set of KeypairGenerator searched in turn
// for one that supports the requested keyspec.
type KeypairGenerators []KeypairGenerator

func (gens KeypairGenerators) find(keySpec string) (KeypairGenerator, error) {
	for _, g := range gens {
		if g.Supports(keySpec) {
			return g, nil
		}
	}
	return nil, errors.SystemFailureError("issuance: no keypair generator supports keyspec %q", keySpec)
}

// Request is the caller-supplied input to Build: a parsed CSR (or
// equivalent), plus whatever notBefore/notAfter overrides the caller asked
// for.
type Request struct {
	Subject  pkix.Name
	DNSNames []string
	IPAddrs  []string

	PublicKey      interface{} // nil to request server-side key generation
	PublicKeyDER   []byte      // set alongside PublicKey once available

	RequestedNotBefore *time.Time
	RequestedNotAfter  *time.Time

	RequestedIsCA    bool
	RequestedPathLen int // -1 = not requested

	SignatureAlgorithm x509.SignatureAlgorithm

	Extensions policy.ExtensionRequest

	// IncludeCTPoison requests a precertificate: the granted template
	// carries the critical CT poison extension instead of the caller's
	// requested SCTs, and Precert is set on the resulting template.
	IncludeCTPoison bool
	// SCTList, mutually exclusive with IncludeCTPoison, embeds a CT
	// SCT-list extension instead — used to finalize a precertificate
	// once its SCTs have come back from the logs it was submitted to.
	SCTList []ct.SignedCertificateTimestamp
}

// GrantedCertTemplate is the fully-resolved shape Build produces: every
// value a signer needs to produce the final TBSCertificate, with an
// optional warning describing any non-fatal drift from what was
// requested.
type GrantedCertTemplate struct {
	Subject      pkix.Name
	PublicKey    interface{}
	PublicKeyDER []byte
	GeneratedKey crypto.Signer // non-nil only when Build generated the key

	NotBefore time.Time
	NotAfter  time.Time

	SerialNumber *big.Int
	Extensions   []pkix.Extension

	Signer             crypto.Signer
	SignatureAlgorithm x509.SignatureAlgorithm

	// Precert is true when this template carries the CT poison extension
	// rather than the profile's normal extension set; such a template is
	// signed and submitted to CT logs but never stored as a final
	// certificate.
	Precert bool

	Warning string
}

// Build runs a request against ca and profile, producing a
// GrantedCertTemplate or a typed error identifying which step rejected
// it. Step order matches the error-precedence contract: a CA-revoked
// request is rejected before its public key is ever examined.
func Build(ca CA, prof *policy.Profile, req Request, clk clock.Clock, gens KeypairGenerators) (*GrantedCertTemplate, error) {
	// 1. CA not revoked.
	if ca.Revoked() {
		return nil, errors.NotPermittedError("issuance: CA revoked")
	}

	if req.IncludeCTPoison && len(req.SCTList) > 0 {
		return nil, errors.BadCertTemplateError("issuance: cannot include both ct poison and sct list extensions")
	}

	// 2. Profile exists and is usable — callers look profiles up by name
	// before calling Build, so by the time we're here prof is non-nil;
	// nothing further to check (we only ever speak profile v3).

	// 3. Signer selection: the CA must own a signer whose algorithm is in
	// the profile's allowed set.
	signer, sigAlg, err := selectSigner(ca, prof, req.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	caInfo := ca.Info()

	// 4. Cert-level rules.
	if err := checkCertLevelRules(prof, req, caInfo); err != nil {
		return nil, err
	}

	// 5. notBefore.
	notBefore, err := resolveNotBefore(req, caInfo, ca.NoNewCertificateAfter(), clk)
	if err != nil {
		return nil, err
	}

	// 6. Public key.
	pub, pubDER, generated, err := resolvePublicKey(prof, req, gens)
	if err != nil {
		return nil, err
	}
	if err := prof.CheckPublicKey(pub); err != nil {
		return nil, err
	}

	// 7. Subject normalisation + AlreadyIssued check.
	subjInfo, err := prof.GetSubject(req.Subject)
	if err != nil {
		return nil, err
	}
	if subjInfo.Granted.String() == caInfo.Subject.String() {
		return nil, errors.AlreadyIssuedError("issuance: granted subject is identical to the issuing CA's own subject")
	}

	// 8. notAfter.
	notAfter, notAfterWarning, err := resolveNotAfter(prof, req, caInfo, notBefore)
	if err != nil {
		return nil, err
	}

	serial, err := prof.GenerateSerialNumber(caInfo.Subject, caInfo.SubjectKeyIdentifier, subjInfo.Granted, pubDER)
	if err != nil {
		return nil, err
	}

	exts, err := prof.GetExtensions(req.Extensions, pubDER, caInfo)
	if err != nil {
		return nil, err
	}
	extensions := exts.Extensions
	if req.IncludeCTPoison {
		extensions = append(extensions, ctPoisonExt)
	} else if len(req.SCTList) > 0 {
		sctExt, err := SCTListExtension(req.SCTList)
		if err != nil {
			return nil, err
		}
		extensions = append(extensions, sctExt)
	}

	warning := subjInfo.Warning
	if notAfterWarning != "" {
		if warning != "" {
			warning += "; "
		}
		warning += notAfterWarning
	}

	// 9. Emit.
	tmpl := &GrantedCertTemplate{
		Subject:            subjInfo.Granted,
		PublicKey:          pub,
		PublicKeyDER:       pubDER,
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		SerialNumber:       serial,
		Extensions:         extensions,
		Signer:             signer,
		SignatureAlgorithm: sigAlg,
		Precert:            req.IncludeCTPoison,
		Warning:            warning,
	}
	if generated != nil {
		tmpl.GeneratedKey = generated
	}
	return tmpl, nil
}

func selectSigner(ca CA, prof *policy.Profile, requested x509.SignatureAlgorithm) (crypto.Signer, x509.SignatureAlgorithm, error) {
	signers := ca.Signers()
	if requested != x509.UnknownSignatureAlgorithm {
		if prof.AllowsSignatureAlgorithm(requested) {
			if s, ok := signers[requested]; ok {
				return s, requested, nil
			}
		}
	}
	for alg, s := range signers {
		if prof.AllowsSignatureAlgorithm(alg) {
			return s, alg, nil
		}
	}
	return nil, 0, errors.SystemFailureError("issuance: CA owns no signer whose algorithm the profile permits")
}

func checkCertLevelRules(prof *policy.Profile, req Request, caInfo policy.CAInfo) error {
	switch prof.CertLevel() {
	case core.RootCA:
		if req.Subject.String() != caInfo.Subject.String() {
			return errors.NotPermittedError("issuance: RootCA profiles may only self-sign")
		}
	case core.SubCA, core.Cross:
		parentPathLen := caInfo.PathLenConstraint
		requestedPathLen := prof.MaxPathLen()
		if parentPathLen >= 0 {
			if requestedPathLen < 0 || requestedPathLen >= parentPathLen {
				return errors.NotPermittedError(
					"issuance: subordinate CA pathLenConstraint must be strictly less than the issuing CA's (%d)", parentPathLen)
			}
		}
	}
	if req.RequestedIsCA && prof.CertLevel() == core.EndEntity {
		return errors.BadCertTemplateError("issuance: request asked for a CA certificate under an EndEntity profile")
	}
	return nil
}

func resolveNotBefore(req Request, caInfo policy.CAInfo, noNewCertAfter *time.Time, clk clock.Clock) (time.Time, error) {
	notBefore := clk.Now()
	if req.RequestedNotBefore != nil {
		notBefore = *req.RequestedNotBefore
	}

	lowerBound := clk.Now().Add(-maxBackdate)
	if caInfo.NotBefore.After(lowerBound) {
		lowerBound = caInfo.NotBefore
	}
	if notBefore.Before(lowerBound) {
		notBefore = lowerBound
	}

	if noNewCertAfter != nil && notBefore.After(*noNewCertAfter) {
		return time.Time{}, errors.NotPermittedError("issuance: requested notBefore is past the CA's configured issuance cutoff")
	}
	return notBefore, nil
}

func resolveNotAfter(prof *policy.Profile, req Request, caInfo policy.CAInfo, notBefore time.Time) (time.Time, string, error) {
	if prof.HasNoWellDefinedExpiration() {
		return noExpirationDate, "", nil
	}

	validity := prof.Validity()
	maxValidity := caInfo.NotAfter.Sub(caInfo.NotBefore)
	if maxValidity > 0 && validity > maxValidity {
		validity = maxValidity
	}

	maxNotAfter := notBefore.Add(validity)
	if maxNotAfter.After(noExpirationDate) {
		maxNotAfter = noExpirationDate
	}

	notAfter := maxNotAfter
	warning := ""
	if req.RequestedNotAfter != nil {
		if !req.RequestedNotAfter.After(maxNotAfter) {
			notAfter = *req.RequestedNotAfter
		} else {
			warning = "requested notAfter exceeded the profile's maximum validity; clamped"
		}
	}

	if notAfter.After(caInfo.NotAfter) {
		clamped, err := clampToCA(prof.NotAfterMode(), caInfo.ValidityMode, caInfo.NotAfter)
		if err != nil {
			return time.Time{}, "", err
		}
		if clamped != nil {
			notAfter = *clamped
			if warning != "" {
				warning += "; "
			}
			warning += "notAfter clamped to the issuing CA's own expiration"
		}
	}

	return notAfter, warning, nil
}

// clampToCA applies the (caMode, profileMode) table from the extension
// computation contract: strict CA modes never allow overrun, cutoff CA
// modes clamp to the CA's own notAfter unless the profile also demands
// strict (which fails outright), and lax CA modes only clamp a cutoff
// profile, letting byCA profiles keep their own computed value.
func clampToCA(profileMode core.NotAfterMode, caMode core.ValidityMode, caNotAfter time.Time) (*time.Time, error) {
	switch caMode {
	case core.ValidityStrict:
		return nil, errors.NotPermittedError("issuance: certificate notAfter would exceed the issuing CA's own notAfter")
	case core.ValidityCutoff:
		if profileMode == core.NotAfterStrict {
			return nil, errors.NotPermittedError("issuance: certificate notAfter would exceed the issuing CA's own notAfter")
		}
		return &caNotAfter, nil
	case core.ValidityLax:
		switch profileMode {
		case core.NotAfterStrict:
			return nil, errors.NotPermittedError("issuance: certificate notAfter would exceed the issuing CA's own notAfter")
		case core.NotAfterCutoff:
			return &caNotAfter, nil
		default: // byCA
			return nil, nil
		}
	}
	return nil, nil
}

func resolvePublicKey(prof *policy.Profile, req Request, gens KeypairGenerators) (interface{}, []byte, crypto.Signer, error) {
	if req.PublicKey != nil {
		return req.PublicKey, req.PublicKeyDER, nil, nil
	}

	if prof.KeypairGenMode() == policy.KeypairGenForbidden {
		return nil, nil, nil, errors.BadCertTemplateError("issuance: no public key specified")
	}

	alg, keySpec := prof.KeypairGenAlgorithm()
	if prof.KeypairGenMode() == policy.KeypairGenInheritCA && keySpec == "" {
		return nil, nil, nil, errors.SystemFailureError("issuance: keypair generation is set to inherit the CA's algorithm, but no keyspec was configured")
	}

	gen, err := gens.find(keySpec)
	if err != nil {
		return nil, nil, nil, err
	}
	priv, err := gen.Generate(keySpec)
	if err != nil {
		return nil, nil, nil, errors.SystemFailureError("issuance: generating server-side keypair: %s", err)
	}

	pub, der, err := publicKeyInfo(priv.Public(), alg)
	if err != nil {
		return nil, nil, nil, err
	}
	return pub, der, priv, nil
}

// publicKeyInfo extracts the public key and its DER SubjectPublicKeyInfo
// encoding from a freshly generated private key, by key type: RSA
// (modulus+exponent), EC (the public point), Ed25519 (raw public key
// bytes). DSA/X25519/X448 are not offered by any generator in this tree.
func publicKeyInfo(pub crypto.PublicKey, alg x509.PublicKeyAlgorithm) (interface{}, []byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, nil, errors.SystemFailureError("issuance: marshalling generated public key: %s", err)
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return pub, der, nil
	default:
		return nil, nil, errors.SystemFailureError("issuance: unsupported generated public key type for algorithm %v", alg)
	}
}
