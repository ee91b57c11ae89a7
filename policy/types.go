// Package policy implements the certificate profile engine: parsing and
// validating a profile's configuration, deriving a granted subject from a
// requested one, enforcing public-key policy, computing the certificate's
// extension set in a stable order, and generating serial numbers.
//
// A Profile is immutable once Initialize succeeds; every exported method
// is safe for concurrent use by multiple issuance goroutines.
package policy

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
)

// KeypairGenMode controls whether and how a CA instance generates a
// server-side keypair for a request that doesn't supply a public key.
type KeypairGenMode int

const (
	KeypairGenInheritCA KeypairGenMode = iota
	KeypairGenForbidden
	KeypairGenExplicit
)

// SerialNumberMode selects how generateSerialNumber picks a serial.
type SerialNumberMode int

const (
	SerialRandom SerialNumberMode = iota
	SerialMonotonic
)

// ExtensionControl governs one extension OID: whether it's critical,
// mandatory, and fillable from the incoming request.
type ExtensionControl struct {
	OID                asn1.ObjectIdentifier
	Critical           bool
	Required           bool
	PermittedInRequest bool
}

// KeyUsageControl names one key usage bit and whether the profile insists
// on it regardless of what the request asks for.
type KeyUsageControl struct {
	Bit      x509.KeyUsage
	Required bool
}

// ExtKeyUsageControl names one extended key usage OID/well-known purpose
// and whether the profile insists on it.
type ExtKeyUsageControl struct {
	Usage    x509.ExtKeyUsage
	Required bool
}

// ValidationPolicy selects the DN construction rules a profile enforces,
// keyed by the kind of subject being validated. The rules apply to every
// profile, whatever its domain and cert level.
type ValidationPolicy int

const (
	ValidationDomain ValidationPolicy = iota
	ValidationOrganization
	ValidationIndividual
)

// SubjectSpec configures DN construction and validation for a profile.
type SubjectSpec struct {
	ValidationPolicy   ValidationPolicy
	AllowedCountries    map[string]bool // empty means "ISO-3166 table, no further restriction"
}

// ProtocolWhitelist restricts the URI schemes a profile will emit in AIA /
// CRLDP / SIA extensions.
type ProtocolWhitelist map[string]bool

// ConstantExtension is a profile-supplied extension whose value is fixed
// at configuration time: the catch-all for admission, QC-statement,
// biometric-info, GM/T 0015, and CCC style extensions this module doesn't
// otherwise model structurally.
type ConstantExtension struct {
	OID      asn1.ObjectIdentifier
	Critical bool
	Value    []byte
}

// Config is the raw, not-yet-validated profile configuration an operator
// supplies; Initialize turns it into an immutable Profile.
type Config struct {
	Name                string
	CertLevel           core.CertLevel
	CertDomain          core.CertDomain
	Validity            time.Duration
	NotAfterMode        core.NotAfterMode
	HasNoWellDefinedExpiration bool

	KeypairGen        KeypairGenMode
	KeypairGenAlg     x509.PublicKeyAlgorithm
	KeypairGenKeySpec string

	SerialNumberMode SerialNumberMode
	SerialNumberBits int

	SignatureAlgorithms []x509.SignatureAlgorithm

	ExtensionControls map[string]ExtensionControl // keyed by dotted OID string
	KeyUsages         []KeyUsageControl
	ExtKeyUsages      []ExtKeyUsageControl

	AIAProtocols   ProtocolWhitelist
	CRLDPProtocols ProtocolWhitelist
	SIAProtocols   ProtocolWhitelist

	CertificatePolicies []asn1.ObjectIdentifier
	PathLenConstraint   int // -1 means unset / unbounded
	Subject             SubjectSpec

	ConstantExtensions []ConstantExtension

	MaxPathLen int // subordinate-CA profiles only; -1 = unset
}

// SubjectInfo is getSubject's result: the granted subject, plus a
// non-fatal warning describing anything it had to adjust.
type SubjectInfo struct {
	Granted pkix.Name
	Warning string
}

// CAInfo is the subset of a CA instance's state the profile engine needs
// to compute extensions and validity: its own identity, key, and
// constraints.
type CAInfo struct {
	Subject              pkix.Name
	SubjectKeyIdentifier []byte
	IssuerAltNameDER     []byte // nil if CA has no IAN
	AIAIssuerURIs        []string
	OCSPURIs             []string
	CRLDPURIs            []string
	FreshestCRLURIs      []string
	PathLenConstraint    int // -1 = unset (MAX)
	NotBefore            time.Time
	NotAfter             time.Time
	ValidityMode         core.ValidityMode
}

// ExtensionValues is the ordered list of extensions computed for a
// certificate, in the stable order getExtensions builds them.
type ExtensionValues struct {
	Extensions []pkix.Extension
}
