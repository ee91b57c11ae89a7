package policy

import (
	"crypto/sha1"
	"crypto/x509/pkix"
	"encoding/asn1"
	"net"
	"net/url"
	"strings"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
)

// ExtensionRequest is the caller-supplied input getExtensions composes
// against: requested extension bytes by OID, plus the handful of derived
// values (SAN DNS/IP names, requested path length, requested key usages)
// the extension rules need directly instead of having to re-parse a CSR.
type ExtensionRequest struct {
	RequestedExtensions map[string][]byte // dotted OID -> DER value
	SubjectKeyId        []byte            // from request, if supplied
	DNSNames            []string
	IPAddresses         []net.IP
	RequestedIsCA       bool
	RequestedPathLen    int // -1 = not requested
	RequestedKeyUsage   int // x509.KeyUsage bitmask, 0 if not requested
	RequestedExtKeyUsage []int // x509.ExtKeyUsage values
	RequestOCSPNoCheck  bool
}

// getExtensions computes the certificate's extension set in the stable
// 12-step order the wire encoding contract requires: identical inputs
// must produce byte-identical output (invariant 5).
func (p *Profile) getExtensions(
	req ExtensionRequest,
	grantedPublicKeyDER []byte,
	ca CAInfo,
) (ExtensionValues, error) {
	var exts []pkix.Extension

	// 1. SubjectKeyIdentifier
	ski, err := p.buildSKI(req, grantedPublicKeyDER)
	if err != nil {
		return ExtensionValues{}, err
	}
	if ski != nil {
		exts = append(exts, *ski)
	} else if p.requiredExt(oidSubjectKeyIdentifier) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension subjectKeyIdentifier")
	}

	// 2. AuthorityKeyIdentifier
	aki := p.buildAKI(ca)
	if aki != nil {
		exts = append(exts, *aki)
	} else if p.requiredExt(oidAuthorityKeyIdentifier) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension authorityKeyIdentifier")
	}

	// 3. IssuerAltName
	if p.requiredExt(oidIssuerAltName) || p.controlFor(oidIssuerAltName) != nil {
		if len(ca.IssuerAltNameDER) > 0 {
			exts = append(exts, pkix.Extension{Id: oidIssuerAltName, Value: ca.IssuerAltNameDER})
		} else if p.requiredExt(oidIssuerAltName) {
			return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension issuerAltName")
		}
	}

	// 4. AuthorityInfoAccess
	if aia := p.buildAIA(ca); aia != nil {
		exts = append(exts, *aia)
	} else if p.requiredExt(oidAuthorityInfoAccess) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension authorityInfoAccess")
	}

	// 5. CRLDistributionPoints / FreshestCRL
	if cdp := p.buildCRLDP(ca); cdp != nil {
		exts = append(exts, *cdp)
	} else if p.requiredExt(oidCRLDistributionPoints) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension cRLDistributionPoints")
	}
	if fc := p.buildFreshestCRL(ca); fc != nil {
		exts = append(exts, *fc)
	}

	// 6. BasicConstraints
	bc, err := p.buildBasicConstraints(req, ca)
	if err != nil {
		return ExtensionValues{}, err
	}
	exts = append(exts, *bc)

	// 7. KeyUsage
	ku, err := p.buildKeyUsage(req)
	if err != nil {
		return ExtensionValues{}, err
	}
	if ku != nil {
		exts = append(exts, *ku)
	} else if p.requiredExt(oidKeyUsage) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension keyUsage")
	}

	// 8. ExtendedKeyUsage
	eku := p.buildExtKeyUsage(req)
	if eku != nil {
		exts = append(exts, *eku)
	} else if p.requiredExt(oidExtKeyUsage) {
		return ExtensionValues{}, errors.ProfileConfigError("policy: could not add required extension extKeyUsage")
	}

	// 9. OCSP-nocheck
	if req.RequestOCSPNoCheck {
		exts = append(exts, pkix.Extension{Id: oidOCSPNoCheck, Value: asn1NullValue})
	}

	// 10. SubjectInfoAccess
	if sia := p.buildSIA(req); sia != nil {
		exts = append(exts, *sia)
	}

	// 11. CertificatePolicies
	if cp := p.buildCertificatePolicies(); cp != nil {
		exts = append(exts, *cp)
	}

	// 12+. Profile-provided constant extensions, in configured order.
	for _, ce := range p.conf.ConstantExtensions {
		exts = append(exts, pkix.Extension{Id: ce.OID, Critical: ce.Critical, Value: ce.Value})
	}

	return ExtensionValues{Extensions: exts}, nil
}

var asn1NullValue = []byte{0x05, 0x00}

func (p *Profile) controlFor(oid asn1.ObjectIdentifier) *ExtensionControl {
	c, ok := p.conf.ExtensionControls[oid.String()]
	if !ok {
		return nil
	}
	return &c
}

func (p *Profile) requiredExt(oid asn1.ObjectIdentifier) bool {
	c := p.controlFor(oid)
	return c != nil && c.Required
}

func (p *Profile) criticalFor(oid asn1.ObjectIdentifier, deflt bool) bool {
	if c := p.controlFor(oid); c != nil {
		return c.Critical
	}
	return deflt
}

// buildSKI implements step 1: use the request's SKI if supplied and the
// profile permits it in-request, else derive one from the granted public
// key: the SHA-1 of grantedPublicKeyDER as passed in (the whole encoded
// SubjectPublicKeyInfo, not only its key BIT STRING).
func (p *Profile) buildSKI(req ExtensionRequest, grantedPublicKeyDER []byte) (*pkix.Extension, error) {
	c := p.controlFor(oidSubjectKeyIdentifier)
	if c == nil {
		return nil, nil
	}
	var ski []byte
	if len(req.SubjectKeyId) > 0 && c.PermittedInRequest {
		ski = req.SubjectKeyId
	} else {
		sum := sha1.Sum(grantedPublicKeyDER)
		ski = sum[:]
	}
	val, err := asn1.Marshal(ski)
	if err != nil {
		return nil, errors.SystemFailureError("policy: encoding subjectKeyIdentifier: %s", err)
	}
	return &pkix.Extension{Id: oidSubjectKeyIdentifier, Critical: c.Critical, Value: val}, nil
}

// akiValue mirrors the RFC 5280 AuthorityKeyIdentifier SEQUENCE, with the
// fields this profile engine populates.
type akiValue struct {
	KeyIdentifier []byte `asn1:"optional,tag:0"`
}

// buildAKI implements step 2: always the CA's SKI.
func (p *Profile) buildAKI(ca CAInfo) *pkix.Extension {
	c := p.controlFor(oidAuthorityKeyIdentifier)
	if c == nil || len(ca.SubjectKeyIdentifier) == 0 {
		return nil
	}
	val, err := asn1.Marshal(akiValue{KeyIdentifier: ca.SubjectKeyIdentifier})
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidAuthorityKeyIdentifier, Critical: c.Critical, Value: val}
}

type accessDescription struct {
	Method   asn1.ObjectIdentifier
	Location asn1.RawValue
}

var (
	oidAdCAIssuers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 2}
	oidAdOCSP      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1}
)

func uriGeneralName(uri string) asn1.RawValue {
	return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 6, Bytes: []byte(uri)}
}

func filterProtocols(uris []string, allowed ProtocolWhitelist) []string {
	if len(allowed) == 0 {
		return uris
	}
	var out []string
	for _, u := range uris {
		parsed, err := url.Parse(u)
		if err != nil {
			continue
		}
		if allowed[strings.ToLower(parsed.Scheme)] {
			out = append(out, u)
		}
	}
	return out
}

// buildAIA implements step 4: caIssuers/ocsp URIs from the CA, filtered
// by the profile's protocol whitelist; an empty result omits the
// extension entirely rather than emitting an empty SEQUENCE.
func (p *Profile) buildAIA(ca CAInfo) *pkix.Extension {
	c := p.controlFor(oidAuthorityInfoAccess)
	if c == nil {
		return nil
	}
	var descs []accessDescription
	for _, u := range filterProtocols(ca.AIAIssuerURIs, p.conf.AIAProtocols) {
		descs = append(descs, accessDescription{Method: oidAdCAIssuers, Location: uriGeneralName(u)})
	}
	for _, u := range filterProtocols(ca.OCSPURIs, p.conf.AIAProtocols) {
		descs = append(descs, accessDescription{Method: oidAdOCSP, Location: uriGeneralName(u)})
	}
	if len(descs) == 0 {
		return nil
	}
	val, err := asn1.Marshal(descs)
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidAuthorityInfoAccess, Critical: c.Critical, Value: val}
}

type distributionPoint struct {
	DistributionPoint distributionPointName `asn1:"optional,tag:0"`
}

type distributionPointName struct {
	FullName []asn1.RawValue `asn1:"optional,tag:0"`
}

func buildCRLDPValue(uris []string) ([]byte, error) {
	var points []distributionPoint
	for _, u := range uris {
		points = append(points, distributionPoint{
			DistributionPoint: distributionPointName{FullName: []asn1.RawValue{uriGeneralName(u)}},
		})
	}
	return asn1.Marshal(points)
}

// buildCRLDP implements half of step 5: CRL distribution points from the
// CA's URIs, protocol-filtered.
func (p *Profile) buildCRLDP(ca CAInfo) *pkix.Extension {
	c := p.controlFor(oidCRLDistributionPoints)
	if c == nil {
		return nil
	}
	uris := filterProtocols(ca.CRLDPURIs, p.conf.CRLDPProtocols)
	if len(uris) == 0 {
		return nil
	}
	val, err := buildCRLDPValue(uris)
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidCRLDistributionPoints, Critical: c.Critical, Value: val}
}

// buildFreshestCRL implements the other half of step 5.
func (p *Profile) buildFreshestCRL(ca CAInfo) *pkix.Extension {
	c := p.controlFor(oidFreshestCRL)
	if c == nil {
		return nil
	}
	uris := filterProtocols(ca.FreshestCRLURIs, p.conf.CRLDPProtocols)
	if len(uris) == 0 {
		return nil
	}
	val, err := buildCRLDPValue(uris)
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidFreshestCRL, Critical: c.Critical, Value: val}
}

type basicConstraintsValue struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// buildBasicConstraints implements step 6: EndEntity profiles are never
// CA; CA-level profiles carry pathLen = min(profile, request, CA-parent).
// A request asking for CA=true under an EndEntity profile is rejected.
func (p *Profile) buildBasicConstraints(req ExtensionRequest, ca CAInfo) (*pkix.Extension, error) {
	isCA := p.conf.CertLevel != core.EndEntity
	if !isCA {
		if req.RequestedIsCA {
			return nil, errors.BadCertTemplateError("policy: request asks for a CA certificate under an EndEntity profile")
		}
		val, err := asn1.Marshal(basicConstraintsValue{IsCA: false})
		if err != nil {
			return nil, errors.SystemFailureError("policy: encoding basicConstraints: %s", err)
		}
		return &pkix.Extension{Id: oidBasicConstraints, Critical: p.criticalFor(oidBasicConstraints, true), Value: val}, nil
	}

	pathLen := p.conf.PathLenConstraint
	if req.RequestedPathLen >= 0 && (pathLen < 0 || req.RequestedPathLen < pathLen) {
		pathLen = req.RequestedPathLen
	}
	if ca.PathLenConstraint >= 0 && (pathLen < 0 || ca.PathLenConstraint-1 < pathLen) {
		pathLen = ca.PathLenConstraint - 1
	}
	if pathLen < 0 {
		pathLen = -1
	}

	val, err := asn1.Marshal(basicConstraintsValue{IsCA: true, MaxPathLen: pathLen})
	if err != nil {
		return nil, errors.SystemFailureError("policy: encoding basicConstraints: %s", err)
	}
	return &pkix.Extension{Id: oidBasicConstraints, Critical: p.criticalFor(oidBasicConstraints, true), Value: val}, nil
}

// buildKeyUsage implements step 7: the union of profile-required bits and
// request-supplied bits, when the control permits the latter; a request
// bit the profile doesn't recognize at all is a conflict.
func (p *Profile) buildKeyUsage(req ExtensionRequest) (*pkix.Extension, error) {
	c := p.controlFor(oidKeyUsage)
	if c == nil {
		return nil, nil
	}

	var bits int
	allowed := 0
	for _, ku := range p.conf.KeyUsages {
		allowed |= int(ku.Bit)
		if ku.Required {
			bits |= int(ku.Bit)
		}
	}
	if c.PermittedInRequest && req.RequestedKeyUsage != 0 {
		if req.RequestedKeyUsage&^allowed != 0 {
			return nil, errors.BadCertTemplateError("policy: requested key usage bits not permitted by profile")
		}
		bits |= req.RequestedKeyUsage
	}
	if bits == 0 {
		return nil, nil
	}

	val, err := marshalBitString(bits)
	if err != nil {
		return nil, errors.SystemFailureError("policy: encoding keyUsage: %s", err)
	}
	return &pkix.Extension{Id: oidKeyUsage, Critical: c.Critical, Value: val}, nil
}

func marshalBitString(bits int) ([]byte, error) {
	// x509 key usage bits are numbered MSB-first within the first byte;
	// encoding/asn1 handles the bit-string padding calculation.
	var b byte
	var highest int
	for i := 0; i < 9; i++ {
		if bits&(1<<uint(i)) != 0 {
			b |= 1 << uint(7-i)
			highest = i
		}
	}
	unused := 7 - highest
	if unused < 0 {
		unused = 0
	}
	return asn1.Marshal(asn1.BitString{Bytes: []byte{b}, BitLength: 8 - unused})
}

// buildExtKeyUsage implements step 8: union of profile-required and
// request-supplied EKUs, with the criticality auto-flip rule:
// anyExtendedKeyUsage forces non-critical, timeStamping forces critical.
func (p *Profile) buildExtKeyUsage(req ExtensionRequest) *pkix.Extension {
	c := p.controlFor(oidExtKeyUsage)
	if c == nil {
		return nil
	}

	seen := map[int]bool{}
	var oids []asn1.ObjectIdentifier
	add := func(eku int) {
		if !seen[eku] {
			seen[eku] = true
			if oid, ok := ekuOIDs[eku]; ok {
				oids = append(oids, oid)
			}
		}
	}
	for _, e := range p.conf.ExtKeyUsages {
		if e.Required {
			add(int(e.Usage))
		}
	}
	if c.PermittedInRequest {
		for _, e := range req.RequestedExtKeyUsage {
			add(e)
		}
	}
	if len(oids) == 0 {
		return nil
	}

	critical := c.Critical
	if seen[int(ekuAny)] {
		critical = false
	}
	if seen[int(ekuTimeStamping)] {
		critical = true
	}

	val, err := asn1.Marshal(oids)
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidExtKeyUsage, Critical: critical, Value: val}
}

// buildSIA implements step 10: when the profile permits SIA in-request,
// the request's subject info access value is copied verbatim. Its access
// descriptions are not parsed or filtered; SIAProtocols is not applied.
func (p *Profile) buildSIA(req ExtensionRequest) *pkix.Extension {
	c := p.controlFor(oidSubjectInfoAccess)
	if c == nil || !c.PermittedInRequest {
		return nil
	}
	raw, ok := req.RequestedExtensions[oidSubjectInfoAccess.String()]
	if !ok || len(raw) == 0 {
		return nil
	}
	return &pkix.Extension{Id: oidSubjectInfoAccess, Critical: c.Critical, Value: raw}
}

// buildCertificatePolicies implements step 11: the profile's configured
// policy OIDs, each as a bare PolicyInformation with no qualifiers.
func (p *Profile) buildCertificatePolicies() *pkix.Extension {
	c := p.controlFor(oidCertificatePolicies)
	if c == nil || len(p.conf.CertificatePolicies) == 0 {
		return nil
	}
	type policyInformation struct {
		PolicyIdentifier asn1.ObjectIdentifier
	}
	var policies []policyInformation
	for _, oid := range p.conf.CertificatePolicies {
		policies = append(policies, policyInformation{PolicyIdentifier: oid})
	}
	val, err := asn1.Marshal(policies)
	if err != nil {
		return nil
	}
	return &pkix.Extension{Id: oidCertificatePolicies, Critical: c.Critical, Value: val}
}
