package policy

import (
	"crypto/x509/pkix"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
)

// getSubject normalises requestedSubject against the profile's subject
// spec, returning the granted DN and, if the request asked for something
// the profile had to adjust, a non-fatal warning describing the drift.
func (p *Profile) getSubject(requestedSubject pkix.Name) (SubjectInfo, error) {
	granted := requestedSubject
	var warning string

	if err := p.checkDNRules(granted); err != nil {
		return SubjectInfo{}, err
	}

	if len(granted.Country) > 0 {
		for _, c := range granted.Country {
			if !validCountryCode(c) {
				return SubjectInfo{}, errors.BadCertTemplateError("policy: invalid country code %q", c)
			}
			if allowed := p.conf.Subject.AllowedCountries; len(allowed) > 0 && !allowed[strings.ToUpper(c)] {
				return SubjectInfo{}, errors.BadCertTemplateError("policy: country code %q not permitted by profile", c)
			}
		}
	}

	return SubjectInfo{Granted: granted, Warning: warning}, nil
}

// checkDNRules enforces the domain/organization/individual validation
// policy: whether O, givenName/surname, and the locality-ish fields
// (street, locality, ST, postalCode, C) are required or forbidden,
// depending on which validation policy the profile's subject spec names.
func (p *Profile) checkDNRules(dn pkix.Name) error {
	hasOrg := len(dn.Organization) > 0
	hasPersonalName := hasGivenNameOrSurname(dn)

	switch p.conf.Subject.ValidationPolicy {
	case ValidationDomain:
		// Domain-validated: O, personal name, and locality-ish fields are
		// all forbidden — a DV certificate identifies a domain, not an
		// entity or a place.
		if hasOrg {
			return errors.BadCertTemplateError("policy: domain-validated profile forbids an Organization field")
		}
		if hasPersonalName {
			return errors.BadCertTemplateError("policy: domain-validated profile forbids givenName/surname")
		}
		if hasLocalityFields(dn) {
			return errors.BadCertTemplateError("policy: domain-validated profile forbids street/locality/state/postalCode/country")
		}
	case ValidationOrganization:
		// Organization-validated: O is required; personal name forbidden;
		// locality-ish fields required once O is present.
		if !hasOrg {
			return errors.BadCertTemplateError("policy: organization-validated profile requires an Organization field")
		}
		if hasPersonalName {
			return errors.BadCertTemplateError("policy: organization-validated profile forbids givenName/surname")
		}
		if !hasLocalityFields(dn) {
			return errors.BadCertTemplateError("policy: organization-validated profile requires locality/state/country information")
		}
	case ValidationIndividual:
		// Individual-validated: givenName/surname required; O forbidden;
		// locality-ish fields required once the personal name is present.
		if !hasPersonalName {
			return errors.BadCertTemplateError("policy: individual-validated profile requires givenName/surname")
		}
		if hasOrg {
			return errors.BadCertTemplateError("policy: individual-validated profile forbids an Organization field")
		}
		if !hasLocalityFields(dn) {
			return errors.BadCertTemplateError("policy: individual-validated profile requires locality/state/country information")
		}
	}
	return nil
}

func hasGivenNameOrSurname(dn pkix.Name) bool {
	for _, atv := range dn.Names {
		if atv.Type.Equal(oidGivenName) || atv.Type.Equal(oidSurname) {
			return true
		}
	}
	for _, atv := range dn.ExtraNames {
		if atv.Type.Equal(oidGivenName) || atv.Type.Equal(oidSurname) {
			return true
		}
	}
	return false
}

func hasLocalityFields(dn pkix.Name) bool {
	return len(dn.StreetAddress) > 0 || len(dn.Locality) > 0 ||
		len(dn.Province) > 0 || len(dn.PostalCode) > 0 || len(dn.Country) > 0
}

func validCountryCode(code string) bool {
	code = strings.ToUpper(code)
	if len(code) != 2 {
		return false
	}
	_, ok := iso3166Alpha2[code]
	return ok
}

// checkCNInSAN enforces invariant 3: under CA/B BR, a present CN must
// appear in SAN as a DNSName or a (possibly expanded) IP literal.
func checkCNInSAN(dn pkix.Name, dnsNames []string, ips []string) error {
	if dn.CommonName == "" {
		return nil
	}
	for _, n := range dnsNames {
		if strings.EqualFold(n, dn.CommonName) {
			return nil
		}
	}
	for _, ip := range ips {
		if ip == dn.CommonName {
			return nil
		}
	}
	return errors.BadCertTemplateError("policy: commonName %q does not appear in subjectAltName", dn.CommonName)
}

// ValidateEndEntityConstraints enforces the rules that apply after the
// full extension set has been composed for a CA/B BR EndEntity
// certificate: CN must appear in SAN, DNS names must not contain
// underscores, and every DNS name must fall under a public suffix.
func (p *Profile) ValidateEndEntityConstraints(dn pkix.Name, dnsNames []string, ips []string) error {
	if p.conf.CertDomain != core.DomainCABForumBR || p.conf.CertLevel != core.EndEntity {
		return nil
	}

	if err := checkCNInSAN(dn, dnsNames, ips); err != nil {
		return err
	}

	for _, name := range dnsNames {
		if strings.Contains(name, "_") {
			return errors.BadCertTemplateError("policy: dNSName %q contains an underscore, not permitted under CA/B BR", name)
		}
		if _, err := publicsuffix.Parse(strings.ToLower(name)); err != nil {
			return errors.BadCertTemplateError("policy: dNSName %q is not a public domain", name)
		}
	}
	return nil
}
