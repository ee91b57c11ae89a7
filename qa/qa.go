// Package qa implements the extension checker: given an issued
// certificate, the profile that granted it, and the original request, it
// recomputes the extension set the profile engine would have produced
// and compares it bit-for-bit against what was actually signed. Used
// both as a test oracle and by a standalone QA service.
package qa

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"sort"

	zx509 "github.com/zmap/zcrypto/x509"
	"github.com/zmap/zlint/v3"
	"github.com/zmap/zlint/v3/lint"

	"github.com/letsencrypt-style/xipki-core/policy"
)

// ValidationIssue reports one mismatch or lint finding. Tag is a short
// machine-readable identifier; zlint-sourced issues are prefixed
// "zlint:" so callers can distinguish the two engines.
type ValidationIssue struct {
	Tag     string
	Message string
}

// CheckExtensions recomputes the extension set for req/grantedPublicKeyDER/ca
// under prof and compares it, extension-by-extension, against issued (the
// extensions actually present on the signed certificate). Semantics
// mirror the profile engine's own getExtensions exactly, since this is
// that same computation run a second time for comparison.
func CheckExtensions(prof *policy.Profile, req policy.ExtensionRequest, grantedPublicKeyDER []byte, ca policy.CAInfo, issued []pkix.Extension) ([]ValidationIssue, error) {
	expected, err := prof.GetExtensions(req, grantedPublicKeyDER, ca)
	if err != nil {
		return nil, fmt.Errorf("qa: recomputing extensions: %w", err)
	}

	var issues []ValidationIssue
	issues = append(issues, diffExtensions(expected.Extensions, issued)...)
	return issues, nil
}

func diffExtensions(expected, actual []pkix.Extension) []ValidationIssue {
	var issues []ValidationIssue

	byOID := func(exts []pkix.Extension) map[string]pkix.Extension {
		m := make(map[string]pkix.Extension, len(exts))
		for _, e := range exts {
			m[e.Id.String()] = e
		}
		return m
	}
	expByOID, actByOID := byOID(expected), byOID(actual)

	var oids []string
	seen := map[string]bool{}
	for oid := range expByOID {
		if !seen[oid] {
			seen[oid] = true
			oids = append(oids, oid)
		}
	}
	for oid := range actByOID {
		if !seen[oid] {
			seen[oid] = true
			oids = append(oids, oid)
		}
	}
	sort.Strings(oids)

	for _, oid := range oids {
		exp, inExp := expByOID[oid]
		act, inAct := actByOID[oid]
		switch {
		case inExp && !inAct:
			issues = append(issues, ValidationIssue{Tag: "extension-missing", Message: fmt.Sprintf("extension %s expected but absent from issued certificate", oid)})
		case !inExp && inAct:
			issues = append(issues, ValidationIssue{Tag: "extension-unexpected", Message: fmt.Sprintf("extension %s present on issued certificate but not produced by profile", oid)})
		case exp.Critical != act.Critical:
			issues = append(issues, ValidationIssue{Tag: "extension-criticality-mismatch", Message: fmt.Sprintf("extension %s: expected critical=%v, got critical=%v", oid, exp.Critical, act.Critical)})
		case !bytes.Equal(exp.Value, act.Value):
			issues = append(issues, ValidationIssue{Tag: "extension-value-mismatch", Message: fmt.Sprintf("extension %s: encoded value differs from profile-computed value", oid)})
		}
	}
	return issues
}

// curatedZlintNames is a small, deliberately narrow subset of zlint's
// full registry: the checks relevant to the kind of certificates this
// issuance core produces, rather than the web-PKI-wide BR battery zlint
// ships by default.
var curatedZlintNames = []string{
	"e_subject_common_name_not_exactly_printable_string",
	"e_ext_key_usage_without_bit_string",
	"e_ext_authority_key_identifier_missing",
	"e_ext_subject_key_identifier_missing_sub_cert",
	"e_basic_constraints_not_critical",
}

// ZlintCheck decodes certDER with zcrypto and runs it through the curated
// zlint subset, returning a second opinion alongside CheckExtensions's
// structural comparison. Findings are tagged with a "zlint:" prefix.
func ZlintCheck(certDER []byte) ([]ValidationIssue, error) {
	cert, err := zx509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("qa: zcrypto parse failed: %w", err)
	}

	registry, err := lint.GlobalRegistry().Filter(lint.FilterOptions{IncludeNames: curatedZlintNames})
	if err != nil {
		return nil, fmt.Errorf("qa: building curated zlint registry: %w", err)
	}

	result := zlint.LintCertificateEx(cert, registry)
	if result == nil {
		return nil, nil
	}

	var issues []ValidationIssue
	for name, res := range result.Results {
		if res.Status == lint.Pass || res.Status == lint.NA {
			continue
		}
		issues = append(issues, ValidationIssue{
			Tag:     "zlint:" + name,
			Message: fmt.Sprintf("zlint %s reported status %s", name, res.Status),
		})
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Tag < issues[j].Tag })
	return issues, nil
}

// ExtensionsFromDER parses an issued certificate's DER and returns its
// extension list, so callers can feed CheckExtensions without depending
// on crypto/x509 directly.
func ExtensionsFromDER(der []byte) ([]pkix.Extension, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return cert.Extensions, nil
}
