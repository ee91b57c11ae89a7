package policy

import "encoding/asn1"

// Well-known X.509 OIDs the profile engine references directly. Most
// extension OIDs are data-driven (ExtensionControl.OID), but a handful of
// attribute-type OIDs are referenced structurally by the DN rules and are
// worth naming here.
var (
	oidSubjectKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 14}
	oidAuthorityKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 35}
	oidIssuerAltName          = asn1.ObjectIdentifier{2, 5, 29, 18}
	oidAuthorityInfoAccess    = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}
	oidCRLDistributionPoints  = asn1.ObjectIdentifier{2, 5, 29, 31}
	oidFreshestCRL            = asn1.ObjectIdentifier{2, 5, 29, 46}
	oidBasicConstraints       = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidKeyUsage               = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage            = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidOCSPNoCheck            = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 5}
	oidSubjectInfoAccess      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}
	oidCertificatePolicies    = asn1.ObjectIdentifier{2, 5, 29, 32}
	oidSubjectAltName         = asn1.ObjectIdentifier{2, 5, 29, 17}

	oidGivenName = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidSurname   = asn1.ObjectIdentifier{2, 5, 4, 4}

	oidCabForumCabf = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 1} // domain-validated
	oidCabForumOV   = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 2} // organization-validated
	oidCabForumIV   = asn1.ObjectIdentifier{2, 23, 140, 1, 2, 3} // individual-validated
)
