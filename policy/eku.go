package policy

import "encoding/asn1"

// The subset of RFC 5280 / x509.ExtKeyUsage purposes the profile engine
// needs to name directly, for the criticality auto-flip rule in step 8.
// Values mirror crypto/x509.ExtKeyUsage so callers can pass that type's
// constants straight through ExtensionRequest.RequestedExtKeyUsage.
const (
	ekuAny             = 0
	ekuServerAuth      = 1
	ekuClientAuth      = 2
	ekuCodeSigning     = 3
	ekuEmailProtection = 4
	ekuTimeStamping    = 8
	ekuOCSPSigning     = 9
)

var ekuOIDs = map[int]asn1.ObjectIdentifier{
	ekuAny:             {2, 5, 29, 37, 0},
	ekuServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	ekuClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	ekuCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	ekuEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	ekuTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	ekuOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}
