// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package core holds the value types shared by the CA issuance core and the
// OCSP responder engine: identifiers, serials, revocation info, and the
// logical Cert Store / Issuer Index records. It deliberately carries no
// third-party dependency, the way the teacher keeps core/objects.go free of
// anything but stdlib.
package core

import (
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// CertLevel classifies a certificate profile's place in the chain.
type CertLevel int

const (
	RootCA CertLevel = iota
	SubCA
	Cross
	EndEntity
)

func (l CertLevel) String() string {
	switch l {
	case RootCA:
		return "RootCA"
	case SubCA:
		return "SubCA"
	case Cross:
		return "Cross"
	case EndEntity:
		return "EndEntity"
	default:
		return "Unknown"
	}
}

// CertDomain selects the policy regime a profile is checked against.
type CertDomain int

const (
	DomainGeneric CertDomain = iota
	DomainCABForumBR
)

// NotAfterMode controls how a profile's validity interacts with the CA's.
type NotAfterMode int

const (
	NotAfterByCA NotAfterMode = iota
	NotAfterStrict
	NotAfterCutoff
)

func (m NotAfterMode) String() string {
	switch m {
	case NotAfterByCA:
		return "byCA"
	case NotAfterStrict:
		return "strict"
	case NotAfterCutoff:
		return "cutoff"
	default:
		return "unknown"
	}
}

// ValidityMode is the CA-side counterpart of NotAfterMode: it governs how a
// CA's own notAfter clamps against what a profile computed.
type ValidityMode int

const (
	ValidityStrict ValidityMode = iota
	ValidityCutoff
	ValidityLax
)

func (m ValidityMode) String() string {
	switch m {
	case ValidityStrict:
		return "strict"
	case ValidityCutoff:
		return "cutoff"
	case ValidityLax:
		return "lax"
	default:
		return "unknown"
	}
}

// CaStatus is the lifecycle state of a CaInfo.
type CaStatus int

const (
	CaActive CaStatus = iota
	CaInactive
)

// NoWellDefinedExpiration is the RFC 5280 "no expiration date" sentinel,
// forced onto notAfter when a profile declares
// hasNoWellDefinedExpirationDate.
var NoWellDefinedExpiration = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// IdentifierType enumerates the supported subject-identifier kinds.
type IdentifierType string

const (
	IdentifierDNS IdentifierType = "dns"
	IdentifierIP  IdentifierType = "ip"
)

// Identifier is a generalized AcmeIdentifier: a typed name that profile
// validation (SAN construction, CN-in-SAN checks) operates over.
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// CrlReason mirrors the RFC 5280 CRLReason codes used throughout revocation.
type CrlReason int

const (
	ReasonUnspecified          CrlReason = 0
	ReasonKeyCompromise        CrlReason = 1
	ReasonCACompromise         CrlReason = 2
	ReasonAffiliationChanged   CrlReason = 3
	ReasonSuperseded           CrlReason = 4
	ReasonCessationOfOperation CrlReason = 5
	ReasonCertificateHold      CrlReason = 6
	ReasonRemoveFromCRL        CrlReason = 8
	ReasonPrivilegeWithdrawn   CrlReason = 9
	ReasonAACompromise         CrlReason = 10
)

// RevocationInfo is the stored revocation reason, time, and optional
// invalidity time for a revoked certificate or CA.
type RevocationInfo struct {
	Reason         CrlReason  `db:"reason"`
	RevocationTime time.Time  `db:"revocationTime"`
	InvalidityTime *time.Time `db:"invalidityTime"`
}

// NameId pairs a stable integer id with a normalized (lowercase) name, used
// for CAs, profiles, publishers, and requestors.
type NameId struct {
	ID   int64
	Name string
}

// CertRecord is a cert store row: the issued certificate plus its current
// revocation state.
type CertRecord struct {
	ID          int64
	IssuerID    int64
	Serial      string // hex, as produced by SerialToString
	Subject     pkix.Name
	NotBefore   time.Time
	NotAfter    time.Time
	Revoked     bool
	Reason      *CrlReason
	RevokedAt   *time.Time
	InvalidAt   *time.Time
	ProfileID   int64
	CertHash    []byte
	CrlID       int64
	DER         []byte
}

// IssuerEntry is an in-memory OCSP issuer index record.
type IssuerEntry struct {
	ID                   int64
	Cert                 []byte // DER
	Sha1Fingerprint      [20]byte
	EncodedHashes        map[string][]byte // algo name -> issuer-name-hash||issuer-key-hash digest material
	SubjectKeyIdentifier []byte
	NotBefore            time.Time
	RevocationInfo       *RevocationInfo
	CrlID                int64
}

// CrlInfo is the per-issuer CRL bookkeeping record: the last CRL number
// issued and its validity window.
type CrlInfo struct {
	CrlID      int64
	CrlNumber  int64
	ThisUpdate time.Time
	NextUpdate time.Time
}

// SystemEventName enumerates the well-known system_event rows. LOCK and
// CA_CHANGE are kept as separate rows rather than folded together: LOCK
// arbitrates which instance is master, CA_CHANGE notifies every instance
// (master and slaves alike) that the registries need reloading after a
// restart or a management operation.
type SystemEventName string

const (
	EventLock     SystemEventName = "LOCK"
	EventCaChange SystemEventName = "CA_CHANGE"
)

// SystemEvent is a `(name, owner, epochSeconds)` row in the system_event
// table.
type SystemEvent struct {
	Name  SystemEventName
	Owner string
	Time  time.Time
}

// SerialToString renders a certificate serial number the way the teacher's
// core.SerialToString does: lowercase hex, zero-padded to 36 digits, no
// leading "0x".
func SerialToString(serial *big.Int) string {
	return fmt.Sprintf("%036x", serial)
}

// StringToSerial is the inverse of SerialToString; it validates length and
// hex-ness the way core.ValidSerial did in the teacher.
func StringToSerial(serial string) (*big.Int, error) {
	if !ValidSerial(serial) {
		return nil, fmt.Errorf("invalid serial number %q", serial)
	}
	var out big.Int
	_, ok := out.SetString(serial, 16)
	if !ok {
		return nil, fmt.Errorf("invalid serial number %q", serial)
	}
	return &out, nil
}

// ValidSerial checks that a string is plausibly a certificate serial: a
// hex string of reasonable length. Lifted from the teacher's
// core.ValidSerial, generalized to accept the wider range of byte lengths
// the 64/96/128-bit serial modes in spec §4.B/§4.C can produce.
func ValidSerial(serial string) bool {
	if len(serial) < 2 || len(serial) > 64 {
		return false
	}
	_, err := hex.DecodeString(serial)
	return err == nil
}

// Fingerprint256Hex is a convenience formatter used across audit logging.
func Fingerprint256Hex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
