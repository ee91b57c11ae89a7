// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package core

import (
	"crypto"
	"crypto/x509"
)

// Signer is the abstract signing collaborator: low-level cryptographic
// primitives (RSA/ECDSA/Ed25519 signing) are assumed available through it,
// whether backed by a software key, a PKCS#11 token, or a remote KMS. It is
// a superset of crypto.Signer with the bit of metadata a CA instance needs
// to pick a signer for a given profile.
type Signer interface {
	crypto.Signer

	// Algorithm reports the X.509 signature algorithm this Signer produces,
	// so a CA instance can match it against a profile's allowed list.
	Algorithm() x509.SignatureAlgorithm

	// Name identifies the signer for audit logging and metrics labels.
	Name() string
}

// Hasher is the abstract hashing collaborator used for certificate-hash
// extensions, SKI derivation, and OCSP name/key hashes.
type Hasher interface {
	// Sum returns the digest of data.
	Sum(data []byte) []byte
	// OID identifies the hash algorithm (e.g. SHA-256) for encoding
	// contexts that need to name it (AlgorithmIdentifier, the cert store's
	// certhash_algo column).
	OID() string
}
