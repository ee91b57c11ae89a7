package cmd

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/ioutil"
)

// LoadSignerFromFile reads a PEM-encoded private key and returns a
// crypto.Signer for it along with the signature algorithm its key type
// implies. It tries PKCS#8 first, then falls back to the SEC1 and
// PKCS#1 encodings x509.ParseECPrivateKey/ParsePKCS1PrivateKey expect.
// An HSM-backed deployment substitutes a crypto.Signer built against
// github.com/miekg/pkcs11 (see the key-ceremony tooling this stack was
// adapted from) for the file-based signer this function builds;
// ca.Options.Signers accepts either the same way.
func LoadSignerFromFile(path string) (crypto.Signer, x509.SignatureAlgorithm, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, 0, fmt.Errorf("no PEM block found in %q", path)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if ecKey, ecErr := x509.ParseECPrivateKey(block.Bytes); ecErr == nil {
			key = ecKey
		} else if rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(block.Bytes); rsaErr == nil {
			key = rsaKey
		} else {
			return nil, 0, fmt.Errorf("parsing private key in %q: %w", path, err)
		}
	}

	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		if k.Curve.Params().BitSize == 384 {
			return k, x509.ECDSAWithSHA384, nil
		}
		return k, x509.ECDSAWithSHA256, nil
	case *rsa.PrivateKey:
		return k, x509.SHA256WithRSA, nil
	default:
		return nil, 0, fmt.Errorf("unsupported key type in %q", path)
	}
}

// LoadCertFromFile reads a single PEM-encoded certificate from path.
func LoadCertFromFile(path string) (*x509.Certificate, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}
	return x509.ParseCertificate(block.Bytes)
}
