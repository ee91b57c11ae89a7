package policy

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509/pkix"
	"math/big"

	"github.com/letsencrypt-style/xipki-core/errors"
)

// generateSerialNumber picks a certificate serial number according to the
// profile's configured mode. SerialRandom draws SerialNumberBits of
// cryptographically random data (top bit cleared to keep the DER INTEGER
// encoding positive and fixed-width, the way public CAs avoid ambiguous
// leading-zero encodings). SerialMonotonic derives a serial from a hash
// of the issuing CA's identity and the requested subject/key so retries
// of the same request before a DB commit don't allocate distinct serials.
func (p *Profile) generateSerialNumber(caSubject pkix.Name, caPk []byte, reqSubject pkix.Name, reqPk []byte) (*big.Int, error) {
	bits := p.conf.SerialNumberBits
	if bits <= 0 {
		bits = 160
	}

	switch p.conf.SerialNumberMode {
	case SerialMonotonic:
		h := sha256.New()
		h.Write([]byte(caSubject.String()))
		h.Write(caPk)
		h.Write([]byte(reqSubject.String()))
		h.Write(reqPk)
		sum := h.Sum(nil)
		n := new(big.Int).SetBytes(sum[:bits/8])
		n.SetBit(n, bits-1, 0) // clear the top bit: keep the DER INTEGER positive
		return n, nil
	default:
		buf := make([]byte, (bits+7)/8)
		if _, err := rand.Read(buf); err != nil {
			return nil, errors.SystemFailureError("policy: generating random serial: %s", err)
		}
		buf[0] &^= 0x80
		n := new(big.Int).SetBytes(buf)
		if n.Sign() == 0 {
			n.SetInt64(1)
		}
		return n, nil
	}
}
