package goodkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/test"
)

func TestGoodRSAKeyAccepted(t *testing.T) {
	kp, err := NewKeyPolicy("")
	test.AssertNotError(t, err, "NewKeyPolicy failed")

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	test.AssertNotError(t, err, "rsa.GenerateKey failed")

	test.AssertNotError(t, kp.GoodKey(&priv.PublicKey), "expected a good 2048-bit RSA key to pass")
}

func TestUndersizedRSAKeyRejected(t *testing.T) {
	kp, err := NewKeyPolicy("")
	test.AssertNotError(t, err, "NewKeyPolicy failed")

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "rsa.GenerateKey failed")

	err = kp.GoodKey(&priv.PublicKey)
	test.AssertError(t, err, "expected a 1024-bit RSA key to be rejected")
	test.Assert(t, errors.Is(err, errors.BadCertTemplate), "expected BadCertTemplate error type")
}

func TestGoodECDSAKeyAccepted(t *testing.T) {
	kp, err := NewKeyPolicy("")
	test.AssertNotError(t, err, "NewKeyPolicy failed")

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	test.AssertNotError(t, err, "ecdsa.GenerateKey failed")

	test.AssertNotError(t, kp.GoodKey(&priv.PublicKey), "expected a P-256 ECDSA key to pass")
}

func TestDisallowedCurveRejected(t *testing.T) {
	kp, err := NewKeyPolicy("")
	test.AssertNotError(t, err, "NewKeyPolicy failed")
	kp.ECDSACurves = []elliptic.Curve{elliptic.P256()}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	test.AssertNotError(t, err, "ecdsa.GenerateKey failed")

	err = kp.GoodKey(&priv.PublicKey)
	test.AssertError(t, err, "expected P-384 to be rejected when only P-256 is allowed")
}

func TestGoodSignatureAlgorithm(t *testing.T) {
	test.AssertNotError(t, GoodSignatureAlgorithm(x509.SHA256WithRSA), "SHA256WithRSA should be allowed")
}
