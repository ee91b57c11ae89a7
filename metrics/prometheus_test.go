package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/letsencrypt-style/xipki-core/test"
)

func TestIssuanceMetricsRegisterWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIssuanceMetrics(reg)
	test.AssertNotNil(t, m, "NewIssuanceMetrics returned nil")

	m.NoteSignature("leaf", "issuer-1")
	m.NoteLintError()
	m.NoteCertificateIssued("server-tls")
	m.NoteRevocation("keyCompromise")
	m.NoteCrlGenerated("issuer-1")
	m.NoteClockRegression()
}

func TestOCSPMetricsRegisterWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOCSPMetrics(reg)
	test.AssertNotNil(t, m, "NewOCSPMetrics returned nil")

	m.NoteResponse("good")
	m.NoteIssuerIndexRefresh("ok")
	m.SetIssuerIndexAge(1.5)
}
