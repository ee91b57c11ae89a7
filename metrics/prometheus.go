package metrics

import (
	"errors"

	"github.com/miekg/pkcs11"
	"github.com/prometheus/client_golang/prometheus"
)

// IssuanceMetrics holds the Prometheus counters shared across the CA
// instance, cert store, and OCSP refresh scheduler.
type IssuanceMetrics struct {
	signatureCount  *prometheus.CounterVec
	signErrorCount  *prometheus.CounterVec
	lintErrorCount  prometheus.Counter
	certificates    *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	crlsGenerated   *prometheus.CounterVec
	clockRegression prometheus.Counter
}

// NewIssuanceMetrics registers and returns the issuance-side counters.
func NewIssuanceMetrics(stats prometheus.Registerer) *IssuanceMetrics {
	signatureCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_signatures_total",
			Help: "Number of signing operations, labelled by purpose and issuer",
		},
		[]string{"purpose", "issuer"})
	stats.MustRegister(signatureCount)

	signErrorCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_signature_errors_total",
			Help: "Number of signing errors, labelled by error type",
		},
		[]string{"type"})
	stats.MustRegister(signErrorCount)

	lintErrorCount := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xipki_lint_errors_total",
			Help: "Number of issuances halted by a pre-issuance lint failure",
		})
	stats.MustRegister(lintErrorCount)

	certificates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_certificates_issued_total",
			Help: "Number of certificates issued, labelled by profile",
		},
		[]string{"profile"})
	stats.MustRegister(certificates)

	revocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_revocations_total",
			Help: "Number of revocations processed, labelled by reason",
		},
		[]string{"reason"})
	stats.MustRegister(revocations)

	crlsGenerated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_crls_generated_total",
			Help: "Number of CRLs generated, labelled by issuer",
		},
		[]string{"issuer"})
	stats.MustRegister(crlsGenerated)

	clockRegression := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xipki_clock_regressions_total",
			Help: "Number of times the id generator observed the wall clock move backward",
		})
	stats.MustRegister(clockRegression)

	return &IssuanceMetrics{
		signatureCount:  signatureCount,
		signErrorCount:  signErrorCount,
		lintErrorCount:  lintErrorCount,
		certificates:    certificates,
		revocations:     revocations,
		crlsGenerated:   crlsGenerated,
		clockRegression: clockRegression,
	}
}

// NoteSignature records a successful signing operation.
func (m *IssuanceMetrics) NoteSignature(purpose, issuer string) {
	m.signatureCount.With(prometheus.Labels{"purpose": purpose, "issuer": issuer}).Inc()
}

// NoteSignError records a signing failure, breaking out PKCS#11/HSM errors
// from everything else the way the signer pool needs to distinguish an
// HSM outage from a local bug.
func (m *IssuanceMetrics) NoteSignError(err error) {
	var pkcs11Error pkcs11.Error
	if errors.As(err, &pkcs11Error) {
		m.signErrorCount.WithLabelValues("HSM").Inc()
		return
	}
	m.signErrorCount.WithLabelValues("other").Inc()
}

// NoteLintError records that a pre-issuance lint pass rejected a template.
func (m *IssuanceMetrics) NoteLintError() {
	m.lintErrorCount.Inc()
}

// NoteCertificateIssued records a successful issuance under profile.
func (m *IssuanceMetrics) NoteCertificateIssued(profile string) {
	m.certificates.With(prometheus.Labels{"profile": profile}).Inc()
}

// NoteRevocation records a revocation under the given reason label (the
// CA instance passes the CRLReason's decimal code).
func (m *IssuanceMetrics) NoteRevocation(reason string) {
	m.revocations.With(prometheus.Labels{"reason": reason}).Inc()
}

// NoteCrlGenerated records a CRL generation for issuer.
func (m *IssuanceMetrics) NoteCrlGenerated(issuer string) {
	m.crlsGenerated.With(prometheus.Labels{"issuer": issuer}).Inc()
}

// NoteClockRegression records an id generator clock regression.
func (m *IssuanceMetrics) NoteClockRegression() {
	m.clockRegression.Inc()
}

// OCSPMetrics holds the Prometheus counters for the status engine and
// refresh scheduler.
type OCSPMetrics struct {
	requests        *prometheus.CounterVec
	issuerRefreshes *prometheus.CounterVec
	staleIndex      prometheus.Gauge
}

// NewOCSPMetrics registers and returns the OCSP-side counters.
func NewOCSPMetrics(stats prometheus.Registerer) *OCSPMetrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_ocsp_responses_total",
			Help: "Number of OCSP responses generated, labelled by cert status",
		},
		[]string{"status"})
	stats.MustRegister(requests)

	issuerRefreshes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xipki_ocsp_issuer_index_refreshes_total",
			Help: "Number of issuer index refresh cycles, labelled by outcome",
		},
		[]string{"outcome"})
	stats.MustRegister(issuerRefreshes)

	staleIndex := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xipki_ocsp_issuer_index_age_seconds",
			Help: "Age in seconds of the currently-served issuer index snapshot",
		})
	stats.MustRegister(staleIndex)

	return &OCSPMetrics{requests: requests, issuerRefreshes: issuerRefreshes, staleIndex: staleIndex}
}

// NoteResponse records an OCSP response for the given status (good,
// revoked, unknown, ignore, crl_expired).
func (m *OCSPMetrics) NoteResponse(status string) {
	m.requests.With(prometheus.Labels{"status": status}).Inc()
}

// NoteIssuerIndexRefresh records a refresh cycle outcome (fast, slow,
// error).
func (m *OCSPMetrics) NoteIssuerIndexRefresh(outcome string) {
	m.issuerRefreshes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// SetIssuerIndexAge reports the age of the served snapshot.
func (m *OCSPMetrics) SetIssuerIndexAge(seconds float64) {
	m.staleIndex.Set(seconds)
}
