package ocsp

import (
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/crypto/ocsp"

	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/metrics"
)

// StatusKind classifies the outcome of a status lookup.
type StatusKind int

const (
	StatusGood StatusKind = iota
	StatusRevoked
	StatusUnknown
	StatusIgnore
	StatusCrlExpired
)

func (k StatusKind) String() string {
	switch k {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	case StatusIgnore:
		return "ignore"
	case StatusCrlExpired:
		return "crl_expired"
	default:
		return "unknown"
	}
}

// UnknownCertBehaviour controls step 11's inheritance test for a missing
// or filtered-out certificate record.
type UnknownCertBehaviour int

const (
	UnknownCertIsUnknown UnknownCertBehaviour = iota
	UnknownCertIsGood
)

// Policy bundles the per-request toggles the status engine's filters and
// inheritance rule depend on.
type Policy struct {
	IgnoreExpiredCrls    bool
	IgnoreNotYetValidCert bool
	IgnoreExpiredCert    bool
	IncludeCertHash      bool
	IncludeRIT           bool
	InheritCaRevocation  bool
	UnknownCertBehaviour UnknownCertBehaviour
	// RetentionIntervalDays configures archiveCutoff (step 10); negative
	// means "use the CA's own notBefore" per the spec's contract.
	RetentionIntervalDays int
}

// Status is the resolved answer to a (reqIssuer, serial) lookup.
type Status struct {
	Kind           StatusKind
	Reason         core.CrlReason
	RevocationTime time.Time
	InvalidityTime *time.Time
	CertHash       []byte
	ArchiveCutoff  *time.Time
}

// Engine resolves (issuer-fingerprint, serial) -> Status, consulting the
// Issuer Index for issuer/CRL metadata and the Cert Store for the
// per-certificate record.
type Engine struct {
	index   *Index
	store   *castore.Store
	clk     clock.Clock
	metrics *metrics.OCSPMetrics
}

func NewEngine(index *Index, store *castore.Store, clk clock.Clock, m *metrics.OCSPMetrics) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{index: index, store: store, clk: clk, metrics: m}
}

// GetCertStatus resolves the status of serial under issuerID, applying
// the configured policy's filters and CA-revocation inheritance. A nil
// *Status with a nil error means "not this responder's issuer" — the
// caller should treat the request as someone else's responsibility.
func (e *Engine) GetCertStatus(issuerID int64, serial string, p Policy) (result *Status, err error) {
	if e.metrics != nil {
		defer func() {
			if result != nil {
				e.metrics.NoteResponse(result.Kind.String())
			}
		}()
	}

	// Step 1: reject non-positive serials.
	serialInt, err := core.StringToSerial(serial)
	if err != nil || serialInt.Sign() <= 0 {
		return &Status{Kind: StatusUnknown}, nil
	}

	// Step 2: issuer miss -> nil, nil ("not my responsibility").
	if !e.index.KnowsIssuer(issuerID) {
		return nil, nil
	}

	now := e.clk.Now()

	// Step 3: CRL staleness check.
	if crlInfo, ok := e.index.CrlInfo(issuerID); ok && p.IgnoreExpiredCrls {
		if crlInfo.NextUpdate.Before(now.Add(5 * time.Minute)) {
			return &Status{Kind: StatusCrlExpired}, nil
		}
	}

	// Step 4-5: Cert Store lookup.
	rec, err := e.store.LoadCert(issuerID, serial)
	if err != nil {
		return &Status{Kind: StatusUnknown}, nil
	}

	// Step 6: not-yet-valid / expired filters.
	var resolved Status
	switch {
	case p.IgnoreNotYetValidCert && now.Before(rec.NotBefore):
		resolved = Status{Kind: StatusIgnore}
	case p.IgnoreExpiredCert && now.After(rec.NotAfter):
		resolved = Status{Kind: StatusIgnore}
	case rec.Revoked:
		// Step 7: revoked.
		resolved = Status{
			Kind:           StatusRevoked,
			Reason:         valueOrZero(rec.Reason),
			RevocationTime: valueOrZeroTime(rec.RevokedAt),
			InvalidityTime: rec.InvalidAt,
		}
	default:
		// Step 8: good.
		resolved = Status{Kind: StatusGood}
	}

	// Step 9: attach cert hash.
	if p.IncludeCertHash && len(rec.CertHash) > 0 {
		resolved.CertHash = rec.CertHash
	}

	// Step 10: archive cutoff.
	if issuer, ok := e.index.IssuerByID(issuerID); ok {
		resolved.ArchiveCutoff = archiveCutoff(p, *issuer, now)
	}

	// Step 11: CA-revocation inheritance.
	return e.applyCaInheritance(issuerID, resolved, p), nil
}

func valueOrZero(r *core.CrlReason) core.CrlReason {
	if r == nil {
		return 0
	}
	return *r
}

func valueOrZeroTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func archiveCutoff(p Policy, issuer core.IssuerEntry, now time.Time) *time.Time {
	if p.RetentionIntervalDays < 0 {
		t := issuer.NotBefore
		return &t
	}
	cutoff := now.Add(-time.Duration(p.RetentionIntervalDays) * 24 * time.Hour)
	if issuer.NotBefore.Before(cutoff) {
		return &issuer.NotBefore
	}
	return &cutoff
}

// ResponseTemplate narrows a Status down to the fields a wire encoder
// needs to build a signed OCSP response (core.OCSPSigner, or equivalent),
// translating from this engine's internal kinds to the RFC 6960 status
// codes golang.org/x/crypto/ocsp expects.
type ResponseTemplate struct {
	Status           int
	RevokedAt        time.Time
	RevocationReason int
}

// wireStatus maps a StatusKind to the ocsp.Response status codes a signer
// hands to ocsp.CreateResponse. CrlExpired and Ignore have no wire
// representation of their own; callers that see them should not sign and
// serve a response at all (the equivalent of step 3/6 telling the
// responder to treat the request as unanswerable rather than Unknown).
func (k StatusKind) wireStatus() int {
	switch k {
	case StatusGood:
		return ocsp.Good
	case StatusRevoked:
		return ocsp.Revoked
	default:
		return ocsp.Unknown
	}
}

// ToResponseTemplate converts a resolved Status into the minimal set of
// fields a signer needs to call ocsp.CreateResponse, reusing
// golang.org/x/crypto/ocsp's status/reason constants as the wire-level
// hand-off boundary rather than re-deriving RFC 6960's numbering.
func (s *Status) ToResponseTemplate() ResponseTemplate {
	return ResponseTemplate{
		Status:           s.Kind.wireStatus(),
		RevokedAt:        s.RevocationTime,
		RevocationReason: int(s.Reason),
	}
}

// applyCaInheritance implements the step-11 table: a status that is Good,
// an Unknown/Ignore treated as good by policy, or a Revoked status whose
// revocation predates the CA's own revocation all get replaced by the
// CA's own revocation record.
func (e *Engine) applyCaInheritance(issuerID int64, underlying Status, p Policy) *Status {
	if !p.InheritCaRevocation {
		return &underlying
	}

	issuer, ok := e.index.IssuerByID(issuerID)
	if !ok || issuer.RevocationInfo == nil {
		return &underlying
	}
	caRev := issuer.RevocationInfo

	replace := false
	switch underlying.Kind {
	case StatusGood:
		replace = true
	case StatusUnknown, StatusIgnore:
		replace = p.UnknownCertBehaviour == UnknownCertIsGood
	case StatusRevoked:
		replace = underlying.RevocationTime.Before(caRev.RevocationTime)
	}
	if !replace {
		return &underlying
	}

	// The replacement is the CA's own revocation record under reason
	// caCompromise; a CA revoked for caCompromise has its record reused
	// unchanged.
	return &Status{
		Kind:           StatusRevoked,
		Reason:         core.ReasonCACompromise,
		RevocationTime: caRev.RevocationTime,
		InvalidityTime: caRev.InvalidityTime,
		CertHash:       underlying.CertHash,
		ArchiveCutoff:  underlying.ArchiveCutoff,
	}
}

