// Package castore implements the Cert Store: the logical `cert`, `crl`,
// `crl_info`, and `system_event` tables, and the transition/serialization
// rules a CA instance and CA manager need from them. Each exported
// operation is the atomic boundary described for this store — one
// operation, one lock acquisition — the way the teacher's storage layer
// makes one gorp transaction its unit of atomicity.
package castore

import (
	"sort"
	"sync"
	"time"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
)

// ListFilter narrows ListCerts to one issuer and, optionally, one
// revocation state.
type ListFilter struct {
	IssuerID int64
	Revoked  *bool
}

// OrderBy selects the sort key ListCerts uses.
type OrderBy int

const (
	OrderBySerial OrderBy = iota
	OrderByNotBefore
)

// Store is an in-process Cert Store: per-CA serialization for serial and
// CRL-number allocation, independent per-certificate operations otherwise.
// A production deployment backs this with a relational database; this
// type implements the same operation contract in memory, which is all any
// caller in this tree observes through Store's methods.
type Store struct {
	mu sync.Mutex

	certs      map[int64]map[string]*core.CertRecord // issuerID -> serial -> record
	crlInfos   map[int64]*core.CrlInfo                // issuerID -> info
	nextCrlNum map[int64]int64
	events     map[core.SystemEventName]core.SystemEvent
	nextRowID  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		certs:      make(map[int64]map[string]*core.CertRecord),
		crlInfos:   make(map[int64]*core.CrlInfo),
		nextCrlNum: make(map[int64]int64),
		events:     make(map[core.SystemEventName]core.SystemEvent),
	}
}

// AddCert inserts record, enforcing the unique (issuerId, serial)
// constraint.
func (s *Store) AddCert(record core.CertRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIssuer, ok := s.certs[record.IssuerID]
	if !ok {
		byIssuer = make(map[string]*core.CertRecord)
		s.certs[record.IssuerID] = byIssuer
	}
	if _, exists := byIssuer[record.Serial]; exists {
		return 0, errors.DatabaseFailureError("castore: certificate (issuer %d, serial %s) already exists", record.IssuerID, record.Serial)
	}

	s.nextRowID++
	rec := record
	rec.ID = s.nextRowID
	byIssuer[record.Serial] = &rec
	return rec.ID, nil
}

// ChangeRevocation transitions a certificate's revocation state, enforcing
// the good→revoked, hold→unsuspend, and hold→revoked(other reason)
// transitions; revoking with removeFromCRL from any state but hold is
// rejected, and unsuspending a certificate that isn't on hold is rejected.
func (s *Store) ChangeRevocation(issuerID int64, serial string, newState core.RevocationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupLocked(issuerID, serial)
	if err != nil {
		return err
	}

	onHold := rec.Revoked && rec.Reason != nil && *rec.Reason == core.ReasonCertificateHold

	switch {
	case newState.Reason == core.ReasonRemoveFromCRL:
		if !onHold {
			return errors.NotPermittedError("castore: removeFromCRL is only permitted from certificateHold, serial %s", serial)
		}
		rec.Revoked = false
		rec.Reason = nil
		rec.RevokedAt = nil
		rec.InvalidAt = nil
		return nil
	case rec.Revoked && !onHold:
		return errors.NotPermittedError("castore: certificate %s is already revoked", serial)
	default:
		reason := newState.Reason
		rec.Revoked = true
		rec.Reason = &reason
		when := newState.RevocationTime
		rec.RevokedAt = &when
		rec.InvalidAt = newState.InvalidityTime
		return nil
	}
}

// Unsuspend is ChangeRevocation's removeFromCRL shorthand for moving a
// certificate on hold back to good.
func (s *Store) Unsuspend(issuerID int64, serial string) error {
	return s.ChangeRevocation(issuerID, serial, core.RevocationInfo{Reason: core.ReasonRemoveFromCRL})
}

// Remove physically deletes a certificate row.
func (s *Store) Remove(issuerID int64, serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIssuer, ok := s.certs[issuerID]
	if !ok {
		return errors.NotFoundError("castore: no such issuer %d", issuerID)
	}
	if _, ok := byIssuer[serial]; !ok {
		return errors.NotFoundError("castore: no certificate with serial %s under issuer %d", serial, issuerID)
	}
	delete(byIssuer, serial)
	return nil
}

// NextCrlNumber reserves and commits the next CRL number for caID.
func (s *Store) NextCrlNumber(caID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCrlNum[caID]++
	return s.nextCrlNum[caID]
}

// ListCerts returns the certificates matching filter, ordered by orderBy,
// capped at limit (0 means unlimited).
func (s *Store) ListCerts(filter ListFilter, orderBy OrderBy, limit int) []core.CertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIssuer := s.certs[filter.IssuerID]
	out := make([]core.CertRecord, 0, len(byIssuer))
	for _, rec := range byIssuer {
		if filter.Revoked != nil && rec.Revoked != *filter.Revoked {
			continue
		}
		out = append(out, *rec)
	}

	switch orderBy {
	case OrderByNotBefore:
		sort.Slice(out, func(i, j int) bool { return out[i].NotBefore.Before(out[j].NotBefore) })
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// LoadCert loads one certificate by (issuerID, serial).
func (s *Store) LoadCert(issuerID int64, serial string) (core.CertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.lookupLocked(issuerID, serial)
	if err != nil {
		return core.CertRecord{}, err
	}
	return *rec, nil
}

func (s *Store) lookupLocked(issuerID int64, serial string) (*core.CertRecord, error) {
	byIssuer, ok := s.certs[issuerID]
	if !ok {
		return nil, errors.NotFoundError("castore: no such issuer %d", issuerID)
	}
	rec, ok := byIssuer[serial]
	if !ok {
		return nil, errors.NotFoundError("castore: no certificate with serial %s under issuer %d", serial, issuerID)
	}
	return rec, nil
}

// SetCrlInfo records the CRL bookkeeping for an issuer after a CRL has
// been generated.
func (s *Store) SetCrlInfo(issuerID int64, info core.CrlInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := info
	s.crlInfos[issuerID] = &i
}

// CrlInfo returns the current CRL bookkeeping for an issuer, if any.
func (s *Store) CrlInfo(issuerID int64) (core.CrlInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.crlInfos[issuerID]
	if !ok {
		return core.CrlInfo{}, false
	}
	return *info, true
}

// GetSystemEvent returns the current row for name, if any.
func (s *Store) GetSystemEvent(name core.SystemEventName) (core.SystemEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[name]
	return ev, ok
}

// ChangeSystemEvent upserts a row. Used by the CA manager's master lock
// (LOCK) and restart notification (CA_CHANGE).
func (s *Store) ChangeSystemEvent(ev core.SystemEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.Name] = ev
}

// RevokedSince returns the certificates under issuerID revoked at or after
// since, ordered by revocation time then serial — the order GenerateCrl
// needs.
func (s *Store) RevokedSince(issuerID int64, since time.Time) []core.CertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIssuer := s.certs[issuerID]
	out := make([]core.CertRecord, 0)
	for _, rec := range byIssuer {
		if !rec.Revoked || rec.RevokedAt == nil || rec.RevokedAt.Before(since) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevokedAt.Equal(*out[j].RevokedAt) {
			return out[i].Serial < out[j].Serial
		}
		return out[i].RevokedAt.Before(*out[j].RevokedAt)
	})
	return out
}
