// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package ca implements the CA Instance: the object that actually signs,
// stores, revokes, and republishes certificates on behalf of one issuer
// identity, and generates that issuer's CRLs.
package ca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	"github.com/jmhodges/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/issuance"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
	"github.com/letsencrypt-style/xipki-core/policy"
)

var tracer = otel.Tracer("github.com/letsencrypt-style/xipki-core/ca")

// This map is used to detect signature algorithms that are no longer
// considered sufficiently strong: no MD2/MD5, no DSA, no SHA-1 outside
// RSA (kept for the long tail of still-deployed SHA1WithRSA requests).
var badSignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.UnknownSignatureAlgorithm: true,
	x509.MD2WithRSA:                true,
	x509.MD5WithRSA:                true,
	x509.DSAWithSHA1:               true,
	x509.DSAWithSHA256:             true,
	x509.ECDSAWithSHA1:             true,
}

// Publisher is notified whenever a certificate is issued, revoked, or
// removed. Issue and revoke notifications are delivered synchronously on
// the caller's goroutine; removal notifications from a new goroutine.
type Publisher interface {
	Publish(event PublishEvent)
}

// PublishEvent describes one notification handed to every registered
// Publisher.
type PublishEvent struct {
	Kind   string // "issued", "revoked", "removed"
	Record core.CertRecord
}

// Options configures a new Instance.
type Options struct {
	ID                   int64
	Info                 policy.CAInfo
	Signers              map[x509.SignatureAlgorithm]crypto.Signer
	Profiles             map[string]*policy.Profile
	KeypairGenerators    issuance.KeypairGenerators
	Store                *castore.Store
	Publishers           []Publisher
	Log                  log.Logger
	Metrics              *metrics.IssuanceMetrics
	Clk                  clock.Clock
	NoNewCertificateAfter *time.Time
}

// Instance is one CA Instance: an issuer identity, its signer pool, its
// registered profiles, and the store it issues into.
type Instance struct {
	mu sync.RWMutex

	id       int64
	info     policy.CAInfo
	signers  map[x509.SignatureAlgorithm]crypto.Signer
	profiles map[string]*policy.Profile
	keygens  issuance.KeypairGenerators

	revoked bool
	revInfo *core.RevocationInfo

	store      *castore.Store
	publishers []Publisher
	log        log.Logger
	metrics    *metrics.IssuanceMetrics
	clk        clock.Clock

	noNewCertAfter *time.Time
}

// New builds a CA Instance from opts.
func New(opts Options) (*Instance, error) {
	if len(opts.Signers) == 0 {
		return nil, errors.SystemFailureError("ca: instance %d configured with no signers", opts.ID)
	}
	for alg := range opts.Signers {
		if badSignatureAlgorithms[alg] {
			return nil, errors.SystemFailureError("ca: instance %d configured with disallowed signature algorithm %v", opts.ID, alg)
		}
	}
	clk := opts.Clk
	if clk == nil {
		clk = clock.New()
	}
	return &Instance{
		id:             opts.ID,
		info:           opts.Info,
		signers:        opts.Signers,
		profiles:       opts.Profiles,
		keygens:        opts.KeypairGenerators,
		store:          opts.Store,
		publishers:     opts.Publishers,
		log:            opts.Log,
		metrics:        opts.Metrics,
		clk:            clk,
		noNewCertAfter: opts.NoNewCertificateAfter,
	}, nil
}

// ID returns the CA's store-level identifier.
func (ca *Instance) ID() int64 {
	return ca.id
}

// Info implements issuance.CA.
func (ca *Instance) Info() policy.CAInfo {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.info
}

// Revoked implements issuance.CA.
func (ca *Instance) Revoked() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.revoked
}

// Signers implements issuance.CA.
func (ca *Instance) Signers() map[x509.SignatureAlgorithm]crypto.Signer {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.signers
}

// NoNewCertificateAfter implements issuance.CA.
func (ca *Instance) NoNewCertificateAfter() *time.Time {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.noNewCertAfter
}

// Generate runs the Granted Template Builder against req under profileName
// and signs the result. It is idempotent by (issuerId, serial): when the
// profile's serial mode is deterministic (SerialMonotonic) and a retry
// lands on the same serial as a prior successful call, the prior record is
// returned rather than re-signed.
func (ca *Instance) Generate(ctx context.Context, profileName string, req issuance.Request) (core.CertRecord, error) {
	ctx, span := tracer.Start(ctx, "ca.Generate", trace.WithAttributes(
		attribute.Int64("ca.instance_id", ca.id),
		attribute.String("ca.profile", profileName),
	))
	defer span.End()

	ca.mu.RLock()
	prof, ok := ca.profiles[profileName]
	ca.mu.RUnlock()
	if !ok {
		err := errors.UnknownCertProfileError("ca: instance %d has no profile named %q", ca.id, profileName)
		span.RecordError(err)
		return core.CertRecord{}, err
	}

	tmpl, err := issuance.Build(ca, prof, req, ca.clk, ca.keygens)
	if err != nil {
		span.RecordError(err)
		return core.CertRecord{}, err
	}

	_, signSpan := tracer.Start(ctx, "ca.sign")
	der, err := ca.sign(tmpl)
	signSpan.End()
	if err != nil {
		ca.metrics.NoteSignError(err)
		span.RecordError(err)
		return core.CertRecord{}, err
	}
	ca.metrics.NoteSignature("certificate", prof.Name())

	serial := core.SerialToString(tmpl.SerialNumber)
	record := core.CertRecord{
		IssuerID:  ca.id,
		Serial:    serial,
		Subject:   tmpl.Subject,
		NotBefore: tmpl.NotBefore,
		NotAfter:  tmpl.NotAfter,
		ProfileID: 0,
		DER:       der,
	}

	if _, err := ca.store.AddCert(record); err != nil {
		if errors.Is(err, errors.DatabaseFailure) {
			existing, loadErr := ca.store.LoadCert(ca.id, serial)
			if loadErr == nil {
				return existing, nil
			}
		}
		return core.CertRecord{}, err
	}

	ca.metrics.NoteCertificateIssued(prof.Name())
	ca.log.AuditObject("certificate-issued", record)
	ca.notify(PublishEvent{Kind: "issued", Record: record})
	return record, nil
}

// sign encodes and signs tmpl into a DER certificate.
func (ca *Instance) sign(tmpl *issuance.GrantedCertTemplate) ([]byte, error) {
	caInfo := ca.Info()
	parent := &x509.Certificate{
		Subject:      caInfo.Subject,
		SubjectKeyId: caInfo.SubjectKeyIdentifier,
	}
	cert := &x509.Certificate{
		SerialNumber:       tmpl.SerialNumber,
		Subject:            tmpl.Subject,
		NotBefore:          tmpl.NotBefore,
		NotAfter:           tmpl.NotAfter,
		PublicKey:          tmpl.PublicKey,
		SignatureAlgorithm: tmpl.SignatureAlgorithm,
		ExtraExtensions:    tmpl.Extensions,
	}
	return x509.CreateCertificate(rand.Reader, cert, parent, tmpl.PublicKey, tmpl.Signer)
}

// IssuePrecert runs the same Granted Template Builder pipeline as Generate,
// but forces the request into CT-poison mode: the signed certificate
// carries the critical poison extension (RFC 6962 §3.1) in place of
// whatever SCT-related extensions the caller asked for, and is returned
// as DER without being persisted to the Cert Store — a precertificate is
// submitted to CT logs, not served to relying parties. Callers hand the
// returned DER and the SCTs the logs send back to FinalizeWithSCTs.
func (ca *Instance) IssuePrecert(ctx context.Context, profileName string, req issuance.Request) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "ca.IssuePrecert", trace.WithAttributes(
		attribute.Int64("ca.instance_id", ca.id),
		attribute.String("ca.profile", profileName),
	))
	defer span.End()

	ca.mu.RLock()
	prof, ok := ca.profiles[profileName]
	ca.mu.RUnlock()
	if !ok {
		err := errors.UnknownCertProfileError("ca: instance %d has no profile named %q", ca.id, profileName)
		span.RecordError(err)
		return nil, err
	}

	req.IncludeCTPoison = true
	req.SCTList = nil

	tmpl, err := issuance.Build(ca, prof, req, ca.clk, ca.keygens)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	_, signSpan := tracer.Start(ctx, "ca.sign precert")
	der, err := ca.sign(tmpl)
	signSpan.End()
	if err != nil {
		ca.metrics.NoteSignError(err)
		span.RecordError(err)
		return nil, err
	}
	ca.metrics.NoteSignature("precert", prof.Name())
	return der, nil
}

// FinalizeWithSCTs signs and stores the final certificate corresponding to
// a previously-issued precertificate: it re-parses precertDER, swaps its
// CT poison extension for an SCT-list extension built from sctDER (each
// entry the TLS-encoded wire form a CT log returns), and signs the result
// with the identical serial, subject, validity, and public key the
// precertificate carried — only the poison/SCT-list extension differs.
func (ca *Instance) FinalizeWithSCTs(precertDER []byte, sctDER [][]byte) (core.CertRecord, error) {
	precert, err := x509.ParseCertificate(precertDER)
	if err != nil {
		return core.CertRecord{}, errors.BadCertTemplateError("ca: parsing precertificate: %s", err)
	}

	scts := make([]ct.SignedCertificateTimestamp, 0, len(sctDER))
	for _, raw := range sctDER {
		var sct ct.SignedCertificateTimestamp
		if _, err := cttls.Unmarshal(raw, &sct); err != nil {
			return core.CertRecord{}, errors.BadCertTemplateError("ca: unmarshalling SCT: %s", err)
		}
		scts = append(scts, sct)
	}
	sctExt, err := issuance.SCTListExtension(scts)
	if err != nil {
		return core.CertRecord{}, err
	}

	finalExts := make([]pkix.Extension, 0, len(precert.Extensions))
	for _, ext := range precert.Extensions {
		if ext.Id.Equal(issuance.CTPoisonOID) {
			continue
		}
		finalExts = append(finalExts, ext)
	}
	finalExts = append(finalExts, sctExt)

	signer, ok := ca.signerForAlgorithm(precert.SignatureAlgorithm)
	if !ok {
		return core.CertRecord{}, errors.SystemFailureError("ca: instance %d owns no signer for algorithm %v used by the precertificate", ca.id, precert.SignatureAlgorithm)
	}

	caInfo := ca.Info()
	parent := &x509.Certificate{
		Subject:      caInfo.Subject,
		SubjectKeyId: caInfo.SubjectKeyIdentifier,
	}
	cert := &x509.Certificate{
		SerialNumber:       precert.SerialNumber,
		Subject:            precert.Subject,
		NotBefore:          precert.NotBefore,
		NotAfter:           precert.NotAfter,
		PublicKey:          precert.PublicKey,
		SignatureAlgorithm: precert.SignatureAlgorithm,
		ExtraExtensions:    finalExts,
	}
	der, err := x509.CreateCertificate(rand.Reader, cert, parent, precert.PublicKey, signer)
	if err != nil {
		ca.metrics.NoteSignError(err)
		return core.CertRecord{}, err
	}
	ca.metrics.NoteSignature("certificate", "precert-finalize")

	serial := core.SerialToString(precert.SerialNumber)
	record := core.CertRecord{
		IssuerID:  ca.id,
		Serial:    serial,
		Subject:   precert.Subject,
		NotBefore: precert.NotBefore,
		NotAfter:  precert.NotAfter,
		DER:       der,
	}
	if _, err := ca.store.AddCert(record); err != nil {
		if errors.Is(err, errors.DatabaseFailure) {
			existing, loadErr := ca.store.LoadCert(ca.id, serial)
			if loadErr == nil {
				return existing, nil
			}
		}
		return core.CertRecord{}, err
	}

	ca.metrics.NoteCertificateIssued("precert-finalize")
	ca.log.AuditObject("certificate-issued", record)
	ca.notify(PublishEvent{Kind: "issued", Record: record})
	return record, nil
}

// signerForAlgorithm finds the CA's signer whose key type matches alg,
// used when finalizing a precertificate whose signature algorithm was
// chosen at IssuePrecert time and must be reused exactly.
func (ca *Instance) signerForAlgorithm(alg x509.SignatureAlgorithm) (crypto.Signer, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if s, ok := ca.signers[alg]; ok {
		return s, true
	}
	return nil, false
}

// Revoke transitions serial's revocation state. See castore.ChangeRevocation
// for the exact transition rules.
func (ca *Instance) Revoke(serial string, reason core.CrlReason, invalidityTime *time.Time) error {
	err := ca.store.ChangeRevocation(ca.id, serial, core.RevocationInfo{
		Reason:         reason,
		RevocationTime: ca.clk.Now(),
		InvalidityTime: invalidityTime,
	})
	if err != nil {
		return err
	}
	ca.metrics.NoteRevocation(fmt.Sprintf("%d", reason))
	ca.log.AuditInfo(fmt.Sprintf("certificate revoked: issuer=%d serial=%s reason=%d", ca.id, serial, reason))
	rec, loadErr := ca.store.LoadCert(ca.id, serial)
	if loadErr == nil {
		ca.notify(PublishEvent{Kind: "revoked", Record: rec})
	}
	return nil
}

// Unsuspend lifts a certificateHold.
func (ca *Instance) Unsuspend(serial string) error {
	return ca.store.Unsuspend(ca.id, serial)
}

// Remove physically deletes serial's record and notifies publishers
// asynchronously.
func (ca *Instance) Remove(serial string) error {
	rec, err := ca.store.LoadCert(ca.id, serial)
	if err != nil {
		return err
	}
	if err := ca.store.Remove(ca.id, serial); err != nil {
		return err
	}
	go ca.notify(PublishEvent{Kind: "removed", Record: rec})
	return nil
}

// PublishResult is one certificate's outcome from a PublishCerts batch.
type PublishResult struct {
	Serial string
	Err    error
}

// PublishCerts republishes every certificate under serials using threads
// concurrent workers. A single certificate's failure is reported in the
// result slice without aborting the rest of the batch.
func (ca *Instance) PublishCerts(serials []string, threads int) []PublishResult {
	if threads < 1 {
		threads = 1
	}
	jobs := make(chan string)
	results := make([]PublishResult, len(serials))

	var wg sync.WaitGroup
	var idxMu sync.Mutex
	idx := 0

	worker := func() {
		defer wg.Done()
		for serial := range jobs {
			rec, err := ca.store.LoadCert(ca.id, serial)
			if err == nil {
				ca.notify(PublishEvent{Kind: "issued", Record: rec})
			}
			idxMu.Lock()
			results[idx] = PublishResult{Serial: serial, Err: err}
			idx++
			idxMu.Unlock()
		}
	}

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go worker()
	}
	for _, s := range serials {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
	return results
}

// GenerateCrl produces a CRL for this issuer, numbered from the Cert
// Store's next CRL number, ordered by revocation time then serial.
func (ca *Instance) GenerateCrl(signer crypto.Signer, sigAlg x509.SignatureAlgorithm, onDemand bool) ([]byte, error) {
	caInfo := ca.Info()
	crlInfo, _ := ca.store.CrlInfo(ca.id)
	since := crlInfo.ThisUpdate

	revoked := ca.store.RevokedSince(ca.id, since.Add(-24*time.Hour*365*100)) // effectively "all"
	entries := make([]pkix.RevokedCertificate, 0, len(revoked))
	for _, rec := range revoked {
		serial, err := core.StringToSerial(rec.Serial)
		if err != nil {
			continue
		}
		entries = append(entries, pkix.RevokedCertificate{
			SerialNumber:   serial,
			RevocationTime: *rec.RevokedAt,
		})
	}

	number := ca.store.NextCrlNumber(ca.id)
	now := ca.clk.Now()
	template := &x509.RevocationList{
		Number:                    big.NewInt(number),
		ThisUpdate:                now,
		NextUpdate:                now.Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
		SignatureAlgorithm:        sigAlg,
	}
	parent := &x509.Certificate{Subject: caInfo.Subject, SubjectKeyId: caInfo.SubjectKeyIdentifier}

	der, err := x509.CreateRevocationList(rand.Reader, template, parent, signer)
	if err != nil {
		ca.metrics.NoteSignError(err)
		return nil, errors.CrlFailureError("ca: generating CRL for instance %d: %s", ca.id, err)
	}
	ca.metrics.NoteSignature("crl", caInfo.Subject.String())
	ca.store.SetCrlInfo(ca.id, core.CrlInfo{CrlID: ca.id, CrlNumber: number, ThisUpdate: now, NextUpdate: template.NextUpdate})
	ca.metrics.NoteCrlGenerated(caInfo.Subject.String())
	return der, nil
}

// RevokeCa marks this CA instance itself revoked; the revocation is
// inherited by every certificate it issued at OCSP lookup time.
func (ca *Instance) RevokeCa(info core.RevocationInfo) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.revoked = true
	ri := info
	ca.revInfo = &ri
	ca.log.AuditInfo(fmt.Sprintf("CA instance %d revoked: reason=%d", ca.id, info.Reason))
}

// UnrevokeCa clears a CA-level revocation.
func (ca *Instance) UnrevokeCa() {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.revoked = false
	ca.revInfo = nil
	ca.log.AuditInfo(fmt.Sprintf("CA instance %d unrevoked", ca.id))
}

// RevocationInfo returns the CA's own revocation record, if revoked.
func (ca *Instance) RevocationInfo() *core.RevocationInfo {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.revInfo
}

func (ca *Instance) notify(ev PublishEvent) {
	for _, p := range ca.publishers {
		p.Publish(ev)
	}
}
