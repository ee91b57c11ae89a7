// Command ocsp-responder answers OCSP requests over HTTP: it resolves
// each request's status from the Cert Store through the OCSP Status
// Engine and the Issuer Index, then signs a response directly against
// the issuing CA's own signer — there is no separate delegated
// responder certificate in this deployment.
package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/ocsp"
	"gopkg.in/yaml.v3"

	"github.com/letsencrypt-style/xipki-core/ca"
	"github.com/letsencrypt-style/xipki-core/camgr"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/cmd"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
	xocsp "github.com/letsencrypt-style/xipki-core/ocsp"
)

func main() {
	configFile := flag.String("config", "", "path to the JSON application config")
	bootstrapFile := flag.String("bootstrap", "", "path to the YAML camgr.Config to start from")
	flag.Parse()
	if *configFile == "" || *bootstrapFile == "" {
		fmt.Fprintln(os.Stderr, "usage: ocsp-responder -config <file> -bootstrap <file>")
		os.Exit(1)
	}

	var conf cmd.Config
	cmd.FailOnError(cmd.ReadConfigFile(*configFile, &conf), "reading config")
	_, logger := cmd.StatsAndLogging(conf.Syslog)

	bootstrapData, err := ioutil.ReadFile(*bootstrapFile)
	cmd.FailOnError(err, "reading bootstrap archive")
	var bootstrap camgr.Config
	cmd.FailOnError(yaml.Unmarshal(bootstrapData, &bootstrap), "parsing bootstrap archive")

	keyPolicy, err := goodkey.NewKeyPolicy(conf.Camgr.WeakKeyDir)
	cmd.FailOnError(err, "building key policy")

	store := castore.New()
	clk := clock.New()
	issuanceMetrics := metrics.NewIssuanceMetrics(prometheus.DefaultRegisterer)
	ocspMetrics := metrics.NewOCSPMetrics(prometheus.DefaultRegisterer)

	issuerCerts := make(map[int64]*x509.Certificate, len(conf.Camgr.CAs))
	for _, c := range conf.Camgr.CAs {
		cert, err := cmd.LoadCertFromFile(c.IssuerCertFile)
		cmd.FailOnError(err, fmt.Sprintf("loading issuer certificate for %q", c.Name))
		issuerCerts[c.ID] = cert
	}

	loader := cmd.NewFileKeyLoader(conf.Camgr.CAs, keyPolicy, store, logger, clk, issuanceMetrics)
	mgr := camgr.New(conf.Camgr.InstanceID, store, keyPolicy, loader, nil, logger, clk)
	cmd.FailOnError(mgr.Start(bootstrap), "starting camgr")

	index := xocsp.NewIndex(conf.OCSP.IndexCacheBytes)
	refresher := xocsp.NewIndexRefresher(
		index,
		xocsp.CertStoreIssuerLoader(store, mgr.AllCAInstances),
		conf.OCSP.IndexRefreshInterval.Duration,
		clk,
		logger,
		ocspMetrics,
	)
	cmd.FailOnError(refresher.ForceRefresh(), "priming issuer index")

	engine := xocsp.NewEngine(index, store, clk, ocspMetrics)
	respPolicy := xocsp.Policy{
		IgnoreExpiredCrls:     conf.OCSP.IgnoreExpiredCrls,
		IgnoreNotYetValidCert: conf.OCSP.IgnoreNotYetValidCert,
		IgnoreExpiredCert:     conf.OCSP.IgnoreExpiredCert,
		InheritCaRevocation:   conf.OCSP.InheritCaRevocation,
		RetentionIntervalDays: conf.OCSP.RetentionIntervalDays,
	}
	if conf.OCSP.UnknownCertIsGood {
		respPolicy.UnknownCertBehaviour = xocsp.UnknownCertIsGood
	}

	if conf.OCSP.DebugAddr != "" {
		go cmd.DebugServer(conf.OCSP.DebugAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refresher.Run(ctx)
	defer refresher.Stop()

	handler := &responderHandler{
		index:       index,
		engine:      engine,
		policy:      respPolicy,
		issuerCerts: issuerCerts,
		instances:   mgr.AllCAInstances,
		clk:         clk,
		logger:      logger,
	}
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	logger.AuditInfo(fmt.Sprintf("ocsp-responder: listening on %s", conf.OCSP.ListenAddress))

	go func() {
		cmd.FailOnError(http.ListenAndServe(conf.OCSP.ListenAddress, mux), "serving OCSP")
	}()
	cmd.CatchSignals(logger, cancel)
}

// responderHandler answers OCSP HTTP requests (GET with a base64 path
// segment, or POST with a raw body — both forms RFC 6960 §A.1 allows).
type responderHandler struct {
	index       *xocsp.Index
	engine      *xocsp.Engine
	policy      xocsp.Policy
	issuerCerts map[int64]*x509.Certificate
	instances   func() map[string]*ca.Instance
	clk         clock.Clock
	logger      log.Logger
}

var hashAlgorithmNames = map[crypto.Hash]string{
	crypto.SHA1:   "sha1",
	crypto.SHA256: "sha256",
}

// defaultResponseValidity bounds how long a signed OCSP response is
// valid for before a client must re-query; chosen well inside the five
// minute staleness window the status engine's own CRL check uses.
const defaultResponseValidity = 4 * time.Minute

func (h *responderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readRequestBody(r)
	if err != nil {
		http.Error(w, "malformed OCSP request", http.StatusBadRequest)
		return
	}

	req, err := ocsp.ParseRequest(body)
	if err != nil {
		http.Error(w, "malformed OCSP request", http.StatusBadRequest)
		return
	}

	algoName, ok := hashAlgorithmNames[req.HashAlgorithm]
	if !ok {
		http.Error(w, "unsupported hash algorithm", http.StatusBadRequest)
		return
	}

	issuer, ok := h.index.GetIssuerForFp(algoName, req.IssuerNameHash, req.IssuerKeyHash)
	if !ok {
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(ocspUnauthorizedResponse)
		return
	}

	serial := core.SerialToString(req.SerialNumber)
	status, err := h.engine.GetCertStatus(issuer.ID, serial, h.policy)
	if err != nil || status == nil {
		h.logger.Errf("ocsp-responder: resolving status for serial %s: %s", serial, err)
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(ocspUnauthorizedResponse)
		return
	}

	issuerCert, ok := h.issuerCerts[issuer.ID]
	if !ok {
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(ocspUnauthorizedResponse)
		return
	}
	signer, ok := h.signerFor(issuer.ID)
	if !ok {
		w.Header().Set("Content-Type", "application/ocsp-response")
		w.Write(ocspUnauthorizedResponse)
		return
	}

	tmpl := status.ToResponseTemplate()
	now := h.clk.Now()
	resp, err := ocsp.CreateResponse(issuerCert, issuerCert, ocsp.Response{
		SerialNumber:     req.SerialNumber,
		Status:           tmpl.Status,
		RevokedAt:        tmpl.RevokedAt,
		RevocationReason: tmpl.RevocationReason,
		ThisUpdate:       now,
		NextUpdate:       now.Add(defaultResponseValidity),
	}, signer)
	if err != nil {
		h.logger.Errf("ocsp-responder: signing response for serial %s: %s", serial, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/ocsp-response")
	w.Write(resp)
}

// signerFor finds the live ca.Instance backing issuer id and returns the
// first signer its Signers() map yields (any one of them, if it has
// several). The manager's instances are keyed by name, not ID, so this
// is a linear scan like the one Index.IssuerByID does.
func (h *responderHandler) signerFor(id int64) (crypto.Signer, bool) {
	for _, inst := range h.instances() {
		if inst.ID() != id {
			continue
		}
		for _, signer := range inst.Signers() {
			return signer, true
		}
	}
	return nil, false
}

// readRequestBody accepts either a POST body or a GET request whose path
// carries the base64-encoded DER request, per RFC 6960 appendix A.
func readRequestBody(r *http.Request) ([]byte, error) {
	if r.Method == http.MethodPost {
		defer r.Body.Close()
		return ioutil.ReadAll(r.Body)
	}
	encoded := strings.TrimPrefix(r.URL.Path, "/")
	return base64.StdEncoding.DecodeString(encoded)
}

// ocspUnauthorizedResponse is the DER encoding of a bare OCSP
// "unauthorized" response status, the canned reply for requests this
// responder has no issuer or status material for.
var ocspUnauthorizedResponse = []byte{0x30, 0x03, 0x0a, 0x01, 0x06}
