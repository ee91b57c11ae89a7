package ocsp

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/ca"
	"github.com/letsencrypt-style/xipki-core/camgr"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
)

// looper ticks tickFunc every tickDur, backing off exponentially on
// consecutive failures up to failureBackoffMax. Grounded on the
// tick-and-backoff scheduling struct the teacher uses to drive its own
// periodic background jobs.
type looper struct {
	clk                  clock.Clock
	log                  log.Logger
	name                 string
	tickDur              time.Duration
	tickFunc             func(ctx context.Context) error
	failureBackoffFactor float64
	failureBackoffMax    time.Duration
	failures             int

	stop chan struct{}
	once sync.Once
}

func (l *looper) tick(ctx context.Context) {
	tickStart := l.clk.Now()
	err := l.tickFunc(ctx)
	elapsed := l.clk.Now().Sub(tickStart)

	sleepDur := l.tickDur - elapsed
	if err != nil {
		l.log.Errf("%s: tick failed: %s", l.name, err)
		l.failures++
		sleepDur = retryBackoff(l.failures, l.tickDur, l.failureBackoffMax, l.failureBackoffFactor)
	} else if l.failures > 0 {
		l.failures = 0
	}
	if sleepDur < 0 {
		sleepDur = 0
	}
	l.clk.Sleep(sleepDur)
}

// loop runs tick forever until Stop is called.
func (l *looper) loop(ctx context.Context) {
	if l.stop == nil {
		l.stop = make(chan struct{})
	}
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		default:
			l.tick(ctx)
		}
	}
}

func (l *looper) Stop() {
	l.once.Do(func() {
		if l.stop != nil {
			close(l.stop)
		}
	})
}

// retryBackoff computes an exponentially increasing, capped delay based
// on a consecutive-failure count, with up to 20% jitter so a fleet of
// instances backing off from the same failure don't retry in lockstep.
func retryBackoff(failures int, base, max time.Duration, factor float64) time.Duration {
	backoff := float64(base)
	for i := 0; i < failures; i++ {
		backoff *= factor
	}
	d := time.Duration(backoff)
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	return d + jitter
}

// MasterScheduler drives per-CA CRL generation and cert-store
// maintenance for the instance that holds the cluster master lock.
type MasterScheduler struct {
	loop *looper
	dead *DeadLetterQueue
}

// NewMasterScheduler builds a scheduler that, every interval, walks every
// live CA instance and regenerates its CRL if the instance has a signer
// for it. Store maintenance (e.g. pruning) is left to the store itself;
// this loop's job is solely CRL freshness. dead may be nil, in which case
// a CA whose CRL regeneration keeps failing is only visible in the log.
func NewMasterScheduler(mgr *camgr.Manager, interval time.Duration, clk clock.Clock, logger log.Logger, m *metrics.IssuanceMetrics, dead *DeadLetterQueue) *MasterScheduler {
	s := &MasterScheduler{dead: dead}
	s.loop = &looper{
		clk: clk, log: logger, name: "master",
		tickDur: interval, failureBackoffFactor: 2, failureBackoffMax: 10 * time.Minute,
		tickFunc: func(ctx context.Context) error {
			var firstErr error
			for name, inst := range mgr.AllCAInstances() {
				sigAlg, signer, ok := anySigner(inst.Signers())
				if !ok {
					continue
				}
				if _, err := inst.GenerateCrl(signer, sigAlg, false); err != nil {
					logger.Errf("master scheduler: generating CRL for %q: %s", name, err)
					if s.dead != nil {
						s.dead.Push(FailedCrlJob{CAID: inst.ID(), Err: err.Error(), FailedAt: clk.Now()})
					}
					if firstErr == nil {
						firstErr = err
					}
				}
			}
			return firstErr
		},
	}
	return s
}

func (s *MasterScheduler) Run(ctx context.Context) { s.loop.loop(ctx) }
func (s *MasterScheduler) Stop()                   { s.loop.Stop() }

func anySigner(signers map[x509.SignatureAlgorithm]crypto.Signer) (x509.SignatureAlgorithm, crypto.Signer, bool) {
	for alg, s := range signers {
		return alg, s, true
	}
	return 0, nil, false
}

// SlaveScheduler polls the CA_CHANGE system event every 300s (the
// correctness backstop) and, when a Redis client is supplied, also
// subscribes to a pub/sub channel for near-real-time notification. The
// poll keeps working even if Redis is absent or down.
type SlaveScheduler struct {
	loop   *looper
	redis  *redis.Client
	mgr    *camgr.Manager
	conf   camgr.Config
	log    log.Logger
	cancel context.CancelFunc
}

const slavePollInterval = 300 * time.Second

func NewSlaveScheduler(mgr *camgr.Manager, conf camgr.Config, rdb *redis.Client, clk clock.Clock, logger log.Logger) *SlaveScheduler {
	s := &SlaveScheduler{mgr: mgr, conf: conf, redis: rdb, log: logger}
	s.loop = &looper{
		clk: clk, log: logger, name: "slave",
		tickDur: slavePollInterval, failureBackoffFactor: 2, failureBackoffMax: 30 * time.Minute,
		tickFunc: func(ctx context.Context) error {
			return s.maybeRestart(ctx)
		},
	}
	return s
}

func (s *SlaveScheduler) maybeRestart(ctx context.Context) error {
	changed, ok := s.mgr.LastCaChange()
	if !ok {
		return nil
	}
	if changed.After(s.mgr.LastRestart()) {
		return s.mgr.RestartCaSystem(s.conf)
	}
	return nil
}

// Run starts the 300s poll loop and, if a Redis client was supplied, a
// subscriber goroutine that triggers an immediate restart check on every
// CA_CHANGE publish.
func (s *SlaveScheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.redis != nil {
		go s.watchRedis(ctx)
	}
	s.loop.loop(ctx)
}

func (s *SlaveScheduler) watchRedis(ctx context.Context) {
	sub := s.redis.Subscribe(ctx, "ca_change")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := s.maybeRestart(ctx); err != nil {
				s.log.Errf("slave scheduler: redis-triggered restart failed: %s", err)
			}
		}
	}
}

func (s *SlaveScheduler) Stop() {
	s.loop.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// IssuerLoader produces a fresh issuer/CRL-info snapshot for the index
// refresher, reading from the Cert Store (or a replica database in a
// full deployment).
type IssuerLoader func() ([]core.IssuerEntry, map[int64]core.CrlInfo, error)

// IndexRefresher keeps an Index current, refreshing on a jittered
// interval (<=60s) with a fast path (revocation-only recheck) and a slow
// path (full reload + collision check). The updating flag makes a
// periodic refresh that finds another one in flight return without doing
// anything; ForceRefresh waits for any in-flight refresh to finish and
// then runs its own.
type IndexRefresher struct {
	index   *Index
	load    IssuerLoader
	clk     clock.Clock
	log     log.Logger
	metrics *metrics.OCSPMetrics

	mu            sync.Mutex
	updating      bool
	waiters       []chan struct{}
	lastFastCheck map[int64]*core.RevocationInfo

	loop *looper
}

func NewIndexRefresher(index *Index, load IssuerLoader, baseInterval time.Duration, clk clock.Clock, logger log.Logger, m *metrics.OCSPMetrics) *IndexRefresher {
	r := &IndexRefresher{index: index, load: load, clk: clk, log: logger, metrics: m, lastFastCheck: map[int64]*core.RevocationInfo{}}
	r.loop = &looper{
		clk: clk, log: logger, name: "ocsp-index",
		tickDur:              jitteredInterval(baseInterval),
		failureBackoffFactor: 2, failureBackoffMax: 5 * time.Minute,
		tickFunc: func(ctx context.Context) error {
			r.loop.tickDur = jitteredInterval(baseInterval)
			return r.refresh(false)
		},
	}
	return r
}

func jitteredInterval(base time.Duration) time.Duration {
	if base <= 0 || base > 60*time.Second {
		base = 60 * time.Second
	}
	return base - time.Duration(rand.Int63n(int64(base)))
}

func (r *IndexRefresher) Run(ctx context.Context) { r.loop.loop(ctx) }
func (r *IndexRefresher) Stop()                   { r.loop.Stop() }

// ForceRefresh waits for any in-flight refresh to complete, then performs
// its own full (slow-path) refresh.
func (r *IndexRefresher) ForceRefresh() error {
	r.mu.Lock()
	if r.updating {
		wait := make(chan struct{})
		r.waiters = append(r.waiters, wait)
		r.mu.Unlock()
		<-wait
	} else {
		r.mu.Unlock()
	}
	return r.refresh(true)
}

func (r *IndexRefresher) refresh(force bool) error {
	r.mu.Lock()
	if r.updating && !force {
		r.mu.Unlock()
		return nil
	}
	r.updating = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.updating = false
		waiters := r.waiters
		r.waiters = nil
		r.mu.Unlock()
		for _, w := range waiters {
			close(w)
		}
	}()

	issuers, crlInfos, err := r.load()
	if err != nil {
		if r.metrics != nil {
			r.metrics.NoteIssuerIndexRefresh("error")
		}
		return fmt.Errorf("ocsp: loading issuer snapshot: %w", err)
	}

	if !force && r.fastPathUnchanged(issuers) {
		if r.metrics != nil {
			r.metrics.NoteIssuerIndexRefresh("fast")
		}
		return nil
	}

	if err := r.index.SetIssuers(issuers, crlInfos); err != nil {
		if r.metrics != nil {
			r.metrics.NoteIssuerIndexRefresh("error")
		}
		return err
	}

	r.mu.Lock()
	r.lastFastCheck = make(map[int64]*core.RevocationInfo, len(issuers))
	for _, iss := range issuers {
		r.lastFastCheck[iss.ID] = iss.RevocationInfo
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.NoteIssuerIndexRefresh("slow")
		r.metrics.SetIssuerIndexAge(0)
	}
	return nil
}

// fastPathUnchanged reports whether every issuer's revocation status
// matches what was last served, meaning the slow-path reload and
// collision check can be skipped entirely.
func (r *IndexRefresher) fastPathUnchanged(issuers []core.IssuerEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lastFastCheck) != len(issuers) {
		return false
	}
	for _, iss := range issuers {
		prev, ok := r.lastFastCheck[iss.ID]
		if !ok {
			return false
		}
		if !revocationEqual(prev, iss.RevocationInfo) {
			return false
		}
	}
	return true
}

func revocationEqual(a, b *core.RevocationInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Reason == b.Reason && a.RevocationTime.Equal(b.RevocationTime)
}

// CertStoreIssuerLoader adapts a Cert Store into an IssuerLoader by
// reading its issuer records and per-CA CRL info directly, the in-process
// analogue of the replica-database read a full deployment would use.
func CertStoreIssuerLoader(store *castore.Store, instances func() map[string]*ca.Instance) IssuerLoader {
	return func() ([]core.IssuerEntry, map[int64]core.CrlInfo, error) {
		crlInfos := make(map[int64]core.CrlInfo)
		var issuers []core.IssuerEntry
		for _, inst := range instances() {
			id := inst.ID()
			info := inst.Info()
			if crl, ok := store.CrlInfo(id); ok {
				crlInfos[id] = crl
			}
			// The CA's own certificate DER isn't carried by policy.CAInfo in
			// this in-memory deployment, so the name-hash half of the
			// fingerprint is derived from the subject key identifier alone
			// rather than a full issuer certificate.
			issuers = append(issuers, core.IssuerEntry{
				ID:                   id,
				Cert:                 info.SubjectKeyIdentifier,
				SubjectKeyIdentifier: info.SubjectKeyIdentifier,
				NotBefore:            info.NotBefore,
				RevocationInfo:       inst.RevocationInfo(),
			})
		}
		return issuers, crlInfos, nil
	}
}
