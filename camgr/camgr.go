// Package camgr implements the CA Manager: the long-lived owner of every
// mutable registry a running instance needs (CA instances, profiles,
// publishers, requestors, keypair generators, signers, and the aliases and
// cross-links between them), the cluster master/slave lock, and
// configuration import/export.
package camgr

import (
	"context"
	"crypto"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	jose "gopkg.in/go-jose/go-jose.v2"

	validator "github.com/letsencrypt/validator/v10"

	"github.com/letsencrypt-style/xipki-core/ca"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/issuance"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/policy"
)

// State is the manager's overall system status.
type State int

const (
	Uninitialised State = iota
	Initialising
	StartedAsMaster
	StartedAsSlave
	LockFailed
	Error
)

func (s State) String() string {
	switch s {
	case Uninitialised:
		return "Uninitialised"
	case Initialising:
		return "Initialising"
	case StartedAsMaster:
		return "StartedAsMaster"
	case StartedAsSlave:
		return "StartedAsSlave"
	case LockFailed:
		return "LockFailed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Requestor is an authenticated caller: a name bound to a JWK the
// Management API verifies request signatures against.
type Requestor struct {
	Name string           `yaml:"name" validate:"required"`
	JWK  *jose.JSONWebKey `yaml:"-"`
	JWKJSON string        `yaml:"jwk" validate:"required"`
}

// Config is the persisted configuration RestartCaSystem reloads from and
// Export serializes to.
type Config struct {
	Profiles   map[string]policy.Config `yaml:"profiles"`
	Requestors map[string]Requestor     `yaml:"requestors"`
	CAAliases  map[string]string        `yaml:"caAliases"`
	CAHasProfiles map[string][]string   `yaml:"caHasProfiles"`
	CAHasPublishers map[string][]string `yaml:"caHasPublishers"`
	CAHasRequestors map[string][]string `yaml:"caHasRequestors"`
}

// Loader rebuilds the live CA instance registry from persisted
// configuration. Supplied by the caller at New time; RestartCaSystem
// invokes it.
type Loader func(Config) (map[string]*ca.Instance, error)

// ArchiveStore persists an exported configuration archive. S3Archive
// (archive.go) is the implementation this package provides.
type ArchiveStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Manager owns every mutable registry for one running instance.
type Manager struct {
	mu sync.RWMutex

	instanceID string
	store      *castore.Store
	clk        clock.Clock
	log        log.Logger
	loader     Loader
	archive    ArchiveStore
	validate   *validator.Validate
	keyPolicy  goodkey.KeyPolicy

	state State

	caInfos     map[string]*ca.Instance
	profiles    map[string]*policy.Profile
	publishers  map[string]ca.Publisher
	requestors  map[string]Requestor
	keypairGens map[string]issuance.KeypairGenerator
	signers     map[string]crypto.Signer
	caAliases   map[string]string

	caHasProfiles   map[string][]string
	caHasPublishers map[string][]string
	caHasRequestors map[string][]string

	lastRestart time.Time
}

// New builds a Manager in the Uninitialised state.
func New(instanceID string, store *castore.Store, keyPolicy goodkey.KeyPolicy, loader Loader, archive ArchiveStore, logger log.Logger, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		instanceID:      instanceID,
		store:           store,
		clk:             clk,
		log:             logger,
		loader:          loader,
		archive:         archive,
		validate:        validator.New(),
		keyPolicy:       keyPolicy,
		caInfos:         make(map[string]*ca.Instance),
		profiles:        make(map[string]*policy.Profile),
		publishers:      make(map[string]ca.Publisher),
		requestors:      make(map[string]Requestor),
		keypairGens:     make(map[string]issuance.KeypairGenerator),
		signers:         make(map[string]crypto.Signer),
		caAliases:       make(map[string]string),
		caHasProfiles:   make(map[string][]string),
		caHasPublishers: make(map[string][]string),
		caHasRequestors: make(map[string][]string),
		state:           Uninitialised,
	}
}

// State reports the manager's current status.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start attempts to acquire the cluster master lock (the LOCK system-event
// row) and transitions into StartedAsMaster or StartedAsSlave, or into
// Error if rebuilding the registries fails. A missing row, a row owned by
// this instance, or a row wiped by Unlock is (re-)locked and the instance
// starts as master; a row owned by a different instance makes it start
// as a slave. Start does not refuse to start and never sets LockFailed.
func (m *Manager) Start(conf Config) error {
	m.mu.Lock()
	m.state = Initialising
	m.mu.Unlock()

	ev, ok := m.store.GetSystemEvent(core.EventLock)
	if !ok || ev.Owner == "" || ev.Owner == m.instanceID {
		m.store.ChangeSystemEvent(core.SystemEvent{Name: core.EventLock, Owner: m.instanceID, Time: m.clk.Now()})
		if err := m.rebuild(conf); err != nil {
			m.setState(Error)
			return err
		}
		m.setState(StartedAsMaster)
		m.log.AuditInfo(fmt.Sprintf("camgr: instance %s started as master", m.instanceID))
		return nil
	}

	if err := m.rebuild(conf); err != nil {
		m.setState(Error)
		return err
	}
	m.setState(StartedAsSlave)
	m.log.AuditInfo(fmt.Sprintf("camgr: instance %s started as slave (master=%s)", m.instanceID, ev.Owner))
	return nil
}

// Unlock wipes the LOCK row. Destructive: the next instance to call Start
// after it acquires the lock and starts as master.
func (m *Manager) Unlock() {
	m.store.ChangeSystemEvent(core.SystemEvent{Name: core.EventLock, Owner: "", Time: m.clk.Now()})
}

// RestartCaSystem tears down every registry and rebuilds it from conf,
// then emits a CA_CHANGE system event so slave instances watching it
// perform their own restart.
func (m *Manager) RestartCaSystem(conf Config) error {
	if err := m.rebuild(conf); err != nil {
		m.setState(Error)
		return err
	}
	m.NotifyCaChange()
	return nil
}

func (m *Manager) rebuild(conf Config) error {
	for name, r := range conf.Requestors {
		if err := m.validate.Struct(r); err != nil {
			return errors.ProfileConfigError("camgr: requestor %q failed validation: %s", name, err)
		}
		jwk := new(jose.JSONWebKey)
		if err := jwk.UnmarshalJSON([]byte(r.JWKJSON)); err != nil {
			return errors.ProfileConfigError("camgr: requestor %q has an invalid JWK: %s", name, err)
		}
		r.JWK = jwk
		conf.Requestors[name] = r
	}

	newProfiles := make(map[string]*policy.Profile, len(conf.Profiles))
	for name, pc := range conf.Profiles {
		prof, err := policy.Initialize(pc, m.keyPolicy)
		if err != nil {
			return err
		}
		newProfiles[name] = prof
	}

	newInstances := make(map[string]*ca.Instance)
	if m.loader != nil {
		var err error
		newInstances, err = m.loader(conf)
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = newProfiles
	m.requestors = conf.Requestors
	m.caAliases = conf.CAAliases
	m.caHasProfiles = conf.CAHasProfiles
	m.caHasPublishers = conf.CAHasPublishers
	m.caHasRequestors = conf.CAHasRequestors
	m.caInfos = newInstances
	m.lastRestart = m.clk.Now()
	return nil
}

// NotifyCaChange bumps the CA_CHANGE system event's timestamp without
// reloading anything locally.
func (m *Manager) NotifyCaChange() {
	m.store.ChangeSystemEvent(core.SystemEvent{Name: core.EventCaChange, Owner: m.instanceID, Time: m.clk.Now()})
}

// LastCaChange returns the CA_CHANGE row's timestamp, used by the refresh
// scheduler's slave-mode poll.
func (m *Manager) LastCaChange() (time.Time, bool) {
	ev, ok := m.store.GetSystemEvent(core.EventCaChange)
	if !ok {
		return time.Time{}, false
	}
	return ev.Time, true
}

// LastRestart reports when this instance last rebuilt its registries.
func (m *Manager) LastRestart() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRestart
}

// CAInstance looks up a CA instance by name, resolving aliases.
func (m *Manager) CAInstance(name string) (*ca.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if real, ok := m.caAliases[name]; ok {
		name = real
	}
	inst, ok := m.caInfos[name]
	return inst, ok
}

// AllCAInstances returns a snapshot of every live CA instance, keyed by
// name, for callers (the refresh scheduler's master mode) that must
// iterate the whole registry rather than look up one name.
func (m *Manager) AllCAInstances() map[string]*ca.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*ca.Instance, len(m.caInfos))
	for name, inst := range m.caInfos {
		out[name] = inst
	}
	return out
}

// Profile looks up a profile by name.
func (m *Manager) Profile(name string) (*policy.Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[name]
	return p, ok
}

// Requestor looks up a requestor by name.
func (m *Manager) Requestor(name string) (Requestor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requestors[name]
	return r, ok
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}
