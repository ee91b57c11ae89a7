package cmd

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/ca"
	"github.com/letsencrypt-style/xipki-core/camgr"
	"github.com/letsencrypt-style/xipki-core/castore"
	"github.com/letsencrypt-style/xipki-core/goodkey"
	"github.com/letsencrypt-style/xipki-core/log"
	"github.com/letsencrypt-style/xipki-core/metrics"
	"github.com/letsencrypt-style/xipki-core/policy"
)

// NewFileKeyLoader builds a camgr.Loader that constructs one ca.Instance
// per configured CA, loading its signing key from a PEM file on disk via
// LoadSignerFromFile. Both ca-server and ocsp-responder bootstrap their
// camgr.Manager this way; the responder only ever reads the resulting
// instances' ID(), Info(), RevocationInfo() and Signers(), never issues
// through them.
func NewFileKeyLoader(cas []CAInstanceConfig, keyPolicy goodkey.KeyPolicy, store *castore.Store, logger log.Logger, clk clock.Clock, m *metrics.IssuanceMetrics) camgr.Loader {
	return func(conf camgr.Config) (map[string]*ca.Instance, error) {
		profiles := make(map[string]*policy.Profile, len(conf.Profiles))
		for name, pc := range conf.Profiles {
			prof, err := policy.Initialize(pc, keyPolicy)
			if err != nil {
				return nil, err
			}
			profiles[name] = prof
		}

		instances := make(map[string]*ca.Instance, len(cas))
		for _, c := range cas {
			signer, alg, err := LoadSignerFromFile(c.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("loading key for %q: %w", c.Name, err)
			}
			instProfiles := make(map[string]*policy.Profile, len(c.Profiles))
			for _, p := range c.Profiles {
				if prof, ok := profiles[p]; ok {
					instProfiles[p] = prof
				}
			}
			inst, err := ca.New(ca.Options{
				ID:       c.ID,
				Info:     policy.CAInfo{PathLenConstraint: c.PathLenConstraint, NotBefore: c.NotBefore, NotAfter: c.NotAfter},
				Signers:  map[x509.SignatureAlgorithm]crypto.Signer{alg: signer},
				Profiles: instProfiles,
				Store:    store,
				Log:      logger,
				Metrics:  m,
				Clk:      clk,
			})
			if err != nil {
				return nil, err
			}
			instances[c.Name] = inst
		}
		return instances, nil
	}
}
