package camgr

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"

	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/policy"
)

// S3Archive is an ArchiveStore backed by an S3-compatible bucket.
type S3Archive struct {
	Client *s3.Client
	Bucket string
}

func (a *S3Archive) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.Bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.SystemFailureError("camgr: uploading archive %q to s3://%s: %s", key, a.Bucket, err)
	}
	return nil
}

func (a *S3Archive) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := a.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, errors.SystemFailureError("camgr: fetching archive %q from s3://%s: %s", key, a.Bucket, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Export serializes the manager's requestors, CA aliases and CA
// cross-links (profile, publisher and requestor bindings) to YAML and
// stores the result under key. Profiles, publishers, signers, keypair
// generators and live CA instances are not written to the archive.
func (m *Manager) Export(ctx context.Context, key string) error {
	m.mu.RLock()
	conf := m.currentConfigLocked()
	m.mu.RUnlock()

	data, err := yaml.Marshal(conf)
	if err != nil {
		return errors.SystemFailureError("camgr: marshalling export archive: %s", err)
	}
	return m.archive.Put(ctx, key, data)
}

// Import fetches the archive stored under key and applies it. When merge
// is false the archive replaces the live configuration outright; when
// true, its entries are merged over the current one, entry by entry. On
// any failure — fetch, parse, or rebuild — the current live state is
// left untouched.
func (m *Manager) Import(ctx context.Context, key string, merge bool) error {
	data, err := m.archive.Get(ctx, key)
	if err != nil {
		return err
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return errors.ProfileConfigError("camgr: parsing import archive %q: %s", key, err)
	}

	if merge {
		m.mu.RLock()
		current := m.currentConfigLocked()
		m.mu.RUnlock()
		conf = mergeConfig(current, conf)
	}

	return m.RestartCaSystem(conf)
}

// currentConfigLocked snapshots the registries this package owns directly.
// Profile bodies aren't included: Profile doesn't expose its raw Config.
// A restart takes its profiles only from the Config it is given, so a
// Config built from this snapshot alone carries no profiles.
func (m *Manager) currentConfigLocked() Config {
	return Config{
		Requestors:      m.requestors,
		CAAliases:       m.caAliases,
		CAHasProfiles:   m.caHasProfiles,
		CAHasPublishers: m.caHasPublishers,
		CAHasRequestors: m.caHasRequestors,
	}
}

func mergeConfig(base, overlay Config) Config {
	out := base
	if overlay.Profiles != nil {
		if out.Profiles == nil {
			out.Profiles = make(map[string]policy.Config)
		}
		for k, v := range overlay.Profiles {
			out.Profiles[k] = v
		}
	}
	if overlay.Requestors != nil {
		out.Requestors = make(map[string]Requestor, len(base.Requestors)+len(overlay.Requestors))
		for k, v := range base.Requestors {
			out.Requestors[k] = v
		}
		for k, v := range overlay.Requestors {
			out.Requestors[k] = v
		}
	}
	if overlay.CAAliases != nil {
		out.CAAliases = make(map[string]string, len(base.CAAliases)+len(overlay.CAAliases))
		for k, v := range base.CAAliases {
			out.CAAliases[k] = v
		}
		for k, v := range overlay.CAAliases {
			out.CAAliases[k] = v
		}
	}
	return out
}
