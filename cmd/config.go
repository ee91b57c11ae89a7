package cmd

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"strings"
	"time"
)

// Config stores configuration parameters an application needs, unmarshaled
// from a single JSON file. No defaults are provided — every field an
// application reads must be set explicitly.
type Config struct {
	CA       CAServerConfig
	OCSP     OCSPResponderConfig
	Camgr    CamgrConfig
	Statsd   StatsdConfig
	Syslog   SyslogConfig
	DebugAddr string
}

// CamgrConfig configures the CA Manager shared by every command that
// owns a live registry of CA instances.
type CamgrConfig struct {
	InstanceID    string
	ArchivePath   string // S3 object key the manager's config archive lives at
	ArchiveBucket string
	ArchiveRegion string
	RedisAddr     string
	WeakKeyDir    string
	CAs           []CAInstanceConfig
}

// CAInstanceConfig names the on-disk key material and identity for one CA
// instance; camgr's Loader turns a list of these (plus the profiles named
// in the archived camgr.Config) into live ca.Instance objects.
type CAInstanceConfig struct {
	Name              string
	ID                int64
	KeyFile           string
	IssuerCertFile    string // PEM issuer certificate, used to sign OCSP responses
	Subject           string // RFC 2253 distinguished name
	NotBefore         time.Time
	NotAfter          time.Time
	PathLenConstraint int
	Profiles          []string
}

// CAServerConfig configures the ca-server command.
type CAServerConfig struct {
	DebugAddr        string
	MasterPollInterval ConfigDuration
	DeadLetterDir    string
	Master           bool
}

// OCSPResponderConfig configures the ocsp-responder command.
type OCSPResponderConfig struct {
	ListenAddress         string
	DebugAddr             string
	IndexCacheBytes       int64
	IndexRefreshInterval  ConfigDuration
	RetentionIntervalDays int
	IgnoreExpiredCrls     bool
	IgnoreNotYetValidCert bool
	IgnoreExpiredCert     bool
	InheritCaRevocation   bool
	UnknownCertIsGood     bool
}

// SyslogConfig defines the config for syslogging.
type SyslogConfig struct {
	StdoutLevel int
	SyslogLevel int
}

// StatsdConfig defines the config for Statsd.
type StatsdConfig struct {
	Server string
	Prefix string
}

// ConfigDuration is a time.Duration that also unmarshals from a JSON
// string (e.g. "30s"), since encoding/json has no native duration type.
type ConfigDuration struct {
	time.Duration
}

var ErrDurationMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigDuration")

func (d *ConfigDuration) UnmarshalJSON(b []byte) error {
	s := ""
	if err := json.Unmarshal(b, &s); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return ErrDurationMustBeString
		}
		return err
	}
	dd, err := time.ParseDuration(s)
	d.Duration = dd
	return err
}

func (d ConfigDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Duration.String() + `"`), nil
}

// ConfigSecret is a string-valued config field. It may be given directly
// in the config or, if it starts with "secret:", its value is read from
// the file named after the prefix, with trailing newlines trimmed.
type ConfigSecret string

var errSecretMustBeString = errors.New("cannot JSON unmarshal something other than a string into a ConfigSecret")

const secretPrefix = "secret:"

func (d *ConfigSecret) UnmarshalJSON(b []byte) error {
	s := ""
	if err := json.Unmarshal(b, &s); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return errSecretMustBeString
		}
		return err
	}
	if !strings.HasPrefix(s, secretPrefix) {
		*d = ConfigSecret(s)
		return nil
	}
	contents, err := ioutil.ReadFile(s[len(secretPrefix):])
	if err != nil {
		return err
	}
	*d = ConfigSecret(strings.TrimRight(string(contents), "\n"))
	return nil
}
