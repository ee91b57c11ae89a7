package goodkey

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/letsencrypt-style/xipki-core/errors"
)

// weakKeys stores, for each known-compromised RSA modulus, the last 10
// bytes of its SHA-1 digest, the way a database of leaked
// Debian-OpenSSL-generated keys would be distributed: full moduli would
// be too large to ship, but a 10-byte digest suffix is specific enough
// for practical purposes.
type weakKeys struct {
	suffixes map[[10]byte]struct{}
}

// addSuffix parses a hex-encoded key suffix and records it.
func (wk *weakKeys) addSuffix(hexSuffix string) error {
	b, err := hex.DecodeString(strings.TrimSpace(hexSuffix))
	if err != nil {
		return errors.BadRequestError("goodkey: invalid weak-key suffix %q: %s", hexSuffix, err)
	}
	if len(b) != 10 {
		return errors.BadRequestError("goodkey: weak-key suffix %q is %d bytes, want 10", hexSuffix, len(b))
	}
	var key [10]byte
	copy(key[:], b)
	wk.suffixes[key] = struct{}{}
	return nil
}

// Known reports whether modulus's SHA-1 hash ends in a known-weak suffix.
// Distributing full weak moduli would be impractical; the last 10 bytes
// of the hash are specific enough in practice and keep the blacklist
// small.
func (wk *weakKeys) Known(modulus []byte) bool {
	sum := sha1.Sum(modulus)
	var key [10]byte
	copy(key[:], sum[len(sum)-10:])
	_, ok := wk.suffixes[key]
	return ok
}

// loadSuffixes reads every file in dir, one hex suffix per line, ignoring
// blank lines and lines starting with '#'.
func loadSuffixes(dir string) (*weakKeys, error) {
	wk := &weakKeys{suffixes: make(map[[10]byte]struct{})}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.SystemFailureError("goodkey: reading weak-key directory %q: %s", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.SystemFailureError("goodkey: opening weak-key file %q: %s", entry.Name(), err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if err := wk.addSuffix(line); err != nil {
				f.Close()
				return nil, err
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, errors.SystemFailureError("goodkey: reading weak-key file %q: %s", entry.Name(), err)
		}
	}
	return wk, nil
}
