// Package idgen generates 64-bit strictly-increasing identifiers, the way
// a CA instance allocates certificate and CRL ids: second-resolution
// timestamp, shard tag, and a per-second counter packed into one int64,
// monotonic within a shard and collision-free across shards by
// construction.
package idgen

import (
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/errors"
)

// epoch2010 is the generator's zero point; ids encode seconds since this
// instant rather than the Unix epoch, buying a few extra decades before
// the 40-bit second field overflows.
var epoch2010 = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	counterBits = 16
	shardBits   = 8
	maxCounter  = (1 << counterBits) - 1
	maxShard    = (1 << shardBits) - 1
)

// Generator issues ids for a single shard. A CA instance owns one per
// shard id it's configured with.
type Generator struct {
	clk clock.Clock

	mu          sync.Mutex
	shard       int64
	lastSecond  int64
	counter     int64
}

// New returns a Generator for the given shard (0..255), using clk as its
// time source so tests can inject a fake clock.
func New(clk clock.Clock, shard int64) (*Generator, error) {
	if shard < 0 || shard > maxShard {
		return nil, errors.BadRequestError("idgen: shard %d out of range [0,%d]", shard, maxShard)
	}
	return &Generator{clk: clk, shard: shard, lastSecond: -1}, nil
}

// Next returns the next id for this shard. It blocks until the next
// wall-clock second if the 16-bit per-second counter is exhausted, and
// returns a ClockRegression error if the wall clock has moved backward
// past the last second it issued ids for.
func (g *Generator) Next() (int64, error) {
	for {
		id, retry, err := g.tryNext()
		if err != nil {
			return 0, err
		}
		if !retry {
			return id, nil
		}
		next := g.clk.Now().Truncate(time.Second).Add(time.Second)
		g.clk.Sleep(next.Sub(g.clk.Now()))
	}
}

func (g *Generator) tryNext() (id int64, retryAtNextSecond bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now().UTC()
	second := int64(now.Sub(epoch2010) / time.Second)

	if second < g.lastSecond {
		return 0, false, errors.ClockRegressionError(
			"idgen: wall clock regressed from second %d to %d", g.lastSecond, second)
	}

	if second > g.lastSecond {
		g.lastSecond = second
		g.counter = 0
	} else if g.counter >= maxCounter {
		// Counter exhausted within this second; caller must wait for the
		// next tick and retry.
		return 0, true, nil
	} else {
		g.counter++
	}

	id = (second << (shardBits + counterBits)) | (g.shard << counterBits) | g.counter
	return id, false, nil
}
