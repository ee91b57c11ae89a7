package idgen

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/letsencrypt-style/xipki-core/errors"
	"github.com/letsencrypt-style/xipki-core/test"
)

func TestMonotonicWithinSecond(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(epoch2010)
	g, err := New(clk, 3)
	test.AssertNotError(t, err, "New failed")

	var last int64 = -1
	for i := 0; i < 100; i++ {
		id, err := g.Next()
		test.AssertNotError(t, err, "Next failed")
		test.Assert(t, id > last, "ids must strictly increase")
		last = id
	}
}

func TestShardsNeverCollide(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(epoch2010)
	g1, _ := New(clk, 1)
	g2, _ := New(clk, 2)

	id1, err := g1.Next()
	test.AssertNotError(t, err, "g1.Next failed")
	id2, err := g2.Next()
	test.AssertNotError(t, err, "g2.Next failed")
	test.AssertNotEquals(t, id1, id2)
}

func TestRejectsOutOfRangeShard(t *testing.T) {
	clk := clock.NewFake()
	_, err := New(clk, maxShard+1)
	test.AssertError(t, err, "expected shard-range error")
	test.Assert(t, errors.Is(err, errors.BadRequest), "expected BadRequest error type")
}

func TestClockRegressionDetected(t *testing.T) {
	clk := clock.NewFake()
	clk.Set(epoch2010.Add(1000 * time.Second))
	g, _ := New(clk, 0)
	_, err := g.Next()
	test.AssertNotError(t, err, "first Next should succeed")

	clk.Set(epoch2010)
	_, err = g.Next()
	test.AssertError(t, err, "expected clock regression error")
	test.Assert(t, errors.Is(err, errors.ClockRegression), "expected ClockRegression error type")
}
