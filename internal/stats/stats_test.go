package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/irgordon/uplink/internal/stats"
)

func TestRegistry_CountersAndGauges(t *testing.T) {
	reg := stats.NewRegistry()

	c := reg.Counter("requests")
	c.Inc()
	c.Add(2)
	assert.Equal(t, uint64(3), c.Value())

	// Same name returns the same counter.
	reg.Counter("requests").Inc()
	assert.Equal(t, uint64(4), c.Value())

	g := reg.Gauge("load")
	g.Set(0.75)
	assert.Equal(t, 0.75, g.Value())
}

func TestRegistry_SnapshotPreservesRegistrationOrder(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Counter("b").Inc()
	reg.Gauge("a").Set(2)
	reg.Counter("c").Add(7)

	snap := reg.Snapshot()
	assert.Equal(t, []stats.Stat{
		{Name: "b", Value: 1},
		{Name: "a", Value: 2},
		{Name: "c", Value: 7},
	}, snap)
}
