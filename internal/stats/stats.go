// Package stats is a small registry of named counters and gauges. The
// HTTP server publishes its operational counters here and the uplink
// serializes a snapshot as the cargo of a stats frame.
package stats

import (
	"math"
	"sync"
	"sync/atomic"
)

// Stat is one sampled value in a snapshot.
type Stat struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Counter is a monotonically increasing value.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Inc()          { c.v.Add(1) }
func (c *Counter) Add(n uint64)  { c.v.Add(n) }
func (c *Counter) Value() uint64 { return c.v.Load() }

// Gauge is a value that can move both ways.
type Gauge struct {
	bits atomic.Uint64
}

func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Registry holds named stats in registration order.
type Registry struct {
	mu       sync.Mutex
	order    []string
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

// Counter returns the counter registered under name, creating it on
// first use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.order = append(r.order, name)
	return c
}

// Gauge returns the gauge registered under name, creating it on first
// use.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	r.order = append(r.order, name)
	return g
}

// Snapshot returns every registered stat in registration order.
func (r *Registry) Snapshot() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stat, 0, len(r.order))
	for _, name := range r.order {
		if c, ok := r.counters[name]; ok {
			out = append(out, Stat{Name: name, Value: float64(c.Value())})
		} else if g, ok := r.gauges[name]; ok {
			out = append(out, Stat{Name: name, Value: g.Value()})
		}
	}
	return out
}
