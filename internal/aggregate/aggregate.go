// Package aggregate reduces per-probe canonical outcomes into counted
// equivalence classes.
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jaxxstorm/probedigest/internal/model"
)

// Contribution is one classified outcome.
type Contribution struct {
	Outcome  string
	ProbeID  int
	Resolver string
	RTT      float64
	HasRTT   bool
}

type Options struct {
	TrackProbes    bool
	TrackResolvers bool
	TrackRTT       bool
}

// Aggregator groups contributions by exact outcome equality. Add is safe for
// concurrent use; classes keep the order in which their key was first seen.
type Aggregator struct {
	opts Options

	mu        sync.Mutex
	index     map[string]int
	classes   []model.EquivalenceClass
	resolvers []map[string]struct{}
	probes    map[int]struct{}
	total     int
}

func New(opts Options) *Aggregator {
	return &Aggregator{
		opts:   opts,
		index:  map[string]int{},
		probes: map[int]struct{}{},
	}
}

func (a *Aggregator) Add(c Contribution) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[c.Outcome]
	if !ok {
		i = len(a.classes)
		a.index[c.Outcome] = i
		a.classes = append(a.classes, model.EquivalenceClass{Key: c.Outcome})
		a.resolvers = append(a.resolvers, map[string]struct{}{})
	}
	class := &a.classes[i]
	class.Count++
	if a.opts.TrackProbes {
		class.Probes = append(class.Probes, c.ProbeID)
	}
	if a.opts.TrackResolvers && c.Resolver != "" {
		if _, seen := a.resolvers[i][c.Resolver]; !seen {
			a.resolvers[i][c.Resolver] = struct{}{}
			class.Resolvers = append(class.Resolvers, c.Resolver)
		}
	}
	if a.opts.TrackRTT && c.HasRTT {
		class.RTTSum += c.RTT
		class.RTTSamples++
	}
	a.probes[c.ProbeID] = struct{}{}
	a.total++
}

// MarkProbe records a probe as having reported even if it contributed nothing.
func (a *Aggregator) MarkProbe(probeID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes[probeID] = struct{}{}
}

// Classes returns a copy of the classes in first-seen order.
func (a *Aggregator) Classes() []model.EquivalenceClass {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.EquivalenceClass, len(a.classes))
	for i, class := range a.classes {
		class.Probes = append([]int(nil), class.Probes...)
		class.Resolvers = append([]string(nil), class.Resolvers...)
		out[i] = class
	}
	return out
}

// Total is the number of contributions added, equal to the sum of class counts.
func (a *Aggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Probes is the number of distinct probes seen.
func (a *Aggregator) Probes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.probes)
}

// Aggregate is the functional form of New followed by Add for each contribution.
func Aggregate(contributions []Contribution, opts Options) []model.EquivalenceClass {
	a := New(opts)
	for _, c := range contributions {
		a.Add(c)
	}
	return a.Classes()
}

type Order string

const (
	Descending Order = "desc"
	Ascending  Order = "asc"
)

func ParseOrder(value string) (Order, error) {
	switch Order(strings.ToLower(value)) {
	case Descending, "":
		return Descending, nil
	case Ascending:
		return Ascending, nil
	default:
		return "", fmt.Errorf("unsupported sort order: %s", value)
	}
}

// Sort orders classes by count. Ties keep their relative input order.
func Sort(classes []model.EquivalenceClass, order Order) []model.EquivalenceClass {
	out := append([]model.EquivalenceClass(nil), classes...)
	sort.SliceStable(out, func(i, j int) bool {
		if order == Ascending {
			return out[i].Count < out[j].Count
		}
		return out[i].Count > out[j].Count
	})
	return out
}

type Meta struct {
	MeasurementID   string
	Target          string
	Kind            string
	ProbesRequested int
	CompletedAt     time.Time
	Order           Order
}

// Summarize freezes the aggregator state into a MeasurementSummary.
func Summarize(meta Meta, a *Aggregator) model.MeasurementSummary {
	classes := Sort(a.Classes(), meta.Order)
	if classes == nil {
		classes = []model.EquivalenceClass{}
	}
	return model.MeasurementSummary{
		MeasurementID:   meta.MeasurementID,
		Target:          meta.Target,
		Kind:            meta.Kind,
		ProbesReported:  a.Probes(),
		ProbesRequested: meta.ProbesRequested,
		Outcomes:        a.Total(),
		Classes:         classes,
		CompletedAt:     meta.CompletedAt,
	}
}
