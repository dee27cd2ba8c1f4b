package aggregate

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jaxxstorm/probedigest/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counts(classes []model.EquivalenceClass) map[string]int {
	out := map[string]int{}
	for _, c := range classes {
		out[c.Key] = c.Count
	}
	return out
}

func sample() []Contribution {
	return []Contribution{
		{Outcome: "2001:db8::1", ProbeID: 1, Resolver: "192.0.2.53", RTT: 10, HasRTT: true},
		{Outcome: "ERROR: SERVFAIL", ProbeID: 2, Resolver: "192.0.2.54", RTT: 30, HasRTT: true},
		{Outcome: "2001:db8::1", ProbeID: 3, Resolver: "192.0.2.53", RTT: 20, HasRTT: true},
		{Outcome: "TIMEOUT", ProbeID: 4},
		{Outcome: "2001:db8::1", ProbeID: 5, Resolver: "192.0.2.55"},
	}
}

func TestAggregateScenario(t *testing.T) {
	classes := Aggregate([]Contribution{
		{Outcome: "2001:db8::1", ProbeID: 1},
		{Outcome: "2001:db8::1", ProbeID: 2},
		{Outcome: "ERROR: SERVFAIL", ProbeID: 3},
	}, Options{})

	assert.Equal(t, map[string]int{"2001:db8::1": 2, "ERROR: SERVFAIL": 1}, counts(classes))
}

func TestAggregateOrderIndependent(t *testing.T) {
	base := sample()
	want := counts(Aggregate(base, Options{}))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Contribution(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, counts(Aggregate(shuffled, Options{})))
	}
}

func TestAggregateConservation(t *testing.T) {
	a := New(Options{})
	for _, c := range sample() {
		a.Add(c)
	}
	sum := 0
	for _, c := range a.Classes() {
		sum += c.Count
	}
	assert.Equal(t, len(sample()), sum)
	assert.Equal(t, sum, a.Total())
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, Options{}))

	summary := Summarize(Meta{MeasurementID: "1"}, New(Options{}))
	assert.True(t, summary.Empty())
	assert.NotNil(t, summary.Classes)
	assert.Equal(t, 0, summary.Outcomes)
}

func TestEmptyAnswersAreNotEmptySummary(t *testing.T) {
	a := New(Options{})
	a.Add(Contribution{Outcome: "", ProbeID: 1})
	summary := Summarize(Meta{}, a)

	assert.False(t, summary.Empty())
	require.Len(t, summary.Classes, 1)
	assert.Equal(t, "", summary.Classes[0].Key)
}

func TestMembershipFollowsInsertionOrder(t *testing.T) {
	classes := Aggregate(sample(), Options{TrackProbes: true, TrackResolvers: true})

	require.Equal(t, "2001:db8::1", classes[0].Key)
	assert.Equal(t, []int{1, 3, 5}, classes[0].Probes)
	assert.Equal(t, []string{"192.0.2.53", "192.0.2.55"}, classes[0].Resolvers)

	reversed := append([]Contribution(nil), sample()...)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	classes = Aggregate(reversed, Options{TrackProbes: true})
	assert.Equal(t, "2001:db8::1", classes[0].Key)
	assert.Equal(t, []int{5, 3, 1}, classes[0].Probes)
}

func TestAverageRTT(t *testing.T) {
	classes := Aggregate(sample(), Options{TrackRTT: true})
	byKey := map[string]model.EquivalenceClass{}
	for _, c := range classes {
		byKey[c.Key] = c
	}

	avg, ok := byKey["2001:db8::1"].AverageRTT()
	require.True(t, ok)
	assert.InDelta(t, 15.0, avg, 1e-9)

	_, ok = byKey["TIMEOUT"].AverageRTT()
	assert.False(t, ok)
}

func TestSortStableTies(t *testing.T) {
	classes := Aggregate([]Contribution{
		{Outcome: "b"}, {Outcome: "a"}, {Outcome: "c"}, {Outcome: "c"}, {Outcome: "d"},
	}, Options{})

	desc := Sort(classes, Descending)
	assert.Equal(t, []string{"c", "b", "a", "d"}, keys(desc))

	asc := Sort(classes, Ascending)
	assert.Equal(t, []string{"b", "a", "d", "c"}, keys(asc))

	assert.Equal(t, keys(desc), keys(Sort(classes, Descending)))
}

func keys(classes []model.EquivalenceClass) []string {
	out := []string{}
	for _, c := range classes {
		out = append(out, c.Key)
	}
	return out
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, Ascending, order)

	order, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, Descending, order)

	_, err = ParseOrder("sideways")
	assert.Error(t, err)
}

func TestConcurrentAdd(t *testing.T) {
	a := New(Options{TrackProbes: true})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a.Add(Contribution{Outcome: []string{"x", "y"}[id%2], ProbeID: id})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"x": 25, "y": 25}, counts(a.Classes()))
	assert.Equal(t, 50, a.Probes())
}

func TestSummarizeCarriesMeta(t *testing.T) {
	a := New(Options{})
	a.Add(Contribution{Outcome: "x", ProbeID: 1})
	a.Add(Contribution{Outcome: "x", ProbeID: 1})
	a.MarkProbe(2)
	done := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	summary := Summarize(Meta{MeasurementID: "42", Target: "example.com", Kind: "dns", ProbesRequested: 5, CompletedAt: done}, a)
	assert.Equal(t, "42", summary.MeasurementID)
	assert.Equal(t, 2, summary.ProbesReported)
	assert.Equal(t, 2, summary.Outcomes)
	assert.Equal(t, 5, summary.ProbesRequested)
	assert.Equal(t, done, summary.CompletedAt)
}
