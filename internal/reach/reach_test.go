package reach

import (
	"testing"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/classify"
	"github.com/jaxxstorm/probedigest/internal/model"
	"gotest.tools/v3/assert"
)

func ping(id, sent int, rtts ...float64) model.RawProbeResult {
	return model.RawProbeResult{ProbeID: id, Outcome: model.Success{Payload: model.PingPayload{Sent: sent, Received: len(rtts), RTTs: rtts}}}
}

func TestClassify(t *testing.T) {
	c := Classify(ping(1, 3, 10, 20))
	assert.Equal(t, c.Outcome, Reachable)
	assert.Assert(t, c.HasRTT)
	assert.Equal(t, c.RTT, 15.0)

	c = Classify(ping(2, 3))
	assert.Equal(t, c.Outcome, Unreachable)
	assert.Assert(t, !c.HasRTT)

	assert.Equal(t, Classify(model.RawProbeResult{ProbeID: 3, Outcome: model.Timeout{}}).Outcome, TimedOut)
	assert.Equal(t, Classify(model.RawProbeResult{ProbeID: 4, Outcome: model.TransportError{Kind: model.TransportConnect, Detail: "connect: refused"}}).Outcome,
		"TLS/CONNECT ERROR")
}

func TestFailuresMatchOtherTools(t *testing.T) {
	dnsClassifier := classify.New(classify.Policy{}, nil)
	failures := []model.RawProbeResult{
		{ProbeID: 1, Outcome: model.Timeout{}},
		{ProbeID: 2, Outcome: model.TransportError{Kind: model.TransportNetwork, Detail: "sendto: network unreachable"}},
		{ProbeID: 3, Outcome: model.TransportError{Kind: model.TransportConnect, Detail: "connect: refused"}},
		{ProbeID: 4, Outcome: model.TransportError{Kind: model.TransportUnknown, Detail: "mystery: 1"}},
		{ProbeID: 5, Outcome: model.ProtocolError{Detail: "bad json"}},
	}
	for _, result := range failures {
		want := dnsClassifier.ClassifyProbe(result)
		assert.Equal(t, len(want), 1)
		assert.Equal(t, Classify(result).Outcome, want[0].Outcome)
	}
}

func TestRawDetailsDoNotSplitClasses(t *testing.T) {
	contributions := []aggregate.Contribution{
		Classify(model.RawProbeResult{ProbeID: 1, Outcome: model.TransportError{Kind: model.TransportNetwork, Detail: "sendto: network unreachable"}}),
		Classify(model.RawProbeResult{ProbeID: 2, Outcome: model.TransportError{Kind: model.TransportNetwork, Detail: "socket: permission denied"}}),
	}
	classes := aggregate.Aggregate(contributions, aggregate.Options{})
	assert.Equal(t, len(classes), 1)
	assert.Equal(t, classes[0].Key, classify.OutcomeNetworkProblem)
	assert.Equal(t, classes[0].Count, 2)
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]model.RawProbeResult{
		ping(1, 3, 10, 20, 30),
		ping(2, 3),
		ping(3, 2, 5),
		{ProbeID: 4, Outcome: model.Timeout{}},
	})

	assert.Equal(t, stats.Probes, 4)
	assert.Equal(t, stats.Successes, 2)
	assert.Equal(t, stats.Failures, 2)
	assert.Equal(t, stats.Sent, 8)
	assert.Equal(t, stats.Received, 4)
	assert.Equal(t, stats.Loss, 0.5)
	assert.Equal(t, stats.MinRTT, 5.0)
	assert.Equal(t, stats.MaxRTT, 30.0)
	assert.Equal(t, stats.MeanRTT, 16.25)
}

func TestSummarizeWithoutReplies(t *testing.T) {
	stats := Summarize([]model.RawProbeResult{ping(1, 3)})
	assert.Equal(t, stats.RTTSamples, 0)
	assert.Equal(t, stats.MinRTT, 0.0)
	assert.Equal(t, stats.MeanRTT, 0.0)
}
