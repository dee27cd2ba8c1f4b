// Package reach classifies ping results as reachable or not.
package reach

import (
	"math"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/classify"
	"github.com/jaxxstorm/probedigest/internal/model"
)

const (
	Reachable   = "REACHABLE"
	Unreachable = "UNREACHABLE"
	TimedOut    = classify.OutcomeTimeout
)

// Classify maps one ping result to a contribution. The RTT is the mean of the
// replies the probe received.
func Classify(result model.RawProbeResult) aggregate.Contribution {
	c := aggregate.Contribution{ProbeID: result.ProbeID}
	if label, failed := classify.ProbeFailure(result); failed {
		c.Outcome = label
		return c
	}
	success := result.Outcome.(model.Success)
	payload, ok := success.Payload.(model.PingPayload)
	if !ok {
		c.Outcome = classify.UnexpectedPayload(success.Payload)
		return c
	}
	if payload.Received == 0 && len(payload.RTTs) == 0 {
		c.Outcome = Unreachable
		return c
	}
	c.Outcome = Reachable
	if len(payload.RTTs) > 0 {
		c.RTT, c.HasRTT = mean(payload.RTTs), true
	}
	return c
}

type Stats = model.PingStats

// Summarize computes packet-level statistics across all ping results. RTT
// fields stay zero when no reply was received.
func Summarize(results []model.RawProbeResult) Stats {
	stats := Stats{MinRTT: math.Inf(1), MaxRTT: math.Inf(-1)}
	sum := 0.0
	for _, result := range results {
		stats.Probes++
		success, ok := result.Outcome.(model.Success)
		if !ok {
			stats.Failures++
			continue
		}
		payload, ok := success.Payload.(model.PingPayload)
		if !ok {
			stats.Failures++
			continue
		}
		stats.Sent += payload.Sent
		stats.Received += payload.Received
		if payload.Received > 0 || len(payload.RTTs) > 0 {
			stats.Successes++
		} else {
			stats.Failures++
		}
		for _, rtt := range payload.RTTs {
			sum += rtt
			stats.RTTSamples++
			stats.MinRTT = math.Min(stats.MinRTT, rtt)
			stats.MaxRTT = math.Max(stats.MaxRTT, rtt)
		}
	}
	if stats.Sent > 0 {
		stats.Loss = float64(stats.Sent-stats.Received) / float64(stats.Sent)
	}
	if stats.RTTSamples == 0 {
		stats.MinRTT, stats.MaxRTT = 0, 0
		return stats
	}
	stats.MeanRTT = sum / float64(stats.RTTSamples)
	return stats
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}
