package model

import "time"

type EquivalenceClass struct {
	Key        string   `json:"key"`
	Count      int      `json:"count"`
	Probes     []int    `json:"probes,omitempty"`
	Resolvers  []string `json:"resolvers,omitempty"`
	RTTSum     float64  `json:"rtt_sum,omitempty"`
	RTTSamples int      `json:"rtt_samples,omitempty"`
}

// AverageRTT reports false when the class has no RTT samples.
func (c EquivalenceClass) AverageRTT() (float64, bool) {
	if c.RTTSamples == 0 {
		return 0, false
	}
	return c.RTTSum / float64(c.RTTSamples), true
}

type HopRecord struct {
	Index     int       `json:"index"`
	Values    []string  `json:"values"`
	RTTs      []float64 `json:"rtts,omitempty"`
	Reached   bool      `json:"reached"`
	Responder string    `json:"responder,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	ASN       string    `json:"asn,omitempty"`
	ASOwner   string    `json:"as_owner,omitempty"`
}

// Responded counts the packets at this hop that came back with a reply.
func (h HopRecord) Responded() int {
	return len(h.RTTs)
}

type MeasurementSummary struct {
	MeasurementID   string             `json:"measurement_id"`
	Target          string             `json:"target"`
	Kind            string             `json:"kind"`
	ProbesReported  int                `json:"probes_reported"`
	ProbesRequested int                `json:"probes_requested"`
	Outcomes        int                `json:"outcomes"`
	Classes         []EquivalenceClass `json:"classes"`
	Hops            []HopRecord        `json:"hops,omitempty"`
	Ping            *PingStats         `json:"ping,omitempty"`
	CompletedAt     time.Time          `json:"completed_at"`
	Diagnosis       Diagnosis          `json:"diagnosis"`
}

// PingStats are packet-level totals over all ping results. RTT fields are
// zero when no reply came back.
type PingStats struct {
	Probes     int     `json:"probes"`
	Successes  int     `json:"successes"`
	Failures   int     `json:"failures"`
	Sent       int     `json:"sent"`
	Received   int     `json:"received"`
	Loss       float64 `json:"loss"`
	MinRTT     float64 `json:"min_rtt"`
	MeanRTT    float64 `json:"mean_rtt"`
	MaxRTT     float64 `json:"max_rtt"`
	RTTSamples int     `json:"rtt_samples"`
}

// Empty reports that no probe contributed anything, which is distinct from
// probes reporting empty answers.
func (s MeasurementSummary) Empty() bool {
	return s.ProbesReported == 0 && s.Outcomes == 0
}

// Diagnosis says whether enough probes reported for the summary to be
// trusted.
type Diagnosis struct {
	Classification string   `json:"classification"`
	Summary        string   `json:"summary"`
	Evidence       []string `json:"evidence"`
	Hints          []string `json:"hints,omitempty"`
}
