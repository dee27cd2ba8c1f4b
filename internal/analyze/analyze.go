package analyze

import (
	"fmt"
	"math"

	"github.com/jaxxstorm/probedigest/internal/model"
)

type OutcomeKind string

const (
	OutcomeComplete  OutcomeKind = "COMPLETE"
	OutcomePartial   OutcomeKind = "PARTIAL"
	OutcomeNoResults OutcomeKind = "NO_RESULTS"
)

const DefaultPercentageRequired = 0.9

type Outcome struct {
	Kind     OutcomeKind
	Summary  string
	Evidence []string
	Hints    []string
}

func Diagnose(outcome Outcome) model.Diagnosis {
	evidence := []string{}
	evidence = append(evidence, outcome.Evidence...)
	return model.Diagnosis{
		Classification: string(outcome.Kind),
		Summary:        outcome.Summary,
		Evidence:       evidence,
		Hints:          outcome.Hints,
	}
}

// Assess decides whether a summary is usable. A measurement where fewer than
// percentageRequired of the requested probes reported is PARTIAL; one where no
// probe reported at all is NO_RESULTS.
func Assess(summary model.MeasurementSummary, percentageRequired float64) model.Diagnosis {
	if percentageRequired <= 0 || percentageRequired > 1 {
		percentageRequired = DefaultPercentageRequired
	}

	if summary.Empty() {
		return Diagnose(Outcome{
			Kind:    OutcomeNoResults,
			Summary: "no probe reported a result",
			Hints:   []string{"wait longer before fetching results", "request more probes or relax the probe selection"},
		})
	}

	reported := fmt.Sprintf("%d/%d probes reported", summary.ProbesReported, summary.ProbesRequested)
	if summary.ProbesRequested > 0 {
		needed := int(math.Ceil(float64(summary.ProbesRequested) * percentageRequired))
		if summary.ProbesReported < needed {
			return Diagnose(Outcome{
				Kind:     OutcomePartial,
				Summary:  reported,
				Evidence: topKeys(summary, 1),
				Hints:    []string{fmt.Sprintf("at least %d probes were expected", needed)},
			})
		}
	} else {
		reported = fmt.Sprintf("%d probes reported", summary.ProbesReported)
	}

	return Diagnose(Outcome{
		Kind:     OutcomeComplete,
		Summary:  reported,
		Evidence: topKeys(summary, 1),
	})
}

func topKeys(summary model.MeasurementSummary, n int) []string {
	keys := []string{}
	for i := 0; i < len(summary.Classes) && i < n; i++ {
		keys = append(keys, summary.Classes[i].Key)
	}
	return keys
}
