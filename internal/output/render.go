package output

import (
	"encoding/json"
	"fmt"

	"github.com/jaxxstorm/probedigest/internal/model"
)

type Format string

const (
	FormatPretty  Format = "pretty"
	FormatJSON    Format = "json"
	FormatMachine Format = "machine"
)

// Render dispatches to the renderer for format.
func Render(summary model.MeasurementSummary, format Format, opts Options) (string, error) {
	switch format {
	case FormatPretty, "":
		return RenderPretty(summary, opts), nil
	case FormatJSON:
		return RenderJSON(summary)
	case FormatMachine:
		return RenderMachine(summary)
	}
	return "", fmt.Errorf("unsupported output format: %s", format)
}

// RenderJSON returns the summary as indented JSON. Classes is always an
// array, empty when nothing was classified.
func RenderJSON(summary model.MeasurementSummary) (string, error) {
	if summary.Classes == nil {
		summary.Classes = []model.EquivalenceClass{}
	}
	b, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
