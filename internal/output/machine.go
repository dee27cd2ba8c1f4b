package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaxxstorm/probedigest/internal/model"
)

// MachineRecord flattens a summary into one ordered field list: target,
// measurement id, reported/requested, completion time, then one
// "key;count" field per class, or "hop;responded" per hop when the summary
// carries hop records.
func MachineRecord(summary model.MeasurementSummary) []string {
	fields := []string{
		summary.Target,
		summary.MeasurementID,
		fmt.Sprintf("%d/%d", summary.ProbesReported, summary.ProbesRequested),
		summary.CompletedAt.UTC().Format(time.RFC3339),
	}
	if len(summary.Hops) > 0 {
		for _, hop := range summary.Hops {
			fields = append(fields, strconv.Itoa(hop.Index)+";"+strconv.Itoa(hop.Responded()))
		}
		return fields
	}
	for _, class := range summary.Classes {
		fields = append(fields, normalizeSpace(class.Key)+";"+strconv.Itoa(class.Count))
	}
	return fields
}

// RenderMachine writes MachineRecord as a single CSV line without the
// trailing newline.
func RenderMachine(summary model.MeasurementSummary) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(MachineRecord(summary)); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
