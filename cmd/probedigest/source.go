package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/analyze"
	"github.com/jaxxstorm/probedigest/internal/atlas"
	"github.com/jaxxstorm/probedigest/internal/model"
	"github.com/jaxxstorm/probedigest/internal/output"
)

// digest is what a command hands back for rendering.
type digest struct {
	summary model.MeasurementSummary
	options output.Options
}

func runCommand(ctx context.Context, display Display, percentage float64, run func(*zap.Logger) (digest, error)) (int, error) {
	logger, err := newLogger(display.Verbose, display.Debug)
	if err != nil {
		return 1, err
	}
	defer func() { _ = logger.Sync() }()

	d, err := run(logger)
	if err != nil {
		return 1, err
	}
	d.summary.Diagnosis = analyze.Assess(d.summary, percentage)
	d.options.DisplayProbes = display.DisplayProbes
	d.options.DisplayRTT = display.DisplayRTT

	format := output.Format(display.Output)
	if display.MachineReadable {
		format = output.FormatMachine
	}
	rendered, err := output.Render(d.summary, format, d.options)
	if err != nil {
		return 1, err
	}
	fmt.Println(rendered)
	if d.summary.Diagnosis.Classification == string(analyze.OutcomeNoResults) {
		return 2, nil
	}
	return 0, nil
}

func (s Source) selection() atlas.Selection {
	return atlas.Selection{
		Country:        s.Country,
		Area:           s.Area,
		ASN:            s.ASN,
		Prefix:         s.Prefix,
		Probes:         s.Probes,
		OldMeasurement: s.OldMeasurement,
		Requested:      s.Requested,
		Include:        s.Include,
		Exclude:        s.Exclude,
	}
}

func (s Source) af() int {
	if s.IPv6 {
		return 6
	}
	return 4
}

// measurement returns the results for def from a file, an existing
// measurement or a new one, in that order of preference.
func (s Source) measurement(ctx context.Context, def atlas.Definition, logger *zap.Logger) (atlas.Measurement, error) {
	def.AF = s.af()
	def.Private = s.Private
	def.Spread = s.Spread
	def.Selection = s.selection()

	if s.File != "" {
		return s.fromFile(def)
	}

	key := s.AtlasKey
	if key == "" && s.MeasurementID == 0 {
		loaded, err := atlas.LoadKey(atlas.DefaultAuthFile())
		if err != nil {
			return atlas.Measurement{}, err
		}
		key = loaded
	}
	client := atlas.NewClient(atlas.Config{BaseURL: s.AtlasURL, Key: key, Logger: logger})

	if s.MeasurementID != 0 {
		return client.FetchLatest(ctx, s.MeasurementID, s.Latest)
	}

	id, err := client.Submit(ctx, def)
	if err != nil {
		return atlas.Measurement{}, err
	}
	fmt.Fprintf(os.Stderr, "Measurement #%d %s submitted, waiting for results\n", id, def.Kind)
	waitCtx, cancel := context.WithTimeout(ctx, s.WaitTimeout)
	defer cancel()
	m, err := client.Wait(waitCtx, id, def.Requested(), atlas.WaitOptions{PercentageRequired: s.Percentage})
	if err != nil {
		return atlas.Measurement{}, err
	}
	if m.Target == "" {
		m.Target = def.Target
	}
	return m, nil
}

func (s Source) fromFile(def atlas.Definition) (atlas.Measurement, error) {
	data, err := os.ReadFile(s.File)
	if err != nil {
		return atlas.Measurement{}, fmt.Errorf("read results: %w", err)
	}
	results, err := atlas.ParseResults(def.Kind, data)
	if err != nil {
		return atlas.Measurement{}, fmt.Errorf("%s: %w", s.File, err)
	}
	probes := map[int]struct{}{}
	var completed time.Time
	for _, r := range results {
		probes[r.ProbeID] = struct{}{}
		if r.Timestamp.After(completed) {
			completed = r.Timestamp
		}
	}
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	return atlas.Measurement{
		ID:              "file:" + filepath.Base(s.File),
		Kind:            def.Kind,
		Target:          def.Target,
		ProbesRequested: len(probes),
		Status:          atlas.StatusStopped,
		CompletedAt:     completed,
		Results:         results,
	}, nil
}

func meta(m atlas.Measurement, sort string) (aggregate.Meta, error) {
	order, err := aggregate.ParseOrder(sort)
	if err != nil {
		return aggregate.Meta{}, err
	}
	return aggregate.Meta{
		MeasurementID:   m.ID,
		Target:          m.Target,
		Kind:            string(m.Kind),
		ProbesRequested: m.ProbesRequested,
		CompletedAt:     m.CompletedAt,
		Order:           order,
	}, nil
}
