package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jaxxstorm/probedigest/internal/model"
)

func sampleSummary() model.MeasurementSummary {
	return model.MeasurementSummary{
		MeasurementID:   "1234",
		Target:          "example.com",
		Kind:            "dns",
		ProbesReported:  3,
		ProbesRequested: 5,
		Outcomes:        3,
		CompletedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Classes: []model.EquivalenceClass{
			{Key: "192.0.2.1", Count: 2, Probes: []int{11, 12}, Resolvers: []string{"10.0.0.1"}, RTTSum: 30, RTTSamples: 2},
			{Key: "", Count: 1, Probes: []int{13}},
		},
		Diagnosis: model.Diagnosis{Classification: "PARTIAL", Summary: "3/5 probes reported"},
	}
}

func TestRenderPrettyClasses(t *testing.T) {
	out := RenderPretty(sampleSummary(), Options{DisplayProbes: true, DisplayResolvers: true, DisplayRTT: true})
	for _, want := range []string{
		"Measurement #1234 dns example.com: 3/5 probes reported at 2024-03-01T12:00:00Z",
		"[192.0.2.1] : 2 occurrences (probes: 11, 12) (resolvers: 10.0.0.1) Average RTT 15.00 ms",
		"[] : 1 occurrence (probes: 13)",
		"PARTIAL 3/5 probes reported",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderPrettyHidesDetailsByDefault(t *testing.T) {
	out := RenderPretty(sampleSummary(), Options{})
	if strings.Contains(out, "probes:") || strings.Contains(out, "Average RTT") {
		t.Fatalf("unexpected details in output:\n%s", out)
	}
}

func TestRenderPrettyHops(t *testing.T) {
	summary := model.MeasurementSummary{
		MeasurementID: "77",
		Hops: []model.HopRecord{
			{Index: 1, Values: []string{"rtt:1.000", "*"}, RTTs: []float64{1}, Reached: true, Responder: "10.0.0.1", Hostname: "gw.example", ASN: "64500", ASOwner: "EXAMPLE-NET"},
			{Index: 2, Values: []string{"*", "*"}, Reached: true},
			{Index: 3},
		},
	}
	out := RenderPretty(summary, Options{})
	for _, want := range []string{
		" 1  gw.example (10.0.0.1) [AS64500 EXAMPLE-NET]  rtt:1.000 *",
		" 2  *  * *",
		" 3  (no report)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderPrettyPingStats(t *testing.T) {
	summary := sampleSummary()
	summary.Ping = &model.PingStats{Probes: 3, Successes: 2, Failures: 1, Sent: 9, Received: 6, Loss: 1.0 / 3, MinRTT: 1.5, MeanRTT: 4, MaxRTT: 9.25, RTTSamples: 6}
	out := RenderPretty(summary, Options{})
	want := "2/3 probes answered, 6/9 packets received (33.3% loss), rtt min/mean/max 1.500/4.000/9.250 ms"
	if !strings.Contains(out, want) {
		t.Fatalf("expected %q in output:\n%s", want, out)
	}

	summary.Ping = &model.PingStats{Probes: 1, Failures: 1, Sent: 3}
	if out := RenderPretty(summary, Options{}); strings.Contains(out, "rtt min") {
		t.Fatalf("unexpected rtt without samples:\n%s", out)
	}

	data, err := RenderJSON(summary)
	if err != nil {
		t.Fatalf("render json: %v", err)
	}
	var decoded struct {
		Ping struct {
			Sent int `json:"sent"`
		} `json:"ping"`
	}
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Ping.Sent != 3 {
		t.Fatalf("expected ping stats in json, got %s", data)
	}
}

func TestRenderJSON(t *testing.T) {
	out, err := RenderJSON(sampleSummary())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var decoded model.MeasurementSummary
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.MeasurementID != "1234" || len(decoded.Classes) != 2 || decoded.Classes[0].Count != 2 {
		t.Fatalf("unexpected summary: %#v", decoded)
	}
}

func TestMachineRecordClasses(t *testing.T) {
	got := MachineRecord(sampleSummary())
	want := []string{"example.com", "1234", "3/5", "2024-03-01T12:00:00Z", "192.0.2.1;2", ";1"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMachineRecordHops(t *testing.T) {
	summary := model.MeasurementSummary{
		MeasurementID: "9",
		Target:        "192.0.2.9",
		Hops: []model.HopRecord{
			{Index: 1, RTTs: []float64{1, 2, 3}, Reached: true},
			{Index: 2, Reached: true},
		},
		Classes: []model.EquivalenceClass{{Key: "path", Count: 1}},
	}
	got := MachineRecord(summary)
	if got[len(got)-2] != "1;3" || got[len(got)-1] != "2;0" || len(got) != 6 {
		t.Fatalf("unexpected record %q", got)
	}
}

func TestRenderMachineQuotes(t *testing.T) {
	summary := sampleSummary()
	summary.Classes = []model.EquivalenceClass{{Key: "v=spf1, -all", Count: 4}}
	line, err := RenderMachine(summary)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := `example.com,1234,3/5,2024-03-01T12:00:00Z,"v=spf1, -all;4"`
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}
}

func TestRenderDispatch(t *testing.T) {
	summary := model.MeasurementSummary{MeasurementID: "1"}
	out, err := Render(summary, FormatJSON, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, `"classes": []`) {
		t.Fatalf("expected empty classes array:\n%s", out)
	}
	if _, err := Render(summary, "xml", Options{}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
