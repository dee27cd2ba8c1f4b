package atlas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jaxxstorm/probedigest/internal/model"
)

// Measurement is a finished (or sufficiently complete) measurement.
type Measurement struct {
	ID              string
	Kind            Kind
	Target          string
	ProbesRequested int
	Status          string
	CompletedAt     time.Time
	Results         []model.RawProbeResult
}

type rawResult struct {
	ProbeID   int             `json:"prb_id"`
	Timestamp int64           `json:"timestamp"`
	DstAddr   string          `json:"dst_addr"`
	DstName   string          `json:"dst_name"`
	From      string          `json:"from"`
	Error     json.RawMessage `json:"error"`
	Result    json.RawMessage `json:"result"`
	ResultSet []dnsSetEntry   `json:"resultset"`

	// ping
	Sent int `json:"sent"`
	Rcvd int `json:"rcvd"`

	// sslcert
	Cert   []string `json:"cert"`
	Err    string   `json:"err"`
	DNSErr string   `json:"dnserr"`
}

type dnsSetEntry struct {
	DstAddr string          `json:"dst_addr"`
	Error   json.RawMessage `json:"error"`
	Result  *dnsAnswer      `json:"result"`
}

type dnsAnswer struct {
	ABuf string   `json:"abuf"`
	RT   *float64 `json:"rt"`
}

type pingReply struct {
	RTT   *float64 `json:"rtt"`
	X     string   `json:"x"`
	Error string   `json:"error"`
}

type hopResult struct {
	Hop    int         `json:"hop"`
	Error  string      `json:"error"`
	Result []hopPacket `json:"result"`
}

type hopPacket struct {
	X     string   `json:"x"`
	From  string   `json:"from"`
	RTT   *float64 `json:"rtt"`
	Err   any      `json:"err"`
	Error string   `json:"error"`
}

// ParseResults converts the JSON array returned by the results endpoint
// into probe results. Per-probe errors become outcomes; only a document
// that is not a result array is an error.
func ParseResults(kind Kind, data []byte) ([]model.RawProbeResult, error) {
	var raws []rawResult
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, errors.Wrap(err, "decode results")
	}
	out := make([]model.RawProbeResult, 0, len(raws))
	for _, raw := range raws {
		res := model.RawProbeResult{ProbeID: raw.ProbeID, Timestamp: time.Unix(raw.Timestamp, 0).UTC()}
		switch kind {
		case KindDNS:
			res.Outcome = dnsOutcome(raw)
		case KindTraceroute:
			res.Outcome = tracerouteOutcome(raw)
		case KindPing:
			res.Outcome = pingOutcome(raw)
		case KindSSLCert:
			res.Outcome = certOutcome(raw)
		default:
			return nil, fmt.Errorf("unknown measurement kind %q", kind)
		}
		out = append(out, res)
	}
	return out, nil
}

// errorKind maps an Atlas error object such as {"timeout": 5000} or
// {"socket": "connect failed"} to a transport kind and a detail string.
func errorKind(raw json.RawMessage) (model.TransportKind, string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", "", false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return model.TransportUnknown, s, true
		}
		return model.TransportUnknown, string(raw), true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		detail := fmt.Sprint(obj[k])
		switch k {
		case "timeout":
			return model.TransportTimeout, detail, true
		case "socket":
			return model.TransportNetwork, detail, true
		case "TUCONNECT", "TLS":
			return model.TransportConnect, detail, true
		}
	}
	if len(keys) == 0 {
		return model.TransportUnknown, "", true
	}
	return model.TransportUnknown, keys[0] + ": " + fmt.Sprint(obj[keys[0]]), true
}

func failureOutcome(kind model.TransportKind, detail string) model.Outcome {
	if kind == model.TransportTimeout {
		return model.Timeout{}
	}
	return model.TransportError{Kind: kind, Detail: detail}
}

func dnsOutcome(raw rawResult) model.Outcome {
	if len(raw.ResultSet) > 0 {
		attempts := make([]model.ResolverAttempt, 0, len(raw.ResultSet))
		for _, entry := range raw.ResultSet {
			attempts = append(attempts, dnsAttempt(entry.DstAddr, entry.Error, entry.Result))
		}
		return model.Success{Payload: model.DNSPayload{Attempts: attempts}}
	}
	if kind, detail, ok := errorKind(raw.Error); ok {
		return failureOutcome(kind, detail)
	}
	if len(raw.Result) == 0 {
		return model.ProtocolError{Detail: "dns result without result or error"}
	}
	var answer dnsAnswer
	if err := json.Unmarshal(raw.Result, &answer); err != nil {
		return model.ProtocolError{Detail: "bad dns result: " + err.Error()}
	}
	return model.Success{Payload: model.DNSPayload{Attempts: []model.ResolverAttempt{
		dnsAttempt(raw.DstAddr, nil, &answer),
	}}}
}

func dnsAttempt(responder string, errRaw json.RawMessage, answer *dnsAnswer) model.ResolverAttempt {
	attempt := model.ResolverAttempt{Responder: responder}
	if kind, detail, ok := errorKind(errRaw); ok {
		attempt.Failure = &model.AttemptFailure{Kind: kind, Detail: detail}
		return attempt
	}
	if answer == nil {
		attempt.Failure = &model.AttemptFailure{Kind: model.TransportUnknown, Detail: "no result"}
		return attempt
	}
	attempt.Payload = answer.ABuf
	if answer.RT != nil {
		attempt.RTT, attempt.HasRTT = *answer.RT, true
	}
	return attempt
}

func tracerouteOutcome(raw rawResult) model.Outcome {
	if kind, detail, ok := errorKind(raw.Error); ok {
		return failureOutcome(kind, detail)
	}
	var hops []hopResult
	if err := json.Unmarshal(raw.Result, &hops); err != nil {
		return model.ProtocolError{Detail: "bad traceroute result: " + err.Error()}
	}
	target := raw.DstAddr
	if target == "" {
		target = raw.DstName
	}
	payload := model.TraceroutePayload{Target: target, Hops: make([]model.HopReport, 0, len(hops))}
	for _, hop := range hops {
		report := model.HopReport{Hop: hop.Hop, Error: hop.Error}
		for _, p := range hop.Result {
			report.Packets = append(report.Packets, hopPacketOf(p))
		}
		payload.Hops = append(payload.Hops, report)
	}
	return model.Success{Payload: payload}
}

func hopPacketOf(p hopPacket) model.Packet {
	switch {
	case p.X != "":
		return model.PacketTimeout{}
	case p.Error != "":
		return model.PacketError{From: p.From, Detail: p.Error}
	case p.Err != nil:
		unreachable := model.PacketUnreachable{From: p.From, Code: fmt.Sprint(p.Err)}
		if p.RTT != nil {
			unreachable.RTT = *p.RTT
		}
		return unreachable
	case p.RTT != nil:
		return model.PacketReply{From: p.From, RTT: *p.RTT}
	}
	return model.PacketError{From: p.From, Detail: "empty reply"}
}

func pingOutcome(raw rawResult) model.Outcome {
	if kind, detail, ok := errorKind(raw.Error); ok {
		return failureOutcome(kind, detail)
	}
	var replies []pingReply
	if err := json.Unmarshal(raw.Result, &replies); err != nil {
		return model.ProtocolError{Detail: "bad ping result: " + err.Error()}
	}
	payload := model.PingPayload{Sent: raw.Sent, Received: raw.Rcvd}
	var errs []string
	for _, r := range replies {
		switch {
		case r.RTT != nil:
			payload.RTTs = append(payload.RTTs, *r.RTT)
		case r.Error != "":
			errs = append(errs, r.Error)
		}
	}
	if len(replies) > 0 && len(errs) == len(replies) {
		return model.TransportError{Kind: model.TransportNetwork, Detail: strings.Join(errs, "; ")}
	}
	if payload.Sent == 0 {
		payload.Sent = len(replies)
	}
	if payload.Received == 0 {
		payload.Received = len(payload.RTTs)
	}
	return model.Success{Payload: payload}
}

func certOutcome(raw rawResult) model.Outcome {
	switch {
	case raw.DNSErr != "":
		return model.TransportError{Kind: model.TransportNetwork, Detail: raw.DNSErr}
	case raw.Err != "":
		if strings.Contains(strings.ToLower(raw.Err), "timeout") {
			return model.Timeout{}
		}
		return model.TransportError{Kind: model.TransportConnect, Detail: raw.Err}
	}
	return model.Success{Payload: model.CertPayload{Chain: raw.Cert}}
}
