// Package classify maps DNS resolver attempts to canonical outcome strings.
package classify

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jaxxstorm/probedigest/internal/dnsdecode"
	"github.com/jaxxstorm/probedigest/internal/model"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	OutcomeTimeout        = "TIMEOUT"
	OutcomeNetworkProblem = "NETWORK PROBLEM WITH RESOLVER"
	OutcomeConnectError   = "TLS/CONNECT ERROR"
	OutcomeNoData         = ""
)

var ErrUnknownQueryType = errors.New("unknown query type")

// ParseQueryType resolves a record type name such as "AAAA". An unknown name is
// a setup error and must stop the run before any result is classified.
func ParseQueryType(name string) (uint16, error) {
	qtype, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueryType, name)
	}
	return qtype, nil
}

type Policy struct {
	// OnePerProbe keeps only the first usable attempt of each probe.
	OnePerProbe      bool
	ShowNSID         bool
	EDNSSize         uint16
	QueryType        uint16
	MaxDisplayLength int
}

// Result is the canonical outcome of one resolver attempt.
type Result struct {
	Outcome   string
	Responder string
	RTT       float64
	HasRTT    bool
}

type Classifier struct {
	policy  Policy
	decoder *dnsdecode.Decoder
	logger  *zap.Logger
}

func New(policy Policy, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		policy:  policy,
		decoder: dnsdecode.New(dnsdecode.Config{QueryType: policy.QueryType, MaxDisplayLength: policy.MaxDisplayLength}),
		logger:  logger,
	}
}

// ClassifyProbe handles every outcome variant of a raw probe result.
func (c *Classifier) ClassifyProbe(result model.RawProbeResult) []Result {
	if label, failed := ProbeFailure(result); failed {
		return []Result{{Outcome: label}}
	}
	success := result.Outcome.(model.Success)
	payload, ok := success.Payload.(model.DNSPayload)
	if !ok {
		return []Result{{Outcome: UnexpectedPayload(success.Payload)}}
	}
	if len(payload.Attempts) == 0 {
		return []Result{{Outcome: unknownFailure(result.ProbeID)}}
	}
	return c.Classify(result.ProbeID, payload.Attempts)
}

// ProbeFailure labels a probe-level outcome that carries nothing to classify.
// Every tool uses it so a failure reads the same whatever was measured.
// failed is false only for a Success.
func ProbeFailure(result model.RawProbeResult) (label string, failed bool) {
	switch outcome := result.Outcome.(type) {
	case model.Success:
		return "", false
	case model.Timeout:
		return OutcomeTimeout, true
	case model.TransportError:
		return transportLabel(outcome.Kind, result.ProbeID), true
	case model.ProtocolError:
		return "PROTOCOL ERROR: " + outcome.Detail, true
	default:
		return unknownFailure(result.ProbeID), true
	}
}

// UnexpectedPayload labels a success whose payload belongs to another kind of
// measurement.
func UnexpectedPayload(payload model.Payload) string {
	return fmt.Sprintf("PROTOCOL ERROR: unexpected %T", payload)
}

// Classify walks the attempts in report order.
func (c *Classifier) Classify(probeID int, attempts []model.ResolverAttempt) []Result {
	if !c.policy.OnePerProbe {
		results := make([]Result, 0, len(attempts))
		for _, attempt := range attempts {
			result, _ := c.classifyAttempt(probeID, attempt)
			results = append(results, result)
		}
		return results
	}

	var fallback, refused *Result
	for _, attempt := range attempts {
		result, kind := c.classifyAttempt(probeID, attempt)
		switch kind {
		case attemptAnswered:
			return []Result{result}
		case attemptRefused:
			if refused == nil {
				refused = &result
			}
		}
		if fallback == nil {
			fallback = &result
		}
	}
	if refused != nil {
		return []Result{*refused}
	}
	if fallback != nil {
		return []Result{*fallback}
	}
	return nil
}

type attemptKind int

const (
	attemptFailed attemptKind = iota
	attemptRefused
	attemptAnswered
)

func (c *Classifier) classifyAttempt(probeID int, attempt model.ResolverAttempt) (Result, attemptKind) {
	if attempt.Failure != nil {
		return Result{Outcome: transportLabel(attempt.Failure.Kind, probeID)}, attemptFailed
	}

	result := Result{Responder: attempt.Responder, RTT: attempt.RTT, HasRTT: attempt.HasRTT}
	resp, err := c.decoder.Decode(attempt.Payload)
	if err != nil {
		c.logger.Warn("undecodable dns response",
			zap.Int("probe", probeID),
			zap.String("resolver", attempt.Responder),
			zap.Error(err),
		)
		result.Outcome = decodeLabel(err)
		return result, attemptFailed
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
		result.Outcome = c.answerKey(resp)
		return result, attemptAnswered
	case dns.RcodeRefused:
		result.Outcome = "ERROR: " + resp.RcodeName
		return result, attemptRefused
	default:
		// NXDOMAIN and SERVFAIL are legitimate answers from a working resolver.
		result.Outcome = "ERROR: " + resp.RcodeName
		return result, attemptAnswered
	}
}

// answerKey builds the canonical key for a NOERROR response. Answer order on the
// wire carries no meaning, so values are sorted before joining.
func (c *Classifier) answerKey(resp model.DecodedResponse) string {
	values := make([]string, 0, len(resp.Answers))
	for _, answer := range resp.Answers {
		values = append(values, answer.Value)
	}
	sort.Strings(values)

	var b strings.Builder
	b.WriteString(strings.Join(values, " "))
	if resp.Flags.AuthenticData {
		b.WriteString(" (Authentic Data flag)")
	}
	if resp.Flags.Truncated {
		if c.policy.EDNSSize > 0 {
			fmt.Fprintf(&b, " (TRUNCATED - EDNS buffer size was %d)", c.policy.EDNSSize)
		} else {
			b.WriteString(" (TRUNCATED - may need a larger EDNS buffer)")
		}
	}
	if c.policy.ShowNSID {
		if nsid, ok := resp.NSID(); ok {
			fmt.Fprintf(&b, " (NSID: %s)", nsid)
		}
	}
	return b.String()
}

func transportLabel(kind model.TransportKind, probeID int) string {
	switch kind {
	case model.TransportTimeout:
		return OutcomeTimeout
	case model.TransportNetwork:
		return OutcomeNetworkProblem
	case model.TransportConnect:
		return OutcomeConnectError
	default:
		return unknownFailure(probeID)
	}
}

func unknownFailure(probeID int) string {
	return fmt.Sprintf("NO RESPONSE FOR UNKNOWN REASON at probe %d", probeID)
}

func decodeLabel(err error) string {
	var decodeErr *dnsdecode.DecodeError
	if errors.As(err, &decodeErr) {
		return "DECODE ERROR: " + decodeErr.Kind.String()
	}
	return "DECODE ERROR: " + dnsdecode.MalformedMessage.String()
}
