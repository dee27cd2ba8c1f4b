package classify

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net"
	"testing"

	"github.com/jaxxstorm/probedigest/internal/model"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(t *testing.T, rcode int, addrs ...string) string {
	t.Helper()
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeAAAA)
	resp := new(dns.Msg)
	resp.SetRcode(query, rcode)
	for _, addr := range addrs {
		resp.Answer = append(resp.Answer, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
			AAAA: net.ParseIP(addr),
		})
	}
	wire, err := resp.Pack()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wire)
}

func dnsResult(probeID int, attempts ...model.ResolverAttempt) model.RawProbeResult {
	return model.RawProbeResult{ProbeID: probeID, Outcome: model.Success{Payload: model.DNSPayload{Attempts: attempts}}}
}

func outcomes(results []Result) []string {
	out := []string{}
	for _, r := range results {
		out = append(out, r.Outcome)
	}
	return out
}

func TestScenarioAnswersAndServfail(t *testing.T) {
	c := New(Policy{OnePerProbe: true}, nil)

	got := []string{}
	got = append(got, outcomes(c.ClassifyProbe(dnsResult(1, model.ResolverAttempt{Responder: "192.0.2.53", Payload: response(t, dns.RcodeSuccess, "2001:db8::1")})))...)
	got = append(got, outcomes(c.ClassifyProbe(dnsResult(2, model.ResolverAttempt{Responder: "192.0.2.53", Payload: response(t, dns.RcodeSuccess, "2001:db8::1")})))...)
	got = append(got, outcomes(c.ClassifyProbe(dnsResult(3, model.ResolverAttempt{Responder: "192.0.2.54", Payload: response(t, dns.RcodeServerFailure)})))...)

	assert.Equal(t, []string{"2001:db8::1", "2001:db8::1", "ERROR: SERVFAIL"}, got)
}

func TestTimeoutHasNoResponder(t *testing.T) {
	c := New(Policy{OnePerProbe: true}, nil)
	results := c.ClassifyProbe(dnsResult(7, model.ResolverAttempt{
		Responder: "192.0.2.53",
		Failure:   &model.AttemptFailure{Kind: model.TransportTimeout, Detail: "5000"},
	}))

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeTimeout, results[0].Outcome)
	assert.Empty(t, results[0].Responder)
}

func TestRefusedThenAnswer(t *testing.T) {
	attempts := []model.ResolverAttempt{
		{Responder: "192.0.2.1", Payload: response(t, dns.RcodeRefused)},
		{Responder: "192.0.2.2", Payload: response(t, dns.RcodeSuccess, "2001:db8::1")},
	}

	all := New(Policy{OnePerProbe: false}, nil).Classify(4, attempts)
	assert.Equal(t, []string{"ERROR: REFUSED", "2001:db8::1"}, outcomes(all))

	first := New(Policy{OnePerProbe: true}, nil).Classify(4, attempts)
	require.Len(t, first, 1)
	assert.Equal(t, "2001:db8::1", first[0].Outcome)
	assert.Equal(t, "192.0.2.2", first[0].Responder)
}

func TestOnePerProbeFallbacks(t *testing.T) {
	c := New(Policy{OnePerProbe: true}, nil)

	onlyRefused := c.Classify(1, []model.ResolverAttempt{
		{Failure: &model.AttemptFailure{Kind: model.TransportNetwork}},
		{Responder: "192.0.2.1", Payload: response(t, dns.RcodeRefused)},
	})
	assert.Equal(t, []string{"ERROR: REFUSED"}, outcomes(onlyRefused))

	nothingDecoded := c.Classify(1, []model.ResolverAttempt{
		{Failure: &model.AttemptFailure{Kind: model.TransportConnect}},
		{Failure: &model.AttemptFailure{Kind: model.TransportTimeout}},
	})
	assert.Equal(t, []string{OutcomeConnectError}, outcomes(nothingDecoded))

	laterIgnored := c.Classify(1, []model.ResolverAttempt{
		{Responder: "192.0.2.1", Payload: response(t, dns.RcodeNameError)},
		{Responder: "192.0.2.2", Payload: response(t, dns.RcodeSuccess, "2001:db8::1")},
	})
	assert.Equal(t, []string{"ERROR: NXDOMAIN"}, outcomes(laterIgnored))
}

func TestAnswerOrderDoesNotMatter(t *testing.T) {
	c := New(Policy{}, nil)
	a := c.Classify(1, []model.ResolverAttempt{{Payload: response(t, dns.RcodeSuccess, "2001:db8::2", "2001:db8::1")}})
	b := c.Classify(2, []model.ResolverAttempt{{Payload: response(t, dns.RcodeSuccess, "2001:db8::1", "2001:db8::2")}})

	assert.Equal(t, "2001:db8::1 2001:db8::2", a[0].Outcome)
	assert.Equal(t, a[0].Outcome, b[0].Outcome)
}

func TestAnnotationsOrder(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeAAAA)
	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.AuthenticatedData = true
	resp.Truncated = true
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(512)
	opt.Option = append(opt.Option, &dns.EDNS0_NSID{Code: dns.EDNS0NSID, Nsid: hex.EncodeToString([]byte("res-1"))})
	resp.Extra = append(resp.Extra, opt)
	wire, err := resp.Pack()
	require.NoError(t, err)

	c := New(Policy{ShowNSID: true, EDNSSize: 512}, nil)
	results := c.Classify(1, []model.ResolverAttempt{{Payload: base64.StdEncoding.EncodeToString(wire)}})

	assert.Equal(t, " (Authentic Data flag) (TRUNCATED - EDNS buffer size was 512) (NSID: res-1)", results[0].Outcome)
}

func TestNoDataIsEmptyKey(t *testing.T) {
	results := New(Policy{}, nil).Classify(1, []model.ResolverAttempt{{Payload: response(t, dns.RcodeSuccess)}})
	assert.Equal(t, OutcomeNoData, results[0].Outcome)
}

func TestDecodeFailureBecomesOutcome(t *testing.T) {
	results := New(Policy{OnePerProbe: true}, nil).Classify(9, []model.ResolverAttempt{
		{Responder: "192.0.2.1", Payload: base64.StdEncoding.EncodeToString([]byte{0, 1, 2})},
		{Responder: "192.0.2.2", Payload: response(t, dns.RcodeSuccess, "2001:db8::1")},
	})
	assert.Equal(t, []string{"2001:db8::1"}, outcomes(results))

	results = New(Policy{}, nil).Classify(9, []model.ResolverAttempt{
		{Responder: "192.0.2.1", Payload: base64.StdEncoding.EncodeToString([]byte{0, 1, 2})},
	})
	assert.Equal(t, []string{"DECODE ERROR: MalformedMessage"}, outcomes(results))
}

func TestProbeLevelOutcomes(t *testing.T) {
	c := New(Policy{}, nil)

	assert.Equal(t, []string{OutcomeTimeout}, outcomes(c.ClassifyProbe(model.RawProbeResult{ProbeID: 1, Outcome: model.Timeout{}})))
	assert.Equal(t, []string{"NO RESPONSE FOR UNKNOWN REASON at probe 3"},
		outcomes(c.ClassifyProbe(model.RawProbeResult{ProbeID: 3, Outcome: model.TransportError{Kind: model.TransportUnknown}})))
	assert.Equal(t, []string{"PROTOCOL ERROR: no abuf"},
		outcomes(c.ClassifyProbe(model.RawProbeResult{ProbeID: 3, Outcome: model.ProtocolError{Detail: "no abuf"}})))
}

func TestProbeFailure(t *testing.T) {
	label, failed := ProbeFailure(model.RawProbeResult{ProbeID: 9, Outcome: model.Success{Payload: model.PingPayload{}}})
	assert.False(t, failed)
	assert.Empty(t, label)

	label, failed = ProbeFailure(model.RawProbeResult{ProbeID: 9, Outcome: model.TransportError{Kind: model.TransportConnect, Detail: "tls: handshake"}})
	assert.True(t, failed)
	assert.Equal(t, OutcomeConnectError, label)

	assert.Equal(t, "PROTOCOL ERROR: unexpected model.PingPayload", UnexpectedPayload(model.PingPayload{}))
}

func TestParseQueryType(t *testing.T) {
	qtype, err := ParseQueryType("aaaa")
	require.NoError(t, err)
	assert.Equal(t, dns.TypeAAAA, qtype)

	_, err = ParseQueryType("BOGUS")
	assert.True(t, errors.Is(err, ErrUnknownQueryType))
}
