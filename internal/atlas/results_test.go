package atlas

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaxxstorm/probedigest/internal/model"
)

func abuf(t *testing.T) string {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Response = true
	rr, err := dns.NewRR("example.com. 300 IN A 192.0.2.1")
	require.NoError(t, err)
	m.Answer = []dns.RR{rr}
	wire, err := m.Pack()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wire)
}

func TestParseDNSResults(t *testing.T) {
	buf := abuf(t)
	data := fmt.Sprintf(`[
	  {"prb_id": 1, "timestamp": 1700000000, "dst_addr": "192.0.2.53", "result": {"abuf": %q, "rt": 12.5}},
	  {"prb_id": 2, "timestamp": 1700000001, "error": {"timeout": 5000}},
	  {"prb_id": 3, "timestamp": 1700000002, "error": {"socket": "connect failed"}},
	  {"prb_id": 4, "timestamp": 1700000003, "resultset": [
	    {"dst_addr": "10.0.0.1", "error": {"TUCONNECT": "Connection refused"}},
	    {"dst_addr": "10.0.0.2", "result": {"abuf": %q}}
	  ]},
	  {"prb_id": 5, "timestamp": 1700000004}
	]`, buf, buf)

	results, err := ParseResults(KindDNS, []byte(data))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, 1, results[0].ProbeID)
	assert.Equal(t, int64(1700000000), results[0].Timestamp.Unix())
	payload := results[0].Outcome.(model.Success).Payload.(model.DNSPayload)
	require.Len(t, payload.Attempts, 1)
	assert.Equal(t, "192.0.2.53", payload.Attempts[0].Responder)
	assert.Equal(t, buf, payload.Attempts[0].Payload)
	assert.True(t, payload.Attempts[0].HasRTT)
	assert.Equal(t, 12.5, payload.Attempts[0].RTT)

	assert.Equal(t, model.Timeout{}, results[1].Outcome)
	assert.Equal(t, model.TransportError{Kind: model.TransportNetwork, Detail: "connect failed"}, results[2].Outcome)

	set := results[3].Outcome.(model.Success).Payload.(model.DNSPayload)
	require.Len(t, set.Attempts, 2)
	require.NotNil(t, set.Attempts[0].Failure)
	assert.Equal(t, model.TransportConnect, set.Attempts[0].Failure.Kind)
	assert.Nil(t, set.Attempts[1].Failure)
	assert.False(t, set.Attempts[1].HasRTT)

	assert.IsType(t, model.ProtocolError{}, results[4].Outcome)
}

func TestParseUnknownErrorObject(t *testing.T) {
	results, err := ParseResults(KindDNS, []byte(`[{"prb_id": 9, "error": {"senderror": "no route"}}]`))
	require.NoError(t, err)
	assert.Equal(t, model.TransportError{Kind: model.TransportUnknown, Detail: "senderror: no route"}, results[0].Outcome)
}

func TestParseTracerouteResults(t *testing.T) {
	data := `[{"prb_id": 7, "timestamp": 1700000000, "dst_addr": "192.0.2.9", "dst_name": "example.net", "result": [
	  {"hop": 1, "result": [{"from": "10.0.0.1", "rtt": 1.1}, {"x": "*"}, {"from": "10.0.0.1", "rtt": 1.3}]},
	  {"hop": 2, "result": [{"from": "192.0.2.9", "rtt": 9.0, "err": "N"}, {"error": "sendto failed"}]},
	  {"hop": 255, "error": "no route to host"}
	]}]`
	results, err := ParseResults(KindTraceroute, []byte(data))
	require.NoError(t, err)
	payload := results[0].Outcome.(model.Success).Payload.(model.TraceroutePayload)
	assert.Equal(t, "192.0.2.9", payload.Target)
	require.Len(t, payload.Hops, 3)

	assert.Equal(t, []model.Packet{
		model.PacketReply{From: "10.0.0.1", RTT: 1.1},
		model.PacketTimeout{},
		model.PacketReply{From: "10.0.0.1", RTT: 1.3},
	}, payload.Hops[0].Packets)
	assert.Equal(t, []model.Packet{
		model.PacketUnreachable{From: "192.0.2.9", Code: "N", RTT: 9.0},
		model.PacketError{Detail: "sendto failed"},
	}, payload.Hops[1].Packets)
	assert.Equal(t, 255, payload.Hops[2].Hop)
	assert.Equal(t, "no route to host", payload.Hops[2].Error)
}

func TestParsePingResults(t *testing.T) {
	data := `[
	  {"prb_id": 1, "sent": 3, "rcvd": 2, "result": [{"rtt": 10.0}, {"x": "*"}, {"rtt": 20.0}]},
	  {"prb_id": 2, "result": [{"error": "sendto failed"}, {"error": "sendto failed"}]}
	]`
	results, err := ParseResults(KindPing, []byte(data))
	require.NoError(t, err)
	assert.Equal(t, model.Success{Payload: model.PingPayload{Sent: 3, Received: 2, RTTs: []float64{10, 20}}}, results[0].Outcome)
	assert.Equal(t, model.TransportError{Kind: model.TransportNetwork, Detail: "sendto failed; sendto failed"}, results[1].Outcome)
}

func TestParseCertResults(t *testing.T) {
	data := `[
	  {"prb_id": 1, "cert": ["-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----"]},
	  {"prb_id": 2, "err": "connect: timeout"},
	  {"prb_id": 3, "err": "connection refused"},
	  {"prb_id": 4, "dnserr": "non-recoverable failure in name resolution"}
	]`
	results, err := ParseResults(KindSSLCert, []byte(data))
	require.NoError(t, err)
	payload := results[0].Outcome.(model.Success).Payload.(model.CertPayload)
	assert.Len(t, payload.Chain, 1)
	assert.Equal(t, model.Timeout{}, results[1].Outcome)
	assert.Equal(t, model.TransportConnect, results[2].Outcome.(model.TransportError).Kind)
	assert.Equal(t, model.TransportNetwork, results[3].Outcome.(model.TransportError).Kind)
}

func TestParseResultsRejectsGarbage(t *testing.T) {
	_, err := ParseResults(KindPing, []byte(`{"not": "an array"}`))
	assert.Error(t, err)

	_, err = ParseResults("http", []byte(`[{}]`))
	assert.Error(t, err)

	results, err := ParseResults(KindPing, []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, results)
}
