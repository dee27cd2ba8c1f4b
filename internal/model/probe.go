package model

import "time"

// RawProbeResult is one probe's report for one measurement.
type RawProbeResult struct {
	ProbeID   int       `json:"probe_id"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"-"`
}

// Outcome is implemented by Success, Timeout, TransportError and ProtocolError.
type Outcome interface {
	outcome()
}

type Success struct {
	Payload Payload
}

type Timeout struct{}

type TransportError struct {
	Kind   TransportKind
	Detail string
}

type ProtocolError struct {
	Detail string
}

func (Success) outcome()        {}
func (Timeout) outcome()        {}
func (TransportError) outcome() {}
func (ProtocolError) outcome()  {}

// Payload is the measurement-specific body of a Success outcome.
type Payload interface {
	payload()
}

type DNSPayload struct {
	Attempts []ResolverAttempt
}

type TraceroutePayload struct {
	Target string
	Hops   []HopReport
}

type PingPayload struct {
	Sent     int
	Received int
	RTTs     []float64
}

type CertPayload struct {
	Chain []string
}

func (DNSPayload) payload()        {}
func (TraceroutePayload) payload() {}
func (PingPayload) payload()       {}
func (CertPayload) payload()       {}

type TransportKind string

const (
	TransportTimeout TransportKind = "timeout"
	TransportNetwork TransportKind = "network"
	TransportConnect TransportKind = "connect"
	TransportUnknown TransportKind = "unknown"
)

// ResolverAttempt is one resolver's answer (or failure) within a DNS probe result.
// Exactly one of Payload and Failure is set.
type ResolverAttempt struct {
	Responder string
	Payload   string
	Failure   *AttemptFailure
	RTT       float64
	HasRTT    bool
}

type AttemptFailure struct {
	Kind   TransportKind
	Detail string
}

// HopReport is what one probe saw at one hop index.
type HopReport struct {
	Hop     int
	Packets []Packet
	Error   string
}

// Packet is implemented by PacketReply, PacketTimeout, PacketUnreachable and PacketError.
type Packet interface {
	packet()
}

type PacketReply struct {
	From string
	RTT  float64
}

type PacketTimeout struct{}

type PacketUnreachable struct {
	From string
	Code string
	RTT  float64
}

type PacketError struct {
	From   string
	Detail string
}

func (PacketReply) packet()       {}
func (PacketTimeout) packet()     {}
func (PacketUnreachable) packet() {}
func (PacketError) packet()       {}

type ASNInfo struct {
	ASN   string `json:"asn"`
	Owner string `json:"owner"`
}
