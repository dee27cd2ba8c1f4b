// Package dnsdecode turns raw DNS wire payloads, as reported by measurement
// probes, into model.DecodedResponse values.
package dnsdecode

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jaxxstorm/probedigest/internal/model"
	"github.com/miekg/dns"
)

const (
	headerLen = 12

	DefaultMaxDisplayLength = 80
)

type Config struct {
	// QueryType selects which answer records count as answers. Zero means the
	// type from the question section.
	QueryType        uint16
	MaxDisplayLength int
}

type Decoder struct {
	config Config
}

func New(cfg Config) *Decoder {
	if cfg.MaxDisplayLength <= 0 {
		cfg.MaxDisplayLength = DefaultMaxDisplayLength
	}
	return &Decoder{config: cfg}
}

// Decode decodes a base64 payload with the default configuration.
func Decode(payload string) (model.DecodedResponse, error) {
	return New(Config{}).Decode(payload)
}

func (d *Decoder) Decode(payload string) (model.DecodedResponse, error) {
	wire, err := decodeBase64(payload)
	if err != nil {
		return model.DecodedResponse{}, newError(MalformedMessage, 0, err)
	}
	return d.DecodeWire(wire)
}

func (d *Decoder) DecodeWire(wire []byte) (model.DecodedResponse, error) {
	end, err := walk(wire)
	if err != nil {
		return model.DecodedResponse{}, err
	}
	if end != len(wire) {
		return model.DecodedResponse{}, newError(TrailingJunk, end, nil)
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return model.DecodedResponse{}, newError(MalformedMessage, 0, err)
	}
	return d.build(msg), nil
}

func (d *Decoder) build(msg *dns.Msg) model.DecodedResponse {
	resp := model.DecodedResponse{
		ID:        msg.Id,
		Rcode:     msg.Rcode,
		RcodeName: rcodeName(msg.Rcode),
		Flags: model.Flags{
			AuthenticData:    msg.AuthenticatedData,
			Truncated:        msg.Truncated,
			RecursionDesired: msg.RecursionDesired,
			CheckingDisabled: msg.CheckingDisabled,
		},
		QueryType: d.config.QueryType,
	}
	if len(msg.Question) > 0 {
		resp.QueryName = msg.Question[0].Name
		if resp.QueryType == 0 {
			resp.QueryType = msg.Question[0].Qtype
		}
	}

	for _, rr := range msg.Answer {
		answer := model.Answer{
			Type:  typeName(rr.Header().Rrtype),
			Value: d.render(rr),
		}
		if rr.Header().Rrtype == resp.QueryType {
			resp.Answers = append(resp.Answers, answer)
		} else {
			resp.Other = append(resp.Other, answer)
		}
	}

	if opt := msg.IsEdns0(); opt != nil {
		edns := &model.EDNS{UDPSize: opt.UDPSize(), DNSSECOK: opt.Do()}
		for _, o := range opt.Option {
			edns.Options = append(edns.Options, renderOption(o))
		}
		resp.EDNS = edns
	}
	return resp
}

// nameData lists the types whose record data holds only domain names and
// numbers, so case can be folded.
var nameData = map[uint16]bool{
	dns.TypeCNAME: true,
	dns.TypeDNAME: true,
	dns.TypeNS:    true,
	dns.TypePTR:   true,
	dns.TypeMX:    true,
	dns.TypeSRV:   true,
	dns.TypeSOA:   true,
}

// render returns the presentation form of the record data, without the owner,
// TTL, class and type columns.
func (d *Decoder) render(rr dns.RR) string {
	value := strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String()))
	if nameData[rr.Header().Rrtype] {
		value = strings.ToLower(value)
	}
	return truncate(value, d.config.MaxDisplayLength)
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// walk checks the message layout section by section and returns the number of
// bytes a well-formed message occupies.
func walk(wire []byte) (int, error) {
	if len(wire) < headerLen {
		return 0, newError(MalformedMessage, len(wire), errors.New("short header"))
	}
	qdcount := int(binary.BigEndian.Uint16(wire[4:]))
	rrcount := int(binary.BigEndian.Uint16(wire[6:])) +
		int(binary.BigEndian.Uint16(wire[8:])) +
		int(binary.BigEndian.Uint16(wire[10:]))

	off := headerLen
	for i := 0; i < qdcount; i++ {
		next, err := checkName(wire, off)
		if err != nil {
			return 0, err
		}
		if next+4 > len(wire) {
			return 0, newError(MalformedMessage, next, errors.New("short question"))
		}
		off = next + 4
	}
	for i := 0; i < rrcount; i++ {
		if _, err := checkName(wire, off); err != nil {
			return 0, err
		}
		_, next, err := dns.UnpackRR(wire, off)
		if err != nil {
			return 0, newError(MalformedMessage, off, err)
		}
		off = next
	}
	return off, nil
}

func checkName(wire []byte, off int) (int, error) {
	_, next, err := dns.UnpackDomainName(wire, off)
	if err == nil {
		return next, nil
	}
	if errors.Is(err, dns.ErrBuf) {
		return 0, newError(MalformedMessage, off, err)
	}
	return 0, newError(BadLabel, off, err)
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimRight(strings.TrimSpace(payload), "=")
	return base64.RawStdEncoding.DecodeString(payload)
}

func rcodeName(rcode int) string {
	if name, ok := dns.RcodeToString[rcode]; ok {
		return name
	}
	return "RCODE" + strconv.Itoa(rcode)
}

func typeName(rrtype uint16) string {
	if name, ok := dns.TypeToString[rrtype]; ok {
		return name
	}
	return "TYPE" + strconv.Itoa(int(rrtype))
}

var optionNames = map[uint16]string{
	dns.EDNS0NSID:    "NSID",
	dns.EDNS0SUBNET:  "ECS",
	dns.EDNS0COOKIE:  "COOKIE",
	dns.EDNS0PADDING: "PADDING",
	dns.EDNS0EDE:     "EDE",
}

func renderOption(o dns.EDNS0) model.EDNSOption {
	opt := model.EDNSOption{Code: o.Option(), Name: optionNames[o.Option()], Value: o.String()}
	if opt.Name == "" {
		opt.Name = "OPT" + strconv.Itoa(int(o.Option()))
	}
	if nsid, ok := o.(*dns.EDNS0_NSID); ok {
		opt.Value = nsidText(nsid.Nsid)
	}
	return opt
}

// nsidText shows the NSID payload as text when it is printable and as hex
// otherwise.
func nsidText(hexValue string) string {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return hexValue
	}
	for _, r := range string(raw) {
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			return hexValue
		}
	}
	return string(raw)
}
