// Package atlas talks to the RIPE Atlas measurement API: it builds one-off
// measurement definitions, waits for probes to report and converts their
// results into model.RawProbeResult values.
package atlas

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

type Kind string

const (
	KindDNS        Kind = "dns"
	KindTraceroute Kind = "traceroute"
	KindPing       Kind = "ping"
	KindSSLCert    Kind = "sslcert"
)

const (
	DefaultRequested = 5
	// msmRequested is sent when probes are reused from an older
	// measurement; the API needs a number but allocates whatever that
	// measurement had.
	msmRequested = 500
)

var ErrIncompatibleSelection = errors.New("specify country, area, asn, prefix or probes, not more than one")

// Selection describes which probes run the measurement.
type Selection struct {
	Country        string
	Area           string
	ASN            string
	Prefix         string
	Probes         []string
	OldMeasurement string
	Requested      int
	Include        []string
	Exclude        []string
}

// Definition is one one-off measurement to submit.
type Definition struct {
	Kind        Kind
	Target      string
	Description string
	AF          int
	Private     bool
	Spread      int
	Selection   Selection

	// dns; probes use their own resolvers unless Resolver is set
	QueryType  string
	QueryClass string
	Resolver   string
	EDNSSize   int
	NSID       bool
	DNSSEC     bool

	// traceroute
	Protocol string
	FirstHop int
	MaxHops  int

	// ping
	Packets int

	// ping, traceroute
	Size int

	// sslcert
	Port int
}

type requestBody struct {
	IsOneoff    bool            `json:"is_oneoff"`
	Definitions []definitionDoc `json:"definitions"`
	Probes      []probeSpec     `json:"probes"`
}

type definitionDoc struct {
	Type             Kind   `json:"type"`
	Target           string `json:"target,omitempty"`
	Description      string `json:"description"`
	AF               int    `json:"af"`
	IsPublic         *bool  `json:"is_public,omitempty"`
	Spread           int    `json:"spread,omitempty"`
	QueryType        string `json:"query_type,omitempty"`
	QueryClass       string `json:"query_class,omitempty"`
	QueryArgument    string `json:"query_argument,omitempty"`
	UseProbeResolver bool   `json:"use_probe_resolver,omitempty"`
	UDPPayloadSize   int    `json:"udp_payload_size,omitempty"`
	SetNSIDBit       bool   `json:"set_nsid_bit,omitempty"`
	SetDOBit         bool   `json:"set_do_bit,omitempty"`
	SetRDBit         bool   `json:"set_rd_bit,omitempty"`
	Protocol         string `json:"protocol,omitempty"`
	FirstHop         int    `json:"first_hop,omitempty"`
	MaxHops          int    `json:"max_hops,omitempty"`
	Packets          int    `json:"packets,omitempty"`
	Size             int    `json:"size,omitempty"`
	Port             int    `json:"port,omitempty"`
}

type probeSpec struct {
	Requested int       `json:"requested"`
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	Tags      *probeTag `json:"tags,omitempty"`
}

type probeTag struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude,omitempty"`
}

// NormalizeTarget converts an internationalized name to its ASCII form.
// Addresses pass through unchanged.
func NormalizeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("empty target")
	}
	if addr, err := netip.ParseAddr(target); err == nil {
		return addr.String(), nil
	}
	ascii, err := idna.Lookup.ToASCII(target)
	if err != nil {
		return "", errors.Wrapf(err, "invalid target %q", target)
	}
	return ascii, nil
}

func (s Selection) probeSpec(af int) (probeSpec, string, error) {
	set := 0
	for _, v := range []string{s.Country, s.Area, s.ASN, s.Prefix} {
		if v != "" {
			set++
		}
	}
	if len(s.Probes) > 0 {
		set++
	}
	if set > 1 {
		return probeSpec{}, "", ErrIncompatibleSelection
	}

	ps := probeSpec{Requested: s.Requested}
	if ps.Requested == 0 {
		ps.Requested = DefaultRequested
	}
	var from string
	switch {
	case s.OldMeasurement != "":
		ps.Requested = msmRequested
		ps.Type, ps.Value = "msm", s.OldMeasurement
		from = " from probes of measurement #" + s.OldMeasurement
	case len(s.Probes) > 0:
		ps.Requested = len(s.Probes)
		ps.Type, ps.Value = "probes", strings.Join(s.Probes, ",")
	case s.Country != "":
		ps.Type, ps.Value = "country", s.Country
		from = " from " + s.Country
	case s.Area != "":
		ps.Type, ps.Value = "area", s.Area
		from = " from " + s.Area
	case s.ASN != "":
		ps.Type, ps.Value = "asn", s.ASN
		from = " from AS #" + s.ASN
	case s.Prefix != "":
		ps.Type, ps.Value = "prefix", s.Prefix
		from = " from prefix " + s.Prefix
	default:
		ps.Type, ps.Value = "area", "WW"
	}

	tags := &probeTag{Include: append([]string{}, s.Include...), Exclude: s.Exclude}
	if af == 6 {
		tags.Include = append(tags.Include, "system-ipv6-works")
	} else {
		tags.Include = append(tags.Include, "system-ipv4-works")
	}
	ps.Tags = tags
	return ps, from, nil
}

// Requested is the number of probes the definition asks for.
func (d Definition) Requested() int {
	ps, _, err := d.Selection.probeSpec(d.af())
	if err != nil {
		return 0
	}
	return ps.Requested
}

func (d Definition) af() int {
	if d.AF == 6 {
		return 6
	}
	return 4
}

// Body validates the definition and returns the API request document.
func (d Definition) Body() (any, error) {
	switch d.Kind {
	case KindDNS, KindTraceroute, KindPing, KindSSLCert:
	default:
		return nil, fmt.Errorf("unknown measurement kind %q", d.Kind)
	}
	target, err := NormalizeTarget(d.Target)
	if err != nil {
		return nil, err
	}
	ps, from, err := d.Selection.probeSpec(d.af())
	if err != nil {
		return nil, err
	}

	doc := definitionDoc{
		Type:        d.Kind,
		Description: d.Description,
		AF:          d.af(),
		Spread:      d.Spread,
	}
	if doc.Description == "" {
		doc.Description = fmt.Sprintf("%s %s", d.Kind, target)
	}
	doc.Description += from
	if d.Private {
		public := false
		doc.IsPublic = &public
	}

	switch d.Kind {
	case KindDNS:
		doc.QueryArgument = target
		doc.QueryType = strings.ToUpper(d.QueryType)
		if doc.QueryType == "" {
			doc.QueryType = "AAAA"
		}
		doc.QueryClass = strings.ToUpper(d.QueryClass)
		if doc.QueryClass == "" {
			doc.QueryClass = "IN"
		}
		doc.SetRDBit = true
		if d.Resolver != "" {
			doc.Target = d.Resolver
		} else {
			doc.UseProbeResolver = true
		}
		doc.UDPPayloadSize = d.EDNSSize
		doc.SetNSIDBit = d.NSID
		doc.SetDOBit = d.DNSSEC
	case KindTraceroute:
		doc.Target = target
		doc.Protocol = strings.ToUpper(d.Protocol)
		if doc.Protocol == "" {
			doc.Protocol = "UDP"
		}
		doc.FirstHop = d.FirstHop
		doc.MaxHops = d.MaxHops
		doc.Size = d.Size
	case KindPing:
		doc.Target = target
		doc.Packets = d.Packets
		doc.Size = d.Size
	case KindSSLCert:
		doc.Target = target
		doc.Port = d.Port
		if doc.Port == 0 {
			doc.Port = 443
		}
	}

	return requestBody{
		IsOneoff:    true,
		Definitions: []definitionDoc{doc},
		Probes:      []probeSpec{ps},
	}, nil
}
