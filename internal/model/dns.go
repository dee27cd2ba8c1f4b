package model

import "github.com/miekg/dns"

// DecodedResponse is the structured form of one DNS wire message.
type DecodedResponse struct {
	ID        uint16   `json:"id"`
	Rcode     int      `json:"rcode"`
	RcodeName string   `json:"rcode_name"`
	Flags     Flags    `json:"flags"`
	QueryName string   `json:"query_name"`
	QueryType uint16   `json:"query_type"`
	Answers   []Answer `json:"answers,omitempty"`
	Other     []Answer `json:"other,omitempty"`
	EDNS      *EDNS    `json:"edns,omitempty"`
}

type Flags struct {
	AuthenticData    bool `json:"ad"`
	Truncated        bool `json:"tc"`
	RecursionDesired bool `json:"rd"`
	CheckingDisabled bool `json:"cd"`
}

type Answer struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type EDNS struct {
	UDPSize  uint16       `json:"udp_size"`
	DNSSECOK bool         `json:"do"`
	Options  []EDNSOption `json:"options,omitempty"`
}

type EDNSOption struct {
	Code  uint16 `json:"code"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NSID returns the first NSID option carried in the response.
func (r DecodedResponse) NSID() (string, bool) {
	if r.EDNS == nil {
		return "", false
	}
	for _, opt := range r.EDNS.Options {
		if opt.Code == dns.EDNS0NSID {
			return opt.Value, true
		}
	}
	return "", false
}
