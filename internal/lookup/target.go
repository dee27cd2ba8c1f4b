package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// AddressPolicy picks one address when a target name has several.
type AddressPolicy string

const (
	AddressFirst AddressPolicy = "first"
	AddressIPv4  AddressPolicy = "ipv4"
	AddressIPv6  AddressPolicy = "ipv6"
)

var ErrNoAddress = errors.New("no usable address")

func ParseAddressPolicy(s string) (AddressPolicy, error) {
	switch p := AddressPolicy(strings.ToLower(s)); p {
	case "", AddressFirst:
		return AddressFirst, nil
	case AddressIPv4, AddressIPv6:
		return p, nil
	}
	return "", fmt.Errorf("unknown address policy %q", s)
}

// SelectAddress applies policy to addrs, which are expected in resolver
// order with IPv4 results first.
func SelectAddress(addrs []netip.Addr, policy AddressPolicy) (netip.Addr, error) {
	for _, a := range addrs {
		switch policy {
		case AddressIPv4:
			if !a.Is4() {
				continue
			}
		case AddressIPv6:
			if !a.Is6() || a.Is4In6() {
				continue
			}
		}
		return a, nil
	}
	return netip.Addr{}, fmt.Errorf("%w for policy %s", ErrNoAddress, policy)
}

// ResolveTarget returns target unchanged when it is already an address.
// Otherwise it queries A then AAAA records and applies policy.
func ResolveTarget(ctx context.Context, q Querier, target string, policy AddressPolicy) (string, error) {
	if addr, err := netip.ParseAddr(target); err == nil {
		return addr.String(), nil
	}
	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		if policy == AddressIPv4 && qtype == dns.TypeAAAA {
			continue
		}
		if policy == AddressIPv6 && qtype == dns.TypeA {
			continue
		}
		resp, err := q.Lookup(ctx, target, qtype)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", target, err)
		}
		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A.To4()); ok {
					addrs = append(addrs, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}
	addr, err := SelectAddress(addrs, policy)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	return addr.String(), nil
}
