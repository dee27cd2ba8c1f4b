package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jaxxstorm/probedigest/internal/model"
)

// Querier is satisfied by *dnsclient.Client.
type Querier interface {
	Lookup(ctx context.Context, name string, qtype uint16) (*dns.Msg, error)
}

const (
	DefaultTTL       = 24 * time.Hour
	DefaultRate      = 10
	cymruOrigin4     = "origin.asn.cymru.com."
	cymruOrigin6     = "origin6.asn.cymru.com."
	cymruASNSuffix   = ".asn.cymru.com."
	reversePrefix    = "ptr:"
	originPrefix     = "asn:"
	ownerPrefix      = "asowner:"
	noResultSentinel = "-"
)

type Config struct {
	Querier Querier
	Cache   Cache
	TTL     time.Duration
	// RatePerSecond bounds queries sent to the network. Cache hits are free.
	RatePerSecond float64
	Logger        *zap.Logger
}

// Resolver answers the reverse-DNS and ASN questions asked by the hop
// assembler. Both lookups are cached, negative answers included.
type Resolver struct {
	q       Querier
	cache   Cache
	ttl     time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = DefaultRate
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		q:       cfg.Querier,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  cfg.Logger,
	}
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if r.q == nil {
		return nil, fmt.Errorf("lookup: no querier configured")
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.q.Lookup(ctx, name, qtype)
}

// ReverseLookup returns the first PTR target for addr without the trailing
// dot, or "" when the address has no PTR record.
func (r *Resolver) ReverseLookup(ctx context.Context, addr string) (string, error) {
	key := reversePrefix + addr
	if v, ok := r.cache.Get(key); ok {
		if v == noResultSentinel {
			return "", nil
		}
		return v, nil
	}
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return "", err
	}
	resp, err := r.query(ctx, arpa, dns.TypePTR)
	if err != nil {
		return "", err
	}
	name := ""
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			name = strings.TrimSuffix(ptr.Ptr, ".")
			break
		}
	}
	if name == "" {
		r.cache.Put(key, noResultSentinel, r.ttl)
	} else {
		r.cache.Put(key, name, r.ttl)
	}
	r.logger.Debug("reverse lookup", zap.String("addr", addr), zap.String("name", name))
	return name, nil
}

// ResolveASN maps addr to its origin AS and the AS owner through the Team
// Cymru DNS interface. An empty ASN means the address is not announced.
func (r *Resolver) ResolveASN(ctx context.Context, addr string) (model.ASNInfo, error) {
	key := originPrefix + addr
	if v, ok := r.cache.Get(key); ok {
		var info model.ASNInfo
		if err := json.Unmarshal([]byte(v), &info); err == nil {
			return info, nil
		}
	}
	name, err := OriginQueryName(addr)
	if err != nil {
		return model.ASNInfo{}, err
	}
	resp, err := r.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return model.ASNInfo{}, err
	}
	var info model.ASNInfo
	if txt := firstTXT(resp); txt != "" {
		asn, ok := ParseOriginTXT(txt)
		if ok {
			info.ASN = strconv.Itoa(asn)
			owner, err := r.asOwner(ctx, asn)
			if err != nil {
				return model.ASNInfo{}, err
			}
			info.Owner = owner
		}
	}
	if raw, err := json.Marshal(info); err == nil {
		r.cache.Put(key, string(raw), r.ttl)
	}
	return info, nil
}

func (r *Resolver) asOwner(ctx context.Context, asn int) (string, error) {
	key := ownerPrefix + strconv.Itoa(asn)
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}
	resp, err := r.query(ctx, "AS"+strconv.Itoa(asn)+cymruASNSuffix, dns.TypeTXT)
	if err != nil {
		return "", err
	}
	owner := ParseOwnerTXT(firstTXT(resp))
	r.cache.Put(key, owner, r.ttl)
	return owner, nil
}

// OriginQueryName builds the Cymru origin query for addr, for example
// 4.3.2.1.origin.asn.cymru.com. for 1.2.3.4.
func OriginQueryName(addr string) (string, error) {
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasSuffix(arpa, ".in-addr.arpa."):
		return strings.TrimSuffix(arpa, "in-addr.arpa.") + cymruOrigin4, nil
	case strings.HasSuffix(arpa, ".ip6.arpa."):
		return strings.TrimSuffix(arpa, "ip6.arpa.") + cymruOrigin6, nil
	}
	return "", fmt.Errorf("unexpected reverse name %q", arpa)
}

// ParseOriginTXT reads the first ASN from a record like
// "13335 | 1.1.1.0/24 | AU | apnic | 2011-08-11". Multi-origin prefixes
// list several ASNs separated by spaces.
func ParseOriginTXT(txt string) (int, bool) {
	field, _, _ := strings.Cut(txt, "|")
	fields := strings.Fields(field)
	if len(fields) == 0 {
		return 0, false
	}
	asn, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, false
	}
	return asn, true
}

// ParseOwnerTXT returns the last field of
// "13335 | US | arin | 2010-07-14 | CLOUDFLARENET, US".
func ParseOwnerTXT(txt string) string {
	parts := strings.Split(txt, "|")
	if len(parts) < 5 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}

func firstTXT(resp *dns.Msg) string {
	if resp == nil {
		return ""
	}
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			return strings.Join(txt.Txt, "")
		}
	}
	return ""
}
