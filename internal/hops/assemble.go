// Package hops merges per-probe traceroute reports into one ordered path.
package hops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/classify"
	"github.com/jaxxstorm/probedigest/internal/model"
	"go.uber.org/zap"
)

const (
	ValueTimeout     = "*"
	ValueUnreachable = "!"

	NoPTR        = "No PTR"
	UnknownOwner = "Unknown"
)

type ResponderPolicy string

const (
	// FirstResponder keeps the first address seen at a hop, scanning probes in
	// order and packets in order.
	FirstResponder ResponderPolicy = "first"
	// MostCommonResponder keeps the address seen most often, ties going to the
	// one seen first.
	MostCommonResponder ResponderPolicy = "most-common"
)

type ReverseResolver interface {
	ReverseLookup(ctx context.Context, addr string) (string, error)
}

type ASNResolver interface {
	ResolveASN(ctx context.Context, addr string) (model.ASNInfo, error)
}

type Config struct {
	FirstHop    int
	MaxHops     int
	Annotate    bool
	Parallelism int
	Responder   ResponderPolicy
	Logger      *zap.Logger
}

type Stats struct {
	Probes int
	Failed int
}

type Assembler struct {
	config  Config
	reverse ReverseResolver
	asn     ASNResolver
}

func NewAssembler(cfg Config, reverse ReverseResolver, asn ASNResolver) *Assembler {
	if cfg.FirstHop <= 0 {
		cfg.FirstHop = 1
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 32
	}
	if cfg.MaxHops < cfg.FirstHop {
		cfg.MaxHops = cfg.FirstHop
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Responder == "" {
		cfg.Responder = FirstResponder
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Assembler{config: cfg, reverse: reverse, asn: asn}
}

// Assemble returns one record per hop index from FirstHop to MaxHops inclusive,
// including hops nobody answered.
func (a *Assembler) Assemble(ctx context.Context, results []model.RawProbeResult) ([]model.HopRecord, Stats) {
	size := a.config.MaxHops - a.config.FirstHop + 1
	records := make([]model.HopRecord, size)
	tallies := make([]*tally, size)
	for i := range records {
		records[i] = model.HopRecord{Index: a.config.FirstHop + i, Values: []string{}}
		tallies[i] = newTally()
	}

	stats := Stats{}
	for _, result := range results {
		stats.Probes++
		reports, ok := traceroute(result)
		if !ok {
			stats.Failed++
			continue
		}
		for _, report := range reports {
			i := report.Hop - a.config.FirstHop
			if i < 0 || i >= size {
				a.config.Logger.Debug("hop outside configured range",
					zap.Int("probe", result.ProbeID),
					zap.Int("hop", report.Hop),
				)
				continue
			}
			rec := &records[i]
			rec.Reached = true
			if report.Error != "" {
				rec.Values = append(rec.Values, report.Error)
			}
			for _, packet := range report.Packets {
				value, from, rtt, hasRTT := describe(packet)
				rec.Values = append(rec.Values, value)
				if hasRTT {
					rec.RTTs = append(rec.RTTs, rtt)
				}
				if from != "" {
					tallies[i].add(from)
				}
			}
		}
	}

	for i := range records {
		records[i].Responder = tallies[i].pick(a.config.Responder)
	}
	if a.config.Annotate {
		a.annotate(ctx, records)
	}
	return records, stats
}

func traceroute(result model.RawProbeResult) ([]model.HopReport, bool) {
	switch outcome := result.Outcome.(type) {
	case model.Success:
		payload, ok := outcome.Payload.(model.TraceroutePayload)
		if !ok {
			return nil, false
		}
		reports := append([]model.HopReport(nil), payload.Hops...)
		sort.SliceStable(reports, func(i, j int) bool { return reports[i].Hop < reports[j].Hop })
		return reports, true
	case model.Timeout, model.TransportError, model.ProtocolError:
		return nil, false
	default:
		return nil, false
	}
}

func describe(packet model.Packet) (value string, from string, rtt float64, hasRTT bool) {
	switch p := packet.(type) {
	case model.PacketReply:
		return fmt.Sprintf("rtt:%.3f", p.RTT), p.From, p.RTT, true
	case model.PacketTimeout:
		return ValueTimeout, "", 0, false
	case model.PacketUnreachable:
		return ValueUnreachable, p.From, p.RTT, p.RTT > 0
	case model.PacketError:
		return p.Detail, p.From, 0, false
	default:
		return fmt.Sprintf("%T", packet), "", 0, false
	}
}

type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: map[string]int{}}
}

func (t *tally) add(addr string) {
	if _, ok := t.counts[addr]; !ok {
		t.order = append(t.order, addr)
	}
	t.counts[addr]++
}

func (t *tally) pick(policy ResponderPolicy) string {
	if len(t.order) == 0 {
		return ""
	}
	if policy != MostCommonResponder {
		return t.order[0]
	}
	best := t.order[0]
	for _, addr := range t.order[1:] {
		if t.counts[addr] > t.counts[best] {
			best = addr
		}
	}
	return best
}

type annotation struct {
	hostname string
	asn      model.ASNInfo
}

// annotate looks every distinct responder up once, concurrently, and only
// writes into records once all lookups have finished.
func (a *Assembler) annotate(ctx context.Context, records []model.HopRecord) {
	addrs := []string{}
	seen := map[string]struct{}{}
	for _, rec := range records {
		if rec.Responder == "" {
			continue
		}
		if _, ok := seen[rec.Responder]; ok {
			continue
		}
		seen[rec.Responder] = struct{}{}
		addrs = append(addrs, rec.Responder)
	}

	memo := map[string]annotation{}
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	sem := make(chan struct{}, a.config.Parallelism)

	for _, addr := range addrs {
		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			result := a.lookup(ctx, addr)
			mu.Lock()
			memo[addr] = result
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	for i := range records {
		result, ok := memo[records[i].Responder]
		if !ok {
			continue
		}
		records[i].Hostname = result.hostname
		records[i].ASN = result.asn.ASN
		records[i].ASOwner = result.asn.Owner
	}
}

func (a *Assembler) lookup(ctx context.Context, addr string) annotation {
	result := annotation{hostname: NoPTR, asn: model.ASNInfo{ASN: UnknownOwner, Owner: UnknownOwner}}
	if a.reverse != nil {
		name, err := a.reverse.ReverseLookup(ctx, addr)
		if err != nil {
			a.config.Logger.Debug("reverse lookup failed", zap.String("addr", addr), zap.Error(err))
		} else if name != "" {
			result.hostname = strings.TrimSuffix(name, ".")
		}
	}
	if a.asn != nil {
		info, err := a.asn.ResolveASN(ctx, addr)
		if err != nil {
			a.config.Logger.Debug("asn lookup failed", zap.String("addr", addr), zap.Error(err))
		} else {
			if info.ASN != "" {
				result.asn.ASN = info.ASN
			}
			if info.Owner != "" {
				result.asn.Owner = info.Owner
			}
		}
	}
	return result
}

// PathContributions turns each probe's report into one aggregator
// contribution keyed by the sequence of addresses it saw, so identical paths
// fall into the same class. The RTT is the first reply at the last hop.
func PathContributions(results []model.RawProbeResult) []aggregate.Contribution {
	out := make([]aggregate.Contribution, 0, len(results))
	for _, result := range results {
		c := aggregate.Contribution{ProbeID: result.ProbeID}
		if label, failed := classify.ProbeFailure(result); failed {
			c.Outcome = label
			out = append(out, c)
			continue
		}
		success := result.Outcome.(model.Success)
		if payload, ok := success.Payload.(model.TraceroutePayload); ok {
			c.Outcome, c.RTT, c.HasRTT = pathKey(payload.Hops)
		} else {
			c.Outcome = classify.UnexpectedPayload(success.Payload)
		}
		out = append(out, c)
	}
	return out
}

func pathKey(reports []model.HopReport) (string, float64, bool) {
	reports = append([]model.HopReport(nil), reports...)
	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Hop < reports[j].Hop })

	parts := make([]string, 0, len(reports))
	var lastRTT float64
	var hasRTT bool
	for _, report := range reports {
		addr := ValueTimeout
		hopRTT, hopHasRTT := 0.0, false
		for _, packet := range report.Packets {
			_, from, rtt, ok := describe(packet)
			if from != "" && addr == ValueTimeout {
				addr = from
			}
			if ok && !hopHasRTT {
				hopRTT, hopHasRTT = rtt, true
			}
		}
		parts = append(parts, addr)
		lastRTT, hasRTT = hopRTT, hopHasRTT
	}
	return strings.Join(parts, " "), lastRTT, hasRTT
}
