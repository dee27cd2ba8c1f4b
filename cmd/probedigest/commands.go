package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jaxxstorm/probedigest/internal/aggregate"
	"github.com/jaxxstorm/probedigest/internal/atlas"
	"github.com/jaxxstorm/probedigest/internal/certs"
	"github.com/jaxxstorm/probedigest/internal/classify"
	"github.com/jaxxstorm/probedigest/internal/dnsclient"
	"github.com/jaxxstorm/probedigest/internal/hops"
	"github.com/jaxxstorm/probedigest/internal/localprobe"
	"github.com/jaxxstorm/probedigest/internal/lookup"
	"github.com/jaxxstorm/probedigest/internal/output"
	"github.com/jaxxstorm/probedigest/internal/reach"
)

type ResolveCmd struct {
	Name             string        `arg:"" name:"name" help:"Domain name to query."`
	Type             string        `short:"q" default:"AAAA" help:"Record type to query."`
	Nameserver       string        `help:"Have probes query this resolver instead of their own."`
	Local            bool          `short:"l" help:"Query from this host instead of remote probes."`
	Resolvers        []string      `name:"resolver" help:"Resolvers for --local (repeatable). Defaults to the system resolvers."`
	Transport        string        `enum:"udp,tcp,auto" default:"auto" help:"Transport for --local queries."`
	MaxTime          time.Duration `default:"2s" help:"Time budget per resolver for --local."`
	OnePerProbe      bool          `default:"true" negatable:"" help:"Count one answer per probe even when it has several resolvers."`
	NSID             bool          `name:"nsid" short:"n" help:"Ask for and display the resolver NSID."`
	DNSSEC           bool          `help:"Set the DNSSEC DO bit."`
	EDNSSize         uint16        `name:"edns-size" help:"EDNS0 buffer size to advertise."`
	DisplayResolvers bool          `help:"List the resolvers behind each class."`

	Source  `embed:""`
	Display `embed:""`
}

func (c ResolveCmd) localClient(logger *zap.Logger) *dnsclient.Client {
	return dnsclient.New(dnsclient.Options{
		DNSSEC:    c.DNSSEC,
		NSID:      c.NSID,
		Mode:      dnsclient.Mode(c.Transport),
		Timeout:   c.MaxTime,
		EDNS0Size: c.EDNSSize,
		Logger:    logger,
	})
}

// policy reports the buffer size the queries really advertised, which for
// local runs includes the client default.
func (c ResolveCmd) policy(qtype uint16, client *dnsclient.Client) classify.Policy {
	policy := classify.Policy{
		OnePerProbe: c.OnePerProbe,
		ShowNSID:    c.NSID,
		EDNSSize:    c.EDNSSize,
		QueryType:   qtype,
	}
	if client != nil {
		policy.EDNSSize = client.EDNS0Size()
	}
	return policy
}

func (c ResolveCmd) run(ctx context.Context, logger *zap.Logger) (digest, error) {
	qtype, err := classify.ParseQueryType(c.Type)
	if err != nil {
		return digest{}, err
	}

	var m atlas.Measurement
	var client *dnsclient.Client
	if c.Local {
		resolvers, err := localprobe.ResolverChain(c.Resolvers)
		if err != nil {
			return digest{}, err
		}
		client = c.localClient(logger)
		m, err = localprobe.Run(ctx, client, resolvers, c.Name, qtype, localprobe.Config{Timeout: c.MaxTime, Logger: logger})
		if err != nil {
			return digest{}, err
		}
	} else {
		m, err = c.Source.measurement(ctx, atlas.Definition{
			Kind:      atlas.KindDNS,
			Target:    c.Name,
			QueryType: c.Type,
			Resolver:  c.Nameserver,
			EDNSSize:  int(c.EDNSSize),
			NSID:      c.NSID,
			DNSSEC:    c.DNSSEC,
		}, logger)
		if err != nil {
			return digest{}, err
		}
	}

	classifier := classify.New(c.policy(qtype, client), logger)
	agg := aggregate.New(aggregate.Options{
		TrackProbes:    c.DisplayProbes,
		TrackResolvers: c.DisplayResolvers,
		TrackRTT:       c.DisplayRTT,
	})
	for _, result := range m.Results {
		agg.MarkProbe(result.ProbeID)
		for _, r := range classifier.ClassifyProbe(result) {
			agg.Add(aggregate.Contribution{
				Outcome:  r.Outcome,
				ProbeID:  result.ProbeID,
				Resolver: r.Responder,
				RTT:      r.RTT,
				HasRTT:   r.HasRTT,
			})
		}
	}
	return summarize(m, c.Sort, agg, output.Options{DisplayResolvers: c.DisplayResolvers})
}

type TracerouteCmd struct {
	Target         string        `arg:"" name:"target" help:"Host name or address to trace."`
	Protocol       string        `enum:"UDP,ICMP,TCP" default:"UDP" help:"Probe packet protocol."`
	FirstHop       int           `default:"1" help:"First TTL."`
	MaxHops        int           `default:"32" help:"Last TTL."`
	Size           int           `short:"z" help:"Packet size."`
	ResolveTarget  bool          `help:"Resolve a target name here and measure one of its addresses."`
	Address        string        `enum:"first,ipv4,ipv6" default:"first" help:"Which address --resolve-target keeps."`
	Annotate       bool          `short:"x" help:"Look up reverse DNS and origin AS of each hop."`
	Responder      string        `enum:"first,most-common" default:"first" help:"Which address represents a hop."`
	Parallelism    int           `default:"4" help:"Concurrent hop lookups."`
	Cache          string        `placeholder:"PATH" help:"SQLite file caching hop lookups between runs."`
	CacheTTL       time.Duration `default:"24h" help:"How long cached lookups stay valid."`
	LookupResolver []string      `name:"lookup-resolver" help:"Resolvers for hop lookups (repeatable). Defaults to the system resolvers."`
	LookupRate     float64       `default:"10" help:"Maximum lookup queries per second."`

	Source  `embed:""`
	Display `embed:""`
}

func (c TracerouteCmd) lookupClient(logger *zap.Logger) (*dnsclient.Client, error) {
	resolvers, err := localprobe.ResolverChain(c.LookupResolver)
	if err != nil {
		return nil, err
	}
	return dnsclient.New(dnsclient.Options{Servers: resolvers, Logger: logger}), nil
}

func (c TracerouteCmd) run(ctx context.Context, logger *zap.Logger) (digest, error) {
	target := c.Target
	if c.ResolveTarget {
		policy, err := lookup.ParseAddressPolicy(c.Address)
		if err != nil {
			return digest{}, err
		}
		client, err := c.lookupClient(logger)
		if err != nil {
			return digest{}, err
		}
		target, err = lookup.ResolveTarget(ctx, client, c.Target, policy)
		if err != nil {
			return digest{}, err
		}
		logger.Info("target resolved", zap.String("name", c.Target), zap.String("address", target))
	}

	m, err := c.Source.measurement(ctx, atlas.Definition{
		Kind:     atlas.KindTraceroute,
		Target:   target,
		Protocol: c.Protocol,
		FirstHop: c.FirstHop,
		MaxHops:  c.MaxHops,
		Size:     c.Size,
	}, logger)
	if err != nil {
		return digest{}, err
	}

	var reverse hops.ReverseResolver
	var asn hops.ASNResolver
	if c.Annotate {
		client, err := c.lookupClient(logger)
		if err != nil {
			return digest{}, err
		}
		var cache lookup.Cache = lookup.NewMemoryCache()
		if c.Cache != "" {
			disk, err := lookup.OpenSQLiteCache(c.Cache, logger)
			if err != nil {
				return digest{}, err
			}
			defer disk.Close()
			cache = disk
		}
		resolver := lookup.New(lookup.Config{
			Querier:       client,
			Cache:         cache,
			TTL:           c.CacheTTL,
			RatePerSecond: c.LookupRate,
			Logger:        logger,
		})
		reverse, asn = resolver, resolver
	}

	assembler := hops.NewAssembler(hops.Config{
		FirstHop:    c.FirstHop,
		MaxHops:     c.MaxHops,
		Annotate:    c.Annotate,
		Parallelism: c.Parallelism,
		Responder:   hops.ResponderPolicy(c.Responder),
		Logger:      logger,
	}, reverse, asn)
	records, stats := assembler.Assemble(ctx, m.Results)
	logger.Info("hops assembled", zap.Int("probes", stats.Probes), zap.Int("failed", stats.Failed))

	agg := aggregate.New(aggregate.Options{TrackProbes: c.DisplayProbes, TrackRTT: c.DisplayRTT})
	for _, result := range m.Results {
		agg.MarkProbe(result.ProbeID)
	}
	for _, contribution := range hops.PathContributions(m.Results) {
		agg.Add(contribution)
	}
	d, err := summarize(m, c.Sort, agg, output.Options{})
	if err != nil {
		return digest{}, err
	}
	d.summary.Hops = records
	return d, nil
}

type ReachCmd struct {
	Target  string `arg:"" name:"target" help:"Host name or address to ping."`
	Packets int    `default:"3" help:"Packets per probe."`
	Size    int    `short:"z" help:"Packet size."`

	Source  `embed:""`
	Display `embed:""`
}

func (c ReachCmd) run(ctx context.Context, logger *zap.Logger) (digest, error) {
	m, err := c.Source.measurement(ctx, atlas.Definition{
		Kind:    atlas.KindPing,
		Target:  c.Target,
		Packets: c.Packets,
		Size:    c.Size,
	}, logger)
	if err != nil {
		return digest{}, err
	}
	agg := aggregate.New(aggregate.Options{TrackProbes: c.DisplayProbes, TrackRTT: c.DisplayRTT})
	for _, result := range m.Results {
		agg.MarkProbe(result.ProbeID)
		agg.Add(reach.Classify(result))
	}
	stats := reach.Summarize(m.Results)
	logger.Debug("ping statistics",
		zap.Int("sent", stats.Sent),
		zap.Int("received", stats.Received),
		zap.Float64("loss", stats.Loss),
	)
	d, err := summarize(m, c.Sort, agg, output.Options{})
	if err != nil {
		return digest{}, err
	}
	d.summary.Ping = &stats
	return d, nil
}

type CertCmd struct {
	Target     string `arg:"" name:"target" help:"Host name or address to connect to."`
	Port       int    `default:"443" help:"TLS port."`
	HideExpiry bool   `help:"Do not include the expiry date in classes."`

	Source  `embed:""`
	Display `embed:""`
}

func (c CertCmd) run(ctx context.Context, logger *zap.Logger) (digest, error) {
	m, err := c.Source.measurement(ctx, atlas.Definition{
		Kind:   atlas.KindSSLCert,
		Target: c.Target,
		Port:   c.Port,
	}, logger)
	if err != nil {
		return digest{}, err
	}
	classifier := certs.New(certs.Options{HideExpiry: c.HideExpiry})
	agg := aggregate.New(aggregate.Options{TrackProbes: c.DisplayProbes})
	for _, result := range m.Results {
		agg.MarkProbe(result.ProbeID)
		agg.Add(classifier.Classify(result))
	}
	return summarize(m, c.Sort, agg, output.Options{})
}

func summarize(m atlas.Measurement, sort string, agg *aggregate.Aggregator, opts output.Options) (digest, error) {
	md, err := meta(m, sort)
	if err != nil {
		return digest{}, fmt.Errorf("summarize %s: %w", m, err)
	}
	return digest{summary: aggregate.Summarize(md, agg), options: opts}, nil
}
