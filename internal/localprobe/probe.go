// Package localprobe runs a DNS measurement from this host against a chain
// of resolvers and reports it in the same shape as a remote measurement, so
// it can be classified and aggregated the same way.
package localprobe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/jaxxstorm/probedigest/internal/atlas"
	"github.com/jaxxstorm/probedigest/internal/dnsclient"
	"github.com/jaxxstorm/probedigest/internal/model"
)

// ProbeID is the id reported for the local host.
const ProbeID = 0

var ErrNoResolvers = errors.New("no resolvers configured")

type Config struct {
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

// Run asks every resolver in order and returns a one-probe measurement with
// one attempt per resolver. Transport failures are recorded on the attempt.
func Run(ctx context.Context, client *dnsclient.Client, resolvers []string, name string, qtype uint16, cfg Config) (atlas.Measurement, error) {
	if len(resolvers) == 0 {
		return atlas.Measurement{}, ErrNoResolvers
	}
	if _, ok := dns.TypeToString[qtype]; !ok {
		return atlas.Measurement{}, fmt.Errorf("unsupported rrtype: %d", qtype)
	}
	target, err := atlas.NormalizeTarget(name)
	if err != nil {
		return atlas.Measurement{}, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	id, err := uuid.NewV7()
	if err != nil {
		return atlas.Measurement{}, fmt.Errorf("measurement id: %w", err)
	}

	started := cfg.Now()
	attempts := make([]model.ResolverAttempt, 0, len(resolvers))
	for _, resolver := range resolvers {
		resolver = dnsclient.NormalizeServer(resolver)
		query := client.BuildQuery(target, qtype)

		ctxReq, cancel := context.WithTimeout(ctx, cfg.Timeout)
		resp, rtt, transport, err := client.Exchange(ctxReq, resolver, query)
		cancel()

		attempts = append(attempts, attempt(resolver, resp, rtt, err))
		cfg.Logger.Debug("resolver answered",
			zap.String("resolver", resolver),
			zap.String("transport", transport),
			zap.Duration("rtt", rtt),
			zap.Error(err),
		)
	}

	return atlas.Measurement{
		ID:              "local-" + id.String(),
		Kind:            atlas.KindDNS,
		Target:          target,
		ProbesRequested: 1,
		Status:          atlas.StatusStopped,
		CompletedAt:     cfg.Now().UTC(),
		Results: []model.RawProbeResult{{
			ProbeID:   ProbeID,
			Timestamp: started.UTC(),
			Outcome:   model.Success{Payload: model.DNSPayload{Attempts: attempts}},
		}},
	}, nil
}

func attempt(resolver string, resp *dns.Msg, rtt time.Duration, err error) model.ResolverAttempt {
	a := model.ResolverAttempt{Responder: resolver}
	if err != nil {
		a.Failure = &model.AttemptFailure{Kind: dnsclient.FailureKind(err), Detail: err.Error()}
		return a
	}
	if resp == nil {
		a.Failure = &model.AttemptFailure{Kind: model.TransportUnknown, Detail: "empty response"}
		return a
	}
	wire, err := resp.Pack()
	if err != nil {
		a.Failure = &model.AttemptFailure{Kind: model.TransportUnknown, Detail: "repack response: " + err.Error()}
		return a
	}
	a.Payload = base64.StdEncoding.EncodeToString(wire)
	a.RTT = float64(rtt) / float64(time.Millisecond)
	a.HasRTT = true
	return a
}
