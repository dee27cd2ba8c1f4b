package dnsclient

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

type Transport interface {
	Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error)
}

// netTransport sends one query over "udp" or "tcp". The context deadline, when
// set, replaces the configured timeout.
type netTransport struct {
	network string
	timeout time.Duration
}

func newUDPTransport(timeout time.Duration) Transport {
	return &netTransport{network: "udp", timeout: timeout}
}

func newTCPTransport(timeout time.Duration) Transport {
	return &netTransport{network: "tcp", timeout: timeout}
}

func (t *netTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	client := &dns.Client{Net: t.network, Timeout: t.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(deadline)
	}
	return client.ExchangeContext(ctx, msg, server)
}
