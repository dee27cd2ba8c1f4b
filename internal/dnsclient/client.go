// Package dnsclient sends recursive DNS queries over UDP, TCP or UDP with
// TCP fallback on truncation.
package dnsclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

type Mode string

const (
	ModeUDP  Mode = "udp"
	ModeTCP  Mode = "tcp"
	ModeAuto Mode = "auto"
)

const (
	defaultTimeout   = 2 * time.Second
	defaultEDNS0Size = 1232
)

var (
	ErrNoServers     = errors.New("no dns servers configured")
	errEmptyResponse = errors.New("empty response")
)

type Options struct {
	DNSSEC    bool
	NSID      bool
	Mode      Mode
	Timeout   time.Duration
	Retries   int
	EDNS0Size uint16
	// Servers are used by Lookup, in order, until one answers.
	Servers []string
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.Retries <= 0 {
		o.Retries = 1
	}
	if o.EDNS0Size == 0 {
		o.EDNS0Size = defaultEDNS0Size
	}
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type Client struct {
	opts Options
	udp  Transport
	tcp  Transport
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return NewWithTransports(opts, newUDPTransport(opts.Timeout), newTCPTransport(opts.Timeout))
}

func NewWithTransports(opts Options, udp Transport, tcp Transport) *Client {
	return &Client{opts: opts.withDefaults(), udp: udp, tcp: tcp}
}

// EDNS0Size is the buffer size advertised in queries.
func (c *Client) EDNS0Size() uint16 {
	return c.opts.EDNS0Size
}

// BuildQuery returns a recursive query with EDNS0 and, if configured, the
// NSID option.
func (c *Client) BuildQuery(name string, qtype uint16) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(c.opts.EDNS0Size, c.opts.DNSSEC)
	if c.opts.NSID {
		opt := msg.IsEdns0()
		opt.Option = append(opt.Option, &dns.EDNS0_NSID{Code: dns.EDNS0NSID})
	}
	return msg
}

// Exchange sends msg to server and reports the response, its RTT and the
// transport that produced it. In auto mode a truncated UDP answer is
// retried over TCP.
func (c *Client) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, string, error) {
	server = NormalizeServer(server)
	var first Mode
	switch c.opts.Mode {
	case ModeTCP:
		first = ModeTCP
	case ModeUDP, ModeAuto:
		first = ModeUDP
	default:
		return nil, 0, "", fmt.Errorf("unsupported transport mode: %s", c.opts.Mode)
	}

	resp, rtt, err := c.send(ctx, first, server, msg)
	if c.opts.Mode == ModeAuto && err == nil && resp != nil && resp.Truncated {
		c.opts.Logger.Debug("udp truncated, retrying with tcp", zap.String("server", server))
		resp, rtt, err = c.send(ctx, ModeTCP, server, msg)
		return resp, rtt, string(ModeTCP), err
	}
	return resp, rtt, string(first), err
}

func (c *Client) send(ctx context.Context, mode Mode, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	transport := c.udp
	if mode == ModeTCP {
		transport = c.tcp
	}
	logger := c.opts.Logger.With(zap.String("transport", string(mode)), zap.String("server", server))

	var err error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		var resp *dns.Msg
		var rtt time.Duration
		resp, rtt, err = transport.Exchange(ctx, server, msg.Copy())
		if err == nil {
			logger.Debug("dns exchange", zap.Stringer("request", msg), zap.Stringer("response", resp), zap.Duration("rtt", rtt))
			return resp, rtt, nil
		}
		logger.Debug("dns exchange failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, 0, err
}

// Lookup sends name/qtype to the configured servers in order and returns the
// first response, whatever its rcode.
func (c *Client) Lookup(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if len(c.opts.Servers) == 0 {
		return nil, ErrNoServers
	}
	var failures []error
	for _, server := range c.opts.Servers {
		ctxReq, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		resp, _, _, err := c.Exchange(ctxReq, server, c.BuildQuery(name, qtype))
		cancel()
		if err == nil && resp == nil {
			err = errEmptyResponse
		}
		if err == nil {
			return resp, nil
		}
		failures = append(failures, fmt.Errorf("%s: %w", server, err))
	}
	return nil, errors.Join(failures...)
}

// NormalizeServer adds port 53 to a bare IPv4 or IPv6 address.
func NormalizeServer(server string) string {
	server = strings.TrimSpace(server)
	if server == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}
