package dnsclient

import (
	"context"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// MockTransport answers through Responder and records which servers were asked.
type MockTransport struct {
	Responder func(server string, msg *dns.Msg) (*dns.Msg, time.Duration, error)

	mu      sync.Mutex
	servers []string
}

func (m *MockTransport) Exchange(ctx context.Context, server string, msg *dns.Msg) (*dns.Msg, time.Duration, error) {
	m.mu.Lock()
	m.servers = append(m.servers, server)
	m.mu.Unlock()
	if m.Responder == nil {
		return nil, 0, nil
	}
	return m.Responder(server, msg)
}

func (m *MockTransport) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.servers...)
}
