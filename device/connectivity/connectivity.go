// Package connectivity reports whether the device can reach the server.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Status int

const (
	Unknown Status = iota
	Offline
	Online
)

func (s Status) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	}
	return "unknown"
}

type Observer interface {
	Status() Status
	// Subscribe calls fn on every status transition until cancelled.
	Subscribe(fn func(Status)) (cancel func())
}

// Manual is an Observer whose status is set by its owner.
type Manual struct {
	mu     sync.Mutex
	status Status
	feed   Feed[Status]
}

func NewManual(initial Status) *Manual {
	return &Manual{status: initial}
}

func (m *Manual) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manual) Subscribe(fn func(Status)) func() {
	return m.feed.OnChange(fn)
}

// Set changes the status and notifies subscribers if it differs.
func (m *Manual) Set(status Status) {
	m.mu.Lock()
	changed := m.status != status
	m.status = status
	m.mu.Unlock()
	if changed {
		m.feed.Publish(status)
	}
}

// Prober polls the server's ping endpoint.
type Prober struct {
	*Manual
	url      string
	client   *http.Client
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
}

func NewProber(baseURL string, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Prober {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		Manual:   NewManual(Unknown),
		url:      strings.TrimSuffix(baseURL, "/") + "/ping",
		client:   &http.Client{Timeout: 5 * time.Second},
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

func (p *Prober) Probe(ctx context.Context) Status {
	status := Offline
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err == nil {
		resp, err := p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				status = Online
			}
		}
	}
	if prev := p.Status(); prev != status {
		p.logger.Info("connectivity changed", "from", prev.String(), "to", status.String())
	}
	p.Set(status)
	return status
}

// Run probes once and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.Probe(ctx)
		}
	}
}
