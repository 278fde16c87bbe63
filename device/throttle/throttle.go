// Package throttle guards outgoing requests per endpoint with a minimum
// interval and a single in-flight marker.
package throttle

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval      = time.Second
	DefaultStaleAfter    = 5 * time.Second
	DefaultSafetyRelease = 10 * time.Second

	// Intervals below this are not enforced by elapsed time, only by the
	// in-flight marker.
	MinEnforcedInterval = time.Second
)

// Rule applies Interval to every endpoint whose normalized path contains
// Match. Rules are checked in order; the first match wins.
type Rule struct {
	Match    string
	Interval time.Duration
}

type Options struct {
	Rules         []Rule
	Default       time.Duration
	StaleAfter    time.Duration
	SafetyRelease time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

type entry struct {
	last          time.Time
	inFlight      bool
	inFlightSince time.Time
	generation    uint64
	timer         clockwork.Timer
}

type Manager struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
}

func New(opts Options) *Manager {
	if opts.Default <= 0 {
		opts.Default = DefaultInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SafetyRelease <= 0 {
		opts.SafetyRelease = DefaultSafetyRelease
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts, entries: map[string]*entry{}}
}

// Normalize strips origin, query string and fragment from an endpoint.
func Normalize(endpoint string) string {
	p := endpoint
	if u, err := url.Parse(endpoint); err == nil {
		p = u.Path
	} else {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

// Interval returns the configured minimum interval for endpoint.
func (m *Manager) Interval(endpoint string) time.Duration {
	key := Normalize(endpoint)
	for _, r := range m.opts.Rules {
		if strings.Contains(key, r.Match) {
			return r.Interval
		}
	}
	return m.opts.Default
}

// CanProceed reports whether a call to endpoint may start now. A stale
// in-flight marker is cleared as a side effect.
func (m *Manager) CanProceed(endpoint string) bool {
	key := Normalize(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canProceedLocked(key)
}

func (m *Manager) canProceedLocked(key string) bool {
	e := m.entries[key]
	if e == nil {
		return true
	}
	now := m.opts.Clock.Now()

	if e.inFlight {
		age := now.Sub(e.inFlightSince)
		if age < m.opts.StaleAfter {
			return false
		}
		m.opts.Logger.Warn("clearing stale in-flight marker", "endpoint", key, "age", age)
		m.clearLocked(e)
	}

	interval := m.Interval(key)
	if interval >= MinEnforcedInterval && !e.last.IsZero() && now.Sub(e.last) < interval {
		return false
	}
	return true
}

// Begin marks endpoint in flight and arms the safety release.
func (m *Manager) Begin(endpoint string) {
	key := Normalize(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginLocked(key)
}

// TryBegin is CanProceed and Begin as one step.
func (m *Manager) TryBegin(endpoint string) bool {
	key := Normalize(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canProceedLocked(key) {
		return false
	}
	m.beginLocked(key)
	return true
}

func (m *Manager) beginLocked(key string) {
	e := m.entries[key]
	if e == nil {
		e = &entry{}
		m.entries[key] = e
	}
	m.clearLocked(e)

	now := m.opts.Clock.Now()
	e.last = now
	e.inFlight = true
	e.inFlightSince = now

	generation := e.generation
	e.timer = m.opts.Clock.AfterFunc(m.opts.SafetyRelease, func() {
		m.release(key, generation)
	})
}

// End clears the in-flight marker of endpoint and cancels its safety release.
func (m *Manager) End(endpoint string) {
	key := Normalize(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[key]; e != nil {
		m.clearLocked(e)
	}
}

// InFlight reports whether endpoint currently holds a marker.
func (m *Manager) InFlight(endpoint string) bool {
	key := Normalize(endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	return e != nil && e.inFlight
}

// Close stops every pending safety timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		m.clearLocked(e)
	}
}

func (m *Manager) release(key string, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	if e == nil || e.generation != generation || !e.inFlight {
		return
	}
	m.opts.Logger.Warn("safety release of in-flight marker", "endpoint", key)
	m.clearLocked(e)
}

func (m *Manager) clearLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.inFlight = false
	e.inFlightSince = time.Time{}
	e.generation++
}
