package metrics

import "sync"

// Counter names. The relay exposes everything as one Prometheus metric with
// an `event` label, so these stay flat strings rather than typed series.
const (
	ConnOpened = "conn_opened"
	ConnClosed = "conn_closed"

	MatchMade        = "match_made"
	SessionCreated   = "session_created"
	SessionDestroyed = "session_destroyed"
	SessionRebound   = "session_rebound"

	SignalForwarded = "signal_forwarded"
	ChatForwarded   = "chat_forwarded"
	FrameForwarded  = "frame_forwarded"

	// Drop reasons.
	DropReasonPartnerUnreachable = "partner_unreachable"
	DropReasonOversizedFrame     = "oversized_frame"
	DropReasonRateLimited        = "rate_limited"

	InvalidInput  = "invalid_input"
	HandlerPanics = "handler_panics"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		snap[k] = v
	}
	return snap
}
