package metrics

import "sync"

// Event counter names used across the relay. Names are intentionally simple;
// they surface through the /metrics endpoint as an `event` label.
const (
	Login                 = "login"
	LoginTakeover         = "login_takeover"
	Logout                = "logout"
	UsersBroadcast        = "users_broadcast"
	MessageMalformed      = "message_malformed"
	MessageUnknownType    = "message_unknown_type"
	CallTargetUnavailable = "call_target_unavailable"
	ForwardDropped        = "forward_dropped"
	SendFailed            = "send_failed"
	WSRateLimited         = "ws_rate_limited"
	WSBinaryDropped       = "ws_binary_dropped"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment can plug into a real metrics backend; this type
// exists to keep the relay's drop/forward accounting testable while still
// being scrapeable in Prometheus' text format.
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
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
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

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
