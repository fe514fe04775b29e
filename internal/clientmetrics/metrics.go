// Package clientmetrics counts wire traffic for a protocol client.
package clientmetrics

import (
	"sync"
	"time"
)

// ClientMetrics tracks calls and payload bytes for one transport.
type ClientMetrics struct {
	mu        sync.Mutex
	openedAt  time.Time
	calls     int64
	failures  int64
	bytesSent int64
	bytesRecv int64
}

// New creates a ClientMetrics whose uptime starts now.
func New() *ClientMetrics {
	return &ClientMetrics{openedAt: time.Now()}
}

// ObserveCall records one completed call. Received bytes are only counted
// when the call succeeded.
func (m *ClientMetrics) ObserveCall(sent, received int64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.bytesSent += sent
	if failed {
		m.failures++
		return
	}
	m.bytesRecv += received
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Uptime        time.Duration `json:"uptime"`
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	BytesSent     int64         `json:"bytes_sent"`
	BytesReceived int64         `json:"bytes_received"`
}

// Snapshot returns a consistent snapshot of all counters.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var uptime time.Duration
	if !m.openedAt.IsZero() {
		uptime = time.Since(m.openedAt)
	}
	return Snapshot{
		Uptime:        uptime,
		Calls:         m.calls,
		Failures:      m.failures,
		BytesSent:     m.bytesSent,
		BytesReceived: m.bytesRecv,
	}
}
