package router

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects operational counters from the Router, its
// Connections, and the notification dispatcher. Implementations can
// export to Prometheus, StatsD, or any other backend; DefaultMetrics is
// a no-op and InMemoryMetrics is provided for tests and the admin
// surface's status snapshot.
type Metrics interface {
	ConnectionAttempts()
	ConnectionSuccesses()
	ConnectionFailures()
	ConnectionsActive(count int)

	RequestStarted(operation string)
	RequestCompleted(operation string, duration time.Duration, err error)

	BytesSent(n int64)
	BytesReceived(n int64)

	NotificationDelivered()
	NotificationDropped()
	SubscriptionsActive(count int)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionAttempts()                                                  {}
func (noopMetrics) ConnectionSuccesses()                                                 {}
func (noopMetrics) ConnectionFailures()                                                  {}
func (noopMetrics) ConnectionsActive(count int)                                          {}
func (noopMetrics) RequestStarted(operation string)                                      {}
func (noopMetrics) RequestCompleted(operation string, duration time.Duration, err error) {}
func (noopMetrics) BytesSent(n int64)                                                    {}
func (noopMetrics) BytesReceived(n int64)                                                {}
func (noopMetrics) NotificationDelivered()                                               {}
func (noopMetrics) NotificationDropped()                                                 {}
func (noopMetrics) SubscriptionsActive(count int)                                        {}

// DefaultMetrics discards every observation.
var DefaultMetrics Metrics = noopMetrics{}

// InMemoryMetrics accumulates counters in process memory. It backs the
// admin HTTP surface's /metrics endpoint and is handy in tests that want
// to assert "exactly one reconnection happened" style properties.
type InMemoryMetrics struct {
	mu sync.RWMutex

	connectionAttempts  atomic.Int64
	connectionSuccesses atomic.Int64
	connectionFailures  atomic.Int64
	connectionsActive   atomic.Int64

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64

	notificationsDelivered atomic.Int64
	notificationsDropped   atomic.Int64
	subscriptionsActive    atomic.Int64

	requestCounts   map[string]int64
	requestErrors   map[string]int64
	requestDuration map[string]time.Duration
}

// NewInMemoryMetrics returns an InMemoryMetrics ready to use.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		requestCounts:   make(map[string]int64),
		requestErrors:   make(map[string]int64),
		requestDuration: make(map[string]time.Duration),
	}
}

func (m *InMemoryMetrics) ConnectionAttempts()  { m.connectionAttempts.Add(1) }
func (m *InMemoryMetrics) ConnectionSuccesses() { m.connectionSuccesses.Add(1) }
func (m *InMemoryMetrics) ConnectionFailures()  { m.connectionFailures.Add(1) }

func (m *InMemoryMetrics) ConnectionsActive(count int) { m.connectionsActive.Store(int64(count)) }

func (m *InMemoryMetrics) RequestStarted(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCounts[operation]++
}

func (m *InMemoryMetrics) RequestCompleted(operation string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestDuration[operation] += duration
	if err != nil {
		m.requestErrors[operation]++
	}
}

func (m *InMemoryMetrics) BytesSent(n int64)     { m.bytesSent.Add(n) }
func (m *InMemoryMetrics) BytesReceived(n int64) { m.bytesReceived.Add(n) }

func (m *InMemoryMetrics) NotificationDelivered() { m.notificationsDelivered.Add(1) }
func (m *InMemoryMetrics) NotificationDropped()   { m.notificationsDropped.Add(1) }
func (m *InMemoryMetrics) SubscriptionsActive(count int) {
	m.subscriptionsActive.Store(int64(count))
}

// MetricsSnapshot is a point-in-time copy suitable for JSON rendering.
type MetricsSnapshot struct {
	ConnectionAttempts     int64            `json:"connection_attempts"`
	ConnectionSuccesses    int64            `json:"connection_successes"`
	ConnectionFailures     int64            `json:"connection_failures"`
	ConnectionsActive      int64            `json:"connections_active"`
	BytesSent              int64            `json:"bytes_sent"`
	BytesReceived          int64            `json:"bytes_received"`
	NotificationsDelivered int64            `json:"notifications_delivered"`
	NotificationsDropped   int64            `json:"notifications_dropped"`
	SubscriptionsActive    int64            `json:"subscriptions_active"`
	RequestCounts          map[string]int64 `json:"request_counts"`
	RequestErrors          map[string]int64 `json:"request_errors"`
}

// Snapshot returns a consistent point-in-time copy of the counters.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		ConnectionAttempts:     m.connectionAttempts.Load(),
		ConnectionSuccesses:    m.connectionSuccesses.Load(),
		ConnectionFailures:     m.connectionFailures.Load(),
		ConnectionsActive:      m.connectionsActive.Load(),
		BytesSent:              m.bytesSent.Load(),
		BytesReceived:          m.bytesReceived.Load(),
		NotificationsDelivered: m.notificationsDelivered.Load(),
		NotificationsDropped:   m.notificationsDropped.Load(),
		SubscriptionsActive:    m.subscriptionsActive.Load(),
		RequestCounts:          make(map[string]int64, len(m.requestCounts)),
		RequestErrors:          make(map[string]int64, len(m.requestErrors)),
	}
	for k, v := range m.requestCounts {
		snap.RequestCounts[k] = v
	}
	for k, v := range m.requestErrors {
		snap.RequestErrors[k] = v
	}
	return snap
}
