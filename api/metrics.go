package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertExpirationSpike   AlertType = "expiration_spike"
	AlertRegistrationFlood AlertType = "registration_flood"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

const (
	defaultExpirationWindow    = 1 * time.Minute
	defaultExpirationThreshold = 50
	defaultRateLimitWindow     = 5 * time.Minute
	defaultRateLimitThreshold  = 20
)

// slidingWindow counts events over a trailing duration.
type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records n events at now and reports whether the threshold was
// reached. The window is reset after a hit so one spike alerts once.
func (sw *slidingWindow) add(now time.Time, n int) (count int, hit bool) {
	for range n {
		sw.times = append(sw.times, now)
	}
	sw.times = trimWindow(sw.times, now, sw.window)
	count = len(sw.times)
	if count >= sw.threshold {
		sw.times = sw.times[:0]
		return count, true
	}
	return count, false
}

// metricsCollector raises alerts on abandonment and registration spikes.
type metricsCollector struct {
	mu sync.Mutex

	expirations slidingWindow
	rateLimited slidingWindow

	now     func() time.Time
	alertFn AlertFunc
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		expirations: slidingWindow{window: defaultExpirationWindow, threshold: defaultExpirationThreshold},
		rateLimited: slidingWindow{window: defaultRateLimitWindow, threshold: defaultRateLimitThreshold},
		now:         time.Now,
		alertFn:     alertFn,
	}
}

// recordEvent inspects a protocol event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event Event) {
	if m != nil && event == EventRegisterRateLimited {
		m.record(&m.rateLimited, 1, AlertRegistrationFlood, "rate-limited registrations exceed threshold")
	}
}

// recordExpirations counts sessions evicted by the reaper.
func (m *metricsCollector) recordExpirations(n int) {
	if m != nil && n > 0 {
		m.record(&m.expirations, n, AlertExpirationSpike, "session expirations exceed threshold")
	}
}

func (m *metricsCollector) record(sw *slidingWindow, n int, typ AlertType, msg string) {
	if m.alertFn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if count, hit := sw.add(now, n); hit {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     count,
			Threshold: sw.threshold,
			Timestamp: now,
		})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
