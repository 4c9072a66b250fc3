package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Leg labels for per-leg counters.
const (
	LegTelephony = "telephony"
	LegAI        = "ai"
)

// Metrics holds bridge-wide counters. Sessions own no metrics of their own;
// everything funnels through this shared, mutex-guarded state.
type Metrics struct {
	mu sync.RWMutex

	SessionsStarted   int64
	SessionsCompleted int64
	SessionsRejected  int64
	ActiveSessions    int64

	// Frames forwarded per leg (telephony→AI and AI→telephony).
	ForwardedFrames map[string]int64
	// Frames dropped while a session was not active, or for unknown
	// sessions, keyed by the leg the frame arrived on.
	DroppedFrames map[string]int64
	// Per-frame decode failures per leg.
	DecodeErrors map[string]int64

	// Diagnostic AI events by type (the allow-list only).
	AIEvents map[string]int64

	StartTime time.Time
}

var globalMetrics = &Metrics{
	ForwardedFrames: make(map[string]int64),
	DroppedFrames:   make(map[string]int64),
	DecodeErrors:    make(map[string]int64),
	AIEvents:        make(map[string]int64),
	StartTime:       time.Now(),
}

// SessionStarted records a new session.
func SessionStarted() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.SessionsStarted++
	globalMetrics.ActiveSessions++
}

// SessionCompleted records a torn-down session.
func SessionCompleted() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.SessionsCompleted++
	if globalMetrics.ActiveSessions > 0 {
		globalMetrics.ActiveSessions--
	}
}

// SessionRejected records a session creation rejected at the registry.
func SessionRejected() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.SessionsRejected++
}

// FrameForwarded records one frame relayed toward the given leg.
func FrameForwarded(leg string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.ForwardedFrames[leg]++
}

// FrameDropped records one frame discarded instead of forwarded. The leg is
// the one the frame arrived on, not the one it was headed for.
func FrameDropped(leg string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.DroppedFrames[leg]++
}

// DecodeError records a per-frame decode failure on the given leg.
func DecodeError(leg string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.DecodeErrors[leg]++
}

// AIEvent records an allow-listed diagnostic event from the AI leg.
func AIEvent(eventType string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.AIEvents[eventType]++
}

// GetMetrics returns a snapshot of current metrics.
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": time.Since(globalMetrics.StartTime).Seconds(),
		"sessions": map[string]interface{}{
			"started":   globalMetrics.SessionsStarted,
			"completed": globalMetrics.SessionsCompleted,
			"rejected":  globalMetrics.SessionsRejected,
			"active":    globalMetrics.ActiveSessions,
		},
		"frames": map[string]interface{}{
			"forwarded":     copyCounts(globalMetrics.ForwardedFrames),
			"dropped":       copyCounts(globalMetrics.DroppedFrames),
			"decode_errors": copyCounts(globalMetrics.DecodeErrors),
		},
		"ai_events": copyCounts(globalMetrics.AIEvents),
	}
}

// GetPrometheusMetrics returns metrics in Prometheus text format.
func GetPrometheusMetrics() string {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	var output string

	output += "# HELP bridge_uptime_seconds Bridge uptime in seconds\n"
	output += "# TYPE bridge_uptime_seconds gauge\n"
	output += fmt.Sprintf("bridge_uptime_seconds %.2f\n", time.Since(globalMetrics.StartTime).Seconds())

	output += "# HELP bridge_sessions_total Call sessions by outcome\n"
	output += "# TYPE bridge_sessions_total counter\n"
	output += fmt.Sprintf("bridge_sessions_total{outcome=\"started\"} %d\n", globalMetrics.SessionsStarted)
	output += fmt.Sprintf("bridge_sessions_total{outcome=\"completed\"} %d\n", globalMetrics.SessionsCompleted)
	output += fmt.Sprintf("bridge_sessions_total{outcome=\"rejected\"} %d\n", globalMetrics.SessionsRejected)

	output += "# HELP bridge_sessions_active Currently active call sessions\n"
	output += "# TYPE bridge_sessions_active gauge\n"
	output += fmt.Sprintf("bridge_sessions_active %d\n", globalMetrics.ActiveSessions)

	output += "# HELP bridge_frames_forwarded_total Frames relayed toward each leg\n"
	output += "# TYPE bridge_frames_forwarded_total counter\n"
	output += formatLegCounts("bridge_frames_forwarded_total", globalMetrics.ForwardedFrames)

	output += "# HELP bridge_frames_dropped_total Frames discarded instead of forwarded, by arrival leg\n"
	output += "# TYPE bridge_frames_dropped_total counter\n"
	output += formatLegCounts("bridge_frames_dropped_total", globalMetrics.DroppedFrames)

	output += "# HELP bridge_decode_errors_total Per-frame decode failures per leg\n"
	output += "# TYPE bridge_decode_errors_total counter\n"
	output += formatLegCounts("bridge_decode_errors_total", globalMetrics.DecodeErrors)

	return output
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func formatLegCounts(name string, counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var output string
	for _, k := range keys {
		output += fmt.Sprintf("%s{leg=\"%s\"} %d\n", name, k, counts[k])
	}
	return output
}
