package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

var (
	durationBuckets      = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120}
	durationBucketLabels = []string{"0.01", "0.05", "0.1", "0.5", "1", "5", "30", "120", "+Inf"}
)

type registry struct {
	mu                    sync.Mutex
	invocations           map[string]map[string]map[string]int64
	durationBuckets       map[string][]int64
	streamLines           map[string]int64
	invalidReturns        map[string]int64
	pluginTimeouts        map[string]int64
	auditFailures         int64
	artifactWriteFailures int64
}

func newRegistry() *registry {
	return &registry{
		invocations:     make(map[string]map[string]map[string]int64),
		durationBuckets: make(map[string][]int64),
		streamLines:     make(map[string]int64),
		invalidReturns:  make(map[string]int64),
		pluginTimeouts:  make(map[string]int64),
	}
}

// IncInvocation counts one finished invocation of command in the given
// execution mode (static, stream, read) with its final status.
func IncInvocation(command, mode, status string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	byMode, ok := defaultRegistry.invocations[command]
	if !ok {
		byMode = make(map[string]map[string]int64)
		defaultRegistry.invocations[command] = byMode
	}
	if _, ok := byMode[mode]; !ok {
		byMode[mode] = make(map[string]int64)
	}
	byMode[mode][status]++
}

func ObserveInvocationDuration(command string, d time.Duration) {
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.durationBuckets[command]; !ok {
		defaultRegistry.durationBuckets[command] = make([]int64, len(durationBuckets)+1)
	}
	idx := len(durationBuckets)
	for i, b := range durationBuckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.durationBuckets[command][idx]++
}

func AddStreamLines(command string, n int) {
	if n <= 0 {
		return
	}
	defaultRegistry.mu.Lock()
	defaultRegistry.streamLines[command] += int64(n)
	defaultRegistry.mu.Unlock()
}

func IncInvalidReturn(command string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.invalidReturns[command]++
	defaultRegistry.mu.Unlock()
}

func IncPluginTimeout(plugin string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.pluginTimeouts[plugin]++
	defaultRegistry.mu.Unlock()
}

func IncAuditFailure() {
	defaultRegistry.mu.Lock()
	defaultRegistry.auditFailures++
	defaultRegistry.mu.Unlock()
}

func IncArtifactWriteFailure() {
	defaultRegistry.mu.Lock()
	defaultRegistry.artifactWriteFailures++
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE rescuebox_invocations_total counter\n")
	for _, command := range sortedKeys(defaultRegistry.invocations) {
		byMode := defaultRegistry.invocations[command]
		for _, mode := range sortedKeys(byMode) {
			for _, status := range sortedKeys(byMode[mode]) {
				sb.WriteString(fmt.Sprintf("rescuebox_invocations_total{command=\"%s\",mode=\"%s\",status=\"%s\"} %d\n", command, mode, status, byMode[mode][status]))
			}
		}
	}

	sb.WriteString("# TYPE rescuebox_invocation_duration_seconds_bucket counter\n")
	for _, command := range sortedKeys(defaultRegistry.durationBuckets) {
		counts := defaultRegistry.durationBuckets[command]
		for i, v := range counts {
			sb.WriteString(fmt.Sprintf("rescuebox_invocation_duration_seconds_bucket{command=\"%s\",le=\"%s\"} %d\n", command, durationBucketLabels[i], v))
		}
	}

	sb.WriteString("# TYPE rescuebox_stream_lines_total counter\n")
	for _, command := range sortedKeys(defaultRegistry.streamLines) {
		sb.WriteString(fmt.Sprintf("rescuebox_stream_lines_total{command=\"%s\"} %d\n", command, defaultRegistry.streamLines[command]))
	}

	sb.WriteString("# TYPE rescuebox_invalid_returns_total counter\n")
	for _, command := range sortedKeys(defaultRegistry.invalidReturns) {
		sb.WriteString(fmt.Sprintf("rescuebox_invalid_returns_total{command=\"%s\"} %d\n", command, defaultRegistry.invalidReturns[command]))
	}

	sb.WriteString("# TYPE rescuebox_plugin_timeouts_total counter\n")
	for _, plugin := range sortedKeys(defaultRegistry.pluginTimeouts) {
		sb.WriteString(fmt.Sprintf("rescuebox_plugin_timeouts_total{plugin=\"%s\"} %d\n", plugin, defaultRegistry.pluginTimeouts[plugin]))
	}

	sb.WriteString("# TYPE rescuebox_audit_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("rescuebox_audit_failures_total %d\n", defaultRegistry.auditFailures))

	sb.WriteString("# TYPE rescuebox_artifact_write_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("rescuebox_artifact_write_failures_total %d\n", defaultRegistry.artifactWriteFailures))

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
