// Package metrics implements the MetricsRegistry described in spec.md
// §4.11: per-project call counters and latency averages, a recent-errors
// ring, Prometheus and JSON export, and on-demand persistence, grounded in
// the teacher's pkg/mcp/metrics/prometheus.go registration shape.
package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agent-memory-core/internal/errs"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/expfmt"
)

const component = "metrics"

const recentErrorsCap = 10

// ErrorSample is one entry in a project's recent-errors ring.
type ErrorSample struct {
	RequestID string    `json:"request_id"`
	ToolName  string    `json:"tool_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectStats is the JSON-exportable snapshot for one project.
type ProjectStats struct {
	ProjectID     string        `json:"project_id"`
	CallsTotal    int64         `json:"calls_total"`
	CallsSuccess  int64         `json:"calls_success"`
	CallsError    int64         `json:"calls_error"`
	AvgLatencyMS  float64       `json:"avg_latency_ms"`
	RecentErrors  []ErrorSample `json:"recent_errors"`
}

type pendingCall struct {
	projectID string
	toolName  string
	startedAt time.Time
}

type projectCounters struct {
	callsTotal   int64
	callsSuccess int64
	callsError   int64
	totalLatency time.Duration
	recentErrors []ErrorSample
}

// Registry is a process-wide, per-project metrics registry backed by
// Prometheus collectors plus the spec's own JSON snapshot shape.
type Registry struct {
	mu       sync.Mutex
	projects map[string]*projectCounters
	pending  map[string]pendingCall

	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry constructs a Registry with its own Prometheus collector
// registry (rather than the global default), so multiple Registries can
// coexist in tests without collector-registration collisions.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		projects: map[string]*projectCounters{},
		pending:  map[string]pendingCall{},
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_memory",
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"project_id", "tool_name"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_memory",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		}, []string{"project_id", "tool_name", "status"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_memory",
			Name:      "tool_call_errors_total",
			Help:      "Total number of failed tool calls",
		}, []string{"project_id", "tool_name"}),
	}

	reg.MustRegister(r.requestDuration, r.requestCount, r.requestErrors)
	return r
}

// RecordToolCall starts a sample for a tool call and returns a request id
// used to close it with RecordToolCompletion.
func (r *Registry) RecordToolCall(projectID, toolName string) string {
	requestID := uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[requestID] = pendingCall{projectID: projectID, toolName: toolName, startedAt: time.Now()}
	return requestID
}

// RecordToolCompletion closes a sample started by RecordToolCall, updating
// the project's counters, latency average, Prometheus collectors, and (on
// error) its recent-errors ring.
func (r *Registry) RecordToolCompletion(requestID string, callErr error, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call, ok := r.pending[requestID]
	if !ok {
		return
	}
	delete(r.pending, requestID)

	elapsed := time.Since(call.startedAt)

	counters := r.projects[call.projectID]
	if counters == nil {
		counters = &projectCounters{}
		r.projects[call.projectID] = counters
	}

	counters.callsTotal++
	counters.totalLatency += elapsed

	status := "success"
	if callErr != nil {
		status = "error"
		counters.callsError++
		sample := ErrorSample{RequestID: requestID, ToolName: call.toolName, Message: message, Timestamp: time.Now().UTC()}
		if message == "" {
			sample.Message = callErr.Error()
		}
		counters.recentErrors = append(counters.recentErrors, sample)
		if len(counters.recentErrors) > recentErrorsCap {
			counters.recentErrors = counters.recentErrors[len(counters.recentErrors)-recentErrorsCap:]
		}
		r.requestErrors.WithLabelValues(call.projectID, call.toolName).Inc()
	} else {
		counters.callsSuccess++
	}

	r.requestDuration.WithLabelValues(call.projectID, call.toolName).Observe(elapsed.Seconds())
	r.requestCount.WithLabelValues(call.projectID, call.toolName, status).Inc()
}

// Stats returns the JSON-exportable snapshot for one project.
func (r *Registry) Stats(projectID string) ProjectStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	counters := r.projects[projectID]
	if counters == nil {
		return ProjectStats{ProjectID: projectID}
	}

	avgLatency := 0.0
	if counters.callsTotal > 0 {
		avgLatency = float64(counters.totalLatency.Milliseconds()) / float64(counters.callsTotal)
	}

	errorsCopy := make([]ErrorSample, len(counters.recentErrors))
	copy(errorsCopy, counters.recentErrors)

	return ProjectStats{
		ProjectID:    projectID,
		CallsTotal:   counters.callsTotal,
		CallsSuccess: counters.callsSuccess,
		CallsError:   counters.callsError,
		AvgLatencyMS: avgLatency,
		RecentErrors: errorsCopy,
	}
}

// ExportPrometheus renders every registered collector in Prometheus text
// exposition format.
func (r *Registry) ExportPrometheus() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, component, "ExportPrometheus", "failed to gather metric families", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return "", errs.Wrap(errs.KindInternal, component, "ExportPrometheus", "failed to encode metric family", err)
		}
	}
	return buf.String(), nil
}

// ExportJSON renders projectID's stats as JSON.
func (r *Registry) ExportJSON(projectID string) ([]byte, error) {
	data, err := json.MarshalIndent(r.Stats(projectID), "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, component, "ExportJSON", "failed to marshal stats", err)
	}
	return data, nil
}

// Persist writes projectID's JSON snapshot to
// <dataDir>/metrics/<project_id>_metrics.json.
func (r *Registry) Persist(dataDir, projectID string) error {
	data, err := r.ExportJSON(projectID)
	if err != nil {
		return err
	}

	dir := filepath.Join(dataDir, "metrics")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Persist", "failed to create metrics directory", err)
	}

	path := filepath.Join(dir, projectID+"_metrics.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.KindInternal, component, "Persist", "failed to write metrics snapshot", err)
	}
	return nil
}
