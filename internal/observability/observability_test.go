package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/sc-hua/conversation/internal/config"
	"github.com/sc-hua/conversation/internal/llm"
)

// --- No-op path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil {
		t.Error("expected nil metrics from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize vec metrics so they appear in Gather (a CounterVec only
	// appears after first use).
	m.LLMRequestsTotal.WithLabelValues("mock", "success").Inc()
	m.ExportsTotal.WithLabelValues("success").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"convo_llm_requests_total",
		"convo_history_exports_total",
		"convo_http_requests_total",
		"convo_active_requests",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	m.LLMRequestsTotal.WithLabelValues("ollama", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("ollama", "success").Inc()
	m.LLMRequestsTotal.WithLabelValues("ollama", "error").Inc()

	if got := counterValue(t, m.Registry, "convo_llm_requests_total", prometheus.Labels{"provider": "ollama", "status": "success"}); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := counterValue(t, m.Registry, "convo_llm_requests_total", prometheus.Labels{"provider": "ollama", "status": "error"}); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("export_dir", func(ctx context.Context) error { return errors.New("permission denied") })
	h.AddCheck("provider", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["export_dir"].Status != "fail" {
		t.Errorf("export_dir check = %q, want fail", status.Checks["export_dir"].Status)
	}
	if status.Checks["provider"].Status != "ok" {
		t.Errorf("provider check = %q, want ok", status.Checks["provider"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- InstrumentedProvider ---

type stubProvider struct {
	reply  string
	err    error
	called int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Normalize(history []llm.Message, input *llm.Content) []llm.WireMessage {
	return []llm.WireMessage{{Role: "user", Content: input.Display()}}
}

func (s *stubProvider) Complete(ctx context.Context, history []llm.Message, input *llm.Content) (string, error) {
	s.called++
	return s.reply, s.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &stubProvider{reply: "hello"}

	p := NewInstrumentedProvider(inner, metrics, nil)
	content, err := llm.NewContent("hi")
	if err != nil {
		t.Fatalf("NewContent failed: %v", err)
	}
	reply, err := p.Complete(context.Background(), nil, content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello" {
		t.Errorf("reply = %q, want hello", reply)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}

	val := counterValue(t, metrics.Registry, "convo_llm_requests_total", prometheus.Labels{"provider": "stub", "status": "success"})
	if val != 1 {
		t.Errorf("requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &stubProvider{err: errors.New("api error")}

	p := NewInstrumentedProvider(inner, metrics, nil)
	if _, err := p.Complete(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "convo_llm_requests_total", prometheus.Labels{"provider": "stub", "status": "error"})
	if val != 1 {
		t.Errorf("error requests_total = %v, want 1", val)
	}
}

func TestInstrumentedProvider_NilMetrics(t *testing.T) {
	inner := &stubProvider{reply: "ok"}

	// Wrapping with nil metrics and tracer must not panic.
	p := NewInstrumentedProvider(inner, nil, nil)
	reply, err := p.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
	if p.Name() != "stub" {
		t.Errorf("name = %q, want stub", p.Name())
	}
}

// --- Middleware ---

func TestRouteLabelCollapsesConversationIDs(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/chat", "/v1/chat"},
		{"/v1/conversations/7f9c24e5-3f6a-4f2e-9c9d-2c8a1b0d4e5f/end", "/v1/conversations/{id}/end"},
		{"/v1/conversations/7f9c24e5-3f6a-4f2e-9c9d-2c8a1b0d4e5f/history", "/v1/conversations/{id}/history"},
		{"/v1/conversations/custom-name/history", "/v1/conversations/custom-name/history"},
		{"/healthz", "/healthz"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
