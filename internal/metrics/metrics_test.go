package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordWriteSuccess_IncrementsCounter は書き込み成功カウンタが
// 集約ラベル付きで増加することを検証する。
func TestRecordWriteSuccess_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWriteSuccess("evaluation")
	c.RecordWriteSuccess("evaluation")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "hireman_write_success_total" {
			found = true
			if len(mf.GetMetric()) != 1 {
				t.Fatalf("expected 1 metric, got %d", len(mf.GetMetric()))
			}
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 2 {
				t.Errorf("write_success_total = %v, want 2", val)
			}
		}
	}
	if !found {
		t.Error("hireman_write_success_total metric not found")
	}
}

// TestRecordWriteConflict_SeparatesAggregates はバージョン競合カウンタが
// 集約ごとに独立して増加することを検証する。
func TestRecordWriteConflict_SeparatesAggregates(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWriteConflict("evaluation")
	c.RecordWriteConflict("evaluation")
	c.RecordWriteConflict("criterion_set")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "hireman_write_conflict_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "evaluation":
					if val != 2 {
						t.Errorf("write_conflict_total{aggregate=evaluation} = %v, want 2", val)
					}
				case "criterion_set":
					if val != 1 {
						t.Errorf("write_conflict_total{aggregate=criterion_set} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("hireman_write_conflict_total metric not found")
	}
}

// TestRecordDecision_IncrementsCounterWithLabel は判定カウンタが
// 判定種別のラベル付きで増加することを検証する。
func TestRecordDecision_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDecision("progress")
	c.RecordDecision("progress")
	c.RecordDecision("offer")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "hireman_decisions_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "progress":
					if val != 2 {
						t.Errorf("decisions_total{decision=progress} = %v, want 2", val)
					}
				case "offer":
					if val != 1 {
						t.Errorf("decisions_total{decision=offer} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("hireman_decisions_total metric not found")
	}
}

// TestRecordInvitationCounters は招待送付・スキップカウンタが増加することを検証する。
func TestRecordInvitationCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordInvitationSent()
	c.RecordInvitationSent()
	c.RecordInvitationSkipped()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	var sent, skipped float64
	for _, mf := range metrics {
		switch mf.GetName() {
		case "hireman_invitation_sent_total":
			sent = mf.GetMetric()[0].GetCounter().GetValue()
		case "hireman_invitation_skipped_total":
			skipped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	if sent != 2 {
		t.Errorf("invitation_sent_total = %v, want 2", sent)
	}
	if skipped != 1 {
		t.Errorf("invitation_skipped_total = %v, want 1", skipped)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(409)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "hireman_http_status_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "200":
					if val != 2 {
						t.Errorf("http_status_total{status_code=200} = %v, want 2", val)
					}
				case "409":
					if val != 1 {
						t.Errorf("http_status_total{status_code=409} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("hireman_http_status_total metric not found")
	}
}

// TestRecordWriteLatency_ObservesHistogram は書き込みレイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordWriteLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWriteLatency("evaluation", 100*time.Millisecond)
	c.RecordWriteLatency("evaluation", 2*time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "hireman_write_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("hireman_write_latency_seconds metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	// いくつかのメトリクスを記録
	c.RecordWriteSuccess("evaluation")
	c.RecordWriteConflict("candidate")
	c.RecordHTTPStatus(200)
	c.RecordWriteLatency("evaluation", 500*time.Millisecond)
	c.RecordDecision("reject")

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	// Prometheus形式のメトリクスが含まれていることを確認
	expectedMetrics := []string{
		"hireman_write_success_total",
		"hireman_write_conflict_total",
		"hireman_http_status_total",
		"hireman_write_latency_seconds",
		"hireman_decisions_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordWriteSuccess("evaluation")
	c2.RecordWriteSuccess("evaluation")
	c2.RecordWriteSuccess("evaluation")

	metrics1, _ := reg1.Gather()
	metrics2, _ := reg2.Gather()

	var val1, val2 float64
	for _, mf := range metrics1 {
		if mf.GetName() == "hireman_write_success_total" {
			val1 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	for _, mf := range metrics2 {
		if mf.GetName() == "hireman_write_success_total" {
			val2 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	if val1 != 1 {
		t.Errorf("reg1 write_success = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 write_success = %v, want 2", val2)
	}
}
