package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRecordHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)

	if got := counterValue(t, reg, "taskhub_http_status_total", map[string]string{"status_code": "200"}); got != 2 {
		t.Errorf("status 200 count = %v, want 2", got)
	}
	if got := counterValue(t, reg, "taskhub_http_status_total", map[string]string{"status_code": "403"}); got != 1 {
		t.Errorf("status 403 count = %v, want 1", got)
	}
}

func TestRecordAuthDenial(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthDenial()

	if got := counterValue(t, reg, "taskhub_auth_denials_total", nil); got != 1 {
		t.Errorf("auth denials = %v, want 1", got)
	}
}

func TestRecordSnapshotPushed(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSnapshotPushed("tasks")
	c.RecordSnapshotPushed("tasks")
	c.RecordSnapshotPushed("announcements")

	if got := counterValue(t, reg, "taskhub_realtime_snapshots_total", map[string]string{"collection": "tasks"}); got != 2 {
		t.Errorf("tasks snapshots = %v, want 2", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordActivityWrite()

	server := httptest.NewServer(Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "taskhub_activity_log_writes_total 1") {
		t.Errorf("expected activity write counter in scrape output:\n%s", body)
	}
}
