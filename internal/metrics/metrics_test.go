package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"crucible/internal/metrics"
)

func TestCollectorExposesMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordClaimed(3, 0.02)
	collector.RecordFinished(2, 1)
	collector.RecordOrphaned(1)
	collector.RecordServiceIterated()
	collector.RecordServiceFailed()
	collector.SetActiveManagers(4)

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("fetch metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}

	text := string(body)
	for _, want := range []string{
		"crucible_tasks_claimed_total 3",
		"crucible_task_results_accepted_total 2",
		"crucible_task_results_rejected_total 1",
		"crucible_tasks_orphan_recovered_total 1",
		"crucible_services_iterated_total 1",
		"crucible_services_failed_total 1",
		"crucible_managers_active 4",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Two collectors must not collide on registration.
	a := metrics.NewCollector()
	b := metrics.NewCollector()
	a.RecordServiceIterated()
	_ = b
}
