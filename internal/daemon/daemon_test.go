package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"crucible/internal/api"
	"crucible/internal/daemon"
	"crucible/internal/logging"
	"crucible/internal/metrics"
	"crucible/internal/testsupport"
	"crucible/internal/workflow"
)

func startDaemon(t *testing.T) (*daemon.Daemon, string, string) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	registry := testsupport.NewRegistry(t)
	logger := logging.NewNop()
	collector := metrics.NewCollector()
	sweeper := workflow.New(cfg, store, logger, collector)

	d, err := daemon.New(cfg, store, registry, logger, sweeper, collector)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, "http://" + d.Addr(), cfg.API.Token
}

func doJSON(t *testing.T, method, url, token string, body, into any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestDaemonServesRecordAndManagerProtocol(t *testing.T) {
	_, base, token := startDaemon(t)

	// Unauthenticated requests bounce; health does not require auth.
	if code := doJSON(t, http.MethodGet, base+"/api/status", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status request returned %d", code)
	}
	if code := doJSON(t, http.MethodGet, base+"/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}

	// Submit a record.
	var submitted api.SubmitResponse
	code := doJSON(t, http.MethodPost, base+"/api/records", token, api.SubmitRequest{
		RecordType: "singlepoint",
		Entries: []map[string]any{{
			"program": "psi4", "method": "b3lyp", "basis": "def2-svp",
			"molecule": uuid.NewString(),
		}},
	}, &submitted)
	if code != http.StatusOK || submitted.NInserted != 1 {
		t.Fatalf("submit returned %d: %+v", code, submitted)
	}
	recordID := submitted.IDs[0]

	// Activate a manager and run the claim/return protocol end to end.
	var activated api.ActivateResponse
	code = doJSON(t, http.MethodPost, base+"/api/managers/activate", token, map[string]any{
		"cluster":  "testcluster",
		"hostname": "node1",
		"uuid":     uuid.NewString(),
		"programs": map[string]string{"psi4": "1.9"},
	}, &activated)
	if code != http.StatusOK || activated.Name == "" {
		t.Fatalf("activate returned %d: %+v", code, activated)
	}

	if code := doJSON(t, http.MethodPut, base+"/api/managers/heartbeat", token, api.HeartbeatRequest{
		Manager: activated.Name,
	}, nil); code != http.StatusOK {
		t.Fatalf("heartbeat returned %d", code)
	}

	var claimed api.ClaimResponse
	code = doJSON(t, http.MethodPost, base+"/api/tasks/claim", token, api.ClaimRequest{
		Manager:  activated.Name,
		Programs: []string{"psi4"},
		Limit:    100,
	}, &claimed)
	if code != http.StatusOK {
		t.Fatalf("claim returned %d", code)
	}
	found := false
	for _, task := range claimed.Tasks {
		if task.RecordID == recordID {
			found = true
		}
	}
	if !found {
		t.Fatalf("submitted record %d not claimed: %+v", recordID, claimed.Tasks)
	}

	results := make([]map[string]any, 0, len(claimed.Tasks))
	for _, task := range claimed.Tasks {
		results = append(results, map[string]any{
			"record_id":  task.RecordID,
			"success":    true,
			"properties": map[string]float64{"return_result": -1.0},
		})
	}
	var returned api.ReturnResponse
	code = doJSON(t, http.MethodPost, base+"/api/tasks/return", token, map[string]any{
		"manager": activated.Name,
		"results": results,
	}, &returned)
	if code != http.StatusOK || returned.Accepted != len(results) {
		t.Fatalf("return returned %d: %+v", code, returned)
	}

	var view api.RecordView
	code = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/records/%d", base, recordID), token, nil, &view)
	if code != http.StatusOK || view.Status != "complete" {
		t.Fatalf("record after return: %d %+v", code, view)
	}

	var history []api.HistoryView
	code = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/records/%d/history", base, recordID), token, nil, &history)
	if code != http.StatusOK || len(history) != 1 || !history[0].Success {
		t.Fatalf("history after return: %d %+v", code, history)
	}

	if code := doJSON(t, http.MethodPost, base+"/api/managers/deactivate", token, api.DeactivateRequest{
		Manager: activated.Name,
	}, nil); code != http.StatusOK {
		t.Fatalf("deactivate returned %d", code)
	}

	// Missing record yields 404, unknown transition op yields 400.
	if code := doJSON(t, http.MethodGet, base+"/api/records/999999999", token, nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing record returned %d", code)
	}
	if code := doJSON(t, http.MethodPost, base+"/api/records/promote", token, api.TransitionRequest{IDs: []int64{1}}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown transition op returned %d", code)
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	registry := testsupport.NewRegistry(t)
	logger := logging.NewNop()
	sweeper := workflow.New(cfg, store, logger, nil)

	first, err := daemon.New(cfg, store, registry, logger, sweeper, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(cfg, store, registry, logger, workflow.New(cfg, store, logger, nil), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon acquired the lock")
	}
}
