package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"crucible/internal/api"
)

func runCommand(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server.URL, "--config", writeConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/config.toml"
	body := "log_dir = \"" + t.TempDir() + "\"\n"
	if err := writeFile(path, body); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestStatusCommandRendersCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ServerStatus{
			RecordCounts:   map[string]int64{"waiting": 3, "complete": 12},
			TasksWaiting:   3,
			ActiveManagers: 2,
			RecordTypes:    []string{"manybody", "singlepoint"},
		})
	}))
	t.Cleanup(server.Close)

	out, err := runCommand(t, server, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"waiting", "complete", "12", "active managers: 2", "singlepoint"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRecordCancelReportsRejections(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/records/cancel" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req api.TransitionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := api.TransitionResponse{NUpdated: 1, Outcomes: []api.TransitionOutcomeView{
			{RecordID: req.IDs[0], Updated: true},
			{RecordID: req.IDs[1], Reason: "cannot move from complete to cancelled"},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	out, err := runCommand(t, server, "record", "cancel", "7", "8")
	if err != nil {
		t.Fatalf("record cancel: %v", err)
	}
	if !strings.Contains(out, "1 of 2 updated") {
		t.Fatalf("missing summary:\n%s", out)
	}
	if !strings.Contains(out, "cannot move from complete to cancelled") {
		t.Fatalf("missing rejection reason:\n%s", out)
	}
}

func TestRecordCommandsRejectBadIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	if _, err := runCommand(t, server, "record", "show", "abc"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
	if _, err := runCommand(t, server, "record", "delete", "0"); err == nil {
		t.Fatal("expected error for non-positive id")
	}
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
