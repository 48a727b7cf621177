package managerclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"crucible/internal/api"
	"crucible/internal/managerclient"
	"crucible/internal/storage"
)

func newServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var calls []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/managers/activate", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "activate")
		if r.Header.Get("Authorization") != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var reg storage.ManagerRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil || reg.UUID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ActivateResponse{Name: reg.Name()})
	})
	mux.HandleFunc("/api/managers/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "heartbeat")
		var req api.HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Manager == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/api/tasks/claim", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "claim")
		var req api.ClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Programs) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ClaimResponse{Tasks: []storage.TaskPayload{
			{RecordID: 42, Program: "psi4", Tag: "default"},
		}})
	})
	mux.HandleFunc("/api/tasks/return", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "return")
		var req api.ReturnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Results) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.ReturnResponse{Accepted: len(req.Results)})
	})
	mux.HandleFunc("/api/managers/deactivate", func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "deactivate")
		_ = json.NewEncoder(w).Encode(api.DeactivateResponse{Requeued: 0})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &calls
}

func newClient(t *testing.T, base string) *managerclient.Client {
	t.Helper()
	client, err := managerclient.New(managerclient.Options{
		BaseURL:  base,
		Token:    "sekrit",
		Cluster:  "testcluster",
		Hostname: "node1",
		Programs: map[string]string{"psi4": "1.9"},
	})
	if err != nil {
		t.Fatalf("managerclient.New: %v", err)
	}
	return client
}

func TestClientProtocolRoundTrip(t *testing.T) {
	server, calls := newServer(t)
	client := newClient(t, server.URL)
	ctx := context.Background()

	if err := client.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if client.Name() == "" {
		t.Fatal("no manager name assigned")
	}

	if err := client.Heartbeat(ctx, storage.ManagerStats{ActiveTasks: 1}); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	tasks, err := client.Claim(ctx, 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(tasks) != 1 || tasks[0].RecordID != 42 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}

	resp, err := client.Return(ctx, []storage.TaskResult{{RecordID: 42, Success: true}})
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if resp.Accepted != 1 {
		t.Fatalf("unexpected return response: %+v", resp)
	}

	if err := client.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	want := []string{"activate", "heartbeat", "claim", "return", "deactivate"}
	if len(*calls) != len(want) {
		t.Fatalf("calls %v, want %v", *calls, want)
	}
	for i, call := range want {
		if (*calls)[i] != call {
			t.Fatalf("calls %v, want %v", *calls, want)
		}
	}
}

func TestClientSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"manager \"x\" is not registered"}`))
	}))
	t.Cleanup(server.Close)

	client := newClient(t, server.URL)
	err := client.Heartbeat(context.Background(), storage.ManagerStats{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClientFreshUUIDPerClient(t *testing.T) {
	server, _ := newServer(t)
	a := newClient(t, server.URL)
	b := newClient(t, server.URL)
	ctx := context.Background()
	if err := a.Activate(ctx); err != nil {
		t.Fatalf("Activate a: %v", err)
	}
	if err := b.Activate(ctx); err != nil {
		t.Fatalf("Activate b: %v", err)
	}
	if a.Name() == b.Name() {
		t.Fatalf("two clients share manager name %q", a.Name())
	}
}
