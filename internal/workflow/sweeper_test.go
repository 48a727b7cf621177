package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"crucible/internal/errs"
	"crucible/internal/logging"
	"crucible/internal/metrics"
	"crucible/internal/testsupport"
	"crucible/internal/workflow"
)

type fakeStore struct {
	mu sync.Mutex

	ready    []int64
	iterated []int64
	failIDs  map[int64]bool

	staleNames []string
	requeued   int
	cutoffs    []time.Time
	active     int64
}

func (f *fakeStore) ReadyServices(_ context.Context, _ int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.ready
	f.ready = nil
	return out, nil
}

func (f *fakeStore) IterateService(_ context.Context, recordID int64) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[recordID] {
		return false, false, errs.Wrap(errs.ErrServiceIteration, "service", "iterate", "boom", nil)
	}
	f.iterated = append(f.iterated, recordID)
	return true, false, nil
}

func (f *fakeStore) DeactivateStaleManagers(_ context.Context, cutoff time.Time) ([]string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	names := f.staleNames
	f.staleNames = nil
	return names, f.requeued, nil
}

func (f *fakeStore) CountActiveManagers(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}

func (f *fakeStore) iteratedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.iterated))
	copy(out, f.iterated)
	return out
}

func newSweeper(t *testing.T, store *fakeStore) *workflow.Sweeper {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.ServiceSweepInterval = 3600
	cfg.Workflow.ManagerSweepInterval = 3600
	return workflow.New(cfg, store, logging.NewNop(), metrics.NewCollector())
}

func TestSweeperIteratesReadyServices(t *testing.T) {
	store := &fakeStore{
		ready:   []int64{1, 2, 3},
		failIDs: map[int64]bool{2: true},
	}
	sweeper := newSweeper(t, store)

	// Start runs one pass of each loop immediately.
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sweeper.Stop()

	deadline := time.After(2 * time.Second)
	for {
		ids := store.iteratedIDs()
		if len(ids) == 2 {
			if ids[0] != 1 || ids[1] != 3 {
				t.Fatalf("iterated %v, want [1 3]", ids)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("sweep never iterated services, got %v", ids)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSweeperUsesConfiguredCutoff(t *testing.T) {
	store := &fakeStore{staleNames: []string{"slurm-node1-abc"}, requeued: 4}
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.ServiceSweepInterval = 3600
	cfg.Workflow.ManagerSweepInterval = 3600
	cfg.Managers.HeartbeatFrequency = 60
	cfg.Managers.HeartbeatMaxMissed = 5
	sweeper := workflow.New(cfg, store, logging.NewNop(), nil)

	before := time.Now()
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sweeper.Stop()

	store.mu.Lock()
	cutoffs := store.cutoffs
	store.mu.Unlock()
	if len(cutoffs) == 0 {
		t.Fatal("liveness sweep never ran")
	}
	// Cutoff must be heartbeat_frequency * heartbeat_max_missed in the past.
	want := before.Add(-300 * time.Second)
	if diff := cutoffs[0].Sub(want); diff < -time.Second || diff > 2*time.Second {
		t.Fatalf("cutoff %v too far from expected %v", cutoffs[0], want)
	}
}

func TestSweeperStartTwice(t *testing.T) {
	sweeper := newSweeper(t, &fakeStore{})
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sweeper.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}
	sweeper.Stop()
	// Stop after Stop is a no-op.
	sweeper.Stop()
}
