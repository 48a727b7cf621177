package testsupport

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"

	"crucible/internal/config"
	"crucible/internal/record"
	"crucible/internal/recordtypes"
	"crucible/internal/recordtypes/manybody"
	"crucible/internal/recordtypes/singlepoint"
	"crucible/internal/storage"
)

// NewRegistry builds a frozen registry with the built-in record types.
func NewRegistry(t testing.TB) *recordtypes.Registry {
	t.Helper()

	registry := recordtypes.NewRegistry()
	registry.Register(singlepoint.New())
	registry.Register(manybody.New())
	registry.Freeze()
	return registry
}

// MustOpenStore opens a storage.Store for tests and registers cleanup. The
// test is skipped when CRUCIBLE_POSTGRES_DSN is unset.
func MustOpenStore(t testing.TB, cfg *config.Config) *storage.Store {
	t.Helper()

	if os.Getenv(PostgresEnv) == "" {
		t.Skipf("set %s to run database tests", PostgresEnv)
	}
	store, err := storage.Open(cfg, NewRegistry(t))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SubmitSinglepoint inserts one singlepoint record for tests. The molecule
// string keeps test submissions distinct from each other.
func SubmitSinglepoint(t testing.TB, store *storage.Store, molecule string, priority int) int64 {
	t.Helper()

	meta, err := store.InsertRecords(context.Background(), []record.NewRecord{{
		RecordType: "singlepoint",
		Program:    "psi4",
		Priority:   priority,
		Specification: map[string]any{
			"program":  "psi4",
			"method":   "b3lyp",
			"basis":    "def2-svp",
			"molecule": molecule,
		},
	}}, false)
	if err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
	if len(meta.ErrorIdx) > 0 {
		t.Fatalf("InsertRecords rejected candidate: %v", meta.Errors)
	}
	return meta.IDs[0]
}

// RegisterManager activates a manager with a fresh uuid and returns its name.
func RegisterManager(t testing.TB, store *storage.Store, cluster string, programs ...string) string {
	t.Helper()

	if len(programs) == 0 {
		programs = []string{"psi4"}
	}
	progMap := make(map[string]string, len(programs))
	for _, p := range programs {
		progMap[p] = "1.0"
	}
	name, err := store.ActivateManager(context.Background(), storage.ManagerRegistration{
		Cluster:  cluster,
		Hostname: fmt.Sprintf("%s-host", cluster),
		UUID:     uuid.NewString(),
		Programs: progMap,
	})
	if err != nil {
		t.Fatalf("ActivateManager: %v", err)
	}
	return name
}
