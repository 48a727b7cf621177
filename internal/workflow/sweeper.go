package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crucible/internal/config"
	"crucible/internal/errs"
	"crucible/internal/logging"
	"crucible/internal/metrics"
)

// Store is the storage surface the sweeps drive.
type Store interface {
	ReadyServices(ctx context.Context, limit int) ([]int64, error)
	IterateService(ctx context.Context, recordID int64) (ran, finished bool, err error)
	DeactivateStaleManagers(ctx context.Context, cutoff time.Time) ([]string, int, error)
	CountActiveManagers(ctx context.Context) (int64, error)
}

// Sweeper runs the two background loops of the server: the service sweep,
// which iterates every workflow whose dependencies are all terminal, and the
// manager liveness sweep, which retires silent managers and requeues the
// tasks they held.
type Sweeper struct {
	store     Store
	logger    *slog.Logger
	collector *metrics.Collector

	serviceInterval time.Duration
	managerInterval time.Duration
	managerCutoff   time.Duration
	batchLimit      int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a sweeper from configuration. The liveness cutoff is the
// heartbeat frequency times the allowed number of missed beats.
func New(cfg *config.Config, store Store, logger *slog.Logger, collector *metrics.Collector) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		store:           store,
		logger:          logger.With(logging.String(logging.FieldComponent, "workflow")),
		collector:       collector,
		serviceInterval: time.Duration(cfg.Workflow.ServiceSweepInterval) * time.Second,
		managerInterval: time.Duration(cfg.Workflow.ManagerSweepInterval) * time.Second,
		managerCutoff:   time.Duration(cfg.Managers.HeartbeatFrequency*cfg.Managers.HeartbeatMaxMissed) * time.Second,
		batchLimit:      cfg.Workflow.ServiceBatchLimit,
	}
}

// Start begins background processing.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.runLoop(runCtx, s.serviceInterval, s.sweepServices)
	go s.runLoop(runCtx, s.managerInterval, s.sweepManagers)
	return nil
}

// Stop terminates background processing and waits for completion.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Sweeper) runLoop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// One pass immediately on startup; restarts should not wait a full
	// interval to resume halted workflows.
	pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

// sweepServices iterates every ready service once. Failures are isolated per
// service; one broken workflow never stops the rest of the pass.
func (s *Sweeper) sweepServices(ctx context.Context) {
	ids, err := s.store.ReadyServices(ctx, s.batchLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("service sweep query failed", logging.Error(err))
		}
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		ran, finished, err := s.store.IterateService(ctx, id)
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, errs.ErrServiceIteration):
			// Committed to error status by the store; just account for it.
			if s.collector != nil {
				s.collector.RecordServiceFailed()
			}
			s.logger.Warn("service iteration failed",
				logging.Int64(logging.FieldRecordID, id),
				logging.Error(err))
		case err != nil:
			s.logger.Error("service iteration aborted",
				logging.Int64(logging.FieldRecordID, id),
				logging.Error(err))
		case ran:
			if s.collector != nil {
				s.collector.RecordServiceIterated()
			}
			if finished {
				s.logger.Info("service finished", logging.Int64(logging.FieldRecordID, id))
			}
		}
	}
}

// sweepManagers retires managers whose heartbeat went silent and requeues
// their claimed tasks.
func (s *Sweeper) sweepManagers(ctx context.Context) {
	if s.managerCutoff > 0 {
		cutoff := time.Now().Add(-s.managerCutoff)
		names, requeued, err := s.store.DeactivateStaleManagers(ctx, cutoff)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("manager liveness sweep failed", logging.Error(err))
			}
			return
		}
		if len(names) > 0 {
			if s.collector != nil {
				s.collector.RecordOrphaned(requeued)
			}
			for _, name := range names {
				s.logger.Warn("manager went silent, deactivated",
					logging.String(logging.FieldManager, name))
			}
			s.logger.Info("requeued orphaned tasks",
				logging.Int(logging.FieldCount, requeued))
		}
	}

	if s.collector != nil {
		count, err := s.store.CountActiveManagers(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("count active managers failed", logging.Error(err))
			}
			return
		}
		s.collector.SetActiveManagers(int(count))
	}
}
