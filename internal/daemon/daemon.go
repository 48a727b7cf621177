package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"crucible/internal/config"
	"crucible/internal/logging"
	"crucible/internal/metrics"
	"crucible/internal/recordtypes"
	"crucible/internal/storage"
	"crucible/internal/workflow"
)

// Daemon ties together the store, the background sweeps, and the HTTP API,
// and enforces single-instance execution through a lock file.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *storage.Store
	registry  *recordtypes.Registry
	sweeper   *workflow.Sweeper
	collector *metrics.Collector

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *storage.Store, registry *recordtypes.Registry, logger *slog.Logger, sweeper *workflow.Sweeper, collector *metrics.Collector) (*Daemon, error) {
	if cfg == nil || store == nil || registry == nil || sweeper == nil {
		return nil, errors.New("daemon requires config, store, registry, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.LogDir, "crucibled.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		registry:  registry,
		sweeper:   sweeper,
		collector: collector,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d)
	return d, nil
}

// Start acquires the daemon lock, launches the sweeps, and begins serving
// the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another crucible daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.sweeper.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start sweeper: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.sweeper.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("crucible daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.Addr()))
	return nil
}

// Stop stops background processing, the API server, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.sweeper.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("crucible daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the bound API address, for tests and logs.
func (d *Daemon) Addr() string {
	return d.api.Addr()
}
