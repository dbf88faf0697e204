// Package cron runs the periodic device liveness sweep.
package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

// Config holds cron runner configuration
type Config struct {
	Schedule     string        // cron spec or descriptor, e.g. "@every 1m"
	OfflineAfter time.Duration // silence before a device counts as offline
}

// DeviceStore is the slice of the store the sweep needs.
type DeviceStore interface {
	MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) ([]store.Device, error)
}

// Dispatcher delivers owner alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// Runner manages scheduled sweep execution
type Runner struct {
	config       Config
	store        DeviceStore
	dispatcher   Dispatcher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cron         *cron.Cron
	offlineAfter atomic.Int64
	ctx          context.Context
	cancel       context.CancelFunc
	running      bool
	mu           sync.RWMutex
}

// NewRunner validates the schedule and registers the sweep job.
func NewRunner(config Config, st DeviceStore, d Dispatcher, m *metrics.Metrics, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	if config.OfflineAfter <= 0 {
		config.OfflineAfter = 5 * time.Minute
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	r := &Runner{
		config:     config,
		store:      st,
		dispatcher: d,
		metrics:    m,
		logger:     logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
	r.offlineAfter.Store(int64(config.OfflineAfter))

	if _, err := r.cron.AddFunc(config.Schedule, r.tick); err != nil {
		return nil, fmt.Errorf("invalid liveness schedule %q: %w", config.Schedule, err)
	}
	return r, nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.running = true
	r.cron.Start()

	r.logger.Info("Liveness sweep started",
		zap.String("schedule", r.config.Schedule),
		zap.Duration("offline_after", r.OfflineAfter()),
	)
	return nil
}

// Stop cancels any in-flight sweep and waits for it to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// SetOfflineAfter changes the silence threshold for later sweeps.
func (r *Runner) SetOfflineAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	r.offlineAfter.Store(int64(d))
	r.logger.Info("Liveness threshold updated", zap.Duration("offline_after", d))
}

func (r *Runner) OfflineAfter() time.Duration {
	return time.Duration(r.offlineAfter.Load())
}

func (r *Runner) tick() {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()
	if ctx == nil {
		return
	}
	if _, err := r.Sweep(ctx, time.Now()); err != nil {
		r.logger.Error("Liveness sweep failed", zap.Error(err))
	}
}

// Sweep marks devices silent since before now-OfflineAfter as offline and
// alerts their owners. It returns how many devices changed state.
func (r *Runner) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.OfflineAfter())

	devices, err := r.store.MarkStaleDevicesOffline(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(devices) == 0 {
		return 0, nil
	}

	r.metrics.RecordDevicesOffline(len(devices))
	r.logger.Info("Marked devices offline",
		zap.Int("count", len(devices)),
		zap.Time("cutoff", cutoff),
	)

	if r.dispatcher == nil {
		return len(devices), nil
	}
	for _, d := range devices {
		ev := notify.Event{
			Kind:     notify.KindDeviceOffline,
			UserID:   d.UserID,
			DeviceID: d.ID,
			Message:  offlineMessage(d, now),
			At:       now.UTC(),
		}
		if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
			r.logger.Warn("Failed to alert device owner",
				zap.String("device_id", d.ID),
				zap.Error(err),
			)
		}
	}
	return len(devices), nil
}

func offlineMessage(d store.Device, now time.Time) string {
	if d.LastSeen == nil {
		return fmt.Sprintf("%s (%s) has never checked in.", d.Name, d.ChipID)
	}
	silent := now.Sub(*d.LastSeen).Round(time.Minute)
	return fmt.Sprintf("%s (%s) has been silent for %s.", d.Name, d.ChipID, silent)
}
