package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-core/internal/application/port"
	"github.com/garyjia/approval-core/internal/application/service"
)

// SLAWorkerConfig holds configuration for the SLA sweeper
type SLAWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultSLAWorkerConfig returns default configuration
func DefaultSLAWorkerConfig() SLAWorkerConfig {
	return SLAWorkerConfig{
		PollInterval: time.Minute,
		BatchSize:    100,
	}
}

// ExpiryObserver is told about every task the sweeper expires
type ExpiryObserver interface {
	RecordTaskExpired()
}

// SLAWorkerStats is a snapshot of sweeper activity
type SLAWorkerStats struct {
	Running      bool      `json:"running"`
	ExpiredCount int       `json:"expired_count"`
	FailedCount  int       `json:"failed_count"`
	LastSweep    time.Time `json:"last_sweep"`
	LastError    string    `json:"last_error,omitempty"`
}

// SLAWorker expires pending approval tasks whose due time has passed
type SLAWorker struct {
	config SLAWorkerConfig

	taskRepo port.TaskRepository
	taskLC   service.TaskLifecycle
	observer ExpiryObserver
	now      func() time.Time
	logger   *zap.Logger

	mu           sync.RWMutex
	cancel       context.CancelFunc
	done         chan struct{}
	isRunning    bool
	expiredCount int
	failedCount  int
	lastSweep    time.Time
	lastError    error
}

// NewSLAWorker creates a new SLA sweeper. observer may be nil.
func NewSLAWorker(
	config SLAWorkerConfig,
	taskRepo port.TaskRepository,
	taskLC service.TaskLifecycle,
	observer ExpiryObserver,
	logger *zap.Logger,
) *SLAWorker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSLAWorkerConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSLAWorkerConfig().BatchSize
	}

	return &SLAWorker{
		config:   config,
		taskRepo: taskRepo,
		taskLC:   taskLC,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Start begins the sweep loop
func (w *SLAWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("sla worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("SLAWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop terminates the sweep loop and waits for an in-flight sweep
func (w *SLAWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("SLAWorker stopped",
		zap.Int("expired_count", stats.ExpiredCount),
		zap.Int("failed_count", stats.FailedCount))
	return nil
}

// Name returns the worker name for identification
func (w *SLAWorker) Name() string {
	return "SLAWorker"
}

// Stats returns a snapshot of sweeper activity
func (w *SLAWorker) Stats() SLAWorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := SLAWorkerStats{
		Running:      w.isRunning,
		ExpiredCount: w.expiredCount,
		FailedCount:  w.failedCount,
		LastSweep:    w.lastSweep,
	}
	if w.lastError != nil {
		stats.LastError = w.lastError.Error()
	}
	return stats
}

func (w *SLAWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("Failed to sweep overdue tasks", zap.Error(err))
			}
		}
	}
}

// Sweep expires one batch of overdue tasks and returns how many were expired
func (w *SLAWorker) Sweep(ctx context.Context) (int, error) {
	tasks, err := w.taskRepo.ListOverdue(ctx, w.now(), w.config.BatchSize)
	if err != nil {
		w.mu.Lock()
		w.lastError = err
		w.lastSweep = w.now()
		w.mu.Unlock()
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	expired, failed := 0, 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}

		if _, err := w.taskLC.Expire(ctx, task.ID); err != nil {
			w.logger.Warn("Failed to expire task",
				zap.String("task_id", task.ID),
				zap.String("approver_id", task.ApproverID),
				zap.Error(err))
			failed++
			continue
		}

		expired++
		if w.observer != nil {
			w.observer.RecordTaskExpired()
		}
	}

	w.mu.Lock()
	w.expiredCount += expired
	w.failedCount += failed
	w.lastSweep = w.now()
	w.lastError = nil
	w.mu.Unlock()

	if expired > 0 || failed > 0 {
		w.logger.Info("Overdue tasks swept", zap.Int("expired", expired), zap.Int("failed", failed))
	}
	return expired, nil
}
