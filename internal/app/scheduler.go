/**
 * @description
 * Cron scheduler setup for the worker's periodic jobs: the fee-ledger
 * reconciliation sweep and the order expiry sweep.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/padala/verification-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	logger     *slog.Logger
	config     config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(reconciler *Reconciler, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		logger:     logger,
		config:     cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.FeeReconcileSchedule, s.runFeeReconciliation); err != nil {
		s.logger.Error("failed to schedule fee reconciliation job", "error", err)
	} else {
		s.logger.Info("scheduled fee reconciliation job", "schedule", s.config.FeeReconcileSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.OrderExpirySchedule, s.runOrderExpiry); err != nil {
		s.logger.Error("failed to schedule order expiry job", "error", err)
	} else {
		s.logger.Info("scheduled order expiry job", "schedule", s.config.OrderExpirySchedule)
	}

	s.cron.Start()
}

func (s *Scheduler) runFeeReconciliation() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	drifted, err := s.reconciler.ReconcileLedgers(ctx)
	if err != nil {
		s.logger.Error("fee reconciliation sweep failed", "error", err, "drifted", drifted)
		return
	}
	s.logger.Info("fee reconciliation sweep finished", "drifted", drifted)
}

func (s *Scheduler) runOrderExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.reconciler.ExpireStaleOrders(ctx)
	if err != nil {
		s.logger.Error("order expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.Info("order expiry sweep finished", "expired", expired)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
