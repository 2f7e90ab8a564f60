/**
 * @description
 * Cron scheduler wiring for the pipeline workers. Each tick is a pure
 * function of store state; no in-memory state survives across ticks, so the
 * same passes can equally be driven by the admin HTTP endpoints or external
 * cron. Panics inside a job are recovered so one bad tick never takes the
 * process down.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig carries the cron expression for each worker.
type SchedulerConfig struct {
	EligibilitySchedule string
	LinkerSchedule      string
	DispatchSchedule    string
	NotifySchedule      string
	PurgeSchedule       string
}

// Scheduler manages the periodic pipeline jobs.
type Scheduler struct {
	cron       *cron.Cron
	engine     *EligibilityEngine
	linker     *Linker
	dispatcher *Dispatcher
	notifier   *Notifier
	purger     *Purger
	logger     *slog.Logger
	cfg        SchedulerConfig
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(
	engine *EligibilityEngine,
	linker *Linker,
	dispatcher *Dispatcher,
	notifier *Notifier,
	purger *Purger,
	logger *slog.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:       c,
		engine:     engine,
		linker:     linker,
		dispatcher: dispatcher,
		notifier:   notifier,
		purger:     purger,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.add("eligibility pass", s.cfg.EligibilitySchedule, s.runEligibility)
	s.add("linker pass", s.cfg.LinkerSchedule, s.runLinker)
	s.add("dispatch tick", s.cfg.DispatchSchedule, s.runDispatch)
	s.add("notify tick", s.cfg.NotifySchedule, s.runNotify)
	s.add("purge job", s.cfg.PurgeSchedule, s.runPurge)
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) add(name, schedule string, job func()) {
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", schedule, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
}

func (s *Scheduler) runEligibility() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := s.engine.RunOnce(ctx)
	if err != nil {
		s.logger.Error("eligibility pass failed", "error", err)
		return
	}
	s.logger.Info("eligibility pass finished",
		"examined", stats.Examined, "updated", stats.Updated, "skipped", stats.Skipped)
}

func (s *Scheduler) runLinker() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := s.linker.RunOnce(ctx)
	if err != nil {
		s.logger.Error("linker pass failed", "error", err)
		return
	}
	s.logger.Info("linker pass finished",
		"examined", stats.Examined, "linked", stats.Linked, "skipped", stats.Skipped)
}

func (s *Scheduler) runDispatch() {
	// Browser flows are slow; one submission can legitimately take minutes.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := s.dispatcher.Tick(ctx)
	if err != nil {
		s.logger.Error("dispatch tick failed", "error", err)
		return
	}
	if stats.Processed > 0 {
		s.logger.Info("dispatch tick finished", "result", stats.Result, "claim_id", stats.ClaimID)
	}
}

func (s *Scheduler) runNotify() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := s.notifier.Tick(ctx)
	if err != nil {
		s.logger.Error("notify tick failed", "error", err)
		return
	}
	if stats.Processed > 0 {
		s.logger.Info("notify tick finished", "result", stats.Result)
	}
}

func (s *Scheduler) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.purger.RunOnce(ctx); err != nil {
		s.logger.Error("purge job failed", "error", err)
	}
}
