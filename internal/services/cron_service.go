package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hotelease/checkout-backend/internal/database"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron           *cron.Cron
	store          database.SessionStore
	reconciliation *ReconciliationService
	sweepInterval  time.Duration
	logger         *logrus.Logger
}

// NewCronService creates a new CronService. reconciliation may be nil when no audit database is configured.
func NewCronService(store database.SessionStore, reconciliation *ReconciliationService, sweepInterval time.Duration, logger *logrus.Logger) *CronService {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &CronService{
		cron:           cron.New(cron.WithSeconds()),
		store:          store,
		reconciliation: reconciliation,
		sweepInterval:  sweepInterval,
		logger:         logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	// Job 1: drop expired checkout sessions and hand-offs
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.sweepInterval), s.sweepSessionsJob); err != nil {
		return fmt.Errorf("failed to schedule session sweep job: %w", err)
	}
	s.logger.WithField("interval", s.sweepInterval.String()).Info("Scheduled: sweep expired checkout sessions")

	// Job 2: report charged-but-unconfirmed checkouts at the top of every hour
	// "0 0 * * * *" = second 0, minute 0, every hour
	if s.reconciliation != nil {
		if _, err := s.cron.AddFunc("0 0 * * * *", s.reconciliationReportJob); err != nil {
			return fmt.Errorf("failed to schedule reconciliation report job: %w", err)
		}
		s.logger.Info("Scheduled: reconciliation report (hourly)")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// sweepSessionsJob never talks to the booking backend; abandoned bookings stay pending there
func (s *CronService) sweepSessionsJob() {
	startTime := time.Now()

	removed, err := s.store.DeleteExpired(context.Background(), startTime)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to sweep expired checkout sessions")
		return
	}

	entry := s.logger.WithFields(logrus.Fields{
		"removed":     removed,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	if removed > 0 {
		entry.Info("[CRON] Swept expired checkout sessions")
		return
	}
	entry.Debug("[CRON] No expired checkout sessions")
}

func (s *CronService) reconciliationReportJob() {
	count, err := s.reconciliation.ReportFailures(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to build reconciliation report")
		return
	}
	if count > 0 {
		s.logger.WithField("count", count).Warn("[CRON] Checkouts awaiting manual reconciliation")
	}
}

// RunSweepNow runs the session sweep immediately
func (s *CronService) RunSweepNow() {
	s.sweepSessionsJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
