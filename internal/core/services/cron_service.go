package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// CronService schedules the recurring collection work: the daily batch run
// and a nightly coverage sweep.
type CronService struct {
	cron     *cron.Cron
	batches  *BatchService
	coverage *CoverageService
	jobs     *JobService
}

func NewCronService(batches *BatchService, coverage *CoverageService, jobs *JobService) *CronService {
	return &CronService{
		cron:     cron.New(),
		batches:  batches,
		coverage: coverage,
		jobs:     jobs,
	}
}

// Start registers the schedules and starts the cron loop
func (s *CronService) Start() {
	// Daily batch assembly at 07:00, before banking cut-off
	if _, err := s.cron.AddFunc("0 7 * * *", s.runDailyBatch); err != nil {
		log.Printf("❌ Failed to schedule daily batch run: %v", err)
	}

	// Nightly coverage sweep at 02:00
	if _, err := s.cron.AddFunc("0 2 * * *", s.runCoverageSweep); err != nil {
		log.Printf("❌ Failed to schedule coverage sweep: %v", err)
	}

	s.cron.Start()
	log.Println("🚀 Cron service started (batch 07:00, coverage 02:00)")
}

// Stop halts the cron loop, waiting for running entries
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("🛑 Cron service stopped")
}

// runDailyBatch enqueues the batch run on the long queue so a slow morning
// run cannot stall the scheduler.
func (s *CronService) runDailyBatch() {
	today := time.Now().Truncate(24 * time.Hour)
	_, err := s.jobs.Enqueue(QueueLong, "daily_collection_batch", 0, func(ctx context.Context) (interface{}, error) {
		batch, err := s.batches.CreateCollectionBatch(ctx, today, true)
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return map[string]interface{}{"created": false}, nil
		}
		return map[string]interface{}{"created": true, "batch_ref": batch.BatchRef, "entries": batch.EntryCount}, nil
	})
	if err != nil {
		log.Printf("❌ Could not enqueue daily batch run: %v", err)
	}
}

func (s *CronService) runCoverageSweep() {
	_, err := s.jobs.Enqueue(QueueDefault, "coverage_sweep", 0, func(ctx context.Context) (interface{}, error) {
		return s.coverage.VerifyInvoiceCoverage(ctx, time.Now())
	})
	if err != nil {
		log.Printf("❌ Could not enqueue coverage sweep: %v", err)
	}
}
