package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lafoncedalle/reviewlink/internal/config"
	"github.com/lafoncedalle/reviewlink/internal/links"
	"github.com/lafoncedalle/reviewlink/internal/scanner"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	store   *links.Store
	scanner *scanner.Scanner
	cfg     config.ScanConfig
}

// NewScheduler creates a new job scheduler
func NewScheduler(store *links.Store, sc *scanner.Scanner, cfg config.ScanConfig) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		store:   store,
		scanner: sc,
		cfg:     cfg,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Periodic eligibility scan
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		log.Println("Running scheduled eligibility scan...")
		if _, err := s.scanner.Run(context.Background()); err != nil {
			log.Printf("Scheduled scan failed: %v", err)
		}
	}); err != nil {
		log.Printf("Failed to schedule eligibility scan (%q): %v", s.cfg.Schedule, err)
	}

	// Trim long-expired verification codes daily at 3:14 AM. Expiry is
	// enforced at confirmation time; this only keeps the table small.
	s.cron.AddFunc("14 3 * * *", func() {
		log.Println("Running pending-code cleanup job...")
		s.cleanupExpiredCodes()
	})

	s.cron.Start()
	log.Println("Job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

// cleanupExpiredCodes removes code rows expired for more than a day
func (s *Scheduler) cleanupExpiredCodes() {
	cutoff := time.Now().Add(-24 * time.Hour)
	deleted, err := s.store.DeleteCodesExpiredBefore(cutoff)
	if err != nil {
		log.Printf("Failed to cleanup expired codes: %v", err)
		return
	}
	log.Printf("Cleaned up %d expired verification codes", deleted)
}
