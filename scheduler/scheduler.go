// Package scheduler runs the crawl on a cron schedule in daemon mode.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"vgsi_scraper/config"
	"vgsi_scraper/scraper"
)

type Scheduler struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	cron         *cron.Cron

	mu      sync.Mutex
	running bool
}

func New(cfg *config.Config, orchestrator *scraper.Orchestrator) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		cron:         cron.New(),
	}
}

// Start registers the cron entry and starts the timer. The scheduled
// job resumes from recorded progress, so overlapping schedules are
// collapsed to one running crawl at a time.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron == "" {
		return fmt.Errorf("no SCRAPE_CRON configured")
	}

	log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
	_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
		s.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// TriggerNow runs a crawl outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Scheduled run skipped: previous run still active")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.orchestrator.Run(ctx, scraper.RunOptions{Scope: scraper.ScopeAll}); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
}
