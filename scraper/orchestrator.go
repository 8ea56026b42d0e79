package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vgsi_scraper/config"
	"vgsi_scraper/fetch"
	"vgsi_scraper/httputil"
	"vgsi_scraper/models"
	"vgsi_scraper/storage"
)

// Run scopes. Each scope selects a subset of the stage sequence.
const (
	ScopeAll      = "all"
	ScopeStreets  = "streets"
	ScopeListings = "listings"
	ScopeDetails  = "details"
	ScopeMedia    = "media"
)

// RunOptions select what a run covers and how progress is treated.
type RunOptions struct {
	Scope string
	// Limit caps the number of tasks processed per stage. Zero means
	// no cap.
	Limit int
	// Workers overrides the configured pool size when positive.
	Workers int
	// NoResume requeues every task of the in-scope stages, done ones
	// included. Collected records are kept and upserted over.
	NoResume bool
	// RetryFailed requeues failed tasks before the run.
	RetryFailed bool
}

// Orchestrator sequences the crawl stages and owns the shared
// collaborators the stage runners need.
type Orchestrator struct {
	cfg      *config.Config
	store    *storage.SQLiteStore
	pg       *storage.PostgresStore
	uploader *storage.S3Uploader
	clients  *httputil.Clients
}

func New(cfg *config.Config, store *storage.SQLiteStore, pg *storage.PostgresStore, uploader *storage.S3Uploader, clients *httputil.Clients) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		pg:       pg,
		uploader: uploader,
		clients:  clients,
	}
}

func stagesForScope(scope string) ([]string, error) {
	switch scope {
	case ScopeAll, "":
		return models.Stages, nil
	case ScopeStreets:
		return []string{models.StageStreets}, nil
	case ScopeListings:
		return []string{models.StageListing}, nil
	case ScopeDetails:
		return []string{models.StageDetail}, nil
	case ScopeMedia:
		return []string{models.StageMedia}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}

// Run executes the selected stages in order and records the run. Soft
// failures are counted and the run completes; a fatal failure aborts
// the run with whatever progress was durably recorded.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*models.ScrapeRun, error) {
	stages, err := stagesForScope(opts.Scope)
	if err != nil {
		return nil, err
	}

	run := &models.ScrapeRun{
		RunUID:    uuid.NewString(),
		Scope:     opts.Scope,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if run.Scope == "" {
		run.Scope = ScopeAll
	}
	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	if o.pg != nil {
		if err := o.pg.CreateScrapeRun(ctx, run); err != nil {
			log.Printf("postgres mirror run: %v", err)
		}
	}

	var fatal error
	for _, stage := range stages {
		stats, err := o.runStage(ctx, stage, opts)
		run.Succeeded += stats.Succeeded
		run.SoftFailed += stats.SoftFailed
		if err != nil {
			fatal = err
			break
		}
		if ctx.Err() != nil {
			fatal = ctx.Err()
			break
		}
	}

	now := time.Now()
	run.FinishedAt = &now
	if fatal != nil {
		run.Status = models.RunStatusAborted
		run.ErrorsMsg = fatal.Error()
	} else {
		run.Status = models.RunStatusCompleted
	}
	if err := o.store.UpdateRun(run); err != nil {
		log.Printf("update run record: %v", err)
	}
	if o.pg != nil {
		if err := o.pg.UpdateScrapeRun(ctx, run); err != nil {
			log.Printf("postgres mirror run: %v", err)
		}
	}

	log.Printf("run %s %s: %d succeeded, %d soft failures",
		run.RunUID, run.Status, run.Succeeded, run.SoftFailed)
	return run, fatal
}

func (o *Orchestrator) runStage(ctx context.Context, stage string, opts RunOptions) (Stats, error) {
	if opts.NoResume {
		if err := o.store.ResetStage(stage); err != nil {
			return Stats{}, fmt.Errorf("reset stage %s: %w", stage, err)
		}
		if stage == models.StageListing {
			if err := o.store.ResetStreetsScraped(); err != nil {
				return Stats{}, err
			}
		}
	}
	if opts.RetryFailed {
		n, err := o.store.RetryFailed(stage)
		if err != nil {
			return Stats{}, fmt.Errorf("retry failed %s: %w", stage, err)
		}
		if n > 0 {
			log.Printf("stage %s: requeued %d failed task(s)", stage, n)
		}
	}

	orphans, err := o.store.RequeueOrphans(stage)
	if err != nil {
		return Stats{}, fmt.Errorf("requeue orphans %s: %w", stage, err)
	}
	if orphans > 0 {
		log.Printf("stage %s: requeued %d orphaned task(s)", stage, orphans)
	}

	if err := o.seedStage(stage); err != nil {
		return Stats{}, fmt.Errorf("seed stage %s: %w", stage, err)
	}

	tasks, err := o.store.PendingTasks(stage, opts.Limit)
	if err != nil {
		return Stats{}, fmt.Errorf("load pending %s tasks: %w", stage, err)
	}
	if len(tasks) == 0 {
		log.Printf("stage %s: nothing pending", stage)
		return Stats{}, nil
	}

	workers := o.cfg.Scraper.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}

	log.Printf("stage %s: %d task(s), %d worker(s)", stage, len(tasks), workers)
	stats := Run(ctx, o.store, tasks, workers, o.runnerFactory(stage))
	if stats.Fatal != nil {
		return stats, fmt.Errorf("stage %s: %w", stage, stats.Fatal)
	}
	return stats, nil
}

func (o *Orchestrator) seedStage(stage string) error {
	switch stage {
	case models.StageStreets:
		for _, letter := range Letters {
			if err := o.store.EnsureTask(models.StageStreets, letter); err != nil {
				return err
			}
		}
		return nil
	case models.StageListing:
		_, err := o.store.SeedListingTasks()
		return err
	case models.StageDetail:
		_, err := o.store.SeedDetailTasks()
		return err
	case models.StageMedia:
		_, err := o.store.SeedMediaTasks()
		return err
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// runnerFactory builds the per-worker Runner for a stage. Page stages
// get their own driver per worker; the media stage downloads over
// plain HTTP and shares one semaphore across workers.
func (o *Orchestrator) runnerFactory(stage string) NewRunner {
	var sem *semaphore.Weighted
	if stage == models.StageMedia {
		sem = semaphore.NewWeighted(o.cfg.Scraper.MaxConcurrentDownloads)
	}

	return func(ctx context.Context) (Runner, error) {
		if stage == models.StageMedia {
			client := o.newFetchClient(fetch.NewHTTPDriver(o.clients.Page, o.clients.Media, o.cfg.Site.UserAgent))
			return NewMediaRunner(o.store, o.pg, o.uploader, client, o.cfg, sem), nil
		}

		driver, err := o.newDriver()
		if err != nil {
			return nil, err
		}
		client := o.newFetchClient(driver)

		switch stage {
		case models.StageStreets:
			return NewStreetsRunner(o.store, o.pg, client, o.cfg.Site), nil
		case models.StageListing:
			return NewListingsRunner(o.store, o.pg, client, o.cfg.Site), nil
		case models.StageDetail:
			return NewDetailsRunner(o.store, o.pg, client, o.cfg.Site), nil
		default:
			driver.Close()
			return nil, fmt.Errorf("unknown stage %q", stage)
		}
	}
}

func (o *Orchestrator) newDriver() (fetch.Driver, error) {
	if o.cfg.Scraper.Fetcher == "http" {
		return fetch.NewHTTPDriver(o.clients.Page, o.clients.Media, o.cfg.Site.UserAgent), nil
	}
	return fetch.NewBrowserDriver(o.cfg.Site, o.cfg.Browser, o.cfg.Scraper.Timeout, o.clients.Media)
}

func (o *Orchestrator) newFetchClient(driver fetch.Driver) *fetch.Client {
	return fetch.NewClient(driver, fetch.Options{
		Delay:      o.cfg.Scraper.RequestDelay,
		Timeout:    o.cfg.Scraper.Timeout,
		MaxRetries: o.cfg.Scraper.MaxRetries,
	})
}

// Status is the read-only progress snapshot behind the status command.
type Status struct {
	Stages            []models.StageCounts
	StreetsTotal      int
	StreetsScraped    int
	PropertiesTotal   int
	PropertiesScraped int
	PhotosTotal       int
	PhotosDownloaded  int
	LayoutsTotal      int
	LayoutsDownloaded int
	FailedSamples     []models.Task
	LastRun           *models.ScrapeRun
}

// Status reads progress without mutating anything, so it is safe to
// call while a run is active elsewhere.
func (o *Orchestrator) Status() (*Status, error) {
	st := &Status{}
	var err error

	if st.Stages, err = o.store.StageCounts(); err != nil {
		return nil, err
	}
	if st.StreetsTotal, st.StreetsScraped, err = o.store.CountStreets(); err != nil {
		return nil, err
	}
	if st.PropertiesTotal, st.PropertiesScraped, err = o.store.CountProperties(); err != nil {
		return nil, err
	}
	if st.PhotosTotal, st.PhotosDownloaded, err = o.store.CountMedia(models.MediaKindPhoto); err != nil {
		return nil, err
	}
	if st.LayoutsTotal, st.LayoutsDownloaded, err = o.store.CountMedia(models.MediaKindLayout); err != nil {
		return nil, err
	}
	for _, stage := range models.Stages {
		failed, err := o.store.FailedTasks(stage, 10)
		if err != nil {
			return nil, err
		}
		st.FailedSamples = append(st.FailedSamples, failed...)
	}
	if st.LastRun, err = o.store.LatestRun(); err != nil {
		return nil, err
	}
	return st, nil
}
