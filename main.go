package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vgsi_scraper/config"
	"vgsi_scraper/export"
	"vgsi_scraper/httputil"
	"vgsi_scraper/logging"
	"vgsi_scraper/scheduler"
	"vgsi_scraper/scraper"
	"vgsi_scraper/storage"
)

var (
	streetsOnly    = flag.Bool("streets-only", false, "Scrape the street index only")
	propertiesOnly = flag.Bool("properties-only", false, "Scrape street listings only")
	detailsOnly    = flag.Bool("details-only", false, "Scrape parcel detail pages only")
	downloadOnly   = flag.Bool("download-only", false, "Download media files only")
	statusFlag     = flag.Bool("status", false, "Print progress summary and exit")
	exportFlag     = flag.Bool("export", false, "Export scraped properties and exit")
	exportFormat   = flag.String("export-format", "csv", "Export format: csv or json")
	noResume       = flag.Bool("no-resume", false, "Reprocess everything in scope, keeping collected data")
	retryFailed    = flag.Bool("retry-failed", false, "Requeue failed tasks before running")
	limit          = flag.Int("limit", 0, "Max tasks per stage (0 = no limit)")
	workers        = flag.Int("workers", 0, "Worker pool size override")
	daemon         = flag.Bool("daemon", false, "Run on the SCRAPE_CRON schedule")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("scraper.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	scope, err := selectScope()
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Target site: %s (%s)", cfg.Site.Name, cfg.Site.BaseURL)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer store.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pg *storage.PostgresStore
	if cfg.Supabase.DBURL != "" {
		pg, err = storage.NewPostgresStore(ctx, cfg.Supabase.DBURL)
		if err != nil {
			log.Printf("Warning: Postgres mirror unavailable: %v", err)
		} else {
			defer pg.Close()
			log.Println("Postgres mirror connected")
		}
	}

	var uploader *storage.S3Uploader
	if cfg.S3.Bucket != "" {
		uploader, err = storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Printf("Warning: S3 uploads disabled: %v", err)
		} else {
			log.Printf("S3 uploads enabled: bucket %s", cfg.S3.Bucket)
		}
	}

	clients := httputil.NewClients(cfg.Scraper.Timeout)
	orchestrator := scraper.New(cfg, store, pg, uploader, clients)

	switch {
	case *statusFlag:
		if err := printStatus(orchestrator); err != nil {
			log.Fatalf("Status failed: %v", err)
		}

	case *exportFlag:
		path, err := export.Properties(store, cfg.ExportsDir(), *exportFormat)
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		log.Printf("Exported properties to %s", path)

		salesPath, err := export.SalesHistory(store, cfg.ExportsDir())
		if err != nil {
			log.Fatalf("Sales export failed: %v", err)
		}
		log.Printf("Exported sales history to %s", salesPath)

	case *daemon:
		sched := scheduler.New(cfg, orchestrator)
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		log.Println("Daemon running. Press Ctrl+C to stop.")
		<-ctx.Done()
		log.Println("Shutting down...")
		sched.Stop()

	default:
		run, err := orchestrator.Run(ctx, scraper.RunOptions{
			Scope:       scope,
			Limit:       *limit,
			Workers:     *workers,
			NoResume:    *noResume,
			RetryFailed: *retryFailed,
		})
		if err != nil {
			log.Printf("Run aborted: %v", err)
			os.Exit(1)
		}
		log.Printf("Run complete: %d succeeded, %d soft failures", run.Succeeded, run.SoftFailed)
	}
}

// selectScope maps the mutually exclusive stage flags to a run scope.
func selectScope() (string, error) {
	scopes := map[string]bool{
		scraper.ScopeStreets:  *streetsOnly,
		scraper.ScopeListings: *propertiesOnly,
		scraper.ScopeDetails:  *detailsOnly,
		scraper.ScopeMedia:    *downloadOnly,
	}

	selected := scraper.ScopeAll
	count := 0
	for scope, on := range scopes {
		if on {
			selected = scope
			count++
		}
	}
	if count > 1 {
		return "", fmt.Errorf("at most one of --streets-only, --properties-only, --details-only, --download-only may be set")
	}
	return selected, nil
}

func printStatus(orchestrator *scraper.Orchestrator) error {
	st, err := orchestrator.Status()
	if err != nil {
		return err
	}

	fmt.Println("Scrape progress")
	fmt.Printf("  Streets:    %d/%d scraped\n", st.StreetsScraped, st.StreetsTotal)
	fmt.Printf("  Properties: %d/%d scraped\n", st.PropertiesScraped, st.PropertiesTotal)
	fmt.Printf("  Photos:     %d/%d downloaded\n", st.PhotosDownloaded, st.PhotosTotal)
	fmt.Printf("  Layouts:    %d/%d downloaded\n", st.LayoutsDownloaded, st.LayoutsTotal)

	fmt.Println("Stages")
	for _, sc := range st.Stages {
		fmt.Printf("  %-8s pending=%d in_progress=%d done=%d failed=%d\n",
			sc.Stage, sc.Pending, sc.InProgress, sc.Done, sc.Failed)
	}

	if len(st.FailedSamples) > 0 {
		fmt.Println("Recent failures")
		for _, task := range st.FailedSamples {
			fmt.Printf("  %s (attempts=%d): %s\n", task.ID, task.Attempts, task.LastError)
		}
	}

	if st.LastRun != nil {
		run := st.LastRun
		fmt.Printf("Last run: %s scope=%s status=%s succeeded=%d soft_failed=%d\n",
			run.RunUID, run.Scope, run.Status, run.Succeeded, run.SoftFailed)
	}
	return nil
}
