package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Site.BaseURL != "https://gis.vgsi.com/worcesterma" {
		t.Fatalf("unexpected base URL %q", cfg.Site.BaseURL)
	}
	if cfg.Site.StreetsURL != "https://gis.vgsi.com/worcesterma/Streets.aspx" {
		t.Fatalf("unexpected streets URL %q", cfg.Site.StreetsURL)
	}
	if cfg.Scraper.RequestDelay != time.Second {
		t.Fatalf("unexpected request delay %s", cfg.Scraper.RequestDelay)
	}
	if cfg.Scraper.MaxRetries != 3 {
		t.Fatalf("unexpected max retries %d", cfg.Scraper.MaxRetries)
	}
	if cfg.Scraper.Timeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Scraper.Timeout)
	}
	if cfg.Scraper.MaxConcurrentDownloads != 5 {
		t.Fatalf("unexpected download concurrency %d", cfg.Scraper.MaxConcurrentDownloads)
	}
	if !cfg.Browser.Headless {
		t.Fatal("expected headless default")
	}
	if cfg.DBPath != "worcester_properties.db" {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REQUEST_DELAY", "0.5")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("TIMEOUT", "10000")
	t.Setenv("HEADLESS", "false")
	t.Setenv("FETCHER", "http")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Scraper.RequestDelay != 500*time.Millisecond {
		t.Fatalf("unexpected request delay %s", cfg.Scraper.RequestDelay)
	}
	if cfg.Scraper.MaxRetries != 5 {
		t.Fatalf("unexpected max retries %d", cfg.Scraper.MaxRetries)
	}
	if cfg.Scraper.Timeout != 10*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Scraper.Timeout)
	}
	if cfg.Browser.Headless {
		t.Fatal("headless override ignored")
	}
	if cfg.Scraper.Fetcher != "http" {
		t.Fatalf("unexpected fetcher %q", cfg.Scraper.Fetcher)
	}
	if cfg.DBPath != "/tmp/other.db" {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
}

func TestDataDirs(t *testing.T) {
	t.Setenv("DATA_DIR", "scratch")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.PhotosDir() != "scratch/photos" {
		t.Fatalf("unexpected photos dir %q", cfg.PhotosDir())
	}
	if cfg.LayoutsDir() != "scratch/layouts" {
		t.Fatalf("unexpected layouts dir %q", cfg.LayoutsDir())
	}
	if cfg.ExportsDir() != "scratch/exports" {
		t.Fatalf("unexpected exports dir %q", cfg.ExportsDir())
	}
}
