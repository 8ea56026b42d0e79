package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vgsi_scraper/config"
	"vgsi_scraper/httputil"
	"vgsi_scraper/models"
	"vgsi_scraper/storage"
)

// fakeSite mimics the VGSI page structure: an alphabetical street
// index, per-street listing pages, parcel detail pages and image
// files. One street per letter, one parcel per street.
type fakeSite struct {
	srv *httptest.Server

	mu         sync.Mutex
	requests   int
	failStreet string // listing requests for this street return 500
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	site := &fakeSite{}
	site.srv = httptest.NewServer(http.HandlerFunc(site.handle))
	t.Cleanup(site.srv.Close)
	return site
}

func (f *fakeSite) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeSite) setFailStreet(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failStreet = name
}

func streetForLetter(letter string) string {
	return letter + " TEST ST"
}

func pidForLetter(letter string) int {
	return 1001 + int(letter[0]-'A')
}

func (f *fakeSite) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	failStreet := f.failStreet
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/Streets.aspx" && r.URL.Query().Get("Letter") != "":
		letter := r.URL.Query().Get("Letter")
		name := streetForLetter(letter)
		fmt.Fprintf(w, `<html><body><table id="MainContent_grdStreets">
			<tr><td><a href="Streets.aspx?Name=%s">%s</a></td></tr>
			</table></body></html>`, url.QueryEscape(name), name)

	case r.URL.Path == "/Streets.aspx" && r.URL.Query().Get("Name") != "":
		name := r.URL.Query().Get("Name")
		if name == failStreet {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		pid := pidForLetter(name[:1])
		fmt.Fprintf(w, `<html><body><table id="MainContent_grdSearchResults">
			<tr><td><a href="Parcel.aspx?pid=%d">1 %s</a></td><td>Single Family</td></tr>
			</table></body></html>`, pid, name)

	case r.URL.Path == "/Parcel.aspx":
		pid := r.URL.Query().Get("pid")
		sketch := ""
		if (pid[len(pid)-1]-'0')%2 == 0 {
			sketch = fmt.Sprintf(`<img id="MainContent_ctl01_imgSketch" src="Sketches/%s.png" />`, pid)
		}
		fmt.Fprintf(w, `<html><body>
			<span id="MainContent_lblPid">%s</span>
			<span id="MainContent_lblLocation">PARCEL %s</span>
			<span id="MainContent_lblGenOwner">OWNER %s</span>
			<span id="MainContent_lblGenAssessment">$250,000</span>
			<img id="MainContent_ctl01_imgPhoto" src="photos/%s.jpg" />
			%s
			</body></html>`, pid, pid, pid, pid, sketch)

	case len(r.URL.Path) > 8 && r.URL.Path[:8] == "/photos/":
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))

	case len(r.URL.Path) > 10 && r.URL.Path[:10] == "/Sketches/":
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))

	default:
		http.NotFound(w, r)
	}
}

func newTestOrchestrator(t *testing.T, site *fakeSite) (*Orchestrator, *storage.SQLiteStore, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		Site: config.SiteConfig{
			ID:         "testtown",
			Name:       "Test Town",
			BaseURL:    site.srv.URL,
			StreetsURL: site.srv.URL + "/Streets.aspx",
			UserAgent:  "test-agent",
		},
		Scraper: config.ScraperConfig{
			RequestDelay:           0,
			MaxRetries:             2,
			Timeout:                5 * time.Second,
			Workers:                2,
			MaxConcurrentDownloads: 2,
			Fetcher:                "http",
		},
		DBPath:  filepath.Join(t.TempDir(), "test.db"),
		DataDir: t.TempDir(),
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clients := httputil.NewClients(cfg.Scraper.Timeout)
	return New(cfg, store, nil, nil, clients), store, cfg
}

func TestOrchestratorFullRun(t *testing.T) {
	site := newFakeSite(t)
	orch, store, cfg := newTestOrchestrator(t, site)

	run, err := orch.Run(context.Background(), RunOptions{Scope: ScopeAll})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.SoftFailed != 0 {
		t.Fatalf("expected no soft failures, got %d", run.SoftFailed)
	}

	// 26 letters, 26 streets, 26 parcels, 26 photos + 13 sketches.
	streetsTotal, streetsScraped, err := store.CountStreets()
	if err != nil {
		t.Fatalf("count streets: %v", err)
	}
	if streetsTotal != 26 || streetsScraped != 26 {
		t.Fatalf("expected 26/26 streets scraped, got %d/%d", streetsScraped, streetsTotal)
	}

	propsTotal, propsScraped, _ := store.CountProperties()
	if propsTotal != 26 || propsScraped != 26 {
		t.Fatalf("expected 26/26 properties scraped, got %d/%d", propsScraped, propsTotal)
	}

	photosTotal, photosDone, _ := store.CountMedia(models.MediaKindPhoto)
	if photosTotal != 26 || photosDone != 26 {
		t.Fatalf("expected 26/26 photos, got %d/%d", photosDone, photosTotal)
	}
	layoutsTotal, layoutsDone, _ := store.CountMedia(models.MediaKindLayout)
	if layoutsTotal != 13 || layoutsDone != 13 {
		t.Fatalf("expected 13/13 layouts, got %d/%d", layoutsDone, layoutsTotal)
	}

	// Files landed under the data dir, one folder per parcel.
	photos, _ := filepath.Glob(filepath.Join(cfg.PhotosDir(), "*", "*.jpg"))
	if len(photos) != 26 {
		t.Fatalf("expected 26 photo files, got %d", len(photos))
	}
	layouts, _ := filepath.Glob(filepath.Join(cfg.LayoutsDir(), "*", "*.png"))
	if len(layouts) != 13 {
		t.Fatalf("expected 13 layout files, got %d", len(layouts))
	}

	// Detail bags were stored.
	prop, err := store.GetProperty("1001")
	if err != nil || prop == nil {
		t.Fatalf("get property: %v", err)
	}
	if len(prop.Owner) == 0 || len(prop.Assessment) == 0 {
		t.Fatalf("attribute bags missing: %+v", prop)
	}

	latest, _ := store.LatestRun()
	if latest == nil || latest.Status != models.RunStatusCompleted {
		t.Fatalf("run record missing or wrong: %+v", latest)
	}
}

func TestOrchestratorResumeSkipsDoneWork(t *testing.T) {
	site := newFakeSite(t)
	orch, _, _ := newTestOrchestrator(t, site)

	if _, err := orch.Run(context.Background(), RunOptions{Scope: ScopeAll}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	before := site.requestCount()
	run, err := orch.Run(context.Background(), RunOptions{Scope: ScopeAll})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if run.Succeeded != 0 {
		t.Fatalf("resumed run must skip done work, processed %d", run.Succeeded)
	}
	if after := site.requestCount(); after != before {
		t.Fatalf("resumed run refetched pages: %d -> %d", before, after)
	}
}

func TestOrchestratorSoftFailureAndRetry(t *testing.T) {
	site := newFakeSite(t)
	orch, store, _ := newTestOrchestrator(t, site)

	failing := streetForLetter("B")
	site.setFailStreet(failing)

	// Streets first, then listings with one street failing.
	if _, err := orch.Run(context.Background(), RunOptions{Scope: ScopeStreets}); err != nil {
		t.Fatalf("streets run failed: %v", err)
	}
	run, err := orch.Run(context.Background(), RunOptions{Scope: ScopeListings})
	if err != nil {
		t.Fatalf("listings run failed: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("soft failure must not abort the run, got %s", run.Status)
	}
	if run.Succeeded != 25 || run.SoftFailed != 1 {
		t.Fatalf("expected 25 succeeded / 1 failed, got %d / %d", run.Succeeded, run.SoftFailed)
	}

	failed, _ := store.FailedTasks(models.StageListing, 10)
	if len(failed) != 1 || failed[0].EntityKey != failing {
		t.Fatalf("unexpected failed tasks %+v", failed)
	}
	if failed[0].Attempts != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", failed[0].Attempts)
	}

	// A plain rerun leaves the failed task alone.
	run, _ = orch.Run(context.Background(), RunOptions{Scope: ScopeListings})
	if run.Succeeded != 0 {
		t.Fatalf("failed task processed without retry flag: %+v", run)
	}

	// With the site healthy again, the retry flag requeues it.
	site.setFailStreet("")
	run, err = orch.Run(context.Background(), RunOptions{Scope: ScopeListings, RetryFailed: true})
	if err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if run.Succeeded != 1 || run.SoftFailed != 0 {
		t.Fatalf("expected retried task to succeed, got %+v", run)
	}

	street, _ := store.GetStreet(failing)
	if street == nil || !street.Scraped {
		t.Fatalf("retried street not scraped: %+v", street)
	}
}

func TestOrchestratorLimit(t *testing.T) {
	site := newFakeSite(t)
	orch, store, _ := newTestOrchestrator(t, site)

	run, err := orch.Run(context.Background(), RunOptions{Scope: ScopeStreets, Limit: 3})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.Succeeded != 3 {
		t.Fatalf("expected 3 tasks with limit, got %d", run.Succeeded)
	}

	pending, _ := store.PendingTasks(models.StageStreets, 0)
	if len(pending) != 23 {
		t.Fatalf("expected 23 letters left, got %d", len(pending))
	}
}

func TestOrchestratorNoResumeRefetches(t *testing.T) {
	site := newFakeSite(t)
	orch, store, _ := newTestOrchestrator(t, site)

	if _, err := orch.Run(context.Background(), RunOptions{Scope: ScopeStreets}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	before := site.requestCount()
	run, err := orch.Run(context.Background(), RunOptions{Scope: ScopeStreets, NoResume: true})
	if err != nil {
		t.Fatalf("no-resume run failed: %v", err)
	}
	if run.Succeeded != 26 {
		t.Fatalf("expected all 26 letters refetched, got %d", run.Succeeded)
	}
	if after := site.requestCount(); after != before+26 {
		t.Fatalf("expected 26 extra requests, got %d", after-before)
	}

	// Streets were upserted, not duplicated.
	total, _, err := store.CountStreets()
	if err != nil {
		t.Fatalf("count streets: %v", err)
	}
	if total != 26 {
		t.Fatalf("expected 26 streets after refetch, got %d", total)
	}
}
