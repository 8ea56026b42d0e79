package scraper

import (
	"context"
	"fmt"
	"log"

	"vgsi_scraper/config"
	"vgsi_scraper/fetch"
	"vgsi_scraper/models"
	"vgsi_scraper/parse"
	"vgsi_scraper/storage"
)

// Letters enumerates the alphabetical index pages. Each letter is one
// streets-stage task.
var Letters = []string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
}

// StreetsRunner fetches one letter page of the street index and
// upserts the streets it finds.
type StreetsRunner struct {
	store  *storage.SQLiteStore
	pg     *storage.PostgresStore
	client *fetch.Client
	site   config.SiteConfig
}

func NewStreetsRunner(store *storage.SQLiteStore, pg *storage.PostgresStore, client *fetch.Client, site config.SiteConfig) *StreetsRunner {
	return &StreetsRunner{store: store, pg: pg, client: client, site: site}
}

func (r *StreetsRunner) Process(ctx context.Context, task models.Task) error {
	letter := task.EntityKey
	url := fmt.Sprintf("%s?Letter=%s", r.site.StreetsURL, letter)

	html, err := r.client.Navigate(ctx, url)
	if err != nil {
		return err
	}

	index, err := parse.ParseStreetIndex(html, r.site.BaseURL)
	if err != nil {
		return fmt.Errorf("letter %s: %w", letter, err)
	}

	for _, link := range index.Streets {
		street := &models.Street{Name: link.Name, SourceURL: link.URL}
		if err := r.store.UpsertStreet(street); err != nil {
			return fetch.Fatal(fmt.Errorf("upsert street %q: %w", link.Name, err))
		}
		mirrorStreet(ctx, r.pg, street)
	}

	log.Printf("letter %s: %d streets", letter, len(index.Streets))
	return nil
}

func (r *StreetsRunner) Close() error {
	return r.client.Driver().Close()
}

// Postgres mirroring is best effort. Failures are logged and the
// sqlite record stays authoritative.
func mirrorStreet(ctx context.Context, pg *storage.PostgresStore, st *models.Street) {
	if pg == nil {
		return
	}
	if err := pg.UpsertStreet(ctx, st); err != nil {
		log.Printf("postgres mirror street %q: %v", st.Name, err)
	}
}

func mirrorProperty(ctx context.Context, pg *storage.PostgresStore, p *models.Property) {
	if pg == nil {
		return
	}
	if err := pg.UpsertProperty(ctx, p); err != nil {
		log.Printf("postgres mirror property %s: %v", p.ParcelID, err)
	}
}

func mirrorMediaAsset(ctx context.Context, pg *storage.PostgresStore, m *models.MediaAsset) {
	if pg == nil {
		return
	}
	if err := pg.UpsertMediaAsset(ctx, m); err != nil {
		log.Printf("postgres mirror media %s: %v", m.SourceURL, err)
	}
}
