package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"vgsi_scraper/config"
	"vgsi_scraper/fetch"
	"vgsi_scraper/models"
	"vgsi_scraper/parse"
	"vgsi_scraper/storage"
)

// DetailsRunner fetches one parcel's detail page, stores its attribute
// bags and registers the media assets it references.
type DetailsRunner struct {
	store  *storage.SQLiteStore
	pg     *storage.PostgresStore
	client *fetch.Client
	site   config.SiteConfig
}

func NewDetailsRunner(store *storage.SQLiteStore, pg *storage.PostgresStore, client *fetch.Client, site config.SiteConfig) *DetailsRunner {
	return &DetailsRunner{store: store, pg: pg, client: client, site: site}
}

func (r *DetailsRunner) Process(ctx context.Context, task models.Task) error {
	parcelID := task.EntityKey

	prop, err := r.store.GetProperty(parcelID)
	if err != nil {
		return fetch.Fatal(fmt.Errorf("load parcel %s: %w", parcelID, err))
	}
	if prop == nil {
		return fmt.Errorf("parcel %s not found", parcelID)
	}

	html, err := r.client.Navigate(ctx, prop.DetailURL)
	if err != nil {
		return err
	}

	detail, err := parse.ParseParcelDetail(html, r.site.BaseURL)
	if err != nil {
		return fmt.Errorf("parcel %s: %w", parcelID, err)
	}

	prop.Owner = detail.Owner
	prop.Building = detail.Building
	prop.Land = detail.Land
	prop.Assessment = detail.Assessment
	prop.SalesHistory = detail.SalesHistory
	if detail.Location != "" {
		prop.Location = detail.Location
	}
	now := time.Now()
	prop.Scraped = true
	prop.ScrapedAt = &now

	if err := r.store.UpdatePropertyDetail(prop, now); err != nil {
		return fetch.Fatal(fmt.Errorf("store parcel %s detail: %w", parcelID, err))
	}
	mirrorProperty(ctx, r.pg, prop)

	for _, ref := range detail.Media {
		asset := &models.MediaAsset{
			ID:        uuid.NewString(),
			ParcelID:  parcelID,
			SourceURL: ref.URL,
			Kind:      ref.Kind,
		}
		if err := r.store.UpsertMediaAsset(asset); err != nil {
			return fetch.Fatal(fmt.Errorf("register media %s: %w", ref.URL, err))
		}
	}

	log.Printf("parcel %s: detail stored, %d media refs", parcelID, len(detail.Media))
	return nil
}

func (r *DetailsRunner) Close() error {
	return r.client.Driver().Close()
}
