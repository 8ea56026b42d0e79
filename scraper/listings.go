package scraper

import (
	"context"
	"fmt"
	"log"
	"time"

	"vgsi_scraper/config"
	"vgsi_scraper/fetch"
	"vgsi_scraper/models"
	"vgsi_scraper/parse"
	"vgsi_scraper/storage"
)

// maxListingPages caps pagination per street so a broken pager cannot
// loop forever.
const maxListingPages = 50

// ListingsRunner walks one street's listing pages and upserts the
// parcels it finds. A street is marked scraped once all its pages were
// read, independent of how the parcels fare in later stages.
type ListingsRunner struct {
	store  *storage.SQLiteStore
	pg     *storage.PostgresStore
	client *fetch.Client
	site   config.SiteConfig
}

func NewListingsRunner(store *storage.SQLiteStore, pg *storage.PostgresStore, client *fetch.Client, site config.SiteConfig) *ListingsRunner {
	return &ListingsRunner{store: store, pg: pg, client: client, site: site}
}

func (r *ListingsRunner) Process(ctx context.Context, task models.Task) error {
	streetName := task.EntityKey

	street, err := r.store.GetStreet(streetName)
	if err != nil {
		return fetch.Fatal(fmt.Errorf("load street %q: %w", streetName, err))
	}
	if street == nil {
		return fmt.Errorf("street %q not found", streetName)
	}

	count := 0
	url := street.SourceURL
	seen := map[string]bool{url: true}

	for page := 1; url != ""; page++ {
		if page > maxListingPages {
			return fmt.Errorf("street %q: pagination exceeded %d pages", streetName, maxListingPages)
		}

		html, err := r.client.Navigate(ctx, url)
		if err != nil {
			return err
		}

		listing, err := parse.ParseStreetListing(html, r.site.BaseURL)
		if err != nil {
			return fmt.Errorf("street %q page %d: %w", streetName, page, err)
		}

		for _, link := range listing.Properties {
			prop := &models.Property{
				ParcelID:   link.ParcelID,
				StreetName: streetName,
				Address:    link.Address,
				Location:   link.Location,
				DetailURL:  link.DetailURL,
			}
			if err := r.store.UpsertProperty(prop); err != nil {
				return fetch.Fatal(fmt.Errorf("upsert parcel %s: %w", link.ParcelID, err))
			}
			mirrorProperty(ctx, r.pg, prop)
			count++
		}

		url = listing.NextPageURL
		if url != "" && seen[url] {
			break
		}
		seen[url] = true
	}

	if err := r.store.MarkStreetScraped(streetName, count, time.Now()); err != nil {
		return fetch.Fatal(fmt.Errorf("mark street %q scraped: %w", streetName, err))
	}

	log.Printf("street %q: %d properties", streetName, count)
	return nil
}

func (r *ListingsRunner) Close() error {
	return r.client.Driver().Close()
}
