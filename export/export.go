// Package export writes scraped property records to files for
// downstream analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vgsi_scraper/models"
	"vgsi_scraper/storage"
)

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Properties exports every scraped parcel to a timestamped file under
// dir and returns the file path.
func Properties(store *storage.SQLiteStore, dir, format string) (string, error) {
	props, err := store.ScrapedProperties()
	if err != nil {
		return "", fmt.Errorf("load properties: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().Format("20060102_150405")

	switch format {
	case FormatCSV, "":
		path := filepath.Join(dir, fmt.Sprintf("properties_%s.csv", stamp))
		return path, writeCSV(path, props)
	case FormatJSON:
		path := filepath.Join(dir, fmt.Sprintf("properties_%s.json", stamp))
		return path, writeJSON(path, props)
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

// SalesHistory exports every recorded sale as one flat CSV row per
// transaction.
func SalesHistory(store *storage.SQLiteStore, dir string) (string, error) {
	props, err := store.ScrapedProperties()
	if err != nil {
		return "", fmt.Errorf("load properties: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("sales_%s.csv", time.Now().Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"parcel_id", "address", "owner", "price", "date"}); err != nil {
		return "", err
	}

	for _, p := range props {
		if len(p.SalesHistory) == 0 {
			continue
		}
		var sales []map[string]string
		if err := json.Unmarshal(p.SalesHistory, &sales); err != nil {
			continue
		}
		for _, sale := range sales {
			row := []string{p.ParcelID, p.Address, sale["owner"], sale["price"], sale["date"]}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
	}

	w.Flush()
	return path, w.Error()
}

var csvHeader = []string{
	"parcel_id", "street", "address", "location", "owner_name",
	"assessment_total", "year_built", "living_area", "land_use",
	"lot_size", "zoning", "photos_downloaded", "layouts_downloaded",
	"scraped_at", "detail_url",
}

func writeCSV(path string, props []models.Property) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, p := range props {
		owner := bagField(p.Owner, "name")
		scrapedAt := ""
		if p.ScrapedAt != nil {
			scrapedAt = p.ScrapedAt.Format(time.RFC3339)
		}
		row := []string{
			p.ParcelID,
			p.StreetName,
			p.Address,
			p.Location,
			owner,
			bagField(p.Assessment, "total"),
			bagField(p.Building, "year_built"),
			bagField(p.Building, "living_area"),
			bagField(p.Land, "land_use"),
			bagField(p.Land, "lot_size"),
			bagField(p.Land, "zoning"),
			boolString(p.PhotosDownloaded),
			boolString(p.LayoutsDownloaded),
			scrapedAt,
			p.DetailURL,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func writeJSON(path string, props []models.Property) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(props)
}

func bagField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var bag map[string]string
	if err := json.Unmarshal(raw, &bag); err != nil {
		return ""
	}
	return bag[key]
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
