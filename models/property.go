package models

import (
	"encoding/json"
	"time"
)

// Street represents one street discovered on the alphabetical index.
// Streets are never deleted; rediscovery updates the expected property
// count but preserves the scraped flag.
type Street struct {
	Name          string     `json:"name" db:"name"`
	SourceURL     string     `json:"source_url" db:"source_url"`
	PropertyCount int        `json:"property_count" db:"property_count"`
	Scraped       bool       `json:"scraped" db:"scraped"`
	ScrapedAt     *time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Property represents a parcel record. parcel_id is the natural unique
// key; rediscovery upserts, never duplicates.
type Property struct {
	ParcelID   string `json:"parcel_id" db:"parcel_id"`
	StreetName string `json:"street_name" db:"street_name"`
	Address    string `json:"address" db:"address"`
	Location   string `json:"location" db:"location"`
	DetailURL  string `json:"detail_url" db:"detail_url"`

	// Attribute bags populated by the detail stage. Opaque to the
	// pipeline; the parse collaborator owns their shape.
	Owner        json.RawMessage `json:"owner" db:"owner"`
	Building     json.RawMessage `json:"building" db:"building"`
	Land         json.RawMessage `json:"land" db:"land"`
	Assessment   json.RawMessage `json:"assessment" db:"assessment"`
	SalesHistory json.RawMessage `json:"sales_history" db:"sales_history"`

	Scraped           bool       `json:"scraped" db:"scraped"`
	PhotosDownloaded  bool       `json:"photos_downloaded" db:"photos_downloaded"`
	LayoutsDownloaded bool       `json:"layouts_downloaded" db:"layouts_downloaded"`
	ScrapedAt         *time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Media asset kinds.
const (
	MediaKindPhoto  = "photo"
	MediaKindLayout = "layout"
)

// MediaAsset is a photo or layout/sketch discovered on a parcel detail
// page. Keyed by source URL; the media stage sets the download fields.
type MediaAsset struct {
	ID            string     `json:"id" db:"id"` // uuid
	ParcelID      string     `json:"parcel_id" db:"parcel_id"`
	SourceURL     string     `json:"source_url" db:"source_url"`
	Kind          string     `json:"kind" db:"kind"` // photo, layout
	LocalPath     string     `json:"local_path" db:"local_path"`
	S3Key         *string    `json:"s3_key" db:"s3_key"` // nullable until uploaded
	Downloaded    bool       `json:"downloaded" db:"downloaded"`
	DownloadError string     `json:"download_error" db:"download_error"`
	DownloadedAt  *time.Time `json:"downloaded_at" db:"downloaded_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
