package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"vgsi_scraper/models"
)

// SQLiteStore is the durable record store for streets, properties,
// media assets and scrape progress. All writes are upserts keyed by
// natural identifiers, so re-running any stage is convergent.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS streets (
		name TEXT PRIMARY KEY,
		source_url TEXT,
		property_count INTEGER DEFAULT 0,
		scraped BOOLEAN DEFAULT FALSE,
		scraped_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS properties (
		parcel_id TEXT PRIMARY KEY,
		street_name TEXT,
		address TEXT,
		location TEXT,
		detail_url TEXT,
		owner JSON,
		building JSON,
		land JSON,
		assessment JSON,
		sales_history JSON,
		scraped BOOLEAN DEFAULT FALSE,
		photos_downloaded BOOLEAN DEFAULT FALSE,
		layouts_downloaded BOOLEAN DEFAULT FALSE,
		scraped_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (street_name) REFERENCES streets(name)
	);

	CREATE TABLE IF NOT EXISTS media_assets (
		id TEXT PRIMARY KEY,
		parcel_id TEXT NOT NULL,
		source_url TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		local_path TEXT,
		s3_key TEXT,
		downloaded BOOLEAN DEFAULT FALSE,
		download_error TEXT,
		downloaded_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (parcel_id) REFERENCES properties(parcel_id)
	);

	CREATE TABLE IF NOT EXISTS scrape_progress (
		task_id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_uid TEXT,
		scope TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		succeeded INTEGER DEFAULT 0,
		soft_failed INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_properties_street ON properties(street_name);
	CREATE INDEX IF NOT EXISTS idx_properties_scraped ON properties(scraped);
	CREATE INDEX IF NOT EXISTS idx_media_parcel ON media_assets(parcel_id);
	CREATE INDEX IF NOT EXISTS idx_media_downloaded ON media_assets(downloaded);
	CREATE INDEX IF NOT EXISTS idx_progress_stage ON scrape_progress(stage, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Streets ---

// UpsertStreet inserts a street or refreshes its source URL.
// Rediscovery never resets the scraped flag or the property count.
func (s *SQLiteStore) UpsertStreet(st *models.Street) error {
	_, err := s.db.Exec(`
		INSERT INTO streets (name, source_url)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source_url = excluded.source_url`,
		st.Name, st.SourceURL)
	return err
}

func (s *SQLiteStore) GetStreet(name string) (*models.Street, error) {
	row := s.db.QueryRow(`
		SELECT name, source_url, property_count, scraped, scraped_at, created_at
		FROM streets WHERE name = ?`, name)

	var st models.Street
	var sourceURL sql.NullString
	var scrapedAt sql.NullTime
	err := row.Scan(&st.Name, &sourceURL, &st.PropertyCount, &st.Scraped, &scrapedAt, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.SourceURL = sourceURL.String
	if scrapedAt.Valid {
		st.ScrapedAt = &scrapedAt.Time
	}
	return &st, nil
}

// MarkStreetScraped records a successful listing fetch for the street.
func (s *SQLiteStore) MarkStreetScraped(name string, propertyCount int, t time.Time) error {
	_, err := s.db.Exec(`
		UPDATE streets SET scraped = TRUE, scraped_at = ?, property_count = ?
		WHERE name = ?`, t, propertyCount, name)
	return err
}

// ResetStreetsScraped clears every scraped flag, used by no-resume runs.
func (s *SQLiteStore) ResetStreetsScraped() error {
	_, err := s.db.Exec(`UPDATE streets SET scraped = FALSE`)
	return err
}

func (s *SQLiteStore) CountStreets() (total, scraped int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN scraped THEN 1 ELSE 0 END), 0)
		FROM streets`).Scan(&total, &scraped)
	return total, scraped, err
}

// --- Properties ---

// UpsertProperty inserts a parcel or refreshes its listing fields.
// Detail-stage fields (attribute bags, scraped flag) are preserved so
// re-running the listing stage is safe.
func (s *SQLiteStore) UpsertProperty(p *models.Property) error {
	_, err := s.db.Exec(`
		INSERT INTO properties (parcel_id, street_name, address, location, detail_url)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parcel_id) DO UPDATE SET
			street_name = excluded.street_name,
			address = excluded.address,
			location = excluded.location,
			detail_url = excluded.detail_url`,
		p.ParcelID, p.StreetName, p.Address, p.Location, p.DetailURL)
	return err
}

func (s *SQLiteStore) GetProperty(parcelID string) (*models.Property, error) {
	row := s.db.QueryRow(`
		SELECT parcel_id, street_name, address, location, detail_url,
			owner, building, land, assessment, sales_history,
			scraped, photos_downloaded, layouts_downloaded, scraped_at, created_at
		FROM properties WHERE parcel_id = ?`, parcelID)
	return scanProperty(row)
}

// UpdatePropertyDetail stores the detail-stage attribute bags and
// marks the parcel scraped.
func (s *SQLiteStore) UpdatePropertyDetail(p *models.Property, t time.Time) error {
	_, err := s.db.Exec(`
		UPDATE properties SET
			owner = ?, building = ?, land = ?, assessment = ?, sales_history = ?,
			scraped = TRUE, scraped_at = ?
		WHERE parcel_id = ?`,
		nullableJSON(p.Owner), nullableJSON(p.Building), nullableJSON(p.Land),
		nullableJSON(p.Assessment), nullableJSON(p.SalesHistory), t, p.ParcelID)
	return err
}

// RefreshPropertyMediaFlags recomputes the per-kind download flags
// from the media_assets table.
func (s *SQLiteStore) RefreshPropertyMediaFlags(parcelID string) error {
	_, err := s.db.Exec(`
		UPDATE properties SET
			photos_downloaded = NOT EXISTS (
				SELECT 1 FROM media_assets
				WHERE parcel_id = ? AND kind = 'photo' AND downloaded = FALSE),
			layouts_downloaded = NOT EXISTS (
				SELECT 1 FROM media_assets
				WHERE parcel_id = ? AND kind = 'layout' AND downloaded = FALSE)
		WHERE parcel_id = ?`, parcelID, parcelID, parcelID)
	return err
}

// ScrapedProperties returns parcels whose detail stage is done, in a
// stable order. This is the read surface for export and enrichment.
func (s *SQLiteStore) ScrapedProperties() ([]models.Property, error) {
	rows, err := s.db.Query(`
		SELECT parcel_id, street_name, address, location, detail_url,
			owner, building, land, assessment, sales_history,
			scraped, photos_downloaded, layouts_downloaded, scraped_at, created_at
		FROM properties WHERE scraped = TRUE ORDER BY parcel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

func (s *SQLiteStore) CountProperties() (total, scraped int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN scraped THEN 1 ELSE 0 END), 0)
		FROM properties`).Scan(&total, &scraped)
	return total, scraped, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProperty(row rowScanner) (*models.Property, error) {
	var p models.Property
	var streetName, address, location, detailURL sql.NullString
	var owner, building, land, assessment, sales sql.NullString
	var scrapedAt sql.NullTime

	err := row.Scan(&p.ParcelID, &streetName, &address, &location, &detailURL,
		&owner, &building, &land, &assessment, &sales,
		&p.Scraped, &p.PhotosDownloaded, &p.LayoutsDownloaded, &scrapedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.StreetName = streetName.String
	p.Address = address.String
	p.Location = location.String
	p.DetailURL = detailURL.String
	if owner.Valid {
		p.Owner = []byte(owner.String)
	}
	if building.Valid {
		p.Building = []byte(building.String)
	}
	if land.Valid {
		p.Land = []byte(land.String)
	}
	if assessment.Valid {
		p.Assessment = []byte(assessment.String)
	}
	if sales.Valid {
		p.SalesHistory = []byte(sales.String)
	}
	if scrapedAt.Valid {
		p.ScrapedAt = &scrapedAt.Time
	}
	return &p, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// --- Media assets ---

// UpsertMediaAsset registers a discovered media URL. Re-discovery
// keeps the existing row (and its downloaded flag) untouched.
func (s *SQLiteStore) UpsertMediaAsset(m *models.MediaAsset) error {
	_, err := s.db.Exec(`
		INSERT INTO media_assets (id, parcel_id, source_url, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_url) DO NOTHING`,
		m.ID, m.ParcelID, m.SourceURL, m.Kind)
	return err
}

func (s *SQLiteStore) GetMediaAsset(id string) (*models.MediaAsset, error) {
	row := s.db.QueryRow(`
		SELECT id, parcel_id, source_url, kind, local_path, s3_key,
			downloaded, download_error, downloaded_at, created_at
		FROM media_assets WHERE id = ?`, id)

	var m models.MediaAsset
	var localPath, s3Key, downloadError sql.NullString
	var downloadedAt sql.NullTime
	err := row.Scan(&m.ID, &m.ParcelID, &m.SourceURL, &m.Kind, &localPath, &s3Key,
		&m.Downloaded, &downloadError, &downloadedAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.LocalPath = localPath.String
	m.DownloadError = downloadError.String
	if s3Key.Valid {
		m.S3Key = &s3Key.String
	}
	if downloadedAt.Valid {
		m.DownloadedAt = &downloadedAt.Time
	}
	return &m, nil
}

func (s *SQLiteStore) MarkMediaDownloaded(id, localPath string, s3Key *string, t time.Time) error {
	_, err := s.db.Exec(`
		UPDATE media_assets SET
			downloaded = TRUE, local_path = ?, s3_key = ?,
			download_error = NULL, downloaded_at = ?
		WHERE id = ?`, localPath, s3Key, t, id)
	return err
}

func (s *SQLiteStore) MarkMediaFailed(id, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE media_assets SET download_error = ? WHERE id = ?`, errMsg, id)
	return err
}

func (s *SQLiteStore) CountMedia(kind string) (total, downloaded int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN downloaded THEN 1 ELSE 0 END), 0)
		FROM media_assets WHERE kind = ?`, kind).Scan(&total, &downloaded)
	return total, downloaded, err
}
