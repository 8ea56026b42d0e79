package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vgsi_scraper/models"
)

// PostgresStore mirrors scraped records into a shared Postgres
// database (Supabase). It is optional; the pipeline's source of truth
// stays in sqlite and mirror failures are logged, never fatal.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) UpsertStreet(ctx context.Context, st *models.Street) error {
	query := `
		INSERT INTO streets (name, source_url, property_count, scraped, scraped_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			source_url = COALESCE(EXCLUDED.source_url, streets.source_url),
			property_count = EXCLUDED.property_count,
			scraped = EXCLUDED.scraped,
			scraped_at = COALESCE(EXCLUDED.scraped_at, streets.scraped_at)`

	_, err := s.pool.Exec(ctx, query,
		st.Name, st.SourceURL, st.PropertyCount, st.Scraped, st.ScrapedAt)
	return err
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			parcel_id, street_name, address, location, detail_url,
			owner, building, land, assessment, sales_history, scraped, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (parcel_id) DO UPDATE SET
			street_name = COALESCE(EXCLUDED.street_name, properties.street_name),
			address = COALESCE(EXCLUDED.address, properties.address),
			location = COALESCE(EXCLUDED.location, properties.location),
			detail_url = COALESCE(EXCLUDED.detail_url, properties.detail_url),
			owner = COALESCE(EXCLUDED.owner, properties.owner),
			building = COALESCE(EXCLUDED.building, properties.building),
			land = COALESCE(EXCLUDED.land, properties.land),
			assessment = COALESCE(EXCLUDED.assessment, properties.assessment),
			sales_history = COALESCE(EXCLUDED.sales_history, properties.sales_history),
			scraped = EXCLUDED.scraped,
			scraped_at = COALESCE(EXCLUDED.scraped_at, properties.scraped_at)`

	_, err := s.pool.Exec(ctx, query,
		p.ParcelID, p.StreetName, p.Address, p.Location, p.DetailURL,
		p.Owner, p.Building, p.Land, p.Assessment, p.SalesHistory, p.Scraped, p.ScrapedAt)
	return err
}

func (s *PostgresStore) UpsertMediaAsset(ctx context.Context, m *models.MediaAsset) error {
	query := `
		INSERT INTO media_assets (id, parcel_id, source_url, kind, s3_key, downloaded, downloaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_url) DO UPDATE SET
			s3_key = COALESCE(EXCLUDED.s3_key, media_assets.s3_key),
			downloaded = EXCLUDED.downloaded,
			downloaded_at = COALESCE(EXCLUDED.downloaded_at, media_assets.downloaded_at)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.ParcelID, m.SourceURL, m.Kind, m.S3Key, m.Downloaded, m.DownloadedAt)
	return err
}

func (s *PostgresStore) CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	query := `
		INSERT INTO scrape_runs (run_uid, scope, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.RunUID, run.Scope, run.StartedAt, run.Status,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	query := `
		UPDATE scrape_runs SET
			finished_at = $2, status = $3, succeeded = $4, soft_failed = $5, error_message = $6
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Status, run.Succeeded, run.SoftFailed, run.ErrorsMsg)
	return err
}

func (s *PostgresStore) GetProperty(ctx context.Context, parcelID string) (*models.Property, error) {
	query := `
		SELECT parcel_id, street_name, address, location, detail_url,
			owner, building, land, assessment, sales_history, scraped, scraped_at
		FROM properties WHERE parcel_id = $1`

	var p models.Property
	err := s.pool.QueryRow(ctx, query, parcelID).Scan(
		&p.ParcelID, &p.StreetName, &p.Address, &p.Location, &p.DetailURL,
		&p.Owner, &p.Building, &p.Land, &p.Assessment, &p.SalesHistory, &p.Scraped, &p.ScrapedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
