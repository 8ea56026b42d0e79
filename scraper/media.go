package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"vgsi_scraper/config"
	"vgsi_scraper/fetch"
	"vgsi_scraper/models"
	"vgsi_scraper/storage"
)

// MediaRunner downloads one media asset to disk and optionally mirrors
// it to S3. Downloads across all workers share a weighted semaphore so
// MAX_CONCURRENT_DOWNLOADS bounds the site-facing concurrency.
type MediaRunner struct {
	store    *storage.SQLiteStore
	pg       *storage.PostgresStore
	uploader *storage.S3Uploader
	client   *fetch.Client
	cfg      *config.Config
	sem      *semaphore.Weighted
}

func NewMediaRunner(store *storage.SQLiteStore, pg *storage.PostgresStore, uploader *storage.S3Uploader, client *fetch.Client, cfg *config.Config, sem *semaphore.Weighted) *MediaRunner {
	return &MediaRunner{
		store:    store,
		pg:       pg,
		uploader: uploader,
		client:   client,
		cfg:      cfg,
		sem:      sem,
	}
}

func (r *MediaRunner) Process(ctx context.Context, task models.Task) error {
	asset, err := r.store.GetMediaAsset(task.EntityKey)
	if err != nil {
		return fetch.Fatal(fmt.Errorf("load media asset %s: %w", task.EntityKey, err))
	}
	if asset == nil {
		return fmt.Errorf("media asset %s not found", task.EntityKey)
	}
	if asset.Downloaded {
		return nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fetch.Permanent(err)
	}
	defer r.sem.Release(1)

	body, contentType, err := r.client.Download(ctx, asset.SourceURL)
	if err != nil {
		if markErr := r.store.MarkMediaFailed(asset.ID, err.Error()); markErr != nil {
			return fetch.Fatal(markErr)
		}
		return err
	}

	localPath := r.localPath(asset, contentType)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fetch.Fatal(fmt.Errorf("create media dir: %w", err))
	}
	if err := os.WriteFile(localPath, body, 0o644); err != nil {
		return fetch.Fatal(fmt.Errorf("write %s: %w", localPath, err))
	}

	var s3Key *string
	if r.uploader != nil {
		key := r.s3Key(asset, localPath)
		if err := r.uploader.Upload(ctx, key, bytes.NewReader(body), contentType); err != nil {
			log.Printf("s3 upload %s: %v", key, err)
		} else {
			s3Key = &key
		}
	}

	now := time.Now()
	if err := r.store.MarkMediaDownloaded(asset.ID, localPath, s3Key, now); err != nil {
		return fetch.Fatal(fmt.Errorf("mark media %s downloaded: %w", asset.ID, err))
	}
	if err := r.store.RefreshPropertyMediaFlags(asset.ParcelID); err != nil {
		return fetch.Fatal(err)
	}

	asset.LocalPath = localPath
	asset.S3Key = s3Key
	asset.Downloaded = true
	asset.DownloadedAt = &now
	mirrorMediaAsset(ctx, r.pg, asset)

	return nil
}

func (r *MediaRunner) Close() error {
	return r.client.Driver().Close()
}

func (r *MediaRunner) localPath(asset *models.MediaAsset, contentType string) string {
	dir := r.cfg.PhotosDir()
	if asset.Kind == models.MediaKindLayout {
		dir = r.cfg.LayoutsDir()
	}
	return filepath.Join(dir, asset.ParcelID, mediaFilename(asset, contentType))
}

func (r *MediaRunner) s3Key(asset *models.MediaAsset, localPath string) string {
	return path.Join(r.cfg.Site.ID, asset.Kind+"s", asset.ParcelID, filepath.Base(localPath))
}

// mediaFilename derives a stable name from the source URL, falling
// back to the asset id plus a content-type extension.
func mediaFilename(asset *models.MediaAsset, contentType string) string {
	if u, err := url.Parse(asset.SourceURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" && path.Ext(base) != "" {
			return base
		}
	}
	return asset.ID + extForContentType(contentType)
}

func extForContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(ct) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
