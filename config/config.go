package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Site      SiteConfig
	Scraper   ScraperConfig
	Browser   BrowserConfig
	Supabase  SupabaseConfig
	S3        S3Config
	Scheduler SchedulerConfig
	DBPath    string
	DataDir   string
}

// SiteConfig describes the target GIS site. Defaults cover the
// Worcester MA VGSI instance; a config/site.yaml file can override
// them for other towns on the same platform.
type SiteConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	StreetsURL string `yaml:"streets_url"`
	UserAgent  string `yaml:"user_agent"`
}

type ScraperConfig struct {
	RequestDelay           time.Duration
	MaxRetries             int
	Timeout                time.Duration
	Workers                int
	MaxConcurrentDownloads int64
	Fetcher                string // browser, http
}

type BrowserConfig struct {
	Headless bool
	SlowMoMS int
}

type SupabaseConfig struct {
	DBURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Cron string
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			ID:        "worcesterma",
			Name:      "Worcester MA",
			BaseURL:   getEnv("BASE_URL", "https://gis.vgsi.com/worcesterma"),
			UserAgent: defaultUserAgent,
		},
		Scraper: ScraperConfig{
			RequestDelay:           time.Duration(getEnvFloat("REQUEST_DELAY", 1.0) * float64(time.Second)),
			MaxRetries:             getEnvInt("MAX_RETRIES", 3),
			Timeout:                time.Duration(getEnvInt("TIMEOUT", 30000)) * time.Millisecond,
			Workers:                getEnvInt("WORKERS", 5),
			MaxConcurrentDownloads: int64(getEnvInt("MAX_CONCURRENT_DOWNLOADS", 5)),
			Fetcher:                getEnv("FETCHER", "browser"),
		},
		Browser: BrowserConfig{
			Headless: getEnvBool("HEADLESS", true),
			SlowMoMS: getEnvInt("SLOW_MO", 100),
		},
		Supabase: SupabaseConfig{
			DBURL: os.Getenv("SUPABASE_DB_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		DBPath:  getEnv("DATABASE_PATH", "worcester_properties.db"),
		DataDir: getEnv("DATA_DIR", "data"),
	}

	if err := cfg.loadSiteConfig(); err != nil {
		return nil, err
	}

	if cfg.Site.StreetsURL == "" {
		cfg.Site.StreetsURL = cfg.Site.BaseURL + "/Streets.aspx"
	}

	return cfg, nil
}

// PhotosDir and LayoutsDir are namespaced under DataDir; media files go
// into per-parcel subfolders below these.
func (c *Config) PhotosDir() string  { return filepath.Join(c.DataDir, "photos") }
func (c *Config) LayoutsDir() string { return filepath.Join(c.DataDir, "layouts") }
func (c *Config) ExportsDir() string { return filepath.Join(c.DataDir, "exports") }

func (c *Config) loadSiteConfig() error {
	path := filepath.Join("config", "site.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return err
	}

	if site.ID != "" {
		c.Site.ID = site.ID
	}
	if site.Name != "" {
		c.Site.Name = site.Name
	}
	if site.BaseURL != "" {
		c.Site.BaseURL = site.BaseURL
	}
	if site.StreetsURL != "" {
		c.Site.StreetsURL = site.StreetsURL
	}
	if site.UserAgent != "" {
		c.Site.UserAgent = site.UserAgent
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}
