package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	Database  DatabaseConfig
	Lock      LockConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Telegram  TelegramConfig
	Email     EmailConfig
	S3        S3Config
	Proxy     ProxyConfig
	HTTPAddr  string
	Currency  string
	LogDir    string
	LogLevel  string
	StoresDir string
	Stores    map[string]*StoreConfig
}

type DatabaseConfig struct {
	Path           string
	URL            string // Postgres; takes precedence over Path when set
	PoolSize       int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
}

type LockConfig struct {
	Path       string
	StaleAfter time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	PacingMin         time.Duration
	PacingMax         time.Duration
	ReadyTimeout      time.Duration
	NavigationTimeout time.Duration
	DriverRetryDelay  time.Duration
	UserAgent         string
	ProxyURL          string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.To != ""
}

// ProxyConfig routes outbound traffic (browser sessions, Telegram, S3)
// through one proxy. Empty means direct.
type ProxyConfig struct {
	URL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// StoreConfig describes how to pull title, price and availability out of a
// rendered product page for one store.
type StoreConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Handler        string            `yaml:"handler"`
	ReadySelector  string            `yaml:"ready_selector"`
	ReadyTimeoutMS int               `yaml:"ready_timeout_ms"`
	Title          []string          `yaml:"title"`
	Price          []PriceRule       `yaml:"price"`
	Availability   *AvailabilityRule `yaml:"availability"`
}

type PriceRule struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Format   string `yaml:"format"` // digits | decimal
}

type AvailabilityRule struct {
	Selector string `yaml:"selector"`
	Contains string `yaml:"contains"`
	Default  string `yaml:"default"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Path:           getEnv("DB_PATH", "precios.db"),
			URL:            os.Getenv("DATABASE_URL"),
			PoolSize:       getEnvInt("DB_POOL_SIZE", 5),
			AcquireTimeout: getEnvDuration("DB_ACQUIRE_TIMEOUT", 30*time.Second),
			BusyTimeout:    getEnvDuration("DB_BUSY_TIMEOUT", 15*time.Second),
		},
		Lock: LockConfig{
			Path:       getEnv("LOCK_PATH", "tracker.lock"),
			StaleAfter: getEnvDuration("LOCK_STALE_AFTER", 2*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Interval: getEnvDuration("SCRAPE_INTERVAL", time.Hour),
			Cron:     os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			PacingMin:         getEnvDuration("PACING_MIN", 5*time.Second),
			PacingMax:         getEnvDuration("PACING_MAX", 15*time.Second),
			ReadyTimeout:      getEnvDuration("PAGE_READY_TIMEOUT", 10*time.Second),
			NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 60*time.Second),
			DriverRetryDelay:  getEnvDuration("DRIVER_RETRY_DELAY", 5*time.Second),
			UserAgent:         getEnv("USER_AGENT", defaultUserAgent),
			ProxyURL:          os.Getenv("PROXY_URL"),
		},
		Telegram: TelegramConfig{
			Token:  os.Getenv("TELEGRAM_TOKEN"),
			ChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		},
		Email: EmailConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
			To:       os.Getenv("ALERT_EMAIL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		HTTPAddr:  os.Getenv("HTTP_ADDR"),
		Currency:  getEnv("CURRENCY", "S/"),
		LogDir:    getEnv("LOG_DIR", "logs"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		StoresDir: getEnv("STORES_DIR", filepath.Join("config", "stores")),
	}

	stores, err := LoadStoreConfigs(cfg.StoresDir)
	if err != nil {
		return nil, err
	}
	cfg.Stores = stores

	return cfg, nil
}

// LoadStoreConfigs reads every *.yaml file in dir. A missing dir is not an
// error; every store then falls back to the not-implemented extractor.
func LoadStoreConfigs(dir string) (map[string]*StoreConfig, error) {
	stores := make(map[string]*StoreConfig)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return stores, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var store StoreConfig
		if err := yaml.Unmarshal(data, &store); err != nil {
			return nil, err
		}

		stores[store.ID] = &store
	}

	return stores, nil
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
