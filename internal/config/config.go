// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for both databases, always absolute
	LogLevel  string
	LogPretty bool
	Port      int

	Kiwoom     KiwoomConfig
	Portfolio  PortfolioConfig
	Strategy   StrategyConfig
	News       NewsConfig
	Gemini     GeminiConfig
	Universe   UniverseConfig
	Schedules  ScheduleConfig
	Backup     BackupConfig
	WatchList  []string
	ConfigFile string
}

// KiwoomConfig holds brokerage connectivity settings
type KiwoomConfig struct {
	Mock           bool
	BaseURL        string
	WSURL          string
	AppKey         string
	AppSecret      string
	RealtimeTTL    time.Duration
	MinInterval    time.Duration
	RequestTimeout time.Duration
}

// PortfolioConfig seeds the ledger on first start
type PortfolioConfig struct {
	InitialCapital float64
	VirtualMode    bool
}

// StrategyConfig locates the strategy document
type StrategyConfig struct {
	FilePath string
}

// NewsConfig lists scrape sources
type NewsConfig struct {
	Feeds []string
	Pages []PageConfig
}

// PageConfig is an HTML page scraped for headline links
type PageConfig struct {
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
}

// GeminiConfig holds LLM credentials. An empty key disables the model.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// UniverseConfig describes the catalog download
type UniverseConfig struct {
	SourceURL      string
	SourceFormat   string
	SymbolField    string
	MarketCapField string
	NameField      string
}

// ScheduleConfig holds six-field cron expressions. An empty expression disables the job.
type ScheduleConfig struct {
	Market       string
	News         string
	Universe     string
	Backup       string
	Cleanup      string
	QuoteHistory time.Duration
}

// BackupConfig holds S3-compatible bucket settings. An empty bucket disables backups.
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Retention       int
}

// fileConfig is the optional YAML overlay
type fileConfig struct {
	Schedules struct {
		Market   string `yaml:"market"`
		News     string `yaml:"news"`
		Universe string `yaml:"universe"`
		Backup   string `yaml:"backup"`
		Cleanup  string `yaml:"cleanup"`
	} `yaml:"schedules"`
	News struct {
		Feeds []string     `yaml:"feeds"`
		Pages []PageConfig `yaml:"pages"`
	} `yaml:"news"`
	WatchSymbols []string `yaml:"watch_symbols"`
}

// Load reads configuration from the YAML overlay and environment variables.
// Environment variables win over the file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	file := &fileConfig{}
	configFile := getEnv("AGENT_CONFIG_FILE", "")
	if configFile != "" {
		if file, err = loadFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		DataDir:    absDataDir,
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogPretty:  getEnvAsBool("LOG_PRETTY", false),
		Port:       getEnvAsInt("HTTP_PORT", 8080),
		ConfigFile: configFile,
		Kiwoom: KiwoomConfig{
			Mock:           getEnvAsBool("KIWOOM_MOCK", true),
			BaseURL:        getEnv("KIWOOM_BASE_URL", "https://api.kiwoom.com"),
			WSURL:          getEnv("KIWOOM_WS_URL", "wss://api.kiwoom.com:10000/api/dostk/websocket"),
			AppKey:         getEnv("KIWOOM_APP_KEY", ""),
			AppSecret:      getEnv("KIWOOM_APP_SECRET", ""),
			RealtimeTTL:    getEnvAsMillis("KIWOOM_REALTIME_TTL_MS", 15000),
			MinInterval:    getEnvAsMillis("KIWOOM_MIN_REQUEST_INTERVAL_MS", 333),
			RequestTimeout: getEnvAsMillis("KIWOOM_REQUEST_TIMEOUT_MS", 10000),
		},
		Portfolio: PortfolioConfig{
			InitialCapital: getEnvAsFloat("INITIAL_CAPITAL", 1_000_000),
			VirtualMode:    getEnvAsBool("VIRTUAL_TRADING_MODE", true),
		},
		Strategy: StrategyConfig{
			FilePath: resolvePath(absDataDir, getEnv("STRATEGY_FILE_PATH", "INVESTMENT_STRATEGY.md")),
		},
		News: NewsConfig{
			Feeds: getEnvAsList("NEWS_FEEDS", file.News.Feeds),
			Pages: getEnvAsPages("NEWS_PAGES", file.News.Pages),
		},
		Gemini: GeminiConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		Universe: UniverseConfig{
			SourceURL:      getEnv("UNIVERSE_SOURCE_URL", ""),
			SourceFormat:   getEnv("UNIVERSE_SOURCE_FORMAT", ""),
			SymbolField:    getEnv("UNIVERSE_SOURCE_SYMBOL_FIELD", "symbol"),
			MarketCapField: getEnv("UNIVERSE_SOURCE_MARKET_CAP_FIELD", "marketCap"),
			NameField:      getEnv("UNIVERSE_SOURCE_NAME_FIELD", "name"),
		},
		Schedules: ScheduleConfig{
			Market:       getEnv("MARKET_POLL_CRON", orDefault(file.Schedules.Market, "0 */10 * * * *")),
			News:         getEnv("NEWS_SCRAPE_CRON", orDefault(file.Schedules.News, "0 0 * * * *")),
			Universe:     getEnv("UNIVERSE_REFRESH_CRON", orDefault(file.Schedules.Universe, "0 30 7 * * *")),
			Backup:       getEnv("BACKUP_CRON", orDefault(file.Schedules.Backup, "0 0 3 * * *")),
			Cleanup:      getEnv("CLEANUP_CRON", orDefault(file.Schedules.Cleanup, "0 15 4 * * *")),
			QuoteHistory: time.Duration(getEnvAsInt("QUOTE_HISTORY_DAYS", 30)) * 24 * time.Hour,
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			Retention:       getEnvAsInt("BACKUP_RETENTION", 14),
		},
		WatchList: getEnvAsList("WATCH_SYMBOLS", file.WatchSymbols),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if !c.Kiwoom.Mock && (c.Kiwoom.AppKey == "" || c.Kiwoom.AppSecret == "") {
		return fmt.Errorf("KIWOOM_APP_KEY and KIWOOM_APP_SECRET are required when KIWOOM_MOCK=false")
	}
	if c.Portfolio.InitialCapital <= 0 {
		return fmt.Errorf("INITIAL_CAPITAL must be positive, got %v", c.Portfolio.InitialCapital)
	}
	if c.Kiwoom.MinInterval <= 0 {
		return fmt.Errorf("KIWOOM_MIN_REQUEST_INTERVAL_MS must be positive")
	}
	return nil
}

// LedgerPath is the ledger database location
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// MarketPath is the market database location
func (c *Config) MarketPath() string {
	return filepath.Join(c.DataDir, "market.db")
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	file := &fileConfig{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return file, nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func orDefault(value, def string) string {
	if value != "" {
		return value
	}
	return def
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

// getEnvAsList splits a comma separated variable, falling back to the file value
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsPages reads "url|selector" entries separated by commas
func getEnvAsPages(key string, defaultValue []PageConfig) []PageConfig {
	entries := getEnvAsList(key, nil)
	if entries == nil {
		return defaultValue
	}
	pages := make([]PageConfig, 0, len(entries))
	for _, entry := range entries {
		url, selector, _ := strings.Cut(entry, "|")
		pages = append(pages, PageConfig{URL: strings.TrimSpace(url), Selector: strings.TrimSpace(selector)})
	}
	return pages
}
