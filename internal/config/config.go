// Package config loads scanner configuration: godotenv for local .env
// files, viper for env-var binding and defaults, unmarshaled into a
// nested struct with mapstructure tags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all scanner configuration, one nested struct concern.
type Config struct {
	Database  Database  `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Matching  Matching  `mapstructure:"matching"`
	Detection Detection `mapstructure:"detection"`
	Crawl     Crawl     `mapstructure:"crawl"`
	App       App       `mapstructure:"app"`
	ML        ML        `mapstructure:"ml"`
	Providers Providers `mapstructure:"providers"`
}

// Providers holds base URLs and credentials for the external
// collaborators: the face-detection model server, the
// reverse-image-search provider, the AI-classification provider, and the
// two crawl-provider upstreams wired into internal/crawl.
type Providers struct {
	FaceModelURL       string `mapstructure:"face_model_url"`
	ReverseImageURL    string `mapstructure:"reverse_image_url"`
	ReverseImageAPIKey string `mapstructure:"reverse_image_api_key"`
	AIClassifyURL      string `mapstructure:"ai_classify_url"`
	AIClassifyAPIKey   string `mapstructure:"ai_classify_api_key"`
	CivitAIBaseURL     string `mapstructure:"civitai_base_url"`
	CivitAIAPIKey      string `mapstructure:"civitai_api_key"`
	GenericBoardURL    string `mapstructure:"generic_board_url"`
}

// Database holds the relational+vector database connection.
type Database struct {
	URL            string `mapstructure:"url"`
	SSL            bool   `mapstructure:"ssl"`
	MaxConnections int    `mapstructure:"max_connections"`
	DevSQLitePath  string `mapstructure:"dev_sqlite_path"`
}

// Storage holds object-storage endpoint and credential configuration
//.
type Storage struct {
	Endpoint     string `mapstructure:"endpoint"`
	ServiceToken string `mapstructure:"service_token"`
}

// Scheduler holds the main-loop cadence and batch sizes.
type Scheduler struct {
	TickSeconds       int `mapstructure:"tick_seconds"`
	ScanBatchSize     int `mapstructure:"scan_batch_size"`
	StaleJobMaxAgeMin int `mapstructure:"stale_job_max_age_minutes"`
}

// Matching holds the default similarity thresholds and batch size. These
// are read-through defaults only; the matching engine re-reads the
// mutable ML threshold store every tick.
type Matching struct {
	ThresholdLow    float64 `mapstructure:"threshold_low"`
	ThresholdMedium float64 `mapstructure:"threshold_medium"`
	ThresholdHigh   float64 `mapstructure:"threshold_high"`
	BatchSize       int     `mapstructure:"batch_size"`
	TopK            int     `mapstructure:"top_k"`
}

// Detection holds the deferred face-detection subprocess worker's limits.
type Detection struct {
	ChunkSize     int `mapstructure:"chunk_size"`
	MaxChunks     int `mapstructure:"max_chunks"`
	TimeoutSecond int `mapstructure:"timeout_seconds"`
	MaxLongEdge   int `mapstructure:"max_long_edge"`
}

// Crawl holds cross-platform crawl knobs. IntervalOverrides is filled at
// load time with the per-platform crawl-interval environment values,
// keyed by platform name; the crawl runner does not read it and takes
// each platform's interval from its schedule row.
type Crawl struct {
	DefaultIntervalHours int               `mapstructure:"default_interval_hours"`
	DefaultMaxPages      int               `mapstructure:"default_max_pages"`
	HighDamagePages      int               `mapstructure:"high_damage_pages"`
	MediumDamagePages    int               `mapstructure:"medium_damage_pages"`
	LowDamagePages       int               `mapstructure:"low_damage_pages"`
	BatchSize            int               `mapstructure:"batch_size"`
	DownloadConcurrency  int               `mapstructure:"download_concurrency"`
	ProxyURL             string            `mapstructure:"proxy_url"`
	IntervalOverrides    map[string]int    `mapstructure:"-"`
}

// App holds general scanner process configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	TempDir  string `mapstructure:"temp_dir"`
}

// ML holds the mutable-threshold auto-apply policy.
type ML struct {
	AutoApplyLowRisk bool `mapstructure:"auto_apply_low_risk"`
}

var globalConfig *Config

// Load reads .env (if present), binds environment variables with viper,
// and unmarshals into Config. Safe to call more than once; the first
// successful load wins.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("warning: error loading .env file: %v\n", err)
		}
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Crawl.IntervalOverrides = loadPlatformIntervalOverrides()

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

func setDefaults() {
	viper.SetDefault("database.url", "postgres://localhost:5432/scanner?sslmode=disable")
	viper.SetDefault("database.ssl", false)
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.dev_sqlite_path", "")

	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.service_token", "")

	viper.SetDefault("scheduler.tick_seconds", 60)
	viper.SetDefault("scheduler.scan_batch_size", 25)
	viper.SetDefault("scheduler.stale_job_max_age_minutes", 60)

	viper.SetDefault("matching.threshold_low", 0.50)
	viper.SetDefault("matching.threshold_medium", 0.65)
	viper.SetDefault("matching.threshold_high", 0.85)
	viper.SetDefault("matching.batch_size", 200)
	viper.SetDefault("matching.top_k", 5)

	viper.SetDefault("detection.chunk_size", 50)
	viper.SetDefault("detection.max_chunks", 4)
	viper.SetDefault("detection.timeout_seconds", 120)
	viper.SetDefault("detection.max_long_edge", 4096)

	viper.SetDefault("crawl.default_interval_hours", 6)
	viper.SetDefault("crawl.default_max_pages", 3)
	viper.SetDefault("crawl.high_damage_pages", 15)
	viper.SetDefault("crawl.medium_damage_pages", 6)
	viper.SetDefault("crawl.low_damage_pages", 2)
	viper.SetDefault("crawl.batch_size", 500)
	viper.SetDefault("crawl.download_concurrency", 5)
	viper.SetDefault("crawl.proxy_url", "")

	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.temp_dir", os.TempDir())

	viper.SetDefault("ml.auto_apply_low_risk", false)

	viper.SetDefault("providers.face_model_url", "http://localhost:9001")
	viper.SetDefault("providers.reverse_image_url", "http://localhost:9002")
	viper.SetDefault("providers.reverse_image_api_key", "")
	viper.SetDefault("providers.ai_classify_url", "http://localhost:9003")
	viper.SetDefault("providers.ai_classify_api_key", "")
	viper.SetDefault("providers.civitai_base_url", "https://civitai.com")
	viper.SetDefault("providers.civitai_api_key", "")
	viper.SetDefault("providers.generic_board_url", "")
}

// loadPlatformIntervalOverrides reads `<PLATFORM>_crawl_interval_hours`
// style keys for any platform named in the registry (internal/crawl),
// since viper can't unmarshal a dynamic map of top-level env keys into a
// nested mapstructure field directly.
func loadPlatformIntervalOverrides() map[string]int {
	overrides := make(map[string]int)
	for _, platform := range []string{"civitai", "genericboard"} {
		key := strings.ToUpper(platform) + "_CRAWL_INTERVAL_HOURS"
		if v := os.Getenv(key); v != "" {
			var hours int
			if _, err := fmt.Sscanf(v, "%d", &hours); err == nil && hours > 0 {
				overrides[platform] = hours
			}
		}
	}
	return overrides
}

func validate(cfg *Config) error {
	if cfg.Matching.ThresholdLow >= cfg.Matching.ThresholdMedium ||
		cfg.Matching.ThresholdMedium >= cfg.Matching.ThresholdHigh {
		return fmt.Errorf("config: match thresholds must satisfy low < medium < high, got %.2f/%.2f/%.2f",
			cfg.Matching.ThresholdLow, cfg.Matching.ThresholdMedium, cfg.Matching.ThresholdHigh)
	}
	if cfg.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("config: scheduler.tick_seconds must be positive")
	}
	return nil
}

// TickInterval returns the scheduler cadence as a time.Duration.
func (s Scheduler) TickInterval() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// StaleJobMaxAge returns the stale-job recovery threshold as a duration.
func (s Scheduler) StaleJobMaxAge() time.Duration {
	return time.Duration(s.StaleJobMaxAgeMin) * time.Minute
}

// reset clears the process-wide config singleton. Test-only.
func reset() { globalConfig = nil }
