// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/invite-crawler/internal/catalog/codec"
	"github.com/JakeFAU/invite-crawler/internal/policy/corruption"
	"github.com/JakeFAU/invite-crawler/internal/policy/ratelimit"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLER_INDEX_ADDRESS.
const EnvPrefix = "CRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Index     IndexConfig     `mapstructure:"index"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// IndexConfig locates the search index that receives the catalog.
type IndexConfig struct {
	// Backend is "elasticsearch" or "memory".
	Backend    string `mapstructure:"backend"`
	Address    string `mapstructure:"address"`
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	MaxRetries int    `mapstructure:"max_retries"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// CatalogConfig controls the persisted catalog file.
type CatalogConfig struct {
	Path                string `mapstructure:"path"`
	Codec               string `mapstructure:"codec"`
	OnCorruption        string `mapstructure:"on_corruption"`
	RetryInitialMs      int    `mapstructure:"retry_initial_ms"`
	RetryMaxMs          int    `mapstructure:"retry_max_ms"`
	PromptOnSaveFailure bool   `mapstructure:"prompt_on_save_failure"`
}

// CrawlerConfig governs search pagination and pacing.
type CrawlerConfig struct {
	Pages         int           `mapstructure:"pages"`
	SearchDelay   time.Duration `mapstructure:"search_delay"`
	LinkDelay     time.Duration `mapstructure:"link_delay"`
	Limiter       string        `mapstructure:"limiter"`
	Burst         int           `mapstructure:"burst"`
	UserAgent     string        `mapstructure:"user_agent"`
	SearchBaseURL string        `mapstructure:"search_base_url"`
	SearchQuery   string        `mapstructure:"search_query"`
	SearchLang    string        `mapstructure:"search_language"`
}

// DiscordConfig points the verifier at the invite API.
type DiscordConfig struct {
	APIBase string `mapstructure:"api_base"`
}

// HTTPConfig configures the fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// ScheduleConfig sets the cycle cadence.
type ScheduleConfig struct {
	Cadence time.Duration `mapstructure:"cadence"`
}

// HeadlessConfig configures the rendered fallback used by the resolver.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	ExecPath      string `mapstructure:"exec_path"`
}

// StorageConfig enables the GCS snapshot mirror when a bucket is set.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the cycle history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for cycle notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the operator HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles tracing exporters.
type TelemetryConfig struct {
	Tracing   bool   `mapstructure:"tracing"`
	ProjectID string `mapstructure:"project_id"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"host":  "index.address",
	"index": "index.name",
	"key":   "index.api_key",
}

// Load builds a Config from defaults, an optional file, the environment and
// any of the --host, --index and --key flags present in flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("index.backend", "elasticsearch")
	v.SetDefault("index.address", "http://localhost:9200")
	v.SetDefault("index.name", "discord-guilds")
	v.SetDefault("index.max_retries", 3)
	v.SetDefault("index.batch_size", 500)
	v.SetDefault("catalog.path", "guilds.cbor")
	v.SetDefault("catalog.codec", "cbor")
	v.SetDefault("catalog.on_corruption", corruption.ModeAuto)
	v.SetDefault("catalog.retry_initial_ms", 1000)
	v.SetDefault("catalog.retry_max_ms", 60000)
	v.SetDefault("catalog.prompt_on_save_failure", true)
	v.SetDefault("crawler.pages", 20)
	v.SetDefault("crawler.search_delay", 10*time.Second)
	v.SetDefault("crawler.link_delay", 6*time.Second)
	v.SetDefault("crawler.limiter", ratelimit.KindFixed)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; invite-crawler/0.1)")
	v.SetDefault("crawler.search_base_url", "https://www.google.com/search")
	v.SetDefault("crawler.search_query", `"discord.gg"`)
	v.SetDefault("crawler.search_language", "en")
	v.SetDefault("discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("schedule.cadence", time.Hour)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("storage.prefix", "catalog")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("telemetry.tracing", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Index.Backend {
	case "elasticsearch":
		if c.Index.Address == "" {
			errs = append(errs, errors.New("index.address is required for the elasticsearch backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("index.backend %q is not supported", c.Index.Backend))
	}
	if c.Index.Name == "" {
		errs = append(errs, errors.New("index.name is required"))
	}
	if c.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required"))
	}
	if _, err := codec.ByName(c.Catalog.Codec); err != nil {
		errs = append(errs, fmt.Errorf("catalog.codec: %w", err))
	}
	switch strings.ToLower(c.Catalog.OnCorruption) {
	case corruption.ModeAuto, corruption.ModeAbort, corruption.ModeOverwrite, corruption.ModePrompt:
	default:
		errs = append(errs, fmt.Errorf("catalog.on_corruption %q is not supported", c.Catalog.OnCorruption))
	}
	if c.Catalog.RetryInitialMs <= 0 || c.Catalog.RetryMaxMs < c.Catalog.RetryInitialMs {
		errs = append(errs, errors.New("catalog.retry_initial_ms must be > 0 and <= catalog.retry_max_ms"))
	}
	if c.Crawler.Pages <= 0 {
		errs = append(errs, errors.New("crawler.pages must be > 0"))
	}
	if c.Crawler.SearchDelay < 0 || c.Crawler.LinkDelay < 0 {
		errs = append(errs, errors.New("crawler delays must be >= 0"))
	}
	switch c.Crawler.Limiter {
	case ratelimit.KindFixed:
	case ratelimit.KindToken:
		if c.Crawler.Burst <= 0 {
			errs = append(errs, errors.New("crawler.burst must be > 0 for the token limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("crawler.limiter %q is not supported", c.Crawler.Limiter))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Schedule.Cadence <= 0 {
		errs = append(errs, errors.New("schedule.cadence must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		errs = append(errs, errors.New("headless.nav_timeout_seconds must be > 0 when headless is enabled"))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub.topic_name is set"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be between 0 and 65535"))
	}
	return errors.Join(errs...)
}

// HTTPTimeout converts the fetch timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// SaveRetryBounds returns the initial and maximum save retry delays.
func (c Config) SaveRetryBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Catalog.RetryInitialMs) * time.Millisecond,
		time.Duration(c.Catalog.RetryMaxMs) * time.Millisecond
}
