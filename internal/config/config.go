package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/quality"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Source ids, in the default trust order.
var SourceIDs = []string{"coingecko", "mempool", "blockscout", "koios", "coinmetrics", "defillama"}

// SourceConfig holds the resilience settings of one source.
type SourceConfig struct {
	BaseURL          string `yaml:"base_url" validate:"omitempty,url"`
	MinIntervalMs    int    `yaml:"min_interval_ms" default:"1000" validate:"gte=0"`
	TimeoutSecs      int    `yaml:"timeout_secs" default:"15" validate:"gte=1,lte=300"`
	FailureThreshold int    `yaml:"failure_threshold" default:"5" validate:"gte=1"`
	RecoverySecs     int    `yaml:"recovery_secs" default:"60" validate:"gte=1"`
	MaxRetries       int    `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" default:"500" validate:"gte=1"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" default:"8000" validate:"gtefield=InitialBackoffMs"`
	Disabled         bool   `yaml:"disabled"`
}

func (s SourceConfig) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalMs) * time.Millisecond
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

func (s SourceConfig) RecoveryTimeout() time.Duration {
	return time.Duration(s.RecoverySecs) * time.Second
}

func (s SourceConfig) InitialBackoff() time.Duration {
	return time.Duration(s.InitialBackoffMs) * time.Millisecond
}

func (s SourceConfig) MaxBackoff() time.Duration {
	return time.Duration(s.MaxBackoffMs) * time.Millisecond
}

// sourceIntervals are the per-source minimum spacing between calls, sized
// to each API's public rate limit.
var sourceIntervals = map[string]int{
	"coingecko":   2500,
	"mempool":     500,
	"blockscout":  250,
	"koios":       500,
	"coinmetrics": 600,
	"defillama":   1000,
}

func defaultSource(id string) SourceConfig {
	var s SourceConfig
	if err := defaults.Set(&s); err != nil {
		panic(err)
	}
	if ms, ok := sourceIntervals[id]; ok {
		s.MinIntervalMs = ms
	}
	return s
}

type Config struct {
	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string

	CoinGeckoAPIKey string

	APIKey    string
	HTTPPort  int
	LogLevel  string
	LogFormat string

	CollectSchedule     string
	CollectConcurrency  int `validate:"gte=1,lte=64"`
	AssetTimeoutSecs    int `validate:"gte=1"`
	CycleTimeoutSecs    int `validate:"gtefield=AssetTimeoutSecs"`
	GranularityMins     int `validate:"gte=1,lte=1440"`
	RetentionDays       int `validate:"gte=0"`
	CacheTTLSecs        int `validate:"gte=1"`
	DefiLlamaSnapshotMs int `validate:"gte=0"`

	TrustOrder    []string `validate:"min=1,dive,required"`
	QualityPolicy domain.QualityPolicy
	Quality       quality.Config
	Sources       map[string]SourceConfig `validate:"dive"`
}

func (c *Config) AssetTimeout() time.Duration {
	return time.Duration(c.AssetTimeoutSecs) * time.Second
}

func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutSecs) * time.Second
}

func (c *Config) Granularity() time.Duration {
	return time.Duration(c.GranularityMins) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

func (c *Config) DefiLlamaSnapshotTTL() time.Duration {
	return time.Duration(c.DefiLlamaSnapshotMs) * time.Millisecond
}

// Retention is zero when old rows are kept forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Source returns the settings of id, falling back to the defaults.
func (c *Config) Source(id string) SourceConfig {
	if s, ok := c.Sources[id]; ok {
		return s
	}
	return defaultSource(id)
}

// sourcesFile is the optional YAML document named by SOURCES_CONFIG_FILE.
type sourcesFile struct {
	TrustOrder []string             `yaml:"trust_order"`
	Quality    *yaml.Node           `yaml:"quality"`
	Sources    map[string]yaml.Node `yaml:"sources"`
}

// Load reads the configuration from the environment and, when
// SOURCES_CONFIG_FILE is set, from that YAML file. Malformed environment
// values fall back to their defaults with a warning; a malformed file or an
// invalid final configuration is an error.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:        strings.TrimSpace(os.Getenv("REDIS_URL")),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      strings.TrimSpace(os.Getenv("KAFKA_TOPIC")),
		CoinGeckoAPIKey: strings.TrimSpace(os.Getenv("COINGECKO_API_KEY")),
		APIKey:          strings.TrimSpace(os.Getenv("API_KEY")),
		LogLevel:        strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		LogFormat:       strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		CollectSchedule: strings.TrimSpace(os.Getenv("COLLECT_SCHEDULE")),
		Quality:         quality.DefaultConfig(),
		Sources:         make(map[string]SourceConfig, len(SourceIDs)),
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, records are kept in memory")
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "onchain.metrics"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	cfg.HTTPPort = envInt("HTTP_PORT", 8080, func(n int) bool { return n > 0 && n < 65536 })
	cfg.CollectConcurrency = envInt("COLLECT_CONCURRENCY", 4, positive)
	cfg.AssetTimeoutSecs = envInt("COLLECT_ASSET_TIMEOUT_SECS", 60, positive)
	cfg.CycleTimeoutSecs = envInt("COLLECT_CYCLE_TIMEOUT_SECS", 600, positive)
	cfg.GranularityMins = envInt("COLLECT_GRANULARITY_MINS", 60, positive)
	cfg.RetentionDays = envInt("RETENTION_DAYS", 0, func(n int) bool { return n >= 0 })
	cfg.CacheTTLSecs = envInt("CACHE_TTL_SECS", 7200, positive)
	cfg.DefiLlamaSnapshotMs = envInt("DEFILLAMA_SNAPSHOT_TTL_MS", 300_000, func(n int) bool { return n >= 0 })

	cfg.TrustOrder = splitList(os.Getenv("FUSION_TRUST_ORDER"))
	if len(cfg.TrustOrder) == 0 {
		cfg.TrustOrder = append([]string(nil), SourceIDs...)
	}

	cfg.QualityPolicy = domain.QualityPolicy(strings.ToLower(strings.TrimSpace(os.Getenv("QUALITY_SCORE_POLICY"))))
	if cfg.QualityPolicy == "" {
		cfg.QualityPolicy = domain.QualityPolicyMax
	}
	if !cfg.QualityPolicy.IsValid() {
		log.Warn().Str("value", string(cfg.QualityPolicy)).Msg("unsupported QUALITY_SCORE_POLICY, defaulting to max")
		cfg.QualityPolicy = domain.QualityPolicyMax
	}

	for _, id := range SourceIDs {
		s := defaultSource(id)
		s.BaseURL = strings.TrimSpace(os.Getenv(strings.ToUpper(id) + "_BASE_URL"))
		s.Disabled = envBool(strings.ToUpper(id) + "_DISABLED")
		cfg.Sources[id] = s
	}

	if path := strings.TrimSpace(os.Getenv("SOURCES_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Environment quality constants win over the file.
	cfg.Quality.PremiumBase = envFloat("QUALITY_PREMIUM_BASE", cfg.Quality.PremiumBase)
	cfg.Quality.FreeBase = envFloat("QUALITY_FREE_BASE", cfg.Quality.FreeBase)
	cfg.Quality.NoneBase = envFloat("QUALITY_NONE_BASE", cfg.Quality.NoneBase)
	cfg.Quality.MultiSourceBonus = envFloat("QUALITY_MULTI_SOURCE_BONUS", cfg.Quality.MultiSourceBonus)
	cfg.Quality.EstimatePenalty = envFloat("QUALITY_ESTIMATE_PENALTY", cfg.Quality.EstimatePenalty)
	cfg.Quality.InvalidCap = envFloat("QUALITY_INVALID_CAP", cfg.Quality.InvalidCap)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays the YAML file onto cfg. Only the keys present in the
// file replace the current values.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sources config: %w", err)
	}
	var doc sourcesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse sources config %s: %w", path, err)
	}

	if len(doc.TrustOrder) > 0 {
		c.TrustOrder = doc.TrustOrder
	}
	if doc.Quality != nil {
		if err := doc.Quality.Decode(&c.Quality); err != nil {
			return fmt.Errorf("parse sources config %s: quality: %w", path, err)
		}
	}
	for id, node := range doc.Sources {
		id = strings.ToLower(strings.TrimSpace(id))
		s := c.Source(id)
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("parse sources config %s: source %s: %w", path, id, err)
		}
		c.Sources[id] = s
	}
	return nil
}

func positive(n int) bool { return n > 0 }

func envInt(key string, def int, ok func(int) bool) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || !ok(n) {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid value, using default")
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 || n > 1 {
		log.Warn().Str("key", key).Str("value", v).Float64("default", def).Msg("invalid value, using default")
		return def
	}
	return n
}

func envBool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
