package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsledger/treasury-infra/internal/monitoring"
)

// Config is the resolved runtime configuration for the treasury infra core.
// It merges file defaults and environment overrides to support both local and
// deployed runs. An empty RedisURL (or RedisEnabled=false) is a supported
// local-only mode, not a misconfiguration.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	RedisEnabled     bool
	RedisURL         string
	RedisDialTimeout time.Duration
	RedisOpTimeout   time.Duration

	CachePrefix     string
	DefaultCacheTTL time.Duration
	FallbackTTLCap  time.Duration

	EventStream    string
	EventRetention int
	ConsumerGroup  string
	ConsumerName   string

	MetricBufferCap int
	AlertBufferCap  int
	DedupWindow     time.Duration
	EvalInterval    time.Duration
	Thresholds      map[string]monitoring.Thresholds

	KafkaBrokers []string
	KafkaTopic   string
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		RedisURL     string   `yaml:"redis_url"`
		RedisEnabled *bool    `yaml:"redis_enabled"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Cache struct {
		Prefix             string `yaml:"prefix"`
		DefaultTTLSeconds  int    `yaml:"default_ttl_seconds"`
		FallbackTTLSeconds int    `yaml:"fallback_ttl_seconds"`
	} `yaml:"cache"`
	Events struct {
		Stream        string `yaml:"stream"`
		Retention     int    `yaml:"retention"`
		ConsumerGroup string `yaml:"consumer_group"`
		ConsumerName  string `yaml:"consumer_name"`
	} `yaml:"events"`
	Monitoring struct {
		MetricBufferCapacity int                               `yaml:"metric_buffer_capacity"`
		AlertBufferCapacity  int                               `yaml:"alert_buffer_capacity"`
		DedupWindowSeconds   int                               `yaml:"dedup_window_seconds"`
		EvalIntervalSeconds  int                               `yaml:"eval_interval_seconds"`
		Thresholds           map[string]monitoring.Thresholds `yaml:"thresholds"`
	} `yaml:"monitoring"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific
// overrides. Threshold sets are validated here so a malformed rule fails the
// process at startup instead of silently never alerting.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:        "treasury-infra",
		HTTPPort:         8080,
		GRPCPort:         9090,
		RedisEnabled:     true,
		RedisDialTimeout: 2 * time.Second,
		RedisOpTimeout:   time.Second,
		CachePrefix:      "cache:",
		DefaultCacheTTL:  5 * time.Minute,
		FallbackTTLCap:   time.Minute,
		EventStream:      "treasury:events",
		EventRetention:   10000,
		ConsumerGroup:    "treasury-infra",
		ConsumerName:     "worker-1",
		MetricBufferCap:  10000,
		AlertBufferCap:   1000,
		DedupWindow:      5 * time.Minute,
		EvalInterval:     30 * time.Second,
		Thresholds:       map[string]monitoring.Thresholds{},
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Dependencies.RedisEnabled != nil {
			cfg.RedisEnabled = *f.Dependencies.RedisEnabled
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Dependencies.KafkaTopic != "" {
			cfg.KafkaTopic = f.Dependencies.KafkaTopic
		}
		if f.Cache.Prefix != "" {
			cfg.CachePrefix = f.Cache.Prefix
		}
		if f.Cache.DefaultTTLSeconds > 0 {
			cfg.DefaultCacheTTL = time.Duration(f.Cache.DefaultTTLSeconds) * time.Second
		}
		if f.Cache.FallbackTTLSeconds > 0 {
			cfg.FallbackTTLCap = time.Duration(f.Cache.FallbackTTLSeconds) * time.Second
		}
		if f.Events.Stream != "" {
			cfg.EventStream = f.Events.Stream
		}
		if f.Events.Retention > 0 {
			cfg.EventRetention = f.Events.Retention
		}
		if f.Events.ConsumerGroup != "" {
			cfg.ConsumerGroup = f.Events.ConsumerGroup
		}
		if f.Events.ConsumerName != "" {
			cfg.ConsumerName = f.Events.ConsumerName
		}
		if f.Monitoring.MetricBufferCapacity > 0 {
			cfg.MetricBufferCap = f.Monitoring.MetricBufferCapacity
		}
		if f.Monitoring.AlertBufferCapacity > 0 {
			cfg.AlertBufferCap = f.Monitoring.AlertBufferCapacity
		}
		if f.Monitoring.DedupWindowSeconds > 0 {
			cfg.DedupWindow = time.Duration(f.Monitoring.DedupWindowSeconds) * time.Second
		}
		if f.Monitoring.EvalIntervalSeconds > 0 {
			cfg.EvalInterval = time.Duration(f.Monitoring.EvalIntervalSeconds) * time.Second
		}
		for metric, t := range f.Monitoring.Thresholds {
			cfg.Thresholds[metric] = t
		}
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.RedisEnabled = envBool("REDIS_ENABLED", cfg.RedisEnabled)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.CachePrefix = envOrDefault("CACHE_PREFIX", cfg.CachePrefix)
	cfg.EventStream = envOrDefault("EVENT_STREAM", cfg.EventStream)
	cfg.ConsumerGroup = envOrDefault("CONSUMER_GROUP", cfg.ConsumerGroup)
	cfg.ConsumerName = envOrDefault("CONSUMER_NAME", cfg.ConsumerName)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.EventRetention = envInt("EVENT_RETENTION", cfg.EventRetention)
	cfg.MetricBufferCap = envInt("METRIC_BUFFER_CAPACITY", cfg.MetricBufferCap)
	cfg.AlertBufferCap = envInt("ALERT_BUFFER_CAPACITY", cfg.AlertBufferCap)

	cfg.RedisDialTimeout = time.Duration(envInt("REDIS_DIAL_TIMEOUT_MS", int(cfg.RedisDialTimeout.Milliseconds()))) * time.Millisecond
	cfg.RedisOpTimeout = time.Duration(envInt("REDIS_OP_TIMEOUT_MS", int(cfg.RedisOpTimeout.Milliseconds()))) * time.Millisecond
	cfg.DefaultCacheTTL = time.Duration(envInt("CACHE_DEFAULT_TTL_SECONDS", int(cfg.DefaultCacheTTL.Seconds()))) * time.Second
	cfg.FallbackTTLCap = time.Duration(envInt("CACHE_FALLBACK_TTL_SECONDS", int(cfg.FallbackTTLCap.Seconds()))) * time.Second
	cfg.DedupWindow = time.Duration(envInt("ALERT_DEDUP_WINDOW_SECONDS", int(cfg.DedupWindow.Seconds()))) * time.Second
	cfg.EvalInterval = time.Duration(envInt("ALERT_EVAL_INTERVAL_SECONDS", int(cfg.EvalInterval.Seconds()))) * time.Second

	if cfg.RedisEnabled && cfg.RedisURL == "" {
		// No URL means local-only mode; flip the flag so the runtime does not
		// try to dial an empty address.
		cfg.RedisEnabled = false
	}
	if cfg.EventRetention <= 0 {
		return Config{}, fmt.Errorf("event retention must be positive, got %d", cfg.EventRetention)
	}
	if cfg.MetricBufferCap <= 0 || cfg.AlertBufferCap <= 0 {
		return Config{}, fmt.Errorf("buffer capacities must be positive")
	}
	for metric, t := range cfg.Thresholds {
		if !(t.Warning < t.Error && t.Error < t.Critical) {
			return Config{}, fmt.Errorf("thresholds for %q must ascend warning<error<critical (%.2f, %.2f, %.2f)",
				metric, t.Warning, t.Error, t.Critical)
		}
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
