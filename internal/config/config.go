// Package config provides configuration types, loading and validation for
// dnswatch.
//
// Configuration is read from a YAML file resolved from the --config flag or
// the DNSWATCH_CONFIG environment variable. Defaults are applied first, the
// file is decoded over them, then Validate normalizes the result. Command-line
// overrides are applied by the CLI after Load and re-validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/pipeline"
	"github.com/jroosing/dnswatch/internal/procname"
	"github.com/jroosing/dnswatch/internal/tracesource"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable consulted when no --config
// flag is given.
const EnvConfigPath = "DNSWATCH_CONFIG"

// Default values.
const (
	DefaultStorePath     = "dnswatch.db"
	DefaultRetentionDays = 30
	DefaultBackups       = 3
	DefaultSocket        = "/run/dnswatch/dnstap.sock"
	DefaultAPIPort       = 8089
)

const (
	megabyte = int64(1024 * 1024)
	gigabyte = 1024 * megabyte
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{VariantRaw: event.VariantServer.String()},
		Store: StoreConfig{
			Path:          DefaultStorePath,
			RetentionDays: DefaultRetentionDays,
			Backups:       DefaultBackups,
		},
		Ingest: IngestConfig{
			BatchSize:     pipeline.DefaultBatchSize,
			FlushInterval: pipeline.DefaultFlushInterval,
			StatsInterval: pipeline.DefaultStatsInterval,
		},
		Source: SourceConfig{
			Type:   SourceDnstap,
			Socket: DefaultSocket,
			Path:   tracesource.StdinPath,
			Buffer: tracesource.DefaultBuffer,
		},
		ProcessCache: ProcessCacheConfig{MaxEntries: procname.DefaultMaxEntries},
		Logging: LoggingConfig{
			Level:            "INFO",
			StructuredFormat: "json",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: DefaultAPIPort,
		},
	}
}

// ResolveConfigPath returns the flag value when set, otherwise the value of
// DNSWATCH_CONFIG. An empty result means "defaults only".
func ResolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	return strings.TrimSpace(os.Getenv(EnvConfigPath))
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates and normalizes the configuration.
func (cfg *Config) Validate() error {
	v, err := event.ParseVariant(cfg.Watcher.VariantRaw)
	if err != nil {
		return fmt.Errorf("watcher.variant: %w", err)
	}
	cfg.Watcher.Variant = v
	cfg.Watcher.VariantRaw = v.String()

	// Normalize store
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	size, err := ParseSize(cfg.Store.MaxSizeRaw)
	if err != nil {
		return fmt.Errorf("store.max_size: %w", err)
	}
	cfg.Store.MaxSizeBytes = size
	if cfg.Store.Backups < 0 {
		cfg.Store.Backups = 0
	}

	// Normalize ingest
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = pipeline.DefaultBatchSize
	}
	if cfg.Ingest.FlushInterval <= 0 {
		cfg.Ingest.FlushInterval = pipeline.DefaultFlushInterval
	}
	if cfg.Ingest.StatsInterval <= 0 {
		cfg.Ingest.StatsInterval = pipeline.DefaultStatsInterval
	}

	// Normalize source
	cfg.Source.Type = strings.ToLower(strings.TrimSpace(cfg.Source.Type))
	switch cfg.Source.Type {
	case "":
		cfg.Source.Type = SourceDnstap
	case SourceDnstap, SourceJSONL:
	default:
		return fmt.Errorf("source.type %q is not supported (use %s or %s)", cfg.Source.Type, SourceDnstap, SourceJSONL)
	}
	if strings.TrimSpace(cfg.Source.Socket) == "" {
		cfg.Source.Socket = DefaultSocket
	}
	if strings.TrimSpace(cfg.Source.Path) == "" {
		cfg.Source.Path = tracesource.StdinPath
	}
	if cfg.Source.Buffer <= 0 {
		cfg.Source.Buffer = tracesource.DefaultBuffer
	}

	for _, code := range cfg.Classification.ConfigErrors {
		for _, other := range cfg.Classification.ClientErrors {
			if code == other {
				return fmt.Errorf("classification: code %d listed as both config and client error", code)
			}
		}
	}

	if cfg.ProcessCache.MaxEntries <= 0 {
		cfg.ProcessCache.MaxEntries = procname.DefaultMaxEntries
	}

	// Normalize logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	// Normalize status API
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	return nil
}

// ParseSize converts "500MB", "1GB" or a bare number of megabytes into bytes.
// The empty string and "0" disable the size bound.
func ParseSize(raw string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return 0, nil
	}

	unit := megabyte
	switch {
	case strings.HasSuffix(s, "GB"):
		unit = gigabyte
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		s = strings.TrimSuffix(s, "MB")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	if n > (1<<63-1)/unit {
		return 0, fmt.Errorf("size %q overflows", raw)
	}
	return n * unit, nil
}
