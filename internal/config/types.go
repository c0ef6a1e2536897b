package config

import (
	"time"

	"github.com/jroosing/dnswatch/internal/event"
)

// WatcherConfig selects which event family is captured.
type WatcherConfig struct {
	VariantRaw string        `yaml:"variant" json:"variant"`
	Variant    event.Variant `yaml:"-" json:"-"`
}

// StoreConfig contains durable store and maintenance settings.
type StoreConfig struct {
	Path          string `yaml:"path" json:"path"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
	// MaxSizeRaw accepts "500MB", "1GB" or a bare number of megabytes. 0 disables the bound.
	MaxSizeRaw   string `yaml:"max_size" json:"max_size"`
	MaxSizeBytes int64  `yaml:"-" json:"max_size_bytes"`
	Backups      int    `yaml:"backups" json:"backups"`
}

// IngestConfig controls write batching.
type IngestConfig struct {
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`
}

// Trace source types.
const (
	SourceDnstap = "dnstap"
	SourceJSONL  = "jsonl"
)

// SourceConfig selects the trace source. Socket applies to dnstap, Path to
// jsonl ("-" reads stdin).
type SourceConfig struct {
	Type   string `yaml:"type" json:"type"`
	Socket string `yaml:"socket" json:"socket"`
	Path   string `yaml:"path" json:"path"`
	Buffer int    `yaml:"buffer" json:"buffer"`
}

// ClassificationConfig adds codes to the default error-category sets.
type ClassificationConfig struct {
	ConfigErrors []int `yaml:"config_errors" json:"config_errors,omitempty"`
	ClientErrors []int `yaml:"client_errors" json:"client_errors,omitempty"`
}

type ProcessCacheConfig struct {
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level" json:"level"`
	Structured       bool              `yaml:"structured" json:"structured"`
	StructuredFormat string            `yaml:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid" json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields" json:"extra_fields,omitempty"`
}

// APIConfig contains status API settings.
//
// Note: APIKey is treated as a secret and is never returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	APIKey  string `yaml:"api_key" json:"-"`
}

// Config is the root configuration structure.
type Config struct {
	Watcher        WatcherConfig        `yaml:"watcher" json:"watcher"`
	Store          StoreConfig          `yaml:"store" json:"store"`
	Ingest         IngestConfig         `yaml:"ingest" json:"ingest"`
	Source         SourceConfig         `yaml:"source" json:"source"`
	Classification ClassificationConfig `yaml:"classification" json:"classification"`
	ProcessCache   ProcessCacheConfig   `yaml:"process_cache" json:"process_cache"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	API            APIConfig            `yaml:"api" json:"api"`
}
