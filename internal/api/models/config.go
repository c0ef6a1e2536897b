package models

import "github.com/jroosing/dnswatch/internal/config"

// APIConfigResponse is a redacted version of APIConfig (no api_key exposed).
type APIConfigResponse struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// ConfigResponse is the API response for GET /config.
type ConfigResponse struct {
	Watcher        config.WatcherConfig        `json:"watcher"`
	Store          config.StoreConfig          `json:"store"`
	Ingest         IngestConfigResponse        `json:"ingest"`
	Source         config.SourceConfig         `json:"source"`
	Classification config.ClassificationConfig `json:"classification"`
	ProcessCache   config.ProcessCacheConfig   `json:"process_cache"`
	Logging        config.LoggingConfig        `json:"logging"`
	API            APIConfigResponse           `json:"api"`
}

// IngestConfigResponse renders intervals as duration strings.
type IngestConfigResponse struct {
	BatchSize     int    `json:"batch_size"`
	FlushInterval string `json:"flush_interval"`
	StatsInterval string `json:"stats_interval"`
}
