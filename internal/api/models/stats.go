package models

import "time"

// StatsResponse contains watcher runtime, ingestion and store statistics.
// Stored rows are never part of it.
type StatsResponse struct {
	Uptime          string               `json:"uptime"`
	UptimeSeconds   int64                `json:"uptime_seconds"`
	StartTime       time.Time            `json:"start_time"`
	GoRoutines      int                  `json:"goroutines"`
	MemoryAllocMB   float64              `json:"memory_alloc_mb"`
	Ingest          *IngestStatsResponse `json:"ingest,omitempty"`
	Store           *StoreStatsResponse  `json:"store,omitempty"`
	LastMaintenance *MaintenanceResponse `json:"last_maintenance,omitempty"`
}

// IngestStatsResponse contains ingestion counters.
type IngestStatsResponse struct {
	Received         uint64  `json:"received"`
	Ignored          uint64  `json:"ignored"`
	UnknownKinds     uint64  `json:"unknown_kinds"`
	Stored           uint64  `json:"stored"`
	Dropped          uint64  `json:"dropped"`
	SourceDropped    uint64  `json:"source_dropped"`
	BatchesCommitted uint64  `json:"batches_committed"`
	BatchesFailed    uint64  `json:"batches_failed"`
	Recovered        uint64  `json:"recovered_panics"`
	MaintenanceRuns  uint64  `json:"maintenance_runs"`
	EventsPerSecond  float64 `json:"events_per_second"`
}

// StoreStatsResponse describes the durable store.
type StoreStatsResponse struct {
	Path          string `json:"path"`
	Variant       string `json:"variant"`
	SchemaVersion int    `json:"schema_version"`
	Rows          int64  `json:"rows"`
	SizeBytes     int64  `json:"size_bytes"`
	Error         string `json:"error,omitempty"`
}

// MaintenanceResponse summarizes the most recent maintenance run.
type MaintenanceResponse struct {
	StartedAt        time.Time `json:"started_at"`
	DurationMs       int64     `json:"duration_ms"`
	BackupTaken      bool      `json:"backup_taken"`
	RetentionDeleted int64     `json:"retention_deleted"`
	SizeBefore       int64     `json:"size_before"`
	SizeDeleted      int64     `json:"size_deleted"`
	Vacuumed         bool      `json:"vacuumed"`
	Errors           []string  `json:"errors,omitempty"`
}
