// Package handlers implements the status API endpoint handlers for dnswatch.
//
// REST API Endpoints:
//
//   - GET /api/v1/health - Store reachability
//   - GET /api/v1/stats  - Runtime, ingestion counters, store size and row count, last maintenance
//   - GET /api/v1/config - Effective configuration (api_key redacted)
//
// The API is read-only and never returns stored events.
//
// Authentication:
//
// When an API key is configured every endpoint requires the X-API-Key header.
package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/dnswatch/internal/config"
	"github.com/jroosing/dnswatch/internal/database"
	"github.com/jroosing/dnswatch/internal/event"
	"github.com/jroosing/dnswatch/internal/pipeline"
)

// StoreInfo is the read-only view of the durable store the handlers need.
type StoreInfo interface {
	Path() string
	Variant() event.Variant
	Health(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	SchemaVersion(ctx context.Context) (int, error)
	FileSize() (int64, error)
}

// MaintenanceInfo exposes the most recent maintenance report.
type MaintenanceInfo interface {
	LastReport() (database.MaintenanceReport, bool)
}

// IngestStatsFunc returns the current ingestion statistics.
type IngestStatsFunc func() pipeline.StatsSnapshot

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	store     StoreInfo
	logger    *slog.Logger
	startTime time.Time

	// Runtime components (set after ingestion starts)
	ingestStats IngestStatsFunc
	maintenance MaintenanceInfo
	mu          sync.RWMutex
}

// New creates a new Handler. store may be nil, in which case store sections
// are omitted.
func New(cfg *config.Config, store StoreInfo, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}
}

// SetIngestStatsFunc sets the function used to read ingestion statistics.
func (h *Handler) SetIngestStatsFunc(fn IngestStatsFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ingestStats = fn
}

// GetIngestStatsFunc retrieves the ingestion statistics function.
func (h *Handler) GetIngestStatsFunc() IngestStatsFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ingestStats
}

// SetMaintenance sets the maintainer whose last report is exposed.
func (h *Handler) SetMaintenance(m MaintenanceInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maintenance = m
}

// GetMaintenance retrieves the maintainer.
func (h *Handler) GetMaintenance() MaintenanceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maintenance
}
