package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/dnswatch/internal/api/models"
)

const storeQueryTimeout = 5 * time.Second

// Health reports whether the store answers queries.
func (h *Handler) Health(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeQueryTimeout)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		h.logger.Warn("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, models.StatusResponse{Status: "degraded", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats returns runtime, ingestion, store and maintenance statistics.
func (h *Handler) Stats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.startTime)

	resp := models.StatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		GoRoutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
	}

	if fn := h.GetIngestStatsFunc(); fn != nil {
		s := fn()
		resp.Ingest = &models.IngestStatsResponse{
			Received:         s.Received,
			Ignored:          s.Ignored,
			UnknownKinds:     s.UnknownKinds,
			Stored:           s.Stored,
			Dropped:          s.Dropped,
			SourceDropped:    s.SourceDropped,
			BatchesCommitted: s.BatchesCommitted,
			BatchesFailed:    s.BatchesFailed,
			Recovered:        s.Recovered,
			MaintenanceRuns:  s.MaintenanceRuns,
			EventsPerSecond:  s.EventsPerSecond,
		}
	}

	if h.store != nil {
		resp.Store = h.storeStats(c.Request.Context())
	}

	if mi := h.GetMaintenance(); mi != nil {
		if r, ok := mi.LastReport(); ok {
			resp.LastMaintenance = &models.MaintenanceResponse{
				StartedAt:        r.StartedAt,
				DurationMs:       r.Duration.Milliseconds(),
				BackupTaken:      r.BackupTaken,
				RetentionDeleted: r.RetentionDeleted,
				SizeBefore:       r.SizeBefore,
				SizeDeleted:      r.SizeDeleted,
				Vacuumed:         r.Vacuumed,
				Errors:           r.Errors,
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) storeStats(ctx context.Context) *models.StoreStatsResponse {
	ctx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()

	out := &models.StoreStatsResponse{
		Path:    h.store.Path(),
		Variant: h.store.Variant().String(),
	}

	var err error
	if out.SchemaVersion, err = h.store.SchemaVersion(ctx); err != nil {
		out.Error = err.Error()
	}
	if out.Rows, err = h.store.Count(ctx); err != nil {
		out.Error = err.Error()
	}
	if out.SizeBytes, err = h.store.FileSize(); err != nil {
		out.Error = err.Error()
	}
	if out.Error != "" {
		h.logger.Warn("store stats incomplete", "err", out.Error)
	}
	return out
}
