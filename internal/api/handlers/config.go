package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/dnswatch/internal/api/models"
)

// GetConfig returns the effective configuration with the API key redacted.
func (h *Handler) GetConfig(c *gin.Context) {
	if h.cfg == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "config unavailable"})
		return
	}

	resp := models.ConfigResponse{
		Watcher: h.cfg.Watcher,
		Store:   h.cfg.Store,
		Ingest: models.IngestConfigResponse{
			BatchSize:     h.cfg.Ingest.BatchSize,
			FlushInterval: h.cfg.Ingest.FlushInterval.String(),
			StatsInterval: h.cfg.Ingest.StatsInterval.String(),
		},
		Source:         h.cfg.Source,
		Classification: h.cfg.Classification,
		ProcessCache:   h.cfg.ProcessCache,
		Logging:        h.cfg.Logging,
		API: models.APIConfigResponse{
			Enabled: h.cfg.API.Enabled,
			Host:    h.cfg.API.Host,
			Port:    h.cfg.API.Port,
		},
	}

	c.JSON(http.StatusOK, resp)
}
