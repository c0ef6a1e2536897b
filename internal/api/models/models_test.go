// Package models_test provides behavior tests for the API models package.
package models_test

import (
	"encoding/json"
	"testing"

	"github.com/jroosing/dnswatch/internal/api/models"
	"github.com/jroosing/dnswatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusResponse_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(models.StatusResponse{Status: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))
}

func TestStatsResponse_OmitsAbsentSections(t *testing.T) {
	data, err := json.Marshal(models.StatsResponse{Uptime: "1m0s"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "ingest")
	assert.NotContains(t, raw, "store")
	assert.NotContains(t, raw, "last_maintenance")
	assert.Equal(t, "1m0s", raw["uptime"])
}

func TestConfigResponse_NeverCarriesAPIKey(t *testing.T) {
	resp := models.ConfigResponse{
		Store:   config.StoreConfig{Path: "/data/dns.db", MaxSizeRaw: "500MB", MaxSizeBytes: 500 << 20},
		Logging: config.LoggingConfig{Level: "INFO"},
		API:     models.APIConfigResponse{Enabled: true, Port: 8089},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "api_key")
	assert.Contains(t, string(data), `"max_size_bytes":524288000`)
}
