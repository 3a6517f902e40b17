package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *AppConfig {
	return &AppConfig{
		Secret:            "secret",
		Host:              "127.0.0.1",
		Port:              8080,
		LogLevel:          "INFO",
		RoomCapacity:      9,
		HeartbeatInterval: 5 * time.Second,
		ReconnectGrace:    60 * time.Second,
		IdleTimeout:       10 * time.Minute,
		CoalesceWindow:    250 * time.Millisecond,
		BroadcastRate:     10,
		OutboundQueue:     64,
		RedisSnapshotTTL:  time.Hour,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*AppConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(*AppConfig) {}},
		{name: "no secret", modify: func(c *AppConfig) { c.Secret = "" }, wantErr: true},
		{name: "zero capacity", modify: func(c *AppConfig) { c.RoomCapacity = 0 }, wantErr: true},
		{name: "negative grace", modify: func(c *AppConfig) { c.ReconnectGrace = -time.Second }, wantErr: true},
		{name: "zero rate", modify: func(c *AppConfig) { c.BroadcastRate = 0 }, wantErr: true},
		{name: "bad port", modify: func(c *AppConfig) { c.Port = 70000 }, wantErr: true},
		{name: "redis without ttl", modify: func(c *AppConfig) { c.RedisHost = "localhost"; c.RedisSnapshotTTL = 0 }, wantErr: true},
		{name: "seed without redis", modify: func(c *AppConfig) { c.CatalogSeed = []string{"video-1"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildWithRedis(t *testing.T) {
	s := miniredis.RunT(t)

	cfg := validConfig()
	cfg.RedisHost = s.Host()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)
	cfg.RedisPort = port
	cfg.CatalogSeed = []string{"seeded"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := build(context.Background(), cfg, clockwork.NewRealClock(), logger)
	require.NoError(t, err)
	t.Cleanup(c.close)

	server := httptest.NewServer(c.handler)
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/v1/rooms", "application/json", bytes.NewBufferString(`{"contentId":"video-1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "content missing from the catalog")

	_, err = s.SAdd("catalog:content", "video-1")
	require.NoError(t, err)

	resp, err = http.Post(server.URL+"/api/v1/rooms", "application/json", bytes.NewBufferString(`{"roomId":"party","contentId":"video-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Data struct {
			RoomID string `json:"roomId"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "party", body.Data.RoomID)
	assert.True(t, s.Exists("room:party:snapshot"))

	resp, err = http.Post(server.URL+"/api/v1/rooms", "application/json", bytes.NewBufferString(`{"contentId":"seeded"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestBuildWithoutRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := build(context.Background(), validConfig(), clockwork.NewRealClock(), logger)
	require.NoError(t, err)
	t.Cleanup(c.close)

	server := httptest.NewServer(c.handler)
	t.Cleanup(server.Close)

	resp, err := http.Post(server.URL+"/api/v1/rooms", "application/json", bytes.NewBufferString(`{"contentId":"anything"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
