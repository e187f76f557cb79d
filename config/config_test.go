package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
  mode: release
segmenter:
  backend: comfy
  comfy:
    poll_interval: 2s
cache:
  backend: redis
  ttl: 10m
samples:
  portrait: testdata/portrait.png
gallery:
  page_url: https://example.com/gallery
  match: Sample_
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "comfy", cfg.Segmenter.Backend)
	assert.Equal(t, 2*time.Second, cfg.Segmenter.Comfy.PollInterval)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "testdata/portrait.png", cfg.Samples["portrait"])
	assert.Equal(t, "https://example.com/gallery", cfg.Gallery.PageURL)
	assert.Equal(t, "Sample_", cfg.Gallery.Match)
	assert.Equal(t, 12, cfg.Gallery.Limit)

	// 未配置的字段取默认值
	assert.Equal(t, 1024, cfg.Segmenter.ONNX.InputSize)
	assert.Equal(t, "http://127.0.0.1:8188/", cfg.Segmenter.Comfy.BaseURL)
	assert.Equal(t, "removed-background.png", cfg.Export.Filename)
	assert.Equal(t, "@every 1m", cfg.Session.SweepSpec)
	assert.Contains(t, cfg.Upload.AllowedTypes, "image/png")
	assert.Equal(t, int64(100_000_000), cfg.Upload.MaxPixels)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewFallsBackToDefaults(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, Default().Segmenter, cfg.Segmenter)
	assert.Equal(t, Default().Preview, cfg.Preview)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CUTOUT_SERVER_ADDR", "127.0.0.1:1234")
	t.Setenv("CUTOUT_SEGMENTER_BACKEND", "alpha")

	cfg := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, "127.0.0.1:1234", cfg.Server.Addr)
	assert.Equal(t, "alpha", cfg.Segmenter.Backend)
}
