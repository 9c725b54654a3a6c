package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Test Missing File Uses Defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("Test Overrides", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
detect:
  image: /data/test.jpg
  output: /data/test_bboxes.jpg
  llava:
    cliPath: /opt/llama/llama-mtmd-cli
    timeout: 90s
    extraArgs: ["--temp", "0.1"]
  render:
    display: false
batch:
  inputDir: images
  names: [person, car]
  conf: 0.4
log:
  level: debug
  file: logs/run.log
metrics:
  port: 9100
`))
		require.NoError(t, err)
		assert.Equal(t, "/data/test.jpg", cfg.Detect.Image)
		assert.Equal(t, "/opt/llama/llama-mtmd-cli", cfg.Detect.Llava.CLIPath)
		assert.Equal(t, 90*time.Second, cfg.Detect.Llava.Timeout)
		assert.Equal(t, []string{"--temp", "0.1"}, cfg.Detect.Llava.ExtraArgs)
		assert.Equal(t, "vicuna", cfg.Detect.Llava.ChatTemplate, "default kept")
		assert.False(t, cfg.Detect.Render.Display)
		assert.Equal(t, 3, cfg.Detect.Render.Stroke, "default kept")
		assert.Equal(t, "images", cfg.Batch.InputDir)
		assert.Equal(t, "output", cfg.Batch.OutputDir, "default kept")
		assert.Equal(t, []string{"person", "car"}, cfg.Batch.Names)
		assert.InDelta(t, 0.4, cfg.Batch.Conf, 1e-6)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 9100, cfg.Metrics.Port)
	})

	t.Run("Test Bad YAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "detect: [unclosed"))
		assert.ErrorContains(t, err, "parse config")
	})
}

func TestValidate(t *testing.T) {
	t.Run("Test Detect Needs Image", func(t *testing.T) {
		cfg := Default()
		assert.ErrorContains(t, cfg.ValidateDetect(), "image is required")
		cfg.Detect.Image = "x.jpg"
		assert.NoError(t, cfg.ValidateDetect())
	})

	t.Run("Test Detect Needs Model", func(t *testing.T) {
		cfg := Default()
		cfg.Detect.Image = "x.jpg"
		cfg.Detect.Llava.MMProjPath = ""
		assert.ErrorContains(t, cfg.ValidateDetect(), "MMProjPath")
	})

	t.Run("Test Batch Ranges", func(t *testing.T) {
		cfg := Default()
		assert.NoError(t, cfg.ValidateBatch())
		cfg.Batch.Conf = 1.2
		assert.ErrorContains(t, cfg.ValidateBatch(), "Conf")
	})

	t.Run("Test Log Level", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Level = "verbose"
		assert.ErrorContains(t, cfg.ValidateBatch(), "Level")
	})

	t.Run("Test Metrics Port", func(t *testing.T) {
		cfg := Default()
		cfg.Metrics.Port = 70000
		assert.ErrorContains(t, cfg.ValidateBatch(), "Port")
	})
}

func TestFallbacks(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Fallbacks())

	cfg.Batch.Conf = 0
	cfg.Batch.InputSize = -1
	cfg.Detect.Render.Stroke = 0
	notes := cfg.Fallbacks()
	assert.Len(t, notes, 3)
	assert.InDelta(t, 0.25, cfg.Batch.Conf, 1e-6)
	assert.Equal(t, 640, cfg.Batch.InputSize)
	assert.Equal(t, 3, cfg.Detect.Render.Stroke)
}
