package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/object-detector/internal/config"
	"github.com/menta2k/object-detector/pkg/channel"
	"github.com/menta2k/object-detector/pkg/types"
)

func TestDecodeResultsReadsEncodedReply(t *testing.T) {
	id := 3
	in := []types.DetectionResult{{
		BoundingBox: types.BoundingBox{Left: 1, Top: 2, Right: 30, Bottom: 40},
		TrackingID:  &id,
		Labels:      []types.Label{{Text: "Food", Confidence: 0.8, Index: 1}},
	}}

	out := decodeResults(channel.EncodeResults(in))
	require.Len(t, out, 1)
	assert.Equal(t, in[0].BoundingBox, out[0].BoundingBox)
	assert.Equal(t, "Food", out[0].Labels[0].Text)
	assert.Empty(t, decodeResults(nil))
}

func TestLoadConfigWithEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, config.Default().SaveToFile(cfgPath))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("OBJECT_DETECTOR_BACKEND=llamacpp\n"), 0o644))

	cfg, err := loadConfig(cfgPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, config.BackendLlamaCpp, cfg.Engine.Backend)

	opts := optionsFromConfig(cfg, nil)
	assert.Equal(t, cfg.Timeout(), opts.Timeout)
	assert.Equal(t, cfg.Vision.MaxObjects, opts.Vision.MaxObjects)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	logger, err := newLogger(config.LogConfig{Level: "debug", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "object-detector", logger.Data["component"])
}
