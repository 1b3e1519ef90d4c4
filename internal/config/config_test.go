package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/object-detector/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, types.DefaultDetectorOptions(), cfg.DetectorOptions())
	assert.Equal(t, BackendLocal, cfg.Engine.Backend)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Engine.Backend = BackendOllama
	cfg.Engine.URL = "http://localhost:11434"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"backend": "llamacpp"}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendLlamaCpp, cfg.Engine.Backend)
	assert.Equal(t, 85, cfg.Engine.SendQuality)
	assert.True(t, cfg.Detector.Classification)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestApplyEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"OBJECT_DETECTOR_BACKEND=ollama\n"+
			"OBJECT_DETECTOR_URL=http://gpu-box:11434\n"+
			"OBJECT_DETECTOR_MODE=single\n"+
			"OBJECT_DETECTOR_CLASSIFICATION=false\n"+
			"OBJECT_DETECTOR_SEND_SIZE=512\n"+
			"UNRELATED=1\n"), 0o644))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendOllama, cfg.Engine.Backend)
	assert.Equal(t, "http://gpu-box:11434", cfg.Engine.URL)
	assert.Equal(t, 512, cfg.Engine.SendSize)
	assert.Equal(t, types.DetectorOptions{Mode: types.SingleImageMode, Classification: false, MultipleObjects: true}, cfg.DetectorOptions())
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ApplyEnv(map[string]string{"OBJECT_DETECTOR_SEND_SIZE": "big"}))
	assert.Error(t, cfg.ApplyEnv(map[string]string{"OBJECT_DETECTOR_COLOR": "red"}))
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"mode":          func(c *Config) { c.Detector.Mode = "burst" },
		"backend":       func(c *Config) { c.Engine.Backend = "tflite" },
		"send format":   func(c *Config) { c.Engine.SendFormat = "gif" },
		"quality":       func(c *Config) { c.Engine.SendQuality = 0 },
		"send size":     func(c *Config) { c.Engine.SendSize = -1 },
		"timeout":       func(c *Config) { c.Engine.TimeoutSeconds = -5 },
		"edge":          func(c *Config) { c.Vision.EdgeThreshold = 2 },
		"subject ratio": func(c *Config) { c.Vision.MinSubjectRatio = -0.1 },
		"track iou":     func(c *Config) { c.Vision.TrackIoU = 0 },
		"max objects":   func(c *Config) { c.Vision.MaxObjects = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
