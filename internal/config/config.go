package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/menta2k/object-detector/pkg/types"
)

// Backends understood by the engine factory
const (
	BackendLocal    = "local"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// EnvPrefix prefixes every environment override key
const EnvPrefix = "OBJECT_DETECTOR_"

// Config holds the application configuration
type Config struct {
	Detector DetectorConfig `json:"detector"`
	Engine   EngineConfig   `json:"engine"`
	Vision   VisionConfig   `json:"vision"`
	Log      LogConfig      `json:"log"`
}

// DetectorConfig holds the options the detector handle is created with
type DetectorConfig struct {
	Mode            string `json:"mode"`
	Classification  bool   `json:"classification"`
	MultipleObjects bool   `json:"multiple_objects"`
}

// EngineConfig selects and configures the inference backend
type EngineConfig struct {
	Backend        string `json:"backend"`
	URL            string `json:"url"`
	Model          string `json:"model"`
	SendFormat     string `json:"send_format"`
	SendSize       int    `json:"send_size"`
	SendQuality    int    `json:"send_quality"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// VisionConfig holds configuration for the local saliency engine
type VisionConfig struct {
	EdgeThreshold    float64 `json:"edge_threshold"`
	ContrastWeight   float64 `json:"contrast_weight"`
	BrightnessWeight float64 `json:"brightness_weight"`
	MinSubjectRatio  float64 `json:"min_subject_ratio"`
	MaxObjects       int     `json:"max_objects"`
	TrackIoU         float64 `json:"track_iou"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Detector: DetectorConfig{
			Mode:            string(types.StreamMode),
			Classification:  true,
			MultipleObjects: true,
		},
		Engine: EngineConfig{
			Backend:        BackendLocal,
			Model:          "openbmb/minicpm-v4.5",
			SendFormat:     "jpg",
			SendSize:       1024,
			SendQuality:    85,
			TimeoutSeconds: 300,
		},
		Vision: VisionConfig{
			EdgeThreshold:    0.05,
			ContrastWeight:   0.3,
			BrightnessWeight: 0.2,
			MinSubjectRatio:  0.01,
			MaxObjects:       5,
			TrackIoU:         0.5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvFile overlays OBJECT_DETECTOR_* keys from a dotenv file
func (c *Config) ApplyEnvFile(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	return c.ApplyEnv(env)
}

// ApplyEnv overlays OBJECT_DETECTOR_* keys from env
func (c *Config) ApplyEnv(env map[string]string) error {
	for key, value := range env {
		name, ok := strings.CutPrefix(key, EnvPrefix)
		if !ok {
			continue
		}
		if err := c.set(strings.ToLower(name), value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) set(name, value string) error {
	var err error
	switch name {
	case "mode":
		c.Detector.Mode = value
	case "classification":
		c.Detector.Classification, err = strconv.ParseBool(value)
	case "multiple_objects":
		c.Detector.MultipleObjects, err = strconv.ParseBool(value)
	case "backend":
		c.Engine.Backend = value
	case "url":
		c.Engine.URL = value
	case "model":
		c.Engine.Model = value
	case "send_format":
		c.Engine.SendFormat = value
	case "send_size":
		c.Engine.SendSize, err = strconv.Atoi(value)
	case "send_quality":
		c.Engine.SendQuality, err = strconv.Atoi(value)
	case "timeout_seconds":
		c.Engine.TimeoutSeconds, err = strconv.Atoi(value)
	case "log_level":
		c.Log.Level = value
	case "log_json":
		c.Log.JSON, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown setting")
	}
	return err
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch types.DetectorMode(c.Detector.Mode) {
	case types.StreamMode, types.SingleImageMode:
	default:
		return fmt.Errorf("detector.mode must be stream or single")
	}

	switch c.Engine.Backend {
	case BackendLocal, BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("engine.backend must be one of local, ollama, llamacpp")
	}

	switch strings.ToLower(c.Engine.SendFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("engine.send_format must be jpg, png or webp")
	}

	if c.Engine.SendQuality < 1 || c.Engine.SendQuality > 100 {
		return fmt.Errorf("engine.send_quality must be between 1 and 100")
	}

	if c.Engine.SendSize < 0 {
		return fmt.Errorf("engine.send_size must not be negative")
	}

	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("engine.timeout_seconds must not be negative")
	}

	if c.Vision.EdgeThreshold < 0 || c.Vision.EdgeThreshold > 1 {
		return fmt.Errorf("vision.edge_threshold must be between 0 and 1")
	}

	if c.Vision.MinSubjectRatio < 0 || c.Vision.MinSubjectRatio > 1 {
		return fmt.Errorf("vision.min_subject_ratio must be between 0 and 1")
	}

	if c.Vision.TrackIoU <= 0 || c.Vision.TrackIoU > 1 {
		return fmt.Errorf("vision.track_iou must be in (0,1]")
	}

	if c.Vision.MaxObjects < 1 {
		return fmt.Errorf("vision.max_objects must be positive")
	}

	return nil
}

// DetectorOptions converts the detector section
func (c *Config) DetectorOptions() types.DetectorOptions {
	return types.DetectorOptions{
		Mode:            types.DetectorMode(c.Detector.Mode),
		Classification:  c.Detector.Classification,
		MultipleObjects: c.Detector.MultipleObjects,
	}
}

// Timeout returns the backend request budget
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "object-detector", "config.json")
}
