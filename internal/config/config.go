// Package config loads mudra configuration from a YAML file, an optional
// .env file and MUDRA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/dataset"
	"github.com/ayusman/mudra/internal/features"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/store"
)

// DefaultSamplesPerGesture is the recording target when none is configured.
const DefaultSamplesPerGesture = 50

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MUDRA_"

// ErrThresholdRequired is returned when no confidence threshold is configured.
var ErrThresholdRequired = errors.New("confidence_threshold is required")

// Config holds the application configuration.
type Config struct {
	DataDir             string   `yaml:"data_dir"`
	Strategy            string   `yaml:"strategy"`
	SamplesPerGesture   int      `yaml:"samples_per_gesture"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"` // percent, 0-100

	Camera   CameraConfig           `yaml:"camera"`
	Detector DetectorConfig         `yaml:"detector"`
	Publish  PublishConfig          `yaml:"publish"`
	Server   ServerConfig           `yaml:"server"`
	Trainer  classifier.TrainConfig `yaml:"trainer"`
	Log      logging.Config         `yaml:"log"`
}

// CameraConfig selects and configures the capture device.
type CameraConfig struct {
	ID     int  `yaml:"id"`
	FPS    int  `yaml:"fps"`
	Mirror bool `yaml:"mirror"` // flip frames horizontally before detection
}

// DetectorConfig tunes the MediaPipe hand detector.
type DetectorConfig struct {
	MinDetectionConfidence float64 `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence"`
}

// PublishConfig is the destination of result datagrams.
type PublishConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultPath returns ~/.mudra/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".mudra"
	}
	return filepath.Join(homeDir, ".mudra")
}

// Load reads configuration from path, or from DefaultPath when path is
// empty. A missing default file is not an error since every setting can
// come from the environment; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		if explicit || !IsConfigNotFound(err) {
			return nil, err
		}
		cfg = newConfig()
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromFile parses the YAML file at path onto the trainer defaults,
// without applying environment overrides, other defaults or validation.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigNotFoundError{RequestedPath: path, DefaultPath: DefaultPath()}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// newConfig returns the base the file is decoded onto. Trainer settings
// where zero is meaningful (seed, tol) get their defaults here instead of
// in applyDefaults.
func newConfig() *Config {
	return &Config{Trainer: classifier.DefaultTrainConfig()}
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ConfigNotFoundError is returned when the config file does not exist.
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nRun 'mudra init' to create one.",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if err is a ConfigNotFoundError.
func IsConfigNotFound(err error) bool {
	var target *ConfigNotFoundError
	return errors.As(err, &target)
}

// ApplyEnv overrides fields from MUDRA_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("DATA_DIR", &c.DataDir)
	str("STRATEGY", &c.Strategy)
	str("PUBLISH_HOST", &c.Publish.Host)
	str("SERVER_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	for name, dst := range map[string]*int{
		"SAMPLES_PER_GESTURE": &c.SamplesPerGesture,
		"CAMERA_ID":           &c.Camera.ID,
		"PUBLISH_PORT":        &c.Publish.Port,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup(EnvPrefix + "CONFIDENCE_THRESHOLD"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sCONFIDENCE_THRESHOLD: %w", EnvPrefix, err)
		}
		c.ConfidenceThreshold = &f
	}
	return nil
}

// expandPath expands ~ and $HOME to the user's home directory.
func expandPath(path string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	switch {
	case path == "~" || path == "$HOME":
		return homeDir
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(homeDir, path[2:])
	case strings.HasPrefix(path, "$HOME/"):
		return filepath.Join(homeDir, path[6:])
	}
	return path
}

// applyDefaults sets default values for missing configuration.
// The confidence threshold has no default.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	c.DataDir = expandPath(c.DataDir)

	if c.Strategy == "" {
		c.Strategy = features.DefaultID
	}
	if c.SamplesPerGesture == 0 {
		c.SamplesPerGesture = DefaultSamplesPerGesture
	}

	if c.Camera.FPS == 0 {
		c.Camera.FPS = 30
	}
	if c.Detector.MinDetectionConfidence == 0 {
		c.Detector.MinDetectionConfidence = 0.7
	}
	if c.Detector.MinTrackingConfidence == 0 {
		c.Detector.MinTrackingConfidence = 0.5
	}

	if c.Publish.Host == "" {
		c.Publish.Host = publish.DefaultHost
	}
	if c.Publish.Port == 0 {
		c.Publish.Port = publish.DefaultPort
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8765"
	}

	def := classifier.DefaultTrainConfig()
	if len(c.Trainer.Hidden) == 0 {
		c.Trainer.Hidden = def.Hidden
	}
	if c.Trainer.LearningRate == 0 {
		c.Trainer.LearningRate = def.LearningRate
	}
	if c.Trainer.Alpha == 0 {
		c.Trainer.Alpha = def.Alpha
	}
	if c.Trainer.BatchSize == 0 {
		c.Trainer.BatchSize = def.BatchSize
	}
	if c.Trainer.MaxEpochs == 0 {
		c.Trainer.MaxEpochs = def.MaxEpochs
	}
	if c.Trainer.Patience == 0 {
		c.Trainer.Patience = def.Patience
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File != "" {
		c.Log.File = expandPath(c.Log.File)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold == nil {
		return ErrThresholdRequired
	}
	if t := *c.ConfidenceThreshold; t < 0 || t > 100 {
		return fmt.Errorf("confidence_threshold must be between 0 and 100, got: %v", t)
	}
	if c.SamplesPerGesture <= 0 {
		return fmt.Errorf("samples_per_gesture must be positive, got: %d", c.SamplesPerGesture)
	}
	if _, err := features.Lookup(c.Strategy); err != nil {
		return err
	}
	if c.Publish.Port <= 0 || c.Publish.Port > 65535 {
		return fmt.Errorf("publish.port must be between 1 and 65535, got: %d", c.Publish.Port)
	}
	for _, h := range c.Trainer.Hidden {
		if h <= 0 {
			return fmt.Errorf("trainer.hidden sizes must be positive, got: %v", c.Trainer.Hidden)
		}
	}
	if c.Trainer.MaxEpochs <= 0 {
		return fmt.Errorf("trainer.max_epochs must be positive, got: %d", c.Trainer.MaxEpochs)
	}
	return nil
}

// Threshold returns the configured confidence threshold. It must only be
// called on a validated Config.
func (c *Config) Threshold() float64 {
	return *c.ConfidenceThreshold
}

// Extractor returns the configured feature extractor.
func (c *Config) Extractor() (features.Extractor, error) {
	return features.Lookup(c.Strategy)
}

// DatasetPath returns the dataset file location.
func (c *Config) DatasetPath() string {
	return filepath.Join(c.DataDir, dataset.FileName)
}

// ModelPath returns the model artifact location.
func (c *Config) ModelPath() string {
	return filepath.Join(c.DataDir, classifier.ModelFileName)
}

// DBPath returns the history database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, store.FileName)
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const defaultConfigTemplate = `# mudra configuration
#
# Default location: $HOME/.mudra/config.yaml
# Every key can be overridden with a MUDRA_<KEY> environment variable,
# e.g. MUDRA_CONFIDENCE_THRESHOLD=80.

# Minimum confidence (percent, 0-100) for a gesture to be reported.
# Required: there is no default, so every command that loads this file
# fails until you uncomment the line and pick a value, or set
# MUDRA_CONFIDENCE_THRESHOLD.
# confidence_threshold: 70

# Samples collected per recording session.
samples_per_gesture: 50

# Where the dataset, model and history database live.
data_dir: ~/.mudra

# Feature extraction: "palm-plane" (rotation-robust) or "wrist-relative".
# Datasets and models built with one cannot be used with the other.
strategy: palm-plane

camera:
  id: 0
  fps: 30
  mirror: true

publish:
  host: 127.0.0.1
  port: 5052

server:
  addr: 127.0.0.1:8765

log:
  level: info
  # file: ~/.mudra/mudra.log
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}
	return true, nil
}
