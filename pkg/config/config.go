// Package config provides configuration management for face-the-music.
// It loads configuration from YAML files with sensible defaults and lets
// FTM_* environment variables override individual settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SystemConfigPath is checked first by LoadDefault.
	SystemConfigPath = "/etc/face-the-music/config.yaml"
	// UserConfigPath is relative to the user's home directory.
	UserConfigPath = ".config/face-the-music/config.yaml"
)

// Config holds all face-the-music configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition"`
	Scan        ScanConfig        `yaml:"scan"`
	Index       IndexConfig       `yaml:"index"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	ModelPath string  `yaml:"model_path"`
	Tolerance float64 `yaml:"tolerance"`
	// Detector is "hog" (dlib frontal face detector) or "cnn" (mmod).
	Detector string `yaml:"detector"`
	// MaxImageDimension downscales larger images before detection. 0 disables.
	MaxImageDimension int `yaml:"max_image_dimension"`
}

// ScanConfig holds directory scanner settings.
type ScanConfig struct {
	Root    string   `yaml:"root"`
	Formats []string `yaml:"formats"`
}

// IndexConfig holds descriptor builder settings.
type IndexConfig struct {
	Workers int `yaml:"workers"`
}

// StorageConfig holds gallery storage settings.
type StorageConfig struct {
	Backend           string `yaml:"backend"` // file or sqlite
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	SQLitePath        string `yaml:"sqlite_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/face-the-music")
	return &Config{
		Recognition: RecognitionConfig{
			ModelPath:         filepath.Join(dataDir, "models"),
			Tolerance:         0.6,
			Detector:          "hog",
			MaxImageDimension: 1600,
		},
		Scan: ScanConfig{
			Root:    "faces",
			Formats: []string{"jpg", "jpeg", "png"},
		},
		Index: IndexConfig{
			Workers: runtime.NumCPU(),
		},
		Storage: StorageConfig{
			Backend:           "file",
			DataDir:           dataDir,
			EncryptionEnabled: false,
			SQLitePath:        filepath.Join(dataDir, "gallery.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadDefault tries the system config, then the user config, then defaults.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(SystemConfigPath); err == nil {
		return Load(SystemConfigPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, UserConfigPath)
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides settings from FTM_* environment variables.
// Malformed numeric or boolean values are reported and leave the
// setting unchanged.
func (c *Config) ApplyEnv() error {
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("FTM_MODEL_PATH", &c.Recognition.ModelPath)
	float("FTM_TOLERANCE", &c.Recognition.Tolerance)
	str("FTM_DETECTOR", &c.Recognition.Detector)
	num("FTM_MAX_IMAGE_DIMENSION", &c.Recognition.MaxImageDimension)
	str("FTM_SCAN_ROOT", &c.Scan.Root)
	if v := os.Getenv("FTM_SCAN_FORMATS"); v != "" {
		c.Scan.Formats = splitList(v)
	}
	num("FTM_WORKERS", &c.Index.Workers)
	str("FTM_STORAGE_BACKEND", &c.Storage.Backend)
	str("FTM_DATA_DIR", &c.Storage.DataDir)
	boolean("FTM_ENCRYPTION", &c.Storage.EncryptionEnabled)
	str("FTM_SQLITE_PATH", &c.Storage.SQLitePath)
	str("FTM_LOG_LEVEL", &c.Logging.Level)
	str("FTM_LOG_FILE", &c.Logging.File)
	str("FTM_LOG_FORMAT", &c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.Detector != "hog" && c.Recognition.Detector != "cnn" {
		return fmt.Errorf("invalid detector: %s (must be hog or cnn)", c.Recognition.Detector)
	}
	if c.Recognition.MaxImageDimension < 0 {
		return fmt.Errorf("max_image_dimension must not be negative, got %d", c.Recognition.MaxImageDimension)
	}

	if len(c.Scan.Formats) == 0 {
		return fmt.Errorf("at least one image format must be configured")
	}

	if c.Index.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Index.Workers)
	}

	switch c.Storage.Backend {
	case "file":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or sqlite)", c.Storage.Backend)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Scan.Root = ExpandPath(c.Scan.Root)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Storage.SQLitePath = ExpandPath(c.Storage.SQLitePath)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the data, model and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
