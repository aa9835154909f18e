package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	ModelDir  string `toml:"model_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
}

// Queue contains configuration for the in-memory job queue.
type Queue struct {
	MaxSize          int `toml:"max_size"`
	RetentionHours   int `toml:"retention_hours"`
	SweepIntervalMin int `toml:"sweep_interval_minutes"`
}

// GPU contains configuration for device memory budgeting.
type GPU struct {
	GeometryFootprintMB int `toml:"geometry_footprint_mb"`
	TextureFootprintMB  int `toml:"texture_footprint_mb"`
	ReleaseThresholdMB  int `toml:"release_threshold_mb"`
	HeadroomMB          int `toml:"headroom_mb"`
}

// Worker contains configuration for the orchestrator loops.
type Worker struct {
	OverlapEnabled     bool `toml:"overlap_enabled"`
	OverlapDepth       int  `toml:"overlap_depth"`
	PreprocessPoolSize int  `toml:"preprocess_pool_size"`
	PreprocessTimeout  int  `toml:"preprocess_timeout_seconds"`
	HandlerPoolSize    int  `toml:"handler_pool_size"`
	ErrorRetryInterval int  `toml:"error_retry_interval_seconds"`
	StopTimeout        int  `toml:"stop_timeout_seconds"`
}

// Hub contains configuration for the progress push hub.
type Hub struct {
	SendTimeout int `toml:"send_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root application configuration.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Queue   Queue   `toml:"queue"`
	GPU     GPU     `toml:"gpu"`
	Worker  Worker  `toml:"worker"`
	Hub     Hub     `toml:"hub"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the expected config location for the current user.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "kiln", "config.toml"), nil
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults, and validates the result. The returned string is
// the resolved config path and the bool reports whether a file was found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		candidate = defaultPath
	}

	expanded, err := expandPath(candidate)
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	expand := func(value *string) error {
		expanded, err := expandPath(*value)
		if err != nil {
			return err
		}
		*value = expanded
		return nil
	}
	for _, target := range []*string{&c.Paths.OutputDir, &c.Paths.ModelDir, &c.Paths.LogDir} {
		if err := expand(target); err != nil {
			return err
		}
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func expandPath(pathValue string) (string, error) {
	trimmed := strings.TrimSpace(pathValue)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}
