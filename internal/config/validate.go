package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		problems = append(problems, "paths.output_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Queue.MaxSize <= 0 {
		problems = append(problems, "queue.max_size must be positive")
	}
	if c.Queue.RetentionHours <= 0 {
		problems = append(problems, "queue.retention_hours must be positive")
	}
	if c.GPU.GeometryFootprintMB <= 0 {
		problems = append(problems, "gpu.geometry_footprint_mb must be positive")
	}
	if c.GPU.TextureFootprintMB <= 0 {
		problems = append(problems, "gpu.texture_footprint_mb must be positive")
	}
	if c.Worker.OverlapDepth <= 0 {
		problems = append(problems, "worker.overlap_depth must be positive")
	}
	if c.Worker.PreprocessPoolSize <= 0 {
		problems = append(problems, "worker.preprocess_pool_size must be positive")
	}
	if c.Worker.HandlerPoolSize <= 0 {
		problems = append(problems, "worker.handler_pool_size must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}
