package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"fragility/internal/normalize"
	"fragility/internal/perturb"
	"fragility/internal/sysid"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		return errors.New("paths.registry_path must be set")
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	a := c.Analysis
	if !positiveFinite(a.WindowSizeMs) {
		return fmt.Errorf("analysis.window_size_ms must be positive, got %v", a.WindowSizeMs)
	}
	if !positiveFinite(a.StepSizeMs) {
		return fmt.Errorf("analysis.step_size_ms must be positive, got %v", a.StepSizeMs)
	}
	if !positiveFinite(a.StabilityRadius) {
		return fmt.Errorf("analysis.stability_radius must be positive, got %v", a.StabilityRadius)
	}
	if _, err := perturb.ParseMode(a.PerturbationMode); err != nil {
		return fmt.Errorf("analysis.perturbation_mode: %w", err)
	}
	if _, err := sysid.ParseMethod(a.SolverMethod); err != nil {
		return fmt.Errorf("analysis.solver_method: %w", err)
	}
	if !positiveFinite(a.RidgeAlpha) {
		return fmt.Errorf("analysis.ridge_alpha must be positive, got %v", a.RidgeAlpha)
	}
	if _, err := normalize.ParseScheme(a.Normalization); err != nil {
		return fmt.Errorf("analysis.normalization: %w", err)
	}
	return nil
}

func (c *Config) validateExecution() error {
	if c.Execution.Parallelism < 1 {
		return fmt.Errorf("execution.parallelism must be >= 1, got %d", c.Execution.Parallelism)
	}
	switch c.Execution.FailurePolicy {
	case "abort", "skip":
	default:
		return fmt.Errorf("execution.failure_policy must be abort or skip, got %q", c.Execution.FailurePolicy)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled {
		return nil
	}
	if c.Publish.Endpoint == "" {
		return errors.New("publish.endpoint must be set when publish.enabled is true")
	}
	if strings.Contains(c.Publish.Endpoint, "://") {
		return fmt.Errorf("publish.endpoint must be host[:port] without a scheme, got %q", c.Publish.Endpoint)
	}
	if c.Publish.Bucket == "" {
		return errors.New("publish.bucket must be set when publish.enabled is true")
	}
	if c.Publish.AccessKey == "" || c.Publish.SecretKey == "" {
		return errors.New("publish credentials missing. Set FRAGILITY_S3_ACCESS_KEY and FRAGILITY_S3_SECRET_KEY or edit [publish]")
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
