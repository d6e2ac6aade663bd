package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAnalysis()
	c.normalizeExecution()
	c.normalizeLogging()
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizePublish()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		c.Paths.ArtifactDir = defaultArtifactDir
	}
	if c.Paths.ArtifactDir, err = expandPath(c.Paths.ArtifactDir); err != nil {
		return fmt.Errorf("paths.artifact_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RegistryPath) == "" {
		c.Paths.RegistryPath = defaultRegistryPath
	}
	if c.Paths.RegistryPath, err = expandPath(c.Paths.RegistryPath); err != nil {
		return fmt.Errorf("paths.registry_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeAnalysis() {
	c.Analysis.PerturbationMode = strings.ToLower(strings.TrimSpace(c.Analysis.PerturbationMode))
	if c.Analysis.PerturbationMode == "" {
		c.Analysis.PerturbationMode = defaultPerturbationMode
	}
	c.Analysis.SolverMethod = strings.ToLower(strings.TrimSpace(c.Analysis.SolverMethod))
	if c.Analysis.SolverMethod == "" {
		c.Analysis.SolverMethod = defaultSolverMethod
	}
	c.Analysis.Normalization = strings.ToLower(strings.TrimSpace(c.Analysis.Normalization))
	if c.Analysis.Normalization == "" {
		c.Analysis.Normalization = defaultNormalization
	}
	if c.Analysis.RidgeAlpha == 0 {
		c.Analysis.RidgeAlpha = defaultRidgeAlpha
	}
}

func (c *Config) normalizeExecution() {
	if c.Execution.Parallelism == 0 {
		c.Execution.Parallelism = runtime.NumCPU()
	}
	c.Execution.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Execution.FailurePolicy))
	if c.Execution.FailurePolicy == "" {
		c.Execution.FailurePolicy = defaultFailurePolicy
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeMetrics() error {
	if strings.TrimSpace(c.Metrics.Textfile) == "" {
		c.Metrics.Textfile = ""
		return nil
	}
	var err error
	if c.Metrics.Textfile, err = expandPath(c.Metrics.Textfile); err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	return nil
}

func (c *Config) normalizePublish() {
	c.Publish.Endpoint = strings.TrimSpace(c.Publish.Endpoint)
	c.Publish.Bucket = strings.TrimSpace(c.Publish.Bucket)
	c.Publish.Region = strings.TrimSpace(c.Publish.Region)
	c.Publish.Prefix = strings.Trim(strings.TrimSpace(c.Publish.Prefix), "/")
	if c.Publish.AccessKey == "" {
		if value, ok := os.LookupEnv("FRAGILITY_S3_ACCESS_KEY"); ok {
			c.Publish.AccessKey = value
		}
	}
	if c.Publish.SecretKey == "" {
		if value, ok := os.LookupEnv("FRAGILITY_S3_SECRET_KEY"); ok {
			c.Publish.SecretKey = value
		}
	}
	c.Publish.AccessKey = strings.TrimSpace(c.Publish.AccessKey)
	c.Publish.SecretKey = strings.TrimSpace(c.Publish.SecretKey)
}
